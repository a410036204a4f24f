package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/monitoring"
)

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	SweepInterval  time.Duration // 到期记录扫描间隔
	SweepBatchSize int           // 单次扫描最多重新提交的记录数
	PruneInterval  time.Duration // 终态记录清理间隔
	Retention      time.Duration // 终态记录保留时长
}

// DefaultSchedulerConfig 默认调度配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SweepInterval:  5 * time.Second,
		SweepBatchSize: 100,
		PruneInterval:  time.Hour,
		Retention:      30 * 24 * time.Hour,
	}
}

// Scheduler 重试调度器
//
// 周期性扫描到期的 retrying 记录并重新提交投递，同时按保留策略
// 清理过期的终态记录。扫描只负责提交任务，投递结果由执行器落库。
type Scheduler struct {
	store      domain.Store
	dispatcher *Dispatcher
	cfg        SchedulerConfig
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// NewScheduler 创建重试调度器
func NewScheduler(store domain.Store, dispatcher *Dispatcher, cfg SchedulerConfig, metrics *monitoring.Metrics, log *zap.Logger) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSchedulerConfig().SweepInterval
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = DefaultSchedulerConfig().SweepBatchSize
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultSchedulerConfig().PruneInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultSchedulerConfig().Retention
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    metrics,
		log:        log,
	}
}

// Run 运行调度循环，直到 ctx 取消
func (s *Scheduler) Run(ctx context.Context) error {
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	prune := time.NewTicker(s.cfg.PruneInterval)
	defer prune.Stop()

	s.log.Info("retry scheduler started",
		zap.Duration("sweepInterval", s.cfg.SweepInterval),
		zap.Int("sweepBatchSize", s.cfg.SweepBatchSize),
		zap.Duration("retention", s.cfg.Retention),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("retry scheduler stopped")
			return ctx.Err()
		case <-sweep.C:
			s.SweepOnce(time.Now())
		case <-prune.C:
			s.PruneOnce(time.Now())
		}
	}
}

// SweepOnce 扫描一批到期的重试记录并重新提交投递
func (s *Scheduler) SweepOnce(now time.Time) int {
	due, err := s.store.ListDueWebhookEvents(now, s.cfg.SweepBatchSize)
	if err != nil {
		s.log.Error("failed to list due webhook events", zap.Error(err))
		s.metrics.RecordError("sweep", "scheduler")
		return 0
	}

	for i := range due {
		s.dispatcher.Resubmit(due[i])
	}

	s.metrics.RecordSweep(len(due))
	if len(due) > 0 {
		s.log.Debug("resubmitted due webhook events", zap.Int("count", len(due)))
	}
	return len(due)
}

// PruneOnce 清理一批超过保留期的终态记录
func (s *Scheduler) PruneOnce(now time.Time) int {
	cutoff := now.Add(-s.cfg.Retention)
	pruned, err := s.store.DeleteTerminalEventsBefore(cutoff)
	if err != nil {
		s.log.Error("failed to prune terminal webhook events", zap.Error(err))
		s.metrics.RecordError("prune", "scheduler")
		return 0
	}

	s.metrics.RecordEventsPruned(pruned)
	if pruned > 0 {
		s.log.Info("pruned terminal webhook events",
			zap.Int("count", pruned),
			zap.Time("cutoff", cutoff),
		)
	}
	return pruned
}
