package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/monitoring"
	"digitalbucket/backend/internal/pool"
)

// DispatchResult 一次事件触发的分发结果
type DispatchResult struct {
	EventID          string   `json:"eventId"`
	WebhooksMatched  int      `json:"webhooksMatched"`
	WebhooksFiltered int      `json:"webhooksFiltered"`
	RecordIDs        []string `json:"recordIds"`
}

// Dispatcher 事件分发器：把领域事件扇出为每个订阅 Webhook 的投递记录
type Dispatcher struct {
	store     domain.Store
	deliverer *Deliverer
	workers   *pool.WorkerPool
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewDispatcher 创建事件分发器
func NewDispatcher(store domain.Store, deliverer *Deliverer, workers *pool.WorkerPool, metrics *monitoring.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		deliverer: deliverer,
		workers:   workers,
		metrics:   metrics,
		log:       log,
	}
}

// TriggerEvent 触发领域事件
//
// 为每个匹配的订阅插入一条 pending 记录后立即返回；首次投递异步执行，
// 触发方不等待第三方网络 I/O。同一次触发的所有记录共享同一份负载。
func (p *Dispatcher) TriggerEvent(ctx context.Context, appID string, req *domain.TriggerEventRequest) (*DispatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	webhooks, err := p.store.ListActiveWebhooksForEvent(appID, req.Event)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	payload := domain.EventPayload{
		ID:        uuid.NewString(),
		Event:     req.Event,
		Timestamp: now,
		Data:      req.Data,
		AppID:     appID,
		Version:   domain.PayloadVersion,
	}

	result := &DispatchResult{
		EventID:   payload.ID,
		RecordIDs: make([]string, 0, len(webhooks)),
	}

	for i := range webhooks {
		webhook := webhooks[i]

		// 过滤器不命中则静默跳过，不产生记录也不计入统计
		if !webhook.Filters.Matches(req.Data) {
			result.WebhooksFiltered++
			p.metrics.RecordEventFiltered()
			continue
		}

		event := &domain.WebhookEvent{
			ID:           uuid.NewString(),
			WebhookID:    webhook.ID,
			AppID:        appID,
			EventType:    req.Event,
			Payload:      payload,
			ResourceID:   req.ResourceID,
			Status:       domain.EventStatusPending,
			Attempts:     0,
			MaxAttempts:  webhook.RetryConfig.MaxAttempts,
			ScheduledFor: now,
		}
		if err := p.store.SaveWebhookEvent(event); err != nil {
			p.log.Error("failed to create webhook event record",
				zap.String("webhookId", webhook.ID),
				zap.String("eventType", string(req.Event)),
				zap.Error(err),
			)
			continue
		}

		result.WebhooksMatched++
		result.RecordIDs = append(result.RecordIDs, event.ID)
		p.submit(event.ID, 0)
	}

	p.metrics.RecordEventTriggered(string(req.Event))
	p.metrics.RecordEventFanout(result.WebhooksMatched)

	// 无订阅命中的触发是正常情况，不值得一条 Info
	logAt := p.log.Info
	if result.WebhooksMatched == 0 {
		logAt = p.log.Debug
	}
	logAt("domain event dispatched",
		zap.String("eventId", payload.ID),
		zap.String("eventType", string(req.Event)),
		zap.String("appId", appID),
		zap.Int("webhooksMatched", result.WebhooksMatched),
		zap.Int("webhooksFiltered", result.WebhooksFiltered),
	)
	return result, nil
}

// Resubmit 把已存在的记录重新交给投递执行器（调度器扫描路径）
func (p *Dispatcher) Resubmit(event domain.WebhookEvent) {
	p.submit(event.ID, event.Attempts)
}

// submit 将投递任务交给协程池，队列满时降级为独立协程
func (p *Dispatcher) submit(eventID string, expectedAttempts int) {
	task := func() {
		p.deliverer.Deliver(context.Background(), eventID, expectedAttempts)
	}
	if !p.workers.TrySubmit(task) {
		p.log.Warn("delivery worker queue full, spawning unpooled goroutine",
			zap.String("eventId", eventID),
		)
		go task()
	}
}
