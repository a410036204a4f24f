package hybrid

import (
	"fmt"
	"time"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/storage"
	sqlstore "digitalbucket/backend/internal/storage/sql"
	"digitalbucket/backend/internal/storage/redis"
)

// 缓存过期时间
const (
	webhookCacheTTL      = 1 * time.Hour
	subscriptionCacheTTL = 5 * time.Minute
)

// Store 混合存储实现，结合 SQL 数据库与 Redis 缓存
//
// 事件账本的全部读写直达数据库：投递状态机依赖条件更新的原子性，
// 缓存只覆盖 Webhook 配置与订阅列表这类读多写少的数据。
type Store struct {
	db    *sqlstore.Store
	cache *redis.Cache
}

// NewStore 创建混合存储实例
func NewStore(driverName, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration, redisAddr, redisPassword string, redisDB int) (*Store, error) {
	db, err := sqlstore.NewStore(driverName, dsn, maxOpenConns, maxIdleConns, connMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	cache, err := redis.NewCache(redisAddr, redisPassword, redisDB)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return &Store{
		db:    db,
		cache: cache,
	}, nil
}

// ========== Webhook Repository ==========

// SaveWebhook 保存 Webhook 并使订阅列表缓存失效
func (s *Store) SaveWebhook(webhook *domain.Webhook) error {
	if err := s.db.SaveWebhook(webhook); err != nil {
		return err
	}
	s.cache.CacheWebhook(webhook, webhookCacheTTL)
	s.cache.InvalidateAppSubscriptions(webhook.AppID)
	return nil
}

// GetWebhook 根据 ID 获取 Webhook，优先读缓存
func (s *Store) GetWebhook(id string) (*domain.Webhook, error) {
	if webhook, err := s.cache.GetCachedWebhook(id); err == nil {
		return webhook, nil
	}

	webhook, err := s.db.GetWebhook(id)
	if err != nil {
		return nil, err
	}

	s.cache.CacheWebhook(webhook, webhookCacheTTL)
	return webhook, nil
}

// GetWebhookForApp 获取租户范围内的 Webhook
func (s *Store) GetWebhookForApp(appID, id string) (*domain.Webhook, error) {
	if webhook, err := s.cache.GetCachedWebhook(id); err == nil {
		if webhook.AppID != appID {
			return nil, storage.ErrWebhookNotFound
		}
		return webhook, nil
	}
	return s.db.GetWebhookForApp(appID, id)
}

// ListWebhooks 按条件分页列出 Webhook（列表查询不缓存）
func (s *Store) ListWebhooks(criteria domain.WebhookListCriteria) (*domain.WebhookListResult, error) {
	return s.db.ListWebhooks(criteria)
}

// ListActiveWebhooksForEvent 返回活跃订阅列表，优先读缓存
func (s *Store) ListActiveWebhooksForEvent(appID string, eventType domain.EventType) ([]domain.Webhook, error) {
	if webhooks, err := s.cache.GetCachedActiveWebhooks(appID, eventType); err == nil {
		return webhooks, nil
	}

	webhooks, err := s.db.ListActiveWebhooksForEvent(appID, eventType)
	if err != nil {
		return nil, err
	}

	s.cache.CacheActiveWebhooks(appID, eventType, webhooks, subscriptionCacheTTL)
	return webhooks, nil
}

// UpdateWebhook 更新 Webhook 并使相关缓存失效
func (s *Store) UpdateWebhook(webhook *domain.Webhook) error {
	if err := s.db.UpdateWebhook(webhook); err != nil {
		return err
	}
	s.cache.DeleteCachedWebhook(webhook.ID)
	s.cache.InvalidateAppSubscriptions(webhook.AppID)
	return nil
}

// DeleteWebhook 删除 Webhook 并使相关缓存失效
func (s *Store) DeleteWebhook(id string) error {
	webhook, err := s.db.GetWebhook(id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteWebhook(id); err != nil {
		return err
	}
	s.cache.DeleteCachedWebhook(id)
	s.cache.InvalidateAppSubscriptions(webhook.AppID)
	return nil
}

// UpdateWebhookStatistics 统计累加直达数据库，统计读取不走缓存
func (s *Store) UpdateWebhookStatistics(webhookID string, outcome domain.DeliveryOutcome) error {
	if err := s.db.UpdateWebhookStatistics(webhookID, outcome); err != nil {
		return err
	}
	// 缓存中的统计快照已过期
	s.cache.DeleteCachedWebhook(webhookID)
	return nil
}

// RecordWebhookTest 记录测试投递结果
func (s *Store) RecordWebhookTest(webhookID string, result *domain.WebhookTestResult) error {
	if err := s.db.RecordWebhookTest(webhookID, result); err != nil {
		return err
	}
	s.cache.DeleteCachedWebhook(webhookID)
	return nil
}

// ========== Webhook Event Repository ==========

// SaveWebhookEvent 保存事件记录
func (s *Store) SaveWebhookEvent(event *domain.WebhookEvent) error {
	return s.db.SaveWebhookEvent(event)
}

// GetWebhookEvent 根据 ID 获取事件记录
func (s *Store) GetWebhookEvent(id string) (*domain.WebhookEvent, error) {
	return s.db.GetWebhookEvent(id)
}

// ListWebhookEvents 按条件分页列出事件记录
func (s *Store) ListWebhookEvents(criteria domain.EventListCriteria) (*domain.EventListResult, error) {
	return s.db.ListWebhookEvents(criteria)
}

// ClaimWebhookEvent 抢占事件记录
func (s *Store) ClaimWebhookEvent(id string, expectedAttempts int, now time.Time) (*domain.WebhookEvent, error) {
	return s.db.ClaimWebhookEvent(id, expectedAttempts, now)
}

// MarkWebhookEventDelivered 条件性落成功终态
func (s *Store) MarkWebhookEventDelivered(id string, expectedAttempts int, outcome domain.DeliveryOutcome) error {
	return s.db.MarkWebhookEventDelivered(id, expectedAttempts, outcome)
}

// MarkWebhookEventRetrying 条件性记一次失败并排期重试
func (s *Store) MarkWebhookEventRetrying(id string, expectedAttempts int, outcome domain.DeliveryOutcome, nextRetryAt time.Time) error {
	return s.db.MarkWebhookEventRetrying(id, expectedAttempts, outcome, nextRetryAt)
}

// MarkWebhookEventFailed 条件性落失败终态
func (s *Store) MarkWebhookEventFailed(id string, expectedAttempts int, outcome domain.DeliveryOutcome) error {
	return s.db.MarkWebhookEventFailed(id, expectedAttempts, outcome)
}

// ResetWebhookEventForRetry 人工重试
func (s *Store) ResetWebhookEventForRetry(id string, now time.Time) (*domain.WebhookEvent, error) {
	return s.db.ResetWebhookEventForRetry(id, now)
}

// ListDueWebhookEvents 返回到期的重试记录
func (s *Store) ListDueWebhookEvents(now time.Time, limit int) ([]domain.WebhookEvent, error) {
	return s.db.ListDueWebhookEvents(now, limit)
}

// CancelPendingEventsForWebhook 级联取消非终态记录
func (s *Store) CancelPendingEventsForWebhook(webhookID string) (int, error) {
	return s.db.CancelPendingEventsForWebhook(webhookID)
}

// DeleteTerminalEventsBefore 清理保留期之外的终态记录
func (s *Store) DeleteTerminalEventsBefore(cutoff time.Time) (int, error) {
	return s.db.DeleteTerminalEventsBefore(cutoff)
}

// ========== 工具方法 ==========

// Close 关闭数据库与 Redis 连接
func (s *Store) Close() error {
	var firstErr error
	if err := s.db.Close(); err != nil {
		firstErr = err
	}
	if err := s.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Health 检查数据库与 Redis 健康状态
func (s *Store) Health() error {
	if err := s.db.Health(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if _, err := s.cache.Exists("health:probe"); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// 断言完整实现了存储接口
var _ storage.Store = (*Store)(nil)
