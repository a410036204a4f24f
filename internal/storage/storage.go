package storage

import (
	"errors"
	"time"

	"digitalbucket/backend/internal/domain"
)

// ClaimLeaseExpiry 投递占用的租约时长
//
// 执行者抢占记录后若在结算前消失（进程崩溃），processing_ended_at
// 永远不会写入。超过最大投递超时加宽限期仍未结算的占用视为租约过期，
// 记录可以被重新抢占，否则会被每轮扫描无限重提却永远抢占失败。
const ClaimLeaseExpiry = domain.MaxWebhookTimeout + 30*time.Second

var (
	// ErrWebhookNotFound Webhook 未找到错误
	ErrWebhookNotFound = errors.New("webhook not found")
	// ErrEventNotFound 事件记录未找到错误
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrEventConflict 条件更新失败：记录已被其他执行者变更
	ErrEventConflict = errors.New("webhook event modified concurrently")
)

// WebhookRepository 定义 Webhook 数据存取操作。
type WebhookRepository interface {
	SaveWebhook(webhook *domain.Webhook) error
	GetWebhook(id string) (*domain.Webhook, error)
	GetWebhookForApp(appID, id string) (*domain.Webhook, error)
	ListWebhooks(criteria domain.WebhookListCriteria) (*domain.WebhookListResult, error)
	ListActiveWebhooksForEvent(appID string, eventType domain.EventType) ([]domain.Webhook, error)
	UpdateWebhook(webhook *domain.Webhook) error
	DeleteWebhook(id string) error
	UpdateWebhookStatistics(webhookID string, outcome domain.DeliveryOutcome) error
	RecordWebhookTest(webhookID string, result *domain.WebhookTestResult) error
}

// WebhookEventRepository 定义事件投递账本的存取操作。
type WebhookEventRepository interface {
	SaveWebhookEvent(event *domain.WebhookEvent) error
	GetWebhookEvent(id string) (*domain.WebhookEvent, error)
	ListWebhookEvents(criteria domain.EventListCriteria) (*domain.EventListResult, error)
	ClaimWebhookEvent(id string, expectedAttempts int, now time.Time) (*domain.WebhookEvent, error)
	MarkWebhookEventDelivered(id string, expectedAttempts int, outcome domain.DeliveryOutcome) error
	MarkWebhookEventRetrying(id string, expectedAttempts int, outcome domain.DeliveryOutcome, nextRetryAt time.Time) error
	MarkWebhookEventFailed(id string, expectedAttempts int, outcome domain.DeliveryOutcome) error
	ResetWebhookEventForRetry(id string, now time.Time) (*domain.WebhookEvent, error)
	ListDueWebhookEvents(now time.Time, limit int) ([]domain.WebhookEvent, error)
	CancelPendingEventsForWebhook(webhookID string) (int, error)
	DeleteTerminalEventsBefore(cutoff time.Time) (int, error)
}

// Store 定义完整的存储接口。
type Store interface {
	WebhookRepository
	WebhookEventRepository

	// 工具方法
	Close() error
	Health() error
}
