package memory

import (
	"sync"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/storage"
)

// Store 使用内存保存 Webhook 与事件账本数据，主要用于开发验证与测试。
type Store struct {
	mu sync.RWMutex

	webhooks      map[string]*domain.Webhook            // 按 ID 索引
	webhooksByApp map[string]map[string]*domain.Webhook // 按租户 ID 索引

	events          map[string]*domain.WebhookEvent            // 按 ID 索引
	eventsByWebhook map[string]map[string]*domain.WebhookEvent // 按 Webhook ID 索引
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		webhooks:        make(map[string]*domain.Webhook),
		webhooksByApp:   make(map[string]map[string]*domain.Webhook),
		events:          make(map[string]*domain.WebhookEvent),
		eventsByWebhook: make(map[string]map[string]*domain.WebhookEvent),
	}
}

// Close 实现 storage.Store 接口，内存存储无需释放资源。
func (s *Store) Close() error { return nil }

// Health 实现 storage.Store 接口。
func (s *Store) Health() error { return nil }

// 断言完整实现了存储接口
var _ storage.Store = (*Store)(nil)
