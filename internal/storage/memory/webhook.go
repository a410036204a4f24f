package memory

import (
	"sort"
	"time"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/storage"
)

// SaveWebhook 保存 Webhook
func (s *Store) SaveWebhook(webhook *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = now
	}
	webhook.UpdatedAt = now

	cp := cloneWebhook(webhook)
	s.webhooks[webhook.ID] = cp
	if s.webhooksByApp[webhook.AppID] == nil {
		s.webhooksByApp[webhook.AppID] = make(map[string]*domain.Webhook)
	}
	s.webhooksByApp[webhook.AppID][webhook.ID] = cp
	return nil
}

// GetWebhook 根据 ID 获取 Webhook
func (s *Store) GetWebhook(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	webhook, exists := s.webhooks[id]
	if !exists {
		return nil, storage.ErrWebhookNotFound
	}
	return cloneWebhook(webhook), nil
}

// GetWebhookForApp 获取租户范围内的 Webhook，跨租户访问视为不存在
func (s *Store) GetWebhookForApp(appID, id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	webhook, exists := s.webhooks[id]
	if !exists || webhook.AppID != appID {
		return nil, storage.ErrWebhookNotFound
	}
	return cloneWebhook(webhook), nil
}

// ListWebhooks 按条件分页列出 Webhook
func (s *Store) ListWebhooks(criteria domain.WebhookListCriteria) (*domain.WebhookListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Webhook, 0)
	for _, webhook := range s.webhooksByApp[criteria.AppID] {
		if criteria.Status != "" && webhook.Status != criteria.Status {
			continue
		}
		if criteria.Event != "" && !webhook.SubscribesTo(criteria.Event) {
			continue
		}
		matched = append(matched, *cloneWebhook(webhook))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page, pageSize := domain.NormalizePagination(criteria.Page, criteria.PageSize)
	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return &domain.WebhookListResult{
		Webhooks:   matched[start:end],
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// ListActiveWebhooksForEvent 返回租户内订阅了指定事件的全部 active Webhook
func (s *Store) ListActiveWebhooksForEvent(appID string, eventType domain.EventType) ([]domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Webhook, 0)
	for _, webhook := range s.webhooksByApp[appID] {
		if webhook.IsActive() && webhook.SubscribesTo(eventType) {
			result = append(result, *cloneWebhook(webhook))
		}
	}
	return result, nil
}

// UpdateWebhook 更新 Webhook
func (s *Store) UpdateWebhook(webhook *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.webhooks[webhook.ID]
	if !exists {
		return storage.ErrWebhookNotFound
	}

	webhook.CreatedAt = existing.CreatedAt
	webhook.UpdatedAt = time.Now()
	cp := cloneWebhook(webhook)
	s.webhooks[webhook.ID] = cp
	s.webhooksByApp[webhook.AppID][webhook.ID] = cp
	return nil
}

// DeleteWebhook 删除 Webhook
func (s *Store) DeleteWebhook(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	webhook, exists := s.webhooks[id]
	if !exists {
		return storage.ErrWebhookNotFound
	}

	delete(s.webhooks, id)
	delete(s.webhooksByApp[webhook.AppID], id)
	return nil
}

// UpdateWebhookStatistics 按投递结果原子累加统计计数器
func (s *Store) UpdateWebhookStatistics(webhookID string, outcome domain.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	webhook, exists := s.webhooks[webhookID]
	if !exists {
		return storage.ErrWebhookNotFound
	}

	at := outcome.AttemptedAt
	stats := &webhook.Statistics
	stats.TotalSent++
	stats.LastDeliveryAttempt = &at
	if outcome.Success {
		stats.TotalSuccessful++
		stats.TotalResponseTime += outcome.ResponseTime.Milliseconds()
		stats.LastSuccessfulDelivery = &at
	} else {
		stats.TotalFailed++
		stats.LastFailedDelivery = &at
	}
	webhook.UpdatedAt = time.Now()
	return nil
}

// RecordWebhookTest 记录测试投递结果
func (s *Store) RecordWebhookTest(webhookID string, result *domain.WebhookTestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	webhook, exists := s.webhooks[webhookID]
	if !exists {
		return storage.ErrWebhookNotFound
	}

	webhook.LastTestedAt = &result.TestedAt
	webhook.LastTestResult = result
	webhook.UpdatedAt = time.Now()
	return nil
}

// cloneWebhook 深拷贝可变字段，避免调用方与存储共享内部状态
func cloneWebhook(w *domain.Webhook) *domain.Webhook {
	cp := *w
	if w.Events != nil {
		cp.Events = append([]domain.EventType(nil), w.Events...)
	}
	if w.Headers != nil {
		cp.Headers = make(map[string]string, len(w.Headers))
		for k, v := range w.Headers {
			cp.Headers[k] = v
		}
	}
	if w.Filters != nil {
		f := *w.Filters
		cp.Filters = &f
	}
	if w.LastTestResult != nil {
		r := *w.LastTestResult
		cp.LastTestResult = &r
	}
	return &cp
}
