package memory

import (
	"sort"
	"time"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/storage"
)

// SaveWebhookEvent 保存事件记录
func (s *Store) SaveWebhookEvent(event *domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	cp := cloneEvent(event)
	s.events[event.ID] = cp
	if s.eventsByWebhook[event.WebhookID] == nil {
		s.eventsByWebhook[event.WebhookID] = make(map[string]*domain.WebhookEvent)
	}
	s.eventsByWebhook[event.WebhookID][event.ID] = cp
	return nil
}

// GetWebhookEvent 根据 ID 获取事件记录
func (s *Store) GetWebhookEvent(id string) (*domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[id]
	if !exists {
		return nil, storage.ErrEventNotFound
	}
	return cloneEvent(event), nil
}

// ListWebhookEvents 按条件分页列出事件记录
func (s *Store) ListWebhookEvents(criteria domain.EventListCriteria) (*domain.EventListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.WebhookEvent, 0)
	for _, event := range s.events {
		if criteria.WebhookID != "" && event.WebhookID != criteria.WebhookID {
			continue
		}
		if criteria.AppID != "" && event.AppID != criteria.AppID {
			continue
		}
		if criteria.Status != "" && event.Status != criteria.Status {
			continue
		}
		if criteria.From != nil && event.CreatedAt.Before(*criteria.From) {
			continue
		}
		if criteria.To != nil && event.CreatedAt.After(*criteria.To) {
			continue
		}
		matched = append(matched, *cloneEvent(event))
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

	return &domain.EventListResult{
		Events:     matched[start:end],
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// ClaimWebhookEvent 以 (id, attempts, 非终态) 为条件抢占事件记录
func (s *Store) ClaimWebhookEvent(id string, expectedAttempts int, now time.Time) (*domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, exists := s.events[id]
	if !exists {
		return nil, storage.ErrEventNotFound
	}
	if event.Status.IsTerminal() || event.Attempts != expectedAttempts {
		return nil, storage.ErrEventConflict
	}
	// 占用超过租约时长仍未结算（执行者 panic 被回收）的记录允许重新抢占
	if event.ProcessingStartedAt != nil && event.ProcessingEndedAt == nil &&
		now.Sub(*event.ProcessingStartedAt) < storage.ClaimLeaseExpiry {
		return nil, storage.ErrEventConflict
	}

	event.ProcessingStartedAt = &now
	event.ProcessingEndedAt = nil
	event.UpdatedAt = now
	return cloneEvent(event), nil
}

// MarkWebhookEventDelivered 条件性落成功终态
func (s *Store) MarkWebhookEventDelivered(id string, expectedAttempts int, outcome domain.DeliveryOutcome) error {
	return s.finishEvent(id, expectedAttempts, outcome, func(event *domain.WebhookEvent) {
		at := outcome.AttemptedAt
		event.Status = domain.EventStatusDelivered
		event.DeliveredAt = &at
		event.NextRetryAt = nil
	})
}

// MarkWebhookEventRetrying 条件性记一次失败并排期重试
func (s *Store) MarkWebhookEventRetrying(id string, expectedAttempts int, outcome domain.DeliveryOutcome, nextRetryAt time.Time) error {
	return s.finishEvent(id, expectedAttempts, outcome, func(event *domain.WebhookEvent) {
		event.Status = domain.EventStatusRetrying
		event.NextRetryAt = &nextRetryAt
	})
}

// MarkWebhookEventFailed 条件性落失败终态
func (s *Store) MarkWebhookEventFailed(id string, expectedAttempts int, outcome domain.DeliveryOutcome) error {
	return s.finishEvent(id, expectedAttempts, outcome, func(event *domain.WebhookEvent) {
		at := outcome.AttemptedAt
		event.Status = domain.EventStatusFailed
		event.FailedAt = &at
		event.NextRetryAt = nil
	})
}

// finishEvent 条件更新的公共部分：校验期望尝试次数，记一次尝试结果
func (s *Store) finishEvent(id string, expectedAttempts int, outcome domain.DeliveryOutcome, apply func(*domain.WebhookEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, exists := s.events[id]
	if !exists {
		return storage.ErrEventNotFound
	}
	if event.Status.IsTerminal() || event.Attempts != expectedAttempts {
		return storage.ErrEventConflict
	}

	now := time.Now()
	event.Attempts++
	event.ResponseStatus = outcome.ResponseStatus
	event.ResponseBody = outcome.ResponseBody
	event.ErrorMessage = outcome.ErrorMessage
	event.ResponseTime = outcome.ResponseTime.Milliseconds()
	event.ProcessingEndedAt = &now
	event.UpdatedAt = now
	apply(event)
	return nil
}

// ResetWebhookEventForRetry 人工重试：重置为 pending 并立即可投
func (s *Store) ResetWebhookEventForRetry(id string, now time.Time) (*domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, exists := s.events[id]
	if !exists {
		return nil, storage.ErrEventNotFound
	}
	// 终态记录不可重置：已投递或已取消的记录重置会造成重复投递与重复计数
	if event.Status.IsTerminal() || !event.CanRetry() {
		return nil, storage.ErrEventConflict
	}

	event.Status = domain.EventStatusPending
	event.NextRetryAt = nil
	event.ScheduledFor = now
	event.ProcessingStartedAt = nil
	event.ProcessingEndedAt = nil
	event.UpdatedAt = now
	return cloneEvent(event), nil
}

// ListDueWebhookEvents 返回 nextRetryAt 到期的 retrying 记录，按到期时间升序
func (s *Store) ListDueWebhookEvents(now time.Time, limit int) ([]domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]domain.WebhookEvent, 0)
	for _, event := range s.events {
		if event.IsDue(now) {
			due = append(due, *cloneEvent(event))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// CancelPendingEventsForWebhook 级联取消 Webhook 的全部非终态记录
func (s *Store) CancelPendingEventsForWebhook(webhookID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cancelled := 0
	for _, event := range s.eventsByWebhook[webhookID] {
		if event.Status.IsTerminal() {
			continue
		}
		event.Status = domain.EventStatusCancelled
		event.NextRetryAt = nil
		event.UpdatedAt = now
		cancelled++
	}
	return cancelled, nil
}

// DeleteTerminalEventsBefore 清理保留期之外的终态记录
func (s *Store) DeleteTerminalEventsBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, event := range s.events {
		if !event.Status.IsTerminal() || !event.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.events, id)
		delete(s.eventsByWebhook[event.WebhookID], id)
		deleted++
	}
	return deleted, nil
}

// cloneEvent 深拷贝事件记录
func cloneEvent(e *domain.WebhookEvent) *domain.WebhookEvent {
	cp := *e
	if e.Payload.Data != nil {
		data := make(map[string]interface{}, len(e.Payload.Data))
		for k, v := range e.Payload.Data {
			data[k] = v
		}
		cp.Payload.Data = data
	}
	return &cp
}
