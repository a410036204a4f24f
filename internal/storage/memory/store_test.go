package memory

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/storage"
)

func newTestWebhook(appID string) *domain.Webhook {
	return &domain.Webhook{
		ID:          uuid.NewString(),
		AppID:       appID,
		Name:        "test-hook",
		URL:         "https://example.com/hooks",
		Events:      []domain.EventType{domain.EventFileUploaded},
		Secret:      "0123456789abcdef0123456789abcdef",
		Status:      domain.WebhookStatusActive,
		RetryConfig: domain.DefaultRetryConfig(),
	}
}

func newTestEvent(webhook *domain.Webhook) *domain.WebhookEvent {
	now := time.Now()
	return &domain.WebhookEvent{
		ID:        uuid.NewString(),
		WebhookID: webhook.ID,
		AppID:     webhook.AppID,
		EventType: domain.EventFileUploaded,
		Payload: domain.EventPayload{
			ID:        uuid.NewString(),
			Event:     domain.EventFileUploaded,
			Timestamp: now,
			Data:      map[string]interface{}{"fileName": "a.txt"},
			AppID:     webhook.AppID,
			Version:   domain.PayloadVersion,
		},
		Status:       domain.EventStatusPending,
		MaxAttempts:  webhook.RetryConfig.MaxAttempts,
		ScheduledFor: now,
	}
}

func TestStore_WebhookCRUD(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")

	require.NoError(t, store.SaveWebhook(webhook))

	got, err := store.GetWebhook(webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.Name, got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	// 租户隔离
	_, err = store.GetWebhookForApp("app-2", webhook.ID)
	assert.ErrorIs(t, err, storage.ErrWebhookNotFound)
	got, err = store.GetWebhookForApp("app-1", webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.ID, got.ID)

	got.Name = "renamed"
	require.NoError(t, store.UpdateWebhook(got))
	got, err = store.GetWebhook(webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, store.DeleteWebhook(webhook.ID))
	_, err = store.GetWebhook(webhook.ID)
	assert.ErrorIs(t, err, storage.ErrWebhookNotFound)
	assert.ErrorIs(t, store.DeleteWebhook(webhook.ID), storage.ErrWebhookNotFound)
}

func TestStore_ListWebhooks(t *testing.T) {
	store := NewStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveWebhook(newTestWebhook("app-1")))
	}
	paused := newTestWebhook("app-1")
	paused.Status = domain.WebhookStatusPaused
	require.NoError(t, store.SaveWebhook(paused))
	require.NoError(t, store.SaveWebhook(newTestWebhook("app-2")))

	result, err := store.ListWebhooks(domain.WebhookListCriteria{AppID: "app-1"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)

	result, err = store.ListWebhooks(domain.WebhookListCriteria{AppID: "app-1", Status: domain.WebhookStatusPaused})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)

	result, err = store.ListWebhooks(domain.WebhookListCriteria{AppID: "app-1", Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Webhooks, 2)
	assert.Equal(t, 2, result.TotalPages)
}

func TestStore_ListActiveWebhooksForEvent(t *testing.T) {
	store := NewStore()

	subscribed := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(subscribed))

	wildcard := newTestWebhook("app-1")
	wildcard.Events = []domain.EventType{domain.EventWildcard}
	require.NoError(t, store.SaveWebhook(wildcard))

	paused := newTestWebhook("app-1")
	paused.Status = domain.WebhookStatusPaused
	require.NoError(t, store.SaveWebhook(paused))

	otherEvent := newTestWebhook("app-1")
	otherEvent.Events = []domain.EventType{domain.EventFileDeleted}
	require.NoError(t, store.SaveWebhook(otherEvent))

	otherApp := newTestWebhook("app-2")
	require.NoError(t, store.SaveWebhook(otherApp))

	hooks, err := store.ListActiveWebhooksForEvent("app-1", domain.EventFileUploaded)
	require.NoError(t, err)
	assert.Len(t, hooks, 2)
}

func TestStore_UpdateWebhookStatistics(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))

	now := time.Now()
	require.NoError(t, store.UpdateWebhookStatistics(webhook.ID, domain.DeliveryOutcome{
		Success:      true,
		ResponseTime: 120 * time.Millisecond,
		AttemptedAt:  now,
	}))
	require.NoError(t, store.UpdateWebhookStatistics(webhook.ID, domain.DeliveryOutcome{
		Success:     false,
		AttemptedAt: now,
	}))

	got, err := store.GetWebhook(webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Statistics.TotalSent)
	assert.Equal(t, int64(1), got.Statistics.TotalSuccessful)
	assert.Equal(t, int64(1), got.Statistics.TotalFailed)
	assert.Equal(t, int64(120), got.Statistics.AverageResponseTime())
	assert.NotNil(t, got.Statistics.LastSuccessfulDelivery)
	assert.NotNil(t, got.Statistics.LastFailedDelivery)
	assert.NotNil(t, got.Statistics.LastDeliveryAttempt)
	assert.InDelta(t, 50.0, got.Statistics.SuccessRate(), 0.001)
}

func TestStore_ClaimWebhookEvent(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook)
	require.NoError(t, store.SaveWebhookEvent(event))

	now := time.Now()
	claimed, err := store.ClaimWebhookEvent(event.ID, 0, now)
	require.NoError(t, err)
	assert.NotNil(t, claimed.ProcessingStartedAt)

	// 正在处理中的记录不能被再次抢占
	_, err = store.ClaimWebhookEvent(event.ID, 0, now)
	assert.ErrorIs(t, err, storage.ErrEventConflict)

	// 尝试次数不匹配
	_, err = store.ClaimWebhookEvent(event.ID, 1, now)
	assert.ErrorIs(t, err, storage.ErrEventConflict)

	_, err = store.ClaimWebhookEvent("missing", 0, now)
	assert.ErrorIs(t, err, storage.ErrEventNotFound)
}

func TestStore_EventLifecycle(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook)
	event.MaxAttempts = 2
	require.NoError(t, store.SaveWebhookEvent(event))

	now := time.Now()

	// 第一次尝试失败，进入 retrying
	_, err := store.ClaimWebhookEvent(event.ID, 0, now)
	require.NoError(t, err)
	next := now.Add(time.Second)
	require.NoError(t, store.MarkWebhookEventRetrying(event.ID, 0, domain.DeliveryOutcome{
		ErrorMessage: "connection refused",
		AttemptedAt:  now,
	}, next))

	got, err := store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusRetrying, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NextRetryAt)
	assert.Equal(t, "connection refused", got.ErrorMessage)

	// 过期的条件更新被拒绝
	assert.ErrorIs(t, store.MarkWebhookEventDelivered(event.ID, 0, domain.DeliveryOutcome{Success: true, AttemptedAt: now}), storage.ErrEventConflict)

	// 第二次尝试成功
	_, err = store.ClaimWebhookEvent(event.ID, 1, now.Add(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, store.MarkWebhookEventDelivered(event.ID, 1, domain.DeliveryOutcome{
		Success:        true,
		ResponseStatus: 200,
		ResponseTime:   80 * time.Millisecond,
		AttemptedAt:    now.Add(2 * time.Second),
	}))

	got, err = store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusDelivered, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.NextRetryAt)
	assert.NotNil(t, got.DeliveredAt)

	// 终态记录拒绝一切后续变更
	assert.ErrorIs(t, store.MarkWebhookEventFailed(event.ID, 2, domain.DeliveryOutcome{AttemptedAt: now}), storage.ErrEventConflict)
	_, err = store.ClaimWebhookEvent(event.ID, 2, now)
	assert.ErrorIs(t, err, storage.ErrEventConflict)
}

func TestStore_EventTerminalFailure(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook)
	event.MaxAttempts = 1
	require.NoError(t, store.SaveWebhookEvent(event))

	now := time.Now()
	_, err := store.ClaimWebhookEvent(event.ID, 0, now)
	require.NoError(t, err)
	require.NoError(t, store.MarkWebhookEventFailed(event.ID, 0, domain.DeliveryOutcome{
		ResponseStatus: 500,
		ErrorMessage:   "endpoint returned status 500",
		AttemptedAt:    now,
	}))

	got, err := store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusFailed, got.Status)
	assert.NotNil(t, got.FailedAt)

	// 重试预算耗尽的记录不能人工重试
	_, err = store.ResetWebhookEventForRetry(event.ID, now)
	assert.ErrorIs(t, err, storage.ErrEventConflict)
}

func TestStore_ResetWebhookEventForRetry(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook)
	event.MaxAttempts = 3
	require.NoError(t, store.SaveWebhookEvent(event))

	now := time.Now()
	_, err := store.ClaimWebhookEvent(event.ID, 0, now)
	require.NoError(t, err)
	require.NoError(t, store.MarkWebhookEventRetrying(event.ID, 0, domain.DeliveryOutcome{AttemptedAt: now}, now.Add(time.Minute)))

	reset, err := store.ResetWebhookEventForRetry(event.ID, now)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusPending, reset.Status)
	assert.Nil(t, reset.NextRetryAt)
	assert.Equal(t, 1, reset.Attempts)
}

func TestStore_ResetDeliveredEventRejected(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook)
	event.MaxAttempts = 3
	require.NoError(t, store.SaveWebhookEvent(event))

	now := time.Now()
	_, err := store.ClaimWebhookEvent(event.ID, 0, now)
	require.NoError(t, err)
	require.NoError(t, store.MarkWebhookEventDelivered(event.ID, 0, domain.DeliveryOutcome{
		Success:     true,
		AttemptedAt: now,
	}))

	// 已投递的记录即使还有重试预算也不能重置，否则会重复投递
	_, err = store.ResetWebhookEventForRetry(event.ID, now)
	assert.ErrorIs(t, err, storage.ErrEventConflict)

	got, err := store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusDelivered, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestStore_ResetCancelledEventRejected(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook)
	require.NoError(t, store.SaveWebhookEvent(event))

	_, err := store.CancelPendingEventsForWebhook(webhook.ID)
	require.NoError(t, err)

	_, err = store.ResetWebhookEventForRetry(event.ID, time.Now())
	assert.ErrorIs(t, err, storage.ErrEventConflict)

	got, err := store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusCancelled, got.Status)
}

func TestStore_ClaimReclaimsExpiredLease(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook)
	require.NoError(t, store.SaveWebhookEvent(event))

	// 执行者抢占后消失，结算永远不会发生
	stale := time.Now().Add(-storage.ClaimLeaseExpiry - time.Minute)
	_, err := store.ClaimWebhookEvent(event.ID, 0, stale)
	require.NoError(t, err)

	// 租约过期后允许重新抢占，记录不会被永久搁浅
	now := time.Now()
	claimed, err := store.ClaimWebhookEvent(event.ID, 0, now)
	require.NoError(t, err)
	require.NotNil(t, claimed.ProcessingStartedAt)
	assert.Equal(t, now, *claimed.ProcessingStartedAt)

	// 新的占用在租约内，再次抢占仍然冲突
	_, err = store.ClaimWebhookEvent(event.ID, 0, time.Now())
	assert.ErrorIs(t, err, storage.ErrEventConflict)
}

func TestStore_ListDueWebhookEvents(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))

	now := time.Now()
	mkRetrying := func(due time.Time) *domain.WebhookEvent {
		e := newTestEvent(webhook)
		require.NoError(t, store.SaveWebhookEvent(e))
		_, err := store.ClaimWebhookEvent(e.ID, 0, now.Add(-time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.MarkWebhookEventRetrying(e.ID, 0, domain.DeliveryOutcome{AttemptedAt: now.Add(-time.Hour)}, due))
		return e
	}

	early := mkRetrying(now.Add(-2 * time.Minute))
	late := mkRetrying(now.Add(-1 * time.Minute))
	mkRetrying(now.Add(time.Hour)) // 未到期

	pending := newTestEvent(webhook)
	require.NoError(t, store.SaveWebhookEvent(pending)) // pending 不参与扫描

	due, err := store.ListDueWebhookEvents(now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	due, err = store.ListDueWebhookEvents(now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early.ID, due[0].ID)
}

func TestStore_CancelPendingEventsForWebhook(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))

	now := time.Now()
	open := newTestEvent(webhook)
	require.NoError(t, store.SaveWebhookEvent(open))

	done := newTestEvent(webhook)
	require.NoError(t, store.SaveWebhookEvent(done))
	_, err := store.ClaimWebhookEvent(done.ID, 0, now)
	require.NoError(t, err)
	require.NoError(t, store.MarkWebhookEventDelivered(done.ID, 0, domain.DeliveryOutcome{Success: true, AttemptedAt: now}))

	cancelled, err := store.CancelPendingEventsForWebhook(webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	got, err := store.GetWebhookEvent(open.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusCancelled, got.Status)

	got, err = store.GetWebhookEvent(done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusDelivered, got.Status)
}

func TestStore_DeleteTerminalEventsBefore(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))

	now := time.Now()
	old := newTestEvent(webhook)
	require.NoError(t, store.SaveWebhookEvent(old))
	_, err := store.ClaimWebhookEvent(old.ID, 0, now)
	require.NoError(t, err)
	require.NoError(t, store.MarkWebhookEventDelivered(old.ID, 0, domain.DeliveryOutcome{Success: true, AttemptedAt: now}))

	fresh := newTestEvent(webhook)
	require.NoError(t, store.SaveWebhookEvent(fresh))

	deleted, err := store.DeleteTerminalEventsBefore(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.GetWebhookEvent(old.ID)
	assert.ErrorIs(t, err, storage.ErrEventNotFound)
	_, err = store.GetWebhookEvent(fresh.ID)
	assert.NoError(t, err)
}

func TestStore_ListWebhookEvents(t *testing.T) {
	store := NewStore()
	webhook := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(webhook))
	other := newTestWebhook("app-1")
	require.NoError(t, store.SaveWebhook(other))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveWebhookEvent(newTestEvent(webhook)))
	}
	require.NoError(t, store.SaveWebhookEvent(newTestEvent(other)))

	result, err := store.ListWebhookEvents(domain.EventListCriteria{WebhookID: webhook.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)

	result, err = store.ListWebhookEvents(domain.EventListCriteria{AppID: "app-1"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)

	result, err = store.ListWebhookEvents(domain.EventListCriteria{WebhookID: webhook.ID, Status: domain.EventStatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
}
