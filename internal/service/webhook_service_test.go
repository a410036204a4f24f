package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/storage/memory"
)

func newTestWebhookService(store domain.Store) *WebhookService {
	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	return NewWebhookService(store, d, testMetrics(), zap.NewNop())
}

func validCreateRequest() *domain.CreateWebhookRequest {
	return &domain.CreateWebhookRequest{
		Name:   "uploads",
		URL:    "https://example.com/hook",
		Events: []domain.EventType{domain.EventFileUploaded},
	}
}

func TestWebhookServiceCreate(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	webhook, err := svc.Create("app-1", validCreateRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, webhook.ID)
	assert.Equal(t, "app-1", webhook.AppID)
	assert.Equal(t, domain.WebhookStatusActive, webhook.Status)

	// 未提供密钥时生成 32 字节随机密钥（hex 编码 64 字符）
	assert.Len(t, webhook.Secret, 64)

	// 重试配置合并默认值
	assert.Equal(t, domain.DefaultRetryConfig(), webhook.RetryConfig)
}

func TestWebhookServiceCreateWithProvidedSecret(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	req := validCreateRequest()
	req.Secret = "my-own-secret-value-long-enough"
	webhook, err := svc.Create("app-1", req)
	require.NoError(t, err)
	assert.Equal(t, req.Secret, webhook.Secret)
}

func TestWebhookServiceCreateValidation(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	req := validCreateRequest()
	req.URL = "ftp://example.com"
	_, err := svc.Create("app-1", req)
	assert.ErrorIs(t, err, domain.ErrInsecureURL)

	req = validCreateRequest()
	req.Events = nil
	_, err = svc.Create("app-1", req)
	assert.ErrorIs(t, err, domain.ErrEventsRequired)
}

func TestWebhookServiceGetScopedToApp(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	webhook, err := svc.Create("app-1", validCreateRequest())
	require.NoError(t, err)

	got, err := svc.Get("app-1", webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.ID, got.ID)

	// 其他租户不可见
	_, err = svc.Get("app-2", webhook.ID)
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestWebhookServiceUpdate(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	webhook, err := svc.Create("app-1", validCreateRequest())
	require.NoError(t, err)
	originalSecret := webhook.Secret

	name := "renamed"
	url := "https://example.org/new-hook"
	timeout := "15s"
	updated, err := svc.Update("app-1", webhook.ID, &domain.UpdateWebhookRequest{
		Name:    &name,
		URL:     &url,
		Timeout: &timeout,
		Events:  []domain.EventType{domain.EventFileDeleted},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, url, updated.URL)
	assert.Equal(t, 15*time.Second, updated.Timeout)
	assert.Equal(t, []domain.EventType{domain.EventFileDeleted}, updated.Events)

	// 密钥创建后不可通过更新修改
	assert.Equal(t, originalSecret, updated.Secret)
}

func TestWebhookServiceUpdateValidation(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	webhook, err := svc.Create("app-1", validCreateRequest())
	require.NoError(t, err)

	bad := ""
	_, err = svc.Update("app-1", webhook.ID, &domain.UpdateWebhookRequest{Name: &bad})
	assert.ErrorIs(t, err, domain.ErrNameRequired)
}

func TestWebhookServicePauseResume(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	webhook, err := svc.Create("app-1", validCreateRequest())
	require.NoError(t, err)

	paused, err := svc.Pause("app-1", webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusPaused, paused.Status)

	// 暂停的 Webhook 不接收新事件
	active, err := store.ListActiveWebhooksForEvent("app-1", domain.EventFileUploaded)
	require.NoError(t, err)
	assert.Empty(t, active)

	resumed, err := svc.Resume("app-1", webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusActive, resumed.Status)
}

func TestWebhookServiceDeleteCancelsPendingEvents(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	webhook, err := svc.Create("app-1", validCreateRequest())
	require.NoError(t, err)

	pending := newTestEvent(webhook.ID)
	pending.ID = "evt-pending"
	require.NoError(t, store.SaveWebhookEvent(pending))

	delivered := newTestEvent(webhook.ID)
	delivered.ID = "evt-done"
	delivered.Status = domain.EventStatusDelivered
	delivered.Attempts = 1
	require.NoError(t, store.SaveWebhookEvent(delivered))

	require.NoError(t, svc.Delete("app-1", webhook.ID))

	_, err = svc.Get("app-1", webhook.ID)
	assert.ErrorIs(t, err, ErrWebhookNotFound)

	// 在途记录级联取消，终态记录保持不变
	got, err := store.GetWebhookEvent(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusCancelled, got.Status)
	done, err := store.GetWebhookEvent(delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusDelivered, done.Status)
}

func TestWebhookServiceTest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "webhook.test", r.Header.Get("X-Webhook-Event"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := memory.NewStore()
	svc := newTestWebhookService(store)

	req := validCreateRequest()
	req.URL = server.URL
	webhook, err := svc.Create("app-1", req)
	require.NoError(t, err)

	result, err := svc.Test(context.Background(), "app-1", webhook.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)

	// 测试结果保存为最近一次快照
	reloaded, err := svc.Get("app-1", webhook.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastTestResult)
	assert.True(t, reloaded.LastTestResult.Success)
	assert.NotNil(t, reloaded.LastTestedAt)
}

func TestWebhookServiceGetStatistics(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	webhook, err := svc.Create("app-1", validCreateRequest())
	require.NoError(t, err)

	require.NoError(t, store.UpdateWebhookStatistics(webhook.ID, domain.DeliveryOutcome{
		Success:      true,
		ResponseTime: 120 * time.Millisecond,
		AttemptedAt:  time.Now(),
	}))

	stats, err := svc.GetStatistics("app-1", webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalSent)
	assert.Equal(t, int64(1), stats.TotalSuccessful)
	assert.Equal(t, int64(120), stats.AverageResponseTime())
}

func TestWebhookServiceListEvents(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	webhook, err := svc.Create("app-1", validCreateRequest())
	require.NoError(t, err)

	event := newTestEvent(webhook.ID)
	require.NoError(t, store.SaveWebhookEvent(event))

	result, err := svc.ListEvents("app-1", webhook.ID, domain.EventListCriteria{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)

	_, err = svc.ListEvents("app-2", webhook.ID, domain.EventListCriteria{})
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestWebhookServiceRetryEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := memory.NewStore()
	svc := newTestWebhookService(store)

	req := validCreateRequest()
	req.URL = server.URL
	webhook, err := svc.Create("app-1", req)
	require.NoError(t, err)

	event := newTestEvent(webhook.ID)
	event.Status = domain.EventStatusRetrying
	event.Attempts = 1
	next := time.Now().Add(time.Hour)
	event.NextRetryAt = &next
	require.NoError(t, store.SaveWebhookEvent(event))

	got, err := svc.RetryEvent(context.Background(), "app-1", event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusDelivered, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestWebhookServiceRetryEventGuards(t *testing.T) {
	store := memory.NewStore()
	svc := newTestWebhookService(store)

	webhook, err := svc.Create("app-1", validCreateRequest())
	require.NoError(t, err)

	// 已投递成功的记录不可重试
	delivered := newTestEvent(webhook.ID)
	delivered.ID = "evt-delivered"
	delivered.Status = domain.EventStatusDelivered
	delivered.Attempts = 1
	require.NoError(t, store.SaveWebhookEvent(delivered))
	_, err = svc.RetryEvent(context.Background(), "app-1", delivered.ID)
	assert.ErrorIs(t, err, ErrEventNotRetrying)

	// 重试预算耗尽的记录不可重试
	exhausted := newTestEvent(webhook.ID)
	exhausted.ID = "evt-exhausted"
	exhausted.Status = domain.EventStatusFailed
	exhausted.Attempts = exhausted.MaxAttempts
	require.NoError(t, store.SaveWebhookEvent(exhausted))
	_, err = svc.RetryEvent(context.Background(), "app-1", exhausted.ID)
	assert.ErrorIs(t, err, ErrRetryExhausted)

	// 其他租户的记录不可见
	_, err = svc.RetryEvent(context.Background(), "app-2", delivered.ID)
	assert.ErrorIs(t, err, ErrEventNotFound)

	// 暂停的 Webhook 不可重试
	retryable := newTestEvent(webhook.ID)
	retryable.ID = "evt-retryable"
	retryable.Status = domain.EventStatusRetrying
	retryable.Attempts = 1
	require.NoError(t, store.SaveWebhookEvent(retryable))
	_, err = svc.Pause("app-1", webhook.ID)
	require.NoError(t, err)
	_, err = svc.RetryEvent(context.Background(), "app-1", retryable.ID)
	assert.ErrorIs(t, err, ErrWebhookInactive)
}
