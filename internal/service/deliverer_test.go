package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/monitoring"
	"digitalbucket/backend/internal/signature"
	"digitalbucket/backend/internal/storage/memory"
)

var (
	metricsOnce sync.Once
	metricsInst *monitoring.Metrics
)

// testMetrics 进程内只注册一次 Prometheus 指标
func testMetrics() *monitoring.Metrics {
	metricsOnce.Do(func() {
		metricsInst = monitoring.NewMetrics()
	})
	return metricsInst
}

func newTestWebhook(url string) *domain.Webhook {
	return &domain.Webhook{
		ID:     "wh-1",
		AppID:  "app-1",
		Name:   "uploads",
		URL:    url,
		Events: []domain.EventType{domain.EventFileUploaded},
		Secret: "0123456789abcdef0123456789abcdef",
		Status: domain.WebhookStatusActive,
		RetryConfig: domain.RetryConfig{
			Enabled:         true,
			MaxAttempts:     3,
			BackoffStrategy: domain.BackoffExponential,
			InitialDelay:    time.Second,
			MaxDelay:        5 * time.Minute,
		},
	}
}

func newTestEvent(webhookID string) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:        "evt-1",
		WebhookID: webhookID,
		AppID:     "app-1",
		EventType: domain.EventFileUploaded,
		Payload: domain.EventPayload{
			ID:        "pay-1",
			Event:     domain.EventFileUploaded,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"fileName": "report.pdf"},
			AppID:     "app-1",
			Version:   domain.PayloadVersion,
		},
		Status:       domain.EventStatusPending,
		Attempts:     0,
		MaxAttempts:  3,
		ScheduledFor: time.Now(),
	}
}

func TestDelivererSuccess(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := memory.NewStore()
	webhook := newTestWebhook(server.URL)
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook.ID)
	require.NoError(t, store.SaveWebhookEvent(event))

	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	d.Deliver(context.Background(), event.ID, 0)

	got, err := store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusDelivered, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, http.StatusOK, got.ResponseStatus)
	assert.NotNil(t, got.DeliveredAt)
	assert.NotNil(t, got.ProcessingStartedAt)
	assert.NotNil(t, got.ProcessingEndedAt)

	// 签名针对实际传输的字节计算，接收方可以用原始请求体复算
	assert.Equal(t, signature.Sign(webhook.Secret, gotBody), gotHeaders.Get("X-Webhook-Signature"))
	assert.Equal(t, "file.uploaded", gotHeaders.Get("X-Webhook-Event"))
	assert.Equal(t, webhook.ID, gotHeaders.Get("X-Webhook-ID"))
	assert.Equal(t, UserAgent, gotHeaders.Get("User-Agent"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.NotEmpty(t, gotHeaders.Get("X-Webhook-Timestamp"))

	reloaded, err := store.GetWebhook(webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Statistics.TotalSent)
	assert.Equal(t, int64(1), reloaded.Statistics.TotalSuccessful)
	assert.Equal(t, int64(0), reloaded.Statistics.TotalFailed)
	assert.NotNil(t, reloaded.Statistics.LastSuccessfulDelivery)
}

func TestDelivererFailureSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := memory.NewStore()
	webhook := newTestWebhook(server.URL)
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook.ID)
	require.NoError(t, store.SaveWebhookEvent(event))

	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	before := time.Now()
	d.Deliver(context.Background(), event.ID, 0)

	got, err := store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusRetrying, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, http.StatusInternalServerError, got.ResponseStatus)
	assert.Contains(t, got.ErrorMessage, "500")
	require.NotNil(t, got.NextRetryAt)

	// 首次失败按固定档位退避 1s
	assert.WithinDuration(t, before.Add(time.Second), *got.NextRetryAt, 2*time.Second)

	reloaded, err := store.GetWebhook(webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Statistics.TotalSent)
	assert.Equal(t, int64(1), reloaded.Statistics.TotalFailed)
}

func TestDelivererBudgetExhaustedGoesTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still broken", http.StatusBadGateway)
	}))
	defer server.Close()

	store := memory.NewStore()
	webhook := newTestWebhook(server.URL)
	require.NoError(t, store.SaveWebhook(webhook))

	event := newTestEvent(webhook.ID)
	event.Status = domain.EventStatusRetrying
	event.Attempts = 2 // 第三次尝试即最后一次
	next := time.Now().Add(-time.Second)
	event.NextRetryAt = &next
	require.NoError(t, store.SaveWebhookEvent(event))

	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	d.Deliver(context.Background(), event.ID, 2)

	got, err := store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.NotNil(t, got.FailedAt)
	assert.Nil(t, got.NextRetryAt)
	assert.True(t, got.Status.IsTerminal())
}

func TestDelivererConnectionErrorRecorded(t *testing.T) {
	store := memory.NewStore()
	// 指向已关闭的端口
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	webhook := newTestWebhook(url)
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook.ID)
	require.NoError(t, store.SaveWebhookEvent(event))

	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	d.Deliver(context.Background(), event.ID, 0)

	got, err := store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusRetrying, got.Status)
	assert.Equal(t, 0, got.ResponseStatus)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestDelivererStaleClaimIsNoop(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	store := memory.NewStore()
	webhook := newTestWebhook(server.URL)
	require.NoError(t, store.SaveWebhook(webhook))

	event := newTestEvent(webhook.ID)
	event.Status = domain.EventStatusDelivered
	event.Attempts = 1
	require.NoError(t, store.SaveWebhookEvent(event))

	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	d.Deliver(context.Background(), event.ID, 1)

	assert.Equal(t, int32(0), hits.Load())
	reloaded, err := store.GetWebhook(webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reloaded.Statistics.TotalSent)
}

func TestDelivererSkipsInactiveWebhook(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	store := memory.NewStore()
	webhook := newTestWebhook(server.URL)
	webhook.Status = domain.WebhookStatusPaused
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook.ID)
	require.NoError(t, store.SaveWebhookEvent(event))

	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	d.Deliver(context.Background(), event.ID, 0)

	assert.Equal(t, int32(0), hits.Load())
	got, err := store.GetWebhookEvent(event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusPending, got.Status)
}

func TestDelivererCustomMethodAndHeaders(t *testing.T) {
	var (
		gotMethod string
		gotHeader string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Custom-Tag")
	}))
	defer server.Close()

	store := memory.NewStore()
	webhook := newTestWebhook(server.URL)
	webhook.Method = "PUT"
	webhook.Headers = map[string]string{"X-Custom-Tag": "ci"}
	require.NoError(t, store.SaveWebhook(webhook))
	event := newTestEvent(webhook.ID)
	require.NoError(t, store.SaveWebhookEvent(event))

	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	d.Deliver(context.Background(), event.ID, 0)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "ci", gotHeader)
}

func TestSendTestDoesNotTouchLedger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := memory.NewStore()
	webhook := newTestWebhook(server.URL)
	require.NoError(t, store.SaveWebhook(webhook))

	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	result := d.SendTest(context.Background(), webhook, domain.EventPayload{
		ID:        "test-1",
		Event:     domain.EventWebhookTest,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"message": "ping"},
		AppID:     webhook.AppID,
		Version:   domain.PayloadVersion,
	})

	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusNoContent, result.StatusCode)

	// 测试投递不产生记录、不计入统计
	events, err := store.ListWebhookEvents(domain.EventListCriteria{WebhookID: webhook.ID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, events.Total)
	reloaded, err := store.GetWebhook(webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reloaded.Statistics.TotalSent)
}

func TestSendTestFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	store := memory.NewStore()
	webhook := newTestWebhook(server.URL)

	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	result := d.SendTest(context.Background(), webhook, domain.EventPayload{
		ID:      "test-2",
		Event:   domain.EventWebhookTest,
		Data:    map[string]interface{}{"message": "ping"},
		Version: domain.PayloadVersion,
	})

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, http.StatusForbidden, result.StatusCode)
	assert.NotEmpty(t, result.Error)
}
