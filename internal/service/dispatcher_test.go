package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/pool"
	"digitalbucket/backend/internal/storage/memory"
)

func newTestDispatcher(t *testing.T, store domain.Store) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	workers := pool.NewWorkerPool(2, 16)
	ctx, cancel := context.WithCancel(context.Background())
	workers.Start(ctx)
	d := NewDeliverer(store, testMetrics(), zap.NewNop())
	return NewDispatcher(store, d, workers, testMetrics(), zap.NewNop()), cancel
}

func TestTriggerEventFanout(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	store := memory.NewStore()
	matched := newTestWebhook(server.URL)
	matched.ID = "wh-matched"
	require.NoError(t, store.SaveWebhook(matched))

	filtered := newTestWebhook(server.URL)
	filtered.ID = "wh-filtered"
	filtered.Filters = &domain.WebhookFilters{FileTypes: []string{"png"}}
	require.NoError(t, store.SaveWebhook(filtered))

	dispatcher, cancel := newTestDispatcher(t, store)
	defer cancel()

	result, err := dispatcher.TriggerEvent(context.Background(), "app-1", &domain.TriggerEventRequest{
		Event:      domain.EventFileUploaded,
		Data:       map[string]interface{}{"fileName": "report.pdf", "fileSize": float64(1024)},
		ResourceID: "file-42",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.WebhooksMatched)
	assert.Equal(t, 1, result.WebhooksFiltered)
	require.Len(t, result.RecordIDs, 1)

	event, err := store.GetWebhookEvent(result.RecordIDs[0])
	require.NoError(t, err)
	assert.Equal(t, matched.ID, event.WebhookID)
	assert.Equal(t, "app-1", event.AppID)
	assert.Equal(t, result.EventID, event.Payload.ID)
	assert.Equal(t, matched.RetryConfig.MaxAttempts, event.MaxAttempts)
	assert.Equal(t, "file-42", event.ResourceID)

	// 首次投递异步完成
	require.Eventually(t, func() bool {
		got, err := store.GetWebhookEvent(result.RecordIDs[0])
		return err == nil && got.Status == domain.EventStatusDelivered
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())

	// 过滤器未命中的 Webhook 不产生记录也不计入统计
	filteredEvents, err := store.ListWebhookEvents(domain.EventListCriteria{WebhookID: filtered.ID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, filteredEvents.Total)
	reloaded, err := store.GetWebhook(filtered.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reloaded.Statistics.TotalSent)
}

func TestTriggerEventSharedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	store := memory.NewStore()
	first := newTestWebhook(server.URL)
	first.ID = "wh-a"
	require.NoError(t, store.SaveWebhook(first))
	second := newTestWebhook(server.URL)
	second.ID = "wh-b"
	require.NoError(t, store.SaveWebhook(second))

	dispatcher, cancel := newTestDispatcher(t, store)
	defer cancel()

	result, err := dispatcher.TriggerEvent(context.Background(), "app-1", &domain.TriggerEventRequest{
		Event: domain.EventFileUploaded,
		Data:  map[string]interface{}{"fileName": "a.txt"},
	})
	require.NoError(t, err)
	require.Len(t, result.RecordIDs, 2)

	// 同一次触发的所有记录共享同一份负载（含同一个 ID）
	one, err := store.GetWebhookEvent(result.RecordIDs[0])
	require.NoError(t, err)
	two, err := store.GetWebhookEvent(result.RecordIDs[1])
	require.NoError(t, err)
	assert.Equal(t, one.Payload.ID, two.Payload.ID)
	assert.NotEqual(t, one.ID, two.ID)
}

func TestTriggerEventValidation(t *testing.T) {
	store := memory.NewStore()
	dispatcher, cancel := newTestDispatcher(t, store)
	defer cancel()

	_, err := dispatcher.TriggerEvent(context.Background(), "app-1", &domain.TriggerEventRequest{
		Event: "bogus.event",
		Data:  map[string]interface{}{"x": 1},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEventType)

	_, err = dispatcher.TriggerEvent(context.Background(), "app-1", &domain.TriggerEventRequest{
		Event: domain.EventFileUploaded,
	})
	assert.ErrorIs(t, err, domain.ErrEventDataRequired)

	// 通配符只能订阅，不能触发
	_, err = dispatcher.TriggerEvent(context.Background(), "app-1", &domain.TriggerEventRequest{
		Event: domain.EventWildcard,
		Data:  map[string]interface{}{"x": 1},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEventType)
}

func TestTriggerEventNoSubscribers(t *testing.T) {
	store := memory.NewStore()
	dispatcher, cancel := newTestDispatcher(t, store)
	defer cancel()

	result, err := dispatcher.TriggerEvent(context.Background(), "app-1", &domain.TriggerEventRequest{
		Event: domain.EventFileDeleted,
		Data:  map[string]interface{}{"fileName": "gone.txt"},
	})
	require.NoError(t, err)
	assert.Zero(t, result.WebhooksMatched)
	assert.Empty(t, result.RecordIDs)
}
