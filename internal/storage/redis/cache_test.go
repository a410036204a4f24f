package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitalbucket/backend/internal/domain"
)

func newCacheTestWebhook() domain.Webhook {
	now := time.Now().Truncate(time.Second)
	return domain.Webhook{
		ID:     "wh-cache-1",
		AppID:  "app-1",
		Name:   "upload-notify",
		URL:    "https://example.com/hooks",
		Events: []domain.EventType{domain.EventFileUploaded},
		Secret: "0123456789abcdef0123456789abcdef",
		Status: domain.WebhookStatusActive,
		Statistics: domain.WebhookStatistics{
			TotalSent:              10,
			TotalSuccessful:        8,
			TotalFailed:            2,
			TotalResponseTime:      1000,
			LastSuccessfulDelivery: &now,
		},
	}
}

// domain.Webhook 的 API JSON 形态用 `json:"-"` 隐藏了签名密钥和累计响应
// 时间，缓存必须完整往返这些字段：密钥丢失会让后续投递全部用空密钥签名。
func TestCachedWebhookRoundTrip(t *testing.T) {
	webhook := newCacheTestWebhook()

	data, err := json.Marshal(wrapWebhook(webhook))
	require.NoError(t, err)

	var cached cachedWebhook
	require.NoError(t, json.Unmarshal(data, &cached))
	restored := cached.unwrap()

	assert.Equal(t, webhook.Secret, restored.Secret)
	assert.Equal(t, int64(1000), restored.Statistics.TotalResponseTime)
	assert.Equal(t, int64(125), restored.Statistics.AverageResponseTime())
	assert.Equal(t, webhook.ID, restored.ID)
	assert.Equal(t, webhook.Events, restored.Events)
	assert.Equal(t, int64(10), restored.Statistics.TotalSent)
}

func TestCachedWebhookListRoundTrip(t *testing.T) {
	first := newCacheTestWebhook()
	second := newCacheTestWebhook()
	second.ID = "wh-cache-2"
	second.Secret = "fedcba9876543210fedcba9876543210"

	wrapped := []cachedWebhook{wrapWebhook(first), wrapWebhook(second)}
	data, err := json.Marshal(wrapped)
	require.NoError(t, err)

	var cached []cachedWebhook
	require.NoError(t, json.Unmarshal(data, &cached))
	require.Len(t, cached, 2)
	assert.Equal(t, first.Secret, cached[0].unwrap().Secret)
	assert.Equal(t, second.Secret, cached[1].unwrap().Secret)
}
