package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventType_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		event    EventType
		expected bool
	}{
		{"File uploaded", EventFileUploaded, true},
		{"File deleted", EventFileDeleted, true},
		{"Quota exceeded", EventQuotaExceeded, true},
		{"Webhook test", EventWebhookTest, true},
		{"Wildcard", EventWildcard, true},
		{"Unknown event", EventType("file.renamed.twice"), false},
		{"Empty", EventType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event.IsValid())
		})
	}
}

func TestValidateEventTypes(t *testing.T) {
	bad, ok := ValidateEventTypes([]EventType{EventFileUploaded, EventFileDeleted})
	assert.True(t, ok)
	assert.Empty(t, string(bad))

	bad, ok = ValidateEventTypes([]EventType{EventFileUploaded, "bogus.event"})
	assert.False(t, ok)
	assert.Equal(t, EventType("bogus.event"), bad)
}

func TestWebhook_SubscribesTo(t *testing.T) {
	tests := []struct {
		name     string
		events   []EventType
		event    EventType
		expected bool
	}{
		{"Direct subscription", []EventType{EventFileUploaded}, EventFileUploaded, true},
		{"Not subscribed", []EventType{EventFileUploaded}, EventFileDeleted, false},
		{"Wildcard matches everything", []EventType{EventWildcard}, EventQuotaExceeded, true},
		{"Empty subscription", nil, EventFileUploaded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Webhook{Events: tt.events}
			assert.Equal(t, tt.expected, w.SubscribesTo(tt.event))
		})
	}
}

func TestWebhook_IsActive(t *testing.T) {
	assert.True(t, (&Webhook{Status: WebhookStatusActive}).IsActive())
	assert.False(t, (&Webhook{Status: WebhookStatusPaused}).IsActive())
	assert.False(t, (&Webhook{Status: WebhookStatusDisabled}).IsActive())
	assert.False(t, (&Webhook{Status: WebhookStatusFailed}).IsActive())
}

func TestWebhook_EffectiveTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		expected time.Duration
	}{
		{"Zero falls back to default", 0, DefaultWebhookTimeout},
		{"Within bounds", 5 * time.Second, 5 * time.Second},
		{"Below minimum clamps up", 200 * time.Millisecond, MinWebhookTimeout},
		{"Above maximum clamps down", 2 * time.Minute, MaxWebhookTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Webhook{Timeout: tt.timeout}
			assert.Equal(t, tt.expected, w.EffectiveTimeout())
		})
	}
}

func TestWebhook_EffectiveMethodAndContentType(t *testing.T) {
	w := &Webhook{}
	assert.Equal(t, DefaultWebhookMethod, w.EffectiveMethod())
	assert.Equal(t, DefaultWebhookContentType, w.EffectiveContentType())

	w = &Webhook{Method: "put", ContentType: "application/vnd.custom+json"}
	assert.Equal(t, "PUT", w.EffectiveMethod())
	assert.Equal(t, "application/vnd.custom+json", w.EffectiveContentType())
}

func TestWebhookStatistics_Derived(t *testing.T) {
	stats := WebhookStatistics{
		TotalSent:         10,
		TotalSuccessful:   8,
		TotalFailed:       2,
		TotalResponseTime: 1600,
	}

	assert.InDelta(t, 80.0, stats.SuccessRate(), 0.001)
	assert.Equal(t, int64(200), stats.AverageResponseTime())

	empty := WebhookStatistics{}
	assert.Equal(t, 0.0, empty.SuccessRate())
	assert.Equal(t, int64(0), empty.AverageResponseTime())
}

func TestEventStatus_IsTerminal(t *testing.T) {
	assert.False(t, EventStatusPending.IsTerminal())
	assert.False(t, EventStatusRetrying.IsTerminal())
	assert.True(t, EventStatusDelivered.IsTerminal())
	assert.True(t, EventStatusFailed.IsTerminal())
	assert.True(t, EventStatusCancelled.IsTerminal())
}

func TestWebhookEvent_IsDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	tests := []struct {
		name     string
		event    WebhookEvent
		expected bool
	}{
		{"Retrying and due", WebhookEvent{Status: EventStatusRetrying, NextRetryAt: &past}, true},
		{"Retrying but not yet due", WebhookEvent{Status: EventStatusRetrying, NextRetryAt: &future}, false},
		{"Retrying without schedule", WebhookEvent{Status: EventStatusRetrying}, false},
		{"Pending is not swept", WebhookEvent{Status: EventStatusPending, NextRetryAt: &past}, false},
		{"Terminal is never due", WebhookEvent{Status: EventStatusFailed, NextRetryAt: &past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event.IsDue(now))
		})
	}
}

func TestWebhookEvent_CanRetry(t *testing.T) {
	assert.True(t, (&WebhookEvent{Attempts: 2, MaxAttempts: 3}).CanRetry())
	assert.False(t, (&WebhookEvent{Attempts: 3, MaxAttempts: 3}).CanRetry())
}
