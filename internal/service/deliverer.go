package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/monitoring"
	"digitalbucket/backend/internal/signature"
	"digitalbucket/backend/internal/storage"
)

// UserAgent 出站请求的 User-Agent
const UserAgent = "DigitalBucket-Webhook/1.0"

// 响应体最多保留 4KB，防止恶意端点撑爆账本
const maxResponseBodyBytes = 4 * 1024

// Deliverer 投递执行器：对单条事件记录执行一次投递尝试并落结果
type Deliverer struct {
	store   domain.Store
	client  *http.Client
	metrics *monitoring.Metrics
	log     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // webhookID -> 出站限速器
}

// NewDeliverer 创建投递执行器
func NewDeliverer(store domain.Store, metrics *monitoring.Metrics, log *zap.Logger) *Deliverer {
	return &Deliverer{
		store: store,
		client: &http.Client{
			// 单次尝试的超时由每个 Webhook 的配置决定，这里只兜底
			Timeout: domain.MaxWebhookTimeout + 5*time.Second,
		},
		metrics:  metrics,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Deliver 对事件记录执行一次投递尝试
//
// 以 (id, attempts) 为条件抢占记录，抢占失败说明另一个执行者已经
// 处理过这次尝试，直接返回。统计计数只由赢得状态转移的一方累加。
func (d *Deliverer) Deliver(ctx context.Context, eventID string, expectedAttempts int) {
	webhookEvent, err := d.store.GetWebhookEvent(eventID)
	if err != nil {
		d.log.Warn("delivery skipped: event not found",
			zap.String("eventId", eventID),
			zap.Error(err),
		)
		return
	}

	webhook, err := d.store.GetWebhook(webhookEvent.WebhookID)
	if err != nil {
		d.log.Warn("delivery skipped: webhook not found",
			zap.String("eventId", eventID),
			zap.String("webhookId", webhookEvent.WebhookID),
			zap.Error(err),
		)
		return
	}
	// 暂停或禁用的 Webhook 不投递，记录保持原状等待恢复
	if !webhook.IsActive() {
		return
	}

	// 出站限速在抢占之前等待，避免占住记录空转
	if err := d.waitRateLimit(ctx, webhook); err != nil {
		return
	}

	claimed, err := d.store.ClaimWebhookEvent(eventID, expectedAttempts, time.Now())
	if err != nil {
		if errors.Is(err, storage.ErrEventConflict) {
			return
		}
		d.log.Error("failed to claim webhook event",
			zap.String("eventId", eventID),
			zap.Error(err),
		)
		return
	}

	outcome := d.attempt(ctx, webhook, claimed)
	d.settle(webhook, claimed, outcome)
}

// attempt 发送一次 HTTP 请求并收集结果
func (d *Deliverer) attempt(ctx context.Context, webhook *domain.Webhook, event *domain.WebhookEvent) domain.DeliveryOutcome {
	outcome := domain.DeliveryOutcome{AttemptedAt: time.Now()}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		outcome.ErrorMessage = fmt.Sprintf("failed to marshal payload: %v", err)
		return outcome
	}

	attemptCtx, cancel := context.WithTimeout(ctx, webhook.EffectiveTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, webhook.EffectiveMethod(), webhook.URL, bytes.NewReader(payload))
	if err != nil {
		outcome.ErrorMessage = fmt.Sprintf("failed to create request: %v", err)
		return outcome
	}

	req.Header.Set("Content-Type", webhook.EffectiveContentType())
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Webhook-Signature", signature.Sign(webhook.Secret, payload))
	req.Header.Set("X-Webhook-Event", string(event.EventType))
	req.Header.Set("X-Webhook-ID", webhook.ID)
	req.Header.Set("X-Webhook-Timestamp", event.Payload.Timestamp.UTC().Format(time.RFC3339))
	for name, value := range webhook.Headers {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	outcome.ResponseTime = time.Since(start)
	if err != nil {
		outcome.ErrorMessage = fmt.Sprintf("request failed: %v", err)
		return outcome
	}
	defer resp.Body.Close()

	outcome.ResponseStatus = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	outcome.ResponseBody = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome.Success = true
	} else {
		outcome.ErrorMessage = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	}
	return outcome
}

// settle 根据尝试结果落账：状态转移、重试排期与统计累加
func (d *Deliverer) settle(webhook *domain.Webhook, event *domain.WebhookEvent, outcome domain.DeliveryOutcome) {
	var err error
	switch {
	case outcome.Success:
		err = d.store.MarkWebhookEventDelivered(event.ID, event.Attempts, outcome)
	case event.Attempts+1 < event.MaxAttempts && webhook.RetryConfig.Enabled:
		delay := domain.NextRetryDelay(webhook.RetryConfig, event.Attempts+1)
		err = d.store.MarkWebhookEventRetrying(event.ID, event.Attempts, outcome, outcome.AttemptedAt.Add(delay))
		if err == nil {
			d.metrics.RecordDeliveryRetryScheduled()
		}
	default:
		err = d.store.MarkWebhookEventFailed(event.ID, event.Attempts, outcome)
		if err == nil {
			d.metrics.RecordDeliveryDead()
			d.log.Warn("webhook delivery exhausted retry budget",
				zap.String("eventId", event.ID),
				zap.String("webhookId", webhook.ID),
				zap.Int("attempts", event.Attempts+1),
				zap.String("error", outcome.ErrorMessage),
			)
		}
	}

	if err != nil {
		// 输掉状态转移竞争的一方不累加统计
		if !errors.Is(err, storage.ErrEventConflict) {
			d.log.Error("failed to record delivery outcome",
				zap.String("eventId", event.ID),
				zap.Error(err),
			)
		}
		return
	}

	d.metrics.RecordDeliveryAttempt(outcome.Success, outcome.ResponseTime)
	if statErr := d.store.UpdateWebhookStatistics(webhook.ID, outcome); statErr != nil {
		d.log.Error("failed to update webhook statistics",
			zap.String("webhookId", webhook.ID),
			zap.Error(statErr),
		)
	}
}

// SendTest 同步发送一次测试事件，不产生事件记录，也不计入统计
func (d *Deliverer) SendTest(ctx context.Context, webhook *domain.Webhook, payload domain.EventPayload) *domain.WebhookTestResult {
	event := &domain.WebhookEvent{
		ID:        payload.ID,
		WebhookID: webhook.ID,
		AppID:     webhook.AppID,
		EventType: payload.Event,
		Payload:   payload,
	}

	outcome := d.attempt(ctx, webhook, event)
	result := &domain.WebhookTestResult{
		Success:      outcome.Success,
		StatusCode:   outcome.ResponseStatus,
		ResponseTime: outcome.ResponseTime.Milliseconds(),
		Error:        outcome.ErrorMessage,
		TestedAt:     outcome.AttemptedAt,
	}
	return result
}

// waitRateLimit 按 Webhook 的限速配置等待发送许可
func (d *Deliverer) waitRateLimit(ctx context.Context, webhook *domain.Webhook) error {
	if !webhook.RateLimit.Enabled || webhook.RateLimit.RequestsPerMinute <= 0 {
		return nil
	}

	limiter := d.limiter(webhook)
	if !limiter.Allow() {
		d.metrics.RecordRateLimited()
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// limiter 返回 Webhook 对应的限速器，配置变更时重建
func (d *Deliverer) limiter(webhook *domain.Webhook) *rate.Limiter {
	perSecond := rate.Limit(float64(webhook.RateLimit.RequestsPerMinute) / 60.0)
	burst := webhook.RateLimit.RequestsPerMinute
	if burst < 1 {
		burst = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	limiter, ok := d.limiters[webhook.ID]
	if !ok || limiter.Limit() != perSecond || limiter.Burst() != burst {
		limiter = rate.NewLimiter(perSecond, burst)
		d.limiters[webhook.ID] = limiter
	}
	return limiter
}

// ForgetLimiter 在 Webhook 删除时释放限速器
func (d *Deliverer) ForgetLimiter(webhookID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.limiters, webhookID)
}
