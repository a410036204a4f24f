package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/monitoring"
	"digitalbucket/backend/internal/signature"
	"digitalbucket/backend/internal/storage"
)

var (
	ErrWebhookNotFound  = errors.New("webhook not found")
	ErrEventNotFound    = errors.New("webhook event not found")
	ErrWebhookInactive  = errors.New("webhook is not active")
	ErrRetryExhausted   = errors.New("maximum retry attempts exceeded")
	ErrEventNotRetrying = errors.New("only non-terminal failed events can be retried")
)

// WebhookService 封装 Webhook 配置管理相关业务操作。
type WebhookService struct {
	store     domain.Store
	deliverer *Deliverer
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewWebhookService 创建 Webhook 业务服务。
func NewWebhookService(store domain.Store, deliverer *Deliverer, metrics *monitoring.Metrics, log *zap.Logger) *WebhookService {
	return &WebhookService{
		store:     store,
		deliverer: deliverer,
		metrics:   metrics,
		log:       log,
	}
}

// Create 创建新的 Webhook 订阅。
//
// 未提供密钥时自动生成 32 字节随机密钥（hex 编码）。
func (s *WebhookService) Create(appID string, req *domain.CreateWebhookRequest) (*domain.Webhook, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	secret := req.Secret
	if secret == "" {
		generated, err := signature.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate webhook secret: %w", err)
		}
		secret = generated
	}

	retryCfg, err := req.RetryConfig.ToRetryConfig()
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	if req.Timeout != "" {
		timeout, _ = time.ParseDuration(req.Timeout) // 已在 Validate 中解析过
	}

	rateLimit := domain.RateLimitConfig{}
	if req.RateLimit != nil {
		rateLimit = *req.RateLimit
	}

	now := time.Now()
	webhook := &domain.Webhook{
		ID:          uuid.NewString(),
		AppID:       appID,
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
		Events:      req.Events,
		Secret:      secret,
		Status:      domain.WebhookStatusActive,
		Method:      req.Method,
		ContentType: req.ContentType,
		Timeout:     timeout,
		Headers:     req.Headers,
		RetryConfig: retryCfg,
		Filters:     req.Filters,
		RateLimit:   rateLimit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.SaveWebhook(webhook); err != nil {
		return nil, err
	}

	s.metrics.RecordWebhookCreated()
	s.log.Info("webhook created",
		zap.String("webhookId", webhook.ID),
		zap.String("appId", appID),
		zap.String("url", webhook.URL),
	)
	return webhook, nil
}

// Get 查询租户下的单个 Webhook。
func (s *WebhookService) Get(appID, id string) (*domain.Webhook, error) {
	webhook, err := s.store.GetWebhookForApp(appID, id)
	if err != nil {
		if errors.Is(err, storage.ErrWebhookNotFound) {
			return nil, ErrWebhookNotFound
		}
		return nil, err
	}
	return webhook, nil
}

// List 分页查询租户下的 Webhook。
func (s *WebhookService) List(criteria domain.WebhookListCriteria) (*domain.WebhookListResult, error) {
	criteria.Page, criteria.PageSize = domain.NormalizePagination(criteria.Page, criteria.PageSize)
	return s.store.ListWebhooks(criteria)
}

// Update 部分更新 Webhook 配置。
//
// 统计、密钥与创建时间不受更新影响；策略变更只作用于之后创建的事件记录。
func (s *WebhookService) Update(appID, id string, req *domain.UpdateWebhookRequest) (*domain.Webhook, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	webhook, err := s.Get(appID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		webhook.Name = *req.Name
	}
	if req.URL != nil {
		webhook.URL = *req.URL
	}
	if req.Description != nil {
		webhook.Description = *req.Description
	}
	if len(req.Events) > 0 {
		webhook.Events = req.Events
	}
	if req.Method != nil {
		webhook.Method = *req.Method
	}
	if req.ContentType != nil {
		webhook.ContentType = *req.ContentType
	}
	if req.Timeout != nil {
		timeout, _ := time.ParseDuration(*req.Timeout) // 已在 Validate 中解析过
		webhook.Timeout = timeout
	}
	if req.Headers != nil {
		webhook.Headers = req.Headers
	}
	if req.RetryConfig != nil {
		cfg, err := req.RetryConfig.ToRetryConfig()
		if err != nil {
			return nil, err
		}
		webhook.RetryConfig = cfg
	}
	if req.Filters != nil {
		webhook.Filters = req.Filters
	}
	if req.RateLimit != nil {
		webhook.RateLimit = *req.RateLimit
	}
	if req.Status != nil {
		webhook.Status = *req.Status
	}
	webhook.UpdatedAt = time.Now()

	if err := s.store.UpdateWebhook(webhook); err != nil {
		return nil, err
	}

	s.log.Info("webhook updated",
		zap.String("webhookId", webhook.ID),
		zap.String("appId", appID),
	)
	return webhook, nil
}

// Delete 删除 Webhook 并级联取消其全部在途事件记录。
func (s *WebhookService) Delete(appID, id string) error {
	webhook, err := s.Get(appID, id)
	if err != nil {
		return err
	}

	cancelled, err := s.store.CancelPendingEventsForWebhook(webhook.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteWebhook(webhook.ID); err != nil {
		return err
	}

	s.deliverer.ForgetLimiter(webhook.ID)
	s.metrics.RecordWebhookDeleted()
	s.log.Info("webhook deleted",
		zap.String("webhookId", webhook.ID),
		zap.String("appId", appID),
		zap.Int("cancelledEvents", cancelled),
	)
	return nil
}

// Pause 暂停 Webhook，之后触发的事件不再为其创建记录。
func (s *WebhookService) Pause(appID, id string) (*domain.Webhook, error) {
	return s.setStatus(appID, id, domain.WebhookStatusPaused)
}

// Resume 恢复已暂停的 Webhook。
func (s *WebhookService) Resume(appID, id string) (*domain.Webhook, error) {
	return s.setStatus(appID, id, domain.WebhookStatusActive)
}

func (s *WebhookService) setStatus(appID, id string, status domain.WebhookStatus) (*domain.Webhook, error) {
	webhook, err := s.Get(appID, id)
	if err != nil {
		return nil, err
	}
	if webhook.Status == status {
		return webhook, nil
	}
	webhook.Status = status
	webhook.UpdatedAt = time.Now()
	if err := s.store.UpdateWebhook(webhook); err != nil {
		return nil, err
	}
	s.log.Info("webhook status changed",
		zap.String("webhookId", webhook.ID),
		zap.String("status", string(status)),
	)
	return webhook, nil
}

// Test 同步发送一次测试投递。
//
// 测试投递不产生事件记录、不重试、不计入统计，结果保存为最近一次测试快照。
func (s *WebhookService) Test(ctx context.Context, appID, id string) (*domain.WebhookTestResult, error) {
	webhook, err := s.Get(appID, id)
	if err != nil {
		return nil, err
	}

	payload := domain.EventPayload{
		ID:        uuid.NewString(),
		Event:     domain.EventWebhookTest,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"message": "This is a test delivery",
		},
		AppID:   appID,
		Version: domain.PayloadVersion,
	}

	result := s.deliverer.SendTest(ctx, webhook, payload)
	if err := s.store.RecordWebhookTest(webhook.ID, result); err != nil {
		s.log.Warn("failed to persist webhook test result",
			zap.String("webhookId", webhook.ID),
			zap.Error(err),
		)
	}
	return result, nil
}

// GetStatistics 查询 Webhook 的投递统计。
func (s *WebhookService) GetStatistics(appID, id string) (*domain.WebhookStatistics, error) {
	webhook, err := s.Get(appID, id)
	if err != nil {
		return nil, err
	}
	return &webhook.Statistics, nil
}

// ListEvents 分页查询 Webhook 的事件投递历史。
func (s *WebhookService) ListEvents(appID, webhookID string, criteria domain.EventListCriteria) (*domain.EventListResult, error) {
	if _, err := s.Get(appID, webhookID); err != nil {
		return nil, err
	}
	criteria.AppID = appID
	criteria.WebhookID = webhookID
	criteria.Page, criteria.PageSize = domain.NormalizePagination(criteria.Page, criteria.PageSize)
	return s.store.ListWebhookEvents(criteria)
}

// GetEvent 查询单条事件记录。
func (s *WebhookService) GetEvent(appID, eventID string) (*domain.WebhookEvent, error) {
	event, err := s.store.GetWebhookEvent(eventID)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	if event.AppID != appID {
		return nil, ErrEventNotFound
	}
	return event, nil
}

// RetryEvent 人工重试一条失败的事件记录。
//
// 要求 Webhook 处于 active 状态且记录未耗尽重试预算；
// 重置后立即同步执行一次投递，调用方拿到的是投递后的记录状态。
func (s *WebhookService) RetryEvent(ctx context.Context, appID, eventID string) (*domain.WebhookEvent, error) {
	event, err := s.GetEvent(appID, eventID)
	if err != nil {
		return nil, err
	}

	webhook, err := s.store.GetWebhook(event.WebhookID)
	if err != nil {
		if errors.Is(err, storage.ErrWebhookNotFound) {
			return nil, ErrWebhookNotFound
		}
		return nil, err
	}
	if !webhook.IsActive() {
		return nil, ErrWebhookInactive
	}

	if event.Status == domain.EventStatusDelivered || event.Status == domain.EventStatusCancelled {
		return nil, ErrEventNotRetrying
	}
	if !event.CanRetry() {
		return nil, ErrRetryExhausted
	}

	reset, err := s.store.ResetWebhookEventForRetry(eventID, time.Now())
	if err != nil {
		if errors.Is(err, storage.ErrEventConflict) {
			return nil, ErrRetryExhausted
		}
		return nil, err
	}

	s.log.Info("manual retry requested",
		zap.String("eventId", eventID),
		zap.String("webhookId", webhook.ID),
		zap.Int("attempts", reset.Attempts),
	)

	s.deliverer.Deliver(ctx, reset.ID, reset.Attempts)
	return s.GetEvent(appID, eventID)
}
