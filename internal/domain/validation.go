package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// 验证相关的错误定义
var (
	ErrInvalidURL          = errors.New("invalid webhook URL")
	ErrInsecureURL         = errors.New("webhook URL must use http or https")
	ErrNameRequired        = errors.New("webhook name is required")
	ErrNameTooLong         = errors.New("webhook name too long (max 128 chars)")
	ErrEventsRequired      = errors.New("at least one event type is required")
	ErrSecretTooShort      = errors.New("secret too short (min 16 chars)")
	ErrInvalidMethod       = errors.New("invalid HTTP method (allowed: POST, PUT, PATCH)")
	ErrInvalidMaxAttempts  = errors.New("max attempts out of range (1-10)")
	ErrInvalidBackoff      = errors.New("invalid backoff strategy")
	ErrInvalidDelay        = errors.New("invalid retry delay")
	ErrInvalidRateLimit    = errors.New("requests per minute out of range (1-600)")
	ErrInvalidFilter       = errors.New("invalid filter definition")
	ErrReservedHeader      = errors.New("custom header overrides a reserved header")
	ErrInvalidPage         = errors.New("invalid pagination parameters")
	ErrEventDataRequired   = errors.New("event data is required")
	ErrInvalidEventType    = errors.New("unknown event type")
	ErrInvalidFileSizeSpan = errors.New("minFileSize must not exceed maxFileSize")
)

// 验证常量
const (
	MaxWebhookNameLength  = 128
	MaxDescriptionLength  = 512
	MinSecretLength       = 16
	MaxCustomHeaders      = 16
	MaxRetryAttemptsBound = 10
	MaxRequestsPerMinute  = 600
	DefaultPageSize       = 20
	MaxPageSize           = 100
)

// 系统自动附加的出站请求头，禁止被自定义头覆盖
var reservedHeaders = map[string]struct{}{
	"content-type":        {},
	"user-agent":          {},
	"x-webhook-signature": {},
	"x-webhook-event":     {},
	"x-webhook-id":        {},
	"x-webhook-timestamp": {},
}

// ValidateWebhookURL 验证回调地址格式
func ValidateWebhookURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInsecureURL
	}
	return nil
}

// ValidateWebhookMethod 验证出站 HTTP 方法
func ValidateWebhookMethod(method string) error {
	switch strings.ToUpper(method) {
	case "", "POST", "PUT", "PATCH":
		return nil
	}
	return ErrInvalidMethod
}

// ValidateCustomHeaders 验证自定义请求头不与系统保留头冲突
func ValidateCustomHeaders(headers map[string]string) error {
	if len(headers) > MaxCustomHeaders {
		return fmt.Errorf("too many custom headers (max %d)", MaxCustomHeaders)
	}
	for name := range headers {
		if _, reserved := reservedHeaders[strings.ToLower(name)]; reserved {
			return ErrReservedHeader
		}
	}
	return nil
}

// Validate 验证重试配置
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 || c.MaxAttempts > MaxRetryAttemptsBound {
		return ErrInvalidMaxAttempts
	}
	switch c.BackoffStrategy {
	case BackoffExponential, BackoffLinear, BackoffFixed:
	default:
		return ErrInvalidBackoff
	}
	if c.InitialDelay <= 0 || c.MaxDelay <= 0 || c.InitialDelay > c.MaxDelay {
		return ErrInvalidDelay
	}
	return nil
}

// Validate 验证限速配置
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequestsPerMinute < 1 || c.RequestsPerMinute > MaxRequestsPerMinute {
		return ErrInvalidRateLimit
	}
	return nil
}

// Validate 验证过滤规则
func (f *WebhookFilters) Validate() error {
	if f == nil {
		return nil
	}
	if f.MinFileSize != nil && *f.MinFileSize < 0 {
		return ErrInvalidFilter
	}
	if f.MaxFileSize != nil && *f.MaxFileSize < 0 {
		return ErrInvalidFilter
	}
	if f.MinFileSize != nil && f.MaxFileSize != nil && *f.MinFileSize > *f.MaxFileSize {
		return ErrInvalidFileSizeSpan
	}
	for _, cond := range f.Conditions {
		if strings.TrimSpace(cond.Field) == "" {
			return ErrInvalidFilter
		}
		if !cond.Operator.IsValid() {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, cond.Operator)
		}
	}
	return nil
}

// CreateWebhookRequest 创建 Webhook 的请求结构
//
// Timeout 与重试延迟使用可解析的时长字符串（如 "10s"、"5m"）。
type CreateWebhookRequest struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	Events      []EventType       `json:"events"`
	Secret      string            `json:"secret,omitempty"`
	Method      string            `json:"method,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Timeout     string            `json:"timeout,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RetryConfig *RetryConfigInput `json:"retryConfig,omitempty"`
	Filters     *WebhookFilters   `json:"filters,omitempty"`
	RateLimit   *RateLimitConfig  `json:"rateLimit,omitempty"`
}

// RetryConfigInput 重试配置的 API 输入形式，延迟为时长字符串
type RetryConfigInput struct {
	Enabled         *bool           `json:"enabled,omitempty"`
	MaxAttempts     int             `json:"maxAttempts,omitempty"`
	BackoffStrategy BackoffStrategy `json:"backoffStrategy,omitempty"`
	InitialDelay    string          `json:"initialDelay,omitempty"`
	MaxDelay        string          `json:"maxDelay,omitempty"`
}

// ToRetryConfig 合并默认值并解析时长字符串
func (in *RetryConfigInput) ToRetryConfig() (RetryConfig, error) {
	cfg := DefaultRetryConfig()
	if in == nil {
		return cfg, nil
	}
	if in.Enabled != nil {
		cfg.Enabled = *in.Enabled
	}
	if in.MaxAttempts != 0 {
		cfg.MaxAttempts = in.MaxAttempts
	}
	if in.BackoffStrategy != "" {
		cfg.BackoffStrategy = in.BackoffStrategy
	}
	if in.InitialDelay != "" {
		d, err := time.ParseDuration(in.InitialDelay)
		if err != nil {
			return cfg, fmt.Errorf("%w: initialDelay: %v", ErrInvalidDelay, err)
		}
		cfg.InitialDelay = d
	}
	if in.MaxDelay != "" {
		d, err := time.ParseDuration(in.MaxDelay)
		if err != nil {
			return cfg, fmt.Errorf("%w: maxDelay: %v", ErrInvalidDelay, err)
		}
		cfg.MaxDelay = d
	}
	return cfg, cfg.Validate()
}

// Validate 验证创建请求
func (r *CreateWebhookRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrNameRequired
	}
	if len(r.Name) > MaxWebhookNameLength {
		return ErrNameTooLong
	}
	if err := ValidateWebhookURL(r.URL); err != nil {
		return err
	}
	if len(r.Events) == 0 {
		return ErrEventsRequired
	}
	if bad, ok := ValidateEventTypes(r.Events); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidEventType, bad)
	}
	if r.Secret != "" && len(r.Secret) < MinSecretLength {
		return ErrSecretTooShort
	}
	if err := ValidateWebhookMethod(r.Method); err != nil {
		return err
	}
	if err := ValidateCustomHeaders(r.Headers); err != nil {
		return err
	}
	if r.Timeout != "" {
		if _, err := time.ParseDuration(r.Timeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}
	if r.Filters != nil {
		if err := r.Filters.Validate(); err != nil {
			return err
		}
	}
	if r.RateLimit != nil {
		if err := r.RateLimit.Validate(); err != nil {
			return err
		}
	}
	if _, err := r.RetryConfig.ToRetryConfig(); err != nil {
		return err
	}
	return nil
}

// UpdateWebhookRequest 更新 Webhook 的请求结构，全部字段可选
//
// secret 不在此处：创建后不可通过更新接口修改。
type UpdateWebhookRequest struct {
	Name        *string           `json:"name,omitempty"`
	URL         *string           `json:"url,omitempty"`
	Description *string           `json:"description,omitempty"`
	Events      []EventType       `json:"events,omitempty"`
	Method      *string           `json:"method,omitempty"`
	ContentType *string           `json:"contentType,omitempty"`
	Timeout     *string           `json:"timeout,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RetryConfig *RetryConfigInput `json:"retryConfig,omitempty"`
	Filters     *WebhookFilters   `json:"filters,omitempty"`
	RateLimit   *RateLimitConfig  `json:"rateLimit,omitempty"`
	Status      *WebhookStatus    `json:"status,omitempty"`
}

// Validate 验证更新请求
func (r *UpdateWebhookRequest) Validate() error {
	if r.Name != nil {
		if strings.TrimSpace(*r.Name) == "" {
			return ErrNameRequired
		}
		if len(*r.Name) > MaxWebhookNameLength {
			return ErrNameTooLong
		}
	}
	if r.URL != nil {
		if err := ValidateWebhookURL(*r.URL); err != nil {
			return err
		}
	}
	if len(r.Events) > 0 {
		if bad, ok := ValidateEventTypes(r.Events); !ok {
			return fmt.Errorf("%w: %s", ErrInvalidEventType, bad)
		}
	}
	if r.Method != nil {
		if err := ValidateWebhookMethod(*r.Method); err != nil {
			return err
		}
	}
	if err := ValidateCustomHeaders(r.Headers); err != nil {
		return err
	}
	if r.Timeout != nil {
		if _, err := time.ParseDuration(*r.Timeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}
	if r.Filters != nil {
		if err := r.Filters.Validate(); err != nil {
			return err
		}
	}
	if r.RateLimit != nil {
		if err := r.RateLimit.Validate(); err != nil {
			return err
		}
	}
	if r.Status != nil {
		switch *r.Status {
		case WebhookStatusActive, WebhookStatusPaused, WebhookStatusDisabled:
		default:
			return fmt.Errorf("invalid status: %s", *r.Status)
		}
	}
	if r.RetryConfig != nil {
		if _, err := r.RetryConfig.ToRetryConfig(); err != nil {
			return err
		}
	}
	return nil
}

// TriggerEventRequest 触发领域事件的请求结构
type TriggerEventRequest struct {
	Event      EventType              `json:"event"`
	Data       map[string]interface{} `json:"data"`
	ResourceID string                 `json:"resourceId,omitempty"`
}

// Validate 验证触发请求
func (r *TriggerEventRequest) Validate() error {
	if !r.Event.IsValid() || r.Event.IsWildcard() {
		return fmt.Errorf("%w: %s", ErrInvalidEventType, r.Event)
	}
	if len(r.Data) == 0 {
		return ErrEventDataRequired
	}
	return nil
}

// NormalizePagination 归一化分页参数
func NormalizePagination(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
