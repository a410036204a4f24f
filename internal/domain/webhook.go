package domain

import "time"

// WebhookStatus Webhook 生命周期状态
type WebhookStatus string

const (
	WebhookStatusActive   WebhookStatus = "active"   // 正常接收新事件
	WebhookStatusPaused   WebhookStatus = "paused"   // 手动暂停，不再产生新事件
	WebhookStatusDisabled WebhookStatus = "disabled" // 管理员禁用
	WebhookStatusFailed   WebhookStatus = "failed"   // 端点持续失败（保留状态，当前不自动进入）
)

// 出站请求的默认值
const (
	DefaultWebhookMethod      = "POST"
	DefaultWebhookContentType = "application/json"
)

// Webhook 投递超时的边界值
const (
	DefaultWebhookTimeout = 10 * time.Second
	MinWebhookTimeout     = 1 * time.Second
	MaxWebhookTimeout     = 30 * time.Second
)

// BackoffStrategy 重试退避策略
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential" // 按固定档位递增（1s/5s/15s/1m/5m）
	BackoffLinear      BackoffStrategy = "linear"      // 次数 × 初始延迟
	BackoffFixed       BackoffStrategy = "fixed"       // 固定使用初始延迟
)

// RetryConfig Webhook 重试策略
//
// maxAttempts 在事件记录创建时拷贝到记录上，之后修改策略不影响在途事件。
type RetryConfig struct {
	Enabled         bool            `json:"enabled"`
	MaxAttempts     int             `json:"maxAttempts"`     // 1-10
	BackoffStrategy BackoffStrategy `json:"backoffStrategy"` // linear / exponential / fixed
	InitialDelay    time.Duration   `json:"initialDelay"`
	MaxDelay        time.Duration   `json:"maxDelay"` // 退避延迟上限
}

// DefaultRetryConfig 默认重试策略
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:         true,
		MaxAttempts:     5,
		BackoffStrategy: BackoffExponential,
		InitialDelay:    1 * time.Second,
		MaxDelay:        5 * time.Minute,
	}
}

// RateLimitConfig Webhook 出站速率限制
type RateLimitConfig struct {
	Enabled           bool `json:"enabled"`
	RequestsPerMinute int  `json:"requestsPerMinute"`
}

// WebhookStatistics Webhook 投递统计
//
// 计数器只由统计聚合逻辑递增（存储层原子自增），永不回退。
// successRate 与 averageResponseTime 由读取方派生，不落库。
type WebhookStatistics struct {
	TotalSent              int64      `json:"totalSent"`
	TotalSuccessful        int64      `json:"totalSuccessful"`
	TotalFailed            int64      `json:"totalFailed"`
	TotalResponseTime      int64      `json:"-"` // 成功投递的累计响应时间（毫秒），用于派生平均值
	LastSuccessfulDelivery *time.Time `json:"lastSuccessfulDelivery,omitempty"`
	LastFailedDelivery     *time.Time `json:"lastFailedDelivery,omitempty"`
	LastDeliveryAttempt    *time.Time `json:"lastDeliveryAttempt,omitempty"`
}

// SuccessRate 派生成功率（0-1）
func (s WebhookStatistics) SuccessRate() float64 {
	if s.TotalSent == 0 {
		return 0
	}
	return float64(s.TotalSuccessful) / float64(s.TotalSent)
}

// AverageResponseTime 派生平均响应时间（毫秒）
func (s WebhookStatistics) AverageResponseTime() int64 {
	if s.TotalSuccessful == 0 {
		return 0
	}
	return s.TotalResponseTime / s.TotalSuccessful
}

// WebhookTestResult 最近一次测试投递的结果
type WebhookTestResult struct {
	Success      bool      `json:"success"`
	StatusCode   int       `json:"statusCode,omitempty"`
	ResponseTime int64     `json:"responseTimeMs"`
	Error        string    `json:"error,omitempty"`
	TestedAt     time.Time `json:"testedAt"`
}

// Webhook 订阅端点配置
//
// secret 创建时生成，更新接口不允许修改（轮换需要显式操作，当前不提供）。
type Webhook struct {
	ID          string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AppID       string            `json:"appId" gorm:"type:varchar(36);index;not null"`
	Name        string            `json:"name" gorm:"type:varchar(128)"`
	URL         string            `json:"url" gorm:"type:varchar(500);not null"`
	Description string            `json:"description,omitempty" gorm:"type:varchar(500)"`
	Events      []EventType       `json:"events" gorm:"serializer:json;type:json"`
	Secret      string            `json:"-" gorm:"type:varchar(128);not null"`
	Status      WebhookStatus     `json:"status" gorm:"type:varchar(16);index;default:active"`
	Method      string            `json:"method" gorm:"type:varchar(8);default:POST"`
	ContentType string            `json:"contentType" gorm:"type:varchar(64)"`
	Timeout     time.Duration     `json:"timeout"`
	Headers     map[string]string `json:"headers,omitempty" gorm:"serializer:json;type:json"`
	RetryConfig RetryConfig       `json:"retryConfig" gorm:"serializer:json;type:json"`
	Filters     *WebhookFilters   `json:"filters,omitempty" gorm:"serializer:json;type:json"`
	RateLimit   RateLimitConfig   `json:"rateLimit" gorm:"serializer:json;type:json"`
	Statistics  WebhookStatistics `json:"statistics" gorm:"embedded;embeddedPrefix:stat_"`

	LastTestedAt   *time.Time         `json:"lastTestedAt,omitempty"`
	LastTestResult *WebhookTestResult `json:"lastTestResult,omitempty" gorm:"serializer:json;type:json"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive 判断 Webhook 是否接收新事件
func (w *Webhook) IsActive() bool {
	return w.Status == WebhookStatusActive
}

// SubscribesTo 判断 Webhook 是否订阅了指定事件类型
//
// 订阅列表包含该类型或通配符时返回 true。
func (w *Webhook) SubscribesTo(eventType EventType) bool {
	for _, e := range w.Events {
		if e == eventType || e.IsWildcard() {
			return true
		}
	}
	return false
}

// EffectiveTimeout 返回限制在 [1s, 30s] 区间内的投递超时
func (w *Webhook) EffectiveTimeout() time.Duration {
	t := w.Timeout
	if t <= 0 {
		t = DefaultWebhookTimeout
	}
	if t < MinWebhookTimeout {
		t = MinWebhookTimeout
	}
	if t > MaxWebhookTimeout {
		t = MaxWebhookTimeout
	}
	return t
}

// EffectiveMethod 返回出站请求使用的 HTTP 方法
func (w *Webhook) EffectiveMethod() string {
	switch w.Method {
	case "POST", "PUT", "PATCH":
		return w.Method
	}
	return DefaultWebhookMethod
}

// EffectiveContentType 返回出站请求的 Content-Type
func (w *Webhook) EffectiveContentType() string {
	if w.ContentType == "" {
		return DefaultWebhookContentType
	}
	return w.ContentType
}
