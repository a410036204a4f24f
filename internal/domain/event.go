package domain

import "time"

// EventStatus 事件记录的投递状态
//
// pending 表示等待首次投递；retrying 表示至少失败过一次、等待 nextRetryAt 到期。
// failed 与 cancelled 为终态，自动流程不再触碰。
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"   // 等待首次投递
	EventStatusRetrying  EventStatus = "retrying"  // 失败后等待重试
	EventStatusDelivered EventStatus = "delivered" // 投递成功（终态）
	EventStatusFailed    EventStatus = "failed"    // 重试耗尽（终态）
	EventStatusCancelled EventStatus = "cancelled" // 人工/级联取消（终态）
)

// IsTerminal 判断状态是否为终态
func (s EventStatus) IsTerminal() bool {
	return s == EventStatusDelivered || s == EventStatusFailed || s == EventStatusCancelled
}

// PayloadVersion 出站负载的结构版本号
const PayloadVersion = "1.0"

// EventPayload 单次触发构建的出站负载
//
// 同一次 triggerEvent 命中的全部 Webhook 共享同一个负载（含同一个 ID），
// 序列化后的字节即为请求体，签名针对这串字节计算。
type EventPayload struct {
	ID        string                 `json:"id"`
	Event     EventType              `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	AppID     string                 `json:"appId"`
	Version   string                 `json:"version"`
}

// WebhookEvent 一条投递工作单元（事件账本记录）
//
// maxAttempts 为创建时从 Webhook 重试策略拷贝的快照；
// 不变式：status 非终态时 attempts < maxAttempts。
type WebhookEvent struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	WebhookID string `json:"webhookId" gorm:"type:varchar(36);index;not null"`
	AppID     string `json:"appId" gorm:"type:varchar(36);index;not null"`

	EventType  EventType    `json:"eventType" gorm:"type:varchar(32);index"`
	Payload    EventPayload `json:"payload" gorm:"serializer:json;type:json"`
	ResourceID string       `json:"resourceId,omitempty" gorm:"type:varchar(64)"`

	Status       EventStatus `json:"status" gorm:"type:varchar(16);index:idx_events_due"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"maxAttempts"`
	NextRetryAt  *time.Time  `json:"nextRetryAt,omitempty" gorm:"index:idx_events_due"`
	ScheduledFor time.Time   `json:"scheduledFor"`

	DeliveredAt         *time.Time `json:"deliveredAt,omitempty"`
	FailedAt            *time.Time `json:"failedAt,omitempty"`
	ResponseStatus      int        `json:"responseStatus,omitempty"`
	ResponseBody        string     `json:"responseBody,omitempty" gorm:"type:text"`
	ErrorMessage        string     `json:"errorMessage,omitempty" gorm:"type:text"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	ProcessingEndedAt   *time.Time `json:"processingEndedAt,omitempty"`
	ResponseTime        int64      `json:"responseTimeMs,omitempty"` // 毫秒

	CreatedAt time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CanRetry 判断记录是否还有重试预算
func (e *WebhookEvent) CanRetry() bool {
	return e.Attempts < e.MaxAttempts
}

// IsDue 判断记录是否到达重试时间
func (e *WebhookEvent) IsDue(now time.Time) bool {
	if e.Status != EventStatusRetrying {
		return false
	}
	return e.NextRetryAt != nil && !e.NextRetryAt.After(now)
}

// EventListCriteria 事件历史查询条件
type EventListCriteria struct {
	WebhookID string
	AppID     string
	Status    EventStatus // 为空表示不过滤
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// EventListResult 事件历史分页结果
type EventListResult struct {
	Events     []WebhookEvent `json:"events"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
}
