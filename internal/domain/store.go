package domain

import "time"

// DeliveryOutcome 一次投递尝试的结果快照，用于条件更新与统计累加
type DeliveryOutcome struct {
	Success        bool
	ResponseStatus int
	ResponseBody   string
	ErrorMessage   string
	ResponseTime   time.Duration
	AttemptedAt    time.Time
}

// WebhookListCriteria Webhook 列表查询条件
type WebhookListCriteria struct {
	AppID    string
	Status   WebhookStatus // 为空表示不过滤
	Event    EventType     // 为空表示不过滤
	Page     int
	PageSize int
}

// WebhookListResult Webhook 列表分页结果
type WebhookListResult struct {
	Webhooks   []Webhook `json:"webhooks"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	TotalPages int       `json:"totalPages"`
}

// Store 聚合所有存储接口
type Store interface {
	// ========== Webhook Repository ==========
	SaveWebhook(webhook *Webhook) error
	GetWebhook(id string) (*Webhook, error)
	GetWebhookForApp(appID, id string) (*Webhook, error)
	ListWebhooks(criteria WebhookListCriteria) (*WebhookListResult, error)
	// ListActiveWebhooksForEvent 返回租户内订阅了指定事件类型的全部 active Webhook
	ListActiveWebhooksForEvent(appID string, eventType EventType) ([]Webhook, error)
	UpdateWebhook(webhook *Webhook) error
	DeleteWebhook(id string) error
	// UpdateWebhookStatistics 按投递结果原子累加统计计数器，仅由统计聚合逻辑调用
	UpdateWebhookStatistics(webhookID string, outcome DeliveryOutcome) error
	RecordWebhookTest(webhookID string, result *WebhookTestResult) error

	// ========== Webhook Event Repository ==========
	SaveWebhookEvent(event *WebhookEvent) error
	GetWebhookEvent(id string) (*WebhookEvent, error)
	ListWebhookEvents(criteria EventListCriteria) (*EventListResult, error)
	// ClaimWebhookEvent 以 (id, attempts, 非终态) 为条件标记记录进入处理中，
	// 返回 ErrEventConflict 表示已被其他执行者抢占或状态已变更
	ClaimWebhookEvent(id string, expectedAttempts int, now time.Time) (*WebhookEvent, error)
	// MarkWebhookEventDelivered 条件性落成功终态，条件不满足返回 ErrEventConflict
	MarkWebhookEventDelivered(id string, expectedAttempts int, outcome DeliveryOutcome) error
	// MarkWebhookEventRetrying 条件性记一次失败并排期重试
	MarkWebhookEventRetrying(id string, expectedAttempts int, outcome DeliveryOutcome, nextRetryAt time.Time) error
	// MarkWebhookEventFailed 条件性落失败终态（重试预算耗尽）
	MarkWebhookEventFailed(id string, expectedAttempts int, outcome DeliveryOutcome) error
	// ResetWebhookEventForRetry 人工重试：将记录重置为 pending/立即可投
	ResetWebhookEventForRetry(id string, now time.Time) (*WebhookEvent, error)
	// ListDueWebhookEvents 返回 nextRetryAt 到期的 retrying 记录，按到期时间升序
	ListDueWebhookEvents(now time.Time, limit int) ([]WebhookEvent, error)
	// CancelPendingEventsForWebhook Webhook 删除时级联取消其全部非终态记录
	CancelPendingEventsForWebhook(webhookID string) (int, error)
	// DeleteTerminalEventsBefore 清理保留期之外的终态记录
	DeleteTerminalEventsBefore(cutoff time.Time) (int, error)
}
