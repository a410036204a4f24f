package httptransport

import (
	"errors"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/service"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// Webhook 错误
	service.ErrWebhookNotFound: "Webhook 不存在",
	service.ErrWebhookInactive: "Webhook 未处于启用状态",

	// 事件记录错误
	service.ErrEventNotFound:    "投递记录不存在",
	service.ErrRetryExhausted:   "已达到最大重试次数",
	service.ErrEventNotRetrying: "该记录当前状态不可重试",

	// 验证错误
	domain.ErrInvalidURL:          "回调地址格式无效",
	domain.ErrInsecureURL:         "回调地址必须使用 http 或 https",
	domain.ErrNameRequired:        "名称不能为空",
	domain.ErrNameTooLong:         "名称长度超出限制",
	domain.ErrEventsRequired:      "至少需要订阅一种事件类型",
	domain.ErrSecretTooShort:      "密钥长度不足",
	domain.ErrInvalidMethod:       "HTTP 方法无效（支持 POST/PUT/PATCH）",
	domain.ErrInvalidMaxAttempts:  "最大重试次数超出范围（1-10）",
	domain.ErrInvalidBackoff:      "退避策略无效",
	domain.ErrInvalidDelay:        "重试延迟配置无效",
	domain.ErrInvalidRateLimit:    "限速配置超出范围（1-600 次/分钟）",
	domain.ErrInvalidFilter:       "过滤规则定义无效",
	domain.ErrInvalidFileSizeSpan: "文件大小过滤区间无效",
	domain.ErrReservedHeader:      "自定义请求头与系统保留头冲突",
	domain.ErrEventDataRequired:   "事件数据不能为空",
	domain.ErrInvalidEventType:    "未知的事件类型",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for key, msg := range errorMessages {
		if errors.Is(err, key) {
			return msg
		}
	}
	return err.Error()
}

// IsValidationError 判断错误是否属于请求验证错误（应返回 400）
func IsValidationError(err error) bool {
	validationErrors := []error{
		domain.ErrInvalidURL,
		domain.ErrInsecureURL,
		domain.ErrNameRequired,
		domain.ErrNameTooLong,
		domain.ErrEventsRequired,
		domain.ErrSecretTooShort,
		domain.ErrInvalidMethod,
		domain.ErrInvalidMaxAttempts,
		domain.ErrInvalidBackoff,
		domain.ErrInvalidDelay,
		domain.ErrInvalidRateLimit,
		domain.ErrInvalidFilter,
		domain.ErrInvalidFileSizeSpan,
		domain.ErrReservedHeader,
		domain.ErrEventDataRequired,
		domain.ErrInvalidEventType,
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"
	MsgInvalidQuery   = "查询参数格式错误"

	// Webhook 相关
	MsgWebhookCreateFailed = "创建 Webhook 失败"
	MsgWebhookListFailed   = "获取 Webhook 列表失败"
	MsgWebhookUpdateFailed = "更新 Webhook 失败"
	MsgWebhookDeleteFailed = "删除 Webhook 失败"
	MsgWebhookTestFailed   = "测试 Webhook 失败"
	MsgStatisticsGetFailed = "获取统计数据失败"

	// 事件相关
	MsgEventTriggerFailed = "事件分发失败"
	MsgEventListFailed    = "获取投递记录失败"
	MsgEventRetryFailed   = "重试投递失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
