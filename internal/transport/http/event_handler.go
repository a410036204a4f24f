package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/middleware"
	"digitalbucket/backend/internal/service"
)

// ========== Event Handlers ==========

// triggerEvent godoc
// @Summary 触发领域事件
// @Description 将事件扇出给所有匹配的订阅，为每个订阅创建投递记录后立即返回
// @Tags Events
// @Accept json
// @Produce json
// @Param request body domain.TriggerEventRequest true "事件内容"
// @Success 202 {object} Response{data=service.DispatchResult}
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /v1/events [post]
func (h *Handler) triggerEvent(c *gin.Context) {
	var req domain.TriggerEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.dispatcher.TriggerEvent(c.Request.Context(), middleware.AppID(c), &req)
	if err != nil {
		if IsValidationError(err) {
			BadRequest(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgEventTriggerFailed)
		return
	}

	Accepted(c, result)
}

// getEvent godoc
// @Summary 获取投递记录详情
// @Tags Events
// @Produce json
// @Param id path string true "记录 ID"
// @Success 200 {object} Response{data=domain.WebhookEvent}
// @Failure 404 {object} Response
// @Router /v1/events/{id} [get]
func (h *Handler) getEvent(c *gin.Context) {
	event, err := h.webhooks.GetEvent(middleware.AppID(c), c.Param("id"))
	if err != nil {
		NotFound(c, GetErrorMessage(err))
		return
	}
	Success(c, event)
}

// retryEvent godoc
// @Summary 人工重试投递
// @Description 对未耗尽重试预算的失败记录立即执行一次投递
// @Tags Events
// @Produce json
// @Param id path string true "记录 ID"
// @Success 200 {object} Response{data=domain.WebhookEvent}
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Failure 500 {object} Response
// @Router /v1/events/{id}/retry [post]
func (h *Handler) retryEvent(c *gin.Context) {
	event, err := h.webhooks.RetryEvent(c.Request.Context(), middleware.AppID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEventNotFound), errors.Is(err, service.ErrWebhookNotFound):
			NotFound(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrRetryExhausted), errors.Is(err, service.ErrEventNotRetrying), errors.Is(err, service.ErrWebhookInactive):
			Conflict(c, GetErrorMessage(err))
		default:
			InternalError(c, MsgEventRetryFailed)
		}
		return
	}
	Success(c, event)
}
