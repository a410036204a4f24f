package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/middleware"
	"digitalbucket/backend/internal/service"
)

// ========== Webhook Handlers ==========

// createWebhook godoc
// @Summary 创建 Webhook
// @Description 为当前应用创建一个新的 Webhook 订阅，未提供密钥时自动生成
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param request body domain.CreateWebhookRequest true "Webhook 配置"
// @Success 201 {object} Response{data=domain.Webhook}
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /v1/webhooks [post]
func (h *Handler) createWebhook(c *gin.Context) {
	var req domain.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	webhook, err := h.webhooks.Create(middleware.AppID(c), &req)
	if err != nil {
		if IsValidationError(err) {
			BadRequest(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgWebhookCreateFailed)
		return
	}

	Created(c, webhook)
}

// listWebhooks godoc
// @Summary 获取 Webhook 列表
// @Description 分页返回当前应用的 Webhook，可按状态和订阅事件过滤
// @Tags Webhooks
// @Produce json
// @Param status query string false "状态过滤（active/paused/disabled）"
// @Param event query string false "订阅事件过滤"
// @Param page query int false "页码（默认1）"
// @Param pageSize query int false "每页数量（默认20，最大100）"
// @Success 200 {object} Response{data=domain.WebhookListResult}
// @Failure 500 {object} Response
// @Router /v1/webhooks [get]
func (h *Handler) listWebhooks(c *gin.Context) {
	var query struct {
		Status   string `form:"status"`
		Event    string `form:"event"`
		Page     int    `form:"page"`
		PageSize int    `form:"pageSize"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, MsgInvalidQuery)
		return
	}

	result, err := h.webhooks.List(domain.WebhookListCriteria{
		AppID:    middleware.AppID(c),
		Status:   domain.WebhookStatus(query.Status),
		Event:    domain.EventType(query.Event),
		Page:     query.Page,
		PageSize: query.PageSize,
	})
	if err != nil {
		InternalError(c, MsgWebhookListFailed)
		return
	}

	Success(c, result)
}

// getWebhook godoc
// @Summary 获取 Webhook 详情
// @Tags Webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} Response{data=domain.Webhook}
// @Failure 404 {object} Response
// @Router /v1/webhooks/{id} [get]
func (h *Handler) getWebhook(c *gin.Context) {
	webhook, err := h.webhooks.Get(middleware.AppID(c), c.Param("id"))
	if err != nil {
		NotFound(c, GetErrorMessage(err))
		return
	}
	Success(c, webhook)
}

// updateWebhook godoc
// @Summary 更新 Webhook
// @Description 部分更新 Webhook 配置，密钥与统计不可修改
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param id path string true "Webhook ID"
// @Param request body domain.UpdateWebhookRequest true "更新内容"
// @Success 200 {object} Response{data=domain.Webhook}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 500 {object} Response
// @Router /v1/webhooks/{id} [patch]
func (h *Handler) updateWebhook(c *gin.Context) {
	var req domain.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	webhook, err := h.webhooks.Update(middleware.AppID(c), c.Param("id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWebhookNotFound):
			NotFound(c, GetErrorMessage(err))
		case IsValidationError(err):
			BadRequest(c, GetErrorMessage(err))
		default:
			InternalError(c, MsgWebhookUpdateFailed)
		}
		return
	}

	Success(c, webhook)
}

// deleteWebhook godoc
// @Summary 删除 Webhook
// @Description 删除 Webhook 并级联取消其全部在途投递记录
// @Tags Webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Failure 500 {object} Response
// @Router /v1/webhooks/{id} [delete]
func (h *Handler) deleteWebhook(c *gin.Context) {
	err := h.webhooks.Delete(middleware.AppID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrWebhookNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgWebhookDeleteFailed)
		return
	}
	SuccessWithMsg(c, "Webhook 已删除", nil)
}

// pauseWebhook godoc
// @Summary 暂停 Webhook
// @Description 暂停后触发的事件不再为该 Webhook 创建投递记录
// @Tags Webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} Response{data=domain.Webhook}
// @Failure 404 {object} Response
// @Router /v1/webhooks/{id}/pause [post]
func (h *Handler) pauseWebhook(c *gin.Context) {
	webhook, err := h.webhooks.Pause(middleware.AppID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrWebhookNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgWebhookUpdateFailed)
		return
	}
	Success(c, webhook)
}

// resumeWebhook godoc
// @Summary 恢复 Webhook
// @Tags Webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} Response{data=domain.Webhook}
// @Failure 404 {object} Response
// @Router /v1/webhooks/{id}/resume [post]
func (h *Handler) resumeWebhook(c *gin.Context) {
	webhook, err := h.webhooks.Resume(middleware.AppID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrWebhookNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgWebhookUpdateFailed)
		return
	}
	Success(c, webhook)
}

// testWebhook godoc
// @Summary 测试 Webhook
// @Description 同步发送一次测试投递，不产生投递记录也不计入统计
// @Tags Webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} Response{data=domain.WebhookTestResult}
// @Failure 404 {object} Response
// @Failure 500 {object} Response
// @Router /v1/webhooks/{id}/test [post]
func (h *Handler) testWebhook(c *gin.Context) {
	result, err := h.webhooks.Test(c.Request.Context(), middleware.AppID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrWebhookNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgWebhookTestFailed)
		return
	}
	Success(c, result)
}

// getWebhookStatistics godoc
// @Summary 获取投递统计
// @Description 返回 Webhook 的累计投递计数与派生指标
// @Tags Webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /v1/webhooks/{id}/statistics [get]
func (h *Handler) getWebhookStatistics(c *gin.Context) {
	stats, err := h.webhooks.GetStatistics(middleware.AppID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrWebhookNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgStatisticsGetFailed)
		return
	}

	Success(c, gin.H{
		"totalSent":              stats.TotalSent,
		"totalSuccessful":        stats.TotalSuccessful,
		"totalFailed":            stats.TotalFailed,
		"successRate":            stats.SuccessRate(),
		"averageResponseTimeMs":  stats.AverageResponseTime(),
		"lastSuccessfulDelivery": stats.LastSuccessfulDelivery,
		"lastFailedDelivery":     stats.LastFailedDelivery,
		"lastDeliveryAttempt":    stats.LastDeliveryAttempt,
	})
}

// listWebhookEvents godoc
// @Summary 获取投递记录列表
// @Description 分页返回 Webhook 的事件投递历史
// @Tags Webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Param status query string false "状态过滤（pending/retrying/delivered/failed/cancelled）"
// @Param from query string false "开始时间（RFC3339）"
// @Param to query string false "结束时间（RFC3339）"
// @Param page query int false "页码（默认1）"
// @Param pageSize query int false "每页数量（默认20，最大100）"
// @Success 200 {object} Response{data=domain.EventListResult}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/webhooks/{id}/events [get]
func (h *Handler) listWebhookEvents(c *gin.Context) {
	var query struct {
		Status   string `form:"status"`
		From     string `form:"from"`
		To       string `form:"to"`
		Page     int    `form:"page"`
		PageSize int    `form:"pageSize"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, MsgInvalidQuery)
		return
	}

	criteria := domain.EventListCriteria{
		Status:   domain.EventStatus(query.Status),
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if query.From != "" {
		t, err := time.Parse(time.RFC3339, query.From)
		if err != nil {
			BadRequest(c, "开始时间格式无效，请使用 RFC3339 格式")
			return
		}
		criteria.From = &t
	}
	if query.To != "" {
		t, err := time.Parse(time.RFC3339, query.To)
		if err != nil {
			BadRequest(c, "结束时间格式无效，请使用 RFC3339 格式")
			return
		}
		criteria.To = &t
	}

	result, err := h.webhooks.ListEvents(middleware.AppID(c), c.Param("id"), criteria)
	if err != nil {
		if errors.Is(err, service.ErrWebhookNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgEventListFailed)
		return
	}

	Success(c, result)
}
