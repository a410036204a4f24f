package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"digitalbucket/backend/internal/config"
	"digitalbucket/backend/internal/health"
	"digitalbucket/backend/internal/middleware"
	"digitalbucket/backend/internal/monitoring"
	"digitalbucket/backend/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	webhooks   *service.WebhookService
	dispatcher *service.Dispatcher
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	WebhookService *service.WebhookService
	Dispatcher     *service.Dispatcher
	Metrics        *monitoring.Metrics
	HealthChecker  *health.HealthChecker
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	// 使用自定义中间件替代默认中间件
	router.Use(mm.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(mm.HTTPMetrics())
	router.Use(mm.SystemMetrics())

	// 全局请求体默认限制 1MB，事件触发端点单独放宽
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "X-App-ID", "X-Service-Token"},
		ExposeHeaders: []string{
			"Content-Length",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	handler := &Handler{
		webhooks:   deps.WebhookService,
		dispatcher: deps.Dispatcher,
	}

	// 创建中间件
	appAuth := middleware.NewAppAuth(deps.Config.Webhook.ServiceToken)

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.HealthChecker.CheckHealth())
		})
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.Live()))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.Ready()))
	}
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// V1 API：全部需要携带租户标识
	v1 := router.Group("/v1")
	v1.Use(appAuth.RequireApp())
	{
		// ========== Webhook Routes ==========
		webhookRoutes := v1.Group("/webhooks")
		{
			webhookRoutes.POST("", handler.createWebhook)                       // 创建 Webhook
			webhookRoutes.GET("", handler.listWebhooks)                         // 列出 Webhooks
			webhookRoutes.GET("/:id", handler.getWebhook)                       // 获取 Webhook
			webhookRoutes.PATCH("/:id", handler.updateWebhook)                  // 更新 Webhook
			webhookRoutes.DELETE("/:id", handler.deleteWebhook)                 // 删除 Webhook
			webhookRoutes.POST("/:id/pause", handler.pauseWebhook)              // 暂停投递
			webhookRoutes.POST("/:id/resume", handler.resumeWebhook)            // 恢复投递
			webhookRoutes.POST("/:id/test", handler.testWebhook)                // 测试投递
			webhookRoutes.GET("/:id/statistics", handler.getWebhookStatistics)  // 投递统计
			webhookRoutes.GET("/:id/events", handler.listWebhookEvents)         // 投递记录
		}

		// ========== Event Routes ==========
		eventRoutes := v1.Group("/events")
		{
			eventRoutes.POST("", middleware.BodySizeLimit(middleware.EventBodyLimit), handler.triggerEvent) // 触发事件
			eventRoutes.GET("/:id", handler.getEvent)                                                       // 查询投递记录
			eventRoutes.POST("/:id/retry", handler.retryEvent)                                              // 人工重试
		}
	}

	return router
}
