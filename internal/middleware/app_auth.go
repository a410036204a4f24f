package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AppAuth 租户识别中间件
//
// 调用方通过 X-App-ID 声明租户；配置了服务令牌时还需携带 X-Service-Token。
type AppAuth struct {
	serviceToken string
}

// NewAppAuth 创建租户识别中间件
//
// serviceToken 为空时只校验 X-App-ID 存在（开发环境）。
func NewAppAuth(serviceToken string) *AppAuth {
	return &AppAuth{serviceToken: serviceToken}
}

// RequireApp 要求请求携带有效的租户标识
func (a *AppAuth) RequireApp() gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := strings.TrimSpace(c.GetHeader("X-App-ID"))
		if appID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "缺少 X-App-ID 请求头",
			})
			c.Abort()
			return
		}

		if a.serviceToken != "" {
			token := c.GetHeader("X-Service-Token")
			if subtle.ConstantTimeCompare([]byte(token), []byte(a.serviceToken)) != 1 {
				c.JSON(http.StatusUnauthorized, gin.H{
					"code": http.StatusUnauthorized,
					"msg":  "服务令牌无效",
				})
				c.Abort()
				return
			}
		}

		c.Set("appID", appID)
		c.Next()
	}
}

// AppID 从上下文读取已验证的租户标识
func AppID(c *gin.Context) string {
	if v, exists := c.Get("appID"); exists {
		if appID, ok := v.(string); ok {
			return appID
		}
	}
	return ""
}
