package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.study.sync/internal/config"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.HTTPConfig, handler *Handler, health *HealthChecker) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(CORS(cfg.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		status := health.Check(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", handler.ListConversations)
			conversations.POST("/:id/open", handler.OpenConversation)
			conversations.POST("/:id/pin", handler.TogglePin)
			conversations.POST("/:id/typing", handler.Typing)
		}
	}

	return r
}
