package server

import (
	"context"
	"net/http"
	"time"

	"chat-sync/internal/constants"
	"chat-sync/internal/httputil"
	"chat-sync/internal/platform/config"
	"chat-sync/internal/platform/health"
	"chat-sync/internal/platform/logger"
	"chat-sync/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 本地服務不需要被外部頁面引用
		c.Header("Referrer-Policy", "no-referrer")

		c.Next()
	}
}

// Dependencies 路由需要的依賴.
type Dependencies struct {
	Unread   UnreadCounter
	Realtime health.ConnectionStatus
}

// UnreadCounter 未讀計數器介面.
type UnreadCounter interface {
	Refresh(ctx context.Context)
	Count() int
}

// Router 設定路由：健康檢查與推播提示 webhook
func Router(deps Dependencies) *gin.Engine {
	if !config.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	// 添加安全標頭中間件
	r.Use(securityHeadersMiddleware())

	// 從配置讀取限制參數
	cfg := config.Get()

	// 創建 Rate Limiter
	defaultLimit := constants.DefaultRateLimitPerMinute
	if cfg != nil && cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	if cfg == nil || cfg.Limits.RateLimiting.Enabled {
		rateLimiter := middleware.NewRateLimiter(defaultLimit, time.Minute)
		r.Use(rateLimiter.Middleware())
	}

	// 創建處理器
	healthHandler := health.NewHealthHandler(deps.Realtime)

	// health check
	r.GET("/healthz", healthHandler.HealthCheck)

	// 推播提示：後端推播送達時由系統通知處理器呼叫，觸發未讀數重新整理
	r.POST("/hooks/push", func(c *gin.Context) {
		if deps.Unread == nil {
			c.JSON(http.StatusServiceUnavailable, httputil.ErrorMessage(httputil.ProcessingFailed))
			return
		}

		logger.Info(c.Request.Context(), "收到推播提示，觸發未讀重新整理",
			logger.WithAction("push_hook"))
		deps.Unread.Refresh(c.Request.Context())

		c.JSON(http.StatusOK, httputil.SuccessWithCount(httputil.RefreshTriggered, deps.Unread.Count()))
	})

	// 查詢當前未讀數（供本地工具使用）
	r.GET("/unread", func(c *gin.Context) {
		if deps.Unread == nil {
			c.JSON(http.StatusServiceUnavailable, httputil.ErrorMessage(httputil.ProcessingFailed))
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": deps.Unread.Count()})
	})

	return r
}
