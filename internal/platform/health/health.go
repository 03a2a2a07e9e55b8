package health

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"chat-sync/internal/platform/config"
	"chat-sync/internal/platform/logger"
	"chat-sync/internal/storage/cache"

	"github.com/gin-gonic/gin"
)

const (
	// 健康狀態常數.
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusWarning   = "warning"
	statusDisabled  = "disabled"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 512 // MB，客戶端常駐進程超過視為警告
)

// ConnectionStatus 回報即時連線狀態.
type ConnectionStatus interface {
	IsConnected() bool
}

// Handler 健康檢查處理器.
type Handler struct {
	realtime ConnectionStatus
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(realtime ConnectionStatus) *Handler {
	return &Handler{realtime: realtime}
}

// HealthCheck 健康檢查端點.
func (h *Handler) HealthCheck(c *gin.Context) {
	cfg := config.Get()

	// 檢查本地快取資料庫.
	cacheStatus := statusHealthy
	cacheError := ""

	if cfg != nil && !cfg.Cache.Enabled {
		cacheStatus = statusDisabled
	} else if err := h.checkCache(); err != nil {
		cacheStatus = statusUnhealthy
		cacheError = err.Error()
		logger.Warning(c.Request.Context(), "健康檢查 - 快取資料庫異常",
			logger.WithAction("health_check"),
			logger.WithDetails(gin.H{"error": err.Error()}))
	}

	// 檢查即時連線：Key 未設定時為降級模式，不算異常.
	realtimeStatus := statusDisabled
	if config.RealtimeEnabled() {
		if h.realtime != nil && h.realtime.IsConnected() {
			realtimeStatus = statusHealthy
		} else {
			realtimeStatus = statusWarning
		}
	}

	// 檢查系統資源.
	systemStatus := h.checkSystemResources()

	// 從環境變數讀取版本，沒有則用配置值
	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" && cfg != nil {
		appVersion = cfg.App.Version
	}

	appName := ""
	appDebug := false
	if cfg != nil {
		appName = cfg.App.Name
		appDebug = cfg.App.Debug
	}

	// 回應格式.
	response := gin.H{
		"status":    statusHealthy,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    appName,
			"version": appVersion,
			"debug":   appDebug,
		},
		"cache": gin.H{
			"status": cacheStatus,
			"error":  cacheError,
		},
		"realtime": gin.H{
			"status": realtimeStatus,
		},
		"system": gin.H{
			"status":  systemStatus.Status,
			"details": systemStatus.Details,
			"uptime":  time.Since(startTime).String(),
		},
	}

	// 如果快取不健康，將整體狀態設為 degraded.
	if cacheStatus == statusUnhealthy {
		response["status"] = "degraded"
	}

	// 即使快取不健康也回傳 200，讓監控知道進程本身是正常的.
	c.JSON(http.StatusOK, response)
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
}

// checkSystemResources 檢查系統資源.
func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"total_alloc": fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/memoryMB),
			"sys":         fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc":      m.NumGC,
		},
		"cpu": gin.H{
			"num_cpu": runtime.NumCPU(),
		},
	}

	memoryUsage := m.Sys / memoryMB // MB
	status := statusHealthy
	if memoryUsage > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}

	return SystemStatus{
		Status:  status,
		Details: details,
	}
}

// checkCache 檢查本地快取資料庫連線.
func (h *Handler) checkCache() error {
	db := cache.Get()
	if db == nil {
		return fmt.Errorf("cache database not available")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}

// 記錄服務啟動時間.
var startTime = time.Now()
