package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/constants"
)

// RateLimiter 簡單的滑動視窗限流器，以客戶端 IP 為單位
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.RWMutex
	rate     int           // 每個時間窗口允許的請求數
	window   time.Duration // 時間窗口
}

// Visitor 訪問者記錄
type Visitor struct {
	count      int
	resetTime  time.Time
	lastAccess time.Time
}

// NewRateLimiter 創建限流器
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*Visitor),
		rate:     rate,
		window:   window,
	}

	// 定期清理過期的訪問者記錄
	go rl.cleanupVisitors()

	return rl
}

// Middleware gin 中間件
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		if !rl.allow(ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "請求過於頻繁，請稍後再試",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// allow 檢查是否允許該 IP 的請求
func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, exists := rl.visitors[ip]

	if !exists || now.After(v.resetTime) {
		rl.visitors[ip] = &Visitor{
			count:      1,
			resetTime:  now.Add(rl.window),
			lastAccess: now,
		}
		return true
	}

	v.lastAccess = now
	if v.count >= rl.rate {
		return false
	}

	v.count++
	return true
}

// cleanupVisitors 清理長時間未訪問的記錄，避免記憶體洩漏
func (rl *RateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(constants.RateLimitCleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, v := range rl.visitors {
			if now.Sub(v.lastAccess) > constants.RateLimitVisitorTTL {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}
