package constants

import "time"

// HTTP 請求相關常數
const (
	DefaultRequestTimeout = 30 // 秒
)

// 分頁相關常數
const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
	MinPageSize        = 1
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 10000
	MessageChannelBuffer    = 10
)

// 未讀計數相關常數
const (
	DefaultUnreadPollIntervalSec = 60
)

// 即時連線相關常數
const (
	DefaultHeartbeatIntervalSec = 25
	DefaultReconnectBaseMS      = 1000
	DefaultReconnectMaxMS       = 30000
	DefaultMaxReconnects        = 10
)

// Rate Limiting 默認值（本地 webhook 端點）
const (
	DefaultRateLimitPerMinute = 100
	DefaultHookRateLimit      = 30

	RateLimitCleanupInterval = 10 * time.Minute
	RateLimitVisitorTTL      = 30 * time.Minute
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)
