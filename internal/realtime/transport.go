package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrRealtime 即時連線層錯誤.
// 策略是 fail closed：即時更新靜默停止，應用程式以輪詢 / 手動刷新繼續運作.
var ErrRealtime = errors.New("realtime connection error")

// Event 伺服器推送的頻道事件.
type Event struct {
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// 協議事件名稱常數.
const (
	EventConnectionEstablished = "connection_established"
	EventSubscribe             = "subscribe"
	EventUnsubscribe           = "unsubscribe"
	EventSubscriptionSucceeded = "subscription_succeeded"
	EventPing                  = "ping"
	EventPong                  = "pong"

	// EventMessageCreated 對話頻道上的新訊息事件，payload 為完整 Message.
	EventMessageCreated = "message.created"
)

// Handler 頻道事件回調.
type Handler func(Event)

// Socket 底層雙向連線.
// 抽象出來讓測試可以注入假的傳輸層.
type Socket interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Dialer 建立 Socket 連線.
type Dialer func(ctx context.Context, url string) (Socket, error)

// Connection 已認證的即時連線.
// Subscribe 回傳的 Subscription 必須由呼叫方 Cancel，避免洩漏監聽器.
type Connection interface {
	// Subscribe 訂閱頻道。私有頻道會先透過 Authorizer 取得簽名授權.
	Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error)
	// SocketID 回傳本次連線的臨時 session ID（授權請求用）.
	SocketID() string
	// Connected 回傳連線是否存活.
	Connected() bool
	// Close 關閉連線，冪等.
	Close() error
}
