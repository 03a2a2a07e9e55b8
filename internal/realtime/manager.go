package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-sync/internal/constants"
	"chat-sync/internal/platform/config"
	"chat-sync/internal/platform/logger"
)

// Manager 即時連線管理器（每個進程一條連線）.
// 連線為惰性建立：第一次 Get 時撥號，之後共用同一個句柄；
// Disconnect 在登出時拆除，可安全重複呼叫.
type Manager struct {
	cfg    config.RealtimeConfig
	auth   Authorizer
	dialer Dialer

	mu   sync.RWMutex
	conn Connection
}

// NewManager 創建連線管理器.
// dialer 傳 nil 時使用預設的 websocket dialer（測試可注入假傳輸）.
func NewManager(cfg config.RealtimeConfig, auth Authorizer, dialer Dialer) *Manager {
	if dialer == nil {
		dialer = DialWebsocket
	}
	return &Manager{
		cfg:    cfg,
		auth:   auth,
		dialer: dialer,
	}
}

// Get 獲取或創建即時連線（單例模式）.
// 缺少 key 配置時回傳 no-op 連線，下游訂閱全部靜默跳過.
func (m *Manager) Get(ctx context.Context) Connection {
	m.mu.RLock()
	if m.conn != nil {
		conn := m.conn
		m.mu.RUnlock()
		return conn
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// 再次檢查（雙重檢查鎖定）
	if m.conn != nil {
		return m.conn
	}

	// 配置不完整：整體降級，不嘗試建立連線
	if m.cfg.Key == "" {
		logger.Info(ctx, "即時配置缺少 key，即時更新停用")
		m.conn = noopConn{}
		return m.conn
	}

	conn := m.newConnection()
	if err := conn.connect(ctx); err != nil {
		// fail closed：連不上時照樣回傳 no-op，之後的 Get 會再嘗試
		logger.Error(ctx, "即時連線建立失敗",
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return noopConn{}
	}

	logger.Info(ctx, "即時連線建立成功",
		logger.WithDetails(map[string]interface{}{"socket_id": conn.SocketID()}))

	m.conn = conn
	return m.conn
}

// newConnection 依配置組裝 websocket 連線.
func (m *Manager) newConnection() *wsConnection {
	heartbeat := constants.DefaultHeartbeatIntervalSec
	if m.cfg.HeartbeatInterval > 0 {
		heartbeat = m.cfg.HeartbeatInterval
	}
	baseMS := constants.DefaultReconnectBaseMS
	if m.cfg.ReconnectBaseMS > 0 {
		baseMS = m.cfg.ReconnectBaseMS
	}
	maxMS := constants.DefaultReconnectMaxMS
	if m.cfg.ReconnectMaxMS > 0 {
		maxMS = m.cfg.ReconnectMaxMS
	}
	maxAttempts := constants.DefaultMaxReconnects
	if m.cfg.MaxReconnects > 0 {
		maxAttempts = m.cfg.MaxReconnects
	}

	return &wsConnection{
		url:        m.connectionURL(),
		dialer:     m.dialer,
		authorizer: m.auth,
		heartbeat:  time.Duration(heartbeat) * time.Second,
		subs:       make(map[string]map[int]Handler),
		recon: reconnector{
			baseDelay:   time.Duration(baseMS) * time.Millisecond,
			maxDelay:    time.Duration(maxMS) * time.Millisecond,
			maxAttempts: maxAttempts,
		},
	}
}

// connectionURL 組裝 websocket 端點.
func (m *Manager) connectionURL() string {
	host := m.cfg.Host
	if host == "" {
		host = fmt.Sprintf("ws-%s.pusher.com", m.cfg.Cluster)
	}
	return fmt.Sprintf("wss://%s/app/%s?protocol=7", host, m.cfg.Key)
}

// Disconnect 拆除連線，冪等（未建立過也可安全呼叫）.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsConnected 檢查是否已連線.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil && m.conn.Connected()
}

// noopConn 配置缺失時的 null-object 連線.
// 訂閱回傳可安全 Cancel 的空句柄，下游不需要分支判斷.
type noopConn struct{}

func (noopConn) Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	return &Subscription{channel: channel}, nil
}

func (noopConn) SocketID() string { return "" }

func (noopConn) Connected() bool { return false }

func (noopConn) Close() error { return nil }
