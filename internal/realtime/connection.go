package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"chat-sync/internal/api"
	"chat-sync/internal/platform/logger"

	"nhooyr.io/websocket"
)

// Authorizer 私有頻道授權器.
// 簽名由伺服器端點完成（POST /broadcasting/auth），客戶端只傳遞
// socket_id 與頻道名稱，不持有任何密鑰.
type Authorizer interface {
	AuthorizeChannel(ctx context.Context, socketID, channelName string) (*api.ChannelAuth, error)
}

// PrivateChannelPrefix 私有頻道前綴，訂閱前需要授權.
const PrivateChannelPrefix = "private-"

// ConversationChannel 回傳對話的私有頻道名稱.
func ConversationChannel(conversationID int64) string {
	return fmt.Sprintf("%sconversation.%d", PrivateChannelPrefix, conversationID)
}

// wsSocket nhooyr websocket 的 Socket 實作.
type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *wsSocket) WriteMessage(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// DialWebsocket 預設的 websocket Dialer.
func DialWebsocket(ctx context.Context, url string) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial 失敗: %w", err)
	}
	return &wsSocket{conn: conn}, nil
}

// reconnector 重連退避計算.
// 指數退避加抖動；連線穩定超過一分鐘後重置嘗試計數.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// Subscription 頻道訂閱句柄.
type Subscription struct {
	channel string
	id      int
	conn    *wsConnection
	once    sync.Once
}

// Channel 回傳訂閱的頻道名稱.
func (s *Subscription) Channel() string {
	return s.channel
}

// Cancel 取消訂閱，冪等.
// 頻道最後一個訂閱取消時向伺服器發送 unsubscribe.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.conn != nil {
			s.conn.removeSubscription(s)
		}
	})
}

// wsConnection Connection 的 websocket 實作.
type wsConnection struct {
	url        string
	dialer     Dialer
	authorizer Authorizer
	heartbeat  time.Duration

	mu       sync.RWMutex
	sock     Socket
	socketID string
	closed   bool
	cancelFn context.CancelFunc

	subMu   sync.RWMutex
	subs    map[string]map[int]Handler // channel -> sub id -> handler
	nextSub int

	recon reconnector
}

// connect 撥號並等待 connection_established.
func (c *wsConnection) connect(ctx context.Context) error {
	sock, err := c.dialer(ctx, c.url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRealtime, err)
	}

	// 第一個訊框必須是 connection_established，攜帶 socket_id
	data, err := sock.ReadMessage(ctx)
	if err != nil {
		sock.Close()
		return fmt.Errorf("%w: 讀取握手失敗: %v", ErrRealtime, err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil || ev.Event != EventConnectionEstablished {
		sock.Close()
		return fmt.Errorf("%w: 未收到 connection_established", ErrRealtime)
	}

	var established struct {
		SocketID string `json:"socket_id"`
	}
	if err := json.Unmarshal(ev.Data, &established); err != nil || established.SocketID == "" {
		sock.Close()
		return fmt.Errorf("%w: 握手缺少 socket_id", ErrRealtime)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.sock = sock
	c.socketID = established.SocketID
	c.cancelFn = cancel
	c.mu.Unlock()

	c.recon.markConnected()

	go c.readLoop(loopCtx)
	go c.heartbeatLoop(loopCtx)

	return nil
}

// SocketID 回傳連線的臨時 session ID.
func (c *wsConnection) SocketID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.socketID
}

// Connected 回傳連線是否存活.
func (c *wsConnection) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sock != nil && !c.closed
}

// Subscribe 訂閱頻道.
func (c *wsConnection) Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	auth, err := c.authorize(ctx, channel)
	if err != nil {
		return nil, err
	}

	if err := c.sendSubscribe(ctx, channel, auth); err != nil {
		return nil, err
	}

	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[int]Handler)
	}
	c.subs[channel][id] = h
	c.subMu.Unlock()

	return &Subscription{channel: channel, id: id, conn: c}, nil
}

// authorize 私有頻道取得簽名授權；公開頻道回傳 nil.
func (c *wsConnection) authorize(ctx context.Context, channel string) (*api.ChannelAuth, error) {
	if !strings.HasPrefix(channel, PrivateChannelPrefix) {
		return nil, nil
	}
	if c.authorizer == nil {
		return nil, fmt.Errorf("%w: 私有頻道缺少授權器", ErrRealtime)
	}

	auth, err := c.authorizer.AuthorizeChannel(ctx, c.SocketID(), channel)
	if err != nil {
		return nil, fmt.Errorf("%w: 頻道授權失敗: %v", ErrRealtime, err)
	}
	return auth, nil
}

func (c *wsConnection) sendSubscribe(ctx context.Context, channel string, auth *api.ChannelAuth) error {
	payload := map[string]string{"channel": channel}
	if auth != nil {
		payload["auth"] = auth.Auth
		if auth.ChannelData != "" {
			payload["channel_data"] = auth.ChannelData
		}
	}
	return c.send(ctx, EventSubscribe, payload)
}

func (c *wsConnection) send(ctx context.Context, event string, payload interface{}) error {
	c.mu.RLock()
	sock := c.sock
	c.mu.RUnlock()

	if sock == nil {
		return fmt.Errorf("%w: 未連線", ErrRealtime)
	}

	data, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data":  payload,
	})
	if err != nil {
		return err
	}
	if err := sock.WriteMessage(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrRealtime, err)
	}
	return nil
}

// removeSubscription 移除訂閱，頻道清空時發送 unsubscribe.
func (c *wsConnection) removeSubscription(s *Subscription) {
	c.subMu.Lock()
	handlers := c.subs[s.channel]
	delete(handlers, s.id)
	last := len(handlers) == 0
	if last {
		delete(c.subs, s.channel)
	}
	c.subMu.Unlock()

	if last && c.Connected() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// 盡力而為；連線可能已經斷開
		_ = c.send(ctx, EventUnsubscribe, map[string]string{"channel": s.channel})
	}
}

// readLoop 接收訊框並依接收順序同步派發.
// 同步派發維持事件到達順序，讓下游的合併保持可重入.
func (c *wsConnection) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		sock := c.sock
		c.mu.RUnlock()
		if sock == nil {
			return
		}

		data, err := sock.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return
			}
			// 脫離本次連線的 context：teardown 會取消它，
			// 重連流程必須在連線之外的生命週期執行
			go c.reconnect()
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warning(ctx, "丟棄無法解析的即時訊框")
			continue
		}

		switch ev.Event {
		case EventPong, EventSubscriptionSucceeded:
			// 協議層事件，不派發
			continue
		}

		c.dispatch(ev)
	}
}

// dispatch 將事件派發給頻道的所有訂閱.
func (c *wsConnection) dispatch(ev Event) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[ev.Channel]))
	for _, h := range c.subs[ev.Channel] {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// heartbeatLoop 定期發送 ping 保持連線.
func (c *wsConnection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(ctx, EventPing, map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return
			}
		}
	}
}

// reconnect 斷線後指數退避重連並重新訂閱既有頻道.
// 重連徹底失敗時即時更新靜默停止（fail closed），不影響其他功能.
func (c *wsConnection) reconnect() {
	ctx := context.Background()
	c.teardownSocket()

	for c.recon.shouldReconnect() {
		delay := c.recon.nextDelay()
		logger.Warning(ctx, "即時連線中斷，準備重連",
			logger.WithDetails(map[string]interface{}{
				"attempt":  c.recon.attempt,
				"delay_ms": delay.Milliseconds(),
			}))

		time.Sleep(delay)

		if c.isClosed() {
			return
		}

		if err := c.connect(ctx); err != nil {
			continue
		}

		c.resubscribeAll()
		return
	}

	logger.Error(ctx, "即時連線重連失敗，即時更新停用")
}

// resubscribeAll 重連後重新訂閱所有頻道.
func (c *wsConnection) resubscribeAll() {
	c.subMu.RLock()
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.subMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, ch := range channels {
		auth, err := c.authorize(ctx, ch)
		if err != nil {
			logger.Warning(ctx, "重新訂閱授權失敗", logger.WithDetails(map[string]interface{}{"channel": ch}))
			continue
		}
		if err := c.sendSubscribe(ctx, ch, auth); err != nil {
			logger.Warning(ctx, "重新訂閱失敗", logger.WithDetails(map[string]interface{}{"channel": ch}))
		}
	}
}

func (c *wsConnection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// teardownSocket 關閉底層 socket，保留訂閱表供重連使用.
func (c *wsConnection) teardownSocket() {
	c.mu.Lock()
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}
}

// Close 關閉連線，冪等.
func (c *wsConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.teardownSocket()

	c.subMu.Lock()
	c.subs = make(map[string]map[int]Handler)
	c.subMu.Unlock()

	return nil
}
