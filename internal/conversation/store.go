package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"chat-sync/internal/api"
	"chat-sync/internal/appointment"
	"chat-sync/internal/constants"
	"chat-sync/internal/platform/logger"
	"chat-sync/internal/realtime"
)

// MessageAPI Store 需要的 API 子集.
type MessageAPI interface {
	ConversationCreator
	ListMessages(ctx context.Context, conversationID, beforeID int64, limit int) (*api.MessagePage, error)
	CreateMessage(ctx context.Context, req *api.CreateMessageRequest) (*api.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int64) error
	CurrentUserID() int64
}

// Uploader 附件上傳協作者（圖片上傳 / 轉碼在外部完成）.
type Uploader interface {
	UploadImages(ctx context.Context, refs []string) ([]api.Attachment, error)
}

// ConnectionProvider 即時連線提供者（*realtime.Manager 滿足此接口）.
type ConnectionProvider interface {
	Get(ctx context.Context) realtime.Connection
}

// MessageCache 本地離線快取（可選；失敗只記錄不致命）.
type MessageCache interface {
	SaveMessages(ctx context.Context, messages []api.Message) error
	Recent(ctx context.Context, conversationID int64, limit int) ([]api.Message, error)
}

// Snapshot 渲染用的 store 快照.
// Messages 依 (created_at, id) 由舊到新；Pending 排在所有真實訊息之後
// （同一個 session 內發送不可能早於已確認的訊息）.
type Snapshot struct {
	Conversation *api.Conversation
	Messages     []api.Message
	Pending      []OptimisticMessage
	HasMore      bool
	Loading      bool
	Err          error
}

// Store 單一對話的訊息同步核心.
// 持有有序訊息列表、分頁游標、loading / hasMore 旗標與預約狀態覆蓋；
// 三個獨立事件來源（初始/分頁抓取、本地發送、即時訂閱）都經由
// mergeMessages 收斂，合併本身純粹且可重入.
type Store struct {
	api       MessageAPI
	uploader  Uploader
	conns     ConnectionProvider
	cache     MessageCache
	overrides *appointment.Overrides
	resolver  *Resolver
	outbox    *Outbox
	pageSize  int

	mu           sync.Mutex
	convID       int64
	conv         *api.Conversation
	messages     []api.Message
	hasMore      bool
	loaded       bool
	loading      bool
	fetchingMore bool
	closed       bool
	lastErr      error
	sub          *realtime.Subscription
}

// StoreOption store 選項.
type StoreOption func(*Store)

// WithUploader 注入附件上傳協作者.
func WithUploader(u Uploader) StoreOption {
	return func(s *Store) { s.uploader = u }
}

// WithCache 注入本地離線快取.
func WithCache(c MessageCache) StoreOption {
	return func(s *Store) { s.cache = c }
}

// WithOverrides 注入預約狀態覆蓋註冊表.
func WithOverrides(o *appointment.Overrides) StoreOption {
	return func(s *Store) { s.overrides = o }
}

// WithPageSize 覆蓋分頁大小.
func WithPageSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewStore 創建對話 store.
// resolver 決定對話 ID 的來源：已知 ID 立即可用，只有對方用戶 ID 時
// 第一個需要 ID 的操作會觸發解析，後續操作共用解析結果.
func NewStore(apiClient MessageAPI, conns ConnectionProvider, resolver *Resolver, opts ...StoreOption) *Store {
	s := &Store{
		api:      apiClient,
		conns:    conns,
		resolver: resolver,
		outbox:   NewOutbox(),
		pageSize: constants.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load 抓取最新一頁訊息與對話 metadata.
// 冪等：載入在途時重複呼叫不發出重複請求.
// 失敗時 store 保持最後已知良好狀態，有快取時以快取頁面墊底.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	id, err := s.resolver.Resolve(ctx)
	if err != nil {
		s.setErr(err)
		return err
	}

	page, err := s.api.ListMessages(ctx, id, 0, s.pageSize)
	if err != nil {
		fetchErr := fmt.Errorf("%w: %v", ErrFetch, err)
		s.setErr(fetchErr)
		s.loadFromCache(ctx, id)
		return fetchErr
	}

	s.mu.Lock()
	if s.closed {
		// UI 已卸載：丟棄結果，不套用
		s.mu.Unlock()
		return nil
	}
	s.convID = id
	s.messages = mergeMessages(s.messages, reversed(page.Messages))
	s.hasMore = page.HasMore
	s.loaded = true
	s.lastErr = nil
	if page.Conversation != nil {
		s.conv = page.Conversation
		// 伺服器真值到達，清除預約狀態的本地覆蓋
		if s.overrides != nil && page.Conversation.Appointment != nil {
			s.overrides.Clear(page.Conversation.Appointment.ID)
		}
	}
	s.mu.Unlock()

	s.saveToCache(ctx, page.Messages)
	s.subscribe(ctx, id)

	logger.Debug(ctx, "對話載入完成",
		logger.WithConversationID(fmt.Sprintf("%d", id)),
		logger.WithDetails(map[string]interface{}{
			"count":    len(page.Messages),
			"has_more": page.HasMore,
		}))
	return nil
}

// FetchMore 向後分頁：以最舊已載入訊息為游標抓取更舊的一頁.
// hasMore 為 false 或已有抓取在途時為 no-op；合併後保證無重複 ID.
func (s *Store) FetchMore(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || !s.loaded || !s.hasMore || s.fetchingMore || len(s.messages) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.fetchingMore = true
	beforeID := s.messages[0].ID
	id := s.convID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.fetchingMore = false
		s.mu.Unlock()
	}()

	page, err := s.api.ListMessages(ctx, id, beforeID, s.pageSize)
	if err != nil {
		fetchErr := fmt.Errorf("%w: %v", ErrFetch, err)
		s.setErr(fetchErr)
		return fetchErr
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.messages = mergeMessages(s.messages, reversed(page.Messages))
	s.hasMore = page.HasMore
	s.lastErr = nil
	s.mu.Unlock()

	s.saveToCache(ctx, page.Messages)
	return nil
}

// Send 發送訊息.
// 對話 ID 尚未解析時先等待解析（請求排隊，不失敗）；樂觀條目立即可見；
// 成功時權威 Message 經由 HTTP 回應或下一個即時事件進入 store，
// 先到者生效，後到者按 ID 去重丟棄；失敗時條目轉為 failed 並回傳錯誤.
func (s *Store) Send(ctx context.Context, content, msgType string, attachmentRefs []string) (string, error) {
	if strings.TrimSpace(content) == "" && len(attachmentRefs) == 0 {
		return "", fmt.Errorf("%w: 內容不能為空", ErrSend)
	}
	if len(content) > constants.DefaultMaxMessageLength {
		return "", fmt.Errorf("%w: 內容超過長度上限", ErrSend)
	}
	if msgType == "" {
		msgType = api.MessageTypeText
	}

	tempID := s.outbox.Enqueue(content, msgType, attachmentRefs)

	// 等待對話 ID——發送在解析完成前排隊，不失敗
	id, err := s.resolver.Resolve(ctx)
	if err != nil {
		s.outbox.Fail(tempID)
		return tempID, fmt.Errorf("%w: %v", ErrSend, err)
	}

	// 附件先上傳（外部協作者），取得伺服器附件 ID
	var attachmentIDs []int64
	if len(attachmentRefs) > 0 {
		if s.uploader == nil {
			s.outbox.Fail(tempID)
			return tempID, fmt.Errorf("%w: 未配置附件上傳", ErrSend)
		}
		attachments, err := s.uploader.UploadImages(ctx, attachmentRefs)
		if err != nil {
			s.outbox.Fail(tempID)
			return tempID, fmt.Errorf("%w: 附件上傳失敗: %v", ErrSend, err)
		}
		for _, a := range attachments {
			attachmentIDs = append(attachmentIDs, a.ID)
		}
	}

	msg, err := s.api.CreateMessage(ctx, &api.CreateMessageRequest{
		ConversationID: id,
		Content:        content,
		Type:           msgType,
		AttachmentIDs:  attachmentIDs,
		ClientRef:      s.outbox.ClientRef(tempID),
	})
	if err != nil {
		s.outbox.Fail(tempID)
		logger.Warning(ctx, "訊息發送失敗",
			logger.WithConversationID(fmt.Sprintf("%d", id)),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return tempID, fmt.Errorf("%w: %v", ErrSend, err)
	}

	// HTTP 回應與即時事件誰先到誰生效：這裡無條件合併（按 ID 去重），
	// 並解決樂觀條目（即時事件已經解決過時是冪等 no-op）
	s.ingest(ctx, *msg)
	s.outbox.Resolve(tempID)

	return tempID, nil
}

// MarkAsRead 批量標記對話已讀.
// 只在當前用戶是接收者且有未讀訊息時發出請求；重複呼叫是冪等 no-op.
// 失敗記錄後吞掉——未讀徽章的偏差不是業務關鍵.
func (s *Store) MarkAsRead(ctx context.Context) {
	currentUser := s.api.CurrentUserID()

	s.mu.Lock()
	if s.closed || !s.loaded {
		s.mu.Unlock()
		return
	}
	id := s.convID
	unread := false
	for _, m := range s.messages {
		if m.RecipientID == currentUser && m.ReadAt == nil {
			unread = true
			break
		}
	}
	s.mu.Unlock()

	if !unread {
		return
	}

	if err := s.api.MarkConversationRead(ctx, id); err != nil {
		logger.Warning(ctx, "標記已讀失敗",
			logger.WithConversationID(fmt.Sprintf("%d", id)),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return
	}

	// read_at 單調：只做 null → timestamp 的轉換
	now := time.Now()
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].RecipientID == currentUser && s.messages[i].ReadAt == nil {
			t := now
			s.messages[i].ReadAt = &t
		}
	}
	s.mu.Unlock()
}

// subscribe 訂閱對話的私有頻道（一次）.
func (s *Store) subscribe(ctx context.Context, conversationID int64) {
	s.mu.Lock()
	if s.sub != nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	conn := s.conns.Get(ctx)
	sub, err := conn.Subscribe(ctx, realtime.ConversationChannel(conversationID), s.handleEvent)
	if err != nil {
		// fail closed：即時更新靜默停止，手動刷新 / 輪詢仍可運作
		logger.Warning(ctx, "對話頻道訂閱失敗",
			logger.WithConversationID(fmt.Sprintf("%d", conversationID)),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Cancel()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// handleEvent 即時事件入口.
func (s *Store) handleEvent(ev realtime.Event) {
	if ev.Event != realtime.EventMessageCreated {
		return
	}

	var msg api.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		logger.Warning(context.Background(), "丟棄無法解析的訊息事件")
		return
	}

	s.ingest(context.Background(), msg)
}

// ingest 將權威訊息合併進 store.
// 自己先前的樂觀發送（以 client_ref 精確匹配，伺服器不回傳時退回
// 內容+入列順序啟發式——臨時 ID 從不送往伺服器）解決對應條目，
// 而不是產生可見的重複.
func (s *Store) ingest(ctx context.Context, msg api.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.convID != 0 && msg.ConversationID != s.convID {
		s.mu.Unlock()
		return
	}
	duplicate := containsID(s.messages, msg.ID)
	if !duplicate {
		s.messages = mergeMessages(s.messages, []api.Message{msg})
	}
	s.mu.Unlock()

	if duplicate {
		return
	}

	// 自己的發送：解決對應的樂觀條目
	if msg.SenderID == s.api.CurrentUserID() {
		if tempID, ok := s.outbox.MatchByClientRef(msg.ClientRef); ok {
			s.outbox.Resolve(tempID)
		} else if tempID, ok := s.outbox.MatchOldestSending(msg.Content); ok {
			s.outbox.Resolve(tempID)
		}
	}

	s.saveToCache(ctx, []api.Message{msg})
}

// Snapshot 回傳渲染快照，套用預約狀態的本地覆蓋.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]api.Message, len(s.messages))
	copy(messages, s.messages)

	var conv *api.Conversation
	if s.conv != nil {
		c := *s.conv
		if s.overrides != nil {
			c.Appointment = s.overrides.Apply(c.Appointment)
		}
		conv = &c
	}

	return Snapshot{
		Conversation: conv,
		Messages:     messages,
		Pending:      s.outbox.Snapshot(),
		HasMore:      s.hasMore,
		Loading:      s.loading,
		Err:          s.lastErr,
	}
}

// Outbox 回傳樂觀發送隊列（重試 UI 用）.
func (s *Store) Outbox() *Outbox {
	return s.outbox
}

// Close 標記 store 已卸載並取消頻道訂閱.
// 在途請求的結果之後到達時會被丟棄，而不是套用（不隱式取消網路請求）.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

// setErr 記錄最後錯誤（store 其餘狀態保持最後已知良好）.
func (s *Store) setErr(err error) {
	s.mu.Lock()
	if !s.closed {
		s.lastErr = err
	}
	s.mu.Unlock()
}

// loadFromCache 初始抓取失敗時以快取頁面墊底（盡力而為）.
func (s *Store) loadFromCache(ctx context.Context, conversationID int64) {
	if s.cache == nil {
		return
	}

	cached, err := s.cache.Recent(ctx, conversationID, s.pageSize)
	if err != nil || len(cached) == 0 {
		return
	}

	s.mu.Lock()
	if !s.closed && len(s.messages) == 0 {
		s.messages = mergeMessages(nil, cached)
	}
	s.mu.Unlock()

	logger.Info(ctx, "以離線快取墊底對話",
		logger.WithConversationID(fmt.Sprintf("%d", conversationID)),
		logger.WithDetails(map[string]interface{}{"count": len(cached)}))
}

// saveToCache 寫入快取（盡力而為，失敗只記錄）.
func (s *Store) saveToCache(ctx context.Context, messages []api.Message) {
	if s.cache == nil || len(messages) == 0 {
		return
	}
	if err := s.cache.SaveMessages(ctx, messages); err != nil {
		logger.Warning(ctx, "寫入離線快取失敗",
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}
}
