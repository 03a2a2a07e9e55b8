package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chat-sync/internal/api"
	"chat-sync/internal/appointment"
	"chat-sync/internal/realtime"
)

// fakeAPI 可控的 MessageAPI 實作
type fakeAPI struct {
	mu          sync.Mutex
	currentUser int64
	conv        *api.Conversation
	pages       map[int64]*api.MessagePage // beforeID -> 頁面（0 為最新頁）
	listErr     error
	listBlock      chan struct{} // 非 nil 時 ListMessages 阻塞直到關閉
	blockPagedOnly bool          // 只阻塞帶游標的分頁抓取
	listCalls      int32

	createCalls   int32
	createdReqs   []*api.CreateMessageRequest
	createFn      func(req *api.CreateMessageRequest) (*api.Message, error)
	convCalls     int32
	markReadCalls int32
	markReadErr   error
}

func (f *fakeAPI) CreateConversation(ctx context.Context, counterpartID int64) (*api.Conversation, error) {
	atomic.AddInt32(&f.convCalls, 1)
	return f.conv, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, conversationID, beforeID int64, limit int) (*api.MessagePage, error) {
	atomic.AddInt32(&f.listCalls, 1)
	if f.listBlock != nil && (!f.blockPagedOnly || beforeID > 0) {
		<-f.listBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	page, ok := f.pages[beforeID]
	if !ok {
		return &api.MessagePage{Conversation: f.conv}, nil
	}
	return page, nil
}

func (f *fakeAPI) CreateMessage(ctx context.Context, req *api.CreateMessageRequest) (*api.Message, error) {
	atomic.AddInt32(&f.createCalls, 1)
	f.mu.Lock()
	f.createdReqs = append(f.createdReqs, req)
	fn := f.createFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &api.Message{
		ID:             int64(100 + atomic.LoadInt32(&f.createCalls)),
		ConversationID: req.ConversationID,
		SenderID:       f.currentUser,
		Content:        req.Content,
		Type:           req.Type,
		ClientRef:      req.ClientRef,
		CreatedAt:      time.Now(),
	}, nil
}

func (f *fakeAPI) MarkConversationRead(ctx context.Context, conversationID int64) error {
	atomic.AddInt32(&f.markReadCalls, 1)
	return f.markReadErr
}

func (f *fakeAPI) CurrentUserID() int64 {
	return f.currentUser
}

// fakeConnProvider 記錄訂閱 handler 的 ConnectionProvider
type fakeConnProvider struct {
	mu       sync.Mutex
	handlers map[string]realtime.Handler
	subErr   error
}

func newFakeConnProvider() *fakeConnProvider {
	return &fakeConnProvider{handlers: make(map[string]realtime.Handler)}
}

func (f *fakeConnProvider) Get(ctx context.Context) realtime.Connection {
	return fakeConn{provider: f}
}

// emit 模擬伺服器推送頻道事件
func (f *fakeConnProvider) emit(channel string, ev realtime.Event) {
	f.mu.Lock()
	h := f.handlers[channel]
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

type fakeConn struct {
	provider *fakeConnProvider
}

func (c fakeConn) Subscribe(ctx context.Context, channel string, h realtime.Handler) (*realtime.Subscription, error) {
	if c.provider.subErr != nil {
		return nil, c.provider.subErr
	}
	c.provider.mu.Lock()
	c.provider.handlers[channel] = h
	c.provider.mu.Unlock()
	return &realtime.Subscription{}, nil
}

func (c fakeConn) SocketID() string { return "fake.socket" }
func (c fakeConn) Connected() bool  { return true }
func (c fakeConn) Close() error     { return nil }

func messageEvent(t *testing.T, msg api.Message) realtime.Event {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("序列化訊息失敗: %v", err)
	}
	return realtime.Event{
		Channel: realtime.ConversationChannel(msg.ConversationID),
		Event:   realtime.EventMessageCreated,
		Data:    data,
	}
}

// buildPages 把由舊到新的訊息切成伺服器分頁（每頁由新到舊）
func buildPages(conv *api.Conversation, messages []api.Message, pageSize int) map[int64]*api.MessagePage {
	pages := make(map[int64]*api.MessagePage)

	newestFirst := make([]api.Message, len(messages))
	for i, m := range messages {
		newestFirst[len(messages)-1-i] = m
	}

	beforeID := int64(0)
	for start := 0; start < len(newestFirst); start += pageSize {
		end := start + pageSize
		if end > len(newestFirst) {
			end = len(newestFirst)
		}
		chunk := newestFirst[start:end]
		pages[beforeID] = &api.MessagePage{
			Conversation: conv,
			Messages:     chunk,
			HasMore:      end < len(newestFirst),
		}
		beforeID = chunk[len(chunk)-1].ID
	}
	return pages
}

// TestStoreLoadAndFetchMore 測試初始載入最新一頁後向後分頁補齊全部歷史
func TestStoreLoadAndFetchMore(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	conv := &api.Conversation{ID: 7, Participant: &api.Participant{ID: 2, Name: "artist"}}

	var all []api.Message
	for i := 1; i <= 30; i++ {
		all = append(all, api.Message{
			ID:             int64(i),
			ConversationID: 7,
			SenderID:       2,
			RecipientID:    1,
			Content:        "msg",
			Type:           api.MessageTypeText,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}

	client := &fakeAPI{
		currentUser: 1,
		conv:        conv,
		pages:       buildPages(conv, all, 20),
	}
	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 20 {
		t.Fatalf("初始載入應有 20 筆訊息，實際 %d", len(snap.Messages))
	}
	if snap.Messages[0].ID != 11 || snap.Messages[19].ID != 30 {
		t.Errorf("初始頁應為 11..30，實際 %d..%d", snap.Messages[0].ID, snap.Messages[19].ID)
	}
	if !snap.HasMore {
		t.Error("還有更舊的訊息，HasMore 應為 true")
	}

	if err := s.FetchMore(context.Background()); err != nil {
		t.Fatalf("分頁失敗: %v", err)
	}

	snap = s.Snapshot()
	if len(snap.Messages) != 30 {
		t.Fatalf("分頁後應有 30 筆訊息，實際 %d", len(snap.Messages))
	}
	for i, m := range snap.Messages {
		if m.ID != int64(i+1) {
			t.Fatalf("位置 %d 應為 ID %d，實際 %d", i, i+1, m.ID)
		}
	}
	if snap.HasMore {
		t.Error("歷史已補齊，HasMore 應為 false")
	}

	// 沒有更舊訊息時 FetchMore 為 no-op
	if err := s.FetchMore(context.Background()); err != nil {
		t.Fatalf("no-op 分頁不應失敗: %v", err)
	}
	if got := len(s.Snapshot().Messages); got != 30 {
		t.Errorf("no-op 分頁不應改變訊息數，實際 %d", got)
	}
}

// TestStoreFetchMoreOverlapNoDuplicates 測試重疊頁面合併後無重複
func TestStoreFetchMoreOverlapNoDuplicates(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	conv := &api.Conversation{ID: 7}

	newest := &api.MessagePage{
		Conversation: conv,
		Messages: []api.Message{
			msgAt(5, base.Add(5*time.Minute)),
			msgAt(4, base.Add(4*time.Minute)),
			msgAt(3, base.Add(3*time.Minute)),
		},
		HasMore: true,
	}
	// 訊息在兩次抓取之間被插入，游標頁與既有內容重疊
	older := &api.MessagePage{
		Conversation: conv,
		Messages: []api.Message{
			msgAt(4, base.Add(4*time.Minute)),
			msgAt(3, base.Add(3*time.Minute)),
			msgAt(2, base.Add(2*time.Minute)),
			msgAt(1, base.Add(time.Minute)),
		},
		HasMore: false,
	}

	client := &fakeAPI{
		currentUser: 1,
		conv:        conv,
		pages:       map[int64]*api.MessagePage{0: newest, 3: older},
	}
	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}
	if err := s.FetchMore(context.Background()); err != nil {
		t.Fatalf("分頁失敗: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 5 {
		t.Fatalf("合併後應有 5 筆訊息，實際 %d", len(snap.Messages))
	}
	seen := make(map[int64]bool)
	for _, m := range snap.Messages {
		if seen[m.ID] {
			t.Errorf("發現重複 ID: %d", m.ID)
		}
		seen[m.ID] = true
	}
}

// TestStoreFetchMorePendingIsIdempotent 測試分頁在途時重複呼叫不發出重複請求
func TestStoreFetchMorePendingIsIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	conv := &api.Conversation{ID: 7}
	client := &fakeAPI{
		currentUser:    1,
		conv:           conv,
		listBlock:      make(chan struct{}),
		blockPagedOnly: true,
		pages: map[int64]*api.MessagePage{
			0: {Conversation: conv, Messages: []api.Message{msgAt(2, base.Add(time.Minute))}, HasMore: true},
			2: {Conversation: conv, Messages: []api.Message{msgAt(1, base)}, HasMore: false},
		},
	}

	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = s.FetchMore(context.Background())
		close(done)
	}()

	// 等第一個分頁請求進入在途狀態
	for atomic.LoadInt32(&client.listCalls) < 2 {
		time.Sleep(time.Millisecond)
	}

	// 在途時的重複呼叫應為 no-op
	if err := s.FetchMore(context.Background()); err != nil {
		t.Fatalf("重複呼叫不應失敗: %v", err)
	}

	close(client.listBlock)
	<-done

	if n := atomic.LoadInt32(&client.listCalls); n != 2 {
		t.Errorf("應共發出 2 次抓取（載入 + 一次分頁），實際 %d 次", n)
	}
	if got := len(s.Snapshot().Messages); got != 2 {
		t.Errorf("合併後應有 2 筆訊息，實際 %d", got)
	}
}

// TestStoreSendSuccess 測試發送成功後樂觀條目解決、權威訊息進入列表
func TestStoreSendSuccess(t *testing.T) {
	conv := &api.Conversation{ID: 7}
	client := &fakeAPI{currentUser: 1, conv: conv, pages: map[int64]*api.MessagePage{
		0: {Conversation: conv},
	}}
	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	tempID, err := s.Send(context.Background(), "hello", api.MessageTypeText, nil)
	if err != nil {
		t.Fatalf("發送失敗: %v", err)
	}
	if tempID == "" {
		t.Fatal("發送應回傳臨時 ID")
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("權威訊息應進入列表，實際 %d 筆", len(snap.Messages))
	}
	if snap.Messages[0].Content != "hello" {
		t.Errorf("訊息內容錯誤: %q", snap.Messages[0].Content)
	}
	if len(snap.Pending) != 0 {
		t.Errorf("樂觀條目應已解決，實際剩 %d 筆", len(snap.Pending))
	}
}

// TestStoreSendRealtimeArrivesFirst 測試即時事件先於 HTTP 回應到達：
// 訊息只出現一次，樂觀條目以關聯鍵解決
func TestStoreSendRealtimeArrivesFirst(t *testing.T) {
	conv := &api.Conversation{ID: 7}
	provider := newFakeConnProvider()
	client := &fakeAPI{currentUser: 1, conv: conv, pages: map[int64]*api.MessagePage{
		0: {Conversation: conv},
	}}

	s := NewStore(client, provider, NewResolverWithID(7))

	// HTTP 回應前先推送相同訊息的即時事件
	client.createFn = func(req *api.CreateMessageRequest) (*api.Message, error) {
		msg := api.Message{
			ID:             101,
			ConversationID: 7,
			SenderID:       1,
			RecipientID:    2,
			Content:        req.Content,
			Type:           req.Type,
			ClientRef:      req.ClientRef,
			CreatedAt:      time.Now(),
		}
		provider.emit(realtime.ConversationChannel(7), messageEvent(t, msg))
		return &msg, nil
	}

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}
	if _, err := s.Send(context.Background(), "hello", api.MessageTypeText, nil); err != nil {
		t.Fatalf("發送失敗: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("訊息應只出現一次，實際 %d 筆", len(snap.Messages))
	}
	if len(snap.Pending) != 0 {
		t.Errorf("樂觀條目應已解決，實際剩 %d 筆", len(snap.Pending))
	}
}

// TestStoreSendFailure 測試發送失敗：條目轉為 failed 且保持可見
func TestStoreSendFailure(t *testing.T) {
	conv := &api.Conversation{ID: 7}
	client := &fakeAPI{currentUser: 1, conv: conv, pages: map[int64]*api.MessagePage{
		0: {Conversation: conv},
	}}
	client.createFn = func(req *api.CreateMessageRequest) (*api.Message, error) {
		return nil, errors.New("server unavailable")
	}

	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	tempID, err := s.Send(context.Background(), "hello", api.MessageTypeText, nil)
	if !errors.Is(err, ErrSend) {
		t.Fatalf("應回傳 ErrSend，實際: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("失敗的發送不應進入訊息列表，實際 %d 筆", len(snap.Messages))
	}
	if len(snap.Pending) != 1 {
		t.Fatalf("failed 條目應保持可見，實際 %d 筆", len(snap.Pending))
	}
	if snap.Pending[0].TempID != tempID || snap.Pending[0].Status != OptimisticStatusFailed {
		t.Errorf("條目應為 failed 的 %q，實際 %q (%s)",
			tempID, snap.Pending[0].TempID, snap.Pending[0].Status)
	}
}

// TestStoreSendValidation 測試發送前的本地驗證
func TestStoreSendValidation(t *testing.T) {
	client := &fakeAPI{currentUser: 1, conv: &api.Conversation{ID: 7}}
	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))

	if _, err := s.Send(context.Background(), "   ", api.MessageTypeText, nil); !errors.Is(err, ErrSend) {
		t.Errorf("空白內容應回傳 ErrSend，實際: %v", err)
	}
	if n := atomic.LoadInt32(&client.createCalls); n != 0 {
		t.Errorf("驗證失敗不應發出請求，實際 %d 次", n)
	}
}

// TestStoreLazyResolutionQueuesSends 測試對話 ID 未解析時的快速連續發送：
// 只發出一次 create-or-fetch，兩筆訊息都送往解析出的對話
func TestStoreLazyResolutionQueuesSends(t *testing.T) {
	conv := &api.Conversation{ID: 7}
	client := &fakeAPI{currentUser: 1, conv: conv}
	s := NewStore(client, newFakeConnProvider(), NewResolver(client, 2))

	var wg sync.WaitGroup
	for _, content := range []string{"first", "second"} {
		wg.Add(1)
		go func(content string) {
			defer wg.Done()
			if _, err := s.Send(context.Background(), content, api.MessageTypeText, nil); err != nil {
				t.Errorf("發送 %q 失敗: %v", content, err)
			}
		}(content)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&client.convCalls); n != 1 {
		t.Errorf("應只發出一次 create-or-fetch，實際 %d 次", n)
	}
	if n := atomic.LoadInt32(&client.createCalls); n != 2 {
		t.Errorf("應發出兩次訊息創建，實際 %d 次", n)
	}
	for _, req := range client.createdReqs {
		if req.ConversationID != 7 {
			t.Errorf("訊息應送往對話 7，實際 %d", req.ConversationID)
		}
	}
	if got := len(s.Snapshot().Messages); got != 2 {
		t.Errorf("兩筆訊息都應進入列表，實際 %d", got)
	}
}

// TestStoreMarkAsRead 測試已讀標記只在當前用戶是接收者且有未讀時發出，
// 且重複呼叫為冪等 no-op
func TestStoreMarkAsRead(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	conv := &api.Conversation{ID: 7}

	read := base.Add(time.Minute)
	client := &fakeAPI{currentUser: 1, conv: conv, pages: map[int64]*api.MessagePage{
		0: {Conversation: conv, Messages: []api.Message{
			{ID: 3, ConversationID: 7, SenderID: 2, RecipientID: 1, Content: "unread", CreatedAt: base.Add(2 * time.Minute)},
			{ID: 2, ConversationID: 7, SenderID: 1, RecipientID: 2, Content: "mine", CreatedAt: base.Add(time.Minute)},
			{ID: 1, ConversationID: 7, SenderID: 2, RecipientID: 1, Content: "read", ReadAt: &read, CreatedAt: base},
		}},
	}}

	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	s.MarkAsRead(context.Background())
	if n := atomic.LoadInt32(&client.markReadCalls); n != 1 {
		t.Fatalf("應發出一次已讀標記，實際 %d 次", n)
	}

	// 本地 read_at 只做 null → timestamp 的轉換
	snap := s.Snapshot()
	for _, m := range snap.Messages {
		if m.RecipientID == 1 && m.ReadAt == nil {
			t.Errorf("訊息 %d 應已標記 read_at", m.ID)
		}
	}
	if snap.Messages[0].ReadAt == nil || !snap.Messages[0].ReadAt.Equal(read) {
		t.Error("既有的 read_at 不應被覆寫")
	}

	// 沒有未讀訊息時不再發出請求
	s.MarkAsRead(context.Background())
	if n := atomic.LoadInt32(&client.markReadCalls); n != 1 {
		t.Errorf("冪等呼叫不應再發請求，實際 %d 次", n)
	}
}

// TestStoreMarkAsReadSwallowsError 測試已讀標記失敗：記錄後吞掉，本地不變
func TestStoreMarkAsReadSwallowsError(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	conv := &api.Conversation{ID: 7}
	client := &fakeAPI{currentUser: 1, conv: conv, markReadErr: errors.New("server unavailable"),
		pages: map[int64]*api.MessagePage{
			0: {Conversation: conv, Messages: []api.Message{
				{ID: 1, ConversationID: 7, SenderID: 2, RecipientID: 1, Content: "unread", CreatedAt: base},
			}},
		}}

	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	s.MarkAsRead(context.Background())

	if got := s.Snapshot().Messages[0].ReadAt; got != nil {
		t.Error("標記失敗時本地 read_at 不應改變")
	}
}

// TestStoreCloseDiscardsLateResults 測試卸載後在途結果被丟棄而非套用
func TestStoreCloseDiscardsLateResults(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	conv := &api.Conversation{ID: 7}
	client := &fakeAPI{
		currentUser: 1,
		conv:        conv,
		listBlock:   make(chan struct{}),
		pages: map[int64]*api.MessagePage{
			0: {Conversation: conv, Messages: []api.Message{msgAt(1, base)}},
		},
	}

	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background()) }()

	s.Close()
	close(client.listBlock)

	if err := <-done; err != nil {
		t.Fatalf("卸載後的載入不應回報錯誤: %v", err)
	}
	if got := len(s.Snapshot().Messages); got != 0 {
		t.Errorf("卸載後在途結果應被丟棄，實際套用了 %d 筆", got)
	}
}

// TestStoreIgnoresForeignConversationEvents 測試其他對話的事件不進入列表
func TestStoreIgnoresForeignConversationEvents(t *testing.T) {
	conv := &api.Conversation{ID: 7}
	provider := newFakeConnProvider()
	client := &fakeAPI{currentUser: 1, conv: conv, pages: map[int64]*api.MessagePage{
		0: {Conversation: conv},
	}}

	s := NewStore(client, provider, NewResolverWithID(7))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	foreign := api.Message{ID: 55, ConversationID: 8, SenderID: 3, Content: "other", CreatedAt: time.Now()}
	ev := messageEvent(t, foreign)
	ev.Channel = realtime.ConversationChannel(7) // 即使頻道錯置也以 conversation_id 過濾
	provider.emit(realtime.ConversationChannel(7), ev)

	if got := len(s.Snapshot().Messages); got != 0 {
		t.Errorf("其他對話的事件不應進入列表，實際 %d 筆", got)
	}
}

// TestStoreRealtimeIncomingMessage 測試對方訊息經即時事件進入列表
func TestStoreRealtimeIncomingMessage(t *testing.T) {
	conv := &api.Conversation{ID: 7}
	provider := newFakeConnProvider()
	client := &fakeAPI{currentUser: 1, conv: conv, pages: map[int64]*api.MessagePage{
		0: {Conversation: conv},
	}}

	s := NewStore(client, provider, NewResolverWithID(7))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	incoming := api.Message{
		ID: 42, ConversationID: 7, SenderID: 2, RecipientID: 1,
		Content: "from artist", Type: api.MessageTypeText, CreatedAt: time.Now(),
	}
	provider.emit(realtime.ConversationChannel(7), messageEvent(t, incoming))

	snap := s.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != 42 {
		t.Fatalf("即時訊息應進入列表，實際 %d 筆", len(snap.Messages))
	}

	// 相同事件重複到達按 ID 去重
	provider.emit(realtime.ConversationChannel(7), messageEvent(t, incoming))
	if got := len(s.Snapshot().Messages); got != 1 {
		t.Errorf("重複事件應被去重，實際 %d 筆", got)
	}
}

// TestStoreSnapshotAppliesAppointmentOverride 測試快照套用預約狀態的本地覆蓋，
// 伺服器真值到達後覆蓋清除
func TestStoreSnapshotAppliesAppointmentOverride(t *testing.T) {
	conv := &api.Conversation{
		ID:          7,
		Appointment: &api.Appointment{ID: 3, Status: api.AppointmentStatusPending},
	}
	client := &fakeAPI{currentUser: 1, conv: conv, pages: map[int64]*api.MessagePage{
		0: {Conversation: conv},
	}}

	overrides := appointment.NewOverrides()
	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7), WithOverrides(overrides))

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	overrides.Set(3, api.AppointmentStatusBooked)

	snap := s.Snapshot()
	if snap.Conversation == nil || snap.Conversation.Appointment == nil {
		t.Fatal("快照應包含對話與預約")
	}
	if snap.Conversation.Appointment.Status != api.AppointmentStatusBooked {
		t.Errorf("快照應套用覆蓋 booked，實際 %q", snap.Conversation.Appointment.Status)
	}

	// 完整載入帶回伺服器真值，覆蓋清除
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("重新載入失敗: %v", err)
	}
	if _, ok := overrides.Get(3); ok {
		t.Error("伺服器真值到達後覆蓋應被清除")
	}
	snap = s.Snapshot()
	if snap.Conversation.Appointment.Status != api.AppointmentStatusPending {
		t.Errorf("覆蓋清除後應顯示伺服器狀態 pending，實際 %q", snap.Conversation.Appointment.Status)
	}
}

// TestStoreSubscribeFailureIsNonFatal 測試頻道訂閱失敗時載入照常成功，
// 即時更新靜默停止
func TestStoreSubscribeFailureIsNonFatal(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	conv := &api.Conversation{ID: 7}
	provider := newFakeConnProvider()
	provider.subErr = errors.New("auth rejected")

	client := &fakeAPI{currentUser: 1, conv: conv, pages: map[int64]*api.MessagePage{
		0: {Conversation: conv, Messages: []api.Message{msgAt(1, base)}},
	}}

	s := NewStore(client, provider, NewResolverWithID(7))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("訂閱失敗不應讓載入失敗: %v", err)
	}
	if got := len(s.Snapshot().Messages); got != 1 {
		t.Errorf("訊息仍應正常載入，實際 %d 筆", got)
	}
}

// TestStoreLoadFailureKeepsLastGood 測試載入失敗時保留最後已知良好狀態
func TestStoreLoadFailureKeepsLastGood(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	conv := &api.Conversation{ID: 7}
	client := &fakeAPI{currentUser: 1, conv: conv, pages: map[int64]*api.MessagePage{
		0: {Conversation: conv, Messages: []api.Message{msgAt(1, base)}},
	}}

	s := NewStore(client, newFakeConnProvider(), NewResolverWithID(7))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}

	client.mu.Lock()
	client.listErr = errors.New("server unavailable")
	client.mu.Unlock()

	if err := s.Load(context.Background()); !errors.Is(err, ErrFetch) {
		t.Fatalf("應回傳 ErrFetch，實際: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 1 {
		t.Errorf("失敗後應保留既有訊息，實際 %d 筆", len(snap.Messages))
	}
	if snap.Err == nil {
		t.Error("快照應帶有最後錯誤")
	}
}
