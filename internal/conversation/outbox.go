package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// 樂觀訊息狀態常數.
const (
	OptimisticStatusSending = "sending"
	OptimisticStatusFailed  = "failed"
)

// TempIDPrefix 樂觀訊息的臨時 ID 前綴.
// 與伺服器的數字 ID 空間不可能衝突（渲染 key 可以混用）.
const TempIDPrefix = "tmp-"

// OptimisticMessage 本地持有的暫態訊息.
// 生命週期：Enqueue 後為 sending → 伺服器確認後移除（真實 Message
// 經由 store 進入）→ 失敗時轉為 failed，保持可見直到用戶重試或離開，
// 不自動重試也不靜默丟棄.
type OptimisticMessage struct {
	TempID         string
	ClientRef      string // 送往伺服器的關聯鍵（伺服器支援時回傳）
	Content        string
	Type           string
	AttachmentRefs []string
	Status         string
	EnqueuedAt     time.Time
}

// Outbox 樂觀發送隊列.
// 每個在途的用戶動作一個條目；多個快速發送產生多個獨立條目，
// 各自以 TempID 追蹤，resolve / fail 互不影響.
type Outbox struct {
	mu      sync.Mutex
	entries []*OptimisticMessage // 保持入列順序
}

// NewOutbox 創建空的發送隊列.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Enqueue 插入 sending 狀態的條目並立即回傳 tempID（非阻塞）.
func (o *Outbox) Enqueue(content, msgType string, attachmentRefs []string) string {
	entry := &OptimisticMessage{
		TempID:         TempIDPrefix + uuid.New().String(),
		ClientRef:      uuid.New().String(),
		Content:        content,
		Type:           msgType,
		AttachmentRefs: attachmentRefs,
		Status:         OptimisticStatusSending,
		EnqueuedAt:     time.Now(),
	}

	o.mu.Lock()
	o.entries = append(o.entries, entry)
	o.mu.Unlock()

	return entry.TempID
}

// ClientRef 回傳條目的關聯鍵，找不到時回傳空字串.
func (o *Outbox) ClientRef(tempID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.entries {
		if e.TempID == tempID {
			return e.ClientRef
		}
	}
	return ""
}

// Resolve 移除條目（權威 Message 已確認存在於 store）.
func (o *Outbox) Resolve(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, e := range o.entries {
		if e.TempID == tempID {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Fail 將條目轉為 failed，不移除.
func (o *Outbox) Fail(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range o.entries {
		if e.TempID == tempID {
			e.Status = OptimisticStatusFailed
			return true
		}
	}
	return false
}

// MatchByClientRef 以關聯鍵尋找 sending 條目.
func (o *Outbox) MatchByClientRef(clientRef string) (string, bool) {
	if clientRef == "" {
		return "", false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range o.entries {
		if e.Status == OptimisticStatusSending && e.ClientRef == clientRef {
			return e.TempID, true
		}
	}
	return "", false
}

// MatchOldestSending 以內容匹配最早的 sending 條目.
// 伺服器不回傳關聯鍵時的啟發式：即時事件先於 HTTP 回應到達時，
// 用內容加入列順序對應回樂觀條目.
func (o *Outbox) MatchOldestSending(content string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range o.entries {
		if e.Status == OptimisticStatusSending && e.Content == content {
			return e.TempID, true
		}
	}
	return "", false
}

// Snapshot 回傳條目的淺拷貝，保持入列順序.
func (o *Outbox) Snapshot() []OptimisticMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]OptimisticMessage, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, *e)
	}
	return out
}

// Len 回傳條目數.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
