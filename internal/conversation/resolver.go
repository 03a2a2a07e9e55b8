package conversation

import (
	"context"
	"fmt"
	"sync"

	"chat-sync/internal/api"
	"chat-sync/internal/platform/logger"
)

// ConversationCreator Resolver 需要的 API 子集.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, counterpartID int64) (*api.Conversation, error)
}

// Resolver 對話 ID 解析器.
// 已知 ID 時立即回傳；只有對方用戶 ID 時向後端發出 create-or-fetch，
// 整個生命週期最多一次在途請求，併發呼叫共用同一個 pending 結果
// （不會重複發出 create 呼叫）.
type Resolver struct {
	creator       ConversationCreator
	counterpartID int64

	mu      sync.Mutex
	id      int64
	conv    *api.Conversation
	pending chan struct{} // 解析完成時關閉
	err     error
}

// NewResolver 以對方用戶 ID 創建解析器，第一次 Resolve 時才發出請求.
func NewResolver(creator ConversationCreator, counterpartID int64) *Resolver {
	return &Resolver{
		creator:       creator,
		counterpartID: counterpartID,
	}
}

// NewResolverWithID 以已知對話 ID 創建解析器，Resolve 立即回傳.
func NewResolverWithID(conversationID int64) *Resolver {
	return &Resolver{id: conversationID}
}

// Resolved 回傳已解析的對話 ID，尚未解析時回傳 0.
func (r *Resolver) Resolved() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// Conversation 回傳解析時取得的對話 metadata（可能為 nil）.
func (r *Resolver) Conversation() *api.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv
}

// Resolve 取得可用的對話 ID.
// 解析尚未完成時呼叫方等待同一個 pending 結果，而不是輪詢；
// 失敗直接回傳給呼叫方，不自動重試（下一次呼叫才會再發request）.
func (r *Resolver) Resolve(ctx context.Context) (int64, error) {
	r.mu.Lock()

	if r.id != 0 {
		id := r.id
		r.mu.Unlock()
		return id, nil
	}

	if r.creator == nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: 缺少對話 ID 與對方用戶 ID", ErrResolution)
	}

	// 已有在途解析：共用同一個 pending 結果
	if r.pending != nil {
		ch := r.pending
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.id != 0 {
			return r.id, nil
		}
		return 0, r.err
	}

	// 本呼叫成為解析者
	ch := make(chan struct{})
	r.pending = ch
	r.mu.Unlock()

	conv, err := r.creator.CreateConversation(ctx, r.counterpartID)

	r.mu.Lock()
	r.pending = nil
	if err != nil {
		r.err = fmt.Errorf("%w: %v", ErrResolution, err)
		failure := r.err
		r.mu.Unlock()
		close(ch)

		logger.Warning(ctx, "對話解析失敗",
			logger.WithDetails(map[string]interface{}{
				"counterpart_id": r.counterpartID,
				"error":          err.Error(),
			}))
		return 0, failure
	}

	r.id = conv.ID
	r.conv = conv
	r.err = nil
	r.mu.Unlock()
	close(ch)

	logger.Debug(ctx, "對話解析完成",
		logger.WithConversationID(fmt.Sprintf("%d", conv.ID)))
	return conv.ID, nil
}
