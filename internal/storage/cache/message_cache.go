package cache

import (
	"context"
	"encoding/json"
	"time"

	"chat-sync/internal/api"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CachedMessage 本地快取的訊息列.
// Payload 保存完整的原始 JSON（附件等欄位），其餘欄位供查詢索引.
type CachedMessage struct {
	ID             int64 `gorm:"primaryKey"`
	ConversationID int64 `gorm:"index:idx_conversation_created,priority:1"`
	SenderID       int64
	RecipientID    int64
	Type           string
	CreatedAt      time.Time `gorm:"index:idx_conversation_created,priority:2"`
	Payload        []byte
}

// TableName 實作 GORM tabler 接口.
func (CachedMessage) TableName() string { return "cached_messages" }

// MessageCache 訊息快取存儲實作.
type MessageCache struct {
	db *gorm.DB
}

// NewMessageCache 創建新的訊息快取.
func NewMessageCache(db *gorm.DB) *MessageCache {
	return &MessageCache{db: db}
}

// SaveMessages 批量 upsert 訊息（已存在的 ID 覆蓋——read_at 可能已更新）.
func (c *MessageCache) SaveMessages(ctx context.Context, messages []api.Message) error {
	if len(messages) == 0 {
		return nil
	}

	rows := make([]CachedMessage, 0, len(messages))
	for _, m := range messages {
		payload, err := json.Marshal(m)
		if err != nil {
			return err
		}
		rows = append(rows, CachedMessage{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			RecipientID:    m.RecipientID,
			Type:           m.Type,
			CreatedAt:      m.CreatedAt,
			Payload:        payload,
		})
	}

	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
}

// Recent 回傳對話最近的 limit 條訊息.
func (c *MessageCache) Recent(ctx context.Context, conversationID int64, limit int) ([]api.Message, error) {
	var rows []CachedMessage
	err := c.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	messages := make([]api.Message, 0, len(rows))
	for _, row := range rows {
		var m api.Message
		if err := json.Unmarshal(row.Payload, &m); err != nil {
			// 單列損壞不影響其餘快取
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Purge 刪除對話的所有快取訊息.
func (c *MessageCache) Purge(ctx context.Context, conversationID int64) error {
	return c.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&CachedMessage{}).Error
}
