package api

import "time"

// 訊息類型常數.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeSystem = "system"
)

// 預約狀態常數.
const (
	AppointmentStatusPending   = "pending"
	AppointmentStatusBooked    = "booked"
	AppointmentStatusCancelled = "cancelled"
)

// 預約回覆動作常數.
const (
	AppointmentActionAccept  = "accept"
	AppointmentActionDecline = "decline"
)

// Attachment 訊息附件.
type Attachment struct {
	ID  int64  `json:"id"`
	URI string `json:"uri"`
}

// Message 伺服器確認過的訊息.
// 除了 read_at（由接收者標記一次）之外建立後不可變.
type Message struct {
	ID              int64        `json:"id"`
	ConversationID  int64        `json:"conversation_id"`
	SenderID        int64        `json:"sender_id"`
	RecipientID     int64        `json:"recipient_id"`
	Content         string       `json:"content"`
	Type            string       `json:"type"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	ParentMessageID *int64       `json:"parent_message_id,omitempty"`
	ClientRef       string       `json:"client_ref,omitempty"` // 客戶端產生的關聯鍵，伺服器支援時回傳
	ReadAt          *time.Time   `json:"read_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Participant 對話另一方的摘要.
type Participant struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURI string `json:"avatar_uri,omitempty"`
}

// Appointment 對話綁定的預約.
type Appointment struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"` // pending, booked, cancelled
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Conversation 對話，兩個用戶之間的訊息串，可選綁定一個預約.
type Conversation struct {
	ID          int64        `json:"id"`
	Participant *Participant `json:"participant,omitempty"`
	Appointment *Appointment `json:"appointment,omitempty"`
}

// CreateMessageRequest 創建訊息請求.
type CreateMessageRequest struct {
	ConversationID  int64   `json:"conversation_id"`
	Content         string  `json:"content"`
	Type            string  `json:"type"`
	AttachmentIDs   []int64 `json:"attachment_ids,omitempty"`
	ParentMessageID *int64  `json:"parent_message_id,omitempty"`
	ClientRef       string  `json:"client_ref,omitempty"`
}

// MessagePage 一頁訊息查詢結果.
// Messages 由新到舊排序（伺服器順序），HasMore 表示是否還有更舊的訊息.
type MessagePage struct {
	Conversation *Conversation `json:"conversation,omitempty"`
	Messages     []Message     `json:"messages"`
	HasMore      bool          `json:"has_more"`
}

// ChannelAuth 私有頻道的簽名授權資料.
type ChannelAuth struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// UnreadCountResponse 未讀計數回應.
type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}
