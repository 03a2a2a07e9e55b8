package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat-sync/internal/platform/logger"
)

// APIError 遠端 API 回傳的錯誤.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// Client Marketplace REST API 客戶端.
type Client struct {
	baseURL       string
	token         string
	currentUserID int64
	httpClient    *http.Client
}

// Option 客戶端選項.
type Option func(*Client)

// WithHTTPClient 覆蓋底層 HTTP 客戶端（測試用）.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient 創建新的 API 客戶端.
func NewClient(baseURL, token string, currentUserID int64, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		currentUserID: currentUserID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentUserID 取得當前登入用戶 ID.
func (c *Client) CurrentUserID() int64 {
	return c.currentUserID
}

// doRequest 發送請求並回傳回應 body.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化請求失敗: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("創建請求失敗: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("請求失敗: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("讀取回應失敗: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errBody struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &errBody) == nil {
			if errBody.Error != "" {
				apiErr.Message = errBody.Error
			} else if errBody.Message != "" {
				apiErr.Message = errBody.Message
			}
		}
		logger.Warning(ctx, "API 請求失敗",
			logger.WithAction(method+" "+path),
			logger.WithDetails(map[string]interface{}{
				"status": resp.StatusCode,
			}))
		return nil, apiErr
	}

	return data, nil
}

// CreateConversation 以對方用戶 ID 取得或創建對話.
func (c *Client) CreateConversation(ctx context.Context, counterpartID int64) (*Conversation, error) {
	body := map[string]int64{"recipient_id": counterpartID}

	data, err := c.doRequest(ctx, http.MethodPost, "/conversations", body, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Conversation Conversation `json:"conversation"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析對話回應失敗: %w", err)
	}
	return &resp.Conversation, nil
}

// ListMessages 取得對話的一頁訊息.
// beforeID 大於 0 時回傳比該訊息更舊的一頁（向後分頁）.
func (c *Client) ListMessages(ctx context.Context, conversationID, beforeID int64, limit int) (*MessagePage, error) {
	query := url.Values{}
	if beforeID > 0 {
		query.Set("before", strconv.FormatInt(beforeID, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	data, err := c.doRequest(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return nil, err
	}

	var page MessagePage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("解析訊息列表失敗: %w", err)
	}
	return &page, nil
}

// CreateMessage 創建訊息.
func (c *Client) CreateMessage(ctx context.Context, req *CreateMessageRequest) (*Message, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/messages", req, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Message Message `json:"message"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析訊息回應失敗: %w", err)
	}
	return &resp.Message, nil
}

// MarkMessageRead 標記單條訊息已讀.
func (c *Client) MarkMessageRead(ctx context.Context, messageID int64) error {
	path := fmt.Sprintf("/messages/%d/read", messageID)
	_, err := c.doRequest(ctx, http.MethodPut, path, nil, nil)
	return err
}

// MarkConversationRead 批量標記對話內所有未讀訊息已讀.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/conversations/%d/read", conversationID)
	_, err := c.doRequest(ctx, http.MethodPut, path, nil, nil)
	return err
}

// UnreadCount 取得全局未讀訊息數.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/messages/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}

	var resp UnreadCountResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("解析未讀計數失敗: %w", err)
	}
	return resp.UnreadCount, nil
}

// RespondAppointment 回覆預約（接受或拒絕）.
func (c *Client) RespondAppointment(ctx context.Context, appointmentID int64, action string) (*Appointment, error) {
	if action != AppointmentActionAccept && action != AppointmentActionDecline {
		return nil, fmt.Errorf("無效的預約動作: %s", action)
	}

	path := fmt.Sprintf("/appointments/%d/respond", appointmentID)
	body := map[string]string{"action": action}

	data, err := c.doRequest(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Appointment Appointment `json:"appointment"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("解析預約回應失敗: %w", err)
	}
	return &resp.Appointment, nil
}

// AuthorizeChannel 為私有頻道取得簽名授權資料.
// 簽名由伺服器端完成，客戶端不持有簽名密鑰.
func (c *Client) AuthorizeChannel(ctx context.Context, socketID, channelName string) (*ChannelAuth, error) {
	body := map[string]string{
		"socket_id":    socketID,
		"channel_name": channelName,
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/broadcasting/auth", body, nil)
	if err != nil {
		return nil, err
	}

	var auth ChannelAuth
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("解析頻道授權失敗: %w", err)
	}
	return &auth, nil
}
