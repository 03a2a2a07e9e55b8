package appointment

import (
	"context"
	"fmt"
	"sync"

	"chat-sync/internal/api"
	"chat-sync/internal/platform/logger"
)

// Responder StatusChannel 需要的 API 子集.
type Responder interface {
	RespondAppointment(ctx context.Context, appointmentID int64, action string) (*api.Appointment, error)
}

// Overrides 預約狀態的本地樂觀覆蓋註冊表.
// 這是客戶端狀態唯一允許在沒有對應 Message 事件的情況下
// 超前伺服器的欄位；下一次完整載入以伺服器真值取代.
type Overrides struct {
	mu       sync.RWMutex
	statuses map[int64]string
}

// NewOverrides 創建空的覆蓋註冊表.
func NewOverrides() *Overrides {
	return &Overrides{statuses: make(map[int64]string)}
}

// Set 設定預約的本地狀態覆蓋.
func (o *Overrides) Set(appointmentID int64, status string) {
	o.mu.Lock()
	o.statuses[appointmentID] = status
	o.mu.Unlock()
}

// Get 取得預約的本地狀態覆蓋.
func (o *Overrides) Get(appointmentID int64) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.statuses[appointmentID]
	return s, ok
}

// Clear 清除預約的本地狀態覆蓋（完整載入取得伺服器真值後）.
func (o *Overrides) Clear(appointmentID int64) {
	o.mu.Lock()
	delete(o.statuses, appointmentID)
	o.mu.Unlock()
}

// Apply 將覆蓋套用到預約拷貝上.
func (o *Overrides) Apply(appt *api.Appointment) *api.Appointment {
	if appt == nil {
		return nil
	}
	status, ok := o.Get(appt.ID)
	if !ok {
		return appt
	}
	out := *appt
	out.Status = status
	return &out
}

// StatusChannel 預約回覆通道.
// 與訊息流獨立：accept / decline 只推進對話內嵌的預約狀態欄位.
type StatusChannel struct {
	responder Responder
	overrides *Overrides
}

// NewStatusChannel 創建預約回覆通道.
func NewStatusChannel(responder Responder, overrides *Overrides) *StatusChannel {
	return &StatusChannel{
		responder: responder,
		overrides: overrides,
	}
}

// Respond 回覆預約：網路呼叫解決前先設定本地覆蓋，立即可見.
// 失敗時不自動回滾覆蓋——這個動作罕見且重試冪等，由 UI 顯示錯誤，
// 下一次完整載入會校正到伺服器真值.
func (s *StatusChannel) Respond(ctx context.Context, appointmentID int64, action string) error {
	var status string
	switch action {
	case api.AppointmentActionAccept:
		status = api.AppointmentStatusBooked
	case api.AppointmentActionDecline:
		status = api.AppointmentStatusCancelled
	default:
		return fmt.Errorf("無效的預約動作: %s", action)
	}

	s.overrides.Set(appointmentID, status)

	if _, err := s.responder.RespondAppointment(ctx, appointmentID, action); err != nil {
		logger.Warning(ctx, "預約回覆失敗",
			logger.WithAction("appointment_respond"),
			logger.WithDetails(map[string]interface{}{
				"appointment_id": appointmentID,
				"action":         action,
				"error":          err.Error(),
			}))
		return fmt.Errorf("預約回覆失敗: %w", err)
	}

	return nil
}
