package conversation

import "errors"

// 錯誤分類.
// 每個異步入口把失敗轉換成對應條目的狀態欄位，不向事件循環外拋出.
var (
	// ErrResolution 無法創建或找到對話（呼叫方可見，不自動重試）.
	ErrResolution = errors.New("conversation resolution failed")

	// ErrSend 訊息創建失敗（樂觀條目轉為 failed，等待用戶重試）.
	ErrSend = errors.New("message send failed")

	// ErrFetch 初始載入或分頁失敗（store 保持最後已知良好狀態）.
	ErrFetch = errors.New("message fetch failed")
)
