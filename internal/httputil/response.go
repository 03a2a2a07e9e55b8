package httputil

import "github.com/gin-gonic/gin"

// 成功訊息常數.
const (
	RefreshTriggered = "Refresh triggered"
	DataRetrieved    = "Data retrieved successfully"
)

// 錯誤訊息常數.
const (
	InvalidParameter = "Invalid parameter"
	ProcessingFailed = "Processing failed"
	NotFound         = "Not found"
)

// Success 回傳簡單的成功訊息回應.
func Success(message string) gin.H {
	return gin.H{"message": message}
}

// SuccessWithCount 回傳包含計數的成功回應.
func SuccessWithCount(message string, count int) gin.H {
	return gin.H{
		"message": message,
		"count":   count,
	}
}

// ErrorMessage 回傳簡單的錯誤訊息回應.
func ErrorMessage(message string) gin.H {
	return gin.H{"error": message}
}
