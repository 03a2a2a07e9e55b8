package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"chat-sync/internal/api"
	"chat-sync/internal/constants"
	"chat-sync/internal/platform/config"
	"chat-sync/internal/platform/logger"
	"chat-sync/internal/platform/server"
	"chat-sync/internal/realtime"
	"chat-sync/internal/storage/cache"
	"chat-sync/internal/unread"

	"github.com/joho/godotenv"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// logBadge 把徽章計數寫進日誌，供沒有平台徽章的環境觀察未讀變化.
type logBadge struct{}

func (logBadge) SetBadge(count int) {
	logger.Info(context.Background(), "未讀徽章更新",
		logger.WithAction("badge_update"),
		logger.WithDetails(map[string]interface{}{"count": count}))
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 載入 .env（不存在時忽略，環境變量仍可直接設置）
	_ = godotenv.Load()

	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()
	logger.Infof(ctx, "配置載入成功，環境: %s", config.GetEnv())

	// 開啟本地離線快取.
	if cfg.Cache.Enabled {
		if err := cache.Open(cfg.Cache.Path); err != nil {
			// 快取不可用只降級，不阻止啟動
			logger.Warning(ctx, "離線快取開啟失敗，將在無快取模式下運行",
				logger.WithDetails(map[string]interface{}{"error": err.Error(), "path": cfg.Cache.Path}))
		} else {
			defer func() {
				if err := cache.Close(); err != nil {
					logger.Errorf(ctx, "關閉快取資料庫失敗: %v", err)
				}
			}()
		}
	}

	// 創建遠端 API 客戶端.
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.Token,
		cfg.API.CurrentUserID,
		time.Duration(cfg.API.TimeoutSeconds)*time.Second,
	)

	// 創建即時連線管理器（Key 未設定時自動降級為輪詢）.
	manager := realtime.NewManager(cfg.Realtime, apiClient, nil)
	defer manager.Disconnect()
	if config.RealtimeEnabled() {
		logger.Info(ctx, "即時連線已啟用", logger.WithDetails(map[string]interface{}{
			"cluster": cfg.Realtime.Cluster,
		}))
	} else {
		logger.Info(ctx, "即時連線未配置，未讀計數退回純輪詢模式")
	}

	// 啟動全局未讀計數輪詢.
	pollInterval := time.Duration(constants.DefaultUnreadPollIntervalSec) * time.Second
	if cfg.Limits.Unread.PollIntervalSeconds > 0 {
		pollInterval = time.Duration(cfg.Limits.Unread.PollIntervalSeconds) * time.Second
	}
	counter := unread.NewCounter(apiClient, logBadge{}, pollInterval)
	counter.Start(ctx)
	defer counter.Stop()

	logger.Info(ctx, "[System] 同步服務啟動完成")

	// 啟動本地 HTTP 服務（健康檢查與推播提示），阻塞直到收到關閉信號.
	return server.Start(server.Dependencies{
		Unread:   counter,
		Realtime: manager,
	})
}
