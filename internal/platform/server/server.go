package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-sync/internal/platform/config"
	"chat-sync/internal/platform/logger"
)

// Start 啟動本地 HTTP 服務並阻塞直到收到關閉信號.
func Start(deps Dependencies) error {
	ctx := context.Background()
	cfg := config.Get()

	// setting router
	router := Router(deps)

	// create HTTP server
	srv := &http.Server{
		Addr:         config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.Timeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.Timeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// start server
	go func() {
		logger.Infof(ctx, "本地服務正在監聽: %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf(ctx, "本地服務啟動失敗: %v", err)
			os.Exit(1)
		}
	}()

	// 等待關閉信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "收到關閉信號，正在優雅關閉本地服務...", logger.WithAction("shutdown"))

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(ctx, "本地服務關閉失敗: %v", err)
		return err
	}

	logger.Info(ctx, "本地服務已優雅關閉")
	return nil
}
