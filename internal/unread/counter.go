package unread

import (
	"context"
	"sync"
	"time"

	"chat-sync/internal/platform/logger"
)

// CountFetcher Counter 需要的 API 子集.
type CountFetcher interface {
	UnreadCount(ctx context.Context) (int, error)
}

// BadgeSink 平台層的徽章指示器.
// 計數變化作為副作用反映到徽章，不屬於回傳契約.
type BadgeSink interface {
	SetBadge(count int)
}

// Counter 全局未讀計數.
// 以固定間隔輪詢，並在標記已讀或收到推播提示後由外部觸發 Refresh；
// 重疊的刷新以發出序號合併——只接受最近發出請求的結果，
// 較舊請求的回應即使後到也被丟棄，避免過期的小計數蓋掉新的大計數.
type Counter struct {
	fetcher  CountFetcher
	badge    BadgeSink
	interval time.Duration

	mu      sync.Mutex
	count   int
	issued  uint64 // 最近發出的請求序號
	applied uint64 // 已套用結果的請求序號

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCounter 創建未讀計數器.
// badge 可為 nil（無平台徽章的環境）.
func NewCounter(fetcher CountFetcher, badge BadgeSink, interval time.Duration) *Counter {
	return &Counter{
		fetcher:  fetcher,
		badge:    badge,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動輪詢循環（立即刷新一次，之後按間隔刷新）.
func (c *Counter) Start(ctx context.Context) {
	go func() {
		c.Refresh(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Refresh(ctx)
			}
		}
	}()
}

// Stop 停止輪詢循環，冪等.
func (c *Counter) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Refresh 刷新未讀計數.
// 發出時取得序號；回應只在沒有更新的請求已套用結果時生效
// （latest-issued wins）；失敗記錄後吞掉，保留上一個計數.
func (c *Counter) Refresh(ctx context.Context) {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	count, err := c.fetcher.UnreadCount(ctx)
	if err != nil {
		logger.Warning(ctx, "未讀計數刷新失敗",
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return
	}

	c.mu.Lock()
	if seq <= c.applied {
		// 已被更新的請求超越，丟棄
		c.mu.Unlock()
		return
	}
	c.applied = seq
	changed := c.count != count
	c.count = count
	c.mu.Unlock()

	if changed && c.badge != nil {
		c.badge.SetBadge(count)
	}
}

// Count 回傳當前未讀計數.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
