package conversation

import (
	"sort"

	"chat-sync/internal/api"
)

// mergeMessages 合併兩組訊息：按 ID 去重，依 (created_at, id) 由舊到新排序.
// 純函數且可重入——三個獨立事件來源（初始/分頁抓取、本地發送、即時訂閱）
// 以任意相對順序到達時，合併是唯一需要的同步原語.
func mergeMessages(existing, incoming []api.Message) []api.Message {
	merged := make([]api.Message, 0, len(existing)+len(incoming))
	seen := make(map[int64]struct{}, len(existing)+len(incoming))

	for _, m := range existing {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range incoming {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})

	return merged
}

// containsID 檢查訊息列表是否已包含指定 ID.
func containsID(messages []api.Message, id int64) bool {
	for _, m := range messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// reversed 回傳反序拷貝（伺服器頁面由新到舊，store 持有由舊到新）.
func reversed(messages []api.Message) []api.Message {
	out := make([]api.Message, len(messages))
	for i, m := range messages {
		out[len(messages)-1-i] = m
	}
	return out
}
