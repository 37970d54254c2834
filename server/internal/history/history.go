package history

import (
	"context"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

// DefaultLimit 每个浏览器会话保留的最近会话数
const DefaultLimit = 10

// Store 按浏览器会话保存最近的面试列表，最新的在前。
type Store interface {
	// Add 插入到列表头部；相同 ID 已存在时不做任何修改并返回 false。
	Add(ctx context.Context, browserID string, entry model.HistoryEntry) (bool, error)
	// Complete 为已存在的条目附上对话与反馈；条目已被挤出列表时什么也不做。
	Complete(ctx context.Context, browserID, id string, turns []model.ConversationTurn, fb *model.Feedback) error
	List(ctx context.Context, browserID string) ([]model.HistoryEntry, error)
}

// addEntry 去重后插入头部并截断
func addEntry(list []model.HistoryEntry, entry model.HistoryEntry, limit int) ([]model.HistoryEntry, bool) {
	for _, e := range list {
		if e.ID == entry.ID {
			return list, false
		}
	}
	out := make([]model.HistoryEntry, 0, len(list)+1)
	out = append(out, entry)
	out = append(out, list...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, true
}

func completeEntry(list []model.HistoryEntry, id string, turns []model.ConversationTurn, fb *model.Feedback) bool {
	for i := range list {
		if list[i].ID == id {
			list[i].Turns = model.CloneTurns(turns)
			list[i].Feedback = fb.Clone()
			return true
		}
	}
	return false
}
