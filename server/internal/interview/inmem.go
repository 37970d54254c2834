package interview

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

// InMemoryRepository 基于内存的记录存储。
// 重启即丢数据；需要持久化时换成 SQLiteRepository。
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*model.InterviewRecord
	turnIDs map[string]map[string]struct{}
	now     func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*model.InterviewRecord),
		turnIDs: make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// Create 保存记录副本。
func (r *InMemoryRepository) Create(_ context.Context, rec *model.InterviewRecord) (*model.InterviewRecord, error) {
	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = NewID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[stored.ID] = stored
	seen := make(map[string]struct{}, len(stored.Turns))
	for _, t := range stored.Turns {
		seen[t.ID] = struct{}{}
	}
	r.turnIDs[stored.ID] = seen
	return stored.Clone(), nil
}

// Get 返回副本，避免调用方修改内部数据。
func (r *InMemoryRepository) Get(_ context.Context, id string) (*model.InterviewRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// AppendTurn 追加轮次；已存在的 turn ID 直接返回原轮次。
func (r *InMemoryRepository) AppendTurn(_ context.Context, id string, turn model.ConversationTurn) (model.ConversationTurn, error) {
	if turn.ID == "" {
		turn.ID = NewTurnID()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return model.ConversationTurn{}, ErrNotFound
	}
	if _, dup := r.turnIDs[id][turn.ID]; dup {
		for _, t := range rec.Turns {
			if t.ID == turn.ID {
				return t, nil
			}
		}
	}
	rec.Turns = append(rec.Turns, turn)
	r.turnIDs[id][turn.ID] = struct{}{}
	return turn, nil
}

// SetFeedback 写入反馈
func (r *InMemoryRepository) SetFeedback(_ context.Context, id string, fb model.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Feedback = fb.Clone()
	return nil
}

// List 按创建时间倒序
func (r *InMemoryRepository) List(_ context.Context, owner string, limit int) ([]*model.InterviewRecord, error) {
	r.mu.RLock()
	out := make([]*model.InterviewRecord, 0, len(r.records))
	for _, rec := range r.records {
		if owner != "" && rec.Owner != owner {
			continue
		}
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count 记录总数
func (r *InMemoryRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}
