package history

import (
	"context"
	"sync"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

// InMemoryStore 进程内的最近会话列表
type InMemoryStore struct {
	mu      sync.Mutex
	limit   int
	entries map[string][]model.HistoryEntry
}

func NewInMemoryStore(limit int) *InMemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &InMemoryStore{limit: limit, entries: make(map[string][]model.HistoryEntry)}
}

func (s *InMemoryStore) Add(_ context.Context, browserID string, entry model.HistoryEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, added := addEntry(s.entries[browserID], entry, s.limit)
	s.entries[browserID] = list
	return added, nil
}

func (s *InMemoryStore) Complete(_ context.Context, browserID, id string, turns []model.ConversationTurn, fb *model.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	completeEntry(s.entries[browserID], id, turns, fb)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, browserID string) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[browserID]
	out := make([]model.HistoryEntry, len(list))
	for i, e := range list {
		e.Turns = model.CloneTurns(e.Turns)
		e.Feedback = e.Feedback.Clone()
		out[i] = e
	}
	return out, nil
}
