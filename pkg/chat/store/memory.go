package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store used for tests and for running the gateway
// without external storage.
type Memory struct {
	mu    sync.RWMutex
	turns map[string][]TurnRecord
	docs  map[string]map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		turns: make(map[string][]TurnRecord),
		docs:  make(map[string]map[string][]byte),
	}
}

func (s *Memory) AppendTurn(ctx context.Context, userID string, turn TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[userID] = append(s.turns[userID], turn)
	return nil
}

func (s *Memory) RecentTurns(ctx context.Context, userID string, n int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.turns[userID]
	if n <= 0 || n > len(log) {
		n = len(log)
	}
	out := make([]TurnRecord, 0, n)
	for i := len(log) - 1; i >= len(log)-n; i-- {
		out = append(out, log[i])
	}
	return out, nil
}

func (s *Memory) GetDocument(ctx context.Context, userID, kind string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[userID][kind]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *Memory) SetDocument(ctx context.Context, userID, kind string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[userID] == nil {
		s.docs[userID] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.docs[userID][kind] = cp
	return nil
}

func (s *Memory) Close() error { return nil }
