package session

import (
	"context"
	"sync"
)

// MemoryStore keeps histories in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
	maxTurns int
}

// NewMemoryStore creates a store that keeps at most maxTurns per session.
// maxTurns <= 0 means unbounded.
func NewMemoryStore(maxTurns int) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]Turn),
		maxTurns: maxTurns,
	}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.sessions[sessionID], turns...)
	if s.maxTurns > 0 && len(history) > s.maxTurns {
		// Copy so the dropped prefix can be collected.
		history = append([]Turn(nil), history[len(history)-s.maxTurns:]...)
	}
	s.sessions[sessionID] = history
	return nil
}

func (s *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.sessions[sessionID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Turn, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
