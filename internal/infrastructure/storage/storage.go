package storage

import (
	"context"
	"fmt"
	"sync"

	"xoracle/internal/application/port"
	"xoracle/internal/domain"
	"xoracle/internal/domain/model"
)

// InMemoryStore is a process-local HistoryStore, used when no database is enabled and in tests.
type InMemoryStore struct {
	mu           sync.Mutex
	entries      []model.PriceEntry
	heartbeat    uint64
	hasHeartbeat bool
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make([]model.PriceEntry, 0),
	}
}

func (s *InMemoryStore) Append(ctx context.Context, index uint64, e model.PriceEntry, beforeCommit func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index != uint64(len(s.entries)) {
		return fmt.Errorf("append at %d: store has %d entries", index, len(s.entries))
	}
	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return err
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context) ([]model.PriceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.PriceEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *InMemoryStore) Range(ctx context.Context, start, end uint64) ([]model.PriceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if start > end || end > uint64(len(s.entries)) {
		return nil, fmt.Errorf("%w: [%d, %d) with length %d", domain.ErrIndexOutOfRange, start, end, len(s.entries))
	}
	out := make([]model.PriceEntry, end-start)
	copy(out, s.entries[start:end])
	return out, nil
}

func (s *InMemoryStore) SaveHeartbeat(ctx context.Context, seconds uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.heartbeat = seconds
	s.hasHeartbeat = true
	return nil
}

func (s *InMemoryStore) LoadHeartbeat(ctx context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.heartbeat, s.hasHeartbeat, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

var _ port.HistoryStore = (*InMemoryStore)(nil)
