package memory

import (
	"context"
	"sort"
	"sync"

	"live-session-service/internal/domain"
)

// ActivationStore is an in-memory app.ActivationStore.
type ActivationStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Activation
}

func NewActivationStore() *ActivationStore {
	return &ActivationStore{rows: make(map[string]domain.Activation)}
}

func (s *ActivationStore) Save(_ context.Context, act *domain.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[act.ID] = *act
	return nil
}

func (s *ActivationStore) Get(_ context.Context, id string) (*domain.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	act, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrActivationNotFound
	}
	out := act
	return &out, nil
}

func (s *ActivationStore) Update(_ context.Context, act *domain.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.rows[act.ID]
	if !ok {
		return domain.ErrActivationNotFound
	}
	if stored.Version != act.Version-1 {
		return domain.ErrVersionConflict
	}
	s.rows[act.ID] = *act
	return nil
}

// PointerStore is an in-memory app.PointerStore.
type PointerStore struct {
	mu       sync.RWMutex
	pointers map[string]domain.Pointer
}

func NewPointerStore() *PointerStore {
	return &PointerStore{pointers: make(map[string]domain.Pointer)}
}

func (s *PointerStore) Get(_ context.Context, roomID string) (domain.Pointer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ptr, ok := s.pointers[roomID]; ok {
		return ptr, nil
	}
	return domain.Pointer{RoomID: roomID}, nil
}

func (s *PointerStore) CompareAndSwap(_ context.Context, roomID string, expectedVersion int64, activationID string) (domain.Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.pointers[roomID]
	if !ok {
		current = domain.Pointer{RoomID: roomID}
	}
	if current.Version != expectedVersion {
		return domain.Pointer{}, domain.ErrPointerConflict
	}
	next := domain.Pointer{RoomID: roomID, ActivationID: activationID, Version: expectedVersion + 1}
	s.pointers[roomID] = next
	return next, nil
}

func (s *PointerStore) Rooms(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]string, 0, len(s.pointers))
	for roomID := range s.pointers {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms, nil
}
