package memory

import (
	"context"
	"sync"

	"live-session-service/internal/domain"
)

// ScoreLedger is an in-memory app.ScoreLedger guarded by the participant
// Version compare-and-swap.
type ScoreLedger struct {
	mu    sync.Mutex
	rooms map[string]map[string]domain.Participant
}

func NewScoreLedger() *ScoreLedger {
	return &ScoreLedger{rooms: make(map[string]map[string]domain.Participant)}
}

func (l *ScoreLedger) Get(_ context.Context, roomID, participantID string) (*domain.Participant, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.rooms[roomID][participantID]; ok {
		out := p
		return &out, true, nil
	}
	return nil, false, nil
}

func (l *ScoreLedger) Upsert(_ context.Context, roomID string, p *domain.Participant) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	room, ok := l.rooms[roomID]
	if !ok {
		room = make(map[string]domain.Participant)
		l.rooms[roomID] = room
	}
	var storedVersion int64
	if stored, ok := room[p.ParticipantID]; ok {
		storedVersion = stored.Version
	}
	if storedVersion != p.Version-1 {
		return domain.ErrVersionConflict
	}
	room[p.ParticipantID] = *p
	return nil
}

func (l *ScoreLedger) List(_ context.Context, roomID string) ([]*domain.Participant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows := make([]*domain.Participant, 0, len(l.rooms[roomID]))
	for _, p := range l.rooms[roomID] {
		out := p
		rows = append(rows, &out)
	}
	return rows, nil
}

// TallyStore is an in-memory app.TallyStore.
type TallyStore struct {
	mu      sync.Mutex
	tallies map[string]map[string]int
}

func NewTallyStore() *TallyStore {
	return &TallyStore{tallies: make(map[string]map[string]int)}
}

func (s *TallyStore) Incr(_ context.Context, activationID, optionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts, ok := s.tallies[activationID]
	if !ok {
		counts = make(map[string]int)
		s.tallies[activationID] = counts
	}
	counts[optionID]++
	return counts[optionID], nil
}

func (s *TallyStore) Get(_ context.Context, activationID string) (*domain.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.tallies[activationID]))
	for option, n := range s.tallies[activationID] {
		counts[option] = n
	}
	return &domain.Tally{ActivationID: activationID, Counts: counts}, nil
}
