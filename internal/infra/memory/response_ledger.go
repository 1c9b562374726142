package memory

import (
	"context"
	"sync"

	"live-session-service/internal/domain"
)

// ResponseLedger is an in-memory app.ResponseLedger. The single mutex makes
// the uniqueness check and insert one atomic operation, which is the
// load-bearing property preventing double acceptance under concurrent
// retries.
type ResponseLedger struct {
	mu   sync.Mutex
	rows map[string]map[string]domain.Response // activationID -> participantID -> response
}

func NewResponseLedger() *ResponseLedger {
	return &ResponseLedger{rows: make(map[string]map[string]domain.Response)}
}

func (l *ResponseLedger) InsertIfAbsent(_ context.Context, resp *domain.Response) (*domain.Response, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byParticipant, ok := l.rows[resp.ActivationID]
	if !ok {
		byParticipant = make(map[string]domain.Response)
		l.rows[resp.ActivationID] = byParticipant
	}
	if existing, ok := byParticipant[resp.ParticipantID]; ok {
		out := existing
		return &out, false, nil
	}
	byParticipant[resp.ParticipantID] = *resp
	out := *resp
	return &out, true, nil
}

func (l *ResponseLedger) Get(_ context.Context, activationID, participantID string) (*domain.Response, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if resp, ok := l.rows[activationID][participantID]; ok {
		out := resp
		return &out, true, nil
	}
	return nil, false, nil
}

func (l *ResponseLedger) MarkScored(_ context.Context, activationID, participantID string, correct bool, points int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	resp, ok := l.rows[activationID][participantID]
	if !ok {
		return false, domain.ErrResponseNotFound
	}
	if resp.Scored {
		return false, nil
	}
	resp.Scored = true
	resp.IsCorrect = &correct
	resp.PointsAwarded = &points
	l.rows[activationID][participantID] = resp
	return true, nil
}

func (l *ResponseLedger) UnmarkScored(_ context.Context, activationID, participantID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	resp, ok := l.rows[activationID][participantID]
	if !ok {
		return nil
	}
	resp.Scored = false
	resp.IsCorrect = nil
	resp.PointsAwarded = nil
	l.rows[activationID][participantID] = resp
	return nil
}

func (l *ResponseLedger) ListUnscored(_ context.Context, activationID string) ([]*domain.Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var pending []*domain.Response
	for _, resp := range l.rows[activationID] {
		if !resp.Scored {
			out := resp
			pending = append(pending, &out)
		}
	}
	return pending, nil
}
