package app

import (
	"context"

	"live-session-service/internal/domain"
)

// ActivationStore persists activation rows (in-memory, Redis, etc).
// Update is a compare-and-swap: the caller bumps Version and the store
// rejects the write with domain.ErrVersionConflict unless the stored row
// still carries Version-1.
type ActivationStore interface {
	Save(ctx context.Context, act *domain.Activation) error
	Get(ctx context.Context, id string) (*domain.Activation, error)
	Update(ctx context.Context, act *domain.Activation) error
}

// PointerStore holds the per-room session pointer. CompareAndSwap is the
// only write path; it fails with domain.ErrPointerConflict when the stored
// version no longer matches, which serializes overlapping host actions.
type PointerStore interface {
	Get(ctx context.Context, roomID string) (domain.Pointer, error)
	CompareAndSwap(ctx context.Context, roomID string, expectedVersion int64, activationID string) (domain.Pointer, error)
	Rooms(ctx context.Context) ([]string, error)
}

// ResponseLedger is the append-type record of submissions. InsertIfAbsent is
// a single atomic uniqueness-check-plus-insert on (activation, participant);
// it reports the existing response instead of overwriting. MarkScored is an
// atomic false->true claim recording the outcome; UnmarkScored releases a
// claim whose score application ultimately failed so a settlement re-run
// picks the response up again.
type ResponseLedger interface {
	InsertIfAbsent(ctx context.Context, resp *domain.Response) (existing *domain.Response, inserted bool, err error)
	Get(ctx context.Context, activationID, participantID string) (*domain.Response, bool, error)
	MarkScored(ctx context.Context, activationID, participantID string, correct bool, points int) (claimed bool, err error)
	UnmarkScored(ctx context.Context, activationID, participantID string) error
	ListUnscored(ctx context.Context, activationID string) ([]*domain.Response, error)
}

// ScoreLedger stores per-room participant rows. Upsert is a compare-and-swap
// keyed on Participant.Version (caller bumps it before writing; a new row
// starts at 1); a mismatch returns domain.ErrVersionConflict. This gives the
// per-participant serialization the scoring engine relies on while leaving
// different participants fully parallel.
type ScoreLedger interface {
	Get(ctx context.Context, roomID, participantID string) (*domain.Participant, bool, error)
	Upsert(ctx context.Context, roomID string, p *domain.Participant) error
	List(ctx context.Context, roomID string) ([]*domain.Participant, error)
}

// TallyStore keeps live per-option vote counts for poll activations.
type TallyStore interface {
	Incr(ctx context.Context, activationID, optionID string) (int, error)
	Get(ctx context.Context, activationID string) (*domain.Tally, error)
}

// TemplateRepository loads authored template content (from cache/backing store).
type TemplateRepository interface {
	GetTemplate(ctx context.Context, templateID string) (domain.Template, error)
}
