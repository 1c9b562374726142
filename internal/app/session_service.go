package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"live-session-service/internal/domain"
)

const mutateAttempts = 3

// SessionService drives the activation lifecycle for rooms: host actions
// move the session pointer and the runtime fields, participant submissions
// flow through the response ledger guard into the scoring engine, and every
// state change fans out through the broadcaster.
type SessionService struct {
	activations ActivationStore
	pointers    PointerStore
	responses   ResponseLedger
	scores      ScoreLedger
	tallies     TallyStore
	templates   TemplateRepository
	broadcaster *Broadcaster
	scorer      *Scorer
	now         func() time.Time
	newID       func() string
}

func NewSessionService(
	activations ActivationStore,
	pointers PointerStore,
	responses ResponseLedger,
	scores ScoreLedger,
	tallies TallyStore,
	templates TemplateRepository,
	broadcaster *Broadcaster,
) *SessionService {
	return &SessionService{
		activations: activations,
		pointers:    pointers,
		responses:   responses,
		scores:      scores,
		tallies:     tallies,
		templates:   templates,
		broadcaster: broadcaster,
		scorer:      NewScorer(responses, scores),
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// WithClock overrides the service clock; test-only.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// Broadcaster exposes the room fan-out for transport subscriptions.
func (s *SessionService) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Join registers a participant in a room, or refreshes the display name when
// the same identity rejoins; the score row is reused, never duplicated.
func (s *SessionService) Join(ctx context.Context, roomID, participantID, displayName string) (*domain.Participant, error) {
	var joined *domain.Participant
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		p, found, err := s.scores.Get(ctx, roomID, participantID)
		if err != nil {
			return nil, err
		}
		if found {
			next := *p
			next.DisplayName = displayName
			next.Version = p.Version + 1
			if err := s.scores.Upsert(ctx, roomID, &next); err != nil {
				if errors.Is(err, domain.ErrVersionConflict) {
					continue
				}
				return nil, err
			}
			joined = &next
		} else {
			fresh := &domain.Participant{
				ParticipantID: participantID,
				DisplayName:   displayName,
				JoinedAt:      s.now(),
				Version:       1,
			}
			if err := s.scores.Upsert(ctx, roomID, fresh); err != nil {
				if errors.Is(err, domain.ErrVersionConflict) {
					continue
				}
				return nil, err
			}
			joined = fresh
		}
		break
	}
	if joined == nil {
		return nil, domain.ErrVersionConflict
	}
	s.publishParticipants(ctx, roomID)
	return joined, nil
}

// Activate instantiates a template as the room's current activation. The old
// pointer value is swapped out in the same compare-and-swap that installs
// the new one, so there is no window with two current activations; a
// concurrent host action surfaces as domain.ErrPointerConflict.
func (s *SessionService) Activate(ctx context.Context, roomID, templateID string) (*domain.Activation, error) {
	ptr, err := s.pointers.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	act := &domain.Activation{
		ID:               s.newID(),
		RoomID:           roomID,
		TemplateID:       tmpl.ID,
		Kind:             tmpl.Kind,
		Prompt:           tmpl.Prompt,
		Options:          tmpl.Options,
		CorrectAnswer:    tmpl.CorrectAnswer,
		ExactAnswer:      tmpl.ExactAnswer,
		TimeLimitSeconds: tmpl.TimeLimitSeconds,
		CreatedAt:        now,
		Version:          1,
	}
	if act.Kind == domain.KindPoll {
		act.PollPhase = domain.PhasePending
	}
	// Timed question kinds start counting down at activation; the server
	// stamp is what every client derives remaining time from.
	if act.Kind.Scorable() && act.TimeLimitSeconds > 0 {
		started := now
		act.TimerStartedAt = &started
	}

	if err := s.activations.Save(ctx, act); err != nil {
		return nil, fmt.Errorf("save activation: %w", err)
	}
	if _, err := s.pointers.CompareAndSwap(ctx, roomID, ptr.Version, act.ID); err != nil {
		return nil, err
	}

	s.broadcaster.Publish(roomID, Event{Type: EventActivationChanged, Activation: act, Version: act.Version})
	return act, nil
}

// Deactivate clears the room pointer. The activation row is retained.
func (s *SessionService) Deactivate(ctx context.Context, roomID string) error {
	ptr, err := s.pointers.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if ptr.ActivationID == "" {
		return nil
	}
	if _, err := s.pointers.CompareAndSwap(ctx, roomID, ptr.Version, ""); err != nil {
		return err
	}
	s.broadcaster.Publish(roomID, Event{Type: EventActivationChanged, Activation: nil})
	return nil
}

// StartVoting opens a poll: pending -> voting.
func (s *SessionService) StartVoting(ctx context.Context, roomID string) (*domain.Activation, error) {
	return s.mutateCurrent(ctx, roomID, func(act *domain.Activation) error {
		if act.Kind != domain.KindPoll || act.PollPhase != domain.PhasePending {
			return domain.ErrInvalidTransition
		}
		act.PollPhase = domain.PhaseVoting
		return nil
	})
}

// ClosePoll ends voting: voting -> closed.
func (s *SessionService) ClosePoll(ctx context.Context, roomID string) (*domain.Activation, error) {
	return s.mutateCurrent(ctx, roomID, func(act *domain.Activation) error {
		if act.Kind != domain.KindPoll || act.PollPhase != domain.PhaseVoting {
			return domain.ErrInvalidTransition
		}
		act.PollPhase = domain.PhaseClosed
		return nil
	})
}

// ReopenPoll is the administrative override closed -> voting. It lives
// outside the normal monotonic state machine on purpose.
func (s *SessionService) ReopenPoll(ctx context.Context, roomID string) (*domain.Activation, error) {
	return s.mutateCurrent(ctx, roomID, func(act *domain.Activation) error {
		if act.Kind != domain.KindPoll || act.PollPhase != domain.PhaseClosed {
			return domain.ErrInvalidTransition
		}
		act.PollPhase = domain.PhaseVoting
		return nil
	})
}

// Reveal marks answers visible. It is idempotent: revealing twice is a
// no-op. A poll still voting is closed by the same action. Reveal also
// settles every response that has not been scored yet, so the standings a
// client renders after the reveal event are final.
func (s *SessionService) Reveal(ctx context.Context, roomID string) (*domain.Activation, error) {
	act, err := s.currentActivation(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !act.RevealAnswers {
		act, err = s.mutateCurrent(ctx, roomID, func(a *domain.Activation) error {
			if a.RevealAnswers {
				return nil
			}
			a.RevealAnswers = true
			if a.Kind == domain.KindPoll && a.PollPhase == domain.PhaseVoting {
				a.PollPhase = domain.PhaseClosed
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if act.Kind.AcceptsResponses() {
		if _, err := s.scorer.SettleUnscored(ctx, roomID, act); err != nil {
			return nil, err
		}
		s.publishParticipants(ctx, roomID)
	}
	return act, nil
}

// Submit is the response ledger guard. activationID is the activation the
// client believes is current; a submission that raced a pointer move is
// rejected with domain.ErrNoCurrentActivation instead of being scored
// against the wrong activation. On domain.ErrAlreadyResponded the returned
// response is the participant's existing one so the client can render its
// prior choice.
func (s *SessionService) Submit(ctx context.Context, roomID, participantID, activationID string, sub domain.Submission) (*domain.Response, error) {
	if _, found, err := s.scores.Get(ctx, roomID, participantID); err != nil {
		return nil, err
	} else if !found {
		return nil, domain.ErrParticipantNotFound
	}

	// Re-check currency at acceptance time, not just at render time.
	ptr, err := s.pointers.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if ptr.ActivationID == "" || ptr.ActivationID != activationID {
		return nil, domain.ErrNoCurrentActivation
	}
	act, err := s.activations.Get(ctx, activationID)
	if err != nil {
		return nil, err
	}
	if !act.Kind.AcceptsResponses() {
		return nil, domain.ErrEmptySubmission
	}
	if err := sub.Validate(act.Kind); err != nil {
		return nil, err
	}

	now := s.now()
	if act.Kind == domain.KindPoll {
		if act.PollPhase != domain.PhaseVoting {
			return nil, domain.ErrNotVoting
		}
	} else if act.RevealAnswers || act.TimerExpired(now) {
		return nil, domain.ErrActivationClosed
	}

	resp := &domain.Response{
		ActivationID:  act.ID,
		ParticipantID: participantID,
		Answer:        sub.Answer,
		OptionID:      sub.OptionID,
		SubmittedAt:   now,
	}
	existing, inserted, err := s.responses.InsertIfAbsent(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("insert response: %w", err)
	}
	if !inserted {
		return existing, domain.ErrAlreadyResponded
	}

	// Poll votes bump the live tally regardless of scoring.
	if act.Kind == domain.KindPoll {
		if _, err := s.tallies.Incr(ctx, act.ID, sub.OptionID); err != nil {
			return nil, fmt.Errorf("increment tally: %w", err)
		}
		if tally, err := s.tallies.Get(ctx, act.ID); err == nil {
			s.broadcaster.Publish(roomID, Event{Type: EventTallyChanged, Tally: tally})
		}
	}

	scored, err := s.scorer.ScoreAndApply(ctx, roomID, act, resp)
	if err != nil {
		// The response is durably recorded; settlement on reveal retries the
		// award, so the acceptance itself is not rolled back.
		log.Printf("submit: defer award for %s/%s to settlement: %v", act.ID, participantID, err)
		return resp, nil
	}
	s.publishParticipants(ctx, roomID)
	return scored, nil
}

// Snapshot is the authoritative state pull a client performs on every
// (re)connect; it supersedes any buffered broadcast event.
type Snapshot struct {
	Pointer      domain.Pointer       `json:"pointer"`
	Activation   *domain.Activation   `json:"activation,omitempty"`
	YourResponse *domain.Response     `json:"yourResponse,omitempty"`
	Tally        *domain.Tally        `json:"tally,omitempty"`
	Participants []domain.Participant `json:"participants"`
	RemainingSec int                  `json:"remainingSec"`
}

// Snapshot assembles the full current state for one participant.
func (s *SessionService) Snapshot(ctx context.Context, roomID, participantID string) (*Snapshot, error) {
	ptr, err := s.pointers.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Pointer: ptr}

	if ptr.ActivationID != "" {
		act, err := s.activations.Get(ctx, ptr.ActivationID)
		if err != nil {
			return nil, err
		}
		snap.Activation = act
		snap.RemainingSec = int(Remaining(act, s.now()) / time.Second)

		if resp, found, err := s.responses.Get(ctx, act.ID, participantID); err != nil {
			return nil, err
		} else if found {
			snap.YourResponse = resp
		}
		if act.Kind == domain.KindPoll {
			tally, err := s.tallies.Get(ctx, act.ID)
			if err != nil {
				return nil, err
			}
			snap.Tally = tally
		}
	}

	snap.Participants, err = s.standings(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ExpireDueTimers reveals the room's current activation when its countdown
// has run out. Invoked by the timer coordinator; a no-op for untimed,
// already-revealed, or absent activations.
func (s *SessionService) ExpireDueTimers(ctx context.Context, roomID string) error {
	act, err := s.currentActivation(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNoCurrentActivation) {
			return nil
		}
		return err
	}
	if act.RevealAnswers || !act.TimerExpired(s.now()) {
		return nil
	}
	_, err = s.Reveal(ctx, roomID)
	return err
}

func (s *SessionService) currentActivation(ctx context.Context, roomID string) (*domain.Activation, error) {
	ptr, err := s.pointers.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if ptr.ActivationID == "" {
		return nil, domain.ErrNoCurrentActivation
	}
	return s.activations.Get(ctx, ptr.ActivationID)
}

// mutateCurrent applies fn to the room's current activation under the
// version compare-and-swap, retrying a lost race with freshly read state.
func (s *SessionService) mutateCurrent(ctx context.Context, roomID string, fn func(*domain.Activation) error) (*domain.Activation, error) {
	var lastErr error
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		act, err := s.currentActivation(ctx, roomID)
		if err != nil {
			return nil, err
		}
		next := *act
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.Version = act.Version + 1
		if err := s.activations.Update(ctx, &next); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		s.broadcaster.Publish(roomID, Event{Type: EventActivationChanged, Activation: &next, Version: next.Version})
		return &next, nil
	}
	return nil, lastErr
}

func (s *SessionService) standings(ctx context.Context, roomID string) ([]domain.Participant, error) {
	rows, err := s.scores.List(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.Participant, 0, len(rows))
	for _, p := range rows {
		entries = append(entries, *p)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].CorrectCount != entries[j].CorrectCount {
			return entries[i].CorrectCount > entries[j].CorrectCount
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return entries, nil
}

func (s *SessionService) publishParticipants(ctx context.Context, roomID string) {
	entries, err := s.standings(ctx, roomID)
	if err != nil {
		return
	}
	s.broadcaster.Publish(roomID, Event{Type: EventParticipantsChanged, Participants: entries})
}
