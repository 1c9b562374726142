package client

import (
	"context"
	"sync"
	"time"

	"live-session-service/internal/app"
	"live-session-service/internal/domain"
)

// Puller is the authoritative state pull the reconciler performs on every
// (re)connect. app.SessionService satisfies it in-process; a real device
// implements it with an HTTP/WS round trip.
type Puller interface {
	Snapshot(ctx context.Context, roomID, participantID string) (*app.Snapshot, error)
}

// View is what the client renders: the last authoritative snapshot with
// incremental broadcast events layered on top, plus the optimistic pending
// overlay for an in-flight submission.
type View struct {
	Activation   *domain.Activation
	YourResponse *domain.Response
	Pending      *domain.Submission
	Tally        *domain.Tally
	Participants []domain.Participant
	RemainingSec int
	Offline      bool
}

// Responded reports whether this participant has (or is about to have) a
// response recorded for the current activation.
func (v View) Responded() bool {
	return v.YourResponse != nil || v.Pending != nil
}

// Reconciler maintains a participant's local room state. Broadcast delivery
// is fire-and-forget, so the snapshot pull is the source of truth: it always
// wins over buffered events, and events that arrive out of order are
// discarded by activation version comparison instead of blindly overwriting
// newer state.
type Reconciler struct {
	roomID        string
	participantID string
	pull          Puller

	attempts int
	backoff  time.Duration
	sleep    func(time.Duration)

	mu   sync.Mutex
	view View
}

func NewReconciler(pull Puller, roomID, participantID string) *Reconciler {
	return &Reconciler{
		roomID:        roomID,
		participantID: participantID,
		pull:          pull,
		attempts:      3,
		backoff:       200 * time.Millisecond,
		sleep:         time.Sleep,
	}
}

// WithRetry overrides the pull retry policy; test-only.
func (r *Reconciler) WithRetry(attempts int, backoff time.Duration, sleep func(time.Duration)) *Reconciler {
	r.attempts = attempts
	r.backoff = backoff
	r.sleep = sleep
	return r
}

// Resync performs the full state pull with bounded retry and backoff.
// Repeated failure flips the view into an explicit offline state rather
// than an unrecoverable error; the next successful Resync clears it.
func (r *Reconciler) Resync(ctx context.Context) error {
	var lastErr error
	delay := r.backoff
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			r.sleep(delay)
			delay *= 2
		}
		snap, err := r.pull.Snapshot(ctx, r.roomID, r.participantID)
		if err != nil {
			lastErr = err
			continue
		}
		r.applySnapshot(snap)
		return nil
	}

	r.mu.Lock()
	r.view.Offline = true
	r.mu.Unlock()
	return lastErr
}

// applySnapshot installs authoritative state; it supersedes everything,
// including any buffered broadcast events received while disconnected.
func (r *Reconciler) applySnapshot(snap *app.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Activation = snap.Activation
	r.view.YourResponse = snap.YourResponse
	r.view.Tally = snap.Tally
	r.view.Participants = snap.Participants
	r.view.RemainingSec = snap.RemainingSec
	r.view.Offline = false
	// The server's answer about our own response beats any optimistic guess.
	if snap.YourResponse != nil || snap.Activation == nil {
		r.view.Pending = nil
	}
}

// ApplyEvent layers one broadcast event onto the view. Returns false when
// the event is stale and was discarded.
func (r *Reconciler) ApplyEvent(ev app.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case app.EventActivationChanged:
		if ev.Activation == nil {
			r.view.Activation = nil
			r.view.YourResponse = nil
			r.view.Pending = nil
			r.view.Tally = nil
			return true
		}
		if cur := r.view.Activation; cur != nil && cur.ID == ev.Activation.ID {
			// Version covers poll phase regressions too: a reordered delivery
			// carries an older version, while an admin reopen carries a newer
			// one and passes.
			if ev.Activation.Version <= cur.Version {
				return false
			}
		} else if cur != nil {
			// Pointer moved to a different activation: local per-activation
			// state belongs to the superseded one.
			r.view.YourResponse = nil
			r.view.Pending = nil
			r.view.Tally = nil
		}
		r.view.Activation = ev.Activation
		return true

	case app.EventTallyChanged:
		if r.view.Activation == nil || ev.Tally == nil || ev.Tally.ActivationID != r.view.Activation.ID {
			return false
		}
		r.view.Tally = ev.Tally
		return true

	case app.EventParticipantsChanged:
		r.view.Participants = ev.Participants
		return true
	}
	return false
}

// BeginSubmit records the optimistic pending overlay before the server
// confirms; the client can render "answer sent" immediately.
func (r *Reconciler) BeginSubmit(sub domain.Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Pending = &sub
}

// ResolveSubmit reconciles the pending overlay with the server outcome. A
// confirmed or already-responded result installs the authoritative response;
// any other rejection rolls the overlay back.
func (r *Reconciler) ResolveSubmit(resp *domain.Response, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Pending = nil
	if resp != nil {
		r.view.YourResponse = resp
	}
}

// View returns a copy of the current render state.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Remaining computes the countdown from the server-assigned start stamp, so
// it is invariant to when this client connected.
func (r *Reconciler) Remaining(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return app.Remaining(r.view.Activation, now)
}
