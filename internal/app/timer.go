package app

import (
	"context"
	"log"
	"time"

	"live-session-service/internal/domain"
)

// Remaining computes the countdown left on an activation from the
// server-assigned start stamp, so a client joining mid-question converges on
// the same value as one connected since the start. Activations without a
// running timer report zero.
func Remaining(act *domain.Activation, now time.Time) time.Duration {
	if act == nil || act.TimerStartedAt == nil || act.TimeLimitSeconds <= 0 {
		return 0
	}
	limit := time.Duration(act.TimeLimitSeconds) * time.Second
	remaining := limit - now.Sub(*act.TimerStartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimerCoordinator drives the authoritative server-side expiry action.
// Clients may optimistically show results when their local countdown hits
// zero, but the reveal transition every client converges on comes from here
// (or from an explicit host action), never from a client clock.
type TimerCoordinator struct {
	service  *SessionService
	pointers PointerStore
	tick     time.Duration
}

func NewTimerCoordinator(service *SessionService, pointers PointerStore, tick time.Duration) *TimerCoordinator {
	if tick <= 0 {
		tick = time.Second
	}
	return &TimerCoordinator{service: service, pointers: pointers, tick: tick}
}

// Watch scans every room on each tick and reveals activations whose
// countdown has expired. Blocks until ctx is canceled.
func (t *TimerCoordinator) Watch(ctx context.Context) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass over all rooms. One room failing does not stop
// the others.
func (t *TimerCoordinator) Sweep(ctx context.Context) {
	rooms, err := t.pointers.Rooms(ctx)
	if err != nil {
		log.Printf("timer: list rooms: %v", err)
		return
	}
	for _, roomID := range rooms {
		if err := t.service.ExpireDueTimers(ctx, roomID); err != nil {
			log.Printf("timer: expire room %s: %v", roomID, err)
		}
	}
}
