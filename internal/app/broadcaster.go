package app

import (
	"sync"

	"live-session-service/internal/domain"
)

// EventType names the broadcast fan-out channels.
type EventType string

const (
	EventActivationChanged   EventType = "activation_changed"
	EventParticipantsChanged EventType = "participants_changed"
	EventTallyChanged        EventType = "tally_changed"
)

// Event is a best-effort, at-most-once notification to room subscribers.
// Only the field matching Type is populated. Version carries the activation
// version for activation_changed so clients can discard stale deliveries.
type Event struct {
	Type         EventType            `json:"type"`
	RoomID       string               `json:"roomId"`
	Activation   *domain.Activation   `json:"activation,omitempty"`
	Participants []domain.Participant `json:"participants,omitempty"`
	Tally        *domain.Tally        `json:"tally,omitempty"`
	Version      int64                `json:"version,omitempty"`
}

// Broadcaster fans events out to every subscriber of a room. Delivery is
// fire-and-forget: a slow subscriber has its oldest buffered event dropped
// rather than blocking the publisher. Clients recover gaps through the
// reconciliation pull, never through replay.
type Broadcaster struct {
	mu    sync.RWMutex
	rooms map[string]map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{rooms: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel receiving the room's events. The caller must
// invoke the returned cancel function to avoid leaks.
func (b *Broadcaster) Subscribe(roomID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	subs, ok := b.rooms[roomID]
	if !ok {
		subs = make(map[chan Event]struct{})
		b.rooms[roomID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.rooms[roomID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.rooms, roomID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber of the room.
func (b *Broadcaster) Publish(roomID string, ev Event) {
	ev.RoomID = roomID

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.rooms[roomID] {
		select {
		case ch <- ev:
		default:
			// Drop the oldest buffered event so slow clients never block the
			// publisher; the reconciler pull heals whatever they missed.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// SubscriberCount reports how many channels are attached to a room.
func (b *Broadcaster) SubscriberCount(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}
