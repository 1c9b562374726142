package app

import (
	"testing"

	"live-session-service/internal/domain"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()

	ch1, cancel1 := b.Subscribe("room-1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("room-1")
	defer cancel2()
	other, cancelOther := b.Subscribe("room-2")
	defer cancelOther()

	b.Publish("room-1", Event{Type: EventTallyChanged, Tally: &domain.Tally{ActivationID: "act-1"}})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		if ev.Type != EventTallyChanged || ev.RoomID != "room-1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	select {
	case ev := <-other:
		t.Fatalf("room-2 subscriber received foreign event %+v", ev)
	default:
	}
}

func TestBroadcasterSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe("room-1")
	defer cancel()

	// Overflow the buffer; publishes must not block and the newest events win.
	for i := 0; i < 100; i++ {
		b.Publish("room-1", Event{Type: EventParticipantsChanged, Version: int64(i)})
	}

	var last Event
	drained := 0
	for {
		select {
		case ev := <-ch:
			last = ev
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 {
		t.Fatalf("expected buffered events")
	}
	if last.Version != 99 {
		t.Fatalf("expected newest event retained, got version %d", last.Version)
	}
}

func TestBroadcasterCancelRemovesSubscriber(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe("room-1")
	if n := b.SubscriberCount("room-1"); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	cancel()
	if n := b.SubscriberCount("room-1"); n != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", n)
	}
	// cancel twice is safe
	cancel()
}
