package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"live-session-service/internal/domain"
	"live-session-service/internal/infra/memory"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestPointerStoreCAS(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	store := NewPointerStore(client)

	ptr, err := store.Get(ctx, "room-1")
	if err != nil || ptr.Version != 0 || ptr.ActivationID != "" {
		t.Fatalf("expected empty pointer, got %+v err=%v", ptr, err)
	}

	ptr, err = store.CompareAndSwap(ctx, "room-1", 0, "act-1")
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if ptr.Version != 1 || ptr.ActivationID != "act-1" {
		t.Fatalf("unexpected pointer %+v", ptr)
	}

	// A write based on the stale version must lose.
	if _, err := store.CompareAndSwap(ctx, "room-1", 0, "act-2"); !errors.Is(err, domain.ErrPointerConflict) {
		t.Fatalf("expected ErrPointerConflict, got %v", err)
	}

	// Clearing goes through the same CAS.
	ptr, err = store.CompareAndSwap(ctx, "room-1", 1, "")
	if err != nil || ptr.ActivationID != "" || ptr.Version != 2 {
		t.Fatalf("clear: %+v err=%v", ptr, err)
	}

	rooms, err := store.Rooms(ctx)
	if err != nil || len(rooms) != 1 || rooms[0] != "room-1" {
		t.Fatalf("rooms: %v err=%v", rooms, err)
	}
}

func TestResponseLedgerInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	ledger := NewResponseLedger(client, time.Minute)

	first := &domain.Response{ActivationID: "act-1", ParticipantID: "p1", OptionID: "B", SubmittedAt: time.Now().UTC()}
	stored, inserted, err := ledger.InsertIfAbsent(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	if stored.OptionID != "B" {
		t.Fatalf("unexpected stored response %+v", stored)
	}

	dup := &domain.Response{ActivationID: "act-1", ParticipantID: "p1", OptionID: "A", SubmittedAt: time.Now().UTC()}
	existing, inserted, err := ledger.InsertIfAbsent(ctx, dup)
	if err != nil || inserted {
		t.Fatalf("duplicate insert: inserted=%v err=%v", inserted, err)
	}
	if existing.OptionID != "B" {
		t.Fatalf("existing response must be returned unchanged, got %+v", existing)
	}
}

func TestResponseLedgerSettlementClaim(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)
	ledger := NewResponseLedger(client, time.Minute)

	if _, _, err := ledger.InsertIfAbsent(ctx, &domain.Response{ActivationID: "act-1", ParticipantID: "p1", OptionID: "B"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	claimed, err := ledger.MarkScored(ctx, "act-1", "p1", true, 90)
	if err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}
	// Claims expire with their responses instead of accumulating forever.
	if mr.TTL("activation:act-1:scored") <= 0 {
		t.Fatalf("expected TTL on the claim hash")
	}
	claimed, err = ledger.MarkScored(ctx, "act-1", "p1", true, 90)
	if err != nil || claimed {
		t.Fatalf("second claim must lose: claimed=%v err=%v", claimed, err)
	}

	resp, found, err := ledger.Get(ctx, "act-1", "p1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if !resp.Scored || resp.PointsAwarded == nil || *resp.PointsAwarded != 90 {
		t.Fatalf("outcome not recorded: %+v", resp)
	}

	pending, err := ledger.ListUnscored(ctx, "act-1")
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected nothing pending, got %d err=%v", len(pending), err)
	}

	if err := ledger.UnmarkScored(ctx, "act-1", "p1"); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	pending, _ = ledger.ListUnscored(ctx, "act-1")
	if len(pending) != 1 {
		t.Fatalf("released claim must be pending again, got %d", len(pending))
	}

	// Claiming a response that was never recorded reports the held claim
	// alongside the error so the caller can release it.
	claimed, err = ledger.MarkScored(ctx, "act-1", "ghost", true, 5)
	if !claimed || !errors.Is(err, domain.ErrResponseNotFound) {
		t.Fatalf("expected held claim with ErrResponseNotFound, got claimed=%v err=%v", claimed, err)
	}
}

func TestScoreLedgerVersionCAS(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	ledger := NewScoreLedger(client, time.Minute)

	p := &domain.Participant{ParticipantID: "p1", DisplayName: "Alice", JoinedAt: time.Now().UTC(), Version: 1}
	if err := ledger.Upsert(ctx, "room-1", p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ledger.Upsert(ctx, "room-1", p); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale write must lose, got %v", err)
	}

	next := *p
	next.Score = 90
	next.AnswerCount = 1
	next.Version = 2
	if err := ledger.Upsert(ctx, "room-1", &next); err != nil {
		t.Fatalf("bump: %v", err)
	}

	got, found, err := ledger.Get(ctx, "room-1", "p1")
	if err != nil || !found || got.Score != 90 || got.Version != 2 {
		t.Fatalf("get after bump: %+v found=%v err=%v", got, found, err)
	}

	rows, err := ledger.List(ctx, "room-1")
	if err != nil || len(rows) != 1 {
		t.Fatalf("list: %d err=%v", len(rows), err)
	}
}

func TestTallyStoreIncrements(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	store := NewTallyStore(client, time.Minute)

	if _, err := store.Incr(ctx, "act-1", "spring"); err != nil {
		t.Fatalf("incr: %v", err)
	}
	if n, err := store.Incr(ctx, "act-1", "spring"); err != nil || n != 2 {
		t.Fatalf("incr 2: n=%d err=%v", n, err)
	}
	if _, err := store.Incr(ctx, "act-1", "summer"); err != nil {
		t.Fatalf("incr summer: %v", err)
	}

	tally, err := store.Get(ctx, "act-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tally.Counts["spring"] != 2 || tally.Counts["summer"] != 1 {
		t.Fatalf("unexpected tally %+v", tally.Counts)
	}
}

func TestActivationStoreUpdateCAS(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	store := NewActivationStore(client, time.Minute)

	act := &domain.Activation{ID: "act-1", RoomID: "room-1", Kind: domain.KindPoll, PollPhase: domain.PhasePending, Version: 1}
	if err := store.Save(ctx, act); err != nil {
		t.Fatalf("save: %v", err)
	}

	next := *act
	next.PollPhase = domain.PhaseVoting
	next.Version = 2
	if err := store.Update(ctx, &next); err != nil {
		t.Fatalf("update: %v", err)
	}
	// Replaying the same update (version 2 again) must lose.
	if err := store.Update(ctx, &next); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, err := store.Get(ctx, "act-1")
	if err != nil || got.PollPhase != domain.PhaseVoting || got.Version != 2 {
		t.Fatalf("get: %+v err=%v", got, err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got %v", err)
	}
}

func TestTemplateRepositoryCachesInRedis(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)

	loader := &countingLoader{
		TemplateLoader: memory.NewStaticTemplateLoader(map[string]domain.Template{
			"tmpl-1": {ID: "tmpl-1", Kind: domain.KindMultipleChoice, Prompt: "Pick B", CorrectAnswer: "B"},
		}),
	}
	repo := NewTemplateRepository(client, loader, time.Minute)

	if _, err := repo.GetTemplate(ctx, "tmpl-1"); err != nil {
		t.Fatalf("get template: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("template:tmpl-1") {
		t.Fatalf("expected template cached in redis")
	}

	if _, err := repo.GetTemplate(ctx, "tmpl-1"); err != nil {
		t.Fatalf("get template 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
}

type countingLoader struct {
	memory.TemplateLoader
	calls int
}

func (l *countingLoader) LoadTemplate(ctx context.Context, templateID string) (domain.Template, error) {
	l.calls++
	return l.TemplateLoader.LoadTemplate(ctx, templateID)
}
