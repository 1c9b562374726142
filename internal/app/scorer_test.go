package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"live-session-service/internal/app"
	"live-session-service/internal/domain"
	"live-session-service/internal/infra/memory"
)

// flakyScoreLedger fails Upsert for selected participants until cleared,
// simulating a transient storage error during batch settlement.
type flakyScoreLedger struct {
	*memory.ScoreLedger
	mu      sync.Mutex
	failing map[string]bool
}

func (l *flakyScoreLedger) Upsert(ctx context.Context, roomID string, p *domain.Participant) error {
	l.mu.Lock()
	fail := l.failing[p.ParticipantID]
	l.mu.Unlock()
	if fail {
		return fmt.Errorf("simulated storage outage for %s", p.ParticipantID)
	}
	return l.ScoreLedger.Upsert(ctx, roomID, p)
}

func (l *flakyScoreLedger) recover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing = map[string]bool{}
}

// Scenario: timer-expiry settlement over 50 responses with 3 transient
// failures; the re-run settles exactly those 3 and never double-awards.
func TestSettleUnscoredPartialFailureRerun(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	responses := memory.NewResponseLedger()
	scores := &flakyScoreLedger{
		ScoreLedger: memory.NewScoreLedger(),
		failing:     map[string]bool{"p3": true, "p17": true, "p42": true},
	}
	scorer := app.NewScorer(responses, scores)

	act := &domain.Activation{
		ID:               "act-1",
		RoomID:           "room-1",
		Kind:             domain.KindMultipleChoice,
		CorrectAnswer:    "B",
		TimeLimitSeconds: 10,
		CreatedAt:        start,
		TimerStartedAt:   &start,
	}

	const total = 50
	for i := 0; i < total; i++ {
		pid := fmt.Sprintf("p%d", i)
		if err := scores.ScoreLedger.Upsert(ctx, "room-1", &domain.Participant{ParticipantID: pid, DisplayName: pid, JoinedAt: start, Version: 1}); err != nil {
			t.Fatalf("seed participant: %v", err)
		}
		if _, inserted, err := responses.InsertIfAbsent(ctx, &domain.Response{
			ActivationID:  "act-1",
			ParticipantID: pid,
			OptionID:      "B",
			SubmittedAt:   start.Add(2 * time.Second),
		}); err != nil || !inserted {
			t.Fatalf("seed response %s: inserted=%v err=%v", pid, inserted, err)
		}
	}

	failed, err := scorer.SettleUnscored(ctx, "room-1", act)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if failed != 3 {
		t.Fatalf("expected 3 failures, got %d", failed)
	}
	pending, _ := responses.ListUnscored(ctx, "act-1")
	if len(pending) != 3 {
		t.Fatalf("expected 3 unscored after partial failure, got %d", len(pending))
	}

	scores.recover()

	failed, err = scorer.SettleUnscored(ctx, "room-1", act)
	if err != nil {
		t.Fatalf("re-run: %v", err)
	}
	if failed != 0 {
		t.Fatalf("re-run should settle the rest, got %d failures", failed)
	}
	pending, _ = responses.ListUnscored(ctx, "act-1")
	if len(pending) != 0 {
		t.Fatalf("expected everything settled, got %d pending", len(pending))
	}

	// No double-award anywhere: every participant scored exactly once.
	rows, _ := scores.ScoreLedger.List(ctx, "room-1")
	if len(rows) != total {
		t.Fatalf("expected %d participants, got %d", total, len(rows))
	}
	expected := rows[0].Score
	for _, p := range rows {
		if p.AnswerCount != 1 || p.Score != expected {
			t.Fatalf("participant %s settled unevenly: %+v", p.ParticipantID, p)
		}
	}
}

// claimFailLedger mimics a backing store where the settlement claim lands
// but recording the outcome fails, the way a Redis claim write can succeed
// while the follow-up body write hits an outage. MarkScored reports
// claimed=true with the error, matching the Redis ledger's contract.
type claimFailLedger struct {
	*memory.ResponseLedger
	mu   sync.Mutex
	fail bool
}

func (l *claimFailLedger) MarkScored(ctx context.Context, activationID, participantID string, correct bool, points int) (bool, error) {
	claimed, err := l.ResponseLedger.MarkScored(ctx, activationID, participantID, correct, points)
	if err != nil || !claimed {
		return claimed, err
	}
	l.mu.Lock()
	fail := l.fail
	l.mu.Unlock()
	if fail {
		return true, fmt.Errorf("simulated outage recording outcome")
	}
	return true, nil
}

func (l *claimFailLedger) recover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = false
}

// A claim that lands while recording the outcome fails must be released, or
// every later settlement pass skips the response and the award is lost.
func TestScoreAndApplyReleasesClaimOnRecordFailure(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	responses := &claimFailLedger{ResponseLedger: memory.NewResponseLedger(), fail: true}
	scores := memory.NewScoreLedger()
	scorer := app.NewScorer(responses, scores)

	act := &domain.Activation{
		ID:            "act-1",
		RoomID:        "room-1",
		Kind:          domain.KindMultipleChoice,
		CorrectAnswer: "B",
		CreatedAt:     start,
	}
	if err := scores.Upsert(ctx, "room-1", &domain.Participant{ParticipantID: "p1", Version: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	resp := &domain.Response{ActivationID: "act-1", ParticipantID: "p1", OptionID: "B", SubmittedAt: start.Add(time.Second)}
	if _, _, err := responses.InsertIfAbsent(ctx, resp); err != nil {
		t.Fatalf("seed response: %v", err)
	}

	if _, err := scorer.ScoreAndApply(ctx, "room-1", act, resp); err == nil {
		t.Fatalf("expected outage error")
	}
	pending, _ := responses.ListUnscored(ctx, "act-1")
	if len(pending) != 1 {
		t.Fatalf("failed settlement must stay visible to re-runs, got %d pending", len(pending))
	}

	// Outage clears; the settlement pass must pick the response up again.
	responses.recover()
	failed, err := scorer.SettleUnscored(ctx, "room-1", act)
	if err != nil || failed != 0 {
		t.Fatalf("re-run: failed=%d err=%v", failed, err)
	}
	p, _, _ := scores.Get(ctx, "room-1", "p1")
	if p.AnswerCount != 1 || p.Score <= 0 {
		t.Fatalf("award must land after the outage clears, got %+v", p)
	}
	stored, _, _ := responses.Get(ctx, "act-1", "p1")
	if !stored.Scored {
		t.Fatalf("response must be settled, got %+v", stored)
	}
}

// Concurrent settlement attempts for the same response must apply exactly once.
func TestScoreAndApplyIsIdempotentUnderRaces(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	responses := memory.NewResponseLedger()
	scores := memory.NewScoreLedger()
	scorer := app.NewScorer(responses, scores)

	act := &domain.Activation{
		ID:          "act-1",
		RoomID:      "room-1",
		Kind:        domain.KindTextAnswer,
		ExactAnswer: "Paris",
		CreatedAt:   start,
	}
	if err := scores.Upsert(ctx, "room-1", &domain.Participant{ParticipantID: "p1", Version: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	resp := &domain.Response{ActivationID: "act-1", ParticipantID: "p1", Answer: " paris ", SubmittedAt: start.Add(time.Second)}
	if _, _, err := responses.InsertIfAbsent(ctx, resp); err != nil {
		t.Fatalf("seed response: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = scorer.ScoreAndApply(ctx, "room-1", act, resp)
		}()
	}
	wg.Wait()

	p, _, _ := scores.Get(ctx, "room-1", "p1")
	if p.AnswerCount != 1 || p.CorrectCount != 1 {
		t.Fatalf("expected single application, got %+v", p)
	}
	stored, _, _ := responses.Get(ctx, "act-1", "p1")
	if !stored.Scored || stored.IsCorrect == nil || !*stored.IsCorrect {
		t.Fatalf("expected response marked correct, got %+v", stored)
	}
}
