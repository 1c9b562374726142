package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"live-session-service/internal/domain"
)

const scoreApplyAttempts = 5

// Scorer decides correctness and point value for responses and applies the
// deltas to the score ledger. Each response is settled at most once: the
// MarkScored claim on the ledger serializes concurrent scoring attempts for
// the same response, and the participant-row compare-and-swap serializes
// updates for the same participant while leaving others fully parallel.
type Scorer struct {
	responses ResponseLedger
	scores    ScoreLedger
}

func NewScorer(responses ResponseLedger, scores ScoreLedger) *Scorer {
	return &Scorer{responses: responses, scores: scores}
}

// ScoreAndApply settles one response. Calling it again for an
// already-settled response is a no-op returning the stored outcome.
func (s *Scorer) ScoreAndApply(ctx context.Context, roomID string, act *domain.Activation, resp *domain.Response) (*domain.Response, error) {
	if resp.Scored {
		return resp, nil
	}

	correct, points := domain.ScoreResponse(act, resp)

	claimed, err := s.responses.MarkScored(ctx, resp.ActivationID, resp.ParticipantID, correct, points)
	if err != nil {
		// The claim may already be held even though recording the outcome
		// failed; release it or the response is skipped by every settlement
		// pass and the award is lost for good.
		if claimed {
			s.releaseClaim(ctx, resp.ActivationID, resp.ParticipantID)
		}
		return nil, fmt.Errorf("claim response: %w", err)
	}
	if !claimed {
		// Another attempt already settled (or is settling) this response.
		stored, _, err := s.responses.Get(ctx, resp.ActivationID, resp.ParticipantID)
		if err != nil {
			return nil, err
		}
		return stored, nil
	}

	if err := s.applyDelta(ctx, roomID, act, resp, correct, points); err != nil {
		// Release the claim so a settlement re-run retries this response
		// instead of silently dropping the award.
		s.releaseClaim(ctx, resp.ActivationID, resp.ParticipantID)
		return nil, err
	}

	out := *resp
	out.Scored = true
	out.IsCorrect = &correct
	out.PointsAwarded = &points
	return &out, nil
}

func (s *Scorer) releaseClaim(ctx context.Context, activationID, participantID string) {
	if err := s.responses.UnmarkScored(ctx, activationID, participantID); err != nil {
		log.Printf("scorer: release claim for %s/%s: %v", activationID, participantID, err)
	}
}

// applyDelta folds the outcome into the participant row, retrying with
// freshly read state when a concurrent writer wins the compare-and-swap.
func (s *Scorer) applyDelta(ctx context.Context, roomID string, act *domain.Activation, resp *domain.Response, correct bool, points int) error {
	latency := responseLatency(act, resp)

	var lastErr error
	for attempt := 0; attempt < scoreApplyAttempts; attempt++ {
		p, found, err := s.scores.Get(ctx, roomID, resp.ParticipantID)
		if err != nil {
			lastErr = err
			continue
		}
		if !found {
			return domain.ErrParticipantNotFound
		}

		next := *p
		next.RecordResult(correct, points, latency)
		next.Version = p.Version + 1

		err = s.scores.Upsert(ctx, roomID, &next)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			// Lost the race to another activation's settlement for the same
			// participant; re-read and reapply.
			lastErr = err
			continue
		}
		lastErr = err
	}
	return fmt.Errorf("apply score for %s: %w", resp.ParticipantID, lastErr)
}

// SettleUnscored scores every response to the activation that has not been
// settled yet. One participant failing does not block the rest, and the
// whole batch is safely re-runnable: settled responses are skipped by the
// MarkScored claim. Returns the number of responses that failed.
func (s *Scorer) SettleUnscored(ctx context.Context, roomID string, act *domain.Activation) (int, error) {
	pending, err := s.responses.ListUnscored(ctx, act.ID)
	if err != nil {
		return 0, fmt.Errorf("list unscored: %w", err)
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, resp := range pending {
		resp := resp
		g.Go(func() error {
			if _, err := s.ScoreAndApply(gctx, roomID, act, resp); err != nil {
				failed.Add(1)
				log.Printf("scorer: settle %s/%s: %v", act.ID, resp.ParticipantID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load()), nil
}

// responseLatency is the elapsed time between the countdown start (or the
// activation's creation when untimed) and the submission.
func responseLatency(act *domain.Activation, resp *domain.Response) time.Duration {
	start := act.CreatedAt
	if act.TimerStartedAt != nil {
		start = *act.TimerStartedAt
	}
	latency := resp.SubmittedAt.Sub(start)
	if latency < 0 {
		latency = 0
	}
	return latency
}
