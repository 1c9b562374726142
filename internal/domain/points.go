package domain

import "time"

// Point bases per activation kind. Polls award flat participation credit.
const (
	basePointsQuestion = 100
	basePointsPoll     = 10
)

// ScoreResponse decides correctness and point value for a response.
// It is the single authoritative formula: deterministic, and the awarded
// points never increase as elapsed response time grows. Any client-side
// computation is a preview and is overwritten by this result.
func ScoreResponse(act *Activation, resp *Response) (correct bool, points int) {
	switch act.Kind {
	case KindMultipleChoice:
		correct = resp.OptionID == act.CorrectAnswer
	case KindTextAnswer:
		correct = AnswerMatches(act.ExactAnswer, resp.Answer)
	case KindPoll:
		// No correctness concept; voting at all earns the flat credit.
		return false, basePointsPoll
	default:
		return false, 0
	}
	if !correct {
		return false, 0
	}
	return true, decayedPoints(basePointsQuestion, act, resp.SubmittedAt)
}

// decayedPoints applies linear time decay from the full base at elapsed=0
// down to half the base at elapsed=limit, clamped so any correct answer
// keeps at least the floor.
func decayedPoints(base int, act *Activation, submittedAt time.Time) int {
	start := act.CreatedAt
	if act.TimerStartedAt != nil {
		start = *act.TimerStartedAt
	}
	if act.TimeLimitSeconds <= 0 {
		return base
	}
	elapsed := submittedAt.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	limit := time.Duration(act.TimeLimitSeconds) * time.Second
	floor := base / 2
	if elapsed >= limit {
		return floor
	}
	bonus := float64(base-floor) * (1 - float64(elapsed)/float64(limit))
	return floor + int(bonus)
}
