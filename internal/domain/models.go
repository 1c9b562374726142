package domain

import (
	"strings"
	"time"
)

// ActivationKind enumerates what a room can put in front of participants.
type ActivationKind string

const (
	KindMultipleChoice ActivationKind = "multiple_choice"
	KindTextAnswer     ActivationKind = "text_answer"
	KindPoll           ActivationKind = "poll"
	KindLeaderboard    ActivationKind = "leaderboard"
)

// Scorable reports whether responses to this kind carry a correctness concept.
func (k ActivationKind) Scorable() bool {
	return k == KindMultipleChoice || k == KindTextAnswer
}

// AcceptsResponses reports whether participants can submit anything at all.
func (k ActivationKind) AcceptsResponses() bool {
	return k != KindLeaderboard
}

// PollPhase is the voting sub-state machine for poll activations.
type PollPhase string

const (
	PhasePending PollPhase = "pending"
	PhaseVoting  PollPhase = "voting"
	PhaseClosed  PollPhase = "closed"
)

// ordinal orders the phases. Normal flow only moves forward:
// pending(0) -> voting(1) -> closed(2).
func (p PollPhase) ordinal() int {
	switch p {
	case PhaseVoting:
		return 1
	case PhaseClosed:
		return 2
	default:
		return 0
	}
}

// Option is one selectable answer of a multiple-choice question or poll.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Template is the immutable authored content an activation is created from.
type Template struct {
	ID               string         `json:"id"`
	Kind             ActivationKind `json:"kind"`
	Prompt           string         `json:"prompt"`
	Options          []Option       `json:"options,omitempty"`
	CorrectAnswer    string         `json:"correctAnswer,omitempty"` // option ID, multiple_choice only
	ExactAnswer      string         `json:"exactAnswer,omitempty"`   // text_answer only
	TimeLimitSeconds int            `json:"timeLimitSeconds,omitempty"`
}

// Activation is a live instance of a template shown to a room.
// Runtime fields are mutated only through the session service; once the room
// pointer moves on, the row is retained but never touched again.
type Activation struct {
	ID               string         `json:"id"`
	RoomID           string         `json:"roomId"`
	TemplateID       string         `json:"templateId"`
	Kind             ActivationKind `json:"kind"`
	Prompt           string         `json:"prompt"`
	Options          []Option       `json:"options,omitempty"`
	CorrectAnswer    string         `json:"correctAnswer,omitempty"`
	ExactAnswer      string         `json:"exactAnswer,omitempty"`
	TimeLimitSeconds int            `json:"timeLimitSeconds,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	TimerStartedAt   *time.Time     `json:"timerStartedAt,omitempty"`
	RevealAnswers    bool           `json:"revealAnswers"`
	PollPhase        PollPhase      `json:"pollPhase,omitempty"`
	// Version increases on every runtime mutation; clients use it to drop
	// stale broadcasts instead of blindly overwriting newer state.
	Version int64 `json:"version"`
}

// TimerExpired reports whether the activation's countdown has run out.
// Activations without a started timer never expire.
func (a *Activation) TimerExpired(now time.Time) bool {
	if a.TimerStartedAt == nil || a.TimeLimitSeconds <= 0 {
		return false
	}
	return now.Sub(*a.TimerStartedAt) >= time.Duration(a.TimeLimitSeconds)*time.Second
}

// Response is a participant's single accepted answer or vote for one activation.
// Exactly zero or one exists per (activation, participant).
type Response struct {
	ActivationID  string    `json:"activationId"`
	ParticipantID string    `json:"participantId"`
	Answer        string    `json:"answer,omitempty"`   // free text (text_answer)
	OptionID      string    `json:"optionId,omitempty"` // selected option (multiple_choice, poll)
	SubmittedAt   time.Time `json:"submittedAt"`
	Scored        bool      `json:"scored"`
	IsCorrect     *bool     `json:"isCorrect,omitempty"`
	PointsAwarded *int      `json:"pointsAwarded,omitempty"`
}

// Participant is the per-room score ledger row. Stats are weighted running
// aggregates, valid because updates for one participant are serialized by the
// Version compare-and-swap.
type Participant struct {
	ParticipantID     string    `json:"participantId"`
	DisplayName       string    `json:"displayName"`
	Score             int       `json:"score"`
	AnswerCount       int       `json:"answerCount"`
	CorrectCount      int       `json:"correctCount"`
	AvgResponseMillis float64   `json:"avgResponseMillis"`
	JoinedAt          time.Time `json:"joinedAt"`
	// Version is the CAS token guarding score ledger writes.
	Version int64 `json:"version"`
}

// RecordResult folds one scored response into the running aggregates.
func (p *Participant) RecordResult(correct bool, points int, latency time.Duration) {
	prev := float64(p.AnswerCount)
	p.AnswerCount++
	if correct {
		p.CorrectCount++
	}
	p.Score += points
	p.AvgResponseMillis = (p.AvgResponseMillis*prev + float64(latency.Milliseconds())) / float64(p.AnswerCount)
}

// Pointer is the single per-room reference to the current activation.
// ActivationID empty means no activation is live. Version is the CAS token
// that serializes pointer writes across concurrent host devices.
type Pointer struct {
	RoomID       string `json:"roomId"`
	ActivationID string `json:"activationId"`
	Version      int64  `json:"version"`
}

// Tally is the per-option vote count for a poll activation.
type Tally struct {
	ActivationID string         `json:"activationId"`
	Counts       map[string]int `json:"counts"`
}

// Submission is the participant payload handed to the submission guard.
type Submission struct {
	Answer   string `json:"answer,omitempty"`
	OptionID string `json:"optionId,omitempty"`
}

// Validate rejects malformed payloads before they reach the ledger.
func (s Submission) Validate(kind ActivationKind) error {
	switch kind {
	case KindMultipleChoice, KindPoll:
		if strings.TrimSpace(s.OptionID) == "" {
			return ErrEmptySubmission
		}
	case KindTextAnswer:
		if strings.TrimSpace(s.Answer) == "" {
			return ErrEmptySubmission
		}
	default:
		return ErrEmptySubmission
	}
	return nil
}

// AnswerMatches compares a free-text answer against the key,
// case-insensitive and whitespace-trimmed.
func AnswerMatches(key, answer string) bool {
	return strings.EqualFold(strings.TrimSpace(key), strings.TrimSpace(answer))
}
