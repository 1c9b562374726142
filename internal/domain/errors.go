package domain

import "errors"

var (
	// ErrActivationNotFound indicates the referenced activation does not exist.
	ErrActivationNotFound = errors.New("activation not found")
	// ErrTemplateNotFound indicates the template content could not be loaded.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrResponseNotFound indicates no response exists for the
	// (activation, participant) pair.
	ErrResponseNotFound = errors.New("response not found")
	// ErrParticipantNotFound is returned when a participant acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrNoCurrentActivation is returned when a submission targets an
	// activation that is no longer the room's current one.
	ErrNoCurrentActivation = errors.New("activation is not current")
	// ErrAlreadyResponded is returned on a second submission for the same
	// (activation, participant) pair. The first response stands.
	ErrAlreadyResponded = errors.New("participant already responded")
	// ErrNotVoting is returned when a poll vote arrives outside the voting phase.
	ErrNotVoting = errors.New("poll is not accepting votes")
	// ErrActivationClosed is returned when a submission arrives after the
	// timer expired or answers were revealed.
	ErrActivationClosed = errors.New("activation is closed")
	// ErrEmptySubmission rejects a payload with no usable answer.
	ErrEmptySubmission = errors.New("submission payload is empty")
	// ErrPointerConflict signals a lost compare-and-swap on the room pointer.
	ErrPointerConflict = errors.New("session pointer changed concurrently")
	// ErrVersionConflict signals a lost compare-and-swap on a score ledger row.
	ErrVersionConflict = errors.New("participant row changed concurrently")
	// ErrInvalidTransition rejects a poll phase move outside pending->voting->closed.
	ErrInvalidTransition = errors.New("invalid poll phase transition")
)
