package domain

import (
	"errors"
	"fmt"
	"time"
)

type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed"
	OutcomeFailed    CallOutcome = "failed"
	OutcomeCancelled CallOutcome = "cancelled"
)

// CallRecord is written once when a session tears down. StartedAt is when
// the session started; ConnectedAt is zero for a call that never connected.
// DurationMs counts connected time only.
type CallRecord struct {
	Room        RoomID      `json:"room_id"`
	User        UserID      `json:"user_id"`
	Role        Role        `json:"role"`
	StartedAt   time.Time   `json:"started_at"`
	ConnectedAt time.Time   `json:"connected_at,omitzero"`
	EndedAt     time.Time   `json:"ended_at"`
	DurationMs  int64       `json:"duration_ms"`
	Outcome     CallOutcome `json:"outcome"`
	Reason      string      `json:"reason,omitempty"`
}

// NewCallRecord computes the duration from the connected window. connectedAt
// is zero when the call never reached the connected state.
func NewCallRecord(sc SessionContext, startedAt, connectedAt, endedAt time.Time, outcome CallOutcome, reason string) CallRecord {
	rec := CallRecord{
		Room:      sc.Room,
		User:      sc.Self.ID,
		Role:      sc.Self.Role,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Outcome:   outcome,
		Reason:    reason,
	}
	if !connectedAt.IsZero() && endedAt.After(connectedAt) {
		rec.ConnectedAt = connectedAt
		rec.DurationMs = endedAt.Sub(connectedAt).Milliseconds()
	}
	return rec
}

var ErrUnknownOutcome = errors.New("unknown call outcome")

// Validate checks a record received from outside the process.
func (r CallRecord) Validate() error {
	if err := r.Room.Validate(); err != nil {
		return err
	}
	if err := r.User.Validate(); err != nil {
		return err
	}
	switch r.Outcome {
	case OutcomeCompleted, OutcomeFailed, OutcomeCancelled:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, r.Outcome)
	}
	if r.DurationMs < 0 {
		return fmt.Errorf("negative duration %d", r.DurationMs)
	}
	return nil
}
