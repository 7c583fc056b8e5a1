package store

import (
	"context"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
)

// LogSink only logs records.
type LogSink struct{}

func (LogSink) WriteCallRecord(_ context.Context, rec domain.CallRecord) error {
	log.Info().
		Str("module", "store.log").
		Str("room", string(rec.Room)).
		Str("user", string(rec.User)).
		Str("role", string(rec.Role)).
		Time("started_at", rec.StartedAt).
		Time("connected_at", rec.ConnectedAt).
		Time("ended_at", rec.EndedAt).
		Int64("duration_ms", rec.DurationMs).
		Str("outcome", string(rec.Outcome)).
		Str("reason", rec.Reason).
		Msg("call record")
	return nil
}

func (LogSink) Close() error { return nil }
