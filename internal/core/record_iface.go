package core

import (
	"context"

	"github.com/dkeye/televisit/internal/domain"
)

// CallRecordSink stores the outcome of a finished session for audit.
type CallRecordSink interface {
	WriteCallRecord(ctx context.Context, rec domain.CallRecord) error
}

// CallRecordStore is a sink that can also be queried, used by the relay.
type CallRecordStore interface {
	CallRecordSink
	ListCallRecords(ctx context.Context, room domain.RoomID) ([]domain.CallRecord, error)
}
