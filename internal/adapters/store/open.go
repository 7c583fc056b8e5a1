package store

import (
	"fmt"

	"github.com/dkeye/televisit/internal/config"
	"github.com/dkeye/televisit/internal/core"
)

// Sink is a CallRecordSink that may hold a file or connection.
type Sink interface {
	core.CallRecordSink
	Close() error
}

func Open(cfg config.RecordsConfig) (Sink, error) {
	switch cfg.Sink {
	case "log":
		return LogSink{}, nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "http":
		return NewHTTPSink(cfg.URL), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownSink, cfg.Sink)
}
