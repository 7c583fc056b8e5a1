package channel

import (
	"context"
	"fmt"

	"github.com/dkeye/televisit/internal/config"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

// Channel is a SignalChannel that holds transport resources.
type Channel interface {
	core.SignalChannel
	Close() error
}

// Open builds the channel selected by cfg.Transport for participant self.
func Open(ctx context.Context, cfg config.SignalConfig, self domain.UserID) (Channel, error) {
	switch cfg.Transport {
	case "memory":
		return NewBus(), nil
	case "websocket":
		return NewWebSocket(cfg.URL, self), nil
	case "nats":
		return DialNATS(cfg.NATSURL, "televisit-"+string(self))
	case "libp2p":
		return NewPubSub(ctx, cfg.Listen, cfg.Peers)
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Transport)
}
