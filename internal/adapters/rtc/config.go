package rtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/televisit/internal/config"
	"github.com/pion/webrtc/v4"
)

var ErrTooFewICEServers = errors.New("rtc: at least two ICE servers are required")

type Config struct {
	ICEServers          []webrtc.ICEServer
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	// IncludeLoopback lets two peers on one host connect over 127.0.0.1.
	IncludeLoopback bool
}

func (c Config) Validate() error {
	if len(c.ICEServers) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewICEServers, len(c.ICEServers))
	}
	return nil
}

func FromConfig(cc config.CallConfig) Config {
	servers := make([]webrtc.ICEServer, 0, len(cc.ICEServers))
	for _, s := range cc.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		servers = append(servers, srv)
	}
	return Config{
		ICEServers:          servers,
		DisconnectedTimeout: cc.ICEDisconnected,
		FailedTimeout:       cc.ICEFailed,
		KeepAliveInterval:   cc.ICEKeepalive,
		IncludeLoopback:     cc.IncludeLoopback,
	}
}
