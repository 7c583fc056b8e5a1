package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ErrTooFewICEServers = errors.New("at least two ICE servers are required")
	ErrBadTimeout       = errors.New("timeouts must be positive")
	ErrUnknownTransport = errors.New("unknown signal transport")
	ErrUnknownSink      = errors.New("unknown records sink")
)

type ServerConfig struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	SendBuffer int           `mapstructure:"send_buffer"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
	// DropLimit is how many full-buffer drops a member survives; 0 kicks at once.
	DropLimit int `mapstructure:"drop_limit"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type CallConfig struct {
	ICEServers      []ICEServer   `mapstructure:"ice_servers"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ICEDisconnected time.Duration `mapstructure:"ice_disconnected_timeout"`
	ICEFailed       time.Duration `mapstructure:"ice_failed_timeout"`
	ICEKeepalive    time.Duration `mapstructure:"ice_keepalive"`
	IncludeLoopback bool          `mapstructure:"include_loopback"`
	RecordTimeout   time.Duration `mapstructure:"record_timeout"`
}

type SignalConfig struct {
	Transport string   `mapstructure:"transport"`
	URL       string   `mapstructure:"url"`
	NATSURL   string   `mapstructure:"nats_url"`
	Listen    []string `mapstructure:"listen"`
	Peers     []string `mapstructure:"peers"`
}

type RecordsConfig struct {
	Sink string `mapstructure:"sink"`
	Path string `mapstructure:"path"`
	URL  string `mapstructure:"url"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Server   ServerConfig  `mapstructure:"server"`
	Call     CallConfig    `mapstructure:"call"`
	Signal   SignalConfig  `mapstructure:"signal"`
	Records  RecordsConfig `mapstructure:"records"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.mode", "release")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.drop_limit", 0)
	v.SetDefault("server.read_limit", 32768)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.send_buffer", 64)
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_window", "1s")

	v.SetDefault("call.ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
		{"urls": []string{"stun:stun1.l.google.com:19302"}},
	})
	v.SetDefault("call.connect_timeout", "30s")
	v.SetDefault("call.ice_disconnected_timeout", "5s")
	v.SetDefault("call.ice_failed_timeout", "25s")
	v.SetDefault("call.ice_keepalive", "2s")
	v.SetDefault("call.include_loopback", false)
	v.SetDefault("call.record_timeout", "5s")

	v.SetDefault("signal.transport", "websocket")
	v.SetDefault("signal.url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("signal.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("signal.listen", []string{"/ip4/0.0.0.0/tcp/0"})

	v.SetDefault("records.sink", "log")
	v.SetDefault("records.path", "televisit.db")
	v.SetDefault("records.url", "http://localhost:8080/api/calls")

	v.SetDefault("metrics.addr", "")
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
// TELEVISIT_* variables override file values (TELEVISIT_SERVER_PORT etc).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("televisit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("transport", cfg.Signal.Transport).
		Str("sink", cfg.Records.Sink).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Call.ICEServers) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewICEServers, len(c.Call.ICEServers))
	}
	for i, s := range c.Call.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice_servers[%d]: no urls", i)
		}
	}
	if c.Call.ConnectTimeout <= 0 || c.Call.RecordTimeout <= 0 ||
		c.Call.ICEDisconnected <= 0 || c.Call.ICEFailed <= 0 || c.Call.ICEKeepalive <= 0 {
		return ErrBadTimeout
	}
	switch c.Signal.Transport {
	case "memory", "websocket", "nats", "libp2p":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Signal.Transport)
	}
	switch c.Records.Sink {
	case "log", "sqlite", "http":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSink, c.Records.Sink)
	}
	return nil
}
