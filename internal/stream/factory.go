package stream

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/minhtran241/edge-computing-models/internal/config"
)

// Options tune both transports. Zero fields take defaults.
type Options struct {
	ConnectTimeout  time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 30 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 100_000_000
	}
	return o
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ConnectTimeout:  cfg.ConnectTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PingInterval:    cfg.PingInterval,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
}

func NewDialerFromConfig(cfg config.Config, logger *slog.Logger) (Dialer, error) {
	opts := OptionsFromConfig(cfg)
	switch cfg.StreamMode {
	case config.StreamModeWebSocket:
		return NewWebSocketDialer(opts, logger), nil
	case config.StreamModeGRPC:
		return NewGRPCDialer(opts, logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported stream mode %q", config.ErrConfiguration, cfg.StreamMode)
	}
}

func NewServerFromConfig(cfg config.Config, logger *slog.Logger) (Server, error) {
	opts := OptionsFromConfig(cfg)
	switch cfg.StreamMode {
	case config.StreamModeWebSocket:
		return NewWebSocketServer(cfg.ListenAddr, opts, logger), nil
	case config.StreamModeGRPC:
		return NewGRPCServer(cfg.ListenAddr, opts, logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported stream mode %q", config.ErrConfiguration, cfg.StreamMode)
	}
}
