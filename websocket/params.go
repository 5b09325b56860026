package websocket

import (
	"log/slog"
	"time"
)

const (
	// DefaultMaxMessageSize bounds a message after decompression.
	DefaultMaxMessageSize = 10 << 20

	DefaultCloseTimeout = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Params are the per-connection settings, fixed when the connection is
// created.
type Params struct {
	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration
	// PingTimeout is how long to wait for a pong after each ping. Negative
	// means "same as PingInterval", zero disables the check. It is clamped
	// to PingInterval.
	PingTimeout time.Duration
	// MaxMessageSize applies to the decompressed size of a message.
	MaxMessageSize int64
	// Compression enables permessage-deflate when non-nil.
	Compression *CompressionOptions
	// CloseTimeout is how long a locally started close handshake waits for
	// the peer's close frame before the connection is aborted.
	CloseTimeout time.Duration
	// WriteTimeout bounds each frame write when the stream is a net.Conn.
	// A write that times out aborts the connection. Negative disables it.
	WriteTimeout time.Duration
}

// DefaultParams returns Params with pings off and no compression.
func DefaultParams() Params {
	return Params{
		PingTimeout:    -1,
		MaxMessageSize: DefaultMaxMessageSize,
		CloseTimeout:   DefaultCloseTimeout,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

// Normalize fills defaults and clamps the ping timeout to the interval,
// logging a warning when it had to.
func (p Params) Normalize(logger *slog.Logger) Params {
	if p.MaxMessageSize <= 0 {
		p.MaxMessageSize = DefaultMaxMessageSize
	}
	if p.CloseTimeout == 0 {
		p.CloseTimeout = DefaultCloseTimeout
	}
	if p.WriteTimeout == 0 {
		p.WriteTimeout = DefaultWriteTimeout
	}
	if p.PingInterval < 0 {
		p.PingInterval = 0
	}
	if p.PingTimeout < 0 {
		p.PingTimeout = p.PingInterval
	}
	if p.PingInterval > 0 && p.PingTimeout > p.PingInterval {
		if logger != nil {
			logger.Warn("ping timeout cannot be longer than ping interval, clamping",
				slog.Duration("ping_timeout", p.PingTimeout),
				slog.Duration("ping_interval", p.PingInterval))
		}
		p.PingTimeout = p.PingInterval
	}
	return p
}
