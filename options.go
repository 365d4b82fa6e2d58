package clamav

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// DialFunc opens the connection used by a single scan session.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ClientOption configures the INSTREAM client.
type ClientOption func(*Client)

// WithChunkSize sets the number of payload bytes sent per chunk (default: 4096).
// Values outside 1..MaxChunkSize are ignored.
func WithChunkSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 && int64(size) <= MaxChunkSize {
			c.chunkSize = size
		}
	}
}

// WithTimeout bounds every scan session with a socket deadline.
// If a context with an earlier deadline is provided to a method, that deadline takes precedence.
// Non-positive durations are ignored (no-op), leaving the socket fully blocking.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialer replaces the function used to connect to the daemon.
// The dialer receives the "unix" network and the client's socket path.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithLogger sets the logger used for per-session trace and debug output.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}
