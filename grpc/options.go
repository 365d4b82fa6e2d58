package grpc

import (
	"time"

	"github.com/sirupsen/logrus"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultChunkSize      = 64 * 1024
	defaultMaxMessageSize = 4 * 1024 * 1024
)

// ClientOption configures the gRPC bridge client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout        time.Duration
	chunkSize      int
	maxMessageSize int
	creds          credentials.TransportCredentials
	dialOpts       []grpclib.DialOption
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		timeout:        defaultTimeout,
		chunkSize:      defaultChunkSize,
		maxMessageSize: defaultMaxMessageSize,
	}
}

// dialOptions returns the options passed to grpc.NewClient. Insecure
// credentials are used unless WithTransportCredentials was given.
func (c clientConfig) dialOptions() []grpclib.DialOption {
	creds := c.creds
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	opts := []grpclib.DialOption{
		grpclib.WithTransportCredentials(creds),
		grpclib.WithDefaultCallOptions(
			grpclib.MaxCallRecvMsgSize(c.maxMessageSize),
			grpclib.MaxCallSendMsgSize(c.maxMessageSize),
		),
	}
	return append(opts, c.dialOpts...)
}

// WithDialOptions appends gRPC dial options to the connection.
func WithDialOptions(opts ...grpclib.DialOption) ClientOption {
	return func(c *clientConfig) {
		c.dialOpts = append(c.dialOpts, opts...)
	}
}

// WithTransportCredentials sets TLS or other transport credentials.
func WithTransportCredentials(creds credentials.TransportCredentials) ClientOption {
	return func(c *clientConfig) {
		c.creds = creds
	}
}

// WithTimeout bounds each call that arrives without a context deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithChunkSize sets the payload size of each streamed message. The server
// re-frames the stream into INSTREAM chunks of its own size.
func WithChunkSize(size int) ClientOption {
	return func(c *clientConfig) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithMaxMessageSize caps sent and received message sizes.
func WithMaxMessageSize(size int) ClientOption {
	return func(c *clientConfig) {
		if size > 0 {
			c.maxMessageSize = size
		}
	}
}

// ServerOption configures the gRPC bridge server.
type ServerOption func(*Server)

// WithServerLogger sets the logger used for per-call diagnostics.
func WithServerLogger(logger logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}
