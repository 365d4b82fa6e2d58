package clamav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const networkUnix = "unix"

// Client is the INSTREAM client for a clamd daemon listening on a local socket.
// It holds only immutable configuration and is safe for concurrent use from
// multiple goroutines; every scan opens its own connection.
type Client struct {
	socketPath string
	chunkSize  int
	timeout    time.Duration
	dial       DialFunc
	logger     logrus.FieldLogger
}

// NewClient creates an INSTREAM client for the daemon socket at socketPath,
// e.g. "/var/run/clamav/clamd.ctl". The path is not checked for existence.
func NewClient(socketPath string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(socketPath) == "" {
		return nil, NewValidationError("socket path is required", nil)
	}

	c := &Client{
		socketPath: socketPath,
		chunkSize:  DefaultChunkSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.dial == nil {
		dialer := &net.Dialer{}
		c.dial = dialer.DialContext
	}
	if c.logger == nil {
		c.logger = discardLogger()
	}

	return c, nil
}

// SocketPath returns the daemon socket the client connects to.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Scan scans an in-memory block and reports whether the daemon confirmed it clean.
func (c *Client) Scan(ctx context.Context, data []byte) (bool, error) {
	result, err := c.ScanFile(ctx, data, "")
	if err != nil {
		return false, err
	}
	return result.IsClean(), nil
}

// ScanReader streams r to the daemon and reports whether it confirmed the content clean.
// r is consumed exactly once, in order, and must not be shared with a concurrent scan.
func (c *Client) ScanReader(ctx context.Context, r io.Reader) (bool, error) {
	result, err := c.ScanStream(ctx, r, "")
	if err != nil {
		return false, err
	}
	return result.IsClean(), nil
}

// ScanFile scans file data provided as a byte slice.
// filename is optional metadata copied into the result.
func (c *Client) ScanFile(ctx context.Context, data []byte, filename string) (*ScanResult, error) {
	return c.ScanStream(ctx, bytes.NewReader(data), filename)
}

// ScanFilePath opens a file from disk and streams it to the daemon.
func (c *Client) ScanFilePath(ctx context.Context, filePath string) (*ScanResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("failed to open file: %s", filePath), err)
	}
	defer f.Close()

	return c.ScanStream(ctx, f, filepath.Base(filePath))
}

// ScanStream runs one INSTREAM session over a fresh connection and returns the
// classified reply. A non-clean reply is a result, not an error.
func (c *Client) ScanStream(ctx context.Context, r io.Reader, filename string) (*ScanResult, error) {
	if r == nil {
		return nil, NewValidationError("reader is required", nil)
	}

	scanID := uuid.NewString()
	log := c.logger.WithFields(logrus.Fields{
		"scan_id": scanID,
		"socket":  c.socketPath,
	})
	start := time.Now()

	conn, err := c.dial(ctx, networkUnix, c.socketPath)
	if err != nil {
		log.WithError(err).Debug("clamd connect failed")
		return nil, classifyDialError(ctx, err)
	}
	defer conn.Close()

	stop, err := c.bindDeadline(ctx, conn)
	if err != nil {
		return nil, classifyIOError(ctx, err, "set deadline")
	}
	defer stop()

	s := &session{conn: conn, cw: newChunkWriter(conn, c.chunkSize), log: log}
	raw, err := s.run(r)
	if err != nil {
		var srcErr *sourceError
		if errors.As(err, &srcErr) {
			return nil, NewSourceError("failed to read data", srcErr.err)
		}
		return nil, classifyIOError(ctx, err, s.stage)
	}

	result := ParseReply(raw)
	result.Filename = filename
	result.ScanID = scanID
	result.Chunks = s.cw.chunks
	result.Bytes = s.cw.bytes
	result.ScanTime = time.Since(start).Seconds()

	log.WithFields(logrus.Fields{
		"status":   result.Status,
		"chunks":   result.Chunks,
		"bytes":    result.Bytes,
		"duration": time.Since(start),
	}).Debug("clamd scan finished")

	return result, nil
}

// bindDeadline applies the earliest of the client timeout and the context
// deadline to conn, and forces the deadline to now if ctx is canceled while
// the session is blocked. The returned func detaches the cancel hook.
func (c *Client) bindDeadline(ctx context.Context, conn net.Conn) (func() bool, error) {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	}), nil
}

// session drives one INSTREAM conversation on an exclusively owned connection.
type session struct {
	conn  net.Conn
	cw    *chunkWriter
	log   *logrus.Entry
	stage string
}

func (s *session) run(r io.Reader) (string, error) {
	s.stage = "send command"
	s.log.Trace("send command")
	if err := s.cw.writeCommand(); err != nil {
		return "", err
	}

	s.stage = "send stream"
	s.log.Trace("send stream")
	if err := s.cw.writeStream(r); err != nil {
		return "", err
	}

	s.stage = "end stream"
	s.log.WithField("chunks", s.cw.chunks).Trace("end stream")
	if err := s.cw.writeTerminator(); err != nil {
		return "", err
	}

	s.stage = "read reply"
	s.log.Trace("read reply")
	return readReply(s.conn)
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
