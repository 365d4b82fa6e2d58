package grpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	clamav "github.com/DevHatRo/clamd-instream-go"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client scans through a remote bridge. It is safe for concurrent use.
type Client struct {
	conn *grpclib.ClientConn
	cfg  clientConfig
}

// NewClient connects lazily to the bridge at target, for example
// "localhost:9000" or "unix:///run/clamav-instream/bridge.sock".
func NewClient(target string, opts ...ClientOption) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	conn, err := grpclib.NewClient(target, cfg.dialOptions()...)
	if err != nil {
		return nil, clamav.NewConnectionError("failed to create bridge connection", err)
	}
	return &Client{conn: conn, cfg: cfg}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Scan reports whether the remote daemon confirmed data clean.
func (c *Client) Scan(ctx context.Context, data []byte) (bool, error) {
	result, err := c.ScanStream(ctx, data, "")
	if err != nil {
		return false, err
	}
	return result.IsClean(), nil
}

// ScanStream scans an in-memory block.
func (c *Client) ScanStream(ctx context.Context, data []byte, filename string) (*clamav.ScanResult, error) {
	return c.ScanStreamReader(ctx, bytes.NewReader(data), filename)
}

// ScanStreamFile scans the file at filePath, reporting its base name.
func (c *Client) ScanStreamFile(ctx context.Context, filePath string) (*clamav.ScanResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, clamav.NewValidationError("failed to open file: "+filePath, err)
	}
	defer f.Close()

	return c.ScanStreamReader(ctx, f, filepath.Base(filePath))
}

// ScanStreamReader streams r to the bridge in chunk-sized messages and waits
// for the verdict. r is read once and never buffered whole.
func (c *Client) ScanStreamReader(ctx context.Context, r io.Reader, filename string) (*clamav.ScanResult, error) {
	if r == nil {
		return nil, clamav.NewValidationError("reader is required", nil)
	}

	// Canceling on return also releases the stream when sending fails.
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); ok {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.timeout)
	}
	defer cancel()
	if filename != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, FilenameMetadataKey, filename)
	}

	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], scanMethod)
	if err != nil {
		return nil, mapGRPCError(err)
	}

	if err := c.send(stream, r); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, mapGRPCError(err)
	}

	resp := new(structpb.Struct)
	if err := stream.RecvMsg(resp); err != nil {
		return nil, mapGRPCError(err)
	}
	return decodeResult(resp), nil
}

// send copies r into the stream. SendMsg marshals before returning, so one
// buffer serves every message. io.EOF from SendMsg means the server already
// ended the call; its status is reported by RecvMsg.
func (c *Client) send(stream grpclib.ClientStream, r io.Reader) error {
	buf := make([]byte, c.cfg.chunkSize)
	msg := new(wrapperspb.BytesValue)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			msg.Value = buf[:n]
			if sendErr := stream.SendMsg(msg); sendErr != nil {
				if errors.Is(sendErr, io.EOF) {
					return nil
				}
				return mapGRPCError(sendErr)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return clamav.NewSourceError("failed to read data", err)
		}
	}
}
