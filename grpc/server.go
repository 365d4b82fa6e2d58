package grpc

import (
	"io"

	clamav "github.com/DevHatRo/clamd-instream-go"
	"github.com/sirupsen/logrus"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server relays bridge Scan calls to a local clamd through an INSTREAM client.
// It is safe for concurrent use; each call runs its own INSTREAM session.
type Server struct {
	scanner *clamav.Client
	logger  logrus.FieldLogger
}

var _ ScannerServer = (*Server)(nil)

// NewServer creates a bridge server backed by scanner.
func NewServer(scanner *clamav.Client, opts ...ServerOption) (*Server, error) {
	if scanner == nil {
		return nil, clamav.NewValidationError("scanner client is required", nil)
	}

	s := &Server{scanner: scanner}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		s.logger = logger
	}

	return s, nil
}

// Register adds the bridge service to a gRPC server.
func (s *Server) Register(reg grpclib.ServiceRegistrar) {
	reg.RegisterService(&ServiceDesc, s)
}

// Scan consumes the request stream as the payload of one INSTREAM session and
// replies with the scan result.
func (s *Server) Scan(stream grpclib.ServerStream) error {
	ctx := stream.Context()
	filename := filenameFromMetadata(stream)

	reader := &chunkReader{stream: stream}
	result, err := s.scanner.ScanStream(ctx, reader, filename)
	if err != nil {
		s.logger.WithError(err).WithField("filename", filename).Warn("bridge scan failed")
		if reader.callErr != nil {
			return reader.callErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return status.FromContextError(ctxErr).Err()
		}
		return statusFromError(err)
	}

	resp, err := encodeResult(result)
	if err != nil {
		return status.Errorf(codes.Internal, "encode scan result: %v", err)
	}

	s.logger.WithFields(logrus.Fields{
		"scan_id":  result.ScanID,
		"filename": filename,
		"status":   result.Status,
		"bytes":    result.Bytes,
	}).Info("bridge scan finished")

	return stream.SendMsg(resp)
}

func filenameFromMetadata(stream grpclib.ServerStream) string {
	md, ok := metadata.FromIncomingContext(stream.Context())
	if !ok {
		return ""
	}
	if values := md.Get(FilenameMetadataKey); len(values) > 0 {
		return values[0]
	}
	return ""
}

// chunkReader exposes the incoming BytesValue messages as one byte stream.
// A caller that cancels or runs out of time mid-upload is recorded in callErr
// so its status is returned as is.
type chunkReader struct {
	stream  grpclib.ServerStream
	pending []byte
	callErr error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		msg := new(wrapperspb.BytesValue)
		if err := r.stream.RecvMsg(msg); err != nil {
			switch status.Code(err) {
			case codes.Canceled, codes.DeadlineExceeded:
				r.callErr = err
			}
			return 0, err
		}
		r.pending = msg.GetValue()
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
