package grpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	clamav "github.com/DevHatRo/clamd-instream-go"
	"github.com/DevHatRo/clamd-instream-go/internal/testutil"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// --- Test environment helpers ---

type testEnv struct {
	daemon  *testutil.FakeDaemon
	client  *Client
	lis     *bufconn.Listener
	grpcSrv *grpclib.Server
}

func newTestEnv(t *testing.T, reply testutil.ReplyFunc, opts ...ClientOption) *testEnv {
	t.Helper()

	daemon := testutil.NewFakeDaemon(t, reply)
	return newTestEnvWithSocket(t, daemon, daemon.SocketPath, opts...)
}

func newTestEnvWithSocket(t *testing.T, daemon *testutil.FakeDaemon, socket string, opts ...ClientOption) *testEnv {
	t.Helper()

	scanner, err := clamav.NewClient(socket)
	if err != nil {
		t.Fatalf("clamav.NewClient: %v", err)
	}
	bridge, err := NewServer(scanner)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	lis := bufconn.Listen(bufSize)
	srv := grpclib.NewServer()
	bridge.Register(srv)

	go func() {
		srv.Serve(lis) //nolint:errcheck
	}()

	dialer := grpclib.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	opts = append([]ClientOption{WithDialOptions(dialer), WithTimeout(5 * time.Second)}, opts...)

	client, err := NewClient("passthrough:///bufconn", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	env := &testEnv{daemon: daemon, client: client, lis: lis, grpcSrv: srv}
	t.Cleanup(env.close)
	return env
}

func (e *testEnv) close() {
	e.client.Close()
	e.grpcSrv.Stop()
	e.lis.Close()
}

func foundReply(testutil.Session) [][]byte {
	return testutil.FoundReply("Eicar-Test-Signature")
}

// --- Scan tests ---

func TestScan(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		env := newTestEnv(t, nil)

		clean, err := env.client.Scan(context.Background(), []byte("clean data"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !clean {
			t.Error("expected clean verdict")
		}
	})

	t.Run("infected", func(t *testing.T) {
		env := newTestEnv(t, foundReply)

		clean, err := env.client.Scan(context.Background(), []byte(testutil.EICAR))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clean {
			t.Error("expected not clean")
		}
	})
}

// --- ScanStream tests ---

func TestScanStream(t *testing.T) {
	t.Run("result fields", func(t *testing.T) {
		env := newTestEnv(t, foundReply)

		result, err := env.client.ScanStream(context.Background(), []byte(testutil.EICAR), "eicar.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsInfected() {
			t.Errorf("expected infected, got status %q", result.Status)
		}
		if result.Message != "Eicar-Test-Signature" {
			t.Errorf("Message = %q, want %q", result.Message, "Eicar-Test-Signature")
		}
		if result.Raw != "stream: Eicar-Test-Signature FOUND" {
			t.Errorf("Raw = %q", result.Raw)
		}
		if result.Filename != "eicar.com" {
			t.Errorf("Filename = %q, want %q", result.Filename, "eicar.com")
		}
		if result.Bytes != int64(len(testutil.EICAR)) {
			t.Errorf("Bytes = %d, want %d", result.Bytes, len(testutil.EICAR))
		}
		if result.Chunks != 1 {
			t.Errorf("Chunks = %d, want 1", result.Chunks)
		}
		if result.ScanID == "" {
			t.Error("expected scan ID")
		}
	})

	t.Run("non-ASCII filename", func(t *testing.T) {
		env := newTestEnv(t, nil)

		for _, name := range []string{"résumé.pdf", "отчёт.docx", "報告 2024.xlsx"} {
			result, err := env.client.ScanStream(context.Background(), []byte("clean data"), name)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", name, err)
			}
			if result.Filename != name {
				t.Errorf("Filename = %q, want %q", result.Filename, name)
			}
		}
	})

	t.Run("payload reaches daemon intact", func(t *testing.T) {
		env := newTestEnv(t, nil, WithChunkSize(1000))
		payload := bytes.Repeat([]byte("0123456789"), 5000)

		result, err := env.client.ScanStream(context.Background(), payload, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsClean() {
			t.Errorf("expected clean, got %q", result.Raw)
		}

		s, ok := env.daemon.LastSession()
		if !ok {
			t.Fatal("daemon saw no session")
		}
		if !bytes.Equal(s.Payload(), payload) {
			t.Error("daemon received different payload")
		}
		// 50000 bytes re-framed into 4096-byte INSTREAM chunks.
		if len(s.Chunks) != 13 {
			t.Errorf("INSTREAM chunks = %d, want 13", len(s.Chunks))
		}
	})

	t.Run("empty data", func(t *testing.T) {
		env := newTestEnv(t, nil)

		result, err := env.client.ScanStream(context.Background(), nil, "empty.txt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsClean() {
			t.Error("expected clean")
		}
		s, _ := env.daemon.LastSession()
		if len(s.Chunks) != 0 || !s.Terminated {
			t.Errorf("chunks = %d terminated = %v", len(s.Chunks), s.Terminated)
		}
	})
}

func TestScanStreamReader(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t, nil)

		result, err := env.client.ScanStreamReader(context.Background(), iotest.HalfReader(strings.NewReader("stream data")), "reader.txt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsClean() {
			t.Error("expected clean")
		}
		s, _ := env.daemon.LastSession()
		if string(s.Payload()) != "stream data" {
			t.Errorf("payload = %q", s.Payload())
		}
	})

	t.Run("reader error", func(t *testing.T) {
		env := newTestEnv(t, nil)

		_, err := env.client.ScanStreamReader(context.Background(), iotest.ErrReader(errors.New("disk error")), "bad.txt")
		if err == nil {
			t.Fatal("expected error")
		}
		if !clamav.IsSourceError(err) {
			t.Errorf("expected source error, got %T: %v", err, err)
		}
	})
}

func TestScanStreamFile(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t, nil)

		path := filepath.Join(t.TempDir(), "stream.txt")
		if err := os.WriteFile(path, []byte("stream file content"), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}

		result, err := env.client.ScanStreamFile(context.Background(), path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Filename != "stream.txt" {
			t.Errorf("Filename = %q, want %q", result.Filename, "stream.txt")
		}
	})

	t.Run("file not found", func(t *testing.T) {
		env := newTestEnv(t, nil)

		_, err := env.client.ScanStreamFile(context.Background(), "/nonexistent/file.txt")
		if !clamav.IsValidationError(err) {
			t.Errorf("expected validation error, got: %v", err)
		}
	})
}

// --- error propagation ---

func TestDaemonUnavailable(t *testing.T) {
	env := newTestEnvWithSocket(t, nil, testutil.SocketPath(t))

	_, err := env.client.Scan(context.Background(), []byte("data"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !clamav.IsConnectionError(err) {
		t.Errorf("expected connection error, got %T: %v", err, err)
	}
}

func TestContextCancellation(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, func(testutil.Session) [][]byte {
		<-release
		return testutil.CleanReply()
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := env.client.Scan(ctx, []byte("data"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !clamav.IsTimeoutError(err) {
		t.Errorf("expected timeout error, got %T: %v", err, err)
	}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{clamav.NewConnectionError("c", nil), codes.Unavailable},
		{clamav.NewTimeoutError("t", nil), codes.DeadlineExceeded},
		{clamav.NewValidationError("v", nil), codes.InvalidArgument},
		{clamav.NewStateError("s", nil), codes.FailedPrecondition},
		{clamav.NewTransmissionError("x", nil), codes.Aborted},
		{clamav.NewSourceError("r", nil), codes.Aborted},
		{clamav.NewServiceError("svc", 500, nil), codes.Internal},
		{errors.New("plain"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := status.Code(statusFromError(tt.err)); got != tt.code {
				t.Errorf("code = %v, want %v", got, tt.code)
			}
		})
	}
}

func TestMapGRPCError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		checkFunc func(error) bool
	}{
		{"nil", nil, func(e error) bool { return e == nil }},
		{"InvalidArgument", status.Error(codes.InvalidArgument, "bad"), clamav.IsValidationError},
		{"Internal", status.Error(codes.Internal, "fail"), clamav.IsServiceError},
		{"DeadlineExceeded", status.Error(codes.DeadlineExceeded, "timeout"), clamav.IsTimeoutError},
		{"Canceled", status.Error(codes.Canceled, "canceled"), clamav.IsTimeoutError},
		{"Unavailable", status.Error(codes.Unavailable, "down"), clamav.IsConnectionError},
		{"FailedPrecondition", status.Error(codes.FailedPrecondition, "non-blocking"), clamav.IsStateError},
		{"Aborted", status.Error(codes.Aborted, "pipe"), clamav.IsTransmissionError},
		{"Unknown", status.Error(codes.Unknown, "?"), clamav.IsServiceError},
		{"non-gRPC", errors.New("plain"), clamav.IsConnectionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapGRPCError(tt.err); !tt.checkFunc(got) {
				t.Errorf("unexpected mapping: %T %v", got, got)
			}
		})
	}

	t.Run("status code carried", func(t *testing.T) {
		var e *clamav.Error
		if !errors.As(mapGRPCError(status.Error(codes.PermissionDenied, "no")), &e) {
			t.Fatal("expected *clamav.Error")
		}
		if e.StatusCode != int(codes.PermissionDenied) {
			t.Errorf("StatusCode = %d, want %d", e.StatusCode, codes.PermissionDenied)
		}
	})
}

func TestRoundTripResult(t *testing.T) {
	in := &clamav.ScanResult{
		Status:   clamav.StatusFound,
		Message:  "Win.Test.EICAR_HDB-1",
		Raw:      "stream: Win.Test.EICAR_HDB-1 FOUND",
		Filename: "eicar.com",
		ScanID:   "id-1",
		Chunks:   3,
		Bytes:    9000,
		ScanTime: 0.25,
	}
	wire, err := encodeResult(in)
	if err != nil {
		t.Fatalf("encodeResult: %v", err)
	}
	if out := decodeResult(wire); *out != *in {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

// --- options / lifecycle ---

func TestClientOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		client, err := NewClient("localhost:9000")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer client.Close()

		if client.cfg.timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", client.cfg.timeout, defaultTimeout)
		}
		if client.cfg.chunkSize != defaultChunkSize {
			t.Errorf("chunkSize = %d, want %d", client.cfg.chunkSize, defaultChunkSize)
		}
		if client.cfg.maxMessageSize != defaultMaxMessageSize {
			t.Errorf("maxMessageSize = %d, want %d", client.cfg.maxMessageSize, defaultMaxMessageSize)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		client, err := NewClient("localhost:9000",
			WithTimeout(10*time.Second),
			WithChunkSize(1024),
			WithMaxMessageSize(1<<20),
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer client.Close()

		if client.cfg.timeout != 10*time.Second || client.cfg.chunkSize != 1024 || client.cfg.maxMessageSize != 1<<20 {
			t.Errorf("options not applied: %+v", client)
		}
	})

	t.Run("invalid values ignored", func(t *testing.T) {
		client, err := NewClient("localhost:9000", WithChunkSize(0), WithMaxMessageSize(-1), WithTimeout(0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer client.Close()

		if client.cfg.chunkSize != defaultChunkSize || client.cfg.maxMessageSize != defaultMaxMessageSize || client.cfg.timeout != defaultTimeout {
			t.Errorf("invalid options should be ignored: %+v", client)
		}
	})
}

func TestNewServerRequiresScanner(t *testing.T) {
	_, err := NewServer(nil)
	if !clamav.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestClose(t *testing.T) {
	client, err := NewClient("localhost:9000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}

	var nilConn Client
	if err := nilConn.Close(); err != nil {
		t.Errorf("Close on zero Client should be a no-op, got %v", err)
	}
}

func TestConcurrentUsage(t *testing.T) {
	env := newTestEnv(t, func(s testutil.Session) [][]byte {
		if strings.HasPrefix(string(s.Payload()), "clean") {
			return testutil.CleanReply()
		}
		return testutil.FoundReply("Eicar-Test-Signature")
	})

	var wg sync.WaitGroup
	errs := make(chan error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, want := []byte(fmt.Sprintf("clean-%d", i)), true
			if i%2 == 1 {
				data, want = []byte(testutil.EICAR), false
			}
			clean, err := env.client.Scan(context.Background(), data)
			if err != nil {
				errs <- err
				return
			}
			if clean != want {
				errs <- fmt.Errorf("scan %d: clean = %v, want %v", i, clean, want)
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
