// Package testutil provides a fake clamd daemon for testing the INSTREAM client.
package testutil

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// EICAR is the standard antivirus test string.
const EICAR = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

// Session is what the fake daemon decoded from one client connection.
type Session struct {
	// Command is the token sent before the first chunk.
	Command string
	// Chunks holds every non-terminator chunk payload in arrival order.
	Chunks [][]byte
	// Terminated is true when the zero-length chunk was received.
	Terminated bool
	// Err records a framing error, if the client violated the wire format.
	Err error
}

// Payload concatenates all chunk payloads.
func (s Session) Payload() []byte {
	var out []byte
	for _, c := range s.Chunks {
		out = append(out, c...)
	}
	return out
}

// ReplyFunc decides the reply for a decoded session. Each returned part is
// written with a separate Write call.
type ReplyFunc func(s Session) [][]byte

// FakeDaemon is a clamd stand-in listening on a temporary unix socket.
type FakeDaemon struct {
	// SocketPath is the address clients should connect to.
	SocketPath string

	listener net.Listener
	reply    ReplyFunc

	mu       sync.Mutex
	sessions []Session
	wg       sync.WaitGroup
}

// NewFakeDaemon starts a fake daemon and stops it when the test ends.
// If reply is nil every session is answered with CleanReply.
func NewFakeDaemon(t testing.TB, reply ReplyFunc) *FakeDaemon {
	t.Helper()

	if reply == nil {
		reply = func(Session) [][]byte { return CleanReply() }
	}

	path := SocketPath(t)
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}

	d := &FakeDaemon{SocketPath: path, listener: ln, reply: reply}
	d.wg.Add(1)
	go d.serve()

	t.Cleanup(d.Close)
	return d
}

// SocketPath returns a short, unique socket path that is removed when the test ends.
// Temp dirs from t.TempDir can exceed the unix socket path limit.
func SocketPath(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "clamd")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "clamd.sock")
}

// Close stops accepting connections and waits for in-flight sessions.
func (d *FakeDaemon) Close() {
	_ = d.listener.Close()
	d.wg.Wait()
}

// Sessions returns a copy of every session handled so far.
func (d *FakeDaemon) Sessions() []Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// LastSession returns the most recently completed session.
func (d *FakeDaemon) LastSession() (Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return Session{}, false
	}
	return d.sessions[len(d.sessions)-1], true
}

func (d *FakeDaemon) serve() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		d.wg.Add(1)
		go func(c net.Conn) {
			defer d.wg.Done()
			d.handle(c)
		}(conn)
	}
}

func (d *FakeDaemon) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	s := ReadSession(conn)

	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()

	if s.Err != nil {
		return
	}
	for _, part := range d.reply(s) {
		if _, err := conn.Write(part); err != nil {
			return
		}
		// Give the client a chance to read each part separately.
		time.Sleep(5 * time.Millisecond)
	}
}

const maxCommandLength = 1024

// ReadSession decodes the client side of an INSTREAM conversation.
func ReadSession(r io.Reader) Session {
	var s Session

	cmd, err := readCommand(r)
	s.Command = cmd
	if err != nil {
		s.Err = err
		return s
	}

	var header [4]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			s.Err = err
			return s
		}
		size := binary.BigEndian.Uint32(header[:])
		if size == 0 {
			s.Terminated = true
			return s
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			s.Err = errors.Join(errors.New("short chunk"), err)
			return s
		}
		s.Chunks = append(s.Chunks, chunk)
	}
}

// readCommand reads a z-prefixed command up to its NUL, as clamd does.
// Without the delimiter the first length prefix is consumed as the command's
// end and every chunk after it is misaligned.
func readCommand(r io.Reader) (string, error) {
	var cmd []byte
	var b [1]byte
	for len(cmd) < maxCommandLength {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return string(cmd), err
		}
		if b[0] == 0 {
			return string(cmd), nil
		}
		cmd = append(cmd, b[0])
	}
	return string(cmd), errors.New("command exceeds maximum length")
}

// CleanReply returns clamd's NUL-terminated clean reply.
func CleanReply() [][]byte {
	return [][]byte{[]byte("stream: OK\x00")}
}

// FoundReply returns clamd's NUL-terminated reply for a signature match.
func FoundReply(signature string) [][]byte {
	return [][]byte{[]byte("stream: " + signature + " FOUND\x00")}
}

// ErrorReply returns clamd's NUL-terminated reply for a protocol error.
func ErrorReply(message string) [][]byte {
	return [][]byte{[]byte(message + " ERROR\x00")}
}
