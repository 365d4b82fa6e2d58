package clamav

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
)

const (
	// DefaultChunkSize is the payload size of every full chunk.
	DefaultChunkSize = 4096
	// MaxChunkSize is the largest length the 4-byte prefix can carry.
	MaxChunkSize int64 = math.MaxUint32

	// clamd ends a z-prefixed command at the first NUL.
	commandInstream    = "zINSTREAM\x00"
	chunkHeaderSize    = 4
	responseBufferSize = 4096
)

// chunkWriter frames a payload into INSTREAM chunks. It owns one buffer laid
// out as [length][payload] that is refilled for every chunk of a session.
type chunkWriter struct {
	w      io.Writer
	buf    []byte
	chunks int
	bytes  int64
}

func newChunkWriter(w io.Writer, chunkSize int) *chunkWriter {
	return &chunkWriter{
		w:   w,
		buf: make([]byte, chunkHeaderSize+chunkSize),
	}
}

// writeCommand sends the NUL-terminated command that must precede every chunk.
func (cw *chunkWriter) writeCommand() error {
	return writeFull(cw.w, []byte(commandInstream))
}

// writeStream consumes r to completion, one chunk per batch. Source failures
// are returned wrapped in *sourceError so callers can tell them from socket
// failures.
func (cw *chunkWriter) writeStream(r io.Reader) error {
	payload := cw.buf[chunkHeaderSize:]

	for {
		n, err := io.ReadFull(r, payload)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return &sourceError{err: err}
		}
		if n > 0 {
			if werr := cw.writeChunk(n); werr != nil {
				return werr
			}
		}
		if err != nil {
			return nil
		}
	}
}

// writeChunk sends the first n payload bytes of the buffer behind their length.
func (cw *chunkWriter) writeChunk(n int) error {
	binary.BigEndian.PutUint32(cw.buf[:chunkHeaderSize], uint32(n))
	if err := writeFull(cw.w, cw.buf[:chunkHeaderSize+n]); err != nil {
		return err
	}
	cw.chunks++
	cw.bytes += int64(n)
	return nil
}

// writeTerminator sends the zero-length chunk that ends the submission.
func (cw *chunkWriter) writeTerminator() error {
	binary.BigEndian.PutUint32(cw.buf[:chunkHeaderSize], 0)
	return writeFull(cw.w, cw.buf[:chunkHeaderSize])
}

// writeFull loops until every byte of p has been accepted by w.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// readReply collects the daemon's reply until it closes its side. The last
// byte of every individual read is dropped before appending: clamd ends its
// reply with a single NUL, which this strips when the reply arrives in one
// read. A reply split across reads loses one real byte per split.
func readReply(r io.Reader) (string, error) {
	buf := make([]byte, responseBufferSize)
	var reply strings.Builder

	for {
		n, err := r.Read(buf)
		if n > 0 {
			reply.Write(buf[:n-1])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if n == 0 {
			break
		}
	}

	return reply.String(), nil
}

type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }

func (e *sourceError) Unwrap() error { return e.err }
