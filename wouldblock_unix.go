//go:build unix

package clamav

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isWouldBlock reports whether connect was refused with EAGAIN. On a unix
// socket that means the daemon's listen backlog is full.
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
