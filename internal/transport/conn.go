// Package transport frames client connections as sequences of protocol
// lines, so the session layer is independent of whether a client speaks
// raw TCP or WebSocket.
package transport

import (
	"errors"
	"time"
)

// ErrLineTooLong reports an inbound line over the configured limit. The
// oversize line has been consumed; the connection is still usable.
var ErrLineTooLong = errors.New("line too long")

// Conn is one client stream viewed as a sequence of lines. WriteLine
// sends the given bytes as one line (callers pass newline-terminated
// encoder output) and is safe for concurrent use; reads belong to a
// single goroutine.
type Conn interface {
	ReadLine() ([]byte, error)
	WriteLine(data []byte) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}
