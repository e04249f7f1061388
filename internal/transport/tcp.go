package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// TCPConn frames a raw byte stream into newline-terminated lines.
type TCPConn struct {
	conn         net.Conn
	r            *bufio.Reader
	maxLine      int
	writeTimeout time.Duration

	wmu sync.Mutex
}

// NewTCP wraps a stream connection. maxLine bounds the raw line length
// including its newline; writeTimeout bounds each outbound write (zero
// disables the bound).
func NewTCP(conn net.Conn, maxLine int, writeTimeout time.Duration) *TCPConn {
	return &TCPConn{
		conn:         conn,
		r:            bufio.NewReader(conn),
		maxLine:      maxLine,
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the next line without its trailing newline. A line
// over maxLine is consumed through its terminator and reported as
// ErrLineTooLong, leaving the stream positioned at the next line. A
// final unterminated line before EOF is returned as a line; the EOF
// surfaces on the following call.
func (c *TCPConn) ReadLine() ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := c.r.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > c.maxLine {
				tooLong = true
				line = nil
			}
		}
		switch {
		case err == nil:
			if tooLong {
				return nil, ErrLineTooLong
			}
			return trimEOL(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return nil, ErrLineTooLong
			}
			if len(line) > 0 {
				return trimEOL(line), nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// WriteLine writes one encoded line. Lines from the room dispatcher and
// direct replies from the session interleave here, so writes are
// serialized and each full line goes out in a single Write.
func (c *TCPConn) WriteLine(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(data)
	return err
}

func (c *TCPConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *TCPConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *TCPConn) Close() error { return c.conn.Close() }

func trimEOL(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}
