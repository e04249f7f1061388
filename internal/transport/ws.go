package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn adapts a WebSocket connection to the line protocol: each text
// frame carries exactly one line.
type WSConn struct {
	conn         *websocket.Conn
	maxLine      int
	writeTimeout time.Duration

	wmu sync.Mutex
}

// NewWS wraps an upgraded WebSocket connection.
func NewWS(conn *websocket.Conn, maxLine int, writeTimeout time.Duration) *WSConn {
	return &WSConn{
		conn:         conn,
		maxLine:      maxLine,
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the payload of the next data frame, stripped of any
// trailing newline. Frames over maxLine are reported as ErrLineTooLong;
// the frame has already been consumed, so the connection stays usable,
// matching the raw-stream discard behavior.
func (c *WSConn) ReadLine() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if len(data) > c.maxLine {
		return nil, ErrLineTooLong
	}
	return trimEOL(data), nil
}

// WriteLine sends one encoded line as a single text frame.
func (c *WSConn) WriteLine(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *WSConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *WSConn) Close() error { return c.conn.Close() }
