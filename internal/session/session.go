// Package session drives one client connection through its lifecycle:
// a single join handshake, then the active message loop, then cleanup.
package session

import (
	"encoding/base64"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/devaloi/relay/internal/hub"
	"github.com/devaloi/relay/internal/protocol"
	"github.com/devaloi/relay/internal/transport"
)

type state int

const (
	stateConnecting state = iota
	stateAwaitingJoin
	stateActive
	stateClosing
	stateClosed
)

// Options tunes a session's limits and defaults.
type Options struct {
	// DefaultRoom is joined when the join envelope names no room.
	DefaultRoom string
	// MaxFileBytes caps the decoded size of a file payload.
	MaxFileBytes int
	// IdleTimeout bounds every inbound read; zero disables the bound.
	IdleTimeout time.Duration
}

// Session is the per-connection state machine. It owns the read side of
// its connection; writes arrive concurrently from room dispatchers and
// peer sessions through WriteLine.
type Session struct {
	id   string
	hub  *hub.Hub
	conn transport.Conn
	opts Options

	state  state
	nick   string
	room   string
	joined bool

	// lastActive is the instant of the last successful read; touched
	// only by the session's own goroutine.
	lastActive time.Time
}

// New creates a session for an accepted connection.
func New(h *hub.Hub, conn transport.Conn, opts Options) *Session {
	return &Session{
		id:         uuid.NewString(),
		hub:        h,
		conn:       conn,
		opts:       opts,
		state:      stateConnecting,
		lastActive: time.Now(),
	}
}

// ID returns the session's connection id.
func (s *Session) ID() string { return s.id }

// Nick returns the claimed nickname; empty until the join succeeds.
func (s *Session) Nick() string { return s.nick }

// Room returns the currently bound room; empty until the join succeeds.
func (s *Session) Room() string { return s.room }

// WriteLine delivers an encoded line to this session's client. Any
// failure means the peer is gone; callers treat it as a disconnect.
func (s *Session) WriteLine(data []byte) error {
	return s.conn.WriteLine(data)
}

// Run drives the session to completion. A panic anywhere in the
// session's work is confined here: the session is torn down and no
// other session or the accept loop is affected.
func (s *Session) Run() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session %s: panic: %v", s.id, r)
		}
		s.close()
	}()

	s.state = stateAwaitingJoin
	if !s.awaitJoin() {
		return
	}
	s.state = stateActive
	s.activeLoop()
}

// awaitJoin reads and validates the mandatory first envelope. It reports
// whether the session reached Active; on any failure the registries are
// untouched and the caller proceeds straight to cleanup. EOF and an
// oversize first line are answered with silence.
func (s *Session) awaitJoin() bool {
	line, err := s.readLine()
	if err != nil {
		return false
	}
	env, err := protocol.Decode(line)
	if err != nil {
		s.sendError(errorText(err))
		return false
	}
	if env.Type != protocol.KindJoin {
		s.sendError("first message must be join")
		return false
	}

	room := env.Room
	if room == "" {
		room = s.opts.DefaultRoom
	}
	s.nick = env.Nick
	if !s.hub.Join(s, room) {
		s.nick = ""
		s.sendError("nickname taken")
		return false
	}
	s.room = room
	s.joined = true

	s.announceSystem(room, s.nick+" joined")
	log.Printf("session %s: %s joined %s (%s)", s.id, s.nick, room, s.conn.RemoteAddr())
	return true
}

// activeLoop processes envelopes until the connection ends. Oversize
// lines and malformed envelopes are answered and survived; EOF, idle
// timeout and transport errors end the loop silently.
func (s *Session) activeLoop() {
	for {
		line, err := s.readLine()
		if errors.Is(err, transport.ErrLineTooLong) {
			s.sendError("message too long")
			continue
		}
		if err != nil {
			return
		}
		env, err := protocol.Decode(line)
		if err != nil {
			s.sendError(errorText(err))
			continue
		}
		s.handle(env)
	}
}

func (s *Session) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.KindChat:
		if s.room == "" {
			return
		}
		s.hub.Announce(s.room, protocol.Envelope{
			Type: protocol.KindChat,
			Room: s.room,
			From: s.nick,
			Text: env.Text,
		})

	case protocol.KindSwitchRoom:
		s.switchRoom(env.Room)

	case protocol.KindPM:
		target, ok := s.hub.Lookup(env.To)
		if !ok {
			s.sendError("user not found")
			return
		}
		s.deliver(target, protocol.Envelope{
			Type: protocol.KindPM,
			From: s.nick,
			Text: env.Text,
		})

	case protocol.KindFile:
		s.handleFile(env)

	case protocol.KindWho:
		if s.room == "" {
			return
		}
		s.send(protocol.Envelope{
			Type:  protocol.KindUsers,
			Room:  s.room,
			Users: s.hub.Roster(s.room),
		})

	default:
		s.sendError("unknown type")
	}
}

// switchRoom moves the session to another room. The mover is out of the
// old room before the "left room" notice is enqueued and inside the new
// one before the "joined room" notice is, so it sees only the latter.
func (s *Session) switchRoom(newRoom string) {
	if newRoom == s.room {
		return
	}
	old := s.room
	s.hub.Move(s, old, newRoom)
	s.room = newRoom
	if old != "" {
		s.announceSystem(old, s.nick+" left room")
	}
	s.announceSystem(newRoom, s.nick+" joined room")
}

func (s *Session) handleFile(env protocol.Envelope) {
	if s.room == "" {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		s.sendError("bad base64")
		return
	}
	if len(raw) > s.opts.MaxFileBytes {
		s.sendError("file too large")
		return
	}
	// Size is recomputed from the decoded bytes, never trusted from
	// the client.
	s.hub.Announce(s.room, protocol.Envelope{
		Type:     protocol.KindFile,
		Room:     s.room,
		From:     s.nick,
		Filename: env.Filename,
		Mime:     env.Mime,
		Size:     len(raw),
		Data:     env.Data,
	})
}

// close tears the session down: deregister, notify the room, close the
// connection best-effort. Safe to call once per session; sessions that
// never joined only close the connection.
func (s *Session) close() {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosing
	if s.joined {
		s.hub.Leave(s, s.room)
		s.announceSystem(s.room, s.nick+" left")
		log.Printf("session %s: %s left %s (idle %s)",
			s.id, s.nick, s.room, time.Since(s.lastActive).Round(time.Millisecond))
	}
	_ = s.conn.Close()
	s.state = stateClosed
}

func (s *Session) announceSystem(room, text string) {
	s.hub.Announce(room, protocol.Envelope{
		Type:  protocol.KindSystem,
		Room:  room,
		Text:  text,
		Users: s.hub.Roster(room),
	})
}

// readLine arms the idle deadline and reads the next line.
func (s *Session) readLine() ([]byte, error) {
	if s.opts.IdleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	}
	line, err := s.conn.ReadLine()
	if err == nil {
		s.lastActive = time.Now()
	}
	return line, err
}

// send writes an envelope directly to this session's client,
// best-effort: a failed send means the peer is gone and the read loop
// will notice on its own.
func (s *Session) send(env protocol.Envelope) {
	s.deliver(s, env)
}

func (s *Session) sendError(msg string) {
	s.send(protocol.ErrorEnvelope(msg))
}

func (s *Session) deliver(m hub.Member, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		log.Printf("session %s: encode: %v", s.id, err)
		return
	}
	_ = m.WriteLine(data)
}

func errorText(err error) string {
	var verr *protocol.ValidationError
	if errors.As(err, &verr) {
		return verr.Msg
	}
	return err.Error()
}
