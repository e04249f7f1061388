package session

import (
	"bufio"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/devaloi/relay/internal/hub"
	"github.com/devaloi/relay/internal/protocol"
	"github.com/devaloi/relay/internal/transport"
)

// testClient is the far end of a session's pipe. A background reader
// drains the connection into a buffered channel so a room dispatcher
// writing to this client never blocks on the unbuffered pipe.
type testClient struct {
	t    *testing.T
	conn net.Conn
	envs chan protocol.Envelope
	done chan struct{}
}

func startSession(t *testing.T, h *hub.Hub, opts Options, maxLine int) *testClient {
	t.Helper()
	server, client := net.Pipe()
	sess := New(h, transport.NewTCP(server, maxLine, time.Second), opts)
	go sess.Run()
	c := &testClient{
		t:    t,
		conn: client,
		envs: make(chan protocol.Envelope, 100),
		done: make(chan struct{}),
	}
	go c.pump()
	t.Cleanup(func() { client.Close() })
	return c
}

func (c *testClient) pump() {
	r := bufio.NewReader(c.conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			close(c.done)
			return
		}
		env, err := protocol.Decode([]byte(line))
		if err != nil {
			continue
		}
		c.envs <- env
	}
}

func defaultOpts() Options {
	return Options{
		DefaultRoom:  "general",
		MaxFileBytes: 5 * 1024 * 1024,
		IdleTimeout:  5 * time.Second,
	}
}

func (c *testClient) sendLine(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("send: %v", err)
	}
}

func (c *testClient) mustRead() protocol.Envelope {
	c.t.Helper()
	select {
	case env := <-c.envs:
		return env
	case <-time.After(2 * time.Second):
		c.t.Fatal("timed out waiting for an envelope")
		return protocol.Envelope{}
	}
}

func (c *testClient) readUntil(kind string) protocol.Envelope {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		env := c.mustRead()
		if env.Type == kind {
			return env
		}
	}
	c.t.Fatalf("no %s envelope in 20 reads", kind)
	return protocol.Envelope{}
}

func (c *testClient) join(nick, room string) {
	c.t.Helper()
	c.sendLine(`{"type":"join","nick":"` + nick + `","room":"` + room + `"}`)
	env := c.readUntil(protocol.KindSystem)
	if env.Text != nick+" joined" {
		c.t.Fatalf("join notice: got %q", env.Text)
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	select {
	case env := <-c.envs:
		c.t.Fatalf("expected closed connection, read %+v", env)
	case <-c.done:
	case <-time.After(2 * time.Second):
		c.t.Fatal("connection was not closed")
	}
}

func TestJoinDefaultRoom(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	c := startSession(t, h, defaultOpts(), 1024)
	c.sendLine(`{"type":"join","nick":"alice"}`)

	env := c.readUntil(protocol.KindSystem)
	if env.Room != "general" {
		t.Errorf("room: got %q, want default general", env.Room)
	}
	if env.Text != "alice joined" {
		t.Errorf("text: got %q", env.Text)
	}
	if len(env.Users) != 1 || env.Users[0] != "alice" {
		t.Errorf("users: got %v, want [alice]", env.Users)
	}
}

func TestFirstMessageMustBeJoin(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	c := startSession(t, h, defaultOpts(), 1024)
	c.sendLine(`{"type":"chat","text":"hi"}`)

	env := c.mustRead()
	if env.Type != protocol.KindError || env.Error != "first message must be join" {
		t.Errorf("got %+v", env)
	}
	c.expectClosed()

	if got := h.Roster("general"); len(got) != 0 {
		t.Errorf("registries must be untouched, roster %v", got)
	}
}

func TestJoinEmptyNickRejected(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	c := startSession(t, h, defaultOpts(), 1024)
	c.sendLine(`{"type":"join","nick":""}`)

	env := c.mustRead()
	if env.Error != "nickname required" {
		t.Errorf("got %+v", env)
	}
	c.expectClosed()
}

func TestJoinMalformedLineRejected(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	c := startSession(t, h, defaultOpts(), 1024)
	c.sendLine(`this is not json`)

	env := c.mustRead()
	if env.Type != protocol.KindError || !strings.HasPrefix(env.Error, "bad json") {
		t.Errorf("got %+v", env)
	}
	c.expectClosed()
}

func TestNicknameTaken(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	first := startSession(t, h, defaultOpts(), 1024)
	first.join("alice", "general")

	second := startSession(t, h, defaultOpts(), 1024)
	second.sendLine(`{"type":"join","nick":"alice"}`)
	env := second.mustRead()
	if env.Error != "nickname taken" {
		t.Errorf("got %+v", env)
	}
	second.expectClosed()

	if got := h.Roster("general"); len(got) != 1 {
		t.Errorf("existing registration disturbed: %v", got)
	}
}

func TestChatBroadcast(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 1024)
	alice.join("alice", "general")
	bob := startSession(t, h, defaultOpts(), 1024)
	bob.join("bob", "general")

	bob.sendLine(`{"type":"chat","text":"hi"}`)

	env := alice.readUntil(protocol.KindChat)
	if env.Room != "general" || env.From != "bob" || env.Text != "hi" {
		t.Errorf("got %+v", env)
	}
	// The sender is a member too and receives its own chat.
	env = bob.readUntil(protocol.KindChat)
	if env.From != "bob" || env.Text != "hi" {
		t.Errorf("sender copy: got %+v", env)
	}
}

func TestSwitchRoomNotices(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 1024)
	alice.join("alice", "a")
	bob := startSession(t, h, defaultOpts(), 1024)
	bob.join("bob", "a")
	alice.readUntil(protocol.KindSystem) // bob's join notice

	bob.sendLine(`{"type":"switch_room","room":"b"}`)

	left := alice.readUntil(protocol.KindSystem)
	if left.Room != "a" || left.Text != "bob left room" {
		t.Errorf("left notice: got %+v", left)
	}
	if len(left.Users) != 1 || left.Users[0] != "alice" {
		t.Errorf("left notice roster: got %v, want [alice]", left.Users)
	}

	joined := bob.readUntil(protocol.KindSystem)
	if joined.Room != "b" || joined.Text != "bob joined room" {
		t.Errorf("mover must get the joined notice, not %+v", joined)
	}

	// The mover never sees its own "left room" notice; its next who
	// confirms its view of the new room.
	bob.sendLine(`{"type":"who"}`)
	who := bob.readUntil(protocol.KindUsers)
	if who.Room != "b" || len(who.Users) != 1 || who.Users[0] != "bob" {
		t.Errorf("who after switch: got %+v", who)
	}
}

func TestSwitchToCurrentRoomIsNoop(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 1024)
	alice.join("alice", "a")

	alice.sendLine(`{"type":"switch_room","room":"a"}`)
	alice.sendLine(`{"type":"who"}`)

	// No system notices in between: the very next envelope is the who
	// reply.
	env := alice.mustRead()
	if env.Type != protocol.KindUsers {
		t.Errorf("got %+v, want users reply", env)
	}
}

func TestPMDirectDelivery(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 1024)
	alice.join("alice", "general")
	bob := startSession(t, h, defaultOpts(), 1024)
	bob.join("bob", "other")

	bob.sendLine(`{"type":"pm","to":"alice","text":"psst"}`)

	env := alice.readUntil(protocol.KindPM)
	if env.From != "bob" || env.Text != "psst" {
		t.Errorf("got %+v", env)
	}

	// Not broadcast: the sender's next who reply arrives with no pm
	// before it.
	bob.sendLine(`{"type":"who"}`)
	next := bob.mustRead()
	if next.Type != protocol.KindUsers {
		t.Errorf("pm leaked to sender's room: %+v", next)
	}
}

func TestPMUnknownUser(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 1024)
	alice.join("alice", "general")

	alice.sendLine(`{"type":"pm","to":"ghost","text":"hello?"}`)
	env := alice.mustRead()
	if env.Type != protocol.KindError || env.Error != "user not found" {
		t.Errorf("got %+v", env)
	}
}

func TestUnknownKind(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 1024)
	alice.join("alice", "general")

	alice.sendLine(`{"type":"teleport"}`)
	env := alice.mustRead()
	if env.Error != "unknown type" {
		t.Errorf("got %+v", env)
	}
}

func TestOversizeLineMidStreamKeepsSessionActive(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 128)
	alice.join("alice", "general")

	alice.sendLine(strings.Repeat("x", 4000))
	env := alice.mustRead()
	if env.Error != "message too long" {
		t.Errorf("got %+v", env)
	}

	alice.sendLine(`{"type":"who"}`)
	if env := alice.mustRead(); env.Type != protocol.KindUsers {
		t.Errorf("session should still be active, got %+v", env)
	}
}

func TestOversizeFirstLineClosesSilently(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	c := startSession(t, h, defaultOpts(), 128)
	c.sendLine(strings.Repeat("x", 4000))
	c.expectClosed()
}

func TestMalformedLineMidStreamKeepsSessionActive(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 1024)
	alice.join("alice", "general")

	alice.sendLine(`{"type":`)
	env := alice.mustRead()
	if env.Type != protocol.KindError || !strings.HasPrefix(env.Error, "bad json") {
		t.Errorf("got %+v", env)
	}

	alice.sendLine(`{"type":"who"}`)
	if env := alice.mustRead(); env.Type != protocol.KindUsers {
		t.Errorf("session should still be active, got %+v", env)
	}
}

func TestFileSizeBoundary(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	opts := defaultOpts()
	opts.MaxFileBytes = 16
	alice := startSession(t, h, opts, 64*1024)
	alice.join("alice", "general")

	atLimit := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("a", 16)))
	alice.sendLine(`{"type":"file","filename":"ok.bin","data":"` + atLimit + `"}`)
	env := alice.readUntil(protocol.KindFile)
	if env.Size != 16 || env.From != "alice" || env.Filename != "ok.bin" || env.Data != atLimit {
		t.Errorf("at-limit file: got %+v", env)
	}

	overLimit := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("a", 17)))
	alice.sendLine(`{"type":"file","filename":"big.bin","data":"` + overLimit + `"}`)
	env = alice.mustRead()
	if env.Type != protocol.KindError || env.Error != "file too large" {
		t.Errorf("over-limit file: got %+v", env)
	}
}

func TestFileSizeRecomputed(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 64*1024)
	alice.join("alice", "general")

	data := base64.StdEncoding.EncodeToString([]byte("hello"))
	// The claimed size is a lie; the broadcast carries the real one.
	alice.sendLine(`{"type":"file","filename":"f","size":999,"data":"` + data + `"}`)
	env := alice.readUntil(protocol.KindFile)
	if env.Size != 5 {
		t.Errorf("size: got %d, want 5", env.Size)
	}
}

func TestFileBadBase64(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 1024)
	alice.join("alice", "general")

	alice.sendLine(`{"type":"file","filename":"f","data":"%%%not-base64%%%"}`)
	env := alice.mustRead()
	if env.Error != "bad base64" {
		t.Errorf("got %+v", env)
	}
}

func TestIdleTimeoutClosesSilently(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	opts := defaultOpts()
	opts.IdleTimeout = 80 * time.Millisecond
	alice := startSession(t, h, opts, 1024)
	alice.join("alice", "general")

	// Send nothing. The server must close without emitting anything.
	alice.expectClosed()

	time.Sleep(50 * time.Millisecond)
	if got := h.Roster("general"); len(got) != 0 {
		t.Errorf("idle session not cleaned up: %v", got)
	}
}

func TestDisconnectCleanup(t *testing.T) {
	t.Parallel()
	h := hub.New()
	defer h.Stop()

	alice := startSession(t, h, defaultOpts(), 1024)
	alice.join("alice", "general")
	bob := startSession(t, h, defaultOpts(), 1024)
	bob.join("bob", "general")

	bob.conn.Close()

	left := alice.readUntil(protocol.KindSystem)
	for left.Text != "bob left" {
		left = alice.readUntil(protocol.KindSystem)
	}
	if len(left.Users) != 1 || left.Users[0] != "alice" {
		t.Errorf("roster after leave: got %v, want [alice]", left.Users)
	}

	alice.sendLine(`{"type":"who"}`)
	who := alice.readUntil(protocol.KindUsers)
	if len(who.Users) != 1 || who.Users[0] != "alice" {
		t.Errorf("who after disconnect: got %v", who.Users)
	}
	if _, ok := h.Lookup("bob"); ok {
		t.Error("departed nick must be unregistered")
	}
}
