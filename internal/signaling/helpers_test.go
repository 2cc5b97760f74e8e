package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redrtc/signaling/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn records frames delivered by the engine.
type fakeConn struct {
	mu       sync.Mutex
	remote   string
	frames   [][]byte
	closed   bool
	failSend bool
}

func newFakeConn(remote string) *fakeConn {
	return &fakeConn{remote: remote}
}

func (c *fakeConn) SendText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send failed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.remote }

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sentMessages decodes every recorded frame.
func (c *fakeConn) sentMessages(t *testing.T) []*wire.Message {
	t.Helper()
	frames := c.sentFrames()
	msgs := make([]*wire.Message, 0, len(frames))
	for _, f := range frames {
		m, err := wire.Parse(f)
		if err != nil {
			t.Fatalf("parse sent frame %s: %v", f, err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// lastMessage returns the most recent frame sent to the connection.
func (c *fakeConn) lastMessage(t *testing.T) *wire.Message {
	t.Helper()
	msgs := c.sentMessages(t)
	if len(msgs) == 0 {
		t.Fatalf("no frames sent to %s", c.remote)
	}
	return msgs[len(msgs)-1]
}

// lastEventOf returns the most recent frame with the given event tag.
func (c *fakeConn) lastEventOf(t *testing.T, event string) *wire.Message {
	t.Helper()
	msgs := c.sentMessages(t)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Event == event {
			return msgs[i]
		}
	}
	t.Fatalf("no %q frame sent to %s (got %s)", event, c.remote, eventTags(msgs))
	return nil
}

func eventTags(msgs []*wire.Message) string {
	tags := ""
	for i, m := range msgs {
		if i > 0 {
			tags += ","
		}
		tags += m.Event
	}
	return fmt.Sprintf("[%s]", tags)
}

func decodePayload[T any](t *testing.T, m *wire.Message) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(m.Data, &v); err != nil {
		t.Fatalf("decode %s payload: %v", m.Event, err)
	}
	return v
}

// engineClock is the fake clock used by engine tests.
type engineClock struct {
	mu  sync.Mutex
	now time.Time
}

func newEngineClock() *engineClock {
	return &engineClock{now: time.Unix(1000, 0)}
}

func (c *engineClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *engineClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		MaxClients:    16,
		MaxRooms:      4,
		QueueCapacity: 32,
		ClientTimeout: 5 * time.Minute,
		SweepInterval: 10 * time.Second,
	}
}

func newTestEngine(t *testing.T) (*Engine, *engineClock) {
	t.Helper()
	clk := newEngineClock()
	e, err := NewEngine(testEngineConfig(), discardLogger(), nil, clk)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, clk
}

// connect registers a fresh connection with the engine and returns its
// client.
func connect(t *testing.T, e *Engine, remote string) (*fakeConn, *Client) {
	t.Helper()
	conn := newFakeConn(remote)
	e.handleConnect(conn)
	c := e.clients.FindByConn(conn)
	if c == nil {
		t.Fatalf("client for %s not registered", remote)
	}
	return conn, c
}

// joinNewRoom joins the client to a new room and returns it.
func joinNewRoom(t *testing.T, e *Engine, c *Client, name string) *Room {
	t.Helper()
	data, err := json.Marshal(wire.JoinRoomRequest{RoomName: name})
	if err != nil {
		t.Fatalf("marshal join request: %v", err)
	}
	e.handleJoinRoom(c, data)
	if c.Room == nil {
		t.Fatalf("client %s did not join a room", c.ID)
	}
	return c.Room
}
