package signaling

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/redrtc/signaling/internal/ratelimit"
)

var ErrRegistryFull = errors.New("signaling: registry full")

// ClientState tracks where a client is in its lifecycle.
type ClientState uint8

const (
	StateConnected ClientState = iota
	StateJoiningRoom
	StateInRoom
	StateDisconnecting
)

func (s ClientState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoiningRoom:
		return "joining-room"
	case StateInRoom:
		return "in-room"
	case StateDisconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// Client is one connected peer. All fields are owned by the engine
// goroutine; transports hold only the Conn.
type Client struct {
	ID   string
	Conn Conn

	Room  *Room
	State ClientState

	ConnectedAt  time.Time
	LastActivity time.Time

	MessagesSent     uint64
	MessagesReceived uint64

	Alive bool
}

// Touch records protocol activity for timeout tracking.
func (c *Client) Touch(now time.Time) {
	c.LastActivity = now
}

// TimedOut reports whether the client has been silent strictly longer than
// timeout.
func (c *Client) TimedOut(now time.Time, timeout time.Duration) bool {
	return now.Sub(c.LastActivity) > timeout
}

// ClientRegistry is a fixed-capacity slab of clients with O(1) lookup by
// connection. Slots are reused after removal; pointers into the slab stay
// valid because the backing array is never reallocated.
//
// The registry itself is single-owner. Only the active and lifetime counters
// are atomics so the stats endpoint can read them from other goroutines.
type ClientRegistry struct {
	clock ratelimit.Clock

	slots  []Client
	byConn map[Conn]*Client

	active           atomic.Int64
	totalConnections atomic.Uint64
}

func NewClientRegistry(maxClients int, clock ratelimit.Clock) (*ClientRegistry, error) {
	if maxClients <= 0 {
		return nil, fmt.Errorf("signaling: max clients must be > 0, got %d", maxClients)
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &ClientRegistry{
		clock:  clock,
		slots:  make([]Client, maxClients),
		byConn: make(map[Conn]*Client, maxClients),
	}, nil
}

// Add claims a free slot for conn and assigns a fresh client ID.
// Fails with ErrRegistryFull when every slot is alive; the caller must
// reject the connection.
func (r *ClientRegistry) Add(conn Conn) (*Client, error) {
	for i := range r.slots {
		c := &r.slots[i]
		if c.Alive {
			continue
		}

		now := r.clock.Now()
		*c = Client{
			ID:           uuid.NewString(),
			Conn:         conn,
			State:        StateConnected,
			ConnectedAt:  now,
			LastActivity: now,
			Alive:        true,
		}
		r.byConn[conn] = c

		r.active.Add(1)
		r.totalConnections.Add(1)
		return c, nil
	}
	return nil, ErrRegistryFull
}

// Remove releases the client's slot. Safe to call more than once.
func (r *ClientRegistry) Remove(c *Client) {
	if c == nil || !c.Alive {
		return
	}
	c.Alive = false
	c.State = StateDisconnecting
	delete(r.byConn, c.Conn)
	r.active.Add(-1)
}

// FindByConn returns the live client for conn, or nil.
func (r *ClientRegistry) FindByConn(conn Conn) *Client {
	return r.byConn[conn]
}

// EachAlive calls fn for every live client. fn must not add or remove
// clients other than the one it was called with.
func (r *ClientRegistry) EachAlive(fn func(*Client)) {
	for i := range r.slots {
		if r.slots[i].Alive {
			fn(&r.slots[i])
		}
	}
}

func (r *ClientRegistry) ActiveCount() int { return int(r.active.Load()) }

func (r *ClientRegistry) TotalConnections() uint64 { return r.totalConnections.Load() }

func (r *ClientRegistry) Capacity() int { return len(r.slots) }
