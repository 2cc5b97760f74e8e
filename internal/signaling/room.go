package signaling

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MaxParticipants is the hard per-room cap. It is a protocol constant, not
// configuration: clients surface the matching error text verbatim.
const MaxParticipants = 6

// DefaultRoomName is used when a creator does not name the room.
const DefaultRoomName = "Unnamed Room"

var (
	ErrRoomFull           = errors.New("signaling: room full")
	ErrAlreadyMember      = errors.New("signaling: client already in this room")
	ErrAlreadyInOtherRoom = errors.New("signaling: client already in another room")
	ErrNotMember          = errors.New("signaling: client not in this room")
)

// RoomState tracks the lifecycle of a room slot. The zero value marks a
// reclaimable slot so a fresh registry is all free slots.
type RoomState uint8

const (
	RoomStateEmpty RoomState = iota
	RoomStateActive
	RoomStateClosing
)

func (s RoomState) String() string {
	switch s {
	case RoomStateEmpty:
		return "empty"
	case RoomStateActive:
		return "active"
	case RoomStateClosing:
		return "closing"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

type participant struct {
	client   *Client
	joinedAt time.Time
	isOwner  bool
}

// Room is a fixed-size participant table. Owned by the engine goroutine.
type Room struct {
	ID   string
	Name string

	participants [MaxParticipants]participant
	count        int

	State RoomState
	Owner *Client

	CreatedAt    time.Time
	LastActivity time.Time
}

func (r *Room) IsFull() bool  { return r.count >= MaxParticipants }
func (r *Room) IsEmpty() bool { return r.count == 0 }

// ParticipantCount returns the current number of members.
func (r *Room) ParticipantCount() int { return r.count }

// AddParticipant seats the client in the first free table slot.
//
// The checks run in order: a full table, membership in this room, then
// membership in another room. On success the client's Room and State are
// updated and the room's activity clock is bumped.
func (r *Room) AddParticipant(c *Client, now time.Time) error {
	if r.IsFull() {
		return ErrRoomFull
	}
	for i := range r.participants {
		if r.participants[i].client == c {
			return ErrAlreadyMember
		}
	}
	if c.Room != nil && c.Room != r {
		return ErrAlreadyInOtherRoom
	}

	for i := range r.participants {
		if r.participants[i].client != nil {
			continue
		}
		r.participants[i] = participant{
			client:   c,
			joinedAt: now,
			isOwner:  c == r.Owner,
		}
		r.count++
		r.LastActivity = now

		c.Room = r
		c.State = StateInRoom
		return nil
	}

	// Unreachable: the full check above guarantees a free slot.
	return ErrRoomFull
}

// RemoveParticipant clears the client's table slot. When the owner leaves,
// ownership transfers to the first occupied slot in table order.
func (r *Room) RemoveParticipant(c *Client, now time.Time) error {
	seat := -1
	for i := range r.participants {
		if r.participants[i].client == c {
			seat = i
			break
		}
	}
	if seat < 0 {
		return ErrNotMember
	}

	r.participants[seat] = participant{}
	r.count--
	r.LastActivity = now

	c.Room = nil
	c.State = StateConnected

	if r.Owner == c {
		r.Owner = nil
		for i := range r.participants {
			if r.participants[i].client != nil {
				r.Owner = r.participants[i].client
				r.participants[i].isOwner = true
				break
			}
		}
	}
	return nil
}

// FindParticipant returns the member with the given client ID, or nil.
func (r *Room) FindParticipant(clientID string) *Client {
	for i := range r.participants {
		if c := r.participants[i].client; c != nil && c.ID == clientID {
			return c
		}
	}
	return nil
}

// ParticipantIDs returns member IDs in table order.
func (r *Room) ParticipantIDs() []string {
	ids := make([]string, 0, r.count)
	for i := range r.participants {
		if c := r.participants[i].client; c != nil {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Broadcast delivers a pre-encoded frame to every live member except
// exclude. Dead members are skipped. The room's activity clock is bumped
// even when nothing was deliverable, matching membership-event semantics.
func (r *Room) Broadcast(exclude *Client, frame []byte, now time.Time) int {
	sent := 0
	for i := range r.participants {
		c := r.participants[i].client
		if c == nil || c == exclude || !c.Alive {
			continue
		}
		if err := c.Conn.SendText(frame); err != nil {
			continue
		}
		c.MessagesSent++
		sent++
	}
	r.LastActivity = now
	return sent
}

// RoomRegistry is a fixed-capacity slab of rooms. Single-owner like
// ClientRegistry; only the counters are safe to read cross-goroutine.
type RoomRegistry struct {
	slots []Room

	active       atomic.Int64
	totalCreated atomic.Uint64
}

func NewRoomRegistry(maxRooms int) (*RoomRegistry, error) {
	if maxRooms <= 0 {
		return nil, fmt.Errorf("signaling: max rooms must be > 0, got %d", maxRooms)
	}
	return &RoomRegistry{
		slots: make([]Room, maxRooms),
	}, nil
}

// Create allocates the first reclaimable slot (any state but active) and
// seats the owner when one is given. An empty name falls back to
// DefaultRoomName.
func (r *RoomRegistry) Create(name string, owner *Client, now time.Time) (*Room, error) {
	for i := range r.slots {
		room := &r.slots[i]
		if room.State == RoomStateActive {
			continue
		}

		if name == "" {
			name = DefaultRoomName
		}
		*room = Room{
			ID:           uuid.NewString(),
			Name:         name,
			State:        RoomStateActive,
			Owner:        owner,
			CreatedAt:    now,
			LastActivity: now,
		}

		if owner != nil {
			if err := room.AddParticipant(owner, now); err != nil {
				room.State = RoomStateEmpty
				return nil, err
			}
		}

		r.active.Add(1)
		r.totalCreated.Add(1)
		return room, nil
	}
	return nil, ErrRegistryFull
}

// FindByID returns the active room with the given ID, or nil.
func (r *RoomRegistry) FindByID(id string) *Room {
	if id == "" {
		return nil
	}
	for i := range r.slots {
		if r.slots[i].State == RoomStateActive && r.slots[i].ID == id {
			return &r.slots[i]
		}
	}
	return nil
}

// ReclaimEmpty releases every active room with no members and returns how
// many were reclaimed. Rooms are only ever reclaimed here, so a room
// emptied between sweeps can be rejoined by ID until the next sweep.
func (r *RoomRegistry) ReclaimEmpty() int {
	reclaimed := 0
	for i := range r.slots {
		room := &r.slots[i]
		if room.State != RoomStateActive || !room.IsEmpty() {
			continue
		}
		room.State = RoomStateClosing
		room.Owner = nil
		r.active.Add(-1)
		reclaimed++
	}
	return reclaimed
}

func (r *RoomRegistry) ActiveCount() int { return int(r.active.Load()) }

func (r *RoomRegistry) TotalCreated() uint64 { return r.totalCreated.Load() }

func (r *RoomRegistry) Capacity() int { return len(r.slots) }
