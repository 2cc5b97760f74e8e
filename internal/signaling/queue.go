package signaling

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redrtc/signaling/internal/ratelimit"
	"github.com/redrtc/signaling/internal/wire"
)

var ErrQueueFull = errors.New("signaling: queue full")

// EnvelopeKind tags what a queued event represents.
type EnvelopeKind uint8

const (
	// KindConnect registers a new connection with the engine.
	KindConnect EnvelopeKind = iota
	// KindFrame carries one parsed protocol frame.
	KindFrame
	// KindClose reports that the transport has gone away.
	KindClose
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindFrame:
		return "frame"
	case KindClose:
		return "close"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Envelope is one queued transport event. Msg is set only for KindFrame.
type Envelope struct {
	Conn     Conn
	Kind     EnvelopeKind
	Msg      *wire.Message
	Enqueued time.Time
}

// Queue is a bounded FIFO ring buffer between transport goroutines and the
// engine. Push never blocks: when the ring is full the event is rejected
// and the caller decides whether to drop or back off.
type Queue struct {
	mu    sync.Mutex
	buf   []Envelope
	head  int
	count int

	clock ratelimit.Clock
	wake  chan struct{}
}

func NewQueue(capacity int, clock ratelimit.Clock) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("signaling: queue capacity must be > 0, got %d", capacity)
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Queue{
		buf:   make([]Envelope, capacity),
		clock: clock,
		wake:  make(chan struct{}, 1),
	}, nil
}

// Push appends an event, stamping its enqueue time. Fails with ErrQueueFull
// when the ring is at capacity.
func (q *Queue) Push(conn Conn, kind EnvelopeKind, msg *wire.Message) error {
	q.mu.Lock()
	if q.count == len(q.buf) {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.buf[(q.head+q.count)%len(q.buf)] = Envelope{
		Conn:     conn,
		Kind:     kind,
		Msg:      msg,
		Enqueued: q.clock.Now(),
	}
	q.count++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest event. ok is false when the queue is empty.
func (q *Queue) Pop() (env Envelope, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return Envelope{}, false
	}
	env = q.buf[q.head]
	q.buf[q.head] = Envelope{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return env, true
}

// Wake signals when at least one event may be pending. The engine must
// drain with Pop until empty after each receive; the channel coalesces
// multiple pushes into one signal.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Drain discards all queued events and returns how many were dropped.
// Used during shutdown.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := q.count
	for i := range q.buf {
		q.buf[i] = Envelope{}
	}
	q.head = 0
	q.count = 0
	return dropped
}

// Capacity returns the fixed ring size.
func (q *Queue) Capacity() int {
	return len(q.buf)
}
