package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/redrtc/signaling/internal/metrics"
	"github.com/redrtc/signaling/internal/ratelimit"
)

// EngineConfig sizes the engine's registries and timers.
type EngineConfig struct {
	MaxClients    int
	MaxRooms      int
	QueueCapacity int

	// ClientTimeout evicts clients silent for strictly longer than this.
	ClientTimeout time.Duration

	SweepInterval time.Duration

	// StatsInterval logs a periodic stats line; <= 0 disables it.
	StatsInterval time.Duration
}

// Engine owns the client and room registries. Run processes queued
// transport events on a single goroutine; nothing else may touch the
// registries.
type Engine struct {
	cfg   EngineConfig
	log   *slog.Logger
	clock ratelimit.Clock

	clients *ClientRegistry
	rooms   *RoomRegistry
	queue   *Queue
	metrics *metrics.Metrics

	startedAt time.Time
}

// NewEngine validates cfg and allocates the registries and queue up front.
// A nil clock defaults to the real clock.
func NewEngine(cfg EngineConfig, logger *slog.Logger, m *metrics.Metrics, clock ratelimit.Clock) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}

	clients, err := NewClientRegistry(cfg.MaxClients, clock)
	if err != nil {
		return nil, err
	}
	rooms, err := NewRoomRegistry(cfg.MaxRooms)
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(cfg.QueueCapacity, clock)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		log:       logger,
		clock:     clock,
		clients:   clients,
		rooms:     rooms,
		queue:     queue,
		metrics:   m,
		startedAt: clock.Now(),
	}, nil
}

// Queue returns the event queue transports push into.
func (e *Engine) Queue() *Queue {
	return e.queue
}

// Run processes events until ctx is cancelled. It must be the only
// goroutine calling into the registries.
func (e *Engine) Run(ctx context.Context) {
	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	var statsC <-chan time.Time
	if e.cfg.StatsInterval > 0 {
		stats := time.NewTicker(e.cfg.StatsInterval)
		defer stats.Stop()
		statsC = stats.C
	}

	e.log.Info("engine started",
		"max_clients", e.clients.Capacity(),
		"max_rooms", e.rooms.Capacity(),
		"queue_capacity", e.queue.Capacity(),
		"client_timeout", e.cfg.ClientTimeout,
	)

	for {
		select {
		case <-ctx.Done():
			dropped := e.queue.Drain()
			e.log.Info("engine stopped", "dropped_events", dropped)
			return
		case <-e.queue.Wake():
			for {
				env, ok := e.queue.Pop()
				if !ok {
					break
				}
				e.dispatch(env)
			}
		case <-sweep.C:
			e.sweep()
		case <-statsC:
			e.logStats()
		}
	}
}

// sweep evicts timed-out clients and reclaims empty rooms. Eviction runs
// the full leave path so remaining members learn about the departure.
func (e *Engine) sweep() {
	now := e.clock.Now()

	evicted := 0
	e.clients.EachAlive(func(c *Client) {
		if !c.TimedOut(now, e.cfg.ClientTimeout) {
			return
		}
		e.log.Info("client timed out",
			"client_id", c.ID,
			"remote_addr", c.Conn.RemoteAddr(),
			"last_activity", c.LastActivity,
		)
		e.leaveRoom(c)
		e.clients.Remove(c)
		_ = c.Conn.Close()
		evicted++
	})
	if evicted > 0 {
		e.metrics.Add(metrics.ClientsTimedOut, uint64(evicted))
	}

	reclaimed := e.rooms.ReclaimEmpty()
	if reclaimed > 0 {
		e.metrics.Add(metrics.RoomsReclaimed, uint64(reclaimed))
		e.log.Debug("reclaimed empty rooms", "count", reclaimed)
	}
}

// Stats is a point-in-time snapshot for the stats endpoint and the
// periodic stats log. Safe to call from any goroutine.
type Stats struct {
	ActiveClients int `json:"activeClients"`
	MaxClients    int `json:"maxClients"`
	ActiveRooms   int `json:"activeRooms"`
	MaxRooms      int `json:"maxRooms"`

	TotalConnections  uint64 `json:"totalConnections"`
	TotalRoomsCreated uint64 `json:"totalRoomsCreated"`
	MessagesProcessed uint64 `json:"messagesProcessed"`
	ProtocolErrors    uint64 `json:"protocolErrors"`
	QueueFullDrops    uint64 `json:"queueFullDrops"`

	UptimeSeconds int64 `json:"uptimeSeconds"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		ActiveClients:     e.clients.ActiveCount(),
		MaxClients:        e.clients.Capacity(),
		ActiveRooms:       e.rooms.ActiveCount(),
		MaxRooms:          e.rooms.Capacity(),
		TotalConnections:  e.clients.TotalConnections(),
		TotalRoomsCreated: e.rooms.TotalCreated(),
		MessagesProcessed: e.metrics.Get(metrics.MessagesProcessed),
		ProtocolErrors:    e.metrics.Get(metrics.ProtocolErrors),
		QueueFullDrops:    e.metrics.Get(metrics.QueueFullDrops),
		UptimeSeconds:     int64(e.clock.Now().Sub(e.startedAt).Seconds()),
	}
}

func (e *Engine) logStats() {
	s := e.Stats()
	e.log.Info("server stats",
		"active_clients", s.ActiveClients,
		"max_clients", s.MaxClients,
		"active_rooms", s.ActiveRooms,
		"max_rooms", s.MaxRooms,
		"total_connections", s.TotalConnections,
		"total_rooms_created", s.TotalRoomsCreated,
		"messages_processed", s.MessagesProcessed,
		"protocol_errors", s.ProtocolErrors,
		"uptime_seconds", s.UptimeSeconds,
	)
}
