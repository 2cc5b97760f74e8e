package metrics

import "sync"

// Counter names used across the signaling server.
const (
	MessagesProcessed  = "messages_processed"
	ProtocolErrors     = "protocol_errors"
	UnknownEvents      = "unknown_events"
	QueueFullDrops     = "queue_full_drops"
	RateLimitedDrops   = "rate_limited_drops"
	OversizedMessages  = "oversized_messages"
	RegistryFullReject = "registry_full_rejects"
	RoomFullRejects    = "room_full_rejects"
	RoomCreateFailures = "room_create_failures"
	RelayTargetMissing = "relay_target_missing"
	ClientsTimedOut    = "clients_timed_out"
	RoomsReclaimed     = "rooms_reclaimed"
	WSConnections      = "ws_connections"
	WSDisconnects      = "ws_disconnects"
	OriginRejects      = "origin_rejects"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend;
// this type keeps the dispatch logic testable and feeds the Prometheus
// exposition handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	if delta == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
