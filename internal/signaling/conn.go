package signaling

// Conn is the transport-side handle for one connected peer. The engine uses
// it to deliver frames and to tear connections down; implementations must be
// safe for concurrent use because keepalive machinery writes from its own
// goroutine.
type Conn interface {
	// SendText writes a single text frame.
	SendText(data []byte) error

	// Close tears down the underlying connection. It must be idempotent.
	Close() error

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}
