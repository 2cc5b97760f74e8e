package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/redrtc/signaling/internal/metrics"
	"github.com/redrtc/signaling/internal/origin"
	"github.com/redrtc/signaling/internal/ratelimit"
	"github.com/redrtc/signaling/internal/wire"
)

const wsWriteWait = 1 * time.Second

// WSOptions configures the websocket endpoint.
type WSOptions struct {
	// AllowedOrigins is matched against normalized Origin headers; empty
	// means same-host only.
	AllowedOrigins []string

	// IdleTimeout closes connections with no inbound traffic (frames or
	// pongs) for this long.
	IdleTimeout time.Duration

	// PingInterval must be shorter than IdleTimeout so healthy clients
	// keep refreshing the read deadline via pongs.
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// WSServer implements GET /ws. Each accepted connection gets a reader
// goroutine that parses frames and pushes them onto the engine queue, and a
// keepalive goroutine that pings the peer.
type WSServer struct {
	opts    WSOptions
	log     *slog.Logger
	queue   *Queue
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	upgrader websocket.Upgrader
}

func NewWSServer(opts WSOptions, queue *Queue, m *metrics.Metrics, logger *slog.Logger, clock ratelimit.Clock) *WSServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	s := &WSServer{
		opts:    opts,
		log:     logger,
		queue:   queue,
		metrics: m,
		clock:   clock,
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *WSServer) checkOrigin(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if origin.Allowed(header, r.Host, s.opts.AllowedOrigins) {
		return true
	}
	s.metrics.Inc(metrics.OriginRejects)
	s.log.Warn("rejected websocket origin", "origin", header, "remote_addr", r.RemoteAddr)
	return false
}

// wsConn adapts a gorilla connection to the engine's Conn interface. The
// write mutex serializes data frames against close control frames.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	remote  string
}

func (c *wsConn) SendText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string { return c.remote }

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := &wsConn{conn: raw, remote: r.RemoteAddr}
	defer raw.Close()

	if s.opts.MaxMessageBytes > 0 {
		raw.SetReadLimit(s.opts.MaxMessageBytes)
	}
	s.resetReadDeadline(raw)
	raw.SetPongHandler(func(string) error {
		s.resetReadDeadline(raw)
		return nil
	})

	if err := s.queue.Push(conn, KindConnect, nil); err != nil {
		s.metrics.Inc(metrics.QueueFullDrops)
		s.log.Warn("queue full, rejecting connection", "remote_addr", conn.remote)
		_ = conn.Close()
		return
	}
	// The matching close push keeps the registry consistent. If it is
	// dropped under overload the sweep evicts the client after the idle
	// timeout.
	defer func() {
		if err := s.queue.Push(conn, KindClose, nil); err != nil {
			s.metrics.Inc(metrics.QueueFullDrops)
			s.log.Warn("queue full, close event dropped", "remote_addr", conn.remote)
		}
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	if s.opts.PingInterval > 0 {
		go s.keepalive(raw, stopPing)
	}

	limiter := ratelimit.NewTokenBucket(s.clock,
		int64(s.opts.MaxMessagesPerSecond), int64(s.opts.MaxMessagesPerSecond))

	for {
		msgType, payload, err := raw.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.metrics.Inc(metrics.OversizedMessages)
				s.log.Warn("oversized message, closing connection",
					"remote_addr", conn.remote, "limit_bytes", s.opts.MaxMessageBytes)
			}
			return
		}
		s.resetReadDeadline(raw)

		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.ProtocolErrors)
			continue
		}

		// Rate limit after the read so oversized senders still hit the
		// read limit first.
		if s.opts.MaxMessagesPerSecond > 0 && !limiter.Allow(1) {
			s.metrics.Inc(metrics.RateLimitedDrops)
			continue
		}

		msg, err := wire.Parse(payload)
		if err != nil {
			s.metrics.Inc(metrics.ProtocolErrors)
			s.log.Debug("unparseable frame", "remote_addr", conn.remote, "err", err)
			continue
		}

		if err := s.queue.Push(conn, KindFrame, msg); err != nil {
			s.metrics.Inc(metrics.QueueFullDrops)
		}
	}
}

func (s *WSServer) resetReadDeadline(raw *websocket.Conn) {
	if s.opts.IdleTimeout > 0 {
		_ = raw.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	}
}

func (s *WSServer) keepalive(raw *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
