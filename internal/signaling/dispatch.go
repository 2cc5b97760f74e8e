package signaling

import (
	"encoding/json"
	"errors"

	"github.com/redrtc/signaling/internal/metrics"
	"github.com/redrtc/signaling/internal/wire"
)

// Error texts sent to clients. These are part of the protocol surface;
// client UIs display them verbatim.
const (
	errTextServerFull    = "Server is full"
	errTextCannotCreate  = "Cannot create room"
	errTextRoomFull      = "Room is full (max 6 participants)"
	errTextNotInRoom     = "Not in a room"
	errTextMissingTarget = "Missing target client ID"
	errTextTargetMissing = "Target client not found in room"
)

func (e *Engine) dispatch(env Envelope) {
	switch env.Kind {
	case KindConnect:
		e.handleConnect(env.Conn)
	case KindFrame:
		e.handleFrame(env.Conn, env.Msg)
	case KindClose:
		e.handleDisconnect(env.Conn)
	}
}

func (e *Engine) handleConnect(conn Conn) {
	c, err := e.clients.Add(conn)
	if err != nil {
		e.metrics.Inc(metrics.RegistryFullReject)
		e.log.Warn("rejecting connection, client registry full",
			"remote_addr", conn.RemoteAddr(),
			"max_clients", e.clients.Capacity(),
		)
		if frame, encErr := wire.Encode(wire.EventError, errTextServerFull); encErr == nil {
			_ = conn.SendText(frame)
		}
		_ = conn.Close()
		return
	}

	e.metrics.Inc(metrics.WSConnections)
	e.log.Info("client connected",
		"client_id", c.ID,
		"remote_addr", conn.RemoteAddr(),
		"active_clients", e.clients.ActiveCount(),
	)

	e.unicast(c, wire.EventClientID, wire.ClientIDPayload{ClientID: c.ID})
}

func (e *Engine) handleDisconnect(conn Conn) {
	c := e.clients.FindByConn(conn)
	if c == nil {
		return
	}

	e.leaveRoom(c)
	e.clients.Remove(c)
	e.metrics.Inc(metrics.WSDisconnects)
	e.log.Info("client disconnected",
		"client_id", c.ID,
		"remote_addr", conn.RemoteAddr(),
		"active_clients", e.clients.ActiveCount(),
	)
}

func (e *Engine) handleFrame(conn Conn, msg *wire.Message) {
	c := e.clients.FindByConn(conn)
	if c == nil {
		// Connection was evicted or rejected after the frame was queued.
		return
	}

	c.Touch(e.clock.Now())
	c.MessagesReceived++
	e.metrics.Inc(metrics.MessagesProcessed)

	switch msg.Event {
	case wire.EventJoinRoom:
		e.handleJoinRoom(c, msg.Data)
	case wire.EventLeaveRoom:
		e.handleLeaveRoom(c)
	case wire.EventOffer, wire.EventAnswer, wire.EventICECandidate:
		e.handleRelay(c, msg.Event, msg.Data)
	case wire.EventPing:
		e.unicast(c, wire.EventPong, nil)
	default:
		e.metrics.Inc(metrics.UnknownEvents)
		e.log.Debug("unknown event", "event", msg.Event, "client_id", c.ID)
	}
}

func (e *Engine) handleJoinRoom(c *Client, data json.RawMessage) {
	var req wire.JoinRoomRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			e.metrics.Inc(metrics.ProtocolErrors)
			e.log.Debug("malformed join-room payload", "client_id", c.ID, "err", err)
			return
		}
	}

	// Joining while in a room implicitly leaves the current one first.
	e.leaveRoom(c)

	now := e.clock.Now()
	c.State = StateJoiningRoom

	room := e.rooms.FindByID(req.RoomID)
	if room == nil {
		var err error
		room, err = e.rooms.Create(req.RoomName, c, now)
		if err != nil {
			e.metrics.Inc(metrics.RoomCreateFailures)
			e.log.Warn("room creation failed", "client_id", c.ID, "err", err)
			c.State = StateConnected
			e.sendError(c, errTextCannotCreate)
			return
		}
		e.log.Info("room created",
			"room_id", room.ID,
			"room_name", room.Name,
			"owner_id", c.ID,
			"active_rooms", e.rooms.ActiveCount(),
		)
		e.unicast(c, wire.EventRoomCreated, wire.RoomCreatedPayload{
			RoomID:   room.ID,
			RoomName: room.Name,
		})
	}

	err := room.AddParticipant(c, now)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyMember):
		// Creators are seated during Create; rejoining the same room is a
		// no-op.
	case errors.Is(err, ErrRoomFull):
		e.metrics.Inc(metrics.RoomFullRejects)
		c.State = StateConnected
		e.sendError(c, errTextRoomFull)
		return
	default:
		e.metrics.Inc(metrics.ProtocolErrors)
		e.log.Error("join failed", "client_id", c.ID, "room_id", room.ID, "err", err)
		c.State = StateConnected
		return
	}

	e.log.Info("client joined room",
		"client_id", c.ID,
		"room_id", room.ID,
		"participants", room.ParticipantCount(),
	)
	e.broadcastParticipants(room)
}

// handleLeaveRoom is a no-op for clients not in a room.
func (e *Engine) handleLeaveRoom(c *Client) {
	e.leaveRoom(c)
}

func (e *Engine) handleRelay(c *Client, event string, data json.RawMessage) {
	room := c.Room
	if room == nil {
		e.sendError(c, errTextNotInRoom)
		return
	}

	var req wire.RelayRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			e.metrics.Inc(metrics.ProtocolErrors)
			e.log.Debug("malformed relay payload", "event", event, "client_id", c.ID, "err", err)
			return
		}
	}
	if req.TargetClientID == "" {
		e.sendError(c, errTextMissingTarget)
		return
	}

	target := room.FindParticipant(req.TargetClientID)
	if target == nil {
		e.metrics.Inc(metrics.RelayTargetMissing)
		e.sendError(c, errTextTargetMissing)
		return
	}

	e.unicast(target, event, wire.NewRelayForward(event, c.ID, req.Payload(event)))
}

// leaveRoom removes the client from its room, if any, and notifies the
// remaining members. Room slots are reclaimed later by the sweep.
func (e *Engine) leaveRoom(c *Client) {
	room := c.Room
	if room == nil {
		return
	}

	now := e.clock.Now()
	if err := room.RemoveParticipant(c, now); err != nil {
		e.log.Error("leave failed", "client_id", c.ID, "room_id", room.ID, "err", err)
		return
	}

	e.log.Info("client left room",
		"client_id", c.ID,
		"room_id", room.ID,
		"participants", room.ParticipantCount(),
	)
	if !room.IsEmpty() {
		e.broadcastParticipants(room)
	}
}

func (e *Engine) broadcastParticipants(room *Room) {
	frame, err := wire.Encode(wire.EventParticipants, wire.ParticipantsPayload{
		RoomID:       room.ID,
		Participants: room.ParticipantIDs(),
	})
	if err != nil {
		e.metrics.Inc(metrics.ProtocolErrors)
		e.log.Error("encode participants", "room_id", room.ID, "err", err)
		return
	}
	room.Broadcast(nil, frame, e.clock.Now())
}

func (e *Engine) unicast(c *Client, event string, payload any) {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		e.metrics.Inc(metrics.ProtocolErrors)
		e.log.Error("encode frame", "event", event, "client_id", c.ID, "err", err)
		return
	}
	if err := c.Conn.SendText(frame); err != nil {
		e.log.Debug("send failed", "event", event, "client_id", c.ID, "err", err)
		return
	}
	c.MessagesSent++
}

func (e *Engine) sendError(c *Client, text string) {
	e.unicast(c, wire.EventError, text)
}
