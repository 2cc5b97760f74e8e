// Package wire defines the JSON protocol exchanged with signaling clients.
//
// Every frame is an envelope with an `event` tag and an event-specific
// `data` payload. Relay payloads (offer/answer/ice-candidate) are carried
// opaquely: the server never inspects SDP or candidate contents.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client-to-server events.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventPing         = "ping"
)

// Server-to-client events.
const (
	EventClientID     = "client-id"
	EventRoomCreated  = "room-created"
	EventParticipants = "participants"
	EventError        = "error"
	EventPong         = "pong"
)

var ErrMissingEvent = errors.New("wire: missing event tag")

// Message is the envelope for every frame in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Parse decodes a single frame. It rejects frames that are not JSON objects
// or lack a non-empty event tag; it does not validate the payload, which is
// event-specific and checked by the dispatcher.
func Parse(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("wire: decode frame: %w", err)
	}
	if m.Event == "" {
		return nil, ErrMissingEvent
	}
	return &m, nil
}

// Encode builds a wire frame for the given event. A nil payload produces an
// envelope with no data field.
func Encode(event string, payload any) ([]byte, error) {
	m := Message{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: encode %s payload: %w", event, err)
		}
		m.Data = data
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s frame: %w", event, err)
	}
	return raw, nil
}

// JoinRoomRequest is the join-room payload. Both fields are optional: an
// empty RoomID requests a new room and an empty RoomName falls back to the
// server default.
type JoinRoomRequest struct {
	RoomID   string `json:"roomId,omitempty"`
	RoomName string `json:"roomName,omitempty"`
}

// RelayRequest is the inbound payload shared by offer, answer and
// ice-candidate. Exactly one of the payload fields is expected, matching the
// event tag; the others stay empty.
type RelayRequest struct {
	TargetClientID string          `json:"targetClientId"`
	Offer          json.RawMessage `json:"offer,omitempty"`
	Answer         json.RawMessage `json:"answer,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

// Payload returns the relay body matching the event tag.
func (r *RelayRequest) Payload(event string) json.RawMessage {
	switch event {
	case EventOffer:
		return r.Offer
	case EventAnswer:
		return r.Answer
	case EventICECandidate:
		return r.Candidate
	}
	return nil
}

// RelayForward is the outbound counterpart of RelayRequest, delivered to the
// target with the sender's identity attached.
type RelayForward struct {
	FromClientID string          `json:"fromClientId"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// NewRelayForward pairs the sender ID with the relayed body under the field
// matching the event tag.
func NewRelayForward(event, fromClientID string, body json.RawMessage) RelayForward {
	fwd := RelayForward{FromClientID: fromClientID}
	switch event {
	case EventOffer:
		fwd.Offer = body
	case EventAnswer:
		fwd.Answer = body
	case EventICECandidate:
		fwd.Candidate = body
	}
	return fwd
}

// ClientIDPayload announces the server-assigned ID after connect.
type ClientIDPayload struct {
	ClientID string `json:"clientId"`
}

// RoomCreatedPayload confirms room creation to the creator.
type RoomCreatedPayload struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

// ParticipantsPayload is broadcast on every membership change.
type ParticipantsPayload struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
}
