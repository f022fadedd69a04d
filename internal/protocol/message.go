package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound event names (client → server).
const (
	EventConnect    = "connect"
	EventCreateRoom = "create-room"
	EventJoinRoom   = "join-room"
	EventRejoinRoom = "rejoin-room"
	EventListRooms  = "list-rooms"
	EventSignal     = "signal"
	EventDisconnect = "disconnect"
	EventPing       = "ping"
)

// Outbound event names (server → client).
const (
	EventSessionCreated       = "session-created"
	EventReconnectionPossible = "reconnection-possible"
	EventRoomCreated          = "room-created"
	EventRoomJoined           = "room-joined"
	EventRoomPeersUpdated     = "room-peers-updated"
	EventPeerJoined           = "peer-joined"
	EventPeerLeft             = "peer-left"
	EventPeerDisconnected     = "peer-disconnected"
	EventPeerRejoined         = "peer-rejoined"
	EventHostChanged          = "host-changed"
	EventRoomList             = "room-list"
	EventRoomExpired          = "room-expired"
	EventError                = "error"
	EventPong                 = "pong"
)

// Message is the JSON envelope exchanged over every transport.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// New builds a Message with payload marshalled into Data. A nil payload
// produces an envelope with no data.
func New(event string, payload any) (Message, error) {
	if payload == nil {
		return Message{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(event string, payload any) Message {
	msg, err := New(event, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the envelope payload into v. An absent payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Event, err)
	}
	return nil
}

// CreateRoom is the create-room payload. MaxClients is optional.
type CreateRoom struct {
	Category   string `json:"category"`
	MaxClients *int   `json:"maxClients,omitempty"`
}

// RoomRef is the join-room and rejoin-room payload.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// ListRooms is the list-rooms payload.
type ListRooms struct {
	Category string `json:"category"`
}

// SignalIn is the inbound signal payload. Signal is forwarded verbatim.
type SignalIn struct {
	PeerID string          `json:"peerId"`
	Signal json.RawMessage `json:"signal"`
}

// SignalOut is delivered to the recipient of a forwarded signal.
type SignalOut struct {
	PeerID    string          `json:"peerId"`
	Signal    json.RawMessage `json:"signal"`
	Timestamp int64           `json:"timestamp"`
}

// Peer describes one room member in peer lists.
type Peer struct {
	ID           string `json:"id"`
	IsHost       bool   `json:"isHost"`
	Disconnected bool   `json:"disconnected"`
}

type SessionCreated struct {
	Token string `json:"token"`
}

type ReconnectionPossible struct {
	RoomID    string `json:"roomId"`
	Category  string `json:"category"`
	Timestamp int64  `json:"timestamp"`
}

type RoomCreated struct {
	RoomID   string `json:"roomId"`
	Category string `json:"category"`
}

type RoomJoined struct {
	RoomID    string `json:"roomId"`
	Peers     []Peer `json:"peers"`
	IsHost    bool   `json:"isHost"`
	Timestamp int64  `json:"timestamp"`
}

type PeersUpdated struct {
	Peers     []Peer `json:"peers"`
	Timestamp int64  `json:"timestamp"`
}

// PeerEvent is the payload of peer-joined, peer-left and peer-disconnected.
type PeerEvent struct {
	PeerID    string `json:"peerId"`
	Timestamp int64  `json:"timestamp"`
}

// PeerRejoined carries the rejoining member. PreviousID is set when the
// member came back under a new transport identity.
type PeerRejoined struct {
	PeerID     string `json:"peerId"`
	PreviousID string `json:"previousPeerId,omitempty"`
	Peers      []Peer `json:"peers"`
	Timestamp  int64  `json:"timestamp"`
}

type HostChanged struct {
	NewHostID string `json:"newHostId"`
	Timestamp int64  `json:"timestamp"`
}

// RoomSummary is one entry of a room listing.
type RoomSummary struct {
	ID           string `json:"id"`
	CurrentCount int    `json:"currentCount"`
	MaxClients   int    `json:"maxClients"`
	CreatedAt    int64  `json:"createdAt"`
}

type RoomList struct {
	Rooms []RoomSummary `json:"rooms"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}
