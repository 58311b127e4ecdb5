package protocol

import (
	"encoding/json"
)

// EnvelopeType defines the type of a JSON control envelope
type EnvelopeType string

// Client-to-server envelope types
const (
	TypeCreateRoom EnvelopeType = "create-room"
	TypeJoinRoom   EnvelopeType = "join-room"
	TypeStart      EnvelopeType = "start"
	TypeChoose     EnvelopeType = "choose"
)

// Server-to-client envelope types
const (
	TypeRoomCreated          EnvelopeType = "room-created"
	TypeRoomUpdate           EnvelopeType = "room-update"
	TypeBattleStarted        EnvelopeType = "battle-started"
	TypeBattleReconnected    EnvelopeType = "battle-reconnected"
	TypeOpponentDisconnected EnvelopeType = "opponent-disconnected"
	TypeError                EnvelopeType = "error"
)

// Match modes carried in a start envelope
const (
	ModeAI  = "ai"
	ModePvP = "pvp"
)

// Side identifies a viewpoint inside a match. It is not a connection
// identity: the socket bound to a side may be replaced over the match's life.
type Side string

const (
	SideP1 Side = "p1"
	SideP2 Side = "p2"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideP1 {
		return SideP2
	}
	return SideP1
}

// Valid reports whether the side is one of the two literal tags.
func (s Side) Valid() bool {
	return s == SideP1 || s == SideP2
}

// RoomStatus is the lifecycle status of a room
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusReady    RoomStatus = "ready"
	StatusBattling RoomStatus = "battling"
	StatusEnded    RoomStatus = "ended"
)

// StatusConnected is the raw first frame sent on every accepted socket.
// Clients distinguish frame kinds by the first byte: '{' is a JSON
// envelope, '|' is simulator protocol.
const StatusConnected = "|status|connected"

// Envelope represents a JSON control message in either direction
type Envelope struct {
	Type    EnvelopeType `json:"type"`
	Payload interface{}  `json:"payload,omitempty"`
}

// NewEnvelope creates a new envelope
func NewEnvelope(t EnvelopeType, payload interface{}) *Envelope {
	return &Envelope{Type: t, Payload: payload}
}

// NewError creates an error envelope with the given message
func NewError(message string) *Envelope {
	return NewEnvelope(TypeError, ErrorPayload{Message: message})
}

// ErrorPayload contains information about an error
type ErrorPayload struct {
	Message string `json:"message"`
}

// JoinRoomPayload contains data to join an existing room
type JoinRoomPayload struct {
	RoomID string `json:"roomID"`
}

// StartPayload carries a start request for either mode. In PvP mode roomID
// is required and side is required for reconnect; team is required unless
// reconnecting. In AI mode difficulty selects the opponent tier.
type StartPayload struct {
	Mode       string `json:"mode"`
	FormatID   string `json:"formatID,omitempty"`
	Team       Team   `json:"team,omitempty"`
	RoomID     string `json:"roomID,omitempty"`
	Side       Side   `json:"side,omitempty"`
	Seed       *int64 `json:"seed,omitempty"`
	Difficulty int    `json:"difficulty,omitempty"`
}

// ChoosePayload carries a choice command to forward to the simulator
type ChoosePayload struct {
	Command string `json:"command"`
}

// RoomCreatedPayload announces a freshly minted room
type RoomCreatedPayload struct {
	RoomID string `json:"roomID"`
}

// RoomUpdatePayload is broadcast to every socket bound to a room
type RoomUpdatePayload struct {
	RoomID  string     `json:"roomID"`
	Status  RoomStatus `json:"status"`
	P1Ready bool       `json:"p1Ready"`
	P2Ready bool       `json:"p2Ready"`
}

// BattleStartedPayload announces that the match has begun
type BattleStartedPayload struct {
	RoomID string `json:"roomID"`
}

// OpponentDisconnectedPayload tells the remaining player which side dropped
type OpponentDisconnectedPayload struct {
	Side Side `json:"side"`
}

// BattleReconnectedPayload is sent after a replay has been fully flushed
type BattleReconnectedPayload struct {
	Side    Side   `json:"side"`
	Message string `json:"message,omitempty"`
}

// PokemonSpec describes one team slot as submitted by a client
type PokemonSpec struct {
	Species string   `json:"species"`
	Ability string   `json:"ability,omitempty"`
	Item    string   `json:"item,omitempty"`
	Moves   []string `json:"moves"`
	Nature  string   `json:"nature,omitempty"`
	Level   int      `json:"level,omitempty"`
}

// Team is an ordered sequence of 1..6 PokemonSpec
type Team []PokemonSpec

// SerializeEnvelope converts an envelope to JSON bytes
func SerializeEnvelope(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DeserializeEnvelope converts JSON bytes to an envelope
func DeserializeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// DecodePayload re-decodes an envelope payload into a concrete struct.
// Payloads arrive as map[string]interface{}; a marshal round trip is the
// simplest faithful decode.
func DecodePayload(payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
