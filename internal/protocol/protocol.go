package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pwtactics/backend/internal/store"
)

// Event names form a closed set; anything else is dropped by the receiver.
const (
	EventJoinSession    = "join-session"
	EventSessionInfo    = "session-info"
	EventPlayerJoined   = "player-joined"
	EventPlayerLeft     = "player-left"
	EventDrawing        = "drawing"
	EventDrawingUpdate  = "drawing-update"
	EventDrawingHistory = "drawing-history"
	EventLayerUpdate    = "layer-update"
	EventLayersState    = "layers-state"
	EventChatMessage    = "chat-message"
	EventChatHistory    = "chat-history"
	EventPlayerName     = "player-name"
	EventPing           = "ping"
	EventPong           = "pong"
)

// Envelope frames every wire message: an event name plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinSession struct {
	SessionID string     `json:"sessionId"`
	PlayerID  string     `json:"playerId"`
	Role      store.Role `json:"role,omitempty"`
}

type SessionInfo struct {
	Players   []store.Player `json:"players"`
	SessionID string         `json:"sessionId"`
}

type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

// Layer actions carried by layer-update events.
const (
	LayerActionCreate = "create"
	LayerActionUpdate = "update"
	LayerActionDelete = "delete"
)

type LayerUpdate struct {
	SessionID string           `json:"sessionId"`
	LayerID   string           `json:"layerId"`
	Action    string           `json:"action"`
	LayerData store.LayerPatch `json:"layerData"`
	// Revision is server-assigned on rebroadcast; zero on the inbound leg.
	Revision int64 `json:"revision,omitempty"`
}

type ChatMessage struct {
	SessionID string            `json:"sessionId,omitempty"`
	Message   store.ChatMessage `json:"message"`
}

type PlayerName struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId"`
	Name      string `json:"name"`
}

// Drawing payloads reuse store.DrawOp wholesale: {type, data, playerId,
// sessionId, layerId, timestamp}. drawing-history carries []store.DrawOp and
// layers-state carries map[string]store.LayerRecord.

// Marshal frames a payload into an envelope ready for the wire.
func Marshal(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// MustMarshal is for payloads built from our own types, where a marshal
// failure is a programming error.
func MustMarshal(event string, payload any) []byte {
	data, err := Marshal(event, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// ParseEnvelope decodes a raw frame. Unknown events pass through here and
// are rejected at dispatch, so drops can be counted with context.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("parse envelope: missing event name")
	}
	return env, nil
}

// Decode unmarshals an envelope's payload into the typed struct for its
// event. A mismatched shape is a malformed message, not a partial success.
func Decode(env Envelope, out any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("decode %s: empty payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return nil
}
