package store

import "encoding/json"

type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// A participant in a session. ConnID ties the player to its transport
// connection for disconnect handling and never crosses the wire.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Role   Role   `json:"role"`
	ConnID string `json:"-"`
}

// LayerRecord is the server's view of a layer: metadata plus the latest
// full-frame raster snapshot (a data-URL encoded image, not a diff).
// Revision increases on every upsert so clients can discard stale snapshots.
type LayerRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Visible  bool   `json:"visible"`
	Locked   bool   `json:"locked"`
	Raster   string `json:"canvasData,omitempty"`
	Revision int64  `json:"revision"`
}

// LayerPatch is a partial layer update. Nil fields are left untouched;
// set fields win last-write-wins, field by field.
type LayerPatch struct {
	Name    *string `json:"name,omitempty"`
	Visible *bool   `json:"visible,omitempty"`
	Locked  *bool   `json:"locked,omitempty"`
	Raster  *string `json:"canvasData,omitempty"`
}

type DrawOpKind string

const (
	OpStroke   DrawOpKind = "stroke"
	OpClear    DrawOpKind = "clear"
	OpMarker   DrawOpKind = "marker"
	OpTempLine DrawOpKind = "temp-line"
)

// A single drawing operation. Data is opaque geometry the server relays
// without inspecting. Timestamp is unix milliseconds, assigned on receipt.
type DrawOp struct {
	Kind      DrawOpKind      `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	PlayerID  string          `json:"playerId"`
	SessionID string          `json:"sessionId"`
	LayerID   string          `json:"layerId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	PlayerID  string `json:"playerId"`
	Name      string `json:"playerName"`
	Color     string `json:"color"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// A collaborative session. Players keep join order; Layers are unordered.
// Ops is append-only and only consulted for late-joiner replay.
type Session struct {
	ID       string
	Players  []Player
	Layers   map[string]*LayerRecord
	Ops      []DrawOp
	Messages []ChatMessage
}

func newSession(id string) *Session {
	return &Session{
		ID:     id,
		Layers: make(map[string]*LayerRecord),
	}
}

// lastActivity reports the timestamp of the most recent draw op, or zero
// (epoch) when nothing was ever drawn, so a never-drawn-in session counts
// as idle the moment it empties.
func (s *Session) lastActivity() int64 {
	var last int64
	for _, op := range s.Ops {
		if op.Timestamp > last {
			last = op.Timestamp
		}
	}
	return last
}
