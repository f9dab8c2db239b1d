// Package client implements the local mirror of a session: roster, layers
// with real bitmap surfaces, and chat, reconciled from authoritative server
// events. The server owns the canonical state; this copy is eventually
// consistent.
package client

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pwtactics/backend/internal/protocol"
	"github.com/pwtactics/backend/internal/raster"
	"github.com/pwtactics/backend/internal/store"
)

// Sender is the outbound half of the transport. Sends are fire-and-forget;
// no acknowledgement is awaited.
type Sender interface {
	Send(event string, payload any) error
}

// Layer is the local renderable form of a layer: metadata plus a live
// bitmap surface, unlike the server's encoded snapshot.
type Layer struct {
	ID      string
	Name    string
	Visible bool
	Locked  bool
	Surface *raster.Surface

	// Last snapshot revision applied to the surface. Snapshots below it
	// are stale and dropped.
	revision int64
}

type Client struct {
	mu sync.Mutex

	transport Sender
	sessionID string
	playerID  string
	role      store.Role

	// Own record as the server assigned it; chat messages carry its
	// name and color.
	self store.Player

	roster     map[string]store.Player // peers, self excluded
	layers     map[string]*Layer
	layerOrder []string
	chat       []store.ChatMessage

	ephemeral *EphemeralEngine

	// First session-info decides whether this client seeds the default
	// layer or waits for layers-state.
	sawSessionInfo bool

	droppedOps int64
}

func New(transport Sender, sessionID, playerID string, role store.Role) *Client {
	return &Client{
		transport: transport,
		sessionID: sessionID,
		playerID:  playerID,
		role:      role,
		roster:    make(map[string]store.Player),
		layers:    make(map[string]*Layer),
	}
}

// AttachEphemeral routes incoming temp-line ops into the given engine.
func (c *Client) AttachEphemeral(e *EphemeralEngine) {
	c.ephemeral = e
}

// Connect announces this client to the server.
func (c *Client) Connect() error {
	return c.transport.Send(protocol.EventJoinSession, protocol.JoinSession{
		SessionID: c.sessionID,
		PlayerID:  c.playerID,
		Role:      c.role,
	})
}

// HandleEvent applies one inbound envelope to the local mirror. Unknown
// events are dropped, never fatal.
func (c *Client) HandleEvent(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventSessionInfo:
		c.handleSessionInfo(env)
	case protocol.EventPlayerJoined:
		c.handlePlayerJoined(env)
	case protocol.EventPlayerLeft:
		c.handlePlayerLeft(env)
	case protocol.EventPlayerName:
		c.handlePlayerName(env)
	case protocol.EventDrawingUpdate:
		c.handleDrawingUpdate(env)
	case protocol.EventDrawingHistory:
		c.handleDrawingHistory(env)
	case protocol.EventLayersState:
		c.handleLayersState(env)
	case protocol.EventLayerUpdate:
		c.handleLayerUpdate(env)
	case protocol.EventChatMessage:
		c.handleChatMessage(env)
	case protocol.EventChatHistory:
		c.handleChatHistory(env)
	case protocol.EventPong:
		// liveness reply, nothing to mirror
	default:
		log.Printf("Ignoring unknown event %q", env.Event)
	}
}

func (c *Client) handleSessionInfo(env protocol.Envelope) {
	var info protocol.SessionInfo
	if err := protocol.Decode(env, &info); err != nil {
		log.Printf("Dropping session-info: %v", err)
		return
	}

	c.mu.Lock()
	for _, p := range info.Players {
		if p.ID == c.playerID {
			c.self = p
		} else {
			c.roster[p.ID] = p
		}
	}
	first := !c.sawSessionInfo
	c.sawSessionInfo = true
	alone := len(info.Players) == 1 && len(c.layers) == 0
	c.mu.Unlock()

	// The very first layer of a brand-new session comes from the first
	// joiner; the server never creates layers on its own. A non-empty
	// roster means layers-state will tell us what already exists.
	if first && alone {
		if err := c.seedDefaultLayer(); err != nil {
			log.Printf("Failed to seed default layer: %v", err)
		}
	}
}

// seedDefaultLayer creates the initial layer under its deterministic id and
// pushes it as a create, which the server treats as create-if-absent so
// racing seeders converge on one canonical layer.
func (c *Client) seedDefaultLayer() error {
	layer := &Layer{
		ID:      protocol.DefaultLayerID,
		Name:    protocol.DefaultLayerName,
		Visible: true,
		Surface: raster.NewSurface(),
	}

	c.mu.Lock()
	c.layers[layer.ID] = layer
	c.layerOrder = append(c.layerOrder, layer.ID)
	c.mu.Unlock()

	snapshot, err := layer.Surface.EncodeDataURL()
	if err != nil {
		return fmt.Errorf("seed default layer: %w", err)
	}
	name := layer.Name
	visible := layer.Visible
	locked := layer.Locked
	return c.transport.Send(protocol.EventLayerUpdate, protocol.LayerUpdate{
		SessionID: c.sessionID,
		LayerID:   layer.ID,
		Action:    protocol.LayerActionCreate,
		LayerData: store.LayerPatch{
			Name:    &name,
			Visible: &visible,
			Locked:  &locked,
			Raster:  &snapshot,
		},
	})
}

func (c *Client) handlePlayerJoined(env protocol.Envelope) {
	var p store.Player
	if err := protocol.Decode(env, &p); err != nil {
		log.Printf("Dropping player-joined: %v", err)
		return
	}
	if p.ID == c.playerID {
		return
	}
	c.mu.Lock()
	c.roster[p.ID] = p
	c.mu.Unlock()
}

func (c *Client) handlePlayerLeft(env protocol.Envelope) {
	var left protocol.PlayerLeft
	if err := protocol.Decode(env, &left); err != nil {
		log.Printf("Dropping player-left: %v", err)
		return
	}
	c.mu.Lock()
	delete(c.roster, left.PlayerID)
	c.mu.Unlock()
}

func (c *Client) handlePlayerName(env protocol.Envelope) {
	var rename protocol.PlayerName
	if err := protocol.Decode(env, &rename); err != nil {
		log.Printf("Dropping player-name: %v", err)
		return
	}
	if rename.PlayerID == c.playerID {
		return
	}
	c.mu.Lock()
	if p, ok := c.roster[rename.PlayerID]; ok {
		p.Name = rename.Name
		c.roster[rename.PlayerID] = p
	}
	c.mu.Unlock()
}

func (c *Client) handleDrawingUpdate(env protocol.Envelope) {
	var op store.DrawOp
	if err := protocol.Decode(env, &op); err != nil {
		log.Printf("Dropping drawing-update: %v", err)
		return
	}
	c.applyRemoteOp(op)
}

func (c *Client) handleDrawingHistory(env protocol.Envelope) {
	var ops []store.DrawOp
	if err := protocol.Decode(env, &ops); err != nil {
		log.Printf("Dropping drawing-history: %v", err)
		return
	}
	for _, op := range ops {
		c.applyRemoteOp(op)
	}
}

// applyRemoteOp replays a peer's op onto the matching local layer. Own ops
// were already applied optimistically at intent time and are skipped;
// ops for layers this client does not have yet are dropped, not buffered.
func (c *Client) applyRemoteOp(op store.DrawOp) {
	if op.PlayerID == c.playerID {
		return
	}

	if op.Kind == store.OpTempLine {
		if c.ephemeral != nil {
			c.ephemeral.HandleOp(op)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	layer, ok := c.layers[op.LayerID]
	if !ok {
		c.droppedOps++
		log.Printf("Dropping %s op for unknown layer %s", op.Kind, op.LayerID)
		return
	}

	switch op.Kind {
	case store.OpStroke:
		var data raster.StrokeData
		if err := json.Unmarshal(op.Data, &data); err != nil {
			log.Printf("Dropping stroke with bad geometry: %v", err)
			return
		}
		layer.Surface.ApplyStroke(data)
	case store.OpMarker:
		var data raster.MarkerData
		if err := json.Unmarshal(op.Data, &data); err != nil {
			log.Printf("Dropping marker with bad geometry: %v", err)
			return
		}
		layer.Surface.ApplyMarker(data)
	case store.OpClear:
		layer.Surface.Clear()
	default:
		c.droppedOps++
		log.Printf("Dropping op of unknown kind %q", op.Kind)
	}
}

// handleLayersState processes the full layer catalog a joiner receives:
// unknown layers are created with metadata and decoded snapshot; layers we
// already hold get only their raster refreshed, so purely-local transient
// edits to metadata are not clobbered.
func (c *Client) handleLayersState(env protocol.Envelope) {
	var state map[string]store.LayerRecord
	if err := protocol.Decode(env, &state); err != nil {
		log.Printf("Dropping layers-state: %v", err)
		return
	}

	// Map order is not wire order; sort for a stable local stack.
	ids := make([]string, 0, len(state))
	for id := range state {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		rec := state[id]
		layer, ok := c.layers[id]
		if !ok {
			layer = &Layer{
				ID:      id,
				Name:    rec.Name,
				Visible: rec.Visible,
				Locked:  rec.Locked,
				Surface: raster.NewSurface(),
			}
			c.layers[id] = layer
			c.layerOrder = append(c.layerOrder, id)
		}
		if rec.Raster != "" && rec.Revision >= layer.revision {
			if err := layer.Surface.SetFromDataURL(rec.Raster); err != nil {
				log.Printf("Keeping prior raster for layer %s: %v", id, err)
				continue
			}
			layer.revision = rec.Revision
		}
	}
}

func (c *Client) handleLayerUpdate(env protocol.Envelope) {
	var update protocol.LayerUpdate
	if err := protocol.Decode(env, &update); err != nil {
		log.Printf("Dropping layer-update: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if update.Action == protocol.LayerActionDelete {
		// Local-only view of deletion; the server keeps its record.
		if _, ok := c.layers[update.LayerID]; ok {
			delete(c.layers, update.LayerID)
			for i, id := range c.layerOrder {
				if id == update.LayerID {
					c.layerOrder = append(c.layerOrder[:i], c.layerOrder[i+1:]...)
					break
				}
			}
		}
		return
	}

	layer, ok := c.layers[update.LayerID]
	if !ok {
		// Repair path: an update for a layer we never heard of means we
		// missed layers-state or the create; build it on the fly.
		layer = &Layer{
			ID:      update.LayerID,
			Name:    "Synced Layer",
			Visible: true,
			Surface: raster.NewSurface(),
		}
		c.layers[update.LayerID] = layer
		c.layerOrder = append(c.layerOrder, update.LayerID)
	}

	if update.LayerData.Name != nil {
		layer.Name = *update.LayerData.Name
	}
	if update.LayerData.Visible != nil {
		layer.Visible = *update.LayerData.Visible
	}
	if update.LayerData.Locked != nil {
		layer.Locked = *update.LayerData.Locked
	}
	if update.LayerData.Raster != nil && update.Revision >= layer.revision {
		if err := layer.Surface.SetFromDataURL(*update.LayerData.Raster); err != nil {
			log.Printf("Keeping prior raster for layer %s: %v", update.LayerID, err)
			return
		}
		layer.revision = update.Revision
	}
}

func (c *Client) handleChatMessage(env protocol.Envelope) {
	var chat protocol.ChatMessage
	if err := protocol.Decode(env, &chat); err != nil {
		log.Printf("Dropping chat-message: %v", err)
		return
	}
	if chat.Message.PlayerID == c.playerID {
		return
	}
	c.mu.Lock()
	c.chat = append(c.chat, chat.Message)
	c.mu.Unlock()
}

func (c *Client) handleChatHistory(env protocol.Envelope) {
	var history []store.ChatMessage
	if err := protocol.Decode(env, &history); err != nil {
		log.Printf("Dropping chat-history: %v", err)
		return
	}
	c.mu.Lock()
	c.chat = history
	c.mu.Unlock()
}

// Local intents

// CreateLayer adds a layer locally and announces it.
func (c *Client) CreateLayer(name string) (*Layer, error) {
	layer := &Layer{
		ID:      uuid.NewString(),
		Name:    name,
		Visible: true,
		Surface: raster.NewSurface(),
	}

	c.mu.Lock()
	c.layers[layer.ID] = layer
	c.layerOrder = append(c.layerOrder, layer.ID)
	c.mu.Unlock()

	snapshot, err := layer.Surface.EncodeDataURL()
	if err != nil {
		return nil, err
	}
	visible := true
	locked := false
	err = c.transport.Send(protocol.EventLayerUpdate, protocol.LayerUpdate{
		SessionID: c.sessionID,
		LayerID:   layer.ID,
		Action:    protocol.LayerActionCreate,
		LayerData: store.LayerPatch{
			Name:    &name,
			Visible: &visible,
			Locked:  &locked,
			Raster:  &snapshot,
		},
	})
	return layer, err
}

// DeleteLayer removes a layer from the local stack and announces the
// deletion. The server only relays it; peers drop their own copies.
func (c *Client) DeleteLayer(id string) error {
	c.mu.Lock()
	if _, ok := c.layers[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("delete layer: no local layer %s", id)
	}
	delete(c.layers, id)
	for i, lid := range c.layerOrder {
		if lid == id {
			c.layerOrder = append(c.layerOrder[:i], c.layerOrder[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	return c.transport.Send(protocol.EventLayerUpdate, protocol.LayerUpdate{
		SessionID: c.sessionID,
		LayerID:   id,
		Action:    protocol.LayerActionDelete,
	})
}

// SendChat appends locally and relays; own messages are never re-applied
// from the network.
func (c *Client) SendChat(text string) error {
	c.mu.Lock()
	msg := store.ChatMessage{
		ID:        uuid.NewString(),
		PlayerID:  c.playerID,
		Name:      c.self.Name,
		Color:     c.self.Color,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	c.chat = append(c.chat, msg)
	c.mu.Unlock()

	return c.transport.Send(protocol.EventChatMessage, protocol.ChatMessage{
		SessionID: c.sessionID,
		Message:   msg,
	})
}

// Rename pushes a display-name change for this player.
func (c *Client) Rename(name string) error {
	c.mu.Lock()
	c.self.Name = name
	c.mu.Unlock()
	return c.transport.Send(protocol.EventPlayerName, protocol.PlayerName{
		SessionID: c.sessionID,
		PlayerID:  c.playerID,
		Name:      name,
	})
}

// Ping sends a liveness probe.
func (c *Client) Ping() error {
	return c.transport.Send(protocol.EventPing, nil)
}

// Accessors for the rendering side.

func (c *Client) Roster() []store.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	players := make([]store.Player, 0, len(c.roster))
	for _, p := range c.roster {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players
}

func (c *Client) Layer(id string) (*Layer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	layer, ok := c.layers[id]
	return layer, ok
}

// Layers returns the local stack bottom-to-top.
func (c *Client) Layers() []*Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Layer, 0, len(c.layerOrder))
	for _, id := range c.layerOrder {
		if layer, ok := c.layers[id]; ok {
			out = append(out, layer)
		}
	}
	return out
}

func (c *Client) Chat() []store.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.ChatMessage, len(c.chat))
	copy(out, c.chat)
	return out
}

// DroppedOps reports ops discarded for want of a local layer.
func (c *Client) DroppedOps() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedOps
}
