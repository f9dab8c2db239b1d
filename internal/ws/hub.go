package ws

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pwtactics/backend/internal/protocol"
	"github.com/pwtactics/backend/internal/store"
)

// Hub routes session events. Every inbound envelope and every connect or
// disconnect flows through Run's single loop, so store mutations triggered
// by events are handled to completion one at a time.
type Hub struct {
	store *store.Store

	// Connections that joined a session, grouped by session id
	rooms map[string]map[*Client]bool

	// All live connections, joined or not
	clients map[*Client]bool

	inbound    chan *inboundEvent
	register   chan *Client
	unregister chan *Client

	// Silent protocol drops, surfaced through stats so desync stays
	// diagnosable without breaking the no-error-reply contract
	dropMissingSession atomic.Int64
	dropMalformed      atomic.Int64

	mu sync.RWMutex
}

type inboundEvent struct {
	client *Client
	env    protocol.Envelope
}

func NewHub(st *store.Store) *Hub {
	return &Hub{
		store:      st,
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		inbound:    make(chan *inboundEvent),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("Client %s connected", client.connID)

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case event := <-h.inbound:
			h.dispatch(event.client, event.env)
		}
	}
}

// dispatch matches the closed event set exhaustively; anything outside it
// is a counted drop.
func (h *Hub) dispatch(c *Client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoinSession:
		h.handleJoin(c, env)
	case protocol.EventDrawing:
		h.handleDrawing(c, env)
	case protocol.EventLayerUpdate:
		h.handleLayerUpdate(c, env)
	case protocol.EventChatMessage:
		h.handleChat(c, env)
	case protocol.EventPlayerName:
		h.handlePlayerName(c, env)
	case protocol.EventPing:
		c.enqueue(protocol.MustMarshal(protocol.EventPong, nil))
	default:
		h.dropMalformed.Add(1)
		log.Printf("Dropping unknown event %q from %s", env.Event, c.connID)
	}
}

func (h *Hub) handleJoin(c *Client, env protocol.Envelope) {
	var join protocol.JoinSession
	if err := protocol.Decode(env, &join); err != nil {
		h.noteMalformed(c, err)
		return
	}

	h.store.GetOrCreate(join.SessionID)

	count, ok := h.store.PlayerCount(join.SessionID)
	if !ok {
		h.noteMissingSession(join.SessionID, env.Event)
		return
	}

	role := join.Role
	if role != store.RoleEditor {
		role = store.RoleViewer
	}
	player := store.Player{
		ID:     join.PlayerID,
		Name:   protocol.DisplayName(count),
		Color:  protocol.RandomColor(),
		Role:   role,
		ConnID: c.connID,
	}
	if !h.store.AddPlayer(join.SessionID, player) {
		h.noteMissingSession(join.SessionID, env.Event)
		return
	}

	h.mu.Lock()
	if _, ok := h.rooms[join.SessionID]; !ok {
		h.rooms[join.SessionID] = make(map[*Client]bool)
	}
	h.rooms[join.SessionID][c] = true
	c.sessionID = join.SessionID
	h.mu.Unlock()

	h.broadcast(join.SessionID, c, protocol.MustMarshal(protocol.EventPlayerJoined, player))

	// Catch-up unicast: roster, chat log, op replay, layer snapshots.
	roster, _ := h.store.Roster(join.SessionID)
	c.enqueue(protocol.MustMarshal(protocol.EventSessionInfo, protocol.SessionInfo{
		Players:   roster,
		SessionID: join.SessionID,
	}))
	chat, _ := h.store.ChatHistory(join.SessionID)
	if chat == nil {
		chat = []store.ChatMessage{}
	}
	c.enqueue(protocol.MustMarshal(protocol.EventChatHistory, chat))
	ops, _ := h.store.DrawHistory(join.SessionID)
	if ops == nil {
		ops = []store.DrawOp{}
	}
	c.enqueue(protocol.MustMarshal(protocol.EventDrawingHistory, ops))
	layers, _ := h.store.LayersState(join.SessionID)
	c.enqueue(protocol.MustMarshal(protocol.EventLayersState, layers))

	log.Printf("Player %s joined session %s as %s (players: %d)",
		join.PlayerID, join.SessionID, role, count+1)
}

func (h *Hub) handleDrawing(c *Client, env protocol.Envelope) {
	var op store.DrawOp
	if err := protocol.Decode(env, &op); err != nil {
		h.noteMalformed(c, err)
		return
	}
	op.Timestamp = time.Now().UnixMilli()

	// Temp-lines are relay-only: never recorded, never replayed to late
	// joiners. Everything else goes into the replay log untouched;
	// geometry and color are the clients' business.
	if op.Kind == store.OpTempLine {
		if !h.store.Exists(op.SessionID) {
			h.noteMissingSession(op.SessionID, env.Event)
			return
		}
	} else if !h.store.RecordDrawOp(op.SessionID, op) {
		h.noteMissingSession(op.SessionID, env.Event)
		return
	}

	h.broadcast(op.SessionID, c, protocol.MustMarshal(protocol.EventDrawingUpdate, op))
}

func (h *Hub) handleLayerUpdate(c *Client, env protocol.Envelope) {
	var update protocol.LayerUpdate
	if err := protocol.Decode(env, &update); err != nil {
		h.noteMalformed(c, err)
		return
	}

	switch update.Action {
	case protocol.LayerActionCreate, protocol.LayerActionUpdate:
		rec, applied, ok := h.store.UpsertLayer(update.SessionID, update.LayerID, update.LayerData,
			update.Action == protocol.LayerActionCreate)
		if !ok {
			h.noteMissingSession(update.SessionID, env.Event)
			return
		}
		update.Revision = rec.Revision
		if !applied {
			// A create that lost the create-if-absent race: relay the
			// canonical record, not the discarded payload, so every
			// client converges on the surviving layer.
			update.LayerData = store.LayerPatch{
				Name:    &rec.Name,
				Visible: &rec.Visible,
				Locked:  &rec.Locked,
			}
			if rec.Raster != "" {
				update.LayerData.Raster = &rec.Raster
			}
		}
	case protocol.LayerActionDelete:
		// Deletion is a client-local view; the server keeps the record
		// and only relays the event.
		if !h.store.Exists(update.SessionID) {
			h.noteMissingSession(update.SessionID, env.Event)
			return
		}
	default:
		h.noteMalformed(c, nil)
		log.Printf("Dropping layer-update with unknown action %q", update.Action)
		return
	}

	h.broadcast(update.SessionID, c, protocol.MustMarshal(protocol.EventLayerUpdate, update))
}

func (h *Hub) handleChat(c *Client, env protocol.Envelope) {
	var chat protocol.ChatMessage
	if err := protocol.Decode(env, &chat); err != nil {
		h.noteMalformed(c, err)
		return
	}
	if !h.store.AppendMessage(chat.SessionID, chat.Message) {
		h.noteMissingSession(chat.SessionID, env.Event)
		return
	}
	h.broadcast(chat.SessionID, c, protocol.MustMarshal(protocol.EventChatMessage,
		protocol.ChatMessage{Message: chat.Message}))
}

func (h *Hub) handlePlayerName(c *Client, env protocol.Envelope) {
	var rename protocol.PlayerName
	if err := protocol.Decode(env, &rename); err != nil {
		h.noteMalformed(c, err)
		return
	}
	if !h.store.Exists(rename.SessionID) {
		h.noteMissingSession(rename.SessionID, env.Event)
		return
	}
	h.store.SetPlayerName(rename.SessionID, rename.PlayerID, rename.Name)
	h.broadcast(rename.SessionID, c, protocol.MustMarshal(protocol.EventPlayerName, rename))
}

// handleDisconnect tears the connection out of its room, removes the player
// found by connection id, and deletes the session immediately if that left
// it empty. Sessions emptied without a clean disconnect are the reaper's job.
func (h *Hub) handleDisconnect(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	if clients, ok := h.rooms[c.sessionID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.sessionID)
		}
	}
	close(c.send)
	h.mu.Unlock()

	sessionID, player, ok := h.store.RemovePlayerByConn(c.connID)
	if !ok {
		return
	}
	h.broadcast(sessionID, c, protocol.MustMarshal(protocol.EventPlayerLeft,
		protocol.PlayerLeft{PlayerID: player.ID}))
	h.store.DeleteIfEmpty(sessionID)
	log.Printf("Player %s left session %s", player.ID, sessionID)
}

// broadcast fans data out to every room member except the sender. A member
// whose send buffer is full has stopped draining; it goes through the same
// teardown as a disconnect, which closes its channel exactly once and makes
// the eventual pump-side unregister a no-op.
func (h *Hub) broadcast(sessionID string, sender *Client, data []byte) {
	var stalled []*Client
	h.mu.Lock()
	if clients, ok := h.rooms[sessionID]; ok {
		for client := range clients {
			if client == sender {
				continue
			}
			select {
			case client.send <- data:
			default:
				stalled = append(stalled, client)
			}
		}
	}
	h.mu.Unlock()

	for _, client := range stalled {
		log.Printf("Client %s stopped draining, dropping it", client.connID)
		h.handleDisconnect(client)
	}
}

func (h *Hub) noteMissingSession(sessionID, event string) {
	h.dropMissingSession.Add(1)
	log.Printf("Dropping %s for unknown session %s", event, sessionID)
}

func (h *Hub) noteMalformed(c *Client, err error) {
	h.dropMalformed.Add(1)
	if err != nil {
		log.Printf("Dropping malformed event from %s: %v", c.connID, err)
	}
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	active := make(map[string]int, len(h.rooms))
	for id, clients := range h.rooms {
		active[id] = len(clients)
	}
	return active
}

// DropCounts reports (missing-session drops, malformed drops).
func (h *Hub) DropCounts() (int64, int64) {
	return h.dropMissingSession.Load(), h.dropMalformed.Load()
}
