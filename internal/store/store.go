package store

import (
	"log"
	"sync"
	"time"
)

// Store owns the canonical session map. All mutation goes through the hub's
// single dispatch loop, but the store carries its own lock so HTTP reads and
// the reaper can run against it concurrently.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate ensures a session exists. Idempotent; a fresh session has no
// layers (the first joining client seeds the default layer).
func (s *Store) GetOrCreate(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = newSession(sessionID)
		log.Printf("Session %s created", sessionID)
	}
}

func (s *Store) Exists(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// AddPlayer appends to the roster in join order. A no-op returning false if
// the session vanished before processing; callers must not assume success.
func (s *Store) AddPlayer(sessionID string, p Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	session.Players = append(session.Players, p)
	return true
}

// RemovePlayerByConn scans every session for the player bound to connID and
// removes it. Linear in sessions × players, fine at expected scale.
func (s *Store) RemovePlayerByConn(connID string) (string, Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		for i, p := range session.Players {
			if p.ConnID == connID {
				session.Players = append(session.Players[:i], session.Players[i+1:]...)
				return id, p, true
			}
		}
	}
	return "", Player{}, false
}

// RecordDrawOp appends to the replay log. It never touches layer rasters;
// snapshots are the compaction mechanism, replay is the fallback.
func (s *Store) RecordDrawOp(sessionID string, op DrawOp) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	session.Ops = append(session.Ops, op)
	return true
}

// UpsertLayer creates the layer if absent, otherwise shallow-merges the
// patch field by field (last write wins, no timestamps compared). When
// createOnly is set an existing layer is left untouched, which makes racing
// "create the first layer" attempts converge on whoever got there first;
// applied reports whether the patch actually landed. The returned record
// carries the current revision either way.
func (s *Store) UpsertLayer(sessionID, layerID string, patch LayerPatch, createOnly bool) (rec LayerRecord, applied, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, found := s.sessions[sessionID]
	if !found {
		return LayerRecord{}, false, false
	}

	layer, exists := session.Layers[layerID]
	if !exists {
		layer = &LayerRecord{ID: layerID, Visible: true}
		session.Layers[layerID] = layer
	} else if createOnly {
		return *layer, false, true
	}

	if patch.Name != nil {
		layer.Name = *patch.Name
	}
	if patch.Visible != nil {
		layer.Visible = *patch.Visible
	}
	if patch.Locked != nil {
		layer.Locked = *patch.Locked
	}
	if patch.Raster != nil {
		layer.Raster = *patch.Raster
	}
	layer.Revision++
	return *layer, true, true
}

func (s *Store) SetPlayerName(sessionID, playerID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	for i := range session.Players {
		if session.Players[i].ID == playerID {
			session.Players[i].Name = name
			return true
		}
	}
	return false
}

func (s *Store) AppendMessage(sessionID string, msg ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	session.Messages = append(session.Messages, msg)
	return true
}

// Read-side accessors return copies; nothing shared by reference crosses
// the store boundary.

func (s *Store) Roster(sessionID string) ([]Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	players := make([]Player, len(session.Players))
	copy(players, session.Players)
	return players, true
}

func (s *Store) PlayerCount(sessionID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return 0, false
	}
	return len(session.Players), true
}

func (s *Store) LayersState(sessionID string) (map[string]LayerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	layers := make(map[string]LayerRecord, len(session.Layers))
	for id, rec := range session.Layers {
		layers[id] = *rec
	}
	return layers, true
}

func (s *Store) DrawHistory(sessionID string) ([]DrawOp, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	ops := make([]DrawOp, len(session.Ops))
	copy(ops, session.Ops)
	return ops, true
}

func (s *Store) ChatHistory(sessionID string) ([]ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	msgs := make([]ChatMessage, len(session.Messages))
	copy(msgs, session.Messages)
	return msgs, true
}

// DeleteIfEmpty removes the session immediately when its roster is empty.
// Used on clean disconnects; the reaper covers unclean ones.
func (s *Store) DeleteIfEmpty(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || len(session.Players) > 0 {
		return false
	}
	delete(s.sessions, sessionID)
	log.Printf("Session %s removed (empty)", sessionID)
	return true
}

// ReapIdle evicts sessions that are empty and have seen no drawing activity
// within the threshold. A session with zero ops has epoch-zero activity and
// is reaped on the first sweep after it empties.
func (s *Store) ReapIdle(threshold time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	reaped := 0
	for id, session := range s.sessions {
		if len(session.Players) > 0 {
			continue
		}
		if now.UnixMilli()-session.lastActivity() > threshold.Milliseconds() {
			delete(s.sessions, id)
			reaped++
			log.Printf("Session %s removed (idle)", id)
		}
	}
	return reaped
}

func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := 0
	ops := 0
	for _, session := range s.sessions {
		players += len(session.Players)
		ops += len(session.Ops)
	}

	return map[string]any{
		"session_count": len(s.sessions),
		"player_count":  players,
		"op_count":      ops,
	}
}
