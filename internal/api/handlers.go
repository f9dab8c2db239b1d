package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pwtactics/backend/internal/store"
	"github.com/pwtactics/backend/internal/ws"
)

type API struct {
	hub   *ws.Hub
	store *store.Store
}

func New(hub *ws.Hub, st *store.Store) *API {
	return &API{
		hub:   hub,
		store: st,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// RootHandler answers the banner probe on /.
func (a *API) RootHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"message": "Tactics Map Server",
	})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	missing, malformed := a.hub.DropCounts()
	stats := map[string]interface{}{
		"active_rooms":            a.hub.GetRoomCount(),
		"active_clients":          a.hub.GetClientCount(),
		"dropped_missing_session": missing,
		"dropped_malformed":       malformed,
		"timestamp":               time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range a.store.Stats() {
		stats[k] = v
	}

	jsonResponse(w, http.StatusOK, stats)
}

type SessionProbeResponse struct {
	Exists    bool   `json:"exists"`
	Players   int    `json:"players,omitempty"`
	SessionID string `json:"sessionId"`
}

// SessionHandler is the read-only existence probe; it never creates or
// mutates a session.
func (a *API) SessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	count, ok := a.store.PlayerCount(sessionID)
	if !ok {
		jsonResponse(w, http.StatusOK, SessionProbeResponse{
			Exists:    false,
			SessionID: sessionID,
		})
		return
	}

	jsonResponse(w, http.StatusOK, SessionProbeResponse{
		Exists:    true,
		Players:   count,
		SessionID: sessionID,
	})
}

// Router wires the HTTP surface: banner, health, stats, session probe, and
// the websocket upgrade endpoint.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/", a.RootHandler).Methods("GET")
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
	r.HandleFunc("/api/stats", a.StatsHandler).Methods("GET")
	r.HandleFunc("/api/sessions/{id}", a.SessionHandler).Methods("GET")
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(a.hub, w, req)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
