package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pwtactics/backend/internal/api"
	"github.com/pwtactics/backend/internal/config"
	"github.com/pwtactics/backend/internal/reaper"
	"github.com/pwtactics/backend/internal/store"
	"github.com/pwtactics/backend/internal/ws"
)

func main() {
	cfg := config.Load()

	sessionStore := store.NewStore()

	hub := ws.NewHub(sessionStore)
	go hub.Run()

	reaperService := reaper.New(sessionStore, reaper.Config{
		Interval:      cfg.ReapInterval,
		IdleThreshold: cfg.IdleThreshold,
	})
	reaperService.Start()

	apiHandler := api.New(hub, sessionStore)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		reaperService.Stop()
		os.Exit(0)
	}()

	log.Printf("Tactics map server starting on :%s", cfg.ServerPort)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Banner:    GET /")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Session:   GET /api/sessions/{id}")

	if err := http.ListenAndServe(":"+cfg.ServerPort, apiHandler.Router()); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}
