package reaper

import (
	"log"
	"sync"
	"time"

	"github.com/pwtactics/backend/internal/store"
)

type Config struct {
	Interval      time.Duration
	IdleThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Minute,
		IdleThreshold: time.Hour,
	}
}

// Service periodically evicts sessions that emptied without a clean
// disconnect and have been idle past the threshold.
type Service struct {
	store  *store.Store
	config Config
	stop   chan struct{}
	wg     sync.WaitGroup
}

func New(st *store.Store, config Config) *Service {
	return &Service{
		store:  st,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("Idle reaper started (interval: %v, threshold: %v)",
		s.config.Interval, s.config.IdleThreshold)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("Idle reaper stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep runs one eviction pass.
func (s *Service) Sweep(now time.Time) int {
	reaped := s.store.ReapIdle(s.config.IdleThreshold, now)
	if reaped > 0 {
		log.Printf("Reaped %d idle sessions", reaped)
	}
	return reaped
}
