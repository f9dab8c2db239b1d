package client

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/pwtactics/backend/internal/protocol"
	"github.com/pwtactics/backend/internal/store"
)

const (
	// TempLineTTL is how long a segment stays visible.
	TempLineTTL = 3 * time.Second

	// tempLineSweepEvery is the decay tick.
	tempLineSweepEvery = 100 * time.Millisecond
)

// TempLinePoint is the wire payload of one temp-line drawing op.
type TempLinePoint struct {
	ID    string `json:"id"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

type TempSegment struct {
	X         int
	Y         int
	Timestamp time.Time
}

// TempLine is a decaying pointer trace. Purely additive state that ages out
// on the local clock; never reconciled against any server snapshot.
type TempLine struct {
	ID       string
	PlayerID string
	Color    string
	Segments []TempSegment
}

// EphemeralEngine manages temp-lines: locally-drawn points are recorded and
// broadcast fire-and-forget, remote points are recorded as they arrive, and
// a fixed sweep drops everything older than the TTL.
type EphemeralEngine struct {
	client *Client
	now    func() time.Time

	mu    sync.Mutex
	lines map[string]*TempLine

	stop     chan struct{}
	stopOnce sync.Once
}

func NewEphemeralEngine(c *Client) *EphemeralEngine {
	return &EphemeralEngine{
		client: c,
		now:    time.Now,
		lines:  make(map[string]*TempLine),
		stop:   make(chan struct{}),
	}
}

// Start runs the decay sweep until Stop.
func (e *EphemeralEngine) Start() {
	go func() {
		ticker := time.NewTicker(tempLineSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.Sweep(e.now())
			}
		}
	}()
}

func (e *EphemeralEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Trace records a locally-drawn point and relays it. The first point of an
// id starts the line; each pointer-move adds one segment.
func (e *EphemeralEngine) Trace(id string, x, y int, color string) error {
	e.addSegment(id, e.client.playerID, x, y, color, e.now())

	payload, err := json.Marshal(TempLinePoint{ID: id, X: x, Y: y, Color: color})
	if err != nil {
		return err
	}
	return e.client.transport.Send(protocol.EventDrawing, store.DrawOp{
		Kind:      store.OpTempLine,
		Data:      payload,
		PlayerID:  e.client.playerID,
		SessionID: e.client.sessionID,
	})
}

// HandleOp records a peer's temp-line point.
func (e *EphemeralEngine) HandleOp(op store.DrawOp) {
	var point TempLinePoint
	if err := json.Unmarshal(op.Data, &point); err != nil {
		log.Printf("Dropping temp-line point: %v", err)
		return
	}
	e.addSegment(point.ID, op.PlayerID, point.X, point.Y, point.Color, e.now())
}

func (e *EphemeralEngine) addSegment(id, playerID string, x, y int, color string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	line, ok := e.lines[id]
	if !ok {
		line = &TempLine{ID: id, PlayerID: playerID, Color: color}
		e.lines[id] = line
	}
	line.Segments = append(line.Segments, TempSegment{X: x, Y: y, Timestamp: at})
}

// Sweep drops segments past the TTL and removes lines with none left.
func (e *EphemeralEngine) Sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, line := range e.lines {
		live := line.Segments[:0]
		for _, seg := range line.Segments {
			if now.Sub(seg.Timestamp) < TempLineTTL {
				live = append(live, seg)
			}
		}
		line.Segments = live
		if len(line.Segments) == 0 {
			delete(e.lines, id)
		}
	}
}

// Lines returns the current render set.
func (e *EphemeralEngine) Lines() []TempLine {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TempLine, 0, len(e.lines))
	for _, line := range e.lines {
		cp := *line
		cp.Segments = make([]TempSegment, len(line.Segments))
		copy(cp.Segments, line.Segments)
		out = append(out, cp)
	}
	return out
}

// Alpha is the render opacity of a segment at the given instant: full at
// birth, gone at the TTL, linear in between.
func Alpha(seg TempSegment, now time.Time) float64 {
	age := now.Sub(seg.Timestamp)
	if age >= TempLineTTL {
		return 0
	}
	a := 1 - float64(age)/float64(TempLineTTL)
	if a < 0 {
		return 0
	}
	return a
}
