package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pwtactics/backend/internal/protocol"
	"github.com/pwtactics/backend/internal/store"
)

func newEphemeral(t *testing.T) (*EphemeralEngine, *fakeTransport, *time.Time) {
	t.Helper()
	c, transport := newTestClient()
	e := NewEphemeralEngine(c)
	now := time.Now()
	e.now = func() time.Time { return now }
	c.AttachEphemeral(e)
	return e, transport, &now
}

func TestAlphaFade(t *testing.T) {
	base := time.Now()
	seg := TempSegment{Timestamp: base}

	cases := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1.0},
		{1500 * time.Millisecond, 0.5},
		{3000 * time.Millisecond, 0},
		{5 * time.Second, 0},
	}
	for _, tc := range cases {
		got := Alpha(seg, base.Add(tc.age))
		if got != tc.want {
			t.Errorf("Alpha at age %v: expected %v, got %v", tc.age, tc.want, got)
		}
	}
}

func TestTraceRecordsAndRelays(t *testing.T) {
	e, transport, _ := newEphemeral(t)

	if err := e.Trace("t1", 10, 20, "#00ffff"); err != nil {
		t.Fatalf("Trace failed: %v", err)
	}
	e.Trace("t1", 11, 21, "#00ffff")

	lines := e.Lines()
	if len(lines) != 1 || len(lines[0].Segments) != 2 {
		t.Fatalf("Expected one line with two segments, got %+v", lines)
	}

	ops := transport.byEvent(protocol.EventDrawing)
	if len(ops) != 2 {
		t.Fatalf("Expected 2 relayed points, got %d", len(ops))
	}
	op := ops[0].payload.(store.DrawOp)
	if op.Kind != store.OpTempLine {
		t.Errorf("Expected temp-line kind, got %s", op.Kind)
	}
	if op.LayerID != "" {
		t.Error("Temp-lines are not tied to a layer")
	}
}

func TestRemotePointsFlowThroughClient(t *testing.T) {
	e, _, _ := newEphemeral(t)
	c := e.client

	point, _ := json.Marshal(TempLinePoint{ID: "t9", X: 5, Y: 5, Color: "#ff00ff"})
	c.HandleEvent(envelope(t, protocol.EventDrawingUpdate, store.DrawOp{
		Kind: store.OpTempLine, Data: point, PlayerID: "peer",
	}))

	lines := e.Lines()
	if len(lines) != 1 || lines[0].PlayerID != "peer" {
		t.Fatalf("Expected a peer line, got %+v", lines)
	}
}

func TestSweepDropsAgedSegments(t *testing.T) {
	e, _, now := newEphemeral(t)

	e.addSegment("t1", "self", 1, 1, "#fff", now.Add(-4*time.Second))
	e.addSegment("t1", "self", 2, 2, "#fff", now.Add(-1*time.Second))
	e.addSegment("t2", "self", 3, 3, "#fff", now.Add(-3500*time.Millisecond))

	e.Sweep(*now)

	lines := e.Lines()
	if len(lines) != 1 {
		t.Fatalf("Fully aged lines should vanish, got %d lines", len(lines))
	}
	if len(lines[0].Segments) != 1 || lines[0].Segments[0].X != 2 {
		t.Errorf("Only the fresh segment should survive, got %+v", lines[0].Segments)
	}
}

func TestSweepBoundary(t *testing.T) {
	e, _, now := newEphemeral(t)

	// Exactly at the TTL counts as dead.
	e.addSegment("t1", "self", 1, 1, "#fff", now.Add(-TempLineTTL))
	e.Sweep(*now)

	if len(e.Lines()) != 0 {
		t.Error("A segment exactly at the TTL should be dropped")
	}
}

func TestStartStopSweeper(t *testing.T) {
	c, _ := newTestClient()
	e := NewEphemeralEngine(c)

	e.Start()
	e.addSegment("t1", "self", 1, 1, "#fff", time.Now().Add(-4*time.Second))
	time.Sleep(250 * time.Millisecond)
	e.Stop()

	if len(e.Lines()) != 0 {
		t.Error("The background sweep should have aged the line out")
	}
}
