package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pwtactics/backend/internal/protocol"
	"github.com/pwtactics/backend/internal/raster"
	"github.com/pwtactics/backend/internal/store"
)

// DefaultSnapshotDebounce coalesces bursts of strokes into one snapshot
// transfer per layer.
const DefaultSnapshotDebounce = time.Second

// LayerSync decides, per locally-authored edit, between the two sync
// channels: the incremental op relayed live to connected peers, and the
// debounced full-frame snapshot that is the only thing late joiners ever
// see. Both always run; incrementals are cheap but reach nobody who joins
// later, snapshots are heavy but durable on the server.
type LayerSync struct {
	client   *Client
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewLayerSync(c *Client) *LayerSync {
	return &LayerSync{
		client:   c,
		debounce: DefaultSnapshotDebounce,
		timers:   make(map[string]*time.Timer),
	}
}

// SetDebounce overrides the snapshot coalescing window.
func (ls *LayerSync) SetDebounce(d time.Duration) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.debounce = d
}

// Stroke applies a stroke to the local bitmap, relays it incrementally, and
// schedules the debounced snapshot push.
func (ls *LayerSync) Stroke(layerID string, data raster.StrokeData) error {
	layer, ok := ls.client.Layer(layerID)
	if !ok {
		return fmt.Errorf("stroke: no local layer %s", layerID)
	}
	layer.Surface.ApplyStroke(data)

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("stroke: %w", err)
	}
	return ls.relayAndSchedule(layerID, store.OpStroke, payload)
}

// Marker stamps a marker locally and relays it.
func (ls *LayerSync) Marker(layerID string, data raster.MarkerData) error {
	layer, ok := ls.client.Layer(layerID)
	if !ok {
		return fmt.Errorf("marker: no local layer %s", layerID)
	}
	layer.Surface.ApplyMarker(data)

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marker: %w", err)
	}
	return ls.relayAndSchedule(layerID, store.OpMarker, payload)
}

// Clear wipes the layer locally and relays the clear.
func (ls *LayerSync) Clear(layerID string) error {
	layer, ok := ls.client.Layer(layerID)
	if !ok {
		return fmt.Errorf("clear: no local layer %s", layerID)
	}
	layer.Surface.Clear()

	return ls.relayAndSchedule(layerID, store.OpClear, nil)
}

func (ls *LayerSync) relayAndSchedule(layerID string, kind store.DrawOpKind, payload []byte) error {
	err := ls.client.transport.Send(protocol.EventDrawing, store.DrawOp{
		Kind:      kind,
		Data:      payload,
		PlayerID:  ls.client.playerID,
		SessionID: ls.client.sessionID,
		LayerID:   layerID,
	})

	ls.mu.Lock()
	if timer, ok := ls.timers[layerID]; ok {
		timer.Stop()
	}
	ls.timers[layerID] = time.AfterFunc(ls.debounce, func() {
		ls.PushSnapshot(layerID)
	})
	ls.mu.Unlock()

	return err
}

// PointerUp forces an immediate snapshot push, cancelling any pending
// debounced one for the layer.
func (ls *LayerSync) PointerUp(layerID string) error {
	ls.mu.Lock()
	if timer, ok := ls.timers[layerID]; ok {
		timer.Stop()
		delete(ls.timers, layerID)
	}
	ls.mu.Unlock()

	return ls.PushSnapshot(layerID)
}

// PushSnapshot encodes the layer's current bitmap and ships it as a
// layer-update, the transfer late joiners and resyncs rely on.
func (ls *LayerSync) PushSnapshot(layerID string) error {
	layer, ok := ls.client.Layer(layerID)
	if !ok {
		return fmt.Errorf("snapshot: no local layer %s", layerID)
	}
	snapshot, err := layer.Surface.EncodeDataURL()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	return ls.client.transport.Send(protocol.EventLayerUpdate, protocol.LayerUpdate{
		SessionID: ls.client.sessionID,
		LayerID:   layerID,
		Action:    protocol.LayerActionUpdate,
		LayerData: store.LayerPatch{Raster: &snapshot},
	})
}

// Stop cancels all pending snapshot pushes.
func (ls *LayerSync) Stop() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for id, timer := range ls.timers {
		timer.Stop()
		delete(ls.timers, id)
	}
}
