package protocol

import (
	"strings"
	"testing"

	"github.com/pwtactics/backend/internal/store"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	raw, err := Marshal(EventJoinSession, JoinSession{
		SessionID: "alpha",
		PlayerID:  "p1",
		Role:      store.RoleEditor,
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.Event != EventJoinSession {
		t.Errorf("Expected event %s, got %s", EventJoinSession, env.Event)
	}

	var join JoinSession
	if err := Decode(env, &join); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if join.SessionID != "alpha" || join.PlayerID != "p1" || join.Role != store.RoleEditor {
		t.Errorf("Unexpected payload: %+v", join)
	}
}

func TestParseEnvelopeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "not-json"},
		{"missing event", `{"data":{}}`},
		{"empty", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseEnvelope([]byte(tc.raw)); err == nil {
				t.Errorf("Expected error for %q", tc.raw)
			}
		})
	}
}

func TestDecodeRejectsShapeMismatch(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"join-session","data":{"sessionId":123}}`))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}

	var join JoinSession
	if err := Decode(env, &join); err == nil {
		t.Error("Expected decode error for wrong field type")
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	var join JoinSession
	if err := Decode(Envelope{Event: EventJoinSession}, &join); err == nil {
		t.Error("Expected error for empty payload")
	}
}

func TestLayerPatchOmitsUnsetFields(t *testing.T) {
	raw, err := Marshal(EventLayerUpdate, LayerUpdate{
		SessionID: "alpha",
		LayerID:   "base",
		Action:    LayerActionUpdate,
		LayerData: store.LayerPatch{},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(raw), "visible") {
		t.Errorf("Unset patch fields must be absent from the wire, got %s", raw)
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName(0); got != "Player 1" {
		t.Errorf("Expected Player 1, got %s", got)
	}
	if got := DisplayName(3); got != "Player 4" {
		t.Errorf("Expected Player 4, got %s", got)
	}
}

func TestRandomColorFromPalette(t *testing.T) {
	for i := 0; i < 50; i++ {
		color := RandomColor()
		found := false
		for _, c := range Palette {
			if c == color {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("Color %s not in palette", color)
		}
	}
}
