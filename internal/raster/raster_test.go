package raster

import (
	"strings"
	"testing"
)

func TestApplyStrokePaintsPixels(t *testing.T) {
	s := NewSurface()

	s.ApplyStroke(StrokeData{
		Points: []Point{{X: 10, Y: 10}, {X: 30, Y: 10}},
		Color:  "#ff0000",
		Width:  4,
	})

	px := s.At(20, 10)
	if px.R != 255 || px.G != 0 || px.B != 0 || px.A != 255 {
		t.Errorf("Expected red at (20,10), got %+v", px)
	}

	if s.At(200, 200).A != 0 {
		t.Error("Untouched pixels should stay transparent")
	}
}

func TestApplyStrokeClampsToBounds(t *testing.T) {
	s := NewSurface()

	// Off-canvas geometry is trusted input; it must not panic.
	s.ApplyStroke(StrokeData{
		Points: []Point{{X: -50, Y: -50}, {X: Width + 50, Y: Height + 50}},
		Color:  "#00ff00",
		Width:  10,
	})
}

func TestApplyMarker(t *testing.T) {
	s := NewSurface()

	s.ApplyMarker(MarkerData{X: 100, Y: 100, Color: "#0000ff"})

	px := s.At(100, 100)
	if px.B != 255 {
		t.Errorf("Expected blue marker at center, got %+v", px)
	}
}

func TestClear(t *testing.T) {
	s := NewSurface()
	s.ApplyMarker(MarkerData{X: 50, Y: 50, Color: "#ff0000"})

	s.Clear()

	if s.At(50, 50).A != 0 {
		t.Error("Clear should reset pixels to transparent")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewSurface()
	src.ApplyStroke(StrokeData{
		Points: []Point{{X: 5, Y: 5}, {X: 50, Y: 50}},
		Color:  "#ffa500",
		Width:  6,
	})

	dataURL, err := src.EncodeDataURL()
	if err != nil {
		t.Fatalf("EncodeDataURL failed: %v", err)
	}
	if !strings.HasPrefix(dataURL, "data:image/png;base64,") {
		t.Fatalf("Unexpected data URL prefix: %.40s", dataURL)
	}

	dst := NewSurface()
	if err := dst.SetFromDataURL(dataURL); err != nil {
		t.Fatalf("SetFromDataURL failed: %v", err)
	}

	want := src.At(25, 25)
	got := dst.At(25, 25)
	if want != got {
		t.Errorf("Pixel mismatch after round trip: want %+v got %+v", want, got)
	}
}

func TestDecodeFailureKeepsPriorContent(t *testing.T) {
	s := NewSurface()
	s.ApplyMarker(MarkerData{X: 40, Y: 40, Color: "#ff0000"})

	cases := []string{
		"garbage",
		"data:image/png;base64,!!!not-base64!!!",
		"data:image/png;base64,aGVsbG8=", // valid base64, not an image
	}
	for _, bad := range cases {
		if err := s.SetFromDataURL(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}

	if s.At(40, 40).R != 255 {
		t.Error("Failed decode must leave prior pixels in place")
	}
}

func TestParseHexColorFallsBackToBlack(t *testing.T) {
	s := NewSurface()
	s.ApplyMarker(MarkerData{X: 10, Y: 10, Color: "chartreuse"})

	px := s.At(10, 10)
	if px.R != 0 || px.G != 0 || px.B != 0 || px.A != 255 {
		t.Errorf("Expected black fallback, got %+v", px)
	}
}

func TestParseHexShortForm(t *testing.T) {
	s := NewSurface()
	s.ApplyMarker(MarkerData{X: 10, Y: 10, Color: "#f00"})

	px := s.At(10, 10)
	if px.R != 255 || px.G != 0 {
		t.Errorf("Expected red from #f00, got %+v", px)
	}
}
