// Package raster holds the client-side bitmap surface a layer draws into,
// plus the codec for full-frame snapshots (base64 PNG data URLs, the portable
// image-string format layer snapshots travel in).
package raster

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
)

const (
	Width  = 800
	Height = 600
)

const dataURLPrefix = "data:image/png;base64,"

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// StrokeData is the geometry payload of a stroke drawing op.
type StrokeData struct {
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  int     `json:"width"`
}

// MarkerData is the payload of a marker drawing op.
type MarkerData struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

// Surface is a layer's in-memory bitmap. Not safe for concurrent use; the
// owning client serializes access.
type Surface struct {
	img *image.RGBA
}

func NewSurface() *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, Width, Height))}
}

// ApplyStroke stamps a thick polyline onto the surface. Unparseable colors
// fall back to black; geometry is trusted as-is, matching the relay's
// no-validation stance.
func (s *Surface) ApplyStroke(data StrokeData) {
	c := parseHexColor(data.Color)
	radius := data.Width / 2
	if radius < 1 {
		radius = 1
	}
	for i := 0; i < len(data.Points); i++ {
		if i == 0 {
			s.stampDisc(data.Points[0], radius, c)
			continue
		}
		s.stampSegment(data.Points[i-1], data.Points[i], radius, c)
	}
}

// ApplyMarker stamps a fixed-size filled disc.
func (s *Surface) ApplyMarker(data MarkerData) {
	s.stampDisc(Point{X: data.X, Y: data.Y}, 8, parseHexColor(data.Color))
}

// Clear resets every pixel to transparent.
func (s *Surface) Clear() {
	draw.Draw(s.img, s.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// EncodeDataURL renders the full frame as a PNG data URL.
func (s *Surface) EncodeDataURL() (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.img); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SetFromDataURL replaces the surface contents with a decoded snapshot.
// On any decode failure the prior pixels stay in place.
func (s *Surface) SetFromDataURL(dataURL string) error {
	idx := strings.Index(dataURL, "base64,")
	if idx < 0 {
		return fmt.Errorf("decode snapshot: not a base64 data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[idx+len("base64,"):])
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	draw.Draw(s.img, s.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
	draw.Draw(s.img, s.img.Bounds(), img, img.Bounds().Min, draw.Over)
	return nil
}

// At reports the pixel at (x, y).
func (s *Surface) At(x, y int) color.RGBA {
	return s.img.RGBAAt(x, y)
}

func (s *Surface) stampSegment(from, to Point, radius int, c color.RGBA) {
	dx := to.X - from.X
	dy := to.Y - from.Y
	steps := abs(dx)
	if abs(dy) > steps {
		steps = abs(dy)
	}
	if steps == 0 {
		s.stampDisc(to, radius, c)
		return
	}
	for i := 0; i <= steps; i++ {
		s.stampDisc(Point{
			X: from.X + dx*i/steps,
			Y: from.Y + dy*i/steps,
		}, radius, c)
	}
}

func (s *Surface) stampDisc(center Point, radius int, c color.RGBA) {
	for y := center.Y - radius; y <= center.Y+radius; y++ {
		for x := center.X - radius; x <= center.X+radius; x++ {
			if x < 0 || y < 0 || x >= Width || y >= Height {
				continue
			}
			ddx := x - center.X
			ddy := y - center.Y
			if ddx*ddx+ddy*ddy <= radius*radius {
				s.img.SetRGBA(x, y, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// parseHexColor handles #rgb and #rrggbb; anything else is black.
func parseHexColor(s string) color.RGBA {
	c := color.RGBA{A: 255}
	if len(s) == 0 || s[0] != '#' {
		return c
	}
	hexVal := func(b byte) (uint8, bool) {
		switch {
		case b >= '0' && b <= '9':
			return b - '0', true
		case b >= 'a' && b <= 'f':
			return b - 'a' + 10, true
		case b >= 'A' && b <= 'F':
			return b - 'A' + 10, true
		}
		return 0, false
	}
	switch len(s) {
	case 7:
		for i, dst := range []*uint8{&c.R, &c.G, &c.B} {
			hi, ok1 := hexVal(s[1+i*2])
			lo, ok2 := hexVal(s[2+i*2])
			if !ok1 || !ok2 {
				return color.RGBA{A: 255}
			}
			*dst = hi<<4 | lo
		}
	case 4:
		for i, dst := range []*uint8{&c.R, &c.G, &c.B} {
			v, ok := hexVal(s[1+i])
			if !ok {
				return color.RGBA{A: 255}
			}
			*dst = v<<4 | v
		}
	}
	return c
}
