// Package vision holds the shared geometry and detection types exchanged
// between the perception boundary, the tracker, and the alert engine.
package vision

import "math"

//
// 0) Geometry (normalized screen space)
//

// Point is a position in normalized screen space ([0,1] on both axes).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Rect is a normalized bounding box (x, y, width, height in [0,1]).
// The origin is the top-left corner of the frame.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the rectangle.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

//
// 1) Perception boundary (input)
//

// Detection is a single per-frame observation from the perception model.
// Distance is nil when no depth sample was obtainable for this box.
type Detection struct {
	Rect       Rect     `json:"rect"`
	Label      string   `json:"label"`
	Confidence float32  `json:"confidence"`
	Distance   *float32 `json:"distance,omitempty"` // meters
}

//
// 2) Presentation boundary (output)
//

// EnrichedDetection is a detection annotated with persistent tracking
// identity, entity color, and a visibility weight for rendering. One is
// emitted per tracked entity (active and memory) each frame.
type EnrichedDetection struct {
	Rect             Rect     `json:"rect"`
	Label            string   `json:"label"`
	Confidence       float32  `json:"confidence"`
	Distance         *float32 `json:"distance,omitempty"`
	TrackingID       int64    `json:"tracking_id"`
	Color            RGB      `json:"color"`
	VisibilityWeight float64  `json:"visibility_weight"`
}

//
// 3) Entity colors
//

// RGB is an 8-bit-per-channel color assigned to a tracked entity.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Palette is the fixed set of entity colors, assigned round-robin at
// entity creation and kept for the entity's lifetime.
var Palette = []RGB{
	{R: 0xE6, G: 0x39, B: 0x46}, // red
	{R: 0x45, G: 0x7B, B: 0x9D}, // blue
	{R: 0x2A, G: 0x9D, B: 0x8F}, // teal
	{R: 0xE9, G: 0xC4, B: 0x6A}, // yellow
	{R: 0xF4, G: 0xA2, B: 0x61}, // orange
	{R: 0x8E, G: 0x44, B: 0xAD}, // purple
	{R: 0x2E, G: 0xCC, B: 0x71}, // green
	{R: 0xEC, G: 0x70, B: 0xA1}, // pink
}

// PaletteColor returns the palette color for the i-th created entity,
// wrapping round-robin.
func PaletteColor(i int64) RGB {
	n := int64(len(Palette))
	idx := i % n
	if idx < 0 {
		idx += n
	}
	return Palette[idx]
}
