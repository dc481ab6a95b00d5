package alert

import (
	"github.com/clearpath-assist/clearpath/internal/vision"
	"github.com/clearpath-assist/clearpath/internal/vision/alert/locale"
)

// Frame thresholds dividing the normalized image into direction buckets.
// The upper band of the frame (small y) reads as "ahead" because objects
// higher in the frame are usually farther along the walking path.
const (
	leftEdge  = 0.3
	rightEdge = 0.7
	aheadBand = 0.4
)

// DirectionOf maps an entity's normalized center to the spoken direction.
func DirectionOf(center vision.Point) locale.Direction {
	switch {
	case center.X < leftEdge && center.Y < aheadBand:
		return locale.FrontLeft
	case center.X < leftEdge:
		return locale.Left
	case center.X > rightEdge && center.Y < aheadBand:
		return locale.FrontRight
	case center.X > rightEdge:
		return locale.Right
	default:
		return locale.Front
	}
}
