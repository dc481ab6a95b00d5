// Package threat classifies tracked entities into danger zones from their
// estimated distance to the camera.
package threat

// Zone is the danger classification of a single entity.
type Zone int

const (
	// Safe means the entity poses no immediate risk, either because it is
	// far enough away or because no distance estimate is available.
	Safe Zone = iota
	// Critical means the entity is inside the configured critical radius.
	Critical
)

func (z Zone) String() string {
	switch z {
	case Critical:
		return "critical"
	default:
		return "safe"
	}
}

// Classify maps a distance estimate (meters) to a zone. A nil distance means
// the sensor produced no estimate for this entity; absence of evidence is
// treated as safe rather than alarming on unknowns. The comparison is strict:
// an entity sitting exactly at the critical radius is still safe.
func Classify(distance *float32, criticalDistance float32) Zone {
	if distance == nil {
		return Safe
	}
	if *distance < criticalDistance {
		return Critical
	}
	return Safe
}
