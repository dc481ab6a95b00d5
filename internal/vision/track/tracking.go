package track

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clearpath-assist/clearpath/internal/config"
	"github.com/clearpath-assist/clearpath/internal/vision"
	"github.com/google/uuid"
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	ProximityThreshold     float64       // Match gate, fraction of normalized screen width
	MaxFramesLost          int           // Consecutive unmatched frames before demotion to memory
	MemoryTimeout          time.Duration // How long a memory entity survives past its last match
	MinLifetimeToRetain    time.Duration // Minimum lifetime at demotion to be kept in memory
	MaxTrackedEntities     int           // Hard cap on concurrent tracked entities
	MemoryVisibilityWeight float64       // Visibility weight emitted for memory entities
	MaxHistoryLength       int           // Match-timestamp trail length
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found. Intended for tests and binaries
// that have already validated config availability.
func DefaultTrackerConfig() TrackerConfig {
	cfg := config.MustLoadDefaultConfig()
	return TrackerConfigFromTuning(cfg)
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		ProximityThreshold:     cfg.GetProximityThreshold(),
		MaxFramesLost:          cfg.GetMaxFramesLost(),
		MemoryTimeout:          cfg.GetMemoryTimeout(),
		MinLifetimeToRetain:    cfg.GetMinLifetimeToRetain(),
		MaxTrackedEntities:     cfg.GetMaxTrackedEntities(),
		MemoryVisibilityWeight: cfg.GetMemoryVisibilityWeight(),
		MaxHistoryLength:       cfg.GetMaxHistoryLength(),
	}
}

// TrackedEntity represents a single persistent identity maintained across
// frames, distinct from any individual detection.
type TrackedEntity struct {
	// Identity, assigned once at creation.
	ID            string     `json:"id"`             // process-unique, never reused
	DisplayNumber int64      `json:"display_number"` // user-facing label, strictly increasing
	Color         vision.RGB `json:"color"`          // palette color, round-robin at creation

	// Last observed class label. It can change if two different detections
	// are matched by mistake; that is accepted noise, not corrected.
	Label string `json:"label"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`

	// Most recent observed geometry and metadata.
	LastCenter     vision.Point `json:"last_center"`
	LastRect       vision.Rect  `json:"last_rect"`
	LastConfidence float32      `json:"last_confidence"`
	LastDistance   *float32     `json:"last_distance,omitempty"`

	FramesUnmatched int  `json:"frames_unmatched"` // consecutive frames without a match
	Visible         bool `json:"visible"`          // false once demoted to memory state

	// History of match timestamps, oldest evicted first. Used only for
	// stability diagnostics, never for matching.
	History []time.Time `json:"history,omitempty"`
}

// Lifetime returns the span between the first and most recent match.
func (e *TrackedEntity) Lifetime() time.Duration {
	return e.LastSeenAt.Sub(e.FirstSeenAt)
}

// clone returns a deep copy safe for callers to read without the tracker lock.
func (e *TrackedEntity) clone() *TrackedEntity {
	copied := *e
	if e.LastDistance != nil {
		d := *e.LastDistance
		copied.LastDistance = &d
	}
	if len(e.History) > 0 {
		copied.History = make([]time.Time, len(e.History))
		copy(copied.History, e.History)
	}
	return &copied
}

// RemovalSink receives a final snapshot of every entity the tracker expires.
// Implementations must not call back into the tracker.
type RemovalSink interface {
	EntityExpired(entity *TrackedEntity)
}

// Tracker owns the full set of tracked entities. It is mutated exclusively
// through ProcessFrame and Reset; all other accessors are read-only.
type Tracker struct {
	Config TrackerConfig

	// Arena of entities in creation order, indexed by display number.
	entities []*TrackedEntity
	byNumber map[int64]*TrackedEntity

	nextDisplayNumber int64

	// Lifetime counters, surviving entity deletion until Reset.
	created int64
	expired int64

	removalSink RemovalSink

	mu sync.RWMutex
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		Config:            cfg,
		byNumber:          make(map[int64]*TrackedEntity),
		nextDisplayNumber: 1,
	}
}

// SetRemovalSink installs the observer notified when entities expire.
// Pass nil to remove it.
func (t *Tracker) SetRemovalSink(sink RemovalSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removalSink = sink
}

// UpdateConfig applies the given function to the tracker's configuration
// under the tracker lock. This is the safe way to mutate Config fields
// from outside the frame-delivery goroutine (e.g. HTTP tuning handlers).
func (t *Tracker) UpdateConfig(fn func(*TrackerConfig)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.Config)
}

// Reset clears all entities and restarts the identifier sequence.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entities = nil
	t.byNumber = make(map[int64]*TrackedEntity)
	t.nextDisplayNumber = 1
	t.created = 0
	t.expired = 0
}

// ProcessFrame consumes one frame's detection list and returns one enriched
// detection per currently tracked entity (active and memory). This is the
// single mutation path for tracker state; it must not be called from more
// than one goroutine.
func (t *Tracker) ProcessFrame(detections []vision.Detection, now time.Time) []vision.EnrichedDetection {
	t.mu.Lock()

	// Phase 1: Match detections to entities.
	// Greedy, single-pass, detection-major assignment in input order.
	// Each entity may be claimed by at most one detection per frame.
	claimed := make(map[int64]bool)
	matched := make([]*TrackedEntity, len(detections))
	for i := range detections {
		center := detections[i].Rect.Center()

		var best *TrackedEntity
		bestScore := 0.0
		// Creation order scan: on equal scores the entity with the lowest
		// display number wins, keeping assignment deterministic.
		for _, entity := range t.entities {
			if claimed[entity.DisplayNumber] {
				continue
			}
			if !strings.EqualFold(entity.Label, detections[i].Label) {
				continue
			}
			score := matchScore(center, entity.LastCenter, t.Config.ProximityThreshold)
			if score <= 0 {
				continue
			}
			if score > bestScore {
				bestScore = score
				best = entity
			}
		}

		if best != nil {
			claimed[best.DisplayNumber] = true
			matched[i] = best
		}
	}

	// Phase 2: Update matched entities with the frame's observations.
	for i, entity := range matched {
		if entity == nil {
			continue
		}
		t.observe(entity, detections[i], now)
	}

	// Phase 3: Create entities for unmatched detections, in input order,
	// subject to the capacity cap. Detections beyond remaining capacity
	// are dropped, not queued.
	for i := range detections {
		if matched[i] != nil {
			continue
		}
		if len(t.entities) >= t.Config.MaxTrackedEntities {
			continue
		}
		created := t.createEntity(detections[i], now)
		claimed[created.DisplayNumber] = true
	}

	// Phase 4: Cleanup. Increment the unmatched streak of every entity that
	// got no detection this frame (entities created this frame count as
	// matched), demote streaks that cross the lost threshold, and expire
	// memory entities past the retention window.
	var expired []*TrackedEntity
	kept := t.entities[:0]
	for _, entity := range t.entities {
		if claimed[entity.DisplayNumber] {
			kept = append(kept, entity)
			continue
		}

		entity.FramesUnmatched++

		remove := false
		if entity.Visible && entity.FramesUnmatched > t.Config.MaxFramesLost {
			// First crossing of the lost threshold for this streak:
			// demote and evaluate retention.
			entity.Visible = false
			if entity.Lifetime() < t.Config.MinLifetimeToRetain {
				remove = true
			}
		}
		if !entity.Visible && now.Sub(entity.LastSeenAt) > t.Config.MemoryTimeout {
			remove = true
		}

		if remove {
			delete(t.byNumber, entity.DisplayNumber)
			t.expired++
			expired = append(expired, entity.clone())
			continue
		}
		kept = append(kept, entity)
	}
	// Zero the tail so removed entities do not linger in the backing array.
	for i := len(kept); i < len(t.entities); i++ {
		t.entities[i] = nil
	}
	t.entities = kept

	// Phase 5: Emit one enriched detection per tracked entity, in the
	// tracker's internal (creation) order.
	out := make([]vision.EnrichedDetection, 0, len(t.entities))
	for _, entity := range t.entities {
		weight := 1.0
		if !entity.Visible {
			weight = t.Config.MemoryVisibilityWeight
		}
		out = append(out, vision.EnrichedDetection{
			Rect:             entity.LastRect,
			Label:            entity.Label,
			Confidence:       entity.LastConfidence,
			Distance:         copyDistance(entity.LastDistance),
			TrackingID:       entity.DisplayNumber,
			Color:            entity.Color,
			VisibilityWeight: weight,
		})
	}

	sink := t.removalSink
	t.mu.Unlock()

	if sink != nil {
		for _, entity := range expired {
			sink.EntityExpired(entity)
		}
	}

	return out
}

// matchScore converts center distance into a match score in [0, 1].
// A score of zero means the candidate is outside the proximity gate.
func matchScore(detection, last vision.Point, threshold float64) float64 {
	score := 1 - vision.Distance(detection, last)/threshold
	if score < 0 {
		return 0
	}
	return score
}

// observe applies a matched detection to an entity.
func (t *Tracker) observe(entity *TrackedEntity, d vision.Detection, now time.Time) {
	entity.Label = d.Label
	entity.LastRect = d.Rect
	entity.LastCenter = d.Rect.Center()
	entity.LastConfidence = d.Confidence
	entity.LastDistance = copyDistance(d.Distance)
	entity.LastSeenAt = now
	entity.FramesUnmatched = 0
	entity.Visible = true

	entity.History = append(entity.History, now)
	if len(entity.History) > t.Config.MaxHistoryLength {
		entity.History = entity.History[len(entity.History)-t.Config.MaxHistoryLength:]
	}
}

// createEntity admits an unmatched detection as a new tracked entity.
// Entity IDs are process-unique UUIDs; display numbers are strictly
// increasing and never reused, even after deletion.
func (t *Tracker) createEntity(d vision.Detection, now time.Time) *TrackedEntity {
	num := t.nextDisplayNumber
	t.nextDisplayNumber++

	entity := &TrackedEntity{
		ID:             fmt.Sprintf("ent_%s", uuid.NewString()),
		DisplayNumber:  num,
		Color:          vision.PaletteColor(num - 1),
		Label:          d.Label,
		FirstSeenAt:    now,
		LastSeenAt:     now,
		LastCenter:     d.Rect.Center(),
		LastRect:       d.Rect,
		LastConfidence: d.Confidence,
		LastDistance:   copyDistance(d.Distance),
		Visible:        true,
		History:        []time.Time{now},
	}

	t.entities = append(t.entities, entity)
	t.byNumber[num] = entity
	t.created++
	return entity
}

func copyDistance(d *float32) *float32 {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// Snapshot returns deep copies of all current entities, active and memory,
// in creation order. Safe for callers on other goroutines.
func (t *Tracker) Snapshot() []*TrackedEntity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*TrackedEntity, 0, len(t.entities))
	for _, entity := range t.entities {
		out = append(out, entity.clone())
	}
	return out
}

// ActiveOnly returns deep copies of the currently visible entities.
func (t *Tracker) ActiveOnly() []*TrackedEntity {
	return t.filtered(true)
}

// MemoryOnly returns deep copies of the entities in memory state.
func (t *Tracker) MemoryOnly() []*TrackedEntity {
	return t.filtered(false)
}

func (t *Tracker) filtered(visible bool) []*TrackedEntity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*TrackedEntity
	for _, entity := range t.entities {
		if entity.Visible == visible {
			out = append(out, entity.clone())
		}
	}
	return out
}

// Lookup returns a deep copy of the entity with the given display number,
// or nil if it is not currently tracked.
func (t *Tracker) Lookup(displayNumber int64) *TrackedEntity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entity, ok := t.byNumber[displayNumber]
	if !ok {
		return nil
	}
	return entity.clone()
}

// Counters returns the lifetime created/expired entity counts.
func (t *Tracker) Counters() (created, expired int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.created, t.expired
}

// EntityCount returns counts of entities by state.
func (t *Tracker) EntityCount() (total, active, memory int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, entity := range t.entities {
		total++
		if entity.Visible {
			active++
		} else {
			memory++
		}
	}
	return
}
