package track

import (
	"sort"
	"time"
)

// StabilityStats summarizes the observed match cadence of one entity.
// Intervals are gaps between consecutive entries in the match history.
type StabilityStats struct {
	DisplayNumber int64         `json:"display_number"`
	Label         string        `json:"label"`
	Samples       int           `json:"samples"`
	P50           time.Duration `json:"p50"`
	P85           time.Duration `json:"p85"`
	P95           time.Duration `json:"p95"`
}

// MatchIntervalPercentiles computes p50/p85/p95 of the gaps between an
// entity's history timestamps. Returns ok=false when fewer than two
// timestamps are available.
func MatchIntervalPercentiles(history []time.Time) (p50, p85, p95 time.Duration, ok bool) {
	if len(history) < 2 {
		return 0, 0, 0, false
	}

	intervals := make([]time.Duration, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		intervals = append(intervals, history[i].Sub(history[i-1]))
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	idx := func(p float64) int {
		i := int(float64(len(intervals)) * p)
		if i >= len(intervals) {
			i = len(intervals) - 1
		}
		return i
	}

	return intervals[idx(0.50)], intervals[idx(0.85)], intervals[idx(0.95)], true
}

// StabilityReport returns per-entity match cadence statistics for every
// currently tracked entity with at least two history entries.
func (t *Tracker) StabilityReport() []StabilityStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []StabilityStats
	for _, entity := range t.entities {
		p50, p85, p95, ok := MatchIntervalPercentiles(entity.History)
		if !ok {
			continue
		}
		out = append(out, StabilityStats{
			DisplayNumber: entity.DisplayNumber,
			Label:         entity.Label,
			Samples:       len(entity.History) - 1,
			P50:           p50,
			P85:           p85,
			P95:           p95,
		})
	}
	return out
}
