// Package sched drives the periodic evaluation of tracked entities against
// the alert engine, decoupling alert cadence from frame arrival cadence.
package sched

import (
	"context"
	"time"

	"github.com/clearpath-assist/clearpath/internal/monitoring"
	"github.com/clearpath-assist/clearpath/internal/timeutil"
	"github.com/clearpath-assist/clearpath/internal/vision/alert"
	"github.com/clearpath-assist/clearpath/internal/vision/track"
)

// Evaluator feeds tracker snapshots to the alert engine on a fixed
// interval. The full snapshot (active and memory) is passed so the engine
// keeps debounce state alive across memory dips; the engine itself only
// announces visible entities.
type Evaluator struct {
	tracker  *track.Tracker
	engine   *alert.Engine
	clock    timeutil.Clock
	interval time.Duration
}

func NewEvaluator(tracker *track.Tracker, engine *alert.Engine, clock timeutil.Clock, interval time.Duration) *Evaluator {
	return &Evaluator{
		tracker:  tracker,
		engine:   engine,
		clock:    clock,
		interval: interval,
	}
}

// Run evaluates on every tick until the context is cancelled.
func (ev *Evaluator) Run(ctx context.Context) {
	monitoring.Logf("sched: evaluating every %s", ev.interval)
	ticker := ev.clock.NewTicker(ev.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("sched: evaluator stopped")
			return
		case <-ticker.C():
			ev.engine.Evaluate(ev.tracker.Snapshot())
		}
	}
}
