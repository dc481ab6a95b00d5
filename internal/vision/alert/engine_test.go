package alert

import (
	"testing"
	"time"

	"github.com/clearpath-assist/clearpath/internal/speech"
	"github.com/clearpath-assist/clearpath/internal/timeutil"
	"github.com/clearpath-assist/clearpath/internal/vision"
	"github.com/clearpath-assist/clearpath/internal/vision/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngineConfig() EngineConfig {
	return EngineConfig{
		CriticalDistanceMeters: 2.0,
		MinimumRepeatInterval:  1500 * time.Millisecond,
		InterruptCooldown:      time.Second,
		ResumeSettleDelay:      300 * time.Millisecond,
		DangerousLabels:        []string{"person", "car", "bicycle"},
		Language:               "en",
	}
}

func trackedAt(id int64, label string, x, y float64, dist float32) *track.TrackedEntity {
	d := dist
	return &track.TrackedEntity{
		DisplayNumber: id,
		Label:         label,
		LastCenter:    vision.Point{X: x, Y: y},
		LastDistance:  &d,
		Visible:       true,
	}
}

func newTestEngine(t *testing.T) (*Engine, *speech.MockSynthesizer, *timeutil.MockClock) {
	t.Helper()
	synth := speech.NewMockSynthesizer()
	clock := timeutil.NewMockClock(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	return NewEngine(testEngineConfig(), synth, clock), synth, clock
}

func waitSpoken(t *testing.T, synth *speech.MockSynthesizer, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(synth.Spoken()) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEvaluateAnnouncesCriticalEntity(t *testing.T) {
	t.Parallel()

	engine, synth, _ := newTestEngine(t)

	made := engine.Evaluate([]*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.5)})
	require.Len(t, made, 1)
	assert.Equal(t, int64(1), made[0].EntityID)
	assert.Equal(t, "front", made[0].Direction)
	assert.Equal(t, "Warning: person ahead", made[0].Message)
	assert.InDelta(t, 1.5, float64(made[0].Distance), 1e-6)

	waitSpoken(t, synth, 1)
	assert.Equal(t, []string{"Warning: person ahead"}, synth.Spoken())

	status := engine.Status()
	assert.Equal(t, int64(1), status.Queued)
	assert.Equal(t, 1, status.WatchedEntities)
}

func TestEvaluateSkipsSafeEntities(t *testing.T) {
	t.Parallel()

	engine, synth, _ := newTestEngine(t)

	far := trackedAt(1, "person", 0.5, 0.5, 2.5)
	atBoundary := trackedAt(2, "car", 0.5, 0.5, 2.0)
	noEstimate := &track.TrackedEntity{DisplayNumber: 3, Label: "person", Visible: true}

	made := engine.Evaluate([]*track.TrackedEntity{far, atBoundary, noEstimate})
	assert.Empty(t, made)
	assert.Empty(t, synth.Spoken())
}

func TestEvaluateSkipsNonDangerousLabels(t *testing.T) {
	t.Parallel()

	engine, synth, _ := newTestEngine(t)

	made := engine.Evaluate([]*track.TrackedEntity{trackedAt(1, "potted plant", 0.5, 0.5, 0.5)})
	assert.Empty(t, made)
	assert.Empty(t, synth.Spoken())

	// Label matching is case-insensitive.
	made = engine.Evaluate([]*track.TrackedEntity{trackedAt(2, "Person", 0.5, 0.5, 0.5)})
	assert.Len(t, made, 1)
}

func TestEvaluateDebouncesPerEntity(t *testing.T) {
	t.Parallel()

	engine, _, clock := newTestEngine(t)
	entities := []*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.0)}

	require.Len(t, engine.Evaluate(entities), 1)
	assert.Empty(t, engine.Evaluate(entities), "repeat inside the interval is silent")

	clock.Advance(1400 * time.Millisecond)
	assert.Empty(t, engine.Evaluate(entities))

	clock.Advance(200 * time.Millisecond)
	assert.Len(t, engine.Evaluate(entities), 1, "interval elapsed, entity repeats")
}

func TestDebounceIsPerEntityNotGlobal(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	require.Len(t, engine.Evaluate([]*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.0)}), 1)
	// A different entity with the same label is not debounced.
	assert.Len(t, engine.Evaluate([]*track.TrackedEntity{
		trackedAt(1, "person", 0.5, 0.5, 1.0),
		trackedAt(2, "person", 0.2, 0.5, 1.0),
	}), 1)
}

func TestDebounceForgetsVanishedEntities(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)
	entities := []*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.0)}

	require.Len(t, engine.Evaluate(entities), 1)
	require.Equal(t, 1, engine.Status().WatchedEntities)

	// The tracker dropped the entity from both active and memory state, so
	// its debounce entry is gone; display numbers are never reused, so the
	// entry could never suppress anything again.
	engine.Evaluate(nil)
	assert.Equal(t, 0, engine.Status().WatchedEntities)
	assert.Len(t, engine.Evaluate(entities), 1)
}

func TestDebounceSurvivesMemoryDip(t *testing.T) {
	t.Parallel()

	engine, synth, clock := newTestEngine(t)

	visible := trackedAt(1, "person", 0.5, 0.5, 1.0)
	require.Len(t, engine.Evaluate([]*track.TrackedEntity{visible}), 1)

	// The entity goes unmatched for a moment and the tracker demotes it to
	// memory state. It is still tracked, so its debounce entry must stay.
	clock.Advance(100 * time.Millisecond)
	inMemory := trackedAt(1, "person", 0.5, 0.5, 1.0)
	inMemory.Visible = false
	assert.Empty(t, engine.Evaluate([]*track.TrackedEntity{inMemory}),
		"memory entities are never announced")

	// Re-acquired well inside the repeat interval: still debounced.
	clock.Advance(100 * time.Millisecond)
	assert.Empty(t, engine.Evaluate([]*track.TrackedEntity{visible}))
	waitSpoken(t, synth, 1)
	assert.Len(t, synth.Spoken(), 1)

	// Once the interval elapses the entity repeats as usual.
	clock.Advance(1500 * time.Millisecond)
	assert.Len(t, engine.Evaluate([]*track.TrackedEntity{visible}), 1)
}

func TestDebounceSurvivesTrackerDemotionAndReacquisition(t *testing.T) {
	t.Parallel()

	engine, _, clock := newTestEngine(t)
	tracker := track.NewTracker(track.TrackerConfig{
		ProximityThreshold:     0.15,
		MaxFramesLost:          2,
		MemoryTimeout:          3 * time.Second,
		MinLifetimeToRetain:    0,
		MaxTrackedEntities:     20,
		MemoryVisibilityWeight: 0.3,
		MaxHistoryLength:       30,
	})

	dist := float32(1.0)
	person := []vision.Detection{{
		Rect:       vision.Rect{X: 0.45, Y: 0.45, Width: 0.1, Height: 0.1},
		Label:      "person",
		Confidence: 0.9,
		Distance:   &dist,
	}}

	tracker.ProcessFrame(person, clock.Now())
	require.Len(t, engine.Evaluate(tracker.Snapshot()), 1)

	// Three empty frames demote the entity to memory state. The tracker
	// still holds it, so one evaluate cycle during the dip must not purge
	// its debounce entry.
	for i := 0; i < 3; i++ {
		clock.Advance(30 * time.Millisecond)
		tracker.ProcessFrame(nil, clock.Now())
	}
	require.Len(t, tracker.MemoryOnly(), 1)
	assert.Empty(t, engine.Evaluate(tracker.Snapshot()))

	// Re-acquisition 200ms after the announcement: still inside the
	// repeat interval, so the entity stays quiet.
	clock.Advance(110 * time.Millisecond)
	tracker.ProcessFrame(person, clock.Now())
	require.Len(t, tracker.ActiveOnly(), 1)
	assert.Empty(t, engine.Evaluate(tracker.Snapshot()))

	clock.Advance(1500 * time.Millisecond)
	assert.Len(t, engine.Evaluate(tracker.Snapshot()), 1)
}

func TestInterruptSuspendsAndDrainsQueue(t *testing.T) {
	t.Parallel()

	engine, synth, _ := newTestEngine(t)
	synth.BlockUntilCancel = true

	made := engine.Evaluate([]*track.TrackedEntity{
		trackedAt(1, "person", 0.2, 0.5, 1.0),
		trackedAt(2, "car", 0.8, 0.5, 1.0),
	})
	require.Len(t, made, 2)
	waitSpoken(t, synth, 1) // first utterance is in flight, second queued
	require.Equal(t, 1, engine.Status().QueueLength)

	require.True(t, engine.Interrupt())

	status := engine.Status()
	assert.True(t, status.Suspended)
	assert.Equal(t, 0, status.QueueLength)
	assert.GreaterOrEqual(t, synth.CancelCount(), 1)

	// The cancelled utterance finishes; nothing is left in flight.
	require.Eventually(t, func() bool {
		return !engine.Status().Speaking
	}, 2*time.Second, 5*time.Millisecond)

	// No alerts are produced while suspended.
	assert.Nil(t, engine.Evaluate([]*track.TrackedEntity{trackedAt(3, "bicycle", 0.5, 0.5, 0.5)}))
}

func TestInterruptCooldown(t *testing.T) {
	t.Parallel()

	engine, _, clock := newTestEngine(t)

	require.True(t, engine.Interrupt())
	assert.False(t, engine.Interrupt(), "second interrupt inside cooldown is a no-op")

	clock.Advance(1100 * time.Millisecond)
	assert.True(t, engine.Interrupt())
	assert.Equal(t, int64(2), engine.Status().Interrupts)
}

func TestResumeWaitsForSettleDelay(t *testing.T) {
	t.Parallel()

	engine, synth, clock := newTestEngine(t)

	require.True(t, engine.Interrupt())
	engine.Resume()

	// Alerting stays suspended through the settle window: evaluation is a
	// no-op and nothing is queued or spoken.
	entities := []*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.0)}
	assert.True(t, engine.Status().Suspended)
	assert.Empty(t, engine.Evaluate(entities))
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, synth.Spoken())
	assert.Equal(t, 0, engine.Status().QueueLength)

	clock.Advance(300 * time.Millisecond)
	require.Eventually(t, func() bool {
		return !engine.Status().Suspended
	}, 2*time.Second, 5*time.Millisecond)

	// The suspended evaluation recorded no debounce entry, so the entity
	// alerts on the first cycle after the settle window.
	require.Len(t, engine.Evaluate(entities), 1)
	waitSpoken(t, synth, 1)
	assert.Equal(t, []string{"Warning: person ahead"}, synth.Spoken())
}

func TestInterruptDuringSettleWindowStaysSuspended(t *testing.T) {
	t.Parallel()

	cfg := testEngineConfig()
	cfg.ResumeSettleDelay = 2 * time.Second
	synth := speech.NewMockSynthesizer()
	clock := timeutil.NewMockClock(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	engine := NewEngine(cfg, synth, clock)

	require.True(t, engine.Interrupt())
	engine.Resume()

	// A fresh interrupt inside the settle window wins over the pending
	// resume: the settle timer firing later must not lift the suspension.
	clock.Advance(1100 * time.Millisecond)
	require.True(t, engine.Interrupt())

	clock.Advance(time.Second)
	time.Sleep(30 * time.Millisecond)
	assert.True(t, engine.Status().Suspended)
	assert.Empty(t, engine.Evaluate([]*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.0)}))
}

func TestResumeWithoutInterruptIsNoop(t *testing.T) {
	t.Parallel()

	engine, synth, _ := newTestEngine(t)
	engine.Resume()

	// The channel is immediately usable; no settle delay was armed.
	engine.Evaluate([]*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.0)})
	waitSpoken(t, synth, 1)
}

func TestSpeakInteractionJumpsQueue(t *testing.T) {
	t.Parallel()

	engine, synth, _ := newTestEngine(t)
	synth.BlockUntilCancel = true

	engine.Evaluate([]*track.TrackedEntity{
		trackedAt(1, "person", 0.2, 0.5, 1.0),
		trackedAt(2, "car", 0.8, 0.5, 1.0),
	})
	waitSpoken(t, synth, 1)

	engine.SpeakInteraction("turn left in ten meters")

	// Release the utterances one by one; the interaction must precede the
	// queued second alert.
	synth.Cancel()
	waitSpoken(t, synth, 2)
	synth.Cancel()
	waitSpoken(t, synth, 3)
	synth.Cancel()

	spoken := synth.Spoken()
	assert.Equal(t, "turn left in ten meters", spoken[1])
	assert.Equal(t, "Warning: car on your right", spoken[2])
}

func TestSpeakInteractionWorksWhileSuspended(t *testing.T) {
	t.Parallel()

	engine, synth, _ := newTestEngine(t)

	require.True(t, engine.Interrupt())
	engine.SpeakInteraction("it is a red door")

	waitSpoken(t, synth, 1)
	assert.Equal(t, []string{"it is a red door"}, synth.Spoken())
	assert.True(t, engine.Status().Suspended)
}

func TestSetCriticalDistanceClearsDebounce(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)
	entities := []*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.0)}

	require.Len(t, engine.Evaluate(entities), 1)
	require.Empty(t, engine.Evaluate(entities))

	engine.SetCriticalDistance(3.0)
	assert.InDelta(t, 3.0, float64(engine.CriticalDistance()), 1e-6)
	assert.Len(t, engine.Evaluate(entities), 1, "radius change re-evaluates everything")
}

func TestLoweredCriticalDistanceSilencesEntity(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)
	entities := []*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.5)}

	require.Len(t, engine.Evaluate(entities), 1)

	// Tightening the radius below the entity's distance makes it safe.
	engine.SetCriticalDistance(1.0)
	assert.Empty(t, engine.Evaluate(entities))

	// Widening it back alerts immediately: the earlier announcement was
	// not held against the debounce window after the radius change.
	engine.SetCriticalDistance(2.0)
	assert.Len(t, engine.Evaluate(entities), 1)
}

func TestSpeechFailureAdvancesQueue(t *testing.T) {
	t.Parallel()

	engine, synth, _ := newTestEngine(t)
	synth.Err = assert.AnError

	made := engine.Evaluate([]*track.TrackedEntity{
		trackedAt(1, "person", 0.2, 0.5, 1.0),
		trackedAt(2, "car", 0.8, 0.5, 1.0),
	})
	require.Len(t, made, 2)

	// Both utterances are attempted despite the failures.
	waitSpoken(t, synth, 2)
	require.Eventually(t, func() bool {
		return engine.Status().Failed == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), engine.Status().Spoken)
}

func TestStopSilencesWithoutSuspending(t *testing.T) {
	t.Parallel()

	engine, synth, _ := newTestEngine(t)
	synth.BlockUntilCancel = true

	engine.Evaluate([]*track.TrackedEntity{
		trackedAt(1, "person", 0.2, 0.5, 1.0),
		trackedAt(2, "car", 0.8, 0.5, 1.0),
	})
	waitSpoken(t, synth, 1)

	engine.Stop()
	status := engine.Status()
	assert.False(t, status.Suspended)
	assert.Equal(t, 0, status.QueueLength)

	// New alerts keep flowing.
	made := engine.Evaluate([]*track.TrackedEntity{trackedAt(3, "bicycle", 0.5, 0.5, 1.0)})
	assert.Len(t, made, 1)
}

func TestClearAllState(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)
	entities := []*track.TrackedEntity{trackedAt(1, "person", 0.5, 0.5, 1.0)}

	require.Len(t, engine.Evaluate(entities), 1)
	require.True(t, engine.Interrupt())

	engine.ClearAllState()
	status := engine.Status()
	assert.False(t, status.Suspended)
	assert.Equal(t, 0, status.QueueLength)

	// Debounce and interrupt history are gone.
	assert.Len(t, engine.Evaluate(entities), 1)
	assert.True(t, engine.Interrupt())
}

func TestAnnouncementSink(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	var got []Announcement
	engine.SetAnnouncementSink(func(a Announcement) { got = append(got, a) })

	engine.Evaluate([]*track.TrackedEntity{trackedAt(1, "person", 0.1, 0.2, 1.0)})
	require.Len(t, got, 1)
	assert.Equal(t, "front_left", got[0].Direction)
	assert.Equal(t, "Warning: person ahead on your left", got[0].Message)
}
