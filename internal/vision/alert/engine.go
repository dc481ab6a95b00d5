// Package alert turns tracked entities into spoken warnings. It owns the
// threat evaluation loop, the per-entity repeat debounce, the speech queue,
// and the interruption state machine that lets conversational interactions
// take over the audio channel.
package alert

import (
	"strings"
	"sync"
	"time"

	"github.com/clearpath-assist/clearpath/internal/config"
	"github.com/clearpath-assist/clearpath/internal/monitoring"
	"github.com/clearpath-assist/clearpath/internal/speech"
	"github.com/clearpath-assist/clearpath/internal/timeutil"
	"github.com/clearpath-assist/clearpath/internal/vision/alert/locale"
	"github.com/clearpath-assist/clearpath/internal/vision/threat"
	"github.com/clearpath-assist/clearpath/internal/vision/track"
)

// EngineConfig holds the alerting parameters.
type EngineConfig struct {
	CriticalDistanceMeters float32       // Radius inside which entities are critical
	MinimumRepeatInterval  time.Duration // Per-entity debounce between repeated alerts
	InterruptCooldown      time.Duration // Minimum spacing between interrupts
	ResumeSettleDelay      time.Duration // Pause after resume before speech restarts
	DangerousLabels        []string      // Labels eligible for critical alerts
	Language               string        // BCP 47 tag for spoken messages
}

// EngineConfigFromTuning builds an EngineConfig from a loaded TuningConfig.
func EngineConfigFromTuning(cfg *config.TuningConfig) EngineConfig {
	return EngineConfig{
		CriticalDistanceMeters: float32(cfg.GetCriticalDistanceMeters()),
		MinimumRepeatInterval:  cfg.GetMinimumRepeatInterval(),
		InterruptCooldown:      cfg.GetInterruptCooldown(),
		ResumeSettleDelay:      cfg.GetResumeSettleDelay(),
		DangerousLabels:        cfg.GetDangerousLabels(),
		Language:               cfg.GetLanguage(),
	}
}

// Announcement is the record of one alert the engine decided to speak.
type Announcement struct {
	EntityID  int64     `json:"entity_id"`
	Label     string    `json:"label"`
	Direction string    `json:"direction"`
	Message   string    `json:"message"`
	Distance  float32   `json:"distance"`
	CreatedAt time.Time `json:"created_at"`
}

// EngineStatus is a point-in-time snapshot of the engine's state.
type EngineStatus struct {
	Suspended        bool    `json:"suspended"`
	Speaking         bool    `json:"speaking"`
	QueueLength      int     `json:"queue_length"`
	WatchedEntities  int     `json:"watched_entities"`
	CriticalDistance float32 `json:"critical_distance"`
	Language         string  `json:"language"`
	Queued           int64   `json:"announcements_queued"`
	Spoken           int64   `json:"announcements_spoken"`
	Failed           int64   `json:"announcements_failed"`
	Interrupts       int64   `json:"interrupts"`
}

type utterance struct {
	text string
}

// Engine evaluates tracked entities against the threat model and manages
// the single shared speech channel. All exported methods are safe for
// concurrent use.
type Engine struct {
	mu        sync.Mutex
	cfg       EngineConfig
	synth     speech.Synthesizer
	clock     timeutil.Clock
	messages  *locale.Messages
	dangerous map[string]bool

	lastAnnounced   map[int64]time.Time
	queue           []utterance
	speaking        bool
	suspended       bool
	resumePending   bool
	lastInterruptAt time.Time

	queued     int64
	spoken     int64
	failed     int64
	interrupts int64

	sink func(Announcement)
}

// NewEngine constructs an alert engine. The synthesizer is the only output
// channel; the clock allows deterministic tests.
func NewEngine(cfg EngineConfig, synth speech.Synthesizer, clock timeutil.Clock) *Engine {
	dangerous := make(map[string]bool, len(cfg.DangerousLabels))
	for _, label := range cfg.DangerousLabels {
		dangerous[strings.ToLower(label)] = true
	}
	return &Engine{
		cfg:           cfg,
		synth:         synth,
		clock:         clock,
		messages:      locale.MustNewMessages(cfg.Language),
		dangerous:     dangerous,
		lastAnnounced: make(map[int64]time.Time),
	}
}

// SetAnnouncementSink installs an observer invoked for every announcement
// the engine queues. Used to persist and broadcast alerts. Pass nil to
// remove it. The sink must not call back into the engine.
func (e *Engine) SetAnnouncementSink(sink func(Announcement)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// Evaluate inspects the given entities, queues a spoken alert for every
// dangerous visible entity inside the critical radius that is not debounced,
// and returns the announcements it produced. Callers pass the tracker's full
// snapshot, active and memory state alike: memory entities are never
// announced, but their debounce entries stay alive so a brief dip into
// memory does not reset the repeat suppression. While interactions have the
// channel suspended, Evaluate produces no announcements and mutates no state.
func (e *Engine) Evaluate(entities []*track.TrackedEntity) []Announcement {
	e.mu.Lock()
	if e.suspended {
		e.mu.Unlock()
		return nil
	}
	now := e.clock.Now()

	// Drop debounce entries for entities the tracker holds in neither
	// state; display numbers are never reused, so the entries are dead
	// for good.
	present := make(map[int64]bool, len(entities))
	for _, entity := range entities {
		present[entity.DisplayNumber] = true
	}
	for id := range e.lastAnnounced {
		if !present[id] {
			delete(e.lastAnnounced, id)
		}
	}

	var made []Announcement
	for _, entity := range entities {
		if !entity.Visible {
			// Memory entities carry a stale position and distance,
			// which is not evidence to alert on.
			continue
		}
		if threat.Classify(entity.LastDistance, e.cfg.CriticalDistanceMeters) != threat.Critical {
			continue
		}
		if last, ok := e.lastAnnounced[entity.DisplayNumber]; ok && now.Sub(last) < e.cfg.MinimumRepeatInterval {
			continue
		}
		if !e.dangerous[strings.ToLower(entity.Label)] {
			continue
		}

		dir := DirectionOf(entity.LastCenter)
		msg := e.messages.CriticalAlert(entity.Label, dir)
		e.lastAnnounced[entity.DisplayNumber] = now

		made = append(made, Announcement{
			EntityID:  entity.DisplayNumber,
			Label:     entity.Label,
			Direction: string(dir),
			Message:   msg,
			Distance:  *entity.LastDistance,
			CreatedAt: now,
		})
		e.queue = append(e.queue, utterance{text: msg})
		e.queued++
	}

	e.maybeDispatch()
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		for _, a := range made {
			sink(a)
		}
	}
	return made
}

// maybeDispatch starts speaking the queue head if the channel is free.
// Callers must hold e.mu.
func (e *Engine) maybeDispatch() {
	if e.speaking || len(e.queue) == 0 {
		return
	}

	u := e.queue[0]
	e.queue = e.queue[1:]
	e.speaking = true

	go func() {
		err := e.synth.Speak(u.text)

		e.mu.Lock()
		e.speaking = false
		if err != nil {
			// A failed utterance counts as finished; the queue keeps moving.
			e.failed++
			monitoring.Logf("alert: speech failed: %v", err)
		} else {
			e.spoken++
		}
		e.maybeDispatch()
		e.mu.Unlock()
	}()
}

// Interrupt suspends alerting so a conversational interaction can use the
// audio channel: the current utterance is cancelled and all pending alerts
// are dropped. Returns false without any effect when called again within
// the cooldown window.
func (e *Engine) Interrupt() bool {
	e.mu.Lock()
	now := e.clock.Now()
	if !e.lastInterruptAt.IsZero() && now.Sub(e.lastInterruptAt) < e.cfg.InterruptCooldown {
		e.mu.Unlock()
		return false
	}
	e.lastInterruptAt = now
	e.suspended = true
	e.resumePending = false
	e.queue = nil
	e.interrupts++
	e.mu.Unlock()

	e.synth.Cancel()
	return true
}

// Resume lifts the suspension once the settle delay has passed, so the
// alerts do not talk over the tail of the interaction audio. Alerting
// stays suspended through the settle window; a second Resume inside the
// window, or a Resume without suspension, is a no-op.
func (e *Engine) Resume() {
	e.mu.Lock()
	if !e.suspended || e.resumePending {
		e.mu.Unlock()
		return
	}
	e.resumePending = true
	timer := e.clock.NewTimer(e.cfg.ResumeSettleDelay)
	e.mu.Unlock()

	go func() {
		<-timer.C()
		e.mu.Lock()
		// An Interrupt during the settle window wins over the resume.
		if e.resumePending {
			e.resumePending = false
			e.suspended = false
			e.maybeDispatch()
		}
		e.mu.Unlock()
	}()
}

// SpeakInteraction queues interaction speech ahead of any pending alerts.
// It works while alerting is suspended; suspension only gates alerts.
func (e *Engine) SpeakInteraction(text string) {
	e.mu.Lock()
	e.queue = append([]utterance{{text: text}}, e.queue...)
	e.maybeDispatch()
	e.mu.Unlock()
}

// Stop cancels the current utterance and drops everything queued. Unlike
// Interrupt it does not suspend future alerting.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.queue = nil
	e.mu.Unlock()
	e.synth.Cancel()
}

// SetCriticalDistance changes the critical radius at runtime. The debounce
// cache is cleared so entities already announced under the old radius are
// re-evaluated immediately under the new one.
func (e *Engine) SetCriticalDistance(meters float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.CriticalDistanceMeters = meters
	e.lastAnnounced = make(map[int64]time.Time)
}

// CriticalDistance returns the current critical radius in meters.
func (e *Engine) CriticalDistance() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.CriticalDistanceMeters
}

// ClearAllState resets the engine to its initial state: queue, debounce
// cache, suspension, and interrupt history. Counters are kept. Used when
// the tracker is reset.
func (e *Engine) ClearAllState() {
	e.mu.Lock()
	e.queue = nil
	e.lastAnnounced = make(map[int64]time.Time)
	e.suspended = false
	e.resumePending = false
	e.lastInterruptAt = time.Time{}
	e.mu.Unlock()
	e.synth.Cancel()
}

// Status reports the engine's current state.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStatus{
		Suspended:        e.suspended,
		Speaking:         e.speaking,
		QueueLength:      len(e.queue),
		WatchedEntities:  len(e.lastAnnounced),
		CriticalDistance: e.cfg.CriticalDistanceMeters,
		Language:         e.cfg.Language,
		Queued:           e.queued,
		Spoken:           e.spoken,
		Failed:           e.failed,
		Interrupts:       e.interrupts,
	}
}
