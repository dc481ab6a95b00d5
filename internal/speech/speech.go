// Package speech abstracts the text-to-speech backend used to announce
// alerts. The alert engine only deals with the Synthesizer interface; the
// concrete backend (platform TTS, remote service, or nothing at all) is
// chosen at wiring time.
package speech

import (
	"github.com/clearpath-assist/clearpath/internal/monitoring"
)

// Synthesizer renders one utterance at a time. Speak blocks until the
// utterance finishes or fails; Cancel aborts the in-flight utterance, if
// any, causing the blocked Speak to return.
type Synthesizer interface {
	Speak(text string) error
	Cancel()
}

// NullSynthesizer discards all utterances. Used when no audio backend is
// available.
type NullSynthesizer struct{}

func (NullSynthesizer) Speak(string) error { return nil }
func (NullSynthesizer) Cancel()            {}

// LogSynthesizer writes each utterance to the process log instead of
// speaking it. Useful in development mode.
type LogSynthesizer struct{}

func (LogSynthesizer) Speak(text string) error {
	monitoring.Logf("speech: %q", text)
	return nil
}

func (LogSynthesizer) Cancel() {}
