package segment

import (
	"time"

	"github.com/MrWong99/aurist/pkg/audio"
)

// Events is the typed notification interface through which the engine
// reports pipeline activity. All callbacks run on the engine's consumer
// goroutine, so implementations must return quickly or hand off to their own
// goroutine; a slow callback stalls frame consumption.
//
// Embed [NoopEvents] to implement only the callbacks you need.
type Events interface {
	// SpeechStart fires when the engine transitions into SPEAKING. at is
	// the capture timestamp of the triggering frame.
	SpeechStart(at time.Duration)

	// UtteranceReady delivers an utterance for transcription. u.Final is
	// false for early emissions triggered by the short silence threshold;
	// a later final utterance for the same speech run supersedes them.
	UtteranceReady(u *audio.Utterance)

	// UtteranceDiscarded fires when a speech run ended below the minimum
	// speech duration and was dropped as noise.
	UtteranceDiscarded(speech time.Duration)

	// GateFault reports a VAD gate error. The affected frame was treated
	// as silence; the engine keeps running.
	GateFault(err error)

	// Overflow reports frames dropped by the queue since the last report.
	Overflow(dropped uint64)
}

// NoopEvents implements Events with empty methods.
type NoopEvents struct{}

func (NoopEvents) SpeechStart(time.Duration)          {}
func (NoopEvents) UtteranceReady(*audio.Utterance)    {}
func (NoopEvents) UtteranceDiscarded(time.Duration)   {}
func (NoopEvents) GateFault(error)                    {}
func (NoopEvents) Overflow(uint64)                    {}

// Ensure NoopEvents implements Events at compile time.
var _ Events = NoopEvents{}
