// Package segment implements the voice-activity-driven segmentation engine:
// a state machine that consumes PCM frames from a queue, consults a VAD
// gate, and emits completed utterances.
//
// The machine moves through five states:
//
//	IDLE → ARMED → SPEAKING → TRAILING → FINALIZING → back to ARMED
//
// While ARMED, frames accumulate in a bounded pre-roll ring so the onset of
// speech is not clipped. A speech decision opens an utterance (pre-roll
// included). The first silence frame starts the trailing window; speech
// resuming inside it folds the gap back into the utterance, while silence
// persisting for the configured post-speech duration finalizes it. Runs
// shorter than the minimum speech duration are discarded as noise.
//
// The engine is driven by a single consumer goroutine ([Engine.Run]); all
// event callbacks fire on that goroutine.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/aurist/pkg/audio"
	"github.com/MrWong99/aurist/pkg/provider/vad"
)

// State is the segmentation engine state.
type State int

const (
	// StateIdle means Run has not started (or has returned).
	StateIdle State = iota

	// StateArmed means the engine is buffering pre-roll, awaiting speech.
	StateArmed

	// StateSpeaking means an utterance is accumulating.
	StateSpeaking

	// StateTrailing means silence was detected and the post-speech timer is
	// running.
	StateTrailing

	// StateFinalizing is the transient state while an utterance is emitted
	// or discarded.
	StateFinalizing
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateSpeaking:
		return "speaking"
	case StateTrailing:
		return "trailing"
	case StateFinalizing:
		return "finalizing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds the segmentation parameters. Zero values fall back to the
// defaults documented per field.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. Default 16000.
	SampleRate int

	// FrameSize is the fixed frame length in samples. Default 512 (32 ms
	// at 16 kHz).
	FrameSize int

	// PreRoll is how much audio before speech onset is kept. Default 300 ms.
	PreRoll time.Duration

	// PostSpeechSilence is the silence duration that finalizes an
	// utterance. Default 600 ms.
	PostSpeechSilence time.Duration

	// MinSpeech is the minimum accumulated speech for an utterance to be
	// emitted; shorter runs are discarded as noise. Default 250 ms.
	MinSpeech time.Duration

	// MaxUtterance is the safety cap on utterance duration; reaching it
	// forces finalization mid-speech. Default 30 s.
	MaxUtterance time.Duration

	// EarlySilence, when positive, triggers an early (non-final) emission
	// after that much trailing silence so downstream transcription can
	// start sooner. Must be shorter than PostSpeechSilence. 0 disables.
	EarlySilence time.Duration

	// PopTimeout bounds each queue wait so stop requests are observed
	// promptly. Default 100 ms.
	PopTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 512
	}
	if c.PreRoll <= 0 {
		c.PreRoll = 300 * time.Millisecond
	}
	if c.PostSpeechSilence <= 0 {
		c.PostSpeechSilence = 600 * time.Millisecond
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = 250 * time.Millisecond
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 30 * time.Second
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 100 * time.Millisecond
	}
}

// Validate reports configuration incoherence.
func (c Config) Validate() error {
	var errs []error
	if c.EarlySilence > 0 && c.EarlySilence >= c.PostSpeechSilence {
		errs = append(errs, errors.New("segment: early silence must be shorter than post-speech silence"))
	}
	if c.MinSpeech > c.MaxUtterance {
		errs = append(errs, errors.New("segment: min speech exceeds max utterance"))
	}
	return errors.Join(errs...)
}

// Engine is the segmentation state machine. Construct with New, drive with
// Run on its own goroutine, stop with Stop. All exported methods are safe
// for concurrent use.
type Engine struct {
	cfg    Config
	gate   vad.Gate
	queue  *audio.FrameQueue
	events Events

	mu    sync.Mutex
	state State

	stopOnce sync.Once
	stopped  chan struct{}
	finished chan struct{}
}

// New creates an Engine consuming frames from queue and classifying them
// with gate. Events may be nil for a silent engine.
func New(cfg Config, gate vad.Gate, queue *audio.FrameQueue, events Events) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gate == nil {
		return nil, errors.New("segment: gate must not be nil")
	}
	if queue == nil {
		return nil, errors.New("segment: queue must not be nil")
	}
	if events == nil {
		events = NoopEvents{}
	}
	return &Engine{
		cfg:      cfg,
		gate:     gate,
		queue:    queue,
		events:   events,
		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

// State returns the current machine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Stop requests termination. The in-progress utterance, if any, is
// force-finalized (emitted when it meets the minimum, discarded otherwise)
// before Run returns. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.finished }

// run-loop working set, confined to the Run goroutine.
type runState struct {
	preroll   *audio.PreRollBuffer
	utterance *audio.Utterance
	trailing  []audio.Frame

	speechStartAt time.Duration
	trailStartAt  time.Duration
	trailSilence  time.Duration
	earlyEmitted  bool
	lastDrops     uint64
}

// Run consumes the frame queue until Stop is called or the queue closes.
// It always leaves the machine in StateIdle.
func (e *Engine) Run() {
	defer close(e.finished)
	defer e.setState(StateIdle)

	frameDur := time.Duration(e.cfg.FrameSize) * time.Second / time.Duration(e.cfg.SampleRate)
	prerollFrames := int(e.cfg.PreRoll / frameDur)
	if prerollFrames < 1 {
		prerollFrames = 1
	}

	rs := &runState{preroll: audio.NewPreRollBuffer(prerollFrames)}
	e.setState(StateArmed)

	for {
		select {
		case <-e.stopped:
			e.flush(rs)
			return
		default:
		}

		frame, err := e.queue.Pop(e.cfg.PopTimeout)
		if err != nil {
			if errors.Is(err, audio.ErrPopTimeout) {
				continue
			}
			// Queue closed: treat like an explicit stop.
			e.flush(rs)
			return
		}

		if drops := e.queue.Drops(); drops > rs.lastDrops {
			e.events.Overflow(drops - rs.lastDrops)
			rs.lastDrops = drops
		}

		e.consume(rs, frame, frameDur)
	}
}

// consume advances the state machine by one frame.
func (e *Engine) consume(rs *runState, frame audio.Frame, frameDur time.Duration) {
	decision, err := e.gate.Classify(frame.Samples)
	if err != nil {
		// Fail-safe: a broken detector votes silence, not speech.
		slog.Warn("vad gate fault, treating frame as silence", "seq", frame.Seq, "err", err)
		e.events.GateFault(err)
		decision = vad.Decision{}
	}

	switch e.State() {
	case StateArmed:
		if !decision.Speech {
			rs.preroll.Add(frame)
			return
		}
		// Speech onset: open the utterance with the buffered pre-roll.
		u := &audio.Utterance{SampleRate: e.cfg.SampleRate}
		for _, f := range rs.preroll.Snapshot() {
			u.Append(f)
		}
		u.Append(frame)
		u.SpeechDuration = frameDur
		rs.utterance = u
		rs.speechStartAt = frame.Timestamp
		e.setState(StateSpeaking)
		e.events.SpeechStart(frame.Timestamp)

	case StateSpeaking:
		if decision.Speech {
			rs.utterance.Append(frame)
			rs.utterance.SpeechDuration += frameDur
			if rs.utterance.Duration() >= e.cfg.MaxUtterance {
				e.finalize(rs)
			}
			return
		}
		// First silence frame: start the trailing window. Trailing frames
		// are held aside so a finalized utterance ends at the speech edge.
		rs.trailing = append(rs.trailing[:0], frame)
		rs.trailStartAt = frame.Timestamp
		rs.trailSilence = frameDur
		e.setState(StateTrailing)
		e.maybeEmitEarly(rs)

	case StateTrailing:
		if decision.Speech {
			// Speech resumed before the timer elapsed: fold the silent gap
			// back in and keep accumulating.
			for _, f := range rs.trailing {
				rs.utterance.Append(f)
			}
			rs.trailing = rs.trailing[:0]
			rs.trailSilence = 0
			rs.utterance.Append(frame)
			rs.utterance.SpeechDuration += frameDur
			e.setState(StateSpeaking)
			return
		}
		rs.trailing = append(rs.trailing, frame)
		rs.trailSilence += frameDur
		e.maybeEmitEarly(rs)
		if rs.trailSilence >= e.cfg.PostSpeechSilence {
			e.finalize(rs)
		}
	}
}

// maybeEmitEarly emits a non-final copy of the utterance once per speech run
// when the early silence threshold is configured and reached.
func (e *Engine) maybeEmitEarly(rs *runState) {
	if e.cfg.EarlySilence <= 0 || rs.earlyEmitted || rs.trailSilence < e.cfg.EarlySilence {
		return
	}
	if rs.utterance.SpeechDuration < e.cfg.MinSpeech {
		return
	}
	rs.earlyEmitted = true

	early := &audio.Utterance{
		Frames:         append([]audio.Frame(nil), rs.utterance.Frames...),
		SampleRate:     rs.utterance.SampleRate,
		Start:          rs.utterance.Start,
		SpeechDuration: rs.utterance.SpeechDuration,
		Final:          false,
	}
	e.events.UtteranceReady(early)
}

// finalize closes the current speech run: emit when it qualifies, discard as
// noise otherwise, then re-arm with a fresh pre-roll.
func (e *Engine) finalize(rs *runState) {
	e.setState(StateFinalizing)

	u := rs.utterance
	rs.utterance = nil
	rs.trailing = nil
	rs.earlyEmitted = false
	rs.trailSilence = 0
	rs.preroll.Reset()
	e.gate.Reset()

	if u.SpeechDuration < e.cfg.MinSpeech {
		slog.Debug("utterance discarded as noise",
			"speech", u.SpeechDuration,
			"min_speech", e.cfg.MinSpeech,
		)
		e.events.UtteranceDiscarded(u.SpeechDuration)
	} else {
		u.Final = true
		slog.Debug("utterance finalized",
			"start", u.Start,
			"duration", u.Duration(),
			"speech", u.SpeechDuration,
		)
		e.events.UtteranceReady(u)
	}

	e.setState(StateArmed)
}

// flush handles stop/close: an in-progress utterance is force-finalized.
func (e *Engine) flush(rs *runState) {
	if rs.utterance != nil {
		e.finalize(rs)
	}
}
