// Package dispatch connects the segmentation engine to a transcription
// backend. It implements the engine's event interface, queues finalized
// utterances and runs one transcription job at a time so results reach the
// sink in finalize order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/aurist/internal/observe"
	"github.com/MrWong99/aurist/internal/segment"
	"github.com/MrWong99/aurist/pkg/audio"
	"github.com/MrWong99/aurist/pkg/provider/asr"
)

// Transcriber is the inference surface the dispatcher needs. model.Handle
// satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, req asr.Request) (asr.Result, error)
}

// Sink receives transcription outcomes. Calls arrive from the dispatcher's
// worker goroutine, one at a time, in utterance finalize order.
type Sink interface {
	// TranscriptionReady delivers the result for an utterance. u.Final is
	// false for early emissions; a final result for the same speech run
	// follows and supersedes it.
	TranscriptionReady(u *audio.Utterance, res asr.Result)

	// TranscriptionFault reports a failed transcription. The dispatcher
	// keeps running; only the affected utterance is lost.
	TranscriptionFault(u *audio.Utterance, err error)
}

const defaultQueueDepth = 8

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueDepth sets how many utterances may wait for transcription before
// UtteranceReady blocks. Default 8.
func WithQueueDepth(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.depth = n
		}
	}
}

// WithLanguage sets the initial language hint passed to the backend.
func WithLanguage(lang string) Option {
	return func(d *Dispatcher) {
		d.language = lang
	}
}

// Dispatcher queues utterances from the segmentation engine and transcribes
// them sequentially. It implements segment.Events; construct with New, drive
// with Run on its own goroutine and shut down with Close.
type Dispatcher struct {
	transcriber Transcriber
	sink        Sink
	depth       int
	metrics     *observe.Metrics

	mu       sync.Mutex
	language string

	queue     chan *audio.Utterance
	closeOnce sync.Once
	finished  chan struct{}
}

// New builds a Dispatcher delivering results to sink.
func New(t Transcriber, sink Sink, opts ...Option) (*Dispatcher, error) {
	if t == nil {
		return nil, errors.New("dispatch: transcriber must not be nil")
	}
	if sink == nil {
		return nil, errors.New("dispatch: sink must not be nil")
	}
	d := &Dispatcher{
		transcriber: t,
		sink:        sink,
		depth:       defaultQueueDepth,
		metrics:     observe.DefaultMetrics(),
		finished:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.queue = make(chan *audio.Utterance, d.depth)
	return d, nil
}

// SetLanguage changes the language hint for subsequent jobs.
func (d *Dispatcher) SetLanguage(lang string) {
	d.mu.Lock()
	d.language = lang
	d.mu.Unlock()
}

func (d *Dispatcher) currentLanguage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.language
}

// Close stops accepting utterances. Run drains what is already queued and
// then returns. Idempotent.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.finished }

// Run transcribes queued utterances until Close is called and the queue is
// drained, or ctx is cancelled. Cancellation abandons queued work; Close
// does not.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.finished)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-d.queue:
			if !ok {
				return nil
			}
			if !u.Final && d.superseded() {
				slog.Debug("early emission superseded before transcription, skipping")
				continue
			}
			d.transcribe(ctx, u)
		}
	}
}

// superseded reports whether another utterance is already queued behind the
// current early emission, making its result stale on arrival.
func (d *Dispatcher) superseded() bool {
	return len(d.queue) > 0
}

func (d *Dispatcher) transcribe(ctx context.Context, u *audio.Utterance) {
	req := asr.Request{
		Samples:    u.Float32(),
		SampleRate: u.SampleRate,
		Language:   d.currentLanguage(),
	}

	start := time.Now()
	res, err := d.transcriber.Transcribe(ctx, req)
	if err != nil {
		slog.Error("transcription failed",
			"final", u.Final,
			"audio", u.Duration(),
			"err", err,
		)
		d.sink.TranscriptionFault(u, fmt.Errorf("dispatch: transcribe: %w", err))
		return
	}
	if res.Duration == 0 {
		res.Duration = u.Duration()
	}

	slog.Debug("transcription done",
		"final", u.Final,
		"audio", u.Duration(),
		"took", time.Since(start),
		"chars", len(res.Text),
	)
	status := "final"
	if !u.Final {
		status = "early"
	}
	d.metrics.RecordUtterance(ctx, status, u.Duration().Seconds())
	d.sink.TranscriptionReady(u, res)
}

// SpeechStart implements segment.Events.
func (d *Dispatcher) SpeechStart(at time.Duration) {
	slog.Debug("speech started", "at", at)
}

// UtteranceReady implements segment.Events by queueing the utterance for
// transcription. Blocks when the queue is full so finals are never dropped.
func (d *Dispatcher) UtteranceReady(u *audio.Utterance) {
	defer func() {
		// Queue closed while the engine was still emitting; drop.
		if recover() != nil {
			slog.Warn("utterance dropped, dispatcher closed", "final", u.Final)
		}
	}()
	d.queue <- u
}

// UtteranceDiscarded implements segment.Events.
func (d *Dispatcher) UtteranceDiscarded(speech time.Duration) {
	slog.Debug("speech run discarded as noise", "speech", speech)
	d.metrics.RecordUtterance(context.Background(), "discarded", 0)
}

// GateFault implements segment.Events.
func (d *Dispatcher) GateFault(err error) {
	slog.Warn("vad gate fault", "err", err)
	d.metrics.RecordGateFault(context.Background())
}

// Overflow implements segment.Events.
func (d *Dispatcher) Overflow(dropped uint64) {
	slog.Warn("frame queue overflow", "dropped", dropped)
}

// Ensure Dispatcher implements segment.Events at compile time.
var _ segment.Events = (*Dispatcher)(nil)
