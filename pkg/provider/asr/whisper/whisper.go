// Package whisper provides a Transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once per Transcriber and shared across calls; each
// Transcribe runs on a fresh whisper context because contexts are not
// thread-safe while the model is. Word-level timings are not exposed by the
// bindings, so Result.Words is always nil for this backend.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/aurist/pkg/provider/asr"
)

const defaultLanguage = "en"

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the default language code used when a request carries no
// hint (e.g. "en", "de"). Defaults to "en". Use "auto" for detection on
// multilingual models.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// Transcriber implements asr.Transcriber using a locally loaded whisper.cpp
// model. Safe for concurrent use.
type Transcriber struct {
	model    whisperlib.Model
	language string

	mu     sync.Mutex
	closed bool
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// to release the model memory.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements asr.Transcriber. The bindings offer no mid-inference
// cancellation, so ctx is only checked before the call starts.
func (t *Transcriber) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return asr.Result{}, errors.New("whisper: transcriber closed")
	}
	t.mu.Unlock()

	lang := req.Language
	if lang == "" {
		lang = t.language
	}

	// Contexts are cheap relative to inference and NOT thread-safe; the
	// shared model is.
	wctx, err := t.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}

	if err := wctx.Process(req.Samples, nil, nil, nil); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		parts = append(parts, strings.TrimSpace(segment.Text))
	}

	sr := req.SampleRate
	if sr <= 0 {
		sr = whisperlib.SampleRate
	}
	return asr.Result{
		Text:     strings.TrimSpace(strings.Join(parts, " ")),
		Language: lang,
		Duration: time.Duration(len(req.Samples)) * time.Second / time.Duration(sr),
	}, nil
}

// Close releases the model. Idempotent.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.model.Close()
}

// Ensure Transcriber implements asr.Transcriber at compile time.
var _ asr.Transcriber = (*Transcriber)(nil)
