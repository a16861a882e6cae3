// Package asr defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber wraps a batch inference engine (local whisper.cpp, a hosted
// API, or a remote single-model service) behind one capability: turn a
// finalized utterance's samples into text. Streaming, segmentation, and
// session handling live upstream in the pipeline; backends only see complete
// utterances.
//
// Implementations must be safe for concurrent use, since the model manager
// may issue overlapping Transcribe calls when concurrent jobs are enabled,
// must honour ctx cancellation on a best-effort basis. Backends that cannot
// interrupt a started inference call may run it to completion.
package asr

import (
	"context"
	"time"
)

// Request carries one finalized utterance to a backend.
type Request struct {
	// Samples is the utterance audio as normalized float32 mono PCM.
	Samples []float32

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// Language is an optional BCP-47 hint (e.g. "en", "de"). Empty lets the
	// backend auto-detect when supported.
	Language string
}

// Word holds per-word timing and confidence from backends that report it.
type Word struct {
	Word        string
	Start       time.Duration
	End         time.Duration
	Probability float64
}

// SpeakerSegment attributes a time range of the utterance to a speaker, for
// backends with diarization support.
type SpeakerSegment struct {
	Speaker string
	Start   time.Duration
	End     time.Duration
}

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Text is the transcribed speech, whitespace-trimmed. Empty when the
	// backend heard nothing intelligible.
	Text string

	// Words contains per-word detail when available; nil otherwise.
	Words []Word

	// Language is the detected (or hinted) language code.
	Language string

	// LanguageProbability is the backend's confidence in Language, 0 when
	// not reported.
	LanguageProbability float64

	// Duration is the audio duration the backend processed.
	Duration time.Duration

	// Speakers holds diarization segments; nil when diarization is off or
	// unsupported.
	Speakers []SpeakerSegment
}

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe runs batch inference on one utterance. It blocks until the
	// result is ready, ctx is cancelled, or the backend fails.
	Transcribe(ctx context.Context, req Request) (Result, error)

	// Close releases backend resources (loaded models, connections).
	// Calling Close more than once is safe.
	Close() error
}
