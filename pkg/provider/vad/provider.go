// Package vad defines the Gate interface for per-frame voice activity
// detection.
//
// A gate wraps a frame-level speech detector (an energy threshold, a
// WebRTC-style classifier, or a neural model) and classifies one fixed-size
// PCM frame at a time. Gates may keep internal state (hysteresis counters,
// smoothing history) across frames of the same stream; Reset clears that
// state when a stream restarts.
//
// Classification is synchronous by design: Classify returns immediately,
// making gates suitable for the low-latency pipeline stage that feeds the
// segmentation engine. A single Gate instance serves one audio stream and is
// driven from the engine's consumer goroutine; it does not need to be safe
// for concurrent use unless an implementation documents otherwise.
//
// Multiple gates can be OR-combined with [Any]: a frame counts as speech if
// any gate votes speech. This deliberately favours recall over precision so
// quiet speech onsets are not clipped.
package vad

// Decision is the classification result for a single audio frame.
type Decision struct {
	// Speech reports whether the frame was classified as speech.
	Speech bool

	// Probability is the speech probability score (0.0–1.0). Gates without
	// a probabilistic model report 0 or 1.
	Probability float64

	// Gate names the gate (or gates, comma-separated for combinators) that
	// voted speech. Empty for silence decisions.
	Gate string
}

// Gate classifies fixed-size mono PCM frames as speech or silence.
type Gate interface {
	// Classify analyses one frame of int16 PCM samples at the pipeline
	// sample rate and returns the decision. It must not block. A returned
	// error marks a detector fault; the segmentation engine treats the
	// frame as silence (fail-safe) and keeps running.
	Classify(frame []int16) (Decision, error)

	// Reset clears accumulated detection state without releasing the gate.
	// Called when the audio stream is interrupted or restarted.
	Reset()

	// Name returns a short identifier used in Decision.Gate and logs.
	Name() string
}
