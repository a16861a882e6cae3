// Package audio defines the core audio transport types for the aurist
// pipeline: fixed-size PCM frames, the bounded queue that carries them from a
// capture producer to the segmentation consumer, the pre-roll ring buffer,
// and the Utterance aggregate that segmentation emits.
//
// All audio in the pipeline is 16-bit signed little-endian PCM, mono, at a
// fixed sample rate (16 kHz by default). Frames are immutable once queued.
package audio

import "time"

// DefaultSampleRate is the pipeline-wide sample rate in Hz. Transcription
// backends expect mono PCM at this rate; capture sources that produce other
// formats must convert before framing.
const DefaultSampleRate = 16000

// Frame is a single fixed-length chunk of mono PCM audio flowing through the
// pipeline. Frames are the atomic transport unit: captured by a Source,
// queued on a FrameQueue, classified by VAD gates, and accumulated into
// Utterances. A Frame must not be mutated after it has been pushed to a
// queue.
type Frame struct {
	// Samples is the raw signed 16-bit PCM payload.
	Samples []int16

	// Seq is a monotonically increasing sequence number assigned at capture.
	// Gaps indicate dropped frames.
	Seq uint64

	// Timestamp is the capture time of the first sample, relative to stream
	// start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame at the given sample
// rate.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(sampleRate)
}

// Utterance is one continuous speech unit: the ordered frames between
// detected speech start and speech end, preceded by a bounded pre-roll so
// the onset is not clipped.
//
// An Utterance is built up by the segmentation engine on a single goroutine
// and must be treated as immutable once it has been handed to a dispatcher.
type Utterance struct {
	// Frames holds pre-roll and speech frames in capture order.
	Frames []Frame

	// SampleRate is the PCM sample rate of all frames in Hz.
	SampleRate int

	// Start is the capture timestamp of the first frame (including pre-roll).
	Start time.Duration

	// SpeechDuration is the accumulated duration of frames observed after
	// speech onset, excluding pre-roll. The finalization policy compares this
	// against the configured minimum.
	SpeechDuration time.Duration

	// Final reports whether the utterance was closed by the full post-speech
	// silence threshold (or an explicit stop) rather than the shorter early
	// emission threshold. Results produced from a non-final utterance may be
	// superseded.
	Final bool
}

// Append adds a frame to the utterance. The first appended frame fixes Start.
func (u *Utterance) Append(f Frame) {
	if len(u.Frames) == 0 {
		u.Start = f.Timestamp
	}
	u.Frames = append(u.Frames, f)
}

// Duration returns the total audio duration of the utterance, pre-roll
// included.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	var n int
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	return time.Duration(n) * time.Second / time.Duration(u.SampleRate)
}

// Samples flattens all frames into a single contiguous PCM buffer in capture
// order.
func (u *Utterance) Samples() []int16 {
	var n int
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Float32 returns the utterance audio as normalized float32 samples in
// [-1, 1), the format expected by whisper.cpp-style inference backends.
func (u *Utterance) Float32() []float32 {
	return SamplesToFloat32(u.Samples())
}
