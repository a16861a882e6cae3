package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Source is a capture producer: anything that yields raw mono int16 PCM at
// the pipeline sample rate. Implementations include the portaudio microphone
// source and in-memory sources for tests; the network server feeds decoded
// wire frames through a Source adapter as well.
type Source interface {
	// Read returns the next chunk of captured samples. Chunk sizes may vary;
	// Pump reslices them into fixed frames. Read blocks until data is
	// available, ctx is cancelled, or the source ends (io.EOF).
	Read(ctx context.Context) ([]int16, error)

	// Close releases the capture resource. Idempotent.
	Close() error
}

// Pump reads from src, slices the stream into fixed frames of frameSize
// samples, stamps them with sequence numbers and capture-relative
// timestamps, and pushes them onto q.
//
// Pump returns nil when the source ends or ctx is cancelled. A source
// malfunction (any other read error) aborts the pump and is returned so the
// caller can surface a capture fault; it never panics and never closes q.
func Pump(ctx context.Context, src Source, q *FrameQueue, frameSize, sampleRate int) error {
	if frameSize <= 0 {
		return errors.New("audio: pump frame size must be positive")
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	var (
		pending []int16
		seq     uint64
		elapsed time.Duration
	)
	frameDur := time.Duration(frameSize) * time.Second / time.Duration(sampleRate)

	for {
		chunk, err := src.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("audio: capture read: %w", err)
		}

		pending = append(pending, chunk...)
		for len(pending) >= frameSize {
			samples := make([]int16, frameSize)
			copy(samples, pending[:frameSize])
			pending = pending[frameSize:]

			f := Frame{Samples: samples, Seq: seq, Timestamp: elapsed}
			seq++
			elapsed += frameDur

			if err := q.Push(f); err != nil {
				if errors.Is(err, ErrQueueClosed) {
					return nil
				}
				return fmt.Errorf("audio: queue push: %w", err)
			}
		}
	}
}
