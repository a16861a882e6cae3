// Package portaudio provides a microphone capture Source backed by the
// PortAudio library. It is used by the local dictation command; the network
// server receives audio over the wire instead.
//
// PortAudio is initialised once per Source and terminated on Close. Only one
// Source should be open at a time.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/aurist/pkg/audio"
)

// defaultFramesPerBuffer is the PortAudio read granularity in samples.
// 512 samples at 16 kHz is 32 ms, matching the pipeline frame size.
const defaultFramesPerBuffer = 512

// Source captures mono int16 PCM from the default input device.
type Source struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// Open initialises PortAudio and starts capturing from the default input
// device at sampleRate Hz. The caller must Close the source to release the
// device.
func Open(sampleRate int) (*Source, error) {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	s := &Source{buf: make([]int16, defaultFramesPerBuffer)}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), defaultFramesPerBuffer, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	s.stream = stream
	return s, nil
}

// Read blocks until the next buffer of samples has been captured and returns
// a copy of it. PortAudio's blocking Read paces the loop at the hardware
// rate, so ctx is only checked between buffers.
func (s *Source) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("portaudio: source closed")
	}

	if err := s.stream.Read(); err != nil {
		return nil, fmt.Errorf("portaudio: read: %w", err)
	}
	chunk := make([]int16, len(s.buf))
	copy(chunk, s.buf)
	return chunk, nil
}

// Close stops the stream and terminates PortAudio. Idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errStop, errClose error
	if s.stream != nil {
		errStop = s.stream.Stop()
		errClose = s.stream.Close()
	}
	errTerm := portaudio.Terminate()

	if errStop != nil {
		return fmt.Errorf("portaudio: stop stream: %w", errStop)
	}
	if errClose != nil {
		return fmt.Errorf("portaudio: close stream: %w", errClose)
	}
	if errTerm != nil {
		return fmt.Errorf("portaudio: terminate: %w", errTerm)
	}
	return nil
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
