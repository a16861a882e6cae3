// Package mock provides test doubles for the audio package interfaces.
//
// Source replays a fixed sample buffer in configurable chunk sizes and then
// reports io.EOF, which makes deterministic pipeline tests straightforward:
//
//	src := &mock.Source{Samples: pcm, ChunkSize: 512}
//	err := audio.Pump(ctx, src, queue, 512, 16000)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/aurist/pkg/audio"
)

// Source is a mock implementation of audio.Source that replays Samples.
type Source struct {
	mu sync.Mutex

	// Samples is the PCM stream to replay.
	Samples []int16

	// ChunkSize is the number of samples returned per Read call. Defaults
	// to 512.
	ChunkSize int

	// ReadErr, if non-nil, is returned by Read once the samples are
	// exhausted instead of io.EOF. Use it to simulate capture faults.
	ReadErr error

	// ReadCallCount is the number of times Read was called.
	ReadCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	pos int
}

// Read returns the next chunk of Samples, honouring ctx cancellation.
// Once the buffer is exhausted it returns ReadErr if set, else io.EOF.
func (s *Source) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadCallCount++

	if s.pos >= len(s.Samples) {
		if s.ReadErr != nil {
			return nil, s.ReadErr
		}
		return nil, io.EOF
	}

	n := s.ChunkSize
	if n <= 0 {
		n = 512
	}
	if s.pos+n > len(s.Samples) {
		n = len(s.Samples) - s.pos
	}
	chunk := make([]int16, n)
	copy(chunk, s.Samples[s.pos:s.pos+n])
	s.pos += n
	return chunk, nil
}

// Close records the call.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
