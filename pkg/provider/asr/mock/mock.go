// Package mock provides test doubles for the asr package interfaces.
//
// Transcriber records every request and returns a scripted Result:
//
//	tr := &mock.Transcriber{Result: asr.Result{Text: "hello"}}
//	res, _ := tr.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/aurist/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe. Samples are not copied.
	Req asr.Request
}

// Transcriber is a mock implementation of asr.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call.
	Result asr.Result

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// Delay, when positive, makes Transcribe block for that long (or until
	// ctx is cancelled). Use it to keep a job in flight while testing busy
	// rejection.
	Delay time.Duration

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call, sleeps Delay, and returns Result, TranscribeErr.
func (t *Transcriber) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	t.mu.Lock()
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Req: req})
	delay := t.Delay
	res, err := t.Result, t.TranscribeErr
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}
	return res, err
}

// Close records the call.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCallCount++
	return nil
}

// Calls returns a snapshot of recorded Transcribe calls. Thread-safe.
func (t *Transcriber) Calls() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscribeCall, len(t.TranscribeCalls))
	copy(out, t.TranscribeCalls)
	return out
}

// Ensure Transcriber implements asr.Transcriber at compile time.
var _ asr.Transcriber = (*Transcriber)(nil)
