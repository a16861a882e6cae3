package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/aurist/pkg/ipc"
	"github.com/MrWong99/aurist/pkg/provider/asr"
)

// scriptedDuplex answers each sent request with the next scripted response.
type scriptedDuplex struct {
	mu        sync.Mutex
	requests  []Request
	responses []Response
	replies   chan []byte
	closed    bool
}

func newScriptedDuplex(responses ...Response) *scriptedDuplex {
	return &scriptedDuplex{responses: responses, replies: make(chan []byte, 8)}
}

func (d *scriptedDuplex) Send(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return io.ErrClosedPipe
	}

	var req Request
	if err := json.Unmarshal(p, &req); err != nil {
		return err
	}
	d.requests = append(d.requests, req)

	if len(d.responses) == 0 {
		return nil
	}
	resp := d.responses[0]
	d.responses = d.responses[1:]
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	d.replies <- payload
	return nil
}

func (d *scriptedDuplex) Recv(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		b, ok := <-d.replies
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	}
	select {
	case b, ok := <-d.replies:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-time.After(timeout):
		return nil, ipc.ErrRecvTimeout
	}
}

func (d *scriptedDuplex) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func TestTranscribeRoundTrip(t *testing.T) {
	d := newScriptedDuplex(Response{
		Success: true,
		Result: &ResultPayload{
			Text:     "hello world",
			Language: "en",
			Duration: 1.5,
			Words: []WordPayload{
				{Word: "hello", Start: 0, End: 0.7, Probability: 0.98},
				{Word: "world", Start: 0.8, End: 1.5, Probability: 0.95},
			},
		},
	})
	tr := NewWithChannel(ipc.New(d))
	defer tr.Close()

	res, err := tr.Transcribe(context.Background(), asr.Request{
		Samples:    make([]float32, 16000),
		SampleRate: 16000,
		Language:   "en",
	})
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want \"hello world\"", res.Text)
	}
	if res.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", res.Duration)
	}
	if len(res.Words) != 2 || res.Words[1].Word != "world" {
		t.Errorf("Words = %+v, want 2 words ending with \"world\"", res.Words)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(d.requests))
	}
	req := d.requests[0]
	if req.Action != ActionTranscribe {
		t.Errorf("Action = %q, want %q", req.Action, ActionTranscribe)
	}
	if req.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", req.SampleRate)
	}
	if req.Audio == "" {
		t.Error("Audio payload is empty, want base64 PCM")
	}
}

func TestTranscribeServerError(t *testing.T) {
	d := newScriptedDuplex(Response{Success: false, Error: "model not loaded"})
	tr := NewWithChannel(ipc.New(d))
	defer tr.Close()

	_, err := tr.Transcribe(context.Background(), asr.Request{Samples: make([]float32, 160), SampleRate: 16000})
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("Transcribe error = %v, want server error surfaced", err)
	}
}

func TestTranscribeConnectionLost(t *testing.T) {
	d := newScriptedDuplex() // never answers
	ch := ipc.New(d)
	tr := NewWithChannel(ch)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Transcribe(context.Background(), asr.Request{Samples: make([]float32, 160), SampleRate: 16000})
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	ch.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("Transcribe error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Transcribe still blocked after connection loss")
	}
}

func TestTranscribeContextCancelled(t *testing.T) {
	d := newScriptedDuplex() // never answers
	tr := NewWithChannel(ipc.New(d))
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Transcribe(ctx, asr.Request{Samples: make([]float32, 160), SampleRate: 16000})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Transcribe error = %v, want context deadline", err)
	}
}

func TestPing(t *testing.T) {
	d := newScriptedDuplex(Response{Success: true, Result: &ResultPayload{State: "ready"}})
	tr := NewWithChannel(ipc.New(d))
	defer tr.Close()

	if err := tr.Ping(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) != 1 || d.requests[0].Action != ActionPing {
		t.Errorf("requests = %+v, want single ping", d.requests)
	}
}
