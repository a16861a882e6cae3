// Package remote provides a Transcriber backed by a standalone modeld
// inference server.
//
// The wire protocol is newline-delimited JSON over a persistent TCP
// connection. The raw connection is unsafe to share, so it is wrapped in an
// [ipc.Channel]: the channel's worker owns the socket and a round-trip mutex
// keeps each request paired with its own response. When modeld goes away the
// channel resolves to neutral results and Transcribe reports a connection
// loss instead of hanging.
package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/MrWong99/aurist/pkg/audio"
	"github.com/MrWong99/aurist/pkg/ipc"
	"github.com/MrWong99/aurist/pkg/provider/asr"
)

// ErrConnectionLost is returned when the modeld connection closed before a
// response arrived.
var ErrConnectionLost = errors.New("remote: modeld connection lost")

// pollInterval paces response waits so ctx cancellation is observed.
const pollInterval = 100 * time.Millisecond

// Transcriber implements asr.Transcriber against a modeld server. Safe for
// concurrent use; round trips are serialized.
type Transcriber struct {
	mu sync.Mutex
	ch *ipc.Channel
}

// Dial connects to a modeld server at addr (host:port).
func Dial(addr string) (*Transcriber, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	return &Transcriber{ch: ipc.New(ipc.NewNetDuplex(conn))}, nil
}

// NewWithChannel wraps an existing channel. Used by tests and by callers
// that manage the connection themselves.
func NewWithChannel(ch *ipc.Channel) *Transcriber {
	return &Transcriber{ch: ch}
}

// Transcribe implements asr.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	pcm := audio.SamplesToBytes(audio.Float32ToSamples(req.Samples))
	wire := Request{
		Action:     ActionTranscribe,
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: req.SampleRate,
		Language:   req.Language,
	}

	resp, err := t.roundTrip(ctx, wire)
	if err != nil {
		return asr.Result{}, err
	}
	if !resp.Success {
		return asr.Result{}, fmt.Errorf("remote: modeld error: %s", resp.Error)
	}
	if resp.Result == nil {
		return asr.Result{}, errors.New("remote: modeld response missing result")
	}

	out := asr.Result{
		Text:                resp.Result.Text,
		Language:            resp.Result.Language,
		LanguageProbability: resp.Result.LanguageProbability,
		Duration:            secondsToDuration(resp.Result.Duration),
	}
	for _, w := range resp.Result.Words {
		out.Words = append(out.Words, asr.Word{
			Word:        w.Word,
			Start:       secondsToDuration(w.Start),
			End:         secondsToDuration(w.End),
			Probability: w.Probability,
		})
	}
	return out, nil
}

// Ping checks server liveness.
func (t *Transcriber) Ping(ctx context.Context) error {
	resp, err := t.roundTrip(ctx, Request{Action: ActionPing})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("remote: modeld error: %s", resp.Error)
	}
	return nil
}

// Status returns the server's status payload.
func (t *Transcriber) Status(ctx context.Context) (ResultPayload, error) {
	resp, err := t.roundTrip(ctx, Request{Action: ActionStatus})
	if err != nil {
		return ResultPayload{}, err
	}
	if !resp.Success {
		return ResultPayload{}, fmt.Errorf("remote: modeld error: %s", resp.Error)
	}
	if resp.Result == nil {
		return ResultPayload{}, errors.New("remote: modeld response missing result")
	}
	return *resp.Result, nil
}

// Close shuts the channel down. Idempotent.
func (t *Transcriber) Close() error {
	t.ch.Close()
	return nil
}

// roundTrip sends one request and waits for the matching response. The
// protocol has no correlation IDs, so the mutex keeps concurrent callers'
// request/response pairs from interleaving.
func (t *Transcriber) roundTrip(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("remote: marshal request: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.ch.Send(payload) {
		return Response{}, ErrConnectionLost
	}

	for {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		if t.ch.Poll(pollInterval) {
			break
		}
		if t.ch.Closed() {
			return Response{}, ErrConnectionLost
		}
	}

	data, ok := t.ch.Recv()
	if !ok {
		return Response{}, ErrConnectionLost
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("remote: decode response: %w", err)
	}
	return resp, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Ensure Transcriber implements asr.Transcriber at compile time.
var _ asr.Transcriber = (*Transcriber)(nil)
