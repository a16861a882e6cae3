// Package ipc exposes a duplex channel whose raw handle is unsafe to share
// across goroutines as one safely shared channel.
//
// The design is a single-consumer actor: one dedicated worker goroutine owns
// the only handle, and all callers submit typed requests (send, receive,
// poll-with-timeout, close) through a synchronized queue. Each request
// carries a one-shot reply slot the worker fills while the caller blocks on
// it, so concurrent callers observe results consistent with a serial
// ordering by construction.
//
// Close is idempotent. After close, explicit or because the remote end went
// away, pending and future operations resolve to neutral zero values ("no
// data") instead of errors or hangs: a closed channel is an ordinary end of
// stream, not a fault to propagate to waiting callers.
package ipc

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRecvTimeout is returned by Duplex implementations when a bounded
// receive expires without data.
var ErrRecvTimeout = errors.New("ipc: receive timed out")

// Duplex is the raw handle the worker owns: a bidirectional message pipe
// that is not safe for concurrent use. Implementations report io.EOF (or any
// other non-timeout error) from Recv when the remote end has closed.
type Duplex interface {
	// Send transmits one message.
	Send(p []byte) error

	// Recv returns the next message, waiting at most timeout. A
	// non-positive timeout blocks indefinitely. Returns ErrRecvTimeout when
	// the wait expires with no data.
	Recv(timeout time.Duration) ([]byte, error)

	// Close releases the handle. Idempotent.
	Close() error
}

// recvSlice bounds each raw Recv call so the worker can observe a close
// request even while a caller waits for data indefinitely.
const recvSlice = 250 * time.Millisecond

type opKind int

const (
	opSend opKind = iota
	opRecv
	opPoll
)

type request struct {
	kind    opKind
	payload []byte
	timeout time.Duration
	reply   chan response
}

type response struct {
	data []byte
	ok   bool
}

// Channel serializes access to a Duplex handle. All methods are safe for
// concurrent use by any number of goroutines.
type Channel struct {
	reqs    chan request
	done    chan struct{}
	closing atomic.Bool
	once    sync.Once
}

// New starts the owning worker for handle and returns the shared channel.
// The handle must not be touched by anyone else afterwards.
func New(handle Duplex) *Channel {
	c := &Channel{
		reqs: make(chan request),
		done: make(chan struct{}),
	}
	go c.worker(handle)
	return c
}

// Send transmits p and reports whether it was handed to the handle. A false
// return means the channel is closed; it is never an error.
func (c *Channel) Send(p []byte) bool {
	resp := c.submit(request{kind: opSend, payload: p})
	return resp.ok
}

// Recv returns the next message. ok is false when the channel closed before
// a message arrived.
func (c *Channel) Recv() ([]byte, bool) {
	resp := c.submit(request{kind: opRecv})
	return resp.data, resp.ok
}

// Poll reports whether a message is available within timeout. A message
// detected by Poll is buffered and delivered by the next Recv, not consumed.
func (c *Channel) Poll(timeout time.Duration) bool {
	resp := c.submit(request{kind: opPoll, timeout: timeout})
	return resp.ok
}

// Close shuts the worker down and closes the underlying handle. Idempotent;
// safe to call concurrently with any other operation.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.closing.Store(true)
		// Wake the worker if it is idle between requests.
		select {
		case c.reqs <- request{kind: opPoll, reply: make(chan response, 1)}:
		case <-c.done:
		}
		<-c.done
	})
}

// Closed reports whether the channel has shut down.
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// submit enqueues a request and blocks on its reply slot. Requests racing
// with shutdown resolve to the neutral response.
func (c *Channel) submit(req request) response {
	req.reply = make(chan response, 1)
	select {
	case c.reqs <- req:
	case <-c.done:
		return response{}
	}
	select {
	case resp := <-req.reply:
		return resp
	case <-c.done:
		return response{}
	}
}

// worker is the only goroutine that touches the handle. It processes
// requests strictly in arrival order and exits on close or remote EOF.
func (c *Channel) worker(handle Duplex) {
	defer close(c.done)
	defer handle.Close()

	// pending holds a message detected by Poll but not yet consumed.
	var (
		pending    []byte
		hasPending bool
	)

	for {
		// Close wakes an idle worker with a dummy request, so blocking here
		// cannot miss a shutdown.
		req := <-c.reqs
		if c.closing.Load() {
			req.reply <- response{}
			return
		}

		switch req.kind {
		case opSend:
			if err := handle.Send(req.payload); err != nil {
				// Remote gone: answer neutrally and shut down.
				req.reply <- response{}
				return
			}
			req.reply <- response{ok: true}

		case opRecv:
			if hasPending {
				req.reply <- response{data: pending, ok: true}
				pending, hasPending = nil, false
				continue
			}
			data, err := c.recvSliced(handle)
			if err != nil {
				req.reply <- response{}
				return
			}
			if data == nil {
				// Close requested while waiting.
				req.reply <- response{}
				return
			}
			req.reply <- response{data: data, ok: true}

		case opPoll:
			if hasPending {
				req.reply <- response{ok: true}
				continue
			}
			data, err := handle.Recv(req.timeout)
			switch {
			case err == nil:
				pending, hasPending = data, true
				req.reply <- response{ok: true}
			case errors.Is(err, ErrRecvTimeout):
				req.reply <- response{}
			default:
				req.reply <- response{}
				return
			}
		}
	}
}

// recvSliced blocks on the handle in bounded slices so a concurrent Close is
// observed. Returns (nil, nil) when close was requested mid-wait.
func (c *Channel) recvSliced(handle Duplex) ([]byte, error) {
	for {
		data, err := handle.Recv(recvSlice)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrRecvTimeout) {
			return nil, err
		}
		if c.closing.Load() {
			return nil, nil
		}
	}
}
