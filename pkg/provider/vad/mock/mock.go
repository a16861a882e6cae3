// Package mock provides test doubles for the vad package interfaces.
//
// Gate replays a scripted sequence of decisions and records every frame it
// was asked to classify:
//
//	g := &mock.Gate{Script: []vad.Decision{{Speech: true, Probability: 0.9}}}
//	d, _ := g.Classify(frame)
package mock

import (
	"sync"

	"github.com/MrWong99/aurist/pkg/provider/vad"
)

// ClassifyCall records a single invocation of Gate.Classify.
type ClassifyCall struct {
	// Frame is a copy of the samples passed to Classify.
	Frame []int16
}

// Gate is a mock implementation of vad.Gate.
type Gate struct {
	mu sync.Mutex

	// GateName is returned by Name. Defaults to "mock".
	GateName string

	// Script is the sequence of decisions returned by successive Classify
	// calls, a timeline spanning the whole stream. Once exhausted, the last
	// entry repeats. When empty, Classify returns a silence decision.
	Script []vad.Decision

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// ClassifyCalls records every call to Classify in order.
	ClassifyCalls []ClassifyCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	pos int
}

// Classify records the call and returns the next scripted decision.
func (g *Gate) Classify(frame []int16) (vad.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp := make([]int16, len(frame))
	copy(cp, frame)
	g.ClassifyCalls = append(g.ClassifyCalls, ClassifyCall{Frame: cp})

	if g.ClassifyErr != nil {
		return vad.Decision{}, g.ClassifyErr
	}
	if len(g.Script) == 0 {
		return vad.Decision{}, nil
	}

	d := g.Script[g.pos]
	if g.pos < len(g.Script)-1 {
		g.pos++
	}
	if d.Speech && d.Gate == "" {
		d.Gate = g.name()
	}
	return d, nil
}

// Reset records the call. The script position is kept so a single script
// can span several utterances.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ResetCallCount++
}

// Name returns GateName or "mock".
func (g *Gate) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name()
}

func (g *Gate) name() string {
	if g.GateName != "" {
		return g.GateName
	}
	return "mock"
}

// Ensure Gate implements vad.Gate at compile time.
var _ vad.Gate = (*Gate)(nil)
