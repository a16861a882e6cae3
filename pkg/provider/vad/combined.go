package vad

import (
	"errors"
	"fmt"
	"strings"
)

// Any is an OR-combinator over multiple gates: a frame is speech when at
// least one member gate votes speech. The reported probability is the
// maximum across the speech voters, and Decision.Gate lists every voter.
//
// A member gate error is a fail-safe silence vote for that gate only; the
// remaining gates still decide the frame. Classify returns an error only
// when every gate failed, so one broken detector never silences a working
// one.
type Any struct {
	gates []Gate
}

// NewAny combines the given gates. At least one gate is required.
func NewAny(gates ...Gate) (*Any, error) {
	if len(gates) == 0 {
		return nil, errors.New("vad: combined gate needs at least one member")
	}
	return &Any{gates: gates}, nil
}

// Classify implements Gate.
func (a *Any) Classify(frame []int16) (Decision, error) {
	var (
		voters []string
		best   float64
		errs   []error
	)

	for _, g := range a.gates {
		d, err := g.Classify(frame)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))
			continue
		}
		if d.Speech {
			voters = append(voters, g.Name())
			if d.Probability > best {
				best = d.Probability
			}
		}
	}

	if len(errs) == len(a.gates) {
		return Decision{}, fmt.Errorf("vad: all gates failed: %w", errors.Join(errs...))
	}
	if len(voters) == 0 {
		return Decision{}, nil
	}
	return Decision{Speech: true, Probability: best, Gate: strings.Join(voters, ",")}, nil
}

// Reset implements Gate by resetting every member.
func (a *Any) Reset() {
	for _, g := range a.gates {
		g.Reset()
	}
}

// Name implements Gate.
func (a *Any) Name() string {
	names := make([]string, len(a.gates))
	for i, g := range a.gates {
		names[i] = g.Name()
	}
	return "any(" + strings.Join(names, ",") + ")"
}

// Ensure Any implements Gate at compile time.
var _ Gate = (*Any)(nil)
