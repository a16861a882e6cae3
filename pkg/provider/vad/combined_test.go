package vad_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/aurist/pkg/provider/vad"
	"github.com/MrWong99/aurist/pkg/provider/vad/mock"
)

func TestNewAnyRequiresGates(t *testing.T) {
	if _, err := vad.NewAny(); err == nil {
		t.Error("NewAny() error = nil, want error for empty gate list")
	}
}

func TestAnySpeechWinsOverSilence(t *testing.T) {
	silent := &mock.Gate{GateName: "a"}
	speech := &mock.Gate{GateName: "b", Script: []vad.Decision{{Speech: true, Probability: 0.7}}}

	g, err := vad.NewAny(silent, speech)
	if err != nil {
		t.Fatal(err)
	}

	d, err := g.Classify(make([]int16, 512))
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if !d.Speech {
		t.Error("Speech = false, want true when one gate votes speech")
	}
	if d.Gate != "b" {
		t.Errorf("Gate = %q, want \"b\"", d.Gate)
	}
	if d.Probability != 0.7 {
		t.Errorf("Probability = %v, want 0.7", d.Probability)
	}
}

func TestAnyReportsAllVotersAndMaxProbability(t *testing.T) {
	g1 := &mock.Gate{GateName: "a", Script: []vad.Decision{{Speech: true, Probability: 0.4}}}
	g2 := &mock.Gate{GateName: "b", Script: []vad.Decision{{Speech: true, Probability: 0.9}}}

	g, err := vad.NewAny(g1, g2)
	if err != nil {
		t.Fatal(err)
	}

	d, err := g.Classify(make([]int16, 512))
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if d.Probability != 0.9 {
		t.Errorf("Probability = %v, want max 0.9", d.Probability)
	}
	if !strings.Contains(d.Gate, "a") || !strings.Contains(d.Gate, "b") {
		t.Errorf("Gate = %q, want both voters listed", d.Gate)
	}
}

func TestAnyFailingGateIsSilenceVote(t *testing.T) {
	broken := &mock.Gate{GateName: "broken", ClassifyErr: errors.New("model crashed")}
	working := &mock.Gate{GateName: "ok", Script: []vad.Decision{{Speech: true, Probability: 0.8}}}

	g, err := vad.NewAny(broken, working)
	if err != nil {
		t.Fatal(err)
	}

	d, err := g.Classify(make([]int16, 512))
	if err != nil {
		t.Fatalf("Classify error = %v, want nil while one gate still works", err)
	}
	if !d.Speech {
		t.Error("Speech = false, want working gate's vote to stand")
	}
}

func TestAnyAllGatesFailing(t *testing.T) {
	fault := errors.New("model crashed")
	g, err := vad.NewAny(
		&mock.Gate{GateName: "a", ClassifyErr: fault},
		&mock.Gate{GateName: "b", ClassifyErr: fault},
	)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := g.Classify(make([]int16, 512)); !errors.Is(err, fault) {
		t.Errorf("Classify error = %v, want wrapped %v when all gates fail", err, fault)
	}
}

func TestAnyResetPropagates(t *testing.T) {
	g1 := &mock.Gate{GateName: "a"}
	g2 := &mock.Gate{GateName: "b"}

	g, err := vad.NewAny(g1, g2)
	if err != nil {
		t.Fatal(err)
	}

	g.Reset()
	if g1.ResetCallCount != 1 || g2.ResetCallCount != 1 {
		t.Errorf("Reset counts = %d, %d; want 1, 1", g1.ResetCallCount, g2.ResetCallCount)
	}
}
