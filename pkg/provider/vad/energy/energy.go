// Package energy implements an RMS-energy voice activity gate with
// hysteresis.
//
// The gate computes the root-mean-square level of each frame and compares it
// against two thresholds: a higher one to enter speech and a lower one to
// leave it. Requiring several consecutive frames on either side of the
// thresholds suppresses flicker on breathy onsets and trailing consonants.
// It is cheap, dependency-free, and a reasonable recall-biased companion to
// a model-based gate in an OR combination.
package energy

import (
	"errors"
	"math"

	"github.com/MrWong99/aurist/pkg/provider/vad"
)

// Config holds the gate parameters. RMS values are normalized to [0, 1]
// relative to int16 full scale.
type Config struct {
	// SpeechThreshold is the RMS level at or above which frames count
	// towards entering speech. Typical: 0.015.
	SpeechThreshold float64

	// SilenceThreshold is the RMS level below which frames count towards
	// leaving speech. Must be ≤ SpeechThreshold. Typical: 0.008.
	SilenceThreshold float64

	// SpeechFrames is the number of consecutive above-threshold frames
	// needed to enter speech. Default 2.
	SpeechFrames int

	// SilenceFrames is the number of consecutive below-threshold frames
	// needed to leave speech. Default 4. The segmentation engine applies
	// its own, much longer post-speech silence window on top; this only
	// smooths the per-frame signal.
	SilenceFrames int
}

// Gate is an RMS-energy detector with hysteresis. It serves a single audio
// stream and is not safe for concurrent use.
type Gate struct {
	cfg Config

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// New creates a Gate with the given configuration. Zero-valued counts fall
// back to defaults; thresholds must be coherent.
func New(cfg Config) (*Gate, error) {
	if cfg.SpeechThreshold <= 0 {
		return nil, errors.New("energy: speech threshold must be positive")
	}
	if cfg.SilenceThreshold <= 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, errors.New("energy: silence threshold must be in (0, speech threshold]")
	}
	if cfg.SpeechFrames <= 0 {
		cfg.SpeechFrames = 2
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = 4
	}
	return &Gate{cfg: cfg}, nil
}

// Classify implements vad.Gate.
func (g *Gate) Classify(frame []int16) (vad.Decision, error) {
	if len(frame) == 0 {
		return vad.Decision{}, errors.New("energy: empty frame")
	}

	level := rms(frame)

	if g.inSpeech {
		if level < g.cfg.SilenceThreshold {
			g.silenceCount++
			g.speechCount = 0
			if g.silenceCount >= g.cfg.SilenceFrames {
				g.inSpeech = false
				g.silenceCount = 0
			}
		} else {
			g.silenceCount = 0
		}
	} else {
		if level >= g.cfg.SpeechThreshold {
			g.speechCount++
			g.silenceCount = 0
			if g.speechCount >= g.cfg.SpeechFrames {
				g.inSpeech = true
				g.speechCount = 0
			}
		} else {
			g.speechCount = 0
		}
	}

	d := vad.Decision{Speech: g.inSpeech, Probability: probability(level, g.cfg)}
	if d.Speech {
		d.Gate = g.Name()
	}
	return d, nil
}

// Reset implements vad.Gate.
func (g *Gate) Reset() {
	g.inSpeech = false
	g.speechCount = 0
	g.silenceCount = 0
}

// Name implements vad.Gate.
func (g *Gate) Name() string { return "energy" }

// rms returns the root-mean-square level of the frame normalized to [0, 1].
func rms(frame []int16) float64 {
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// probability maps an RMS level onto a rough [0, 1] confidence: 0 at the
// silence threshold, 1 at twice the speech threshold, linear in between.
func probability(level float64, cfg Config) float64 {
	lo := cfg.SilenceThreshold
	hi := cfg.SpeechThreshold * 2
	if level <= lo {
		return 0
	}
	if level >= hi {
		return 1
	}
	return (level - lo) / (hi - lo)
}

// Ensure Gate implements vad.Gate at compile time.
var _ vad.Gate = (*Gate)(nil)
