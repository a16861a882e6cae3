// Command dictate runs the dictation pipeline against the local microphone:
// portaudio capture, voice activity segmentation, transcription, finals on
// stdout. Useful for trying out models and tuning segmentation without a
// server round trip.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/aurist/internal/config"
	"github.com/MrWong99/aurist/internal/dispatch"
	"github.com/MrWong99/aurist/internal/model"
	"github.com/MrWong99/aurist/internal/segment"
	"github.com/MrWong99/aurist/pkg/audio"
	paudio "github.com/MrWong99/aurist/pkg/audio/portaudio"
	"github.com/MrWong99/aurist/pkg/provider/asr"
	oaiasr "github.com/MrWong99/aurist/pkg/provider/asr/openai"
	"github.com/MrWong99/aurist/pkg/provider/asr/remote"
	"github.com/MrWong99/aurist/pkg/provider/asr/whisper"
	"github.com/MrWong99/aurist/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	language := flag.String("language", "", "language hint, overrides the config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dictate: %v\n", err)
		return 1
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	})))

	lang := cfg.Model.Language
	if *language != "" {
		lang = *language
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Transcription backend ─────────────────────────────────────────────────
	mgr := model.NewManager(
		model.WithFactory(model.ModeWhisper, func(mc model.Config) (asr.Transcriber, error) {
			var opts []whisper.Option
			if lang != "" {
				opts = append(opts, whisper.WithLanguage(lang))
			}
			return whisper.New(mc.Ref, opts...)
		}),
		model.WithFactory(model.ModeOpenAI, func(mc model.Config) (asr.Transcriber, error) {
			var opts []oaiasr.Option
			if cfg.Model.BaseURL != "" {
				opts = append(opts, oaiasr.WithBaseURL(cfg.Model.BaseURL))
			}
			return oaiasr.New(cfg.Model.APIKey, mc.Ref, opts...)
		}),
		model.WithFactory(model.ModeRemote, func(mc model.Config) (asr.Transcriber, error) {
			return remote.Dial(mc.Ref)
		}),
	)
	handle, err := mgr.Acquire(ctx, cfg.Model.ManagerConfig())
	if err != nil {
		slog.Error("failed to load transcription backend", "mode", cfg.Model.Mode, "err", err)
		return 1
	}
	defer mgr.Release(handle)

	// ── Pipeline ──────────────────────────────────────────────────────────────
	sampleRate := cfg.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	frameSize := cfg.Audio.FrameSize
	if frameSize <= 0 {
		frameSize = 512
	}

	gate, err := energy.New(gateConfig(cfg))
	if err != nil {
		slog.Error("invalid energy gate configuration", "err", err)
		return 1
	}

	queue := audio.NewFrameQueue(cfg.Audio.QueueCapacity, cfg.Audio.Overflow.Policy())
	dispatcher, err := dispatch.New(handle, printer{}, dispatch.WithLanguage(lang))
	if err != nil {
		slog.Error("failed to build dispatcher", "err", err)
		return 1
	}
	engine, err := segment.New(cfg.EngineConfig(), gate, queue, dispatcher)
	if err != nil {
		slog.Error("failed to build segmentation engine", "err", err)
		return 1
	}

	src, err := paudio.Open(sampleRate)
	if err != nil {
		slog.Error("failed to open microphone", "err", err)
		return 1
	}
	defer src.Close()

	go engine.Run()
	go func() {
		if err := dispatcher.Run(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("dispatcher stopped", "err", err)
		}
	}()

	slog.Info("listening, press Ctrl+C to stop",
		"mode", cfg.Model.Mode,
		"sample_rate", sampleRate,
		"language", lang,
	)

	// Pump blocks until the signal context is cancelled or capture faults.
	pumpErr := audio.Pump(ctx, src, queue, frameSize, sampleRate)

	// Drain: finalize pending speech and let queued jobs finish.
	queue.Close()
	<-engine.Done()
	dispatcher.Close()
	<-dispatcher.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := mgr.UnloadAll(shutdownCtx); err != nil {
		slog.Error("model shutdown error", "err", err)
		return 1
	}

	if pumpErr != nil {
		slog.Error("capture fault", "err", pumpErr)
		return 1
	}
	return 0
}

// printer delivers transcripts to stdout. Early results are superseded by
// the final for the same speech run, so only finals are printed.
type printer struct{}

func (printer) TranscriptionReady(u *audio.Utterance, res asr.Result) {
	if !u.Final {
		slog.Debug("early transcription", "chars", len(res.Text))
		return
	}
	if res.Text != "" {
		fmt.Println(res.Text)
	}
}

func (printer) TranscriptionFault(u *audio.Utterance, err error) {
	slog.Error("transcription failed", "audio", u.Duration(), "err", err)
}

// gateConfig maps the file config onto the energy gate, applying the
// documented defaults for unset thresholds.
func gateConfig(cfg *config.Config) energy.Config {
	e := cfg.Segmentation.Energy
	out := energy.Config{
		SpeechThreshold:  e.SpeechThreshold,
		SilenceThreshold: e.SilenceThreshold,
		SpeechFrames:     e.SpeechFrames,
		SilenceFrames:    e.SilenceFrames,
	}
	if out.SpeechThreshold == 0 {
		out.SpeechThreshold = 0.015
	}
	if out.SilenceThreshold == 0 {
		out.SilenceThreshold = 0.008
	}
	return out
}
