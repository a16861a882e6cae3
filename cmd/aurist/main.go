// Command aurist is the streaming dictation server: WebSocket sessions in,
// transcribed text out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/aurist/internal/auth"
	"github.com/MrWong99/aurist/internal/config"
	"github.com/MrWong99/aurist/internal/health"
	"github.com/MrWong99/aurist/internal/model"
	"github.com/MrWong99/aurist/internal/observe"
	"github.com/MrWong99/aurist/internal/server"
	"github.com/MrWong99/aurist/pkg/provider/asr"
	oaiasr "github.com/MrWong99/aurist/pkg/provider/asr/openai"
	"github.com/MrWong99/aurist/pkg/provider/asr/remote"
	"github.com/MrWong99/aurist/pkg/provider/asr/whisper"
	"github.com/MrWong99/aurist/pkg/provider/vad"
	"github.com/MrWong99/aurist/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aurist: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aurist: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("aurist starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"model_mode", cfg.Model.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	observeShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "aurist"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Model manager ─────────────────────────────────────────────────────────
	mgr := model.NewManager(backendFactories(cfg)...)
	modelCfg := cfg.Model.ManagerConfig()
	handle, err := mgr.Acquire(ctx, modelCfg)
	if err != nil {
		slog.Error("failed to load transcription backend", "mode", cfg.Model.Mode, "err", err)
		return 1
	}
	defer mgr.Release(handle)

	// ── VAD gate ──────────────────────────────────────────────────────────────
	gateCfg := gateConfig(cfg)
	if _, err := energy.New(gateCfg); err != nil {
		slog.Error("invalid energy gate configuration", "err", err)
		return 1
	}
	newGate := func() vad.Gate {
		g, err := energy.New(gateCfg)
		if err != nil {
			// config validated above
			panic(err)
		}
		return g
	}

	// ── Dictation server ──────────────────────────────────────────────────────
	tokens, err := auth.NewStore(cfg.Auth.Clients...)
	if err != nil {
		slog.Error("invalid auth configuration", "err", err)
		return 1
	}
	srv, err := server.New(tokens, handle, newGate, server.Config{
		AuthTimeout:   cfg.Server.AuthTimeout.Std(),
		QueueCapacity: cfg.Audio.QueueCapacity,
		Overflow:      cfg.Audio.Overflow.Policy(),
		Segment:       cfg.EngineConfig(),
	})
	if err != nil {
		slog.Error("failed to build server", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", srv.Handler())

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpServer := &http.Server{Addr: listenAddr, Handler: mux}

	// ── Metrics and health listener ───────────────────────────────────────────
	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		checkers := []health.Checker{health.BackendLoaded(mgr, modelCfg)}
		if cfg.Model.Mode == model.ModeRemote {
			checkers = append(checkers, health.ModeldReachable(cfg.Model.Addr))
		}

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		health.New(checkers...).Register(metricsMux)

		metricsServer = &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: observe.Middleware(observe.DefaultMetrics())(metricsMux),
		}
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			level.Set(diff.NewLogLevel.Level())
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.AuthChanged {
			store, err := auth.NewStore(new.Auth.Clients...)
			if err != nil {
				slog.Error("reloaded auth config is invalid, keeping old tokens", "err", err)
			} else {
				srv.UpdateTokens(store)
				slog.Info("client tokens reloaded", "clients", len(new.Auth.Clients))
			}
		}
		if diff.SegmentationChanged {
			srv.UpdateSegmentation(new.EngineConfig())
			slog.Info("segmentation config reloaded, applies to next recording")
		}
		if diff.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, serveCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready", "addr", listenAddr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		g.Go(func() error {
			slog.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}

	// A signal cancels serveCtx through ctx; a failed listener cancels it
	// through the group.
	<-serveCtx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}
	if err := g.Wait(); err != nil {
		slog.Error("listener failed", "err", err)
		return 1
	}
	if err := mgr.UnloadAll(shutdownCtx); err != nil {
		slog.Error("model shutdown error", "err", err)
		return 1
	}
	if err := observeShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// backendFactories wires the three transcription backends into the model
// manager. Each factory receives the normalized model config; mode-specific
// extras (API key, base URL, language) come from the file config.
func backendFactories(cfg *config.Config) []model.Option {
	return []model.Option{
		model.WithFactory(model.ModeWhisper, func(mc model.Config) (asr.Transcriber, error) {
			var opts []whisper.Option
			if cfg.Model.Language != "" {
				opts = append(opts, whisper.WithLanguage(cfg.Model.Language))
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
	}
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
