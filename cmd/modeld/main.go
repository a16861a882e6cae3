// Command modeld is the standalone inference daemon: it loads one
// transcription backend and serves it over newline-delimited JSON on TCP, so
// a heavy model can live outside the dictation server process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/aurist/internal/config"
	"github.com/MrWong99/aurist/internal/model"
	"github.com/MrWong99/aurist/internal/modeld"
	"github.com/MrWong99/aurist/pkg/provider/asr"
	oaiasr "github.com/MrWong99/aurist/pkg/provider/asr/openai"
	"github.com/MrWong99/aurist/pkg/provider/asr/whisper"
)

const defaultListenAddr = "127.0.0.1:7700"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modeld: %v\n", err)
		return 1
	}
	if cfg.Model.Mode == model.ModeRemote {
		fmt.Fprintln(os.Stderr, "modeld: model.mode \"remote\" would daisy-chain daemons; configure whisper or openai")
		return 1
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := model.NewManager(
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
	)

	srv, err := modeld.New(mgr, modeld.Config{
		Model:         cfg.Model.ManagerConfig(),
		ShutdownGrace: cfg.Modeld.ShutdownGrace.Std(),
	})
	if err != nil {
		slog.Error("failed to build server", "err", err)
		return 1
	}

	addr := cfg.Modeld.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("listen failed", "addr", addr, "err", err)
		return 1
	}

	if err := srv.Serve(ctx, lis); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("serve error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
