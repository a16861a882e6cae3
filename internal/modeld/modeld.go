// Package modeld implements the standalone single-model inference service:
// newline-delimited JSON over TCP, one resident transcription backend, and a
// cooperative shutdown that drains in-flight jobs before releasing the
// model.
//
// The wire types live in pkg/provider/asr/remote so the in-process client
// and this server always agree on the protocol.
package modeld

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/aurist/internal/model"
	"github.com/MrWong99/aurist/pkg/audio"
	"github.com/MrWong99/aurist/pkg/provider/asr"
	"github.com/MrWong99/aurist/pkg/provider/asr/remote"
)

// maxLineBytes bounds a single request line. Ten minutes of 16 kHz PCM in
// base64 stays well under this.
const maxLineBytes = 64 << 20

// Config holds the service tunables.
type Config struct {
	// Model selects the backend this daemon serves.
	Model model.Config

	// ShutdownGrace bounds how long a shutdown waits for in-flight jobs.
	// Default 30 s.
	ShutdownGrace time.Duration
}

// Server is the modeld service. Construct with New and drive with Serve.
type Server struct {
	cfg Config
	mgr *model.Manager

	mu       sync.Mutex
	handle   *model.Handle
	started  time.Time
	shutdown context.CancelFunc
}

// New builds a Server loading its model through mgr.
func New(mgr *model.Manager, cfg Config) (*Server, error) {
	if mgr == nil {
		return nil, errors.New("modeld: manager must not be nil")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Server{cfg: cfg, mgr: mgr}, nil
}

// Serve loads the model, then accepts and handles connections on lis until
// ctx is cancelled or a shutdown request arrives. It returns after all
// connections are closed and the model is unloaded.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	handle, err := s.mgr.Acquire(serveCtx, s.cfg.Model)
	if err != nil {
		return fmt.Errorf("modeld: load model: %w", err)
	}
	s.mu.Lock()
	s.handle = handle
	s.started = time.Now()
	s.shutdown = cancel
	s.mu.Unlock()

	// Unblock Accept when shutting down.
	go func() {
		<-serveCtx.Done()
		lis.Close()
	}()

	slog.Info("modeld listening", "addr", lis.Addr(), "model", s.cfg.Model.Ref)

	var g errgroup.Group
	for {
		conn, err := lis.Accept()
		if err != nil {
			if serveCtx.Err() != nil {
				break
			}
			slog.Warn("accept failed", "err", err)
			continue
		}
		g.Go(func() error {
			return s.handleConn(serveCtx, conn)
		})
	}

	// Connection read errors are benign once shutdown started; anything else
	// is worth one line.
	if err := g.Wait(); err != nil {
		slog.Debug("connection closed uncleanly", "err", err)
	}

	graceCtx, graceCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer graceCancel()
	if err := s.mgr.UnloadAll(graceCtx); err != nil {
		return fmt.Errorf("modeld: shutdown: %w", err)
	}
	slog.Info("modeld stopped")
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	// Drop the connection when the server shuts down so the scanner does
	// not block forever on a silent client.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	slog.Debug("client connected", "remote", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req remote.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.reply(enc, remote.Response{Success: false, Error: "malformed request: " + err.Error()})
			continue
		}

		resp := s.dispatch(ctx, req)
		if !s.reply(enc, resp) {
			return nil
		}
		if req.Action == remote.ActionShutdown && resp.Success {
			s.triggerShutdown()
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("modeld: read from %s: %w", conn.RemoteAddr(), err)
	}
	return nil
}

func (s *Server) reply(enc *json.Encoder, resp remote.Response) bool {
	if err := enc.Encode(resp); err != nil {
		slog.Debug("client write failed", "err", err)
		return false
	}
	return true
}

func (s *Server) dispatch(ctx context.Context, req remote.Request) remote.Response {
	switch req.Action {
	case remote.ActionTranscribe:
		return s.transcribe(ctx, req)
	case remote.ActionStatus:
		return remote.Response{Success: true, Result: s.status()}
	case remote.ActionPing:
		return remote.Response{Success: true, Result: &remote.ResultPayload{State: "ready"}}
	case remote.ActionShutdown:
		slog.Info("shutdown requested by client")
		return remote.Response{Success: true}
	default:
		return remote.Response{Success: false, Error: fmt.Sprintf("unknown action %q", req.Action)}
	}
}

func (s *Server) transcribe(ctx context.Context, req remote.Request) remote.Response {
	pcm, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		return remote.Response{Success: false, Error: "invalid base64 audio: " + err.Error()}
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return remote.Response{Success: false, Error: fmt.Sprintf("invalid PCM payload of %d bytes", len(pcm))}
	}
	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	samples := audio.SamplesToFloat32(audio.BytesToSamples(pcm))

	start := time.Now()
	res, err := s.currentHandle().Transcribe(ctx, asr.Request{
		Samples:    samples,
		SampleRate: sampleRate,
		Language:   req.Language,
	})
	if err != nil {
		slog.Error("transcription failed", "err", err)
		return remote.Response{Success: false, Error: err.Error()}
	}
	slog.Debug("transcription done",
		"audio", time.Duration(len(samples))*time.Second/time.Duration(sampleRate),
		"took", time.Since(start),
	)

	payload := &remote.ResultPayload{
		Text:                res.Text,
		Language:            res.Language,
		LanguageProbability: res.LanguageProbability,
		Duration:            res.Duration.Seconds(),
	}
	for _, w := range res.Words {
		payload.Words = append(payload.Words, remote.WordPayload{
			Word:        w.Word,
			Start:       w.Start.Seconds(),
			End:         w.End.Seconds(),
			Probability: w.Probability,
		})
	}
	return remote.Response{Success: true, Result: payload}
}

func (s *Server) status() *remote.ResultPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &remote.ResultPayload{
		State: "ready",
		Model: s.cfg.Model.Ref,
	}
	if !s.started.IsZero() {
		st.Uptime = time.Since(s.started).Seconds()
	}
	if s.handle != nil && s.handle.Jobs() > 0 {
		st.State = "busy"
	}
	return st
}

func (s *Server) currentHandle() *model.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Server) triggerShutdown() {
	s.mu.Lock()
	cancel := s.shutdown
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
