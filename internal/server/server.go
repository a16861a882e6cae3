// Package server implements the streaming dictation wire protocol: a
// persistent WebSocket connection carrying JSON control messages and binary
// PCM audio. Each connection authenticates with a bearer token, may start at
// most one recording at a time, and at most one session system-wide is
// recording, enforced by a single holder slot.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/aurist/internal/auth"
	"github.com/MrWong99/aurist/internal/dispatch"
	"github.com/MrWong99/aurist/internal/segment"
	"github.com/MrWong99/aurist/pkg/audio"
	"github.com/MrWong99/aurist/pkg/provider/vad"
)

// Config carries the per-server tunables.
type Config struct {
	// AuthTimeout is how long a fresh connection has to present its auth
	// message. Default 10 s.
	AuthTimeout time.Duration

	// QueueCapacity is the audio frame queue depth per recording.
	// Default 64.
	QueueCapacity int

	// Overflow is the frame queue overflow policy. Default drop-oldest.
	Overflow audio.OverflowPolicy

	// Segment configures the segmentation engine for each recording.
	Segment segment.Config
}

func (c *Config) applyDefaults() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 64
	}
	if !c.Overflow.IsValid() {
		c.Overflow = audio.DropOldest
	}
}

// Server accepts dictation sessions. Construct with New; expose via Handler
// on an HTTP mux.
type Server struct {
	cfg         Config
	transcriber dispatch.Transcriber
	newGate     func() vad.Gate

	// mu guards the hot-reloadable parts: the token store and the
	// segmentation config. Live recordings keep the config they started
	// with.
	mu      sync.RWMutex
	tokens  *auth.Store
	segment segment.Config

	slot holder
}

// New builds a Server. newGate is invoked once per recording so every
// session gets a gate with fresh detection state.
func New(tokens *auth.Store, transcriber dispatch.Transcriber, newGate func() vad.Gate, cfg Config) (*Server, error) {
	if tokens == nil {
		return nil, errors.New("server: token store must not be nil")
	}
	if transcriber == nil {
		return nil, errors.New("server: transcriber must not be nil")
	}
	if newGate == nil {
		return nil, errors.New("server: gate factory must not be nil")
	}
	cfg.applyDefaults()
	return &Server{
		cfg:         cfg,
		tokens:      tokens,
		segment:     cfg.Segment,
		transcriber: transcriber,
		newGate:     newGate,
	}, nil
}

// UpdateTokens swaps the token store. Existing sessions keep their
// authentication; only new connections see the change.
func (s *Server) UpdateTokens(tokens *auth.Store) {
	if tokens == nil {
		return
	}
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
}

// UpdateSegmentation swaps the segmentation config applied to recordings
// started after the call.
func (s *Server) UpdateSegmentation(cfg segment.Config) {
	s.mu.Lock()
	s.segment = cfg
	s.mu.Unlock()
}

func (s *Server) tokenStore() *auth.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *Server) segmentConfig() segment.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.segment
}

// Handler returns the HTTP handler upgrading connections to the dictation
// protocol.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(4 << 20) // binary audio messages can be sizable

	sess := &session{srv: s, conn: conn, remote: r.RemoteAddr}
	sess.run(r.Context())
}

// Occupant reports which client currently holds the recording slot.
func (s *Server) Occupant() (string, bool) {
	return s.slot.occupant()
}
