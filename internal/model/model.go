// Package model manages the lifecycle of transcription backends: loading,
// caching by normalized configuration key, job-count guarded unloading and
// the single-resident switching policy that keeps device memory pressure
// bounded.
//
// Backends are constructed through a static registry of factories keyed by
// Mode, resolved once when the Manager is built. A Handle wraps a resident
// backend; every transcription job must be bracketed by BeginJob/end so the
// Manager can refuse to unload a backend that is mid-inference.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/aurist/internal/observe"
	"github.com/MrWong99/aurist/pkg/provider/asr"
)

// Mode selects a transcription backend implementation.
type Mode string

const (
	// ModeWhisper runs whisper.cpp in-process.
	ModeWhisper Mode = "whisper"

	// ModeOpenAI calls the hosted OpenAI transcription API.
	ModeOpenAI Mode = "openai"

	// ModeRemote talks to a standalone model daemon over TCP.
	ModeRemote Mode = "remote"
)

// IsValid reports whether m names a known backend mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeWhisper, ModeOpenAI, ModeRemote:
		return true
	}
	return false
}

var (
	// ErrBusy is returned by Unload while the handle has in-flight jobs.
	ErrBusy = errors.New("model: handle busy")

	// ErrUnloaded is returned by Handle operations after the backend was
	// unloaded.
	ErrUnloaded = errors.New("model: handle unloaded")

	// ErrUnknownMode is returned by Acquire for a mode without a registered
	// factory.
	ErrUnknownMode = errors.New("model: unknown mode")
)

// Config identifies a backend instance. Two configs that normalize to the
// same key share one resident Handle.
type Config struct {
	// Mode selects the backend factory.
	Mode Mode

	// Ref is the backend-specific model reference: a file path for whisper,
	// a model name for openai, an address for remote.
	Ref string

	// Concurrency is the number of jobs the handle admits at once.
	// Default 1, serializing inference on the backend.
	Concurrency int
}

// Key returns the normalized cache key for the config. Matching is by key,
// not identity, so cosmetic differences in casing or whitespace map to the
// same resident backend.
func (c Config) Key() string {
	return string(c.Mode) + "|" + strings.ToLower(strings.TrimSpace(c.Ref))
}

func (c Config) validate() error {
	if !c.Mode.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Mode)
	}
	return nil
}

// Factory constructs the backend for a Config.
type Factory func(cfg Config) (asr.Transcriber, error)

// Option configures a Manager.
type Option func(*Manager)

// WithFactory registers the factory for a mode, replacing any previous
// registration.
func WithFactory(mode Mode, f Factory) Option {
	return func(m *Manager) {
		m.factories[mode] = f
	}
}

// WithMaxResident relaxes the single-resident policy to allow up to n
// backends loaded at once. Values below 1 are ignored.
func WithMaxResident(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.maxResident = n
		}
	}
}

// Manager owns all resident backends. Safe for concurrent use.
type Manager struct {
	factories   map[Mode]Factory
	maxResident int

	mu       sync.Mutex
	cond     *sync.Cond
	resident map[string]*Handle
	closed   bool
}

// NewManager builds a Manager. Without options it has no factories and a
// resident limit of one; register factories with WithFactory.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		factories:   make(map[Mode]Factory),
		maxResident: 1,
		resident:    make(map[string]*Handle),
	}
	m.cond = sync.NewCond(&m.mu)
	for _, o := range opts {
		o(m)
	}
	return m
}

// HandleStatus is a point-in-time snapshot of one resident backend.
type HandleStatus struct {
	Key      string        `json:"key"`
	Mode     Mode          `json:"mode"`
	Ref      string        `json:"ref"`
	Jobs     int           `json:"jobs"`
	Refs     int           `json:"refs"`
	Loaded   bool          `json:"loaded"`
	LoadedAt time.Time     `json:"loaded_at"`
	Uptime   time.Duration `json:"uptime"`
}

// Handle is a reference to a resident backend. Obtain via Manager.Acquire
// and bracket every inference with BeginJob.
type Handle struct {
	mgr *Manager
	cfg Config
	key string

	sem *semaphore.Weighted

	// owned by the manager mutex
	backend  asr.Transcriber
	jobs     int
	refs     int
	loadedAt time.Time
	unloaded bool

	// closed once loading finished (successfully or not)
	ready   chan struct{}
	loadErr error
}

// Config returns the configuration the handle was acquired with.
func (h *Handle) Config() Config { return h.cfg }

// Key returns the normalized cache key.
func (h *Handle) Key() string { return h.key }

// Acquire returns a handle for cfg, loading the backend if it is not
// resident. When the resident limit is reached, Acquire waits for the
// previously resident backend to drain its jobs, unloads it and reclaims
// its memory before loading the new one. Matching is by normalized key.
func (m *Manager) Acquire(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	factory, ok := m.factories[cfg.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no registered factory", ErrUnknownMode, cfg.Mode)
	}
	key := cfg.Key()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrUnloaded
	}
	if h, ok := m.resident[key]; ok {
		h.refs++
		m.mu.Unlock()
		<-h.ready
		if h.loadErr != nil {
			return nil, h.loadErr
		}
		return h, nil
	}

	// Switching policy: make room before loading so at most maxResident
	// heavy backends ever coexist.
	if err := m.evictLocked(ctx, key); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	h := &Handle{
		mgr:   m,
		cfg:   cfg,
		key:   key,
		sem:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		refs:  1,
		ready: make(chan struct{}),
	}
	m.resident[key] = h
	m.mu.Unlock()

	slog.Info("loading transcription backend", "mode", cfg.Mode, "ref", cfg.Ref)
	start := time.Now()
	backend, err := factory(cfg)

	m.mu.Lock()
	if err != nil {
		h.loadErr = fmt.Errorf("model: load %s: %w", key, err)
		h.unloaded = true
		delete(m.resident, key)
	} else {
		h.backend = backend
		h.loadedAt = time.Now()
	}
	close(h.ready)
	m.cond.Broadcast()
	m.mu.Unlock()

	if err != nil {
		return nil, h.loadErr
	}
	met := observe.DefaultMetrics()
	met.ModelLoadDuration.Record(ctx, time.Since(start).Seconds())
	met.ResidentModels.Add(ctx, 1)
	slog.Info("transcription backend loaded",
		"mode", cfg.Mode,
		"ref", cfg.Ref,
		"took", time.Since(start),
	)
	return h, nil
}

// evictLocked waits until enough resident backends (other than key) are idle
// and unloads them to stay within the resident limit. Called with m.mu held;
// may release and reacquire it while waiting.
func (m *Manager) evictLocked(ctx context.Context, key string) error {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	for len(m.resident) >= m.maxResident {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("model: waiting to evict resident backend: %w", err)
		}
		victim := m.idleVictimLocked(key)
		if victim == nil {
			m.cond.Wait()
			continue
		}
		m.unloadLocked(victim)
	}
	return nil
}

// idleVictimLocked picks a fully loaded, idle resident other than keep.
func (m *Manager) idleVictimLocked(keep string) *Handle {
	for k, h := range m.resident {
		if k == keep || h.jobs > 0 {
			continue
		}
		select {
		case <-h.ready:
		default:
			continue // still loading
		}
		return h
	}
	return nil
}

// unloadLocked removes h from the resident set and closes its backend.
// Callers must hold m.mu and have verified h.jobs == 0.
func (m *Manager) unloadLocked(h *Handle) {
	h.unloaded = true
	delete(m.resident, h.key)
	backend := h.backend
	h.backend = nil

	// Closing can be slow (device memory teardown); drop the lock for it.
	m.mu.Unlock()
	if backend != nil {
		if err := backend.Close(); err != nil {
			slog.Error("backend close failed", "key", h.key, "err", err)
		} else {
			slog.Info("transcription backend unloaded", "key", h.key)
		}
		observe.DefaultMetrics().ResidentModels.Add(context.Background(), -1)
	}
	m.mu.Lock()
	m.cond.Broadcast()
}

// Release drops a reference obtained from Acquire. The backend stays
// resident for reuse; only Unload or UnloadAll reclaim it.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
}

// Unload removes the backend for cfg. It fails with ErrBusy while the handle
// has in-flight jobs and never interrupts a started inference call.
func (m *Manager) Unload(cfg Config) error {
	key := cfg.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.resident[key]
	if !ok {
		return nil
	}
	select {
	case <-h.ready:
	default:
		return fmt.Errorf("%w: %s is still loading", ErrBusy, key)
	}
	if h.jobs > 0 {
		return fmt.Errorf("%w: %s has %d in-flight jobs", ErrBusy, key, h.jobs)
	}
	m.unloadLocked(h)
	return nil
}

// UnloadAll drains every resident backend and unloads it, then marks the
// manager closed. In-flight jobs are waited for, not killed; ctx bounds the
// wait.
func (m *Manager) UnloadAll(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	for len(m.resident) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("model: shutdown with %d backends still busy: %w", len(m.resident), err)
		}
		h := m.idleVictimLocked("")
		if h == nil {
			m.cond.Wait()
			continue
		}
		m.unloadLocked(h)
	}
	return nil
}

// Status reports a snapshot of all resident backends, sorted by key.
func (m *Manager) Status() []HandleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]HandleStatus, 0, len(m.resident))
	for _, h := range m.resident {
		st := HandleStatus{
			Key:  h.key,
			Mode: h.cfg.Mode,
			Ref:  h.cfg.Ref,
			Jobs: h.jobs,
			Refs: h.refs,
		}
		select {
		case <-h.ready:
			st.Loaded = h.loadErr == nil
		default:
		}
		if st.Loaded {
			st.LoadedAt = h.loadedAt
			st.Uptime = time.Since(h.loadedAt)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// BeginJob reserves a job slot on the handle. The returned end function must
// be called exactly once when the job finishes. While any job is open the
// backend cannot be unloaded. Jobs are serialized unless the config allows
// more concurrency.
func (h *Handle) BeginJob(ctx context.Context) (end func(), err error) {
	m := h.mgr

	m.mu.Lock()
	if h.unloaded {
		m.mu.Unlock()
		return nil, ErrUnloaded
	}
	m.mu.Unlock()

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("model: waiting for job slot: %w", err)
	}

	m.mu.Lock()
	if h.unloaded {
		m.mu.Unlock()
		h.sem.Release(1)
		return nil, ErrUnloaded
	}
	h.jobs++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			h.jobs--
			m.cond.Broadcast()
			m.mu.Unlock()
			h.sem.Release(1)
		})
	}, nil
}

// Jobs returns the number of in-flight jobs on the handle.
func (h *Handle) Jobs() int {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	return h.jobs
}

// Transcribe runs one inference under a job slot.
func (h *Handle) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	end, err := h.BeginJob(ctx)
	if err != nil {
		return asr.Result{}, err
	}
	defer end()

	start := time.Now()
	res, err := h.backend.Transcribe(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observe.DefaultMetrics().RecordTranscription(ctx, string(h.cfg.Mode), status, time.Since(start).Seconds())
	return res, err
}
