package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/aurist/internal/dispatch"
	"github.com/MrWong99/aurist/internal/observe"
	"github.com/MrWong99/aurist/internal/segment"
	"github.com/MrWong99/aurist/pkg/audio"
	"github.com/MrWong99/aurist/pkg/provider/asr"
)

const writeTimeout = 5 * time.Second

// sessionState tracks the per-connection protocol state. It is only touched
// from the reader goroutine.
type sessionState int

const (
	stateIdle sessionState = iota
	stateRecording
	stateProcessing
)

// session is one authenticated connection. The reader goroutine drives the
// state machine; transcription results arrive on the dispatcher goroutine
// and are serialized onto the socket through writeMu.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	remote string
	name   string

	writeMu sync.Mutex

	state sessionState
	pipe  *pipeline

	// finals/faults delivered since the session (re)entered a counting
	// window; used to guarantee exactly one final per stop.
	finals atomic.Int64
	faults atomic.Int64
}

// pipeline is the capture-to-transcription chain of one recording.
type pipeline struct {
	queue      *audio.FrameQueue
	engine     *segment.Engine
	dispatcher *dispatch.Dispatcher
	cancel     context.CancelFunc

	// incoming PCM bookkeeping, reader goroutine only
	frameSize   int
	sampleRate  int
	pending     []int16
	seq         uint64
	samplesSeen uint64
}

func (s *session) run(ctx context.Context) {
	defer s.teardown()

	if !s.authenticate(ctx) {
		return
	}
	slog.Info("session authenticated", "client", s.name, "remote", s.remote)
	observe.DefaultMetrics().ActiveSessions.Add(ctx, 1)
	defer observe.DefaultMetrics().ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				slog.Info("session closed", "client", s.name)
			} else {
				slog.Info("session connection lost", "client", s.name, "err", err)
			}
			return
		}
		switch typ {
		case websocket.MessageText:
			s.handleText(ctx, data)
		case websocket.MessageBinary:
			s.handleAudio(data)
		}
	}
}

// teardown releases everything the connection holds. Safe to call on any
// exit path.
func (s *session) teardown() {
	if s.pipe != nil {
		s.abortPipeline()
	}
	s.conn.Close(websocket.StatusNormalClosure, "")
}

// ── Authentication ─────────────────────────────────────────────────────────────

// authenticate performs the handshake: one auth message within the timeout
// window, validated against the token store. A rejected client's token state
// is never consumed, so it may reconnect and retry.
func (s *session) authenticate(ctx context.Context) bool {
	authCtx, cancel := context.WithTimeout(ctx, s.srv.cfg.AuthTimeout)
	defer cancel()

	typ, data, err := s.conn.Read(authCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.writeError(ReasonAuthTimeout, "no auth message received in time")
			s.conn.Close(websocket.StatusPolicyViolation, "auth timeout")
		}
		return false
	}

	var env Envelope
	if typ != websocket.MessageText || json.Unmarshal(data, &env) != nil || env.Type != TypeAuth {
		s.writeError(ReasonAuthRequired, "first message must be auth")
		s.conn.Close(websocket.StatusPolicyViolation, "auth required")
		return false
	}
	var ad AuthData
	if err := json.Unmarshal(env.Data, &ad); err != nil || ad.Token == "" {
		s.writeError(ReasonAuthRequired, "auth message carries no token")
		s.conn.Close(websocket.StatusPolicyViolation, "auth required")
		return false
	}

	name, ok := s.srv.tokenStore().Authenticate(ad.Token)
	if !ok {
		slog.Warn("authentication failed", "remote", s.remote)
		s.write(TypeAuthFail, nil)
		s.conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return false
	}

	// Someone already recording means this client cannot do anything useful
	// yet; reject up front, naming the occupant.
	if occupant, held := s.srv.slot.occupant(); held {
		s.write(TypeSessionBusy, BusyData{Holder: occupant})
		s.conn.Close(websocket.StatusNormalClosure, "session busy")
		return false
	}

	s.name = name
	s.write(TypeAuthOK, nil)
	return true
}

// ── Control messages ───────────────────────────────────────────────────────────

func (s *session) handleText(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("unparseable message ignored", "client", s.name, "err", err)
		return
	}
	switch env.Type {
	case TypePing:
		s.write(TypePong, nil)
	case TypeStart:
		var sd StartData
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &sd); err != nil {
				slog.Warn("unparseable start payload ignored", "client", s.name, "err", err)
				return
			}
		}
		s.handleStart(ctx, sd)
	case TypeStop:
		s.handleStop()
	default:
		s.writeError(ReasonUnknownType, "unknown message type "+env.Type)
	}
}

func (s *session) handleStart(ctx context.Context, sd StartData) {
	if s.state != stateIdle {
		s.writeError(ReasonAlreadyRecording, "recording already in progress")
		return
	}

	occupant, ok := s.srv.slot.acquire(s.name)
	if !ok {
		s.write(TypeSessionBusy, BusyData{Holder: occupant})
		return
	}

	pipe, err := s.startPipeline(ctx, sd.Language)
	if err != nil {
		s.srv.slot.release()
		slog.Error("pipeline start failed", "client", s.name, "err", err)
		s.writeError(ReasonTranscriptionFailed, "could not start transcription pipeline")
		return
	}

	s.pipe = pipe
	s.state = stateRecording
	s.finals.Store(0)
	s.faults.Store(0)
	s.write(TypeSessionStarted, nil)
	slog.Info("recording started", "client", s.name, "language", sd.Language)
}

// handleStop cuts off audio input, force-finalizes the engine, drains the
// dispatcher and guarantees exactly one outcome message for the stop: the
// pending utterance's final, an empty final when the tail was all silence,
// or an error if the backend faulted.
func (s *session) handleStop() {
	if s.state != stateRecording {
		s.writeError(ReasonNotRecording, "no recording in progress")
		return
	}
	s.state = stateProcessing

	finalsBefore := s.finals.Load()
	faultsBefore := s.faults.Load()

	pipe := s.pipe
	s.pipe = nil
	pipe.queue.Close()
	<-pipe.engine.Done()
	pipe.dispatcher.Close()
	<-pipe.dispatcher.Done()
	pipe.cancel()

	if s.finals.Load() == finalsBefore && s.faults.Load() == faultsBefore {
		// All-silent tail: the documented policy is a final with empty text
		// rather than silence on the wire.
		s.write(TypeFinal, FinalData{Words: []WordData{}})
	}

	s.srv.slot.release()
	s.state = stateIdle
	s.write(TypeSessionStopped, nil)
	if drops := pipe.queue.Drops(); drops > 0 {
		observe.DefaultMetrics().RecordDroppedFrames(context.Background(), int64(drops), string(s.srv.cfg.Overflow))
	}
	slog.Info("recording stopped", "client", s.name, "dropped_frames", pipe.queue.Drops())
}

// ── Audio path ─────────────────────────────────────────────────────────────────

func (s *session) handleAudio(data []byte) {
	if s.state != stateRecording {
		slog.Debug("audio while not recording, dropped", "client", s.name, "bytes", len(data))
		return
	}
	pipe := s.pipe

	meta, samples, err := DecodeAudio(data)
	if err != nil {
		slog.Warn("malformed audio message ignored", "client", s.name, "err", err)
		return
	}
	if meta.SampleRate != 0 && meta.SampleRate != pipe.sampleRate {
		s.writeError(ReasonUnsupportedRate, "sample rate mismatch")
		return
	}

	// Reslice the client's arbitrary chunk sizes into fixed engine frames.
	pipe.pending = append(pipe.pending, samples...)
	for len(pipe.pending) >= pipe.frameSize {
		frame := audio.Frame{
			Samples:   append([]int16(nil), pipe.pending[:pipe.frameSize]...),
			Seq:       pipe.seq,
			Timestamp: time.Duration(pipe.samplesSeen) * time.Second / time.Duration(pipe.sampleRate),
		}
		pipe.pending = pipe.pending[pipe.frameSize:]
		pipe.seq++
		pipe.samplesSeen += uint64(pipe.frameSize)

		if err := pipe.queue.Push(frame); err != nil {
			// Queue closed under us; recording is over.
			return
		}
		observe.DefaultMetrics().FramesConsumed.Add(context.Background(), 1)
	}
}

// ── Pipeline lifecycle ─────────────────────────────────────────────────────────

func (s *session) startPipeline(ctx context.Context, language string) (*pipeline, error) {
	cfg := s.srv.cfg
	segCfg := s.srv.segmentConfig()
	queue := audio.NewFrameQueue(cfg.QueueCapacity, cfg.Overflow)

	dispatcher, err := dispatch.New(s.srv.transcriber, s, dispatch.WithLanguage(language))
	if err != nil {
		return nil, err
	}
	engine, err := segment.New(segCfg, s.srv.newGate(), queue, dispatcher)
	if err != nil {
		return nil, err
	}

	pipeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go engine.Run()
	go func() {
		if err := dispatcher.Run(pipeCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("dispatcher stopped", "client", s.name, "err", err)
		}
	}()

	// New applied defaults to its own copy; mirror the two values the audio
	// path needs.
	frameSize := segCfg.FrameSize
	if frameSize <= 0 {
		frameSize = 512
	}
	sampleRate := segCfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	return &pipeline{
		queue:      queue,
		engine:     engine,
		dispatcher: dispatcher,
		cancel:     cancel,
		frameSize:  frameSize,
		sampleRate: sampleRate,
	}, nil
}

// abortPipeline tears a recording down without the stop protocol, used on
// disconnect. Queued work is abandoned.
func (s *session) abortPipeline() {
	pipe := s.pipe
	s.pipe = nil
	pipe.queue.Close()
	pipe.engine.Stop()
	pipe.cancel()
	pipe.dispatcher.Close()
	s.srv.slot.release()
	s.state = stateIdle
}

// ── Result sink ────────────────────────────────────────────────────────────────

// TranscriptionReady implements dispatch.Sink. Early (non-final) results are
// not part of the wire protocol and only logged.
func (s *session) TranscriptionReady(u *audio.Utterance, res asr.Result) {
	if !u.Final {
		slog.Debug("early transcription ready", "client", s.name, "chars", len(res.Text))
		return
	}
	s.finals.Add(1)
	s.write(TypeFinal, finalFromResult(res))
}

// TranscriptionFault implements dispatch.Sink.
func (s *session) TranscriptionFault(u *audio.Utterance, err error) {
	s.faults.Add(1)
	s.writeError(ReasonTranscriptionFailed, err.Error())
}

// ── Socket writes ──────────────────────────────────────────────────────────────

func (s *session) write(msgType string, data any) {
	b, err := encodeEnvelope(msgType, data)
	if err != nil {
		slog.Error("encode failed", "type", msgType, "err", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, b); err != nil {
		slog.Debug("write failed", "type", msgType, "client", s.name, "err", err)
	}
}

func (s *session) writeError(reason, message string) {
	s.write(TypeError, ErrorData{Reason: reason, Message: message})
}
