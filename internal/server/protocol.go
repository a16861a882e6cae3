package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/aurist/pkg/audio"
	"github.com/MrWong99/aurist/pkg/provider/asr"
)

// ── Message types ──────────────────────────────────────────────────────────────

// Client → server message types.
const (
	TypeAuth  = "auth"
	TypeStart = "start"
	TypeStop  = "stop"
	TypePing  = "ping"
)

// Server → client message types.
const (
	TypeAuthOK         = "auth_ok"
	TypeAuthFail       = "auth_fail"
	TypeSessionBusy    = "session_busy"
	TypeSessionStarted = "session_started"
	TypeSessionStopped = "session_stopped"
	TypePong           = "pong"
	TypeFinal          = "final"
	TypeError          = "error"
)

// Machine-readable reasons carried by error replies.
const (
	ReasonAuthRequired        = "auth_required"
	ReasonAuthTimeout         = "auth_timeout"
	ReasonInvalidToken        = "invalid_token"
	ReasonNotRecording        = "not_recording"
	ReasonAlreadyRecording    = "already_recording"
	ReasonUnknownType         = "unknown_type"
	ReasonUnsupportedRate     = "unsupported_sample_rate"
	ReasonTranscriptionFailed = "transcription_failed"
)

// Envelope is the outer frame of every JSON text message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthData is the payload of an "auth" message.
type AuthData struct {
	Token string `json:"token"`
}

// StartData is the payload of a "start" message.
type StartData struct {
	Language string `json:"language,omitempty"`
}

// BusyData is the payload of a "session_busy" reply, naming the client that
// currently holds the recording slot.
type BusyData struct {
	Holder string `json:"holder"`
}

// WordData is one word-level timing entry in a "final" payload. Times are in
// seconds.
type WordData struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// FinalData is the payload of a "final" message. Duration is in seconds.
type FinalData struct {
	Text     string     `json:"text"`
	Words    []WordData `json:"words"`
	Language string     `json:"language,omitempty"`
	Duration float64    `json:"duration"`
}

// ErrorData is the payload of an "error" message.
type ErrorData struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// finalFromResult converts a transcription result to its wire form.
func finalFromResult(res asr.Result) FinalData {
	fd := FinalData{
		Text:     res.Text,
		Words:    make([]WordData, 0, len(res.Words)),
		Language: res.Language,
		Duration: res.Duration.Seconds(),
	}
	for _, w := range res.Words {
		fd.Words = append(fd.Words, WordData{
			Word:        w.Word,
			Start:       w.Start.Seconds(),
			End:         w.End.Seconds(),
			Probability: w.Probability,
		})
	}
	return fd
}

// encodeEnvelope marshals a typed message into its envelope.
func encodeEnvelope(msgType string, data any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("server: marshal %s payload: %w", msgType, err)
		}
		env.Data = raw
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("server: marshal %s envelope: %w", msgType, err)
	}
	return b, nil
}

// ── Binary audio framing ───────────────────────────────────────────────────────

// AudioMeta is the JSON metadata block of a binary audio message.
type AudioMeta struct {
	SampleRate int `json:"sample_rate"`
}

// EncodeAudio builds a binary audio message: a 4-byte little-endian metadata
// length, the JSON metadata, then raw little-endian 16-bit PCM.
func EncodeAudio(meta AudioMeta, samples []int16) ([]byte, error) {
	mb, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("server: marshal audio metadata: %w", err)
	}
	out := make([]byte, 4, 4+len(mb)+len(samples)*2)
	binary.LittleEndian.PutUint32(out, uint32(len(mb)))
	out = append(out, mb...)
	out = append(out, audio.SamplesToBytes(samples)...)
	return out, nil
}

// DecodeAudio parses a binary audio message.
func DecodeAudio(b []byte) (AudioMeta, []int16, error) {
	if len(b) < 4 {
		return AudioMeta{}, nil, fmt.Errorf("server: audio message too short: %d bytes", len(b))
	}
	metaLen := binary.LittleEndian.Uint32(b)
	if uint64(4+metaLen) > uint64(len(b)) {
		return AudioMeta{}, nil, fmt.Errorf("server: audio metadata length %d exceeds message size %d", metaLen, len(b))
	}

	var meta AudioMeta
	if err := json.Unmarshal(b[4:4+metaLen], &meta); err != nil {
		return AudioMeta{}, nil, fmt.Errorf("server: unmarshal audio metadata: %w", err)
	}

	pcm := b[4+metaLen:]
	if len(pcm)%2 != 0 {
		return AudioMeta{}, nil, fmt.Errorf("server: odd PCM payload length %d", len(pcm))
	}
	return meta, audio.BytesToSamples(pcm), nil
}
