// Package config provides the configuration schema, loader, and file watcher
// for the aurist dictation server and its companion daemons.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/aurist/internal/auth"
	"github.com/MrWong99/aurist/internal/model"
	"github.com/MrWong99/aurist/internal/segment"
	"github.com/MrWong99/aurist/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to its slog equivalent. Unknown or empty levels map to
// info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Overflow selects the frame queue overflow policy.
type Overflow string

const (
	OverflowDropOldest Overflow = "drop_oldest"
	OverflowDropNewest Overflow = "drop_newest"
)

// IsValid reports whether o is a recognised overflow policy.
func (o Overflow) IsValid() bool {
	return o == OverflowDropOldest || o == OverflowDropNewest
}

// Policy converts o to the queue's policy type. Empty maps to drop-oldest.
func (o Overflow) Policy() audio.OverflowPolicy {
	if o == OverflowDropNewest {
		return audio.DropNewest
	}
	return audio.DropOldest
}

// Duration wraps time.Duration so values parse from YAML strings like
// "600ms" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"600ms\": %w", err)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig  `yaml:"server"`
	Auth         AuthConfig    `yaml:"auth"`
	Model        ModelConfig   `yaml:"model"`
	Audio        AudioConfig   `yaml:"audio"`
	Segmentation SegmentConfig `yaml:"segmentation"`
	Modeld       ModeldConfig  `yaml:"modeld"`
}

// ServerConfig holds network and logging settings for the dictation server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AuthTimeout is how long a fresh connection has to authenticate.
	// Default 10s.
	AuthTimeout Duration `yaml:"auth_timeout"`

	// MetricsAddr, when set, exposes Prometheus metrics and health probes
	// on a separate listener (e.g., ":9090").
	MetricsAddr string `yaml:"metrics_addr"`

	// TLS configures TLS for the server. When nil, the server runs plain
	// HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AuthConfig lists the clients allowed to open dictation sessions.
type AuthConfig struct {
	Clients []auth.Credential `yaml:"clients"`
}

// ModelConfig selects and parameterizes the transcription backend.
type ModelConfig struct {
	// Mode selects the backend: whisper, openai or remote.
	Mode model.Mode `yaml:"mode"`

	// Path is the whisper.cpp model file (mode "whisper").
	Path string `yaml:"path"`

	// Name is the hosted model name (mode "openai", e.g. "whisper-1").
	Name string `yaml:"name"`

	// Addr is the modeld address (mode "remote", e.g. "127.0.0.1:7700").
	Addr string `yaml:"addr"`

	// APIKey authenticates against the hosted API (mode "openai").
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the hosted API endpoint (mode "openai").
	BaseURL string `yaml:"base_url"`

	// Language is the default transcription language hint; a session's
	// "start" message may override it.
	Language string `yaml:"language"`

	// Concurrency is how many inference jobs may run at once on the
	// resident backend. Default 1 (serialized).
	Concurrency int `yaml:"concurrency"`
}

// Ref returns the backend-specific model reference for the configured mode.
func (m ModelConfig) Ref() string {
	switch m.Mode {
	case model.ModeWhisper:
		return m.Path
	case model.ModeOpenAI:
		return m.Name
	case model.ModeRemote:
		return m.Addr
	}
	return ""
}

// ManagerConfig converts m to the model manager's config.
func (m ModelConfig) ManagerConfig() model.Config {
	return model.Config{
		Mode:        m.Mode,
		Ref:         m.Ref(),
		Concurrency: m.Concurrency,
	}
}

// AudioConfig holds the capture and queueing parameters.
type AudioConfig struct {
	// SampleRate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize in samples. Default 512.
	FrameSize int `yaml:"frame_size"`

	// QueueCapacity is the frame queue depth. Default 64.
	QueueCapacity int `yaml:"queue_capacity"`

	// Overflow is what happens when the queue is full. Default drop_oldest.
	Overflow Overflow `yaml:"overflow"`
}

// SegmentConfig holds the voice activity segmentation parameters.
type SegmentConfig struct {
	// PreRoll is how much audio before speech onset is kept. Default 300ms.
	PreRoll Duration `yaml:"pre_roll"`

	// PostSpeechSilence finalizes an utterance. Default 600ms.
	PostSpeechSilence Duration `yaml:"post_speech_silence"`

	// MinSpeech discards shorter runs as noise. Default 250ms.
	MinSpeech Duration `yaml:"min_speech"`

	// MaxUtterance caps utterance length. Default 30s.
	MaxUtterance Duration `yaml:"max_utterance"`

	// EarlySilence, when set, triggers early non-final transcription.
	EarlySilence Duration `yaml:"early_silence"`

	// Energy parameterizes the RMS voice activity gate.
	Energy EnergyConfig `yaml:"energy"`
}

// EnergyConfig holds the RMS gate thresholds.
type EnergyConfig struct {
	// SpeechThreshold is the normalized RMS level entering speech.
	// Default 0.015.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the normalized RMS level leaving speech.
	// Default 0.008.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SpeechFrames is the consecutive frames needed to enter speech.
	SpeechFrames int `yaml:"speech_frames"`

	// SilenceFrames is the consecutive frames needed to leave speech.
	SilenceFrames int `yaml:"silence_frames"`
}

// EngineConfig converts the audio and segmentation settings to the
// segmentation engine's config.
func (c *Config) EngineConfig() segment.Config {
	return segment.Config{
		SampleRate:        c.Audio.SampleRate,
		FrameSize:         c.Audio.FrameSize,
		PreRoll:           c.Segmentation.PreRoll.Std(),
		PostSpeechSilence: c.Segmentation.PostSpeechSilence.Std(),
		MinSpeech:         c.Segmentation.MinSpeech.Std(),
		MaxUtterance:      c.Segmentation.MaxUtterance.Std(),
		EarlySilence:      c.Segmentation.EarlySilence.Std(),
	}
}

// ModeldConfig holds the standalone inference daemon settings.
type ModeldConfig struct {
	// ListenAddr is the TCP address modeld listens on. Default
	// "127.0.0.1:7700".
	ListenAddr string `yaml:"listen_addr"`

	// ShutdownGrace bounds how long shutdown waits for in-flight jobs.
	// Default 30s.
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}
