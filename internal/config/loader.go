package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/aurist/internal/model"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.AuthTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.auth_timeout %s must not be negative", cfg.Server.AuthTimeout.Std()))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Auth clients
	namesSeen := make(map[string]int, len(cfg.Auth.Clients))
	for i, c := range cfg.Auth.Clients {
		prefix := fmt.Sprintf("auth.clients[%d]", i)
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[c.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of auth.clients[%d]", prefix, c.Name, prev))
			}
			namesSeen[c.Name] = i
		}
		if c.Token == "" {
			errs = append(errs, fmt.Errorf("%s.token is required", prefix))
		}
	}
	if len(cfg.Auth.Clients) == 0 {
		slog.Warn("auth.clients is empty; no client will be able to open a session")
	}

	// Model backend
	if cfg.Model.Mode != "" {
		if !cfg.Model.Mode.IsValid() {
			errs = append(errs, fmt.Errorf("model.mode %q is invalid; valid values: whisper, openai, remote", cfg.Model.Mode))
		} else {
			errs = append(errs, validateModelMode(cfg.Model)...)
		}
	}
	if cfg.Model.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("model.concurrency %d must not be negative", cfg.Model.Concurrency))
	}
	if cfg.Model.Concurrency > 1 {
		slog.Warn("model.concurrency above 1 shares the resident backend between jobs; watch device memory",
			"concurrency", cfg.Model.Concurrency,
		)
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}
	if cfg.Audio.Overflow != "" && !cfg.Audio.Overflow.IsValid() {
		errs = append(errs, fmt.Errorf("audio.overflow %q is invalid; valid values: drop_oldest, drop_newest", cfg.Audio.Overflow))
	}

	// Segmentation
	seg := cfg.Segmentation
	if seg.EarlySilence > 0 && seg.PostSpeechSilence > 0 && seg.EarlySilence >= seg.PostSpeechSilence {
		errs = append(errs, fmt.Errorf("segmentation.early_silence %s must be shorter than post_speech_silence %s",
			seg.EarlySilence.Std(), seg.PostSpeechSilence.Std()))
	}
	if seg.MinSpeech > 0 && seg.MaxUtterance > 0 && seg.MinSpeech.Std() > seg.MaxUtterance.Std() {
		errs = append(errs, fmt.Errorf("segmentation.min_speech %s exceeds max_utterance %s",
			seg.MinSpeech.Std(), seg.MaxUtterance.Std()))
	}
	if e := seg.Energy; e.SpeechThreshold != 0 || e.SilenceThreshold != 0 {
		if e.SpeechThreshold <= 0 {
			errs = append(errs, fmt.Errorf("segmentation.energy.speech_threshold %v must be positive", e.SpeechThreshold))
		}
		if e.SilenceThreshold <= 0 || e.SilenceThreshold > e.SpeechThreshold {
			errs = append(errs, fmt.Errorf("segmentation.energy.silence_threshold %v must be in (0, speech_threshold]", e.SilenceThreshold))
		}
	}

	return errors.Join(errs...)
}

// validateModelMode checks the fields each backend mode requires.
func validateModelMode(m ModelConfig) []error {
	var errs []error
	switch m.Mode {
	case model.ModeWhisper:
		if m.Path == "" {
			errs = append(errs, errors.New("model.path is required when model.mode is whisper"))
		}
	case model.ModeOpenAI:
		if m.APIKey == "" {
			errs = append(errs, errors.New("model.api_key is required when model.mode is openai"))
		}
	case model.ModeRemote:
		if m.Addr == "" {
			errs = append(errs, errors.New("model.addr is required when model.mode is remote"))
		}
	}
	return errs
}
