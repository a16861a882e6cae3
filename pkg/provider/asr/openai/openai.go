// Package openai provides a Transcriber backed by the OpenAI Audio
// Transcriptions API. Utterance audio is wrapped in a WAV container and
// uploaded per request; there is no session state, so the zero cost of Close
// makes this backend a good fallback behind a local model.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/MrWong99/aurist/pkg/audio"
	"github.com/MrWong99/aurist/pkg/provider/asr"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = string(oai.AudioModelWhisper1)

// config holds optional configuration for the transcriber.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Transcriber implements asr.Transcriber using the OpenAI API. Safe for
// concurrent use.
type Transcriber struct {
	client oai.Client
	model  string
}

// New constructs an OpenAI Transcriber. If model is empty, DefaultModel
// (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Transcriber{client: client, model: model}, nil
}

// Transcribe implements asr.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if len(req.Samples) == 0 {
		return asr.Result{}, fmt.Errorf("openai: empty audio")
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = audio.DefaultSampleRate
	}

	wav := audio.EncodeWAV(audio.Float32ToSamples(req.Samples), sr)

	params := oai.AudioTranscriptionNewParams{
		File:                   oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model:                  oai.AudioModel(t.model),
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word"},
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return asr.Result{}, fmt.Errorf("openai: transcription request: %w", err)
	}

	res := asr.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: req.Language,
		Duration: time.Duration(len(req.Samples)) * time.Second / time.Duration(sr),
	}

	// The SDK decodes every response format into Transcription; the verbose
	// fields (words, duration, detected language) ride along in the raw body.
	var verbose oai.TranscriptionVerbose
	if err := json.Unmarshal([]byte(resp.RawJSON()), &verbose); err == nil {
		if verbose.Language != "" {
			res.Language = verbose.Language
		}
		if verbose.Duration > 0 {
			res.Duration = time.Duration(verbose.Duration * float64(time.Second))
		}
		for _, w := range verbose.Words {
			// The API reports timing only; word confidence stays 0.
			res.Words = append(res.Words, asr.Word{
				Word:  w.Word,
				Start: time.Duration(w.Start * float64(time.Second)),
				End:   time.Duration(w.End * float64(time.Second)),
			})
		}
	}
	return res, nil
}

// Close implements asr.Transcriber. The client is stateless.
func (t *Transcriber) Close() error { return nil }

// Ensure Transcriber implements asr.Transcriber at compile time.
var _ asr.Transcriber = (*Transcriber)(nil)
