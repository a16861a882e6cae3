package remote

// Wire types for the modeld single-model service protocol: newline-delimited
// JSON over TCP. The server side (internal/modeld) imports these so both
// ends stay in lockstep.

// Actions understood by a modeld server.
const (
	ActionTranscribe = "transcribe"
	ActionStatus     = "status"
	ActionPing       = "ping"
	ActionShutdown   = "shutdown"
)

// Request is one client command.
type Request struct {
	Action string `json:"action"`

	// Audio is base64-encoded s16le mono PCM. Set for "transcribe" only.
	Audio string `json:"audio,omitempty"`

	// SampleRate is the PCM sample rate in Hz. Set for "transcribe" only.
	SampleRate int `json:"sample_rate,omitempty"`

	// Language is an optional recognition hint.
	Language string `json:"language,omitempty"`
}

// Response mirrors every request: success with a result, or an error string.
type Response struct {
	Success bool            `json:"success"`
	Result  *ResultPayload  `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ResultPayload is the transcription (or status) body of a successful
// response.
type ResultPayload struct {
	Text                string        `json:"text,omitempty"`
	Words               []WordPayload `json:"words,omitempty"`
	Language            string        `json:"language,omitempty"`
	LanguageProbability float64       `json:"language_probability,omitempty"`
	Duration            float64       `json:"duration,omitempty"`

	// Status fields, set for "status" and "ping" responses.
	State  string `json:"state,omitempty"`
	Model  string `json:"model,omitempty"`
	Uptime float64 `json:"uptime,omitempty"`
}

// WordPayload is one word with timing in seconds.
type WordPayload struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}
