package protocol

import "time"

// StreamStarted is published when a session begins streaming.
type StreamStarted struct {
	SessionID string    `json:"session_id"`
	InputMode string    `json:"input_mode"`
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamChunk mirrors one line written to the client. Audio is summarized by
// size; the WAV bytes stay on the HTTP stream.
type StreamChunk struct {
	SessionID  string    `json:"session_id"`
	Sequence   int       `json:"sequence"`
	Text       string    `json:"text"`
	AudioBytes int       `json:"audio_bytes"`
	Endpoint   bool      `json:"endpoint"`
	Timestamp  time.Time `json:"timestamp"`
}

// StreamFinished is published once per session with its terminal state.
type StreamFinished struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Lines     int       `json:"lines"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

const (
	SubjectStreamStarted   = "avatar.stream.started"
	SubjectStreamChunk     = "avatar.stream.chunk"
	SubjectStreamFinished  = "avatar.stream.finished"
	SubjectTranscriptFinal = "stt.text.final"
)
