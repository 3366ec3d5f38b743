package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-avatar/internal/config"
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. audio is a complete utterance, either a
// WAV file or raw 16-bit PCM at the configured rate.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte) (TranscriptResult, error)
}

// Prober is implemented by backends that can verify their dependencies.
type Prober interface {
	Probe(ctx context.Context) error
}

// FromConfig builds the configured recognizer, or nil when disabled.
func FromConfig(cfg config.STTConfig) (Recognizer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(cfg.MockText), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "openai":
		if cfg.APIKey == "" && cfg.Endpoint == "" {
			return nil, fmt.Errorf("stt openai mode requires an api key or endpoint")
		}
		return NewOpenAIRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
