package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output. Content holds only the new text.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend. Generate calls consumer for each
// delta in order and stops at the first consumer error.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// Prober is implemented by backends that can check reachability.
type Prober interface {
	Probe(ctx context.Context) error
}

// RequestFromConfig fills the generation defaults for a prompt.
func RequestFromConfig(cfg config.LLMConfig, sessionID, prompt string) Request {
	return Request{
		SessionID:   sessionID,
		Prompt:      prompt,
		System:      cfg.SystemPrompt,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// FromConfig builds the configured generator, or nil when no live text
// source is enabled. fallback seeds the mock backend.
func FromConfig(cfg config.LLMConfig, fallback string) (Generator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(fallback, time.Duration(cfg.MockDelayMS)*time.Millisecond), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "openai":
		if cfg.APIKey == "" && cfg.Endpoint == "" {
			return nil, fmt.Errorf("llm openai mode requires an api key or endpoint")
		}
		return NewOpenAIGenerator(cfg.APIKey, cfg.Endpoint, cfg.Model), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm anthropic mode requires an api key")
		}
		return NewAnthropicGenerator(cfg.APIKey, cfg.Endpoint, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
