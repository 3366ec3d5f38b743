package tts

import (
	"fmt"

	"github.com/loqalabs/loqa-avatar/internal/config"
)

// FromConfig builds the configured synthesizer. It returns nil when
// synthesis is disabled.
func FromConfig(cfg config.TTSConfig) (Synthesizer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "openai":
		if cfg.APIKey == "" && cfg.Endpoint == "" {
			return nil, fmt.Errorf("tts openai mode requires an api key or endpoint")
		}
		return NewOpenAISynth(cfg.APIKey, cfg.Endpoint, cfg.Model, cfg.Voices), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
