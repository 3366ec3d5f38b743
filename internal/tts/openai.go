package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/loqalabs/loqa-avatar/internal/wavutil"
	openai "github.com/sashabaranov/go-openai"
)

type openAISynth struct {
	client *openai.Client
	model  string
	voices []string
}

// NewOpenAISynth synthesizes through the OpenAI speech endpoint or any
// compatible server at endpoint. voice_id selects an entry from voices.
func NewOpenAISynth(apiKey, endpoint, model string, voices []string) Synthesizer {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if len(voices) == 0 {
		voices = []string{string(openai.VoiceAlloy)}
	}
	return &openAISynth{client: openai.NewClientWithConfig(cfg), model: model, voices: voices}
}

func (s *openAISynth) voice(id int) openai.SpeechVoice {
	if id < 0 || id >= len(s.voices) {
		return openai.SpeechVoice(s.voices[0])
	}
	return openai.SpeechVoice(s.voices[id])
}

func (s *openAISynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	speed := req.Speed
	switch {
	case speed <= 0:
		speed = DefaultSpeed
	case speed < 0.25:
		speed = 0.25
	case speed > 4:
		speed = 4
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          req.Text,
		Voice:          s.voice(req.VoiceID),
		ResponseFormat: openai.SpeechResponseFormatWav,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read openai speech: %w", err)
	}
	if !wavutil.IsWAV(audio) {
		return nil, fmt.Errorf("openai speech returned %d bytes that are not wav", len(audio))
	}
	return audio, nil
}
