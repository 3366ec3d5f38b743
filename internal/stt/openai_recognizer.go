package stt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/loqalabs/loqa-avatar/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

type openAIRecognizer struct {
	client *openai.Client
	cfg    config.STTConfig
}

// NewOpenAIRecognizer transcribes through the OpenAI audio API or a
// compatible server.
func NewOpenAIRecognizer(cfg config.STTConfig) Recognizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	return &openAIRecognizer{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, audio []byte) (TranscriptResult, error) {
	data, err := asWAV(audio, r.cfg.SampleRate, r.cfg.Channels)
	if err != nil {
		return TranscriptResult{}, err
	}
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.cfg.Model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(data),
		Language: r.cfg.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("openai transcription: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Confidence: 1}, nil
}
