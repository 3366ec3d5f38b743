package stt

import (
	"context"
)

const defaultMockText = "语音已收到，这里只是模仿，真正对话需要您自己设置ASR服务。"

type mockRecognizer struct {
	text string
}

// NewMockRecognizer acknowledges every utterance with a fixed sentence.
func NewMockRecognizer(text string) Recognizer {
	if text == "" {
		text = defaultMockText
	}
	return &mockRecognizer{text: text}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, _ []byte) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{Text: m.text, Confidence: 1}, nil
}
