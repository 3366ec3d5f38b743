package tts

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-avatar/internal/wavutil"
)

const mockRuneDuration = 150 * time.Millisecond

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a synthesizer that produces silence sized to the text.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	speed := req.Speed
	if speed <= 0 {
		speed = DefaultSpeed
	}
	d := time.Duration(float64(utf8.RuneCountInString(req.Text)) * float64(mockRuneDuration) / speed)
	return wavutil.Silence(d, m.sampleRate, m.channels)
}
