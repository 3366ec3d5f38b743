package llm

import (
	"context"
	"time"
)

const mockDeltaRunes = 3

type mockGenerator struct {
	answer string
	delay  time.Duration
}

// NewMockGenerator streams answer in small deltas, imitating a model that
// emits a few characters per token.
func NewMockGenerator(answer string, delay time.Duration) Generator {
	return &mockGenerator{answer: answer, delay: delay}
}

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	runes := []rune(m.answer)
	for i := 0; i < len(runes); i += mockDeltaRunes {
		if m.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.delay):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		end := i + mockDeltaRunes
		if end > len(runes) {
			end = len(runes)
		}
		if err := consumer(Chunk{
			SessionID: req.SessionID,
			Content:   string(runes[i:end]),
			Partial:   end < len(runes),
			Latency:   time.Since(start),
		}); err != nil {
			return err
		}
	}
	return nil
}
