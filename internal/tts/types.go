package tts

import "context"

// Request contains parameters to synthesize one segment of speech.
type Request struct {
	Text    string
	Speed   float64
	VoiceID int
}

// Synthesizer is the contract for producing audio. Implementations return a
// complete WAV payload and must be safe for concurrent calls.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// Prober is implemented by backends that can check their dependencies
// without synthesizing anything.
type Prober interface {
	Probe(ctx context.Context) error
}
