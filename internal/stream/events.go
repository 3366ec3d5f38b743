package stream

import (
	"context"
	"time"
)

type EventType string

const (
	EventStarted  EventType = "session.started"
	EventPrompt   EventType = "prompt"
	EventChunk    EventType = "chunk"
	EventFinished EventType = "session.finished"
)

// Event is one journal entry for a session. Sequence numbers follow the
// order of lines written to the client.
type Event struct {
	SessionID  string
	Type       EventType
	Sequence   int
	InputMode  InputMode
	Prompt     string
	Text       string
	AudioBytes int
	Endpoint   bool
	State      State
	Error      string
	Timestamp  time.Time
}

// Sink receives session events. Implementations handle their own failures;
// recording never affects the stream.
type Sink interface {
	Record(ctx context.Context, evt Event)
}

type nopSink struct{}

func (nopSink) Record(context.Context, Event) {}
