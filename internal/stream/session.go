package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-avatar/internal/llm"
	"github.com/loqalabs/loqa-avatar/internal/segment"
	"github.com/loqalabs/loqa-avatar/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type State int32

const (
	StateInit State = iota
	StateStreaming
	StateFinalizing
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is one request's stream. It is created by Orchestrator.Open and
// run exactly once.
type Session struct {
	ID     string
	Mode   InputMode
	Prompt string
	Voice  tts.VoiceParameters

	o     *Orchestrator
	state atomic.Int32
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run streams the answer to em. It returns nil once the terminal chunk has
// been written. A text source failure still writes a terminal error chunk
// and returns an error wrapping ErrSourceFailed.
func (s *Session) Run(ctx context.Context, em *Emitter) error {
	if !s.state.CompareAndSwap(int32(StateInit), int32(StateStreaming)) {
		return errors.New("session already started")
	}
	o := s.o
	started := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "stream.session", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("session.mode", string(s.Mode)),
		attribute.Bool("session.live_text", o.LiveText()),
	))
	defer span.End()

	journal := context.WithoutCancel(ctx)
	o.sink.Record(journal, Event{
		SessionID: s.ID,
		Type:      EventStarted,
		InputMode: s.Mode,
		Prompt:    s.Prompt,
		State:     StateStreaming,
		Timestamp: started.UTC(),
	})

	seq := 0
	var runErr error
	if s.Mode == ModeAudio {
		if err := em.EmitPrompt(s.Prompt); err != nil {
			runErr = fmt.Errorf("emit prompt: %w", err)
		} else {
			o.sink.Record(journal, Event{SessionID: s.ID, Type: EventPrompt, Sequence: seq, Prompt: s.Prompt, Timestamp: time.Now().UTC()})
			seq++
		}
	}

	if runErr == nil {
		queue := make(chan Chunk, o.opts.QueueDepth)
		// The producer sends at most two chunks (held and error) between
		// waits, so acknowledgements never block the consumer.
		written := make(chan struct{}, o.opts.QueueDepth+2)
		produced := make(chan error, 1)
		go func() {
			defer close(queue)
			produced <- s.produce(ctx, queue, written)
		}()

		for chunk := range queue {
			if runErr != nil {
				continue
			}
			if err := em.Emit(chunk); err != nil {
				runErr = fmt.Errorf("emit chunk: %w", err)
				cancel()
				continue
			}
			written <- struct{}{}
			if o.chunks != nil {
				o.chunks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("endpoint", chunk.Endpoint)))
			}
			o.sink.Record(journal, Event{
				SessionID:  s.ID,
				Type:       EventChunk,
				Sequence:   seq,
				Text:       chunk.Text,
				AudioBytes: len(chunk.Audio),
				Endpoint:   chunk.Endpoint,
				Timestamp:  time.Now().UTC(),
			})
			seq++
		}
		if err := <-produced; runErr == nil {
			runErr = err
		}
	}

	outcome := "done"
	switch {
	case runErr == nil:
		s.setState(StateDone)
	case errors.Is(runErr, ErrSourceFailed):
		s.setState(StateError)
		outcome = "source_error"
	default:
		s.setState(StateError)
		outcome = "aborted"
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.Int("session.lines", em.Lines()))
	o.countSession(journal, s.Mode, outcome, time.Since(started))

	finished := Event{
		SessionID: s.ID,
		Type:      EventFinished,
		Sequence:  seq,
		State:     s.State(),
		Timestamp: time.Now().UTC(),
	}
	if runErr != nil {
		finished.Error = runErr.Error()
	}
	o.sink.Record(journal, finished)

	o.logger.Info("stream session finished",
		slog.String("session_id", s.ID),
		slog.String("mode", string(s.Mode)),
		slog.String("outcome", outcome),
		slog.Int("lines", em.Lines()),
		slog.Duration("elapsed", time.Since(started)),
	)
	return runErr
}

func (s *Session) produce(ctx context.Context, out chan<- Chunk, written <-chan struct{}) error {
	p := &producer{session: s, out: out, written: written}
	if s.o.text != nil {
		return p.streamLive(ctx)
	}
	return p.streamCanned(ctx)
}

// producer segments and synthesizes the answer. It holds the latest chunk
// back until it knows whether more input follows, so exactly one terminal
// chunk is sent. Segment n+1 is not synthesized until chunk n is written.
type producer struct {
	session   *Session
	out       chan<- Chunk
	written   <-chan struct{}
	unwritten int
	held      *Chunk
}

func (p *producer) streamLive(ctx context.Context) error {
	s := p.session
	o := s.o
	seg := segment.New(o.opts.Segment)
	req := llm.RequestFromConfig(o.opts.LLM, s.ID, s.Prompt)

	err := o.text.Generate(ctx, req, func(c llm.Chunk) error {
		for _, next := range seg.Feed(c.Content) {
			if err := p.push(ctx, next); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.setState(StateError)
		o.logger.Warn("text source failed mid-stream",
			slog.String("session_id", s.ID),
			slog.Int("dropped_runes", seg.Pending()),
			slogError(err),
		)
		seg.Reset()
		if sendErr := p.fail(ctx, o.errorText(err)); sendErr != nil {
			return sendErr
		}
		return fmt.Errorf("%w: %w", ErrSourceFailed, err)
	}

	s.setState(StateFinalizing)
	if rest, ok := seg.Flush(); ok {
		if err := p.push(ctx, rest); err != nil {
			return err
		}
	}
	return p.finish(ctx)
}

func (p *producer) streamCanned(ctx context.Context) error {
	o := p.session.o
	for _, next := range segment.Split(o.opts.FallbackAnswer, o.opts.StaticMinLength) {
		if err := p.push(ctx, next); err != nil {
			return err
		}
	}
	p.session.setState(StateFinalizing)
	return p.finish(ctx)
}

// push delivers the held chunk, now known not to be last, and waits until
// it has been written before synthesizing text. The new chunk is held in turn.
func (p *producer) push(ctx context.Context, text segment.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.held != nil {
		held := *p.held
		p.held = nil
		if err := p.send(ctx, held); err != nil {
			return err
		}
		if err := p.awaitWritten(ctx); err != nil {
			return err
		}
	}

	o := p.session.o
	audio := o.speech.Synthesize(ctx, string(text), p.session.Voice)
	if o.segmentRunes != nil {
		o.segmentRunes.Record(ctx, int64(utf8.RuneCountInString(string(text))))
	}
	p.held = &Chunk{Text: string(text), Audio: audio}
	return nil
}

// finish marks the held chunk terminal, or sends an empty terminal chunk
// when the answer produced nothing.
func (p *producer) finish(ctx context.Context) error {
	last := Chunk{Endpoint: true}
	if p.held != nil {
		last = *p.held
		last.Endpoint = true
		p.held = nil
	}
	return p.send(ctx, last)
}

// fail flushes the held chunk as non-terminal and ends with an error chunk.
func (p *producer) fail(ctx context.Context, message string) error {
	if p.held != nil {
		held := *p.held
		p.held = nil
		if err := p.send(ctx, held); err != nil {
			return err
		}
	}
	return p.send(ctx, Chunk{Text: message, Audio: p.session.o.speech.Placeholder(), Endpoint: true})
}

func (p *producer) send(ctx context.Context, c Chunk) error {
	select {
	case p.out <- c:
		p.unwritten++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitWritten blocks until every chunk sent so far has reached the client.
func (p *producer) awaitWritten(ctx context.Context) error {
	for p.unwritten > 0 {
		select {
		case <-p.written:
			p.unwritten--
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
