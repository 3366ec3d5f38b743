package runtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/eventstore"
	"github.com/loqalabs/loqa-avatar/internal/protocol"
	"github.com/loqalabs/loqa-avatar/internal/stream"
)

const journalBuffer = 256

type journalItem struct {
	ctx     context.Context
	evt     stream.Event
	flushed chan struct{}
}

// journal records stream events in the event store and mirrors them on the
// bus. Either side may be nil. Events are written by one background worker
// in the order they were recorded, so sessions never wait on SQLite or NATS
// unless the buffer is full. Failures are logged and never reach clients.
type journal struct {
	store *eventstore.Store
	bus   *bus.Client
	log   *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan journalItem
	done   chan struct{}
}

func newJournal(store *eventstore.Store, client *bus.Client, log *slog.Logger) *journal {
	j := &journal{
		store: store,
		bus:   client,
		log:   log.With(slog.String("component", "journal")),
		queue: make(chan journalItem, journalBuffer),
		done:  make(chan struct{}),
	}
	go j.run()
	return j
}

// Record queues evt. It blocks only when the buffer is full. Events recorded
// after Close are dropped.
func (j *journal) Record(ctx context.Context, evt stream.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.log.Warn("journal closed; dropping stream event",
			slog.String("session_id", evt.SessionID),
			slog.String("type", string(evt.Type)),
		)
		return
	}
	j.queue <- journalItem{ctx: ctx, evt: evt}
}

// Flush waits until every event recorded before the call has been written.
func (j *journal) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		<-j.done
		return nil
	}
	select {
	case j.queue <- journalItem{flushed: flushed}:
		j.mu.RUnlock()
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes out queued events and stops the worker.
func (j *journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()
	<-j.done
}

func (j *journal) run() {
	defer close(j.done)
	for item := range j.queue {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		j.write(item.ctx, item.evt)
	}
}

func (j *journal) write(ctx context.Context, evt stream.Event) {
	switch evt.Type {
	case stream.EventStarted:
		j.persist(evt, func() error {
			return j.store.AppendSession(ctx, eventstore.Session{
				ID:        evt.SessionID,
				InputMode: string(evt.InputMode),
				Prompt:    evt.Prompt,
				State:     evt.State.String(),
				CreatedAt: evt.Timestamp,
			})
		})
		j.publish(protocol.SubjectStreamStarted, protocol.StreamStarted{
			SessionID: evt.SessionID,
			InputMode: string(evt.InputMode),
			Prompt:    evt.Prompt,
			Timestamp: evt.Timestamp,
		})
		if evt.InputMode == stream.ModeAudio {
			j.publish(protocol.SubjectTranscriptFinal, protocol.Transcript{
				SessionID: evt.SessionID,
				Text:      evt.Prompt,
				Timestamp: evt.Timestamp,
			})
		}

	case stream.EventPrompt:
		j.persist(evt, func() error {
			return j.store.AppendEvent(ctx, eventstore.Event{
				SessionID: evt.SessionID,
				Sequence:  evt.Sequence,
				Type:      string(evt.Type),
				Text:      evt.Prompt,
				CreatedAt: evt.Timestamp,
			})
		})

	case stream.EventChunk:
		j.persist(evt, func() error {
			return j.store.AppendEvent(ctx, eventstore.Event{
				SessionID:  evt.SessionID,
				Sequence:   evt.Sequence,
				Type:       string(evt.Type),
				Text:       evt.Text,
				AudioBytes: evt.AudioBytes,
				Endpoint:   evt.Endpoint,
				CreatedAt:  evt.Timestamp,
			})
		})
		j.publish(protocol.SubjectStreamChunk, protocol.StreamChunk{
			SessionID:  evt.SessionID,
			Sequence:   evt.Sequence,
			Text:       evt.Text,
			AudioBytes: evt.AudioBytes,
			Endpoint:   evt.Endpoint,
			Timestamp:  evt.Timestamp,
		})

	case stream.EventFinished:
		j.persist(evt, func() error {
			return j.store.FinishSession(ctx, evt.SessionID, evt.State.String(), evt.Error)
		})
		j.publish(protocol.SubjectStreamFinished, protocol.StreamFinished{
			SessionID: evt.SessionID,
			State:     evt.State.String(),
			Lines:     evt.Sequence,
			Error:     evt.Error,
			Timestamp: evt.Timestamp,
		})
	}
}

func (j *journal) persist(evt stream.Event, write func() error) {
	if j.store == nil {
		return
	}
	if err := write(); err != nil {
		j.log.Warn("failed to journal stream event",
			slog.String("session_id", evt.SessionID),
			slog.String("type", string(evt.Type)),
			slogError(err),
		)
	}
}

func (j *journal) publish(subject string, msg any) {
	if !j.bus.Healthy() {
		return
	}
	if err := j.bus.Publish(subject, msg); err != nil {
		j.log.Warn("failed to publish stream event", slog.String("subject", subject), slogError(err))
	}
}
