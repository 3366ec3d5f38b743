package stream

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-avatar/internal/capability"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/llm"
	"github.com/loqalabs/loqa-avatar/internal/segment"
	"github.com/loqalabs/loqa-avatar/internal/stt"
	"github.com/loqalabs/loqa-avatar/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type InputMode string

const (
	ModeText  InputMode = "text"
	ModeAudio InputMode = "audio"
)

// Request carries raw client input into Open. Audio is base64 as received
// over JSON; AudioBytes, when set, is used as is.
type Request struct {
	InputMode  string
	Prompt     string
	Audio      string
	AudioBytes []byte
	Voice      tts.VoiceParameters
}

type Options struct {
	Segment         segment.Options
	StaticMinLength int
	QueueDepth      int
	FallbackAnswer  string
	ErrorMessage    string
	ExposeErrors    bool
	LLM             config.LLMConfig
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Segment:         SegmentOptions(cfg.Stream),
		StaticMinLength: cfg.Stream.StaticMinLength,
		QueueDepth:      cfg.Stream.QueueDepth,
		FallbackAnswer:  cfg.Stream.FallbackAnswer,
		ErrorMessage:    cfg.Stream.ErrorMessage,
		ExposeErrors:    cfg.HTTP.ExposeErrors,
		LLM:             cfg.LLM,
	}
}

// SegmentOptions maps the stream config onto segmenter options. Unset values
// keep the defaults and a force cut beyond the threshold is ignored.
func SegmentOptions(cfg config.StreamConfig) segment.Options {
	opts := segment.DefaultOptions()
	if cfg.Lookback > 0 {
		opts.Lookback = cfg.Lookback
	}
	if cfg.MinSegment > 0 {
		opts.MinSegment = cfg.MinSegment
	}
	if cfg.ForceThreshold > 0 {
		opts.ForceThreshold = cfg.ForceThreshold
	}
	if cfg.ForceCut > 0 && cfg.ForceCut <= opts.ForceThreshold {
		opts.ForceCut = cfg.ForceCut
	}
	if opts.ForceCut > opts.ForceThreshold {
		opts.ForceCut = opts.ForceThreshold
	}
	return opts
}

// Dependencies are the collaborators shared by every session.
type Dependencies struct {
	Capabilities capability.Descriptor
	Text         llm.Generator
	Recognizer   stt.Recognizer
	Speech       *tts.Adapter
	Sink         Sink
	Logger       *slog.Logger
}

type Orchestrator struct {
	text       llm.Generator
	recognizer stt.Recognizer
	speech     *tts.Adapter
	sink       Sink
	opts       Options
	logger     *slog.Logger
	tracer     trace.Tracer

	sessions     metric.Int64Counter
	chunks       metric.Int64Counter
	segmentRunes metric.Int64Histogram
	duration     metric.Float64Histogram
}

func New(deps Dependencies, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StaticMinLength <= 0 {
		opts.StaticMinLength = 10
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	o := &Orchestrator{
		recognizer: deps.Recognizer,
		speech:     deps.Speech,
		sink:       deps.Sink,
		opts:       opts,
		logger:     logger.With(slog.String("component", "stream")),
		tracer:     otel.Tracer("github.com/loqalabs/loqa-avatar/stream"),
	}
	if deps.Capabilities.LiveText && deps.Text != nil {
		o.text = deps.Text
	} else {
		o.logger.Info("no live text source; answering with the canned response")
	}
	if o.recognizer == nil {
		o.recognizer = stt.NewMockRecognizer("")
	}
	if o.speech == nil {
		o.speech = tts.NewAdapter(nil, nil, nil, logger)
	}
	if o.sink == nil {
		o.sink = nopSink{}
	}
	o.initMetrics()
	return o
}

func (o *Orchestrator) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-avatar/stream")
	var err error
	if o.sessions, err = meter.Int64Counter("loqa.stream.sessions", metric.WithDescription("Stream sessions by input mode and outcome")); err != nil {
		o.logger.Warn("failed to create session counter", slogError(err))
	}
	if o.chunks, err = meter.Int64Counter("loqa.stream.chunks", metric.WithDescription("Chunks written to clients")); err != nil {
		o.logger.Warn("failed to create chunk counter", slogError(err))
	}
	if o.segmentRunes, err = meter.Int64Histogram("loqa.stream.segment.runes", metric.WithDescription("Runes per synthesized segment")); err != nil {
		o.logger.Warn("failed to create segment histogram", slogError(err))
	}
	if o.duration, err = meter.Float64Histogram("loqa.stream.session.duration", metric.WithDescription("Session wall time"), metric.WithUnit("s")); err != nil {
		o.logger.Warn("failed to create duration histogram", slogError(err))
	}
}

// LiveText reports whether sessions stream from a live text source.
func (o *Orchestrator) LiveText() bool { return o.text != nil }

// Open validates req and resolves audio input to a prompt. Nothing has been
// written to the client when it returns an error.
func (o *Orchestrator) Open(ctx context.Context, req Request) (*Session, error) {
	mode := InputMode(req.InputMode)
	switch mode {
	case ModeText, ModeAudio:
	default:
		return nil, fmt.Errorf("%w: got %q", ErrInvalidInputMode, req.InputMode)
	}

	s := &Session{
		ID:    uuid.NewString(),
		Mode:  mode,
		Voice: req.Voice,
		o:     o,
	}
	if s.Voice.Speed <= 0 {
		s.Voice = tts.DefaultVoice()
	}

	switch mode {
	case ModeText:
		if strings.TrimSpace(req.Prompt) == "" {
			return nil, ErrMissingPrompt
		}
		s.Prompt = req.Prompt
	case ModeAudio:
		audio := req.AudioBytes
		if audio == nil {
			decoded, err := decodeAudio(req.Audio)
			if err != nil {
				return nil, err
			}
			audio = decoded
		}
		if len(audio) == 0 {
			return nil, ErrInvalidAudio
		}
		start := time.Now()
		res, err := o.recognizer.Transcribe(ctx, audio)
		if err != nil {
			return nil, fmt.Errorf("transcribe audio: %w", err)
		}
		o.logger.Debug("audio transcribed",
			slog.String("session_id", s.ID),
			slog.Int("audio_bytes", len(audio)),
			slog.Duration("latency", time.Since(start)),
		)
		s.Prompt = res.Text
	}
	return s, nil
}

// decodeAudio accepts plain base64 or a data URL.
func decodeAudio(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.IndexByte(encoded, ','); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	if encoded == "" {
		return nil, ErrInvalidAudio
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	return audio, nil
}

func (o *Orchestrator) errorText(err error) string {
	msg := o.opts.ErrorMessage
	if msg == "" {
		msg = "抱歉，大模型调用失败"
	}
	if o.opts.ExposeErrors && err != nil {
		msg += ": " + err.Error()
	}
	return msg
}

func (o *Orchestrator) countSession(ctx context.Context, mode InputMode, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("mode", string(mode)), attribute.String("outcome", outcome))
	if o.sessions != nil {
		o.sessions.Add(ctx, 1, attrs)
	}
	if o.duration != nil {
		o.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
