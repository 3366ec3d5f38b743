package capability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/llm"
	"github.com/loqalabs/loqa-avatar/internal/stt"
	"github.com/loqalabs/loqa-avatar/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	NameLLM = "llm"
	NameSTT = "stt"
	NameTTS = "tts"
)

const probeTimeout = 3 * time.Second

// Status is the outcome of probing one collaborator.
type Status struct {
	Name      string    `json:"name"`
	Mode      string    `json:"mode"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Descriptor summarizes which collaborators are live. It is computed once at
// startup and handed to the stream orchestrator.
type Descriptor struct {
	LiveText    bool `json:"live_text"`
	Synthesis   bool `json:"synthesis"`
	Recognition bool `json:"recognition"`
}

type Registry struct {
	log        *slog.Logger
	mu         sync.RWMutex
	statuses   []Status
	generator  llm.Generator
	recognizer stt.Recognizer
	synth      tts.Synthesizer
	meter      metric.Meter
	gauge      metric.Int64ObservableGauge
}

// Probe builds every configured collaborator and checks it once. Failures
// are recorded and logged; the failing collaborator is left out so callers
// fall back to degraded behavior.
func Probe(ctx context.Context, cfg config.Config, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		log:   log.With(slog.String("component", "capability-probe")),
		meter: otel.Meter("github.com/loqalabs/loqa-avatar/capability"),
	}

	gen, status := probeLLM(ctx, cfg)
	r.generator = gen
	r.record(status)

	rec, status := probeSTT(ctx, cfg.STT)
	if rec == nil {
		rec = stt.NewMockRecognizer(cfg.STT.MockText)
	}
	r.recognizer = rec
	r.record(status)

	synth, status := probeTTS(ctx, cfg.TTS)
	r.synth = synth
	r.record(status)

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r, ctx.Err()
}

func probeLLM(ctx context.Context, cfg config.Config) (llm.Generator, Status) {
	status := Status{Name: NameLLM, Mode: cfg.LLM.Mode}
	if !cfg.LLM.Enabled {
		status.Reason = "disabled"
		return nil, status
	}
	gen, err := llm.FromConfig(cfg.LLM, cfg.Stream.FallbackAnswer)
	if err != nil {
		status.Reason = err.Error()
		return nil, status
	}
	if p, ok := gen.(llm.Prober); ok {
		if err := runProbe(ctx, p.Probe); err != nil {
			status.Reason = err.Error()
			return nil, status
		}
	}
	status.Available = true
	return gen, status
}

func probeSTT(ctx context.Context, cfg config.STTConfig) (stt.Recognizer, Status) {
	status := Status{Name: NameSTT, Mode: cfg.Mode}
	if !cfg.Enabled {
		status.Reason = "disabled"
		return nil, status
	}
	rec, err := stt.FromConfig(cfg)
	if err != nil {
		status.Reason = err.Error()
		return nil, status
	}
	if p, ok := rec.(stt.Prober); ok {
		if err := runProbe(ctx, p.Probe); err != nil {
			status.Reason = err.Error()
			return nil, status
		}
	}
	status.Available = true
	return rec, status
}

func probeTTS(ctx context.Context, cfg config.TTSConfig) (tts.Synthesizer, Status) {
	status := Status{Name: NameTTS, Mode: cfg.Mode}
	if !cfg.Enabled {
		status.Reason = "disabled"
		return nil, status
	}
	synth, err := tts.FromConfig(cfg)
	if err != nil {
		status.Reason = err.Error()
		return nil, status
	}
	if p, ok := synth.(tts.Prober); ok {
		if err := runProbe(ctx, p.Probe); err != nil {
			status.Reason = err.Error()
			return nil, status
		}
	}
	status.Available = true
	return synth, status
}

func runProbe(ctx context.Context, probe func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return probe(ctx)
}

func (r *Registry) record(status Status) {
	status.CheckedAt = time.Now().UTC()
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()

	if status.Available {
		r.log.Info("collaborator available", slog.String("name", status.Name), slog.String("mode", status.Mode))
		return
	}
	r.log.Warn("collaborator unavailable; using fallback",
		slog.String("name", status.Name),
		slog.String("mode", status.Mode),
		slog.String("reason", status.Reason),
	)
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("loqa.capability.available", metric.WithDescription("Whether a collaborator passed its startup probe"))
	if err != nil {
		return err
	}
	r.gauge = gauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		for _, s := range r.Statuses() {
			var v int64
			if s.Available {
				v = 1
			}
			obs.ObserveInt64(gauge, v, metric.WithAttributes(attribute.String("name", s.Name), attribute.String("mode", s.Mode)))
		}
		return nil
	}, gauge)
	return err
}

// Statuses returns a copy of the probe results in probe order.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Status(nil), r.statuses...)
}

func (r *Registry) Status(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.statuses {
		if s.Name == name {
			return s, true
		}
	}
	return Status{}, false
}

func (r *Registry) Descriptor() Descriptor {
	return Descriptor{
		LiveText:    r.generator != nil,
		Synthesis:   r.synth != nil,
		Recognition: r.available(NameSTT),
	}
}

func (r *Registry) available(name string) bool {
	s, ok := r.Status(name)
	return ok && s.Available
}

// Generator returns the live text source, or nil in fallback mode.
func (r *Registry) Generator() llm.Generator { return r.generator }

// Recognizer always returns a recognizer; the canned one when the configured
// backend is unavailable.
func (r *Registry) Recognizer() stt.Recognizer { return r.recognizer }

// Synthesizer returns the engine, or nil when running on placeholder audio.
func (r *Registry) Synthesizer() tts.Synthesizer { return r.synth }
