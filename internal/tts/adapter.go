package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AudioCache stores synthesized segments across requests.
type AudioCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, audio []byte) error
}

// Adapter turns one segment into an audio payload and never fails: engine
// errors and a missing engine both resolve to the placeholder clip.
type Adapter struct {
	synth       Synthesizer
	placeholder []byte
	cache       AudioCache
	logger      *slog.Logger

	latency   metric.Float64Histogram
	fallbacks metric.Int64Counter
	cacheHits metric.Int64Counter
}

// NewAdapter wraps synth. synth may be nil, in which case every non-empty
// segment gets the placeholder. cache may be nil.
func NewAdapter(synth Synthesizer, placeholder []byte, cache AudioCache, logger *slog.Logger) *Adapter {
	a := &Adapter{
		synth:       synth,
		placeholder: placeholder,
		cache:       cache,
		logger:      logger.With(slog.String("component", "tts-adapter")),
	}
	if synth == nil {
		a.logger.Warn("no synthesizer configured; placeholder audio will be returned for every segment")
	}

	meter := otel.Meter("github.com/loqalabs/loqa-avatar/tts")
	var err error
	if a.latency, err = meter.Float64Histogram("loqa.tts.synthesis.duration", metric.WithDescription("Synthesis latency per segment"), metric.WithUnit("s")); err != nil {
		a.logger.Warn("failed to create latency histogram", slogError(err))
	}
	if a.fallbacks, err = meter.Int64Counter("loqa.tts.synthesis.fallbacks", metric.WithDescription("Segments answered with placeholder audio")); err != nil {
		a.logger.Warn("failed to create fallback counter", slogError(err))
	}
	if a.cacheHits, err = meter.Int64Counter("loqa.tts.cache.hits", metric.WithDescription("Segments served from the audio cache")); err != nil {
		a.logger.Warn("failed to create cache counter", slogError(err))
	}
	return a
}

// Degraded reports whether the adapter runs without a real engine.
func (a *Adapter) Degraded() bool { return a.synth == nil }

// Placeholder returns the fallback clip.
func (a *Adapter) Placeholder() []byte { return a.placeholder }

// Synthesize returns audio for text. Whitespace-only text yields an empty
// payload without touching the engine.
func (a *Adapter) Synthesize(ctx context.Context, text string, voice VoiceParameters) []byte {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if a.synth == nil {
		a.countFallback(ctx, "unavailable")
		return a.placeholder
	}

	key := CacheKey(text, voice)
	if a.cache != nil {
		audio, ok, err := a.cache.Get(ctx, key)
		if err != nil {
			a.logger.Debug("audio cache lookup failed", slogError(err))
		} else if ok {
			if a.cacheHits != nil {
				a.cacheHits.Add(ctx, 1)
			}
			return audio
		}
	}

	start := time.Now()
	audio, err := a.synth.Synthesize(ctx, Request{Text: text, Speed: voice.Speed, VoiceID: voice.VoiceID})
	if a.latency != nil {
		a.latency.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		a.logger.Warn("synthesis failed; using placeholder", slog.Int("runes", len([]rune(text))), slogError(err))
		a.countFallback(ctx, "error")
		return a.placeholder
	}
	if len(audio) == 0 {
		a.logger.Warn("synthesis returned no audio; using placeholder")
		a.countFallback(ctx, "empty")
		return a.placeholder
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, audio); err != nil {
			a.logger.Debug("audio cache store failed", slogError(err))
		}
	}
	return audio
}

func (a *Adapter) countFallback(ctx context.Context, reason string) {
	if a.fallbacks != nil {
		a.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// CacheKey identifies a synthesized segment by its text and voice settings.
func CacheKey(text string, voice VoiceParameters) string {
	sum := sha256.Sum256([]byte(text + "|" + strconv.FormatFloat(voice.Speed, 'g', -1, 64) + "|" + strconv.Itoa(voice.VoiceID)))
	return "loqa:tts:" + hex.EncodeToString(sum[:])
}
