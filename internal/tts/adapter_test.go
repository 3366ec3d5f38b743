package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakeSynth struct {
	mu    sync.Mutex
	calls []Request
	audio []byte
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, req Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.audio, f.err
}

type memoryCache struct {
	items map[string][]byte
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, audio []byte) error {
	m.items[key] = audio
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var placeholder = []byte("placeholder")

func TestAdapterEmptyTextSkipsEngine(t *testing.T) {
	synth := &fakeSynth{audio: []byte("wav")}
	a := NewAdapter(synth, placeholder, nil, discardLogger())
	for _, text := range []string{"", "   ", "\n\t"} {
		if got := a.Synthesize(context.Background(), text, DefaultVoice()); len(got) != 0 {
			t.Fatalf("expected empty payload for %q, got %q", text, got)
		}
	}
	if len(synth.calls) != 0 {
		t.Fatalf("engine should not be called, got %d calls", len(synth.calls))
	}
}

func TestAdapterPassesVoiceParameters(t *testing.T) {
	synth := &fakeSynth{audio: []byte("wav")}
	a := NewAdapter(synth, placeholder, nil, discardLogger())
	got := a.Synthesize(context.Background(), "你好", VoiceParameters{Speed: 1.5, VoiceID: 2})
	if string(got) != "wav" {
		t.Fatalf("unexpected audio %q", got)
	}
	if len(synth.calls) != 1 || synth.calls[0] != (Request{Text: "你好", Speed: 1.5, VoiceID: 2}) {
		t.Fatalf("unexpected engine calls %+v", synth.calls)
	}
}

func TestAdapterEngineErrorReturnsPlaceholder(t *testing.T) {
	synth := &fakeSynth{err: errors.New("engine exploded")}
	a := NewAdapter(synth, placeholder, nil, discardLogger())
	if got := a.Synthesize(context.Background(), "你好", DefaultVoice()); string(got) != "placeholder" {
		t.Fatalf("expected placeholder, got %q", got)
	}
}

func TestAdapterEmptyEngineOutputReturnsPlaceholder(t *testing.T) {
	a := NewAdapter(&fakeSynth{}, placeholder, nil, discardLogger())
	if got := a.Synthesize(context.Background(), "你好", DefaultVoice()); string(got) != "placeholder" {
		t.Fatalf("expected placeholder, got %q", got)
	}
}

func TestAdapterWithoutEngine(t *testing.T) {
	a := NewAdapter(nil, placeholder, nil, discardLogger())
	if !a.Degraded() {
		t.Fatal("expected degraded adapter")
	}
	if got := a.Synthesize(context.Background(), "你好", DefaultVoice()); string(got) != "placeholder" {
		t.Fatalf("expected placeholder, got %q", got)
	}
	if got := a.Synthesize(context.Background(), " ", DefaultVoice()); len(got) != 0 {
		t.Fatalf("expected empty payload for blank text, got %q", got)
	}
}

func TestAdapterCachesEngineOutput(t *testing.T) {
	synth := &fakeSynth{audio: []byte("wav")}
	cache := &memoryCache{items: map[string][]byte{}}
	a := NewAdapter(synth, placeholder, cache, discardLogger())

	voice := VoiceParameters{Speed: 1.0, VoiceID: 1}
	first := a.Synthesize(context.Background(), "重复的句子", voice)
	second := a.Synthesize(context.Background(), "重复的句子", voice)
	if string(first) != "wav" || string(second) != "wav" {
		t.Fatalf("unexpected audio %q %q", first, second)
	}
	if len(synth.calls) != 1 {
		t.Fatalf("expected second call served from cache, got %d engine calls", len(synth.calls))
	}
	if _, ok := cache.items[CacheKey("重复的句子", voice)]; !ok {
		t.Fatal("expected cache entry")
	}
}

func TestAdapterNeverCachesPlaceholder(t *testing.T) {
	cache := &memoryCache{items: map[string][]byte{}}
	a := NewAdapter(&fakeSynth{err: errors.New("down")}, placeholder, cache, discardLogger())
	a.Synthesize(context.Background(), "句子", DefaultVoice())
	if len(cache.items) != 0 {
		t.Fatalf("placeholder must not be cached, got %d entries", len(cache.items))
	}
}

func TestCacheKeyDependsOnVoice(t *testing.T) {
	a := CacheKey("句子", VoiceParameters{Speed: 1, VoiceID: 0})
	b := CacheKey("句子", VoiceParameters{Speed: 1, VoiceID: 1})
	c := CacheKey("句子", VoiceParameters{Speed: 1.5, VoiceID: 0})
	if a == b || a == c || b == c {
		t.Fatal("expected distinct keys per voice setting")
	}
}
