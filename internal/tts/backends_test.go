package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/wavutil"
)

func TestMockSynthScalesWithSpeed(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	slow, err := synth.Synthesize(context.Background(), Request{Text: "你好世界", Speed: 1})
	if err != nil {
		t.Fatal(err)
	}
	fast, err := synth.Synthesize(context.Background(), Request{Text: "你好世界", Speed: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !wavutil.IsWAV(slow) || !wavutil.IsWAV(fast) {
		t.Fatal("expected wav payloads")
	}
	if len(fast) >= len(slow) {
		t.Fatalf("expected faster speech to be shorter: %d >= %d", len(fast), len(slow))
	}
}

func TestExecSynth(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "synth.sh")
	body := "#!/bin/sh\ncat > /dev/null\necho '{\"pcm_base64\":\"AAABAA==\"}'\necho '{\"pcm_base64\":\"AgADAA==\",\"final\":true}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	synth, err := NewExecSynth("sh "+script, 16000, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	if err := synth.(Prober).Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	audio, err := synth.Synthesize(context.Background(), Request{Text: "你好", Speed: 1})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !wavutil.IsWAV(audio) || len(audio) != 44+8 {
		t.Fatalf("unexpected wav payload of %d bytes", len(audio))
	}
}

func TestExecSynthProbeMissingBinary(t *testing.T) {
	synth, err := NewExecSynth("definitely-not-a-real-binary-xyz --flag", 16000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := synth.(Prober).Probe(context.Background()); err == nil {
		t.Fatal("expected probe failure")
	}
}

func TestOpenAISynth(t *testing.T) {
	wav, err := wavutil.Silence(100*time.Millisecond, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Model          string  `json:"model"`
		Input          string  `json:"input"`
		Voice          string  `json:"voice"`
		ResponseFormat string  `json:"response_format"`
		Speed          float64 `json:"speed"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
	defer server.Close()

	synth := NewOpenAISynth("sk-test", server.URL+"/v1", "tts-1", []string{"alloy", "nova"})
	audio, err := synth.Synthesize(context.Background(), Request{Text: "你好", Speed: 9, VoiceID: 1})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(audio) != len(wav) {
		t.Fatalf("expected %d bytes, got %d", len(wav), len(audio))
	}
	if got.Voice != "nova" || got.Input != "你好" || got.ResponseFormat != "wav" || got.Speed != 4 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestFromConfig(t *testing.T) {
	synth, err := FromConfig(config.TTSConfig{Enabled: false})
	if err != nil || synth != nil {
		t.Fatalf("expected nil synthesizer when disabled, got %v %v", synth, err)
	}
	if _, err := FromConfig(config.TTSConfig{Enabled: true, Mode: "bogus"}); err == nil {
		t.Fatal("expected unsupported mode error")
	}
	synth, err = FromConfig(config.TTSConfig{Enabled: true, Mode: "mock", SampleRate: 16000, Channels: 1})
	if err != nil || synth == nil {
		t.Fatalf("expected mock synthesizer, got %v", err)
	}
}

func TestLoadPlaceholder(t *testing.T) {
	dir := t.TempDir()
	wav, _ := wavutil.Silence(50*time.Millisecond, 16000, 1)
	good := filepath.Join(dir, "test.wav")
	if err := os.WriteFile(good, wav, 0o644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.wav")
	if err := os.WriteFile(bad, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := LoadPlaceholder(good, 16000, 1, discardLogger())
	if err != nil || len(data) != len(wav) {
		t.Fatalf("expected file contents, got %d bytes err=%v", len(data), err)
	}
	for _, path := range []string{bad, filepath.Join(dir, "missing.wav"), ""} {
		data, err := LoadPlaceholder(path, 16000, 1, discardLogger())
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", path, err)
		}
		if !wavutil.IsWAV(data) {
			t.Fatalf("expected generated silence for %q", path)
		}
	}
}
