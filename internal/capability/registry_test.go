package capability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-avatar/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProbeDefaults(t *testing.T) {
	cfg := config.Default()
	reg, err := Probe(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	desc := reg.Descriptor()
	if desc.LiveText || desc.Synthesis {
		t.Fatalf("expected llm and tts unavailable by default, got %+v", desc)
	}
	if !desc.Recognition {
		t.Fatalf("expected mock recognizer available, got %+v", desc)
	}
	if reg.Generator() != nil || reg.Synthesizer() != nil {
		t.Fatal("expected nil collaborators when disabled")
	}
	status, ok := reg.Status(NameLLM)
	if !ok || status.Available || status.Reason != "disabled" {
		t.Fatalf("unexpected llm status %+v", status)
	}
	if len(reg.Statuses()) != 3 {
		t.Fatalf("expected three statuses, got %d", len(reg.Statuses()))
	}
}

func TestProbeMockBackends(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Enabled = true
	cfg.TTS.Enabled = true
	reg, err := Probe(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	desc := reg.Descriptor()
	if !desc.LiveText || !desc.Synthesis || !desc.Recognition {
		t.Fatalf("expected everything available, got %+v", desc)
	}
}

func TestProbeMissingBinaries(t *testing.T) {
	cfg := config.Default()
	cfg.STT.Mode = "exec"
	cfg.STT.Command = "definitely-missing-stt-binary"
	cfg.TTS.Enabled = true
	cfg.TTS.Mode = "exec"
	cfg.TTS.Command = "definitely-missing-tts-binary --voice 1"

	reg, err := Probe(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	desc := reg.Descriptor()
	if desc.Synthesis || desc.Recognition {
		t.Fatalf("expected exec backends unavailable, got %+v", desc)
	}
	if reg.Recognizer() == nil {
		t.Fatal("expected canned recognizer fallback")
	}
	res, err := reg.Recognizer().Transcribe(context.Background(), nil)
	if err != nil || res.Text != cfg.STT.MockText {
		t.Fatalf("expected canned acknowledgement, got %q err=%v", res.Text, err)
	}
	status, _ := reg.Status(NameTTS)
	if !strings.Contains(status.Reason, "not found") {
		t.Fatalf("expected not found reason, got %q", status.Reason)
	}
}

func TestProbeOllama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"version":"0.5.0"}`)
	}))
	cfg := config.Default()
	cfg.LLM.Enabled = true
	cfg.LLM.Mode = "ollama"
	cfg.LLM.Endpoint = server.URL

	reg, err := Probe(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if !reg.Descriptor().LiveText {
		t.Fatal("expected reachable ollama to be available")
	}

	server.Close()
	reg, err = Probe(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if reg.Descriptor().LiveText {
		t.Fatal("expected unreachable ollama to fall back")
	}
}
