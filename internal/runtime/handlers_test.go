package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/eventstore"
	"github.com/loqalabs/loqa-avatar/internal/natsserver"
	"github.com/loqalabs/loqa-avatar/internal/protocol"
	"github.com/loqalabs/loqa-avatar/internal/stream"
	"github.com/loqalabs/loqa-avatar/internal/stt"
	"github.com/loqalabs/loqa-avatar/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type failingRecognizer struct{}

func (failingRecognizer) Transcribe(context.Context, []byte) (stt.TranscriptResult, error) {
	return stt.TranscriptResult{}, errors.New("asr backend down")
}

type fixture struct {
	api     *api
	handler http.Handler
	store   *eventstore.Store
	journal *journal
}

type fixtureOptions struct {
	recognizer stt.Recognizer
	bus        *bus.Client
	expose     bool
	rps        float64
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	log := newLogger()
	cfg := config.Default()
	cfg.HTTP.ExposeErrors = opts.expose
	cfg.HTTP.RateLimitRPS = opts.rps
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "journal.db")

	store, err := eventstore.Open(context.Background(), cfg.EventStore, log)
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	placeholder, err := tts.LoadPlaceholder("", 16000, 1, log)
	if err != nil {
		t.Fatal(err)
	}
	recognizer := opts.recognizer
	if recognizer == nil {
		recognizer = stt.NewMockRecognizer(cfg.STT.MockText)
	}
	j := newJournal(store, opts.bus, log)
	t.Cleanup(j.Close)
	streams := stream.New(stream.Dependencies{
		Recognizer: recognizer,
		Speech:     tts.NewAdapter(tts.NewMockSynth(16000, 1), placeholder, nil, log),
		Sink:       j,
		Logger:     log,
	}, stream.OptionsFromConfig(cfg))

	a := &api{cfg: cfg, log: log, streams: streams, store: store, bus: opts.bus, ready: func() bool { return true }}
	return &fixture{api: a, handler: a.routes(), store: store, journal: j}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type wireLine struct {
	Prompt   *string `json:"prompt"`
	Text     string  `json:"text"`
	Audio    string  `json:"audio"`
	Endpoint bool    `json:"endpoint"`
}

func readLines(t *testing.T, body []byte) []wireLine {
	t.Helper()
	var lines []wireLine
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		var l wireLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return lines
}

func assertSingleTerminal(t *testing.T, lines []wireLine) {
	t.Helper()
	if len(lines) == 0 {
		t.Fatal("expected at least one line")
	}
	endpoints := 0
	for _, l := range lines {
		if l.Endpoint {
			endpoints++
		}
	}
	if endpoints != 1 || !lines[len(lines)-1].Endpoint {
		t.Fatalf("expected exactly one terminal chunk at the end, got %+v", lines)
	}
}

func TestStreamTextModeWithCannedAnswer(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	rec := f.do(t, postJSON("/eb_stream", `{"input_mode":"text","prompt":"你好","voice_speed":"1.5","voice_id":2}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}
	sessionID := rec.Header().Get("X-Session-ID")
	if sessionID == "" {
		t.Fatal("missing X-Session-ID header")
	}

	lines := readLines(t, rec.Body.Bytes())
	assertSingleTerminal(t, lines)
	if lines[0].Prompt != nil {
		t.Fatal("text mode must not echo the prompt")
	}
	for _, l := range lines {
		audio, err := base64.StdEncoding.DecodeString(l.Audio)
		if err != nil || !bytes.HasPrefix(audio, []byte("RIFF")) {
			t.Fatalf("expected wav audio for %q", l.Text)
		}
	}

	if err := f.journal.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev := f.do(t, httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/events", nil))
	if ev.Code != http.StatusOK {
		t.Fatalf("unexpected events status %d", ev.Code)
	}
	var journal struct {
		Session eventstore.Session `json:"session"`
		Events  []eventstore.Event `json:"events"`
	}
	if err := json.Unmarshal(ev.Body.Bytes(), &journal); err != nil {
		t.Fatal(err)
	}
	if journal.Session.State != "DONE" || journal.Session.Prompt != "你好" || journal.Session.InputMode != "text" {
		t.Fatalf("unexpected session %+v", journal.Session)
	}
	if len(journal.Events) != len(lines) {
		t.Fatalf("expected %d journaled chunks, got %d", len(lines), len(journal.Events))
	}
	for i, e := range journal.Events {
		if e.Sequence != i || e.Text != lines[i].Text || e.Endpoint != lines[i].Endpoint {
			t.Fatalf("event %d does not match line: %+v", i, e)
		}
	}
}

func TestStreamAudioModeEchoesTranscript(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	audio := base64.StdEncoding.EncodeToString([]byte("fake-audio"))
	rec := f.do(t, postJSON("/eb_stream", `{"input_mode":"audio","audio":"`+audio+`"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	lines := readLines(t, rec.Body.Bytes())
	if lines[0].Prompt == nil || *lines[0].Prompt != config.Default().STT.MockText {
		t.Fatalf("expected prompt line first, got %+v", lines[0])
	}
	assertSingleTerminal(t, lines[1:])
}

func TestStreamRejectsBadRequests(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	tests := []struct {
		name string
		body string
	}{
		{name: "bad mode", body: `{"input_mode":"video","prompt":"hi"}`},
		{name: "missing mode", body: `{"prompt":"hi"}`},
		{name: "malformed json", body: `{"input_mode":`},
		{name: "missing prompt", body: `{"input_mode":"text"}`},
		{name: "blank prompt", body: `{"input_mode":"text","prompt":"   "}`},
		{name: "bad audio", body: `{"input_mode":"audio","audio":"%%%"}`},
		{name: "empty audio", body: `{"input_mode":"audio","audio":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, postJSON("/eb_stream", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Detail == "" {
				t.Fatalf("expected detail, got %s", rec.Body.String())
			}
			if rec.Header().Get("X-Session-ID") != "" {
				t.Fatal("rejected request must not start a session")
			}
		})
	}
}

func TestStreamRecognizerFailure(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("fake-audio"))
	body := `{"input_mode":"audio","audio":"` + audio + `"}`

	f := newFixture(t, fixtureOptions{recognizer: failingRecognizer{}})
	rec := f.do(t, postJSON("/eb_stream", body))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "asr backend down") {
		t.Fatal("raw error leaked without expose_errors")
	}

	f = newFixture(t, fixtureOptions{recognizer: failingRecognizer{}, expose: true})
	rec = f.do(t, postJSON("/eb_stream", body))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "asr backend down") {
		t.Fatalf("expected exposed error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestProcessAudioUpload(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "clip.webm")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("recorded-bytes"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/process_audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := f.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	lines := readLines(t, rec.Body.Bytes())
	if lines[0].Prompt == nil {
		t.Fatal("expected prompt line first")
	}
	assertSingleTerminal(t, lines[1:])
}

func TestProcessAudioRequiresFile(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "x")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/process_audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if rec := f.do(t, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthReadyAndCapabilities(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	if rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"event_store":"ok"`) {
		t.Fatalf("readyz: %d %s", rec.Code, rec.Body.String())
	}

	f.api.ready = func() bool { return false }
	if rec := f.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while starting, got %d", rec.Code)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/capabilities", nil))
	var caps map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &caps); err != nil {
		t.Fatal(err)
	}
	if caps["live_text"] != false {
		t.Fatalf("unexpected capabilities %v", caps)
	}
}

func TestSessionEventsNotFound(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	if rec := f.do(t, httptest.NewRequest(http.MethodGet, "/sessions/nope/events", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := f.do(t, httptest.NewRequest(http.MethodGet, "/sessions/nope/events?limit=x", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	req := httptest.NewRequest(http.MethodOptions, "/eb_stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := f.do(t, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRateLimitedStream(t *testing.T) {
	f := newFixture(t, fixtureOptions{rps: 0.001})
	f.api.cfg.HTTP.RateLimitBurst = 1
	f.handler = f.api.routes()

	if rec := f.do(t, postJSON("/eb_stream", `{"input_mode":"text","prompt":"一"}`)); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := f.do(t, postJSON("/eb_stream", `{"input_mode":"text","prompt":"二"}`))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	rl := newRateLimiter(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("10.0.0.1") {
		t.Fatal("first request must pass")
	}
	if rl.allow("10.0.0.1") {
		t.Fatal("burst exhausted")
	}
	if !rl.allow("10.0.0.2") {
		t.Fatal("limits are per client")
	}

	now = now.Add(10 * time.Minute)
	rl.sweep()
	if len(rl.visitors) != 0 {
		t.Fatalf("expected idle clients swept, got %d", len(rl.visitors))
	}
}

func TestJournalPublishesToBus(t *testing.T) {
	log := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	transcripts, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatal(err)
	}
	finished, err := client.Conn().SubscribeSync(protocol.SubjectStreamFinished)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, fixtureOptions{bus: client})
	audio := base64.StdEncoding.EncodeToString([]byte("fake-audio"))
	rec := f.do(t, postJSON("/eb_stream", `{"input_mode":"audio","audio":"`+audio+`"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	msg, err := transcripts.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	var tr protocol.Transcript
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		t.Fatal(err)
	}
	if tr.Text != config.Default().STT.MockText || tr.SessionID != rec.Header().Get("X-Session-ID") {
		t.Fatalf("unexpected transcript %+v", tr)
	}

	msg, err = finished.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("finished: %v", err)
	}
	var fin protocol.StreamFinished
	if err := json.Unmarshal(msg.Data, &fin); err != nil {
		t.Fatal(err)
	}
	if fin.State != "DONE" || fin.Lines != len(readLines(t, rec.Body.Bytes())) {
		t.Fatalf("unexpected finished message %+v", fin)
	}
}
