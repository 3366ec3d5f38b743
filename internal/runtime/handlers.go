package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/cache"
	"github.com/loqalabs/loqa-avatar/internal/capability"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/eventstore"
	"github.com/loqalabs/loqa-avatar/internal/stream"
	"github.com/loqalabs/loqa-avatar/internal/tts"
)

const defaultEventLimit = 500

type errorBody struct {
	Detail string `json:"detail"`
}

// streamBody is the /eb_stream request. Voice fields stay raw because clients
// send numbers, numeric strings, null or nothing.
type streamBody struct {
	InputMode  string          `json:"input_mode"`
	Prompt     string          `json:"prompt"`
	Audio      string          `json:"audio"`
	VoiceSpeed json.RawMessage `json:"voice_speed"`
	VoiceID    json.RawMessage `json:"voice_id"`
}

// api holds what the HTTP handlers need. Optional collaborators are nil when
// disabled.
type api struct {
	cfg      config.Config
	log      *slog.Logger
	streams  *stream.Orchestrator
	registry *capability.Registry
	store    *eventstore.Store
	bus      *bus.Client
	cache    *cache.AudioCache
	metrics  http.Handler
	ready    func() bool
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.log))
	r.Use(middleware.Recoverer)
	r.Use(cors(a.cfg.HTTP.CORSOrigins))

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	r.Get("/capabilities", a.handleCapabilities)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Group(func(r chi.Router) {
		if a.cfg.HTTP.RateLimitRPS > 0 {
			r.Use(newRateLimiter(a.cfg.HTTP.RateLimitRPS, a.cfg.HTTP.RateLimitBurst).middleware)
		}
		r.Post("/eb_stream", a.handleStream)
		r.Post("/process_audio", a.handleProcessAudio)
		r.Get("/sessions/{id}/events", a.handleSessionEvents)
	})
	return r
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	if a.ready != nil && !a.ready() {
		checks["runtime"] = "starting"
	}
	if a.store != nil {
		if err := a.store.Ping(r.Context()); err != nil {
			checks["event_store"] = "unhealthy: " + err.Error()
		} else {
			checks["event_store"] = "ok"
		}
	}
	if a.cfg.Bus.Enabled {
		if a.bus.Healthy() {
			checks["bus"] = "ok"
		} else {
			checks["bus"] = "disconnected"
		}
	}
	if a.cache != nil {
		if err := a.cache.Ping(r.Context()); err != nil {
			checks["cache"] = "unhealthy: " + err.Error()
		} else {
			checks["cache"] = "ok"
		}
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}
	body := map[string]any{"status": statusStr(status), "checks": checks}
	if a.registry != nil {
		body["collaborators"] = a.registry.Statuses()
	}
	writeJSON(w, status, body)
}

func (a *api) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"live_text": a.streams.LiveText()}
	if a.registry != nil {
		body["descriptor"] = a.registry.Descriptor()
		body["collaborators"] = a.registry.Statuses()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) handleStream(w http.ResponseWriter, r *http.Request) {
	if a.cfg.HTTP.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.HTTP.MaxBodyBytes)
	}
	var body streamBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid JSON body"})
		return
	}
	a.openAndStream(w, r, stream.Request{
		InputMode: body.InputMode,
		Prompt:    body.Prompt,
		Audio:     body.Audio,
		Voice:     tts.NormalizeVoice(body.VoiceSpeed, body.VoiceID),
	})
}

func (a *api) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	limit := a.cfg.HTTP.MaxBodyBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "failed to read uploaded file"})
		return
	}
	a.openAndStream(w, r, stream.Request{
		InputMode:  string(stream.ModeAudio),
		AudioBytes: audio,
		Voice:      tts.DefaultVoice(),
	})
}

// openAndStream answers setup failures with a JSON error and otherwise
// commits to a 200 NDJSON response.
func (a *api) openAndStream(w http.ResponseWriter, r *http.Request, req stream.Request) {
	session, err := a.streams.Open(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrInvalidInputMode),
			errors.Is(err, stream.ErrMissingPrompt),
			errors.Is(err, stream.ErrInvalidAudio):
			writeJSON(w, http.StatusBadRequest, errorBody{Detail: err.Error()})
		default:
			a.log.Error("failed to open stream", slog.String("request_id", middleware.GetReqID(r.Context())), slogError(err))
			detail := "failed to start stream"
			if a.cfg.HTTP.ExposeErrors {
				detail = err.Error()
			}
			writeJSON(w, http.StatusInternalServerError, errorBody{Detail: detail})
		}
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Session-ID", session.ID)
	w.WriteHeader(http.StatusOK)

	if err := session.Run(r.Context(), stream.NewEmitter(w)); err != nil {
		a.log.Debug("stream ended with error", slog.String("session_id", session.ID), slogError(err))
	}
}

func (a *api) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if a.store == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "session journal disabled"})
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Detail: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	session, err := a.store.GetSession(r.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "session not found"})
		return
	}
	if err != nil {
		a.log.Error("failed to load session", slog.String("session_id", id), slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "failed to load session"})
		return
	}
	events, err := a.store.ListSessionEvents(r.Context(), id, limit)
	if err != nil {
		a.log.Error("failed to list session events", slog.String("session_id", id), slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "failed to list session events"})
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":      session,
		"events":       events,
		"retrieved_at": time.Now().UTC(),
	})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unavailable"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
