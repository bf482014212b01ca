// Package server exposes the Paperwave HTTP API: paper search, grounded chat
// streaming, and the voice session control surface, plus the operational
// endpoints (/metrics, /healthz, /readyz).
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paperwave/paperwave/internal/chat"
	"github.com/paperwave/paperwave/internal/health"
	"github.com/paperwave/paperwave/internal/library"
	"github.com/paperwave/paperwave/internal/observe"
	"github.com/paperwave/paperwave/internal/voice"
	"github.com/paperwave/paperwave/pkg/provider/llm"
)

// Server handles the Paperwave HTTP API. Construct with [New] and mount via
// [Server.Handler].
type Server struct {
	fetcher     *library.Fetcher
	agent       *chat.Agent
	voice       *voice.Manager
	voiceStream http.Handler
	health      *health.Handler
	metrics     *observe.Metrics

	defaultCount int
	maxCount     int
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithVoiceManager enables the /v1/voice control routes.
func WithVoiceManager(m *voice.Manager) Option {
	return func(s *Server) { s.voice = m }
}

// WithVoiceStream mounts h at GET /v1/voice/stream. This is the WebSocket
// endpoint the browser connects its microphone and speaker through.
func WithVoiceStream(h http.Handler) Option {
	return func(s *Server) { s.voiceStream = h }
}

// WithHealth sets the health handler mounted at /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithPaperCounts sets the default and maximum paper counts for search.
func WithPaperCounts(def, max int) Option {
	return func(s *Server) {
		s.defaultCount = def
		s.maxCount = max
	}
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server over the given paper fetcher and chat agent.
func New(fetcher *library.Fetcher, agent *chat.Agent, opts ...Option) *Server {
	s := &Server{
		fetcher:      fetcher,
		agent:        agent,
		defaultCount: 5,
		maxCount:     20,
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the fully routed handler, wrapped in the observability
// middleware. /metrics is served outside the middleware so scrapes do not
// generate spans.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/papers/search", s.handlePaperSearch)
	api.HandleFunc("POST /v1/chat", s.handleChat)
	if s.voice != nil {
		api.HandleFunc("POST /v1/voice/activate", s.handleVoiceActivate)
		api.HandleFunc("POST /v1/voice/deactivate", s.handleVoiceDeactivate)
		api.HandleFunc("POST /v1/voice/mute", s.handleVoiceMute)
		api.HandleFunc("GET /v1/voice/status", s.handleVoiceStatus)
	}
	s.health.Register(api)

	mux.Handle("/", observe.Middleware(s.metrics)(api))
	if s.voiceStream != nil {
		// Long-lived WebSocket; keep it outside the request middleware.
		mux.Handle("GET /v1/voice/stream", s.voiceStream)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ── Papers ──────────────────────────────────────────────────────────────

type paperSearchRequest struct {
	Topic string `json:"topic"`
	Count int    `json:"count,omitempty"`
}

type paperSearchResponse struct {
	Papers []library.Paper `json:"papers"`
}

func (s *Server) handlePaperSearch(w http.ResponseWriter, r *http.Request) {
	var req paperSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, errors.New("topic is required"))
		return
	}

	count := req.Count
	if count <= 0 {
		count = s.defaultCount
	}
	if count > s.maxCount {
		count = s.maxCount
	}

	start := time.Now()
	papers := s.fetcher.Search(r.Context(), req.Topic, count)
	s.metrics.PaperFetchDuration.Record(r.Context(), time.Since(start).Seconds())

	if papers == nil {
		papers = []library.Paper{}
	}
	writeJSON(w, http.StatusOK, paperSearchResponse{Papers: papers})
}

// ── Chat ────────────────────────────────────────────────────────────────

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Message   string        `json:"message"`
	History   []chatMessage `json:"history,omitempty"`
	Grounding string        `json:"grounding,omitempty"`
}

// handleChat streams the reply as chunked plain text, flushing after every
// chunk so clients can render incrementally.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	history := make([]llm.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	chunks, err := s.agent.Stream(r.Context(), history, req.Message, req.Grounding)
	if err != nil {
		s.metrics.RecordProviderError(r.Context(), "llm", "stream_start")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			// Headers are already out; log and end the body where it stands.
			slog.Warn("chat: stream failed mid-reply", "detail", chunk.Text)
			s.metrics.RecordProviderError(r.Context(), "llm", "stream")
			break
		}
		if chunk.Text == "" {
			continue
		}
		if _, err := fmt.Fprint(w, chunk.Text); err != nil {
			// Client went away; drain so the provider goroutine can exit.
			for range chunks {
			}
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	s.metrics.ChatStreamDuration.Record(r.Context(), time.Since(start).Seconds())
}

// ── Voice ───────────────────────────────────────────────────────────────

type voiceActivateRequest struct {
	// Topic, when set, fetches paper summaries and grounds the session on
	// them before connecting.
	Topic string `json:"topic,omitempty"`

	// Grounding supplies a prebuilt grounding context directly. Ignored when
	// Topic is set.
	Grounding string `json:"grounding,omitempty"`
}

type voiceStatusResponse struct {
	State string `json:"state"`
	Muted bool   `json:"muted"`

	// Error carries the cause when the session ended on its own (state
	// "failed"); activation may be re-invoked.
	Error string `json:"error,omitempty"`
}

func (s *Server) voiceStatus() voiceStatusResponse {
	resp := voiceStatusResponse{State: s.voice.Status(), Muted: s.voice.Muted()}
	if err := s.voice.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) handleVoiceActivate(w http.ResponseWriter, r *http.Request) {
	var req voiceActivateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	grounding := req.Grounding
	if req.Topic != "" {
		papers := s.fetcher.Search(r.Context(), req.Topic, s.defaultCount)
		grounding = library.Grounding(papers)
	}

	if err := s.voice.Activate(r.Context(), grounding); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.voiceStatus())
}

func (s *Server) handleVoiceDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.voice.Deactivate(); err != nil {
		// Teardown completed; report what failed along the way.
		slog.Warn("voice: teardown finished with errors", "error", err)
	}
	writeJSON(w, http.StatusOK, s.voiceStatus())
}

type voiceMuteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleVoiceMute(w http.ResponseWriter, r *http.Request) {
	var req voiceMuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.voice.SetMuted(req.Muted)
	writeJSON(w, http.StatusOK, s.voiceStatus())
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.voiceStatus())
}

// ── Helpers ─────────────────────────────────────────────────────────────

const maxRequestBody = 1 << 20 // 1 MiB

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encode response", "error", err)
	}
}
