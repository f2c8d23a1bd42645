package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/goop/internal/logging"
	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/stream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the session control surface served over HTTP.
type Engine interface {
	Start(ctx context.Context, sessionID, text string, opts runtime.SessionOptions) iter.Seq2[domain.OutputEvent, error]
	Send(ctx context.Context, sessionID, text string) iter.Seq2[domain.OutputEvent, error]
	Continue(ctx context.Context, sessionID string) iter.Seq2[domain.OutputEvent, error]
	Resume(ctx context.Context, sessionID string, res domain.ReviewResolution) iter.Seq2[domain.OutputEvent, error]
	PendingReview(ctx context.Context, sessionID string) (*domain.ReviewRequest, error)
	Inspect(ctx context.Context, sessionID string) (*domain.Checkpoint, error)
	Sessions(ctx context.Context) ([]string, error)
	EndSession(ctx context.Context, sessionID string) error
}

// Server serves an Engine.
type Server struct {
	Engine  Engine
	Streams *StreamManager
	version string
	metrics prometheus.Gatherer
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = strings.TrimSpace(v)
	}
}

// WithMetrics exposes g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = g
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStreams shares a StreamManager, typically the one fed by the engine hooks.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// NewServer creates the server.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		Engine:  engine,
		Streams: NewStreamManager(nil),
		version: "dev",
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	return NewServer(engine, opts...).Handler()
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/graph", s.GetGraph)
	r.Get("/events", s.SubscribeEvents)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.StartSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.InspectSession)
			r.Delete("/", s.EndSession)
			r.Post("/messages", s.SendMessage)
			r.Post("/continue", s.ContinueSession)
			r.Get("/review", s.GetReview)
			r.Post("/resume", s.ResumeSession)
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// StartRequest is the body of POST /sessions.
type StartRequest struct {
	SessionID        string   `json:"session_id,omitempty"`
	Message          string   `json:"message"`
	AutoApprove      bool     `json:"auto_approve,omitempty"`
	ProtectedActions []string `json:"protected_actions,omitempty"`
}

// MessageRequest is the body of POST /sessions/{id}/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// ResumeRequest is the body of POST /sessions/{id}/resume.
type ResumeRequest struct {
	Action string `json:"action"`
	Data   string `json:"data,omitempty"`
}

// Line is one NDJSON line of a streamed run.
type Line struct {
	Type      string                `json:"type"` // fragment, error or done
	Text      string                `json:"text,omitempty"`
	Error     string                `json:"error,omitempty"`
	Code      string                `json:"code,omitempty"`
	SessionID string                `json:"session_id,omitempty"`
	Status    domain.Status         `json:"status,omitempty"`
	Next      domain.NodeID         `json:"next,omitempty"`
	Review    *domain.ReviewRequest `json:"review,omitempty"`
}

// StartSession handles POST /sessions.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if !decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}
	if body.SessionID == "" {
		body.SessionID = uuid.NewString()
	}
	opts := runtime.SessionOptions{AutoApprove: body.AutoApprove, ProtectedActions: body.ProtectedActions}
	s.streamRun(w, r, body.SessionID, s.Engine.Start(r.Context(), body.SessionID, body.Message, opts))
}

// SendMessage handles POST /sessions/{id}/messages.
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	var body MessageRequest
	if !decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}
	id := chi.URLParam(r, "sessionID")
	s.streamRun(w, r, id, s.Engine.Send(r.Context(), id, body.Message))
}

// ContinueSession handles POST /sessions/{id}/continue.
func (s *Server) ContinueSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s.streamRun(w, r, id, s.Engine.Continue(r.Context(), id))
}

// ResumeSession handles POST /sessions/{id}/resume.
func (s *Server) ResumeSession(w http.ResponseWriter, r *http.Request) {
	var body ResumeRequest
	if !decode(w, r, &body) {
		return
	}
	id := chi.URLParam(r, "sessionID")
	res := domain.ReviewResolution{Action: domain.ParseReviewAction(body.Action), Data: body.Data}
	s.streamRun(w, r, id, s.Engine.Resume(r.Context(), id, res))
}

// GetReview handles GET /sessions/{id}/review. 204 means nothing is pending.
func (s *Server) GetReview(w http.ResponseWriter, r *http.Request) {
	req, err := s.Engine.PendingReview(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if req == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// InspectSession handles GET /sessions/{id}.
func (s *Server) InspectSession(w http.ResponseWriter, r *http.Request) {
	cp, err := s.Engine.Inspect(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Sessions(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

// EndSession handles DELETE /sessions/{id}.
func (s *Server) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.EndSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetGraph handles the GET /graph request.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, runtime.Transitions())
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "goop",
		"version": s.version,
	})
}

// streamRun writes a run as NDJSON. Errors raised before the first event
// become a plain error response with a mapped status code.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, sessionID string, seq iter.Seq2[domain.OutputEvent, error]) {
	next, stop := iter.Pull2(stream.Fragments(seq))
	defer stop()

	frag, err, ok := next()
	if ok && err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	for ; ok; frag, err, ok = next() {
		if err != nil {
			code, _ := classify(err)
			s.logger.Warn("Run failed", "session_id", sessionID, "err", err)
			_ = enc.Encode(Line{Type: "error", Error: err.Error(), Code: code, SessionID: sessionID})
			return
		}
		if err := enc.Encode(Line{Type: "fragment", Text: frag}); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	done := Line{Type: "done", SessionID: sessionID}
	if cp, err := s.Engine.Inspect(context.WithoutCancel(r.Context()), sessionID); err == nil {
		done.Status, done.Next, done.Review = cp.Status, cp.Next, cp.PendingReview
	}
	_ = enc.Encode(done)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code, status := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "err", err)
	}
	writeError(w, status, code, err.Error())
}

// classify maps engine errors to an error code and an HTTP status.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found", http.StatusNotFound
	case errors.Is(err, domain.ErrSessionBusy):
		return "session_busy", http.StatusConflict
	case errors.Is(err, domain.ErrSessionExists):
		return "session_exists", http.StatusConflict
	case errors.Is(err, domain.ErrReviewPending):
		return "review_pending", http.StatusConflict
	case errors.Is(err, domain.ErrNoPendingReview):
		return "no_pending_review", http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition", http.StatusConflict
	case errors.Is(err, domain.ErrInvalidResolution):
		return "invalid_resolution", http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidToolCallContext):
		return "invalid_tool_call_context", http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStepLimitExceeded):
		return "step_limit_exceeded", http.StatusLoopDetected
	case errors.Is(err, domain.ErrBackendUnavailable):
		return "backend_unavailable", http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled", http.StatusServiceUnavailable
	default:
		return "internal", http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
