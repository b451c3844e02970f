// Package gateway exposes the HTTP surface of the daemon: health, credential
// pool status, manual rotation, and the rotation audit trail. Rotation
// decisions live in internal/rotation; this package only translates HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/clawgate/internal/config"
	otelPkg "github.com/basket/clawgate/internal/otel"
	"github.com/basket/clawgate/internal/persistence"
	"github.com/basket/clawgate/internal/rotation"
)

// Config holds the dependencies for the gateway Server.
type Config struct {
	Manager *rotation.Manager
	Store   *persistence.Store

	Auth      config.AuthConfig
	RateLimit config.RateLimitConfig

	Version string
	Logger  *slog.Logger
	Metrics *otelPkg.Metrics
	Tracer  trace.Tracer
}

// Server serves the gateway API. Construct with New, mount via Handler.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	auth      *AuthMiddleware
	rateLimit *RateLimitMiddleware
	startedAt time.Time
}

// New creates a gateway Server from config.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		auth:      NewAuthMiddleware(cfg.Auth),
		rateLimit: NewRateLimitMiddleware(cfg.RateLimit, cfg.Metrics),
		startedAt: time.Now(),
	}
}

// StartEviction forwards to the rate limiter's bucket eviction loop.
func (s *Server) StartEviction(ctx context.Context, interval, maxAge time.Duration) {
	s.rateLimit.StartEviction(ctx, interval, maxAge)
}

// Handler builds the full middleware chain around the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/keys/status", s.handleKeyStatus)
	mux.HandleFunc("/v1/keys/rotate", s.handleKeyRotate)
	mux.HandleFunc("/v1/keys/events", s.handleKeyEvents)

	var h http.Handler = mux
	h = s.auth.Wrap(h)
	h = s.rateLimit.Wrap(h)
	h = s.observe(h)
	return h
}

// observe assigns a request ID, logs the request, and records the duration
// histogram. Outermost so rejected requests are still visible.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		ctx := r.Context()
		if s.cfg.Tracer != nil {
			var span trace.Span
			ctx, span = s.cfg.Tracer.Start(ctx, "gateway.request")
			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			)
			defer span.End()
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", requestID,
		)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
					attribute.Int("status", rec.status),
				))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.cfg.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// keyStatusResponse is the GET /v1/keys/status payload. Disabled pools carry
// a message instead of the snapshot fields.
type keyStatusResponse struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
	// Embedded pointer so a disabled pool omits the snapshot fields entirely.
	*rotation.Status
}

func (s *Server) handleKeyStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := s.keyStatus()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) keyStatus() keyStatusResponse {
	if s.cfg.Manager == nil {
		return keyStatusResponse{Message: "credential rotation not configured"}
	}
	st := s.cfg.Manager.Status()
	if st.TotalCredentials == 0 {
		return keyStatusResponse{Message: "credential rotation not configured"}
	}
	return keyStatusResponse{Enabled: true, Status: &st}
}

func (s *Server) handleKeyRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.Manager == nil {
		writeError(w, http.StatusBadRequest, "credential rotation not configured")
		return
	}
	if !s.cfg.Manager.Rotate(r.Context()) {
		writeError(w, http.StatusBadRequest, "no credentials configured")
		return
	}
	s.cfg.Manager.ApplyCurrent(r.Context())
	writeJSON(w, http.StatusOK, s.keyStatus())
}

func (s *Server) handleKeyEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.Store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.cfg.Store.RecentRotationEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list rotation events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rotation events")
		return
	}
	if events == nil {
		events = []persistence.RotationEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
