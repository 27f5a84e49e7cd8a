package apiserver

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coldbell/tradelens/backend/internal/analytics"
	"github.com/coldbell/tradelens/backend/internal/config"
	"github.com/coldbell/tradelens/backend/internal/indexer"
	"github.com/coldbell/tradelens/backend/internal/metrics"
	"github.com/coldbell/tradelens/backend/internal/ratelimit"
	"github.com/coldbell/tradelens/backend/internal/registry"
	"github.com/coldbell/tradelens/backend/internal/store"
	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/prometheus/client_golang/prometheus"
)

// Backend is the part of the indexer the HTTP layer drives.
type Backend interface {
	Sync(ctx context.Context, wallet string) (indexer.SyncResult, error)
	Analytics(ctx context.Context, wallet string, filter indexer.AnalyticsFilter) (analytics.Bundle, error)
	Trades(ctx context.Context, wallet string, filter trade.Filter) ([]trade.Fill, error)
	SyncStatus(ctx context.Context, wallet string) (store.SyncStatus, error)
	Sessions(ctx context.Context, wallet string, limit, offset int) ([]analytics.SessionDay, error)
	Instruments() []registry.Instrument
	Subscribe(wallet string) (<-chan indexer.SyncEvent, func())
}

var _ Backend = (*indexer.Service)(nil)

type Deps struct {
	Backend  Backend
	Limiter  ratelimit.Limiter
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

type Service struct {
	cfg              config.APIServerConfig
	logger           *slog.Logger
	backend          Backend
	limiter          ratelimit.Limiter
	metrics          *metrics.Metrics
	registry         *prometheus.Registry
	now              func() time.Time
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

func New(cfg config.APIServerConfig, deps Deps, logger *slog.Logger) (*Service, error) {
	if deps.Backend == nil {
		return nil, errors.New("init api-server: backend is required")
	}
	if deps.Limiter == nil {
		return nil, errors.New("init api-server: rate limiter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 45 * time.Second
	}

	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}

	return &Service{
		cfg:              cfg,
		logger:           logger,
		backend:          deps.Backend,
		limiter:          deps.Limiter,
		metrics:          deps.Metrics,
		registry:         deps.Registry,
		now:              time.Now,
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}, nil
}

// Handler is the full route table with CORS and request metrics applied.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", metrics.Handler(s.registry))
	}
	mux.HandleFunc("/api/v1/sync", s.handleSync)
	mux.HandleFunc("/api/v1/sync-status", s.handleSyncStatus)
	mux.HandleFunc("/api/v1/analytics", s.handleAnalytics)
	mux.HandleFunc("/api/v1/trades", s.handleTrades)
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/instruments", s.handleInstruments)
	if s.cfg.AdminToken != "" {
		mux.Handle("/api/v1/admin/rate-limit", s.requireAdmin(http.HandlerFunc(s.handleRateLimitAdmin)))
	}
	mux.HandleFunc("/api/v1/ws/analytics", s.handleAnalyticsWebsocket)

	return s.withMetrics(s.withCORS(mux))
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		closer, ok := s.backend.(io.Closer)
		if !ok {
			return
		}
		if err := closer.Close(); err != nil {
			s.logger.Error("failed to close backend", "err", err)
		}
	}()

	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"db_driver", "postgres",
		"rate_limit_backend", s.cfg.RateLimit.Backend,
		"admin_routes", s.cfg.AdminToken != "",
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api-server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" && s.isOriginAllowed(origin) {
			if s.allowAllOrigins {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
			w.Header().Set("Access-Control-Max-Age", "300")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) isOriginAllowed(origin string) bool {
	if origin == "" || s.allowAllOrigins {
		return true
	}
	_, ok := s.allowedOriginSet[origin]
	return ok
}

// requireAdmin admits requests carrying "Authorization: Bearer <API_ADMIN_TOKEN>".
func (s *Service) requireAdmin(next http.Handler) http.Handler {
	expected := []byte(s.cfg.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			s.respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), expected) != 1 {
			s.logger.Warn("admin request rejected", "path", r.URL.Path, "client", clientAddr(r))
			s.respondError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) withMetrics(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		s.metrics.ObserveRequest(r.Method, path, strconv.Itoa(recorder.status), time.Since(started))
	})
}

// statusRecorder keeps the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// respondFailure maps the error taxonomy onto HTTP status codes.
func (s *Service) respondFailure(w http.ResponseWriter, op string, err error) {
	var limited *trade.RateLimitedError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.FormatInt(limited.RetryAfterSeconds, 10))
		s.respondJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:             "rate limit exceeded",
			RetryAfterSeconds: limited.RetryAfterSeconds,
		})
	case errors.Is(err, trade.ErrInvalidArgument):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, trade.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, trade.ErrUpstreamUnavailable):
		s.logger.Warn(op+" failed", "err", err)
		s.respondError(w, http.StatusServiceUnavailable, "upstream unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn(op+" timed out", "err", err)
		s.respondError(w, http.StatusServiceUnavailable, "upstream unavailable")
	default:
		s.logger.Error(op+" failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseOptionalUint32(r *http.Request, key string) (*uint32, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	out := uint32(value)
	return &out, nil
}

// parseOptionalDate accepts RFC 3339 or a bare YYYY-MM-DD. A bare end date
// covers the whole day.
func parseOptionalDate(r *http.Request, key string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	if value, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		value = value.UTC()
		return &value, nil
	}
	value, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC 3339 or YYYY-MM-DD", key)
	}
	if endOfDay {
		value = value.Add(24*time.Hour - time.Millisecond)
	}
	return &value, nil
}

func decodeJSONBody(r *http.Request, destination any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		return fmt.Errorf("invalid request body: multiple JSON values")
	}
	return nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
