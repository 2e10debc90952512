package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/arclight-labs/spifmark/pkg/coherence"
	"github.com/arclight-labs/spifmark/pkg/decision"
	"github.com/arclight-labs/spifmark/pkg/equivalency"
	"github.com/arclight-labs/spifmark/pkg/identity"
	"github.com/arclight-labs/spifmark/pkg/marking"
	"github.com/arclight-labs/spifmark/pkg/observability"
	"github.com/arclight-labs/spifmark/pkg/spif"
)

const (
	defaultRateRPS   = 50
	defaultRateBurst = 100

	shutdownGrace = 10 * time.Second
)

// Server serves the marking engine's HTTP surface: marking generation,
// label validation, access decisions, and the canonical equivalency export.
type Server struct {
	loader    *spif.Loader
	generator *marking.Generator
	validator *coherence.Validator
	point     *decision.Point

	// The equivalency map is immutable for the process lifetime, so the
	// export document and its content hash are computed once.
	exportBody []byte
	exportHash string

	tokens     *identity.TokenManager
	obs        *observability.Provider
	limiter    *GlobalRateLimiter
	releasable func(code string) bool
	logger     *slog.Logger
}

// ServerOption configures optional collaborators.
type ServerOption func(*Server)

// WithTokenManager enables bearer-token subjects on the decision endpoint.
func WithTokenManager(tm *identity.TokenManager) ServerOption {
	return func(s *Server) { s.tokens = tm }
}

// WithObservability attaches the telemetry provider.
func WithObservability(p *observability.Provider) ServerOption {
	return func(s *Server) { s.obs = p }
}

// WithRateLimit overrides the default per-IP rate limit.
func WithRateLimit(rps, burst int) ServerOption {
	return func(s *Server) { s.limiter = NewGlobalRateLimiter(rps, burst) }
}

// WithReleasabilityGate restricts the releasability codes markings may
// carry. Allowlist deployments reject anything else before rendering.
func WithReleasabilityGate(allowed func(code string) bool) ServerOption {
	return func(s *Server) { s.releasable = allowed }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer wires the API around an engine. The marking generator is derived
// from the loader so markings always render against the current policy.
func NewServer(loader *spif.Loader, validator *coherence.Validator, point *decision.Point, export *equivalency.Export, opts ...ServerOption) (*Server, error) {
	if loader == nil || validator == nil || point == nil || export == nil {
		return nil, errors.New("api: loader, validator, point, and export are required")
	}

	body, hash, err := export.Canonical()
	if err != nil {
		return nil, fmt.Errorf("canonicalize equivalency export: %w", err)
	}

	s := &Server{
		loader:     loader,
		generator:  marking.NewGenerator(loader),
		validator:  validator,
		point:      point,
		exportBody: body,
		exportHash: hash,
		logger:     slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewGlobalRateLimiter(defaultRateRPS, defaultRateBurst)
	}
	return s, nil
}

// Handler returns the routed, rate-limited, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/markings", s.handleMarkings)
	mux.HandleFunc("/v1/labels/validate", s.handleValidate)
	mux.HandleFunc("/v1/decisions", s.handleDecisions)
	mux.HandleFunc("/v1/equivalency", s.handleEquivalency)
	mux.HandleFunc("/healthz", s.handleHealthz)

	var h http.Handler = mux
	h = s.instrument(h)
	h = s.limiter.Middleware(h)
	return h
}

// ListenAndServe serves until ctx is canceled, then drains connections.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("api listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// instrument wraps the handler in a span plus RED metrics per request.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.obs == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, finish := s.obs.TrackOperation(r.Context(), "http "+r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status >= http.StatusInternalServerError {
			finish(fmt.Errorf("http %d", rec.status))
			return
		}
		finish(nil)
	})
}

func (s *Server) recordMarking(ctx context.Context) {
	if s.obs != nil {
		s.obs.RecordMarkingGenerated(ctx)
	}
}

func (s *Server) recordViolations(ctx context.Context, n int64) {
	if s.obs != nil {
		s.obs.RecordCoherenceViolations(ctx, n)
	}
}
