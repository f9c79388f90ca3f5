// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/keyguard/internal/app"
	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Enrollment
	AddSample(ctx context.Context, identity string, events []model.KeyEvent) (service.SampleResult, error)
	FinishEnrollment(ctx context.Context, identity string) (service.EnrollmentResult, error)

	// Verification
	Verify(ctx context.Context, identity string, events []model.KeyEvent) (model.Verification, error)
	Extract(ctx context.Context, events []model.KeyEvent) features.Result

	// SubmitAnswer queues an answer for async verification. Returns
	// service.ErrQueueFull on backpressure.
	SubmitAnswer(ctx context.Context, sub model.Submission) (service.SubmitResult, error)

	// Read operations.
	Verification(ctx context.Context, id string) (model.Verification, error)
	Profile(ctx context.Context, identity string) (model.Profile, error)
}

const defaultMaxEvents = 20_000

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	enrollHandler  *EnrollHandler
	verifyHandler  *VerifyHandler
	answersHandler *AnswersHandler
	lookupHandler  *LookupHandler
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	maxEvents int
	logger    logger.Logger
}

// WithMaxEvents caps the number of events accepted in one request body.
func WithMaxEvents(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxEvents = n
		}
	}
}

// WithLogger sets the logger used for server-side failures.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) (*Server, error) {
	cfg := serverConfig{maxEvents: defaultMaxEvents}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named("http")
	}

	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	b := base{deps: deps, validator: v, maxEvents: cfg.maxEvents, logger: cfg.logger}

	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		enrollHandler:  &EnrollHandler{base: b},
		verifyHandler:  &VerifyHandler{base: b},
		answersHandler: &AnswersHandler{base: b},
		lookupHandler:  &LookupHandler{base: b},
	}, nil
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /enroll", MetricsMiddleware(s.enrollHandler.HandleAddSample, "enroll"))
	mux.HandleFunc("POST /enroll/finish", MetricsMiddleware(s.enrollHandler.HandleFinish, "enroll_finish"))
	mux.HandleFunc("POST /verify", MetricsMiddleware(s.verifyHandler.HandleVerify, "verify"))
	mux.HandleFunc("POST /extract", MetricsMiddleware(s.verifyHandler.HandleExtract, "extract"))
	mux.HandleFunc("POST /answers", MetricsMiddleware(s.answersHandler.HandlePostAnswer, "answers"))

	mux.HandleFunc("GET /verifications/{id}", MetricsMiddleware(s.lookupHandler.HandleGetVerification, "verifications"))
	mux.HandleFunc("GET /profiles/{identity}", MetricsMiddleware(s.lookupHandler.HandleGetProfile, "profiles"))
}

// base carries what every business handler needs.
type base struct {
	deps      Dependencies
	validator *validator
	maxEvents int
	logger    logger.Logger
}

// decodeEvents validates and decodes a body, enforcing the events cap.
func (b *base) decodeEvents(w http.ResponseWriter, r *http.Request, op, schema string, dst any, events func() int) error {
	if err := b.validator.decode(w, r, schema, dst); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	if n := events(); n > b.maxEvents {
		return WrapKind(op, ErrBadRequest, &tooManyEventsError{got: n, limit: b.maxEvents})
	}
	return nil
}

// fail maps service and API errors onto status codes.
func (b *base) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidIdentity),
		errors.Is(err, service.ErrNoSamples),
		errors.Is(err, service.ErrAggregationFailed):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		b.logger.Error(r.Context(), "request failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", WrapKind(op, ErrInternal, err))
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
