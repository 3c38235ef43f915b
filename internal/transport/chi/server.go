package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/domain"
	"github.com/kailas-cloud/pixelquota/internal/domain/quota"
	generationuc "github.com/kailas-cloud/pixelquota/internal/usecase/generation"
	healthuc "github.com/kailas-cloud/pixelquota/internal/usecase/health"
	"github.com/kailas-cloud/pixelquota/internal/usecase/session"
)

const maxBodyBytes = 64 << 10

// SessionService is the reactive session as seen by HTTP handlers.
type SessionService interface {
	Snapshot() session.Snapshot
	Watch() (<-chan session.Snapshot, func())
	Refresh(ctx context.Context) error
	CurrentQuota() quota.Quota
}

// AuthBroker emits sign-in and sign-out events.
type AuthBroker interface {
	SignIn(id session.Identity)
	SignOut()
}

// TokenVerifier turns an identity token into an identity.
type TokenVerifier interface {
	Verify(raw string) (session.Identity, error)
}

// GenerationService generates images behind the quota gate.
type GenerationService interface {
	Generate(ctx context.Context, prompt, aspectRatio string) (generationuc.Result, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Server serves the pixelquota HTTP API.
type Server struct {
	session       SessionService
	broker        AuthBroker
	verifier      TokenVerifier
	generation    GenerationService
	health        HealthChecker
	loc           *time.Location
	now           func() time.Time
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. loc decides when the daily quota resets.
func NewServer(
	sess SessionService,
	broker AuthBroker,
	verifier TokenVerifier,
	generation GenerationService,
	health HealthChecker,
	loc *time.Location,
	logger *zap.Logger,
) *Server {
	if loc == nil {
		loc = time.Local
	}
	return &Server{
		session:       sess,
		broker:        broker,
		verifier:      verifier,
		generation:    generation,
		health:        health,
		loc:           loc,
		now:           time.Now,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Register mounts all routes on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/sign-in", s.SignIn)
		r.Post("/auth/sign-out", s.SignOut)
		r.Get("/session", s.GetSession)
		r.Post("/session/refresh", s.RefreshSession)
		r.Get("/session/ws", s.WatchSession)
		r.Get("/quota", s.GetQuota)
		r.Post("/generate", s.Generate)
	})
}

// SignIn handles POST /v1/auth/sign-in.
// The quota is resolved asynchronously; the response carries the session as
// it stands right after the identity was emitted.
func (s *Server) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := s.verifier.Verify(req.IDToken)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	s.broker.SignIn(id)
	writeJSON(w, http.StatusAccepted, sessionToResponse(s.session.Snapshot()))
}

// SignOut handles POST /v1/auth/sign-out.
func (s *Server) SignOut(w http.ResponseWriter, r *http.Request) {
	s.broker.SignOut()
	writeJSON(w, http.StatusAccepted, sessionToResponse(s.session.Snapshot()))
}

// GetSession handles GET /v1/session.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionToResponse(s.session.Snapshot()))
}

// RefreshSession handles POST /v1/session/refresh.
// A persist failure is reported on the session value, not as an HTTP error.
func (s *Server) RefreshSession(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Refresh(r.Context()); err != nil && !errors.Is(err, domain.ErrPersist) {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(s.session.Snapshot()))
}

// GetQuota handles GET /v1/quota.
func (s *Server) GetQuota(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	if snap.User == nil {
		s.handleDomainError(w, domain.ErrNotSignedIn)
		return
	}
	q := snap.User.Quota
	writeJSON(w, http.StatusOK, QuotaResponse{
		Quota:     quotaValue(q),
		Limit:     q.Limit(),
		Untracked: q.IsUntracked(),
		ResetsAt:  quota.NextReset(s.now(), s.loc),
	})
}

// Generate handles POST /v1/generate.
func (s *Server) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.generation.Generate(r.Context(), req.Prompt, req.AspectRatio)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		ImageDataURL: res.Image.DataURL,
		AltText:      res.Image.AltText,
		Quota:        quotaValue(res.Quota),
		Warning:      res.Warning,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
