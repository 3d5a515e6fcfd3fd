package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"avante-billing/internal/domain"
	"avante-billing/internal/infra/logging"
	"avante-billing/internal/usecase"
)

const timeLayout = time.RFC3339Nano

// RateLimiter bounds how often a user may trigger a stale cleanup.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Deps groups the use cases the payment API serves.
type Deps struct {
	Approval   usecase.ApprovalUseCase
	Completion usecase.CompletionUseCase
	Sweeper    usecase.SweeperUseCase
	Payments   usecase.PaymentQueryUseCase
	// Subscriptions serves the tier lookup; nil leaves the route unmounted.
	Subscriptions usecase.SubscriptionQueryUseCase
	Auth       *Authenticator // nil disables caller auth
	Limiter    RateLimiter    // nil disables cleanup rate limiting
}

// Server implements the /api/v1/payments endpoints.
type Server struct {
	deps Deps
	log  *zerolog.Logger

	cleanupLimit  int
	cleanupWindow time.Duration
}

func NewServer(deps Deps, logger *zerolog.Logger) *Server {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	l := logger.With().Str("component", "PaymentAPI").Logger()
	return &Server{deps: deps, log: &l, cleanupLimit: 6, cleanupWindow: time.Minute}
}

// RegisterAPIV1 mounts the payment routes on r.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1/payments", func(r chi.Router) {
		if s.deps.Auth != nil {
			r.Use(s.deps.Auth.Middleware)
		}
		r.Post("/approve", s.handleApprove)
		r.Post("/complete", s.handleComplete)
		r.Post("/cleanup-stale", s.handleCleanupStale)
		r.Get("/{paymentId}", s.handleGetPayment)
	})
	if s.deps.Subscriptions == nil {
		return
	}
	r.Route("/api/v1/subscriptions", func(r chi.Router) {
		if s.deps.Auth != nil {
			r.Use(s.deps.Auth.Middleware)
		}
		r.Get("/{userId}", s.handleGetSubscription)
	})
}

// statusFor maps service errors onto HTTP status codes. Only 5xx answers are
// worth retrying for the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotApproved), errors.Is(err, domain.ErrTerminalConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Int("status", code).Msg("payment request failed")
		if code == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeError(w, code, msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Response{Success: false, Message: msg})
}

func writeOutcome(w http.ResponseWriter, out *usecase.Outcome, withCount bool) {
	resp := Response{Success: out.Success, Message: out.Message, PaymentID: out.PaymentID}
	if withCount {
		n := out.CleanedCount
		resp.CleanedCount = &n
	}
	writeJSON(w, http.StatusOK, resp)
}
