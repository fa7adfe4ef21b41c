// Package httpapi exposes the conversation, execution and health endpoints
// over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/chain"
	"github.com/avvvet/defibuddy-intent/internal/handlers"
	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/avvvet/defibuddy-intent/internal/observability"
	"github.com/avvvet/defibuddy-intent/internal/readiness"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Config holds the HTTP-facing settings.
type Config struct {
	ServiceName        string
	Debug              bool
	DevAuth            bool
	AllowedOrigins     []string
	SessionTTL         time.Duration
	MaxSessionsPerUser int
}

// HealthCheck is one dependency checked by /health/detailed.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	cfg    Config
	turns  *handlers.TurnHandler
	exec   *handlers.ExecutionHandler
	checks []HealthCheck
	logger *zap.Logger
}

func New(cfg Config, turns *handlers.TurnHandler, exec *handlers.ExecutionHandler, logger *zap.Logger, checks ...HealthCheck) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		turns:  turns,
		exec:   exec,
		checks: checks,
		logger: logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID", "X-Session-ID", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleHealthDetailed)
	r.Handle("/metrics", observability.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Get("/sessions/{id}/confirmation", s.handleConfirmation)
		r.Post("/sessions/{id}/execute", s.handleExecute)

		r.Post("/payments", s.handleProposePayment)
		r.Post("/payments/confirm", s.handleConfirmPayment)
		r.Post("/payments/cancel", s.handleCancelPayment)

		r.Post("/transfers", s.handleProposeTransfer)
		r.Post("/transfers/confirm", s.handleConfirmTransfer)
		r.Post("/transfers/cancel", s.handleCancelTransfer)

		r.Post("/wallet/connect", s.handleConnectWallet)
		r.Get("/wallet", s.handleWallet)
		r.Get("/prices/{symbol}", s.handlePrice)
		r.Get("/transactions", s.handleTransactions)

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": s.cfg.ServiceName,
	})
}

// handleHealthDetailed checks every dependency; any failure reports degraded
// with 503.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]any, len(s.checks))
	healthy := true
	for _, c := range s.checks {
		if err := runCheck(r.Context(), c); err != nil {
			healthy = false
			components[c.Name] = map[string]any{"status": "unhealthy", "error": err.Error()}
			continue
		}
		components[c.Name] = map[string]any{"status": "healthy"}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":     status,
		"service":    s.cfg.ServiceName,
		"components": components,
		"sessions": map[string]any{
			"ttl_seconds":           int(s.cfg.SessionTTL.Seconds()),
			"max_sessions_per_user": s.cfg.MaxSessionsPerUser,
		},
		"timestamp": time.Now().UTC(),
	})
}

func runCheck(ctx context.Context, c HealthCheck) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("check panicked: %v", rec)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.Check(ctx)
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, status, models.ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeError maps domain errors onto status codes. Anything unrecognized is
// logged and returned as a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, handlers.ErrInvalidInput):
		respondError(w, r, http.StatusBadRequest, models.ErrorInvalidInput, err.Error())
	case errors.Is(err, handlers.ErrUnauthenticated):
		respondError(w, r, http.StatusUnauthorized, models.ErrorUnauthenticated, err.Error())
	case errors.Is(err, memory.ErrQuotaExceeded):
		respondError(w, r, http.StatusTooManyRequests, models.ErrorQuotaExceeded, err.Error())
	case errors.Is(err, memory.ErrSessionNotFound), errors.Is(err, chain.ErrNothingPending):
		respondError(w, r, http.StatusNotFound, models.ErrorNotFound, err.Error())
	case errors.Is(err, readiness.ErrNotReady):
		respondError(w, r, http.StatusConflict, models.ErrorNotReady, err.Error())
	case errors.Is(err, memory.ErrSessionLocked):
		respondError(w, r, http.StatusConflict, models.ErrorSessionBusy, err.Error())
	case errors.Is(err, chain.ErrPaymentExpired):
		respondError(w, r, http.StatusGone, models.ErrorExpired, err.Error())
	case errors.Is(err, chain.ErrInsufficientFunds):
		respondError(w, r, http.StatusUnprocessableEntity, models.ErrorInsufficient, chain.ErrInsufficientFunds.Error())
	default:
		var se *chain.StrategyError
		if errors.As(err, &se) {
			respondError(w, r, http.StatusBadGateway, models.ErrorUpstream, "wallet provider could not execute the transaction")
			return
		}

		requestID := middleware.GetReqID(r.Context())
		s.logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message := "internal server error"
		if s.cfg.Debug {
			message = err.Error()
		}
		respondError(w, r, http.StatusInternalServerError, models.ErrorInternal, message)
	}
}
