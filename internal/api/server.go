// Package api exposes the JEFE COIN coordinator over HTTP/JSON: account
// registration and sessions, the job pool, the work-claim path, transfers,
// solo mining, offline sync, and the public leaderboard.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/archive"
	"github.com/jefeCoincmd/jefe-coin/internal/auth"
	"github.com/jefeCoincmd/jefe-coin/internal/config"
	"github.com/jefeCoincmd/jefe-coin/internal/jobpool"
	"github.com/jefeCoincmd/jefe-coin/internal/ledger"
	"github.com/jefeCoincmd/jefe-coin/internal/messaging"
	"github.com/jefeCoincmd/jefe-coin/internal/metrics"
	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/internal/syncer"
	"github.com/jefeCoincmd/jefe-coin/pkg/errors"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

// leaderboardLimit caps the public leaderboard response.
const leaderboardLimit = 50

type contextKey string

const accountContextKey contextKey = "account"

// Server is the coordinator's HTTP front end.
type Server struct {
	cfg       *config.Config
	logger    *log.Logger
	store     store.Store
	auth      *auth.Service
	ledger    *ledger.Ledger
	pool      *jobpool.Manager
	syncer    *syncer.Syncer
	events    *messaging.Publisher
	metrics   *metrics.Client
	transfers TransferArchiver

	httpServer *http.Server
}

// TransferArchiver persists executed transfers to the audit trail.
// *archive.TransferRepository implements it.
type TransferArchiver interface {
	ArchiveTransfer(ctx context.Context, transfer *archive.Transfer) error
}

// New creates the HTTP server. The events publisher, metrics client, and
// transfer archive are optional; nil disables them.
func New(cfg *config.Config, logger *log.Logger, st store.Store, authSvc *auth.Service,
	led *ledger.Ledger, pool *jobpool.Manager, sync *syncer.Syncer,
	events *messaging.Publisher, metricsClient *metrics.Client,
	transfers TransferArchiver) *Server {

	s := &Server{
		cfg:       cfg,
		logger:    logger.WithComponent("api"),
		store:     st,
		auth:      authSvc,
		ledger:    led,
		pool:      pool,
		syncer:    sync,
		events:    events,
		metrics:   metricsClient,
		transfers: transfers,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.ListenPort),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)

	mux.HandleFunc("POST /logout", s.authenticated(s.handleLogout))
	mux.HandleFunc("GET /balance", s.authenticated(s.handleBalance))
	mux.HandleFunc("GET /activity", s.authenticated(s.handleActivity))
	mux.HandleFunc("POST /mine", s.authenticated(s.handleMine))
	mux.HandleFunc("POST /transfer", s.authenticated(s.handleTransfer))
	mux.HandleFunc("POST /sync", s.authenticated(s.handleSync))
	mux.HandleFunc("POST /jobs/{id}/claim", s.authenticated(s.handleClaim))

	return s.withLogging(mux)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
		)
	})
}

// authenticated resolves the bearer token and injects the account name into
// the request context.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		account, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, account)
		next(w, r.WithContext(ctx))
	}
}

func accountFrom(r *http.Request) string {
	account, _ := r.Context().Value(accountContextKey).(string)
	return account
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

// Encoding helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	errType := errors.TypeOf(err)

	status := http.StatusInternalServerError
	switch errType {
	case errors.ErrorTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrorTypeAuth:
		status = http.StatusUnauthorized
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeState:
		status = http.StatusPaymentRequired
	case errors.ErrorTypeConflict:
		status = http.StatusConflict
	}

	detail := err.Error()
	if svcErr, ok := err.(*errors.ServiceError); ok {
		detail = svcErr.Message
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("internal error")
		detail = "internal server error"
	}

	s.writeJSON(w, status, errorResponse{Detail: detail, Type: string(errType)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, errors.New(errors.ErrorTypeValidation, "decode_request", "malformed JSON body"))
		return false
	}
	return true
}
