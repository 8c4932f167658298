// Package httpapi implements the wire-gateway HTTP facade (spec.md §4.9,
// §6): /config, /transfer, /history/incoming, /history/outgoing and
// /admin/add-incoming behind HTTP Basic auth.
//
// The teacher's HTTP server is built on Fiber/fasthttp with a
// recover → logger → CORS → domain middleware chain (see
// internal/server/server.go). Fiber's fasthttp.RequestCtx is explicitly
// documented as invalid once its handler returns, which conflicts with
// this facade's long-poll handlers that block inside the handler on a
// database notification for up to long_poll_ms — there is nothing to
// hand off to a background goroutine the way a non-blocking framework
// expects. The middleware shape (recover, structured logging, then
// auth) is kept; it runs over net/http, whose blocking per-request
// goroutine model is the natural fit for a handler that waits.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ebicsnexus/internal/localbank"
	"ebicsnexus/internal/store"
)

// Config configures one Server instance.
type Config struct {
	Currency       string
	SubscriberIBAN string
	BasicAuthUser  string
	BasicAuthPass  string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AdminEnabled   bool // /admin/add-incoming, spec.md §4.9: "optional per deployment"
}

// Server is the wire-gateway HTTP facade.
type Server struct {
	store     *store.Store
	cfg       Config
	mux       *http.ServeMux
	server    *http.Server
	logger    *slog.Logger
	localBank *localbank.Bank
}

// New builds a Server wired to st. It does not start listening; call
// Start. localBank settles any /transfer whose credit_account is a
// payto://x-taler-bank URI instead of queuing it for the EBICS
// scheduler (spec.md §1 non-goals: the one auxiliary non-EBICS wire
// method this gateway supports).
func New(st *store.Store, cfg Config, localBank *localbank.Bank) *Server {
	s := &Server{
		store:     st,
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    slog.Default(),
		localBank: localBank,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /config", s.handleConfig)
	s.mux.HandleFunc("POST /transfer", s.handleTransfer)
	s.mux.HandleFunc("GET /history/incoming", s.handleHistoryIncoming)
	s.mux.HandleFunc("GET /history/outgoing", s.handleHistoryOutgoing)
	if s.cfg.AdminEnabled {
		s.mux.HandleFunc("POST /admin/add-incoming", s.handleAddIncoming)
	}
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, &apiError{status: 404, body: ErrorResponse{Code: 1100, Hint: "no such endpoint", Detail: r.URL.Path}})
	})
}

// Start listens on addr until ctx is cancelled, then shuts down
// gracefully. It blocks until the server exits.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.chain(s.mux),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("httpapi: listening", "addr", addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// (including long-polls) to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// chain wires recover → request logging → basic auth around every route,
// mirroring the teacher's middleware ordering.
func (s *Server) chain(next http.Handler) http.Handler {
	return s.recoverMiddleware(s.loggingMiddleware(s.authMiddleware(next)))
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("httpapi: panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, errInternalInvariant(fmt.Sprintf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		s.logger.Info("httpapi: request", "method", r.Method, "path", r.URL.Path, "status", sw.status, "latency", time.Since(start))
	})
}

// statusWriter captures the status code written so loggingMiddleware can
// report it after the handler returns.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// authMiddleware enforces HTTP Basic auth on every route (spec.md §4.9);
// /config is intentionally not exempted from the chain since spec.md
// marks only its response content as "public", not the transport.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !constantTimeEqual(user, s.cfg.BasicAuthUser) || !constantTimeEqual(pass, s.cfg.BasicAuthPass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ebicsnexus"`)
			writeError(w, errUnauthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeError(w http.ResponseWriter, err *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.status)
	_ = json.NewEncoder(w).Encode(err.body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
