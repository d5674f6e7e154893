// Package server exposes the bot's HTTP endpoints: GitHub webhooks, Slack events and health.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codeGROOVE-dev/slackin/pkg/command"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

const (
	maxBodyBytes = 5 << 20
	readTimeout  = 10 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// EventHandler handles pull request lifecycle events.
type EventHandler interface {
	Handle(ctx context.Context, ev types.Event) error
}

// CommandHandler handles direct messages sent to the bot.
type CommandHandler interface {
	Handle(ctx context.Context, req command.Request) error
}

// Installations learns which GitHub App installation serves an owner.
type Installations interface {
	RememberInstallation(owner string, installationID int64)
}

// Config wires a Server.
type Config struct {
	Events             EventHandler
	Commands           CommandHandler
	Installations      Installations // optional
	Metrics            *Metrics      // optional
	WebhookSecret      string
	SlackSigningSecret string
	// RejectAssignmentEvents makes /payload refuse events that would trigger reviewer
	// assignment because another event source drives it.
	RejectAssignmentEvents bool
}

// Server holds the HTTP handlers.
type Server struct {
	events        EventHandler
	commands      CommandHandler
	installations Installations
	metrics       *Metrics
	webhookSecret string
	signingSecret string
	inflight      sync.WaitGroup
	rejectAssign  bool
}

// New returns a Server.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = NewMetrics()
	}
	return &Server{
		events:        cfg.Events,
		commands:      cfg.Commands,
		installations: cfg.Installations,
		metrics:       m,
		webhookSecret: cfg.WebhookSecret,
		signingSecret: cfg.SlackSigningSecret,
		rejectAssign:  cfg.RejectAssignmentEvents,
	}
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/_-_/health", s.handleHealth)
	r.Post("/payload", s.handleGitHub)
	r.Route("/slack", func(r chi.Router) {
		r.Post("/events", s.handleSlackEvents)
		r.Post("/action", s.handleSlackAction)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully and waits for
// background command handling to finish.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      s.Routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "component", "http", "port", port)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	slog.Info("Shutting down HTTP server", "component", "http")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.Wait()
	return nil
}

// Wait blocks until background work started by handlers has finished.
func (s *Server) Wait() {
	s.inflight.Wait()
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	write(w, http.StatusOK, "Slackin Bot\n/_-_/health - Health status\n/payload - GitHub webhooks\n/slack/events - Slack events\n")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.metrics.Stats()
	last := "never"
	if !st.LastEvent.IsZero() {
		last = st.LastEvent.Format(time.RFC3339)
	}
	write(w, http.StatusOK, fmt.Sprintf("ok - %d owners, %d PRs seen, %d events, %d failures, %d commands (last: %s, up: %s)\n",
		st.Owners, st.PRsSeen, st.Events, st.Failures, st.Commands, last, st.Uptime.Round(time.Second)))
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("Failed to read request body", "component", "http", "path", r.URL.Path, "error", err)
		write(w, http.StatusBadRequest, "unreadable body\n")
		return nil, false
	}
	return body, true
}

func write(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		slog.Warn("Failed to write response", "component", "http", "error", err)
	}
}

// requestLogger logs each request with slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("HTTP request",
			"component", "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", time.Since(start).Round(time.Millisecond))
	})
}
