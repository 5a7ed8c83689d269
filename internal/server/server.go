// Package server exposes the submission pipeline over the SES Query API.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/djshoppre/emailq/internal/request"
	"github.com/djshoppre/emailq/internal/webhook"
)

const (
	// shutdownTimeout is the maximum time to wait for in-flight requests
	// and click webhooks during graceful shutdown.
	shutdownTimeout = 30 * time.Second

	webhookTimeout    = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 120 * time.Second

	// maxBodyBytes covers a 10 MB raw message after base64 and form encoding.
	maxBodyBytes = 40 << 20
)

// Submitter runs the four send actions.
type Submitter interface {
	Send(ctx context.Context, req *request.EmailRequest) (string, error)
	SendTemplated(ctx context.Context, req *request.EmailRequest) (string, error)
	SendBulkTemplated(ctx context.Context, req *request.BulkEmailRequest) ([]string, error)
	SendRaw(ctx context.Context, req *request.RawEmailRequest) (string, error)
}

// ClickNotifier delivers click events.
type ClickNotifier interface {
	Click(ctx context.Context, ev webhook.ClickEvent) error
}

// Config holds the configuration for an HTTP server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// TLSConfig enables HTTPS when set.
	TLSConfig *tls.Config

	Submitter Submitter
	Notifier  ClickNotifier

	// Transport is the transport name, used in logs.
	Transport string
}

// Server serves the API until its context is cancelled.
type Server struct {
	config  Config
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener

	// webhooks tracks in-flight click notifications for graceful shutdown.
	// Add is only called under mu while closed is false.
	webhooks sync.WaitGroup
	closed   bool
}

// New creates a Server with the given configuration.
func New(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	s := &Server{config: cfg}
	s.handler = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/", s.wrap(s.handleAction))
	r.Get("/click", s.wrap(s.handleClick))
	r.Get("/healthz", handleHealth)
	return r
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled.
// On cancellation it stops accepting connections and waits up to 30
// seconds for in-flight requests and click webhooks.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	slog.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"transport", s.config.Transport,
		"tls_enabled", s.config.TLSConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		srv.Close()
	}
	s.stopWebhooks()
	s.waitForWebhooks(shutdownCtx)
	return nil
}

// stopWebhooks refuses new click notifications so that waitForWebhooks
// never races a late Add.
func (s *Server) stopWebhooks() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// trackWebhook registers a click notification, or reports false once
// shutdown has begun.
func (s *Server) trackWebhook() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.webhooks.Add(1)
	return true
}

// waitForWebhooks waits for in-flight click notifications until ctx ends.
func (s *Server) waitForWebhooks(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.webhooks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("click webhooks still running at shutdown")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
