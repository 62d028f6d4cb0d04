// Package api provides HTTP handlers and the main API server logic for LeadFlow.
//
// It exposes the inbound WhatsApp webhook, the kanban lead endpoints, and the
// operator send endpoint. The API integrates with the engine, store, and
// messaging modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/buzzicrm/leadflow/internal/engine"
	"github.com/buzzicrm/leadflow/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful shutdown on context cancellation.
const shutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	CountryCode string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCountryCode sets the default country code used when canonicalizing
// webhook phone numbers.
func WithCountryCode(code string) Option {
	return func(o *Opts) { o.CountryCode = code }
}

// Server wires HTTP endpoints to the engine and store. Outbound delivery is
// not the server's job; replies and operator messages land on the outbox and
// the sender loop delivers them.
type Server struct {
	addr        string
	countryCode string
	engine      *engine.Engine
	store       store.Store
}

// NewServer creates an API server over the given engine and store.
func NewServer(eng *engine.Engine, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:        cfg.Addr,
		countryCode: cfg.CountryCode,
		engine:      eng,
		store:       st,
	}
}

// Handler returns the routed HTTP handler. Exposed separately from Run for
// tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/whatsapp", s.webhookHandler)
	mux.HandleFunc("/send", s.sendHandler)
	mux.HandleFunc("/leads", s.leadsHandler)
	mux.HandleFunc("/leads/", s.leadSubrouteHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
