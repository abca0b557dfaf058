// Package server exposes the verification pipeline and outbox over a local
// HTTP API. The listener is meant for the device-local application process,
// not the network edge.
package server

import (
	"log/slog"
	"net/http"

	"github.com/relves/scopesync/internal/storage"
	"github.com/relves/scopesync/pkg/outbox"
	"github.com/relves/scopesync/pkg/verify"
)

// Server routes intake and outbox requests.
type Server struct {
	pipeline *verify.Pipeline
	outbox   *outbox.Outbox
	states   storage.ScopeStateStore
	logger   *slog.Logger
}

// Config configures a Server.
type Config struct {
	Pipeline *verify.Pipeline
	Outbox   *outbox.Outbox
	States   storage.ScopeStateStore
	Logger   *slog.Logger
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pipeline: cfg.Pipeline,
		outbox:   cfg.Outbox,
		states:   cfg.States,
		logger:   logger,
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scope-states", s.handleVerifyScopeState)
	mux.HandleFunc("POST /v1/grants", s.handleVerifyGrant)
	mux.HandleFunc("POST /v1/events", s.handleVerifyEvent)
	mux.HandleFunc("POST /v1/outbox", s.handleEnqueue)
	mux.HandleFunc("POST /v1/outbox/push", s.handlePush)
	mux.HandleFunc("GET /v1/scopes/{scopeID}/head", s.handleGetHead)
	return mux
}
