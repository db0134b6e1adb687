// Package core provides the API chassis for the Sapar billing service. It
// sets up the chi router and enforces the cross-cutting concerns -- recovery,
// logging, security headers, authentication -- before requests reach the
// domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sapar/internal/config"
	"sapar/internal/types"
)

// Authenticator resolves a bearer token into the Actor it identifies.
type Authenticator interface {
	Authenticate(token string) (*types.Actor, error)
}

// AdminKeyVerifier checks the operator key presented on admin routes.
type AdminKeyVerifier interface {
	Verify(key string) error
}

// RouteRegistrar mounts a handler group onto the v1 router. The application
// entry point populates Server.V1RouteRegistrars with these; the indirection
// avoids import cycles between core and the handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies of the HTTP API, allowing injection
// during testing and distinct configuration per environment.
type Server struct {
	Config        *config.Config
	Store         types.Store
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator
	AdminVerifier AdminKeyVerifier

	// V1RouteRegistrars are mounted under /v1 by MountRoutes.
	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. It fails fast on missing critical dependencies. The caller mounts
// routes via MountRoutes after construction; the separation lets tests
// customize registration.
func NewServer(cfg *config.Config, store types.Store, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Store:     store,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs graceful termination of server-held resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if closer, ok := s.Store.(interface{ Close() }); ok {
		closer.Close()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
