// Package server is the same-origin auth proxy the portal talks to. It
// forwards credential operations to the upstream authority and keeps the
// credentials in cookies scoped to the portal's origin.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/election-session/gateway"
	"github.com/jrsteele09/election-session/internal/config"
	"github.com/jrsteele09/election-session/upstream"
	"github.com/jrsteele09/election-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Authority issues and checks credentials. upstream.Authority satisfies it.
type Authority interface {
	PasswordLogin(ctx context.Context, email, password string) (*upstream.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*upstream.Tokens, error)
	UserInfo(ctx context.Context, accessToken string) (*users.Principal, error)
	Revoke(ctx context.Context, token string) error
}

var _ Authority = (*upstream.Authority)(nil)

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	router    chi.Router
	config    config.Config
	authority Authority
	log       zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

func New(cfg config.Config, authority Authority, options ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[Server New] config is required")
	}
	if authority == nil {
		return nil, fmt.Errorf("[Server New] authority is required")
	}

	s := &Server{
		env:       cfg.GetEnv(),
		config:    cfg,
		authority: authority,
		log:       log.Logger.With().Str("component", "server").Logger(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) initRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(gateway.RouteHealth, s.HealthHandler())

	r.Get(gateway.RouteProbe, ChainMiddleware(s.ProbeHandler(), s.APIMiddleware()...))
	r.Post(gateway.RouteLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	r.Post(gateway.RouteRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	r.Get(gateway.RouteVerify, ChainMiddleware(s.VerifyHandler(), s.APIMiddleware()...))
	r.Get(gateway.RouteMe, ChainMiddleware(s.ProfileHandler(), s.APIMiddleware()...))
	r.Post(gateway.RouteLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	// Preflight requests are answered by CorsMiddleware.
	preflight := ChainMiddleware(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.APIMiddleware()...)
	for _, route := range []string{gateway.RouteProbe, gateway.RouteLogin, gateway.RouteRefresh, gateway.RouteVerify, gateway.RouteMe, gateway.RouteLogout} {
		r.Options(route, preflight)
	}

	s.router = r
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
