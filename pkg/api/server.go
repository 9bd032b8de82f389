package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// maxRequestBody caps API request bodies; role and permission payloads
// are small, so anything bigger is garbage.
const maxRequestBody = 1 << 20

// Server represents the admin API server
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// Options carries the wired subsystems the server exposes.
type Options struct {
	Gate          *authz.Gate
	AuthzHandlers *authz.Handlers
	AuditHandlers *audit.Handlers
	AuditMW       *audit.Middleware
	Metrics       *observability.Metrics
	Logger        *observability.Logger

	// Authenticator resolves the calling principal into the request
	// context. When nil, HeaderAuthenticator is used.
	Authenticator func(http.Handler) http.Handler

	// RateLimit throttles requests when set; it runs after
	// authentication so principals get their own budget.
	RateLimit func(http.Handler) http.Handler

	// TracingEnabled wraps the router with otelhttp instrumentation.
	TracingEnabled bool
}

// NewServer creates the admin API server and wires all routes.
func NewServer(opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: opts.Logger,
	}

	if opts.TracingEnabled {
		s.router.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "warden-api")
		})
	}
	s.router.Use(httputil.RecoveryMiddleware)
	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	if opts.AuditMW != nil {
		s.router.Use(opts.AuditMW.Handler)
	}
	authn := opts.Authenticator
	if authn == nil {
		authn = HeaderAuthenticator
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(httputil.ContentTypeMiddleware)
	api.Use(httputil.MaxBytesMiddleware(maxRequestBody))
	api.Use(authn)
	if opts.RateLimit != nil {
		api.Use(opts.RateLimit)
	}

	if opts.AuditHandlers != nil {
		auditRouter := api.NewRoute().Subrouter()
		auditRouter.Use(auditAuthorization(opts.Gate))
		opts.AuditHandlers.RegisterRoutes(auditRouter)
	}
	if opts.AuthzHandlers != nil {
		rbacRouter := api.NewRoute().Subrouter()
		rbacRouter.Use(rbacAuthorization(opts.Gate))
		opts.AuthzHandlers.RegisterRoutes(rbacRouter)
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional registration.
func (s *Server) Router() *mux.Router {
	return s.router
}
