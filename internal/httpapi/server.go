// Package httpapi wires the stor.chat HTTP routes.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/storchat/api/internal/database"
	"github.com/storchat/api/internal/logging"
	"github.com/storchat/api/internal/metrics"
	"github.com/storchat/api/internal/middleware"
	"github.com/storchat/api/internal/notify"
	"github.com/storchat/api/internal/otp"
	"github.com/storchat/api/internal/pushtoken"
	"github.com/storchat/api/internal/woocommerce"
)

// ServiceName labels logs and metrics.
const ServiceName = "storchat-api"

// StoreTester checks a WooCommerce credential set.
type StoreTester interface {
	TestConnection(ctx context.Context, creds woocommerce.Credentials) (*woocommerce.StoreInfo, error)
}

// Deps are the collaborators of the API. Repo, PushTokens and Logger are
// required; the rest may be nil.
type Deps struct {
	Repo        database.RepositoryInterface
	PushTokens  *pushtoken.Service
	Notifier    *notify.Notifier
	WooCommerce StoreTester
	OTP         *otp.Helper
	Auth        *middleware.AuthMiddleware
	// SharedSecret gates the automation helpers and the push sender.
	SharedSecret string
	Limiter      middleware.Limiter
	CORS         *middleware.CORSMiddleware
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
	Version      string
}

// Server holds the handlers.
type Server struct {
	deps   Deps
	log    *logging.Logger
	router *mux.Router
}

// New builds the router with every route and middleware registered.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Auth == nil {
		deps.Auth = middleware.NewAuthMiddleware(nil, deps.Logger, nil)
	}
	if deps.CORS == nil {
		deps.CORS = middleware.NewCORSMiddleware(nil)
	}
	s := &Server{
		deps:   deps,
		log:    deps.Logger,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler. CORS and tracing wrap the router so that
// preflight requests and unmatched routes get them too.
func (s *Server) Handler() http.Handler {
	return middleware.TracingMiddleware(s.deps.CORS.Handler(s.router))
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}
