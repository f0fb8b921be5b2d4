package httpapi

import (
	"net/http"

	"github.com/storchat/api/internal/middleware"
)

// registerRoutes registers HTTP routes.
func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.LoggingMiddleware(s.log))
	if s.deps.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(ServiceName, s.deps.Metrics))
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// The limiter wraps each handler after any auth middleware so that
	// authenticated routes are keyed by user and the rest by peer IP.
	limit := func(h http.HandlerFunc) http.Handler {
		if s.deps.Limiter == nil {
			return h
		}
		return middleware.RateLimit(s.deps.Limiter, s.log)(h)
	}
	gate := middleware.SharedSecretMiddleware(middleware.MaestroSecretHeader, s.deps.SharedSecret, s.log)

	api.Handle("/messages", limit(s.handleListMessages)).Methods(http.MethodGet)
	api.Handle("/messages/update-action", limit(s.handleUpdateMessageAction)).Methods(http.MethodPatch)
	api.Handle("/save-messages", s.deps.Auth.Handler(limit(s.handleSaveMessages))).Methods(http.MethodPost)
	api.Handle("/token-usage", limit(s.handleTokenUsage)).Methods(http.MethodGet)
	api.Handle("/push-token", limit(s.handlePushToken)).Methods(http.MethodPost)
	api.Handle("/users/search", limit(s.handleSearchUsers)).Methods(http.MethodGet)
	api.Handle("/woocommerce/test", limit(s.handleWooCommerceTest)).Methods(http.MethodPost)
	api.Handle("/maestro-helper/get-otp", gate(limit(s.handleGetOTP))).Methods(http.MethodPost)
	api.Handle("/push/send", gate(limit(s.handlePushSend))).Methods(http.MethodPost)
}
