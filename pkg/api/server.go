package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/commercebase/billing/pkg/billing"
	"github.com/commercebase/billing/pkg/httputil"
	"github.com/commercebase/billing/pkg/observability"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MetricsEnabled bool
}

// Server is the billing HTTP server.
type Server struct {
	router  *mux.Router
	http    *http.Server
	service *billing.Service
	logger  *observability.Logger
	health  *observability.HealthChecker
}

// NewServer builds the server with routes and middleware registered.
// health and registry may be nil; the corresponding endpoints are then
// served degraded (health always ok) or not at all (metrics).
func NewServer(service *billing.Service, logger *observability.Logger, metrics *observability.Metrics,
	health *observability.HealthChecker, registry *prometheus.Registry, config Config) *Server {

	router := mux.NewRouter()
	router.Use(httputil.Recovery(logger))
	router.Use(httputil.RequestLogging(logger, metrics))

	s := &Server{
		router:  router,
		service: service,
		logger:  logger.WithField("component", "api"),
		health:  health,
	}

	billingHandlers := NewBillingHandlers(service, logger)
	webhookHandlers := NewWebhookHandlers(service, logger)

	v1 := router.PathPrefix("/v1").Subrouter()
	billingHandlers.RegisterRoutes(v1)
	webhookHandlers.RegisterRoutes(v1)

	if health != nil {
		router.HandleFunc("/healthz", health.Liveness).Methods("GET")
		router.HandleFunc("/readyz", health.Readiness).Methods("GET")
	}
	if config.MetricsEnabled && registry != nil {
		router.Handle("/metrics", observability.Handler(registry)).Methods("GET")
	}

	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// HTTPServer returns the underlying http.Server for lifecycle management.
func (s *Server) HTTPServer() *http.Server {
	return s.http
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.http.Addr).Info("http server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
