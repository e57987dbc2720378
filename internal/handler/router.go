package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mir00r/region-failover/internal/middleware"
	"github.com/mir00r/region-failover/pkg/logger"
)

// RouterDeps are the handlers and middleware the router mounts
type RouterDeps struct {
	Notifications *NotificationHandler
	Admin         *AdminHandler
	Health        *HealthHandler
	Metrics       http.Handler
	Auth          *middleware.JWTAuthMiddleware
	RateLimiter   *middleware.RateLimiter // optional
}

// NewRouter wires every route:
//
//	POST /v1/notifications   alarm notifications (signed SNS, or direct with auth)
//	GET  /v1/status          decision inputs
//	GET  /v1/override        stored override directive
//	PUT  /v1/override        set the override (auth)
//	POST /v1/reconcile       run a reconcile cycle now (auth)
//	POST /v1/evaluate        dry-run decision for a notification body
//	GET  /v1/results         recent cycle results
//	GET  /healthz, /readyz   probes
//	GET  /metrics            Prometheus
func NewRouter(deps RouterDeps, log *logger.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.TracingMiddleware())

	router.HandleFunc("/healthz", deps.Health.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/readyz", deps.Health.ReadinessHandler).Methods(http.MethodGet)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/v1").Subrouter()
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.RateLimitMiddleware())
	}

	api.Handle("/notifications", deps.Notifications).Methods(http.MethodPost)
	api.HandleFunc("/status", deps.Admin.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/override", deps.Admin.GetOverrideHandler).Methods(http.MethodGet)
	api.HandleFunc("/evaluate", deps.Admin.EvaluateHandler).Methods(http.MethodPost)
	api.HandleFunc("/results", deps.Admin.ResultsHandler).Methods(http.MethodGet)

	requireOperator := deps.Auth.Require()
	api.Handle("/override", requireOperator(http.HandlerFunc(deps.Admin.SetOverrideHandler))).Methods(http.MethodPut)
	api.Handle("/reconcile", requireOperator(http.HandlerFunc(deps.Admin.ReconcileHandler))).Methods(http.MethodPost)

	return middleware.Chain(router,
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
		middleware.SecurityHeadersMiddleware(),
	)
}
