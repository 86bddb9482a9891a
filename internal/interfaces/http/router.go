// Package http exposes experiments, predictions and stored runs over a gin
// router.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/internal/interfaces/http/handlers"
	"github.com/turtacn/GradeSim/internal/interfaces/http/middleware"
)

// RouterConfig aggregates all handler and middleware dependencies required
// to construct the complete HTTP route tree.
type RouterConfig struct {
	// Handlers
	HealthHandler     *handlers.HealthHandler
	SimulationHandler *handlers.SimulationHandler
	RunHandler        *handlers.RunHandler

	// Middleware
	Logging     middleware.LoggingConfig
	RateLimiter *middleware.ClientLimiter
	RateLimit   middleware.RateLimitConfig

	// Infrastructure
	Logger         logging.Logger
	Observer       middleware.HTTPObserver
	MetricsHandler http.Handler
}

// NewRouter constructs the complete HTTP route tree from the given
// configuration.  Nil handlers leave their routes unregistered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()

	// --- Global middleware (applied to every request) ---
	r.Use(gin.Recovery())
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogging(cfg.Logger, cfg.Logging))
	}
	if cfg.Observer != nil {
		r.Use(middleware.Metrics(cfg.Observer))
	}

	// --- Probes and metrics ---
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Liveness)
		r.GET("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	// --- API v1 ---
	api := r.Group("/api/v1")
	if cfg.RateLimiter != nil {
		api.Use(middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit))
	}
	registerSimulationRoutes(api, cfg.SimulationHandler)
	registerRunRoutes(api, cfg.RunHandler)

	return r
}

// registerSimulationRoutes mounts the compute endpoints.
func registerSimulationRoutes(r *gin.RouterGroup, h *handlers.SimulationHandler) {
	if h == nil {
		return
	}
	r.POST("/experiments", h.RunExperiment)
	r.POST("/predictions", h.Predict)
	r.POST("/samples", h.DrawSample)
}

// registerRunRoutes mounts stored-run endpoints under /runs.
func registerRunRoutes(r *gin.RouterGroup, h *handlers.RunHandler) {
	if h == nil {
		return
	}
	runs := r.Group("/runs")
	runs.GET("", h.List)
	runs.GET("/:id", h.Get)
	runs.DELETE("/:id", h.Delete)
}
