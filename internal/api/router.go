// Package api assembles the Gin engine: global middleware, the public
// surface, and the admin group.
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/rewriteguard/rewriteguard/internal/app"
	"github.com/rewriteguard/rewriteguard/internal/gateway"
	"github.com/rewriteguard/rewriteguard/internal/handlers"
	"github.com/rewriteguard/rewriteguard/internal/middleware"
	"github.com/rewriteguard/rewriteguard/internal/monitoring"
	"github.com/rewriteguard/rewriteguard/internal/quota"
	"github.com/rewriteguard/rewriteguard/internal/services"
)

// Deps carries the wired collaborators the router mounts.
type Deps struct {
	DB        *gorm.DB
	Config    *app.Config
	Gateway   *gateway.Gateway
	Ledger    *quota.Ledger
	Users     *services.UserService
	Jobs      *services.JobService
	Monitor   *monitoring.Aggregator
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway must be provided")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("quota ledger must be provided")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user service must be provided")
	}
	if deps.Jobs == nil {
		return nil, fmt.Errorf("job service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	if rl := deps.Config.Server.RateLimit; rl.Enabled {
		r.Use(middleware.RateLimit(deps.RateStore, rl.MaxRequests, rl.Window))
	}

	r.NoRoute(middleware.NotFoundHandler)

	// Public endpoints
	r.GET("/health", handlers.Health(deps.DB))
	if prom := deps.Config.Monitoring.Prometheus; prom.Enabled {
		endpoint := prom.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	inferenceHandler := handlers.NewInferenceHandler(deps.Gateway)
	quotaHandler := handlers.NewQuotaHandler(deps.Ledger, deps.Users)
	jobsHandler := handlers.NewJobsHandler(deps.Jobs)

	api := r.Group("/api/v1")
	api.Use(middleware.Identity(deps.Users))

	api.POST("/detect", inferenceHandler.Detect)
	api.POST("/paraphrase", inferenceHandler.Paraphrase)

	quotaGroup := api.Group("/quota")
	{
		quotaGroup.GET("/usage", quotaHandler.Usage)
		quotaGroup.GET("/check", quotaHandler.Check)
		quotaGroup.GET("/plans", quotaHandler.Plans)
		quotaGroup.POST("/upgrade", quotaHandler.Upgrade)
	}

	api.GET("/jobs/recent", jobsHandler.Recent)

	if monitoringHandler := handlers.NewMonitoringHandler(deps.Monitor); monitoringHandler != nil {
		admin := api.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		admin.GET("/metrics", monitoringHandler.Summary)
	}

	return r, nil
}
