// Package router assembles the local HTTP API.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/config"
	"github.com/pandeptwidyaop/n8n-monitor/internal/handlers"
	"github.com/pandeptwidyaop/n8n-monitor/internal/metrics"
	"github.com/pandeptwidyaop/n8n-monitor/internal/middleware"
	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
)

// Refresh endpoints reach the n8n server; keep them well below its limits.
const (
	refreshRequests = 30
	refreshWindow   = time.Minute
)

// Deps are the components the API serves. Sync and Maintenance may be nil.
type Deps struct {
	Repository  *repository.Repository
	Settings    handlers.SettingsStore
	Sync        handlers.SyncStatus
	Maintenance handlers.Maintenance
	Logger      *zap.Logger
}

// New builds the engine. Background state of the router (rate limiter
// pruning) lives until ctx ends.
func New(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	limiter := middleware.NewRateLimiter(refreshRequests, refreshWindow)
	go limiter.Run(ctx)
	limited := limiter.Middleware()

	workflowHandler := handlers.NewWorkflowHandler(deps.Repository)
	executionHandler := handlers.NewExecutionHandler(deps.Repository)
	streamHandler := handlers.NewStreamHandler(ctx, deps.Repository, logger.Named("live"))
	settingsHandler := handlers.NewSettingsHandler(deps.Settings)
	versionHandler := handlers.NewVersionHandler()
	systemHandler := handlers.NewSystemHandler(deps.Repository, deps.Sync, deps.Maintenance, metrics.Paths{
		Database:   cfg.Database.Path,
		PayloadDir: cfg.Database.PayloadDir,
	})

	prefix := r.Group(cfg.Server.PathPrefix)
	api := prefix.Group("/api")
	{
		api.GET("/health", systemHandler.Health)
		api.GET("/version", versionHandler.Get)
		api.GET("/summary", systemHandler.Summary)
		api.GET("/cache/stats", systemHandler.CacheStats)
		api.POST("/maintenance/cleanup", limited, systemHandler.Cleanup)

		api.GET("/settings", settingsHandler.Show)
		api.PUT("/settings", settingsHandler.Update)
		api.DELETE("/settings", settingsHandler.Clear)

		api.GET("/workflows", workflowHandler.List)
		api.GET("/workflows/bookmarked", workflowHandler.Bookmarked)
		api.POST("/workflows/refresh", limited, workflowHandler.Refresh)
		api.GET("/workflows/:id", workflowHandler.Get)
		api.PUT("/workflows/:id/bookmark", workflowHandler.SetBookmark)
		api.POST("/workflows/:id/bookmark/toggle", workflowHandler.ToggleBookmark)
		api.GET("/workflows/:id/stats", workflowHandler.Stats)
		api.GET("/workflows/:id/executions", workflowHandler.Executions)
		api.POST("/workflows/:id/executions/refresh", limited, workflowHandler.RefreshExecutions)

		api.GET("/executions", executionHandler.List)
		api.GET("/executions/latest", executionHandler.Latest)
		api.POST("/executions/refresh", limited, executionHandler.Refresh)
		api.GET("/executions/:id", executionHandler.Get)
		api.GET("/executions/:id/payload", executionHandler.Payload)
		api.POST("/executions/:id/stop", limited, executionHandler.Stop)

		live := api.Group("/live")
		live.GET("/workflows", streamHandler.Workflows)
		live.GET("/workflows/bookmarked", streamHandler.Bookmarked)
		live.GET("/workflows/:id/executions", streamHandler.WorkflowExecutions)
		live.GET("/executions", streamHandler.ExecutionsByStatus)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}
