package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pandeptwidyaop/n8n-monitor/internal/metrics"
	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/services"
	"github.com/pandeptwidyaop/n8n-monitor/internal/version"
)

// SyncStatus reports the most recent poll.
type SyncStatus interface {
	Last() *services.SyncReport
}

// Maintenance runs and reports store cleanup.
type Maintenance interface {
	Run(ctx context.Context) (services.ReapReport, error)
	Last() *services.ReapReport
}

// SystemHandler serves health, summary and maintenance endpoints.
type SystemHandler struct {
	repo        *repository.Repository
	sync        SyncStatus
	maintenance Maintenance
	paths       metrics.Paths
	now         func() time.Time
}

// NewSystemHandler creates a SystemHandler. sync and maintenance may be nil
// when the background workers are not running.
func NewSystemHandler(repo *repository.Repository, sync SyncStatus, maintenance Maintenance, paths metrics.Paths) *SystemHandler {
	return &SystemHandler{
		repo:        repo,
		sync:        sync,
		maintenance: maintenance,
		paths:       paths,
		now:         time.Now,
	}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string               `json:"status"`
	Version     string               `json:"version"`
	LastSync    *services.SyncReport `json:"last_sync,omitempty"`
	LastCleanup *services.ReapReport `json:"last_cleanup,omitempty"`
	Diagnostics *metrics.Diagnostics `json:"diagnostics,omitempty"`
}

// Health reports daemon status. A failed last poll degrades the status but
// the endpoint still answers 200.
// GET /api/health
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Version: version.Version}

	if h.sync != nil {
		resp.LastSync = h.sync.Last()
		if resp.LastSync != nil && resp.LastSync.Error != "" {
			resp.Status = "degraded"
		}
	}
	if h.maintenance != nil {
		resp.LastCleanup = h.maintenance.Last()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if d, err := metrics.Collect(ctx, h.paths); err == nil {
		resp.Diagnostics = d
	}

	c.JSON(http.StatusOK, resp)
}

// Summary returns store-wide counts.
// GET /api/summary?since=24h
func (h *SystemHandler) Summary(c *gin.Context) {
	since, ok := querySince(c, h.now())
	if !ok {
		return
	}
	summary, err := h.repo.Summary(c.Request.Context(), since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// CacheStats reports memory cache occupancy and hit counters.
// GET /api/cache/stats
func (h *SystemHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.repo.Cache().Stats())
}

// Cleanup runs a maintenance pass now.
// POST /api/maintenance/cleanup
func (h *SystemHandler) Cleanup(c *gin.Context) {
	if h.maintenance == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "maintenance is not running"})
		return
	}
	report, err := h.maintenance.Run(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
