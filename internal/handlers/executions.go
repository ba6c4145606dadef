package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/validation"
)

// ExecutionHandler serves stored executions and forwards stop requests.
type ExecutionHandler struct {
	repo *repository.Repository
}

func NewExecutionHandler(repo *repository.Repository) *ExecutionHandler {
	return &ExecutionHandler{repo: repo}
}

// List returns stored executions, filtered by status when given.
// GET /api/executions?status=error&limit=50
func (h *ExecutionHandler) List(c *gin.Context) {
	limit, ok := queryLimit(c, defaultListLimit)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	status := c.Query("status")
	if status != "" {
		if err := validation.ValidateID(status); err != nil {
			badRequest(c, "invalid status")
			return
		}
		list, err := h.repo.ExecutionsByStatus(ctx, status, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"executions": list, "count": len(list)})
		return
	}

	list, err := h.repo.RecentExecutions(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": list, "count": len(list)})
}

// Latest returns the newest stored execution of every workflow.
// GET /api/executions/latest
func (h *ExecutionHandler) Latest(c *gin.Context) {
	list, err := h.repo.LatestExecutions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": list, "count": len(list)})
}

// Refresh pulls the newest executions across all workflows.
// POST /api/executions/refresh?limit=20
func (h *ExecutionHandler) Refresh(c *gin.Context) {
	limit, ok := queryLimit(c, repository.DefaultExecutionLimit)
	if !ok {
		return
	}
	list, err := h.repo.RefreshExecutions(c.Request.Context(), "", limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": list, "count": len(list)})
}

// Get returns one execution. refresh=true fetches it from the server, and
// include_data=true also stores its node data.
// GET /api/executions/:id?refresh=true&include_data=true
func (h *ExecutionHandler) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	refresh, ok := queryBool(c, "refresh")
	if !ok {
		return
	}
	includeData, ok := queryBool(c, "include_data")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if (refresh != nil && *refresh) || (includeData != nil && *includeData) {
		detail, err := h.repo.GetExecution(ctx, id, includeData != nil && *includeData)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
		return
	}

	e, err := h.repo.Execution(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// Payload returns the stored node data of an execution.
// GET /api/executions/:id/payload
func (h *ExecutionHandler) Payload(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	nodes, err := h.repo.ExecutionPayload(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "nodes": nodes})
}

// Stop asks the server to stop a running execution.
// POST /api/executions/:id/stop
func (h *ExecutionHandler) Stop(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.repo.StopExecution(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "message": "stop requested"})
}
