package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/validation"
)

// WorkflowHandler serves stored workflows and triggers their refresh.
type WorkflowHandler struct {
	repo *repository.Repository
	now  func() time.Time
}

func NewWorkflowHandler(repo *repository.Repository) *WorkflowHandler {
	return &WorkflowHandler{repo: repo, now: time.Now}
}

// List returns stored workflows, bookmarked first. With q set it searches
// names instead.
// GET /api/workflows?active=true&limit=50&q=name
func (h *WorkflowHandler) List(c *gin.Context) {
	active, ok := queryBool(c, "active")
	if !ok {
		return
	}
	isActive := active == nil || *active

	if q := c.Query("q"); q != "" {
		if err := validation.ValidateSearchQuery(q, maxSearchLength); err != nil {
			badRequest(c, err.Error())
			return
		}
		list, err := h.repo.SearchWorkflows(c.Request.Context(), q, isActive)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"workflows": list, "count": len(list)})
		return
	}

	limit, ok := queryLimit(c, defaultListLimit)
	if !ok {
		return
	}
	list, err := h.repo.Workflows(c.Request.Context(), isActive, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": list, "count": len(list)})
}

// Bookmarked returns bookmarked workflows of either state.
// GET /api/workflows/bookmarked
func (h *WorkflowHandler) Bookmarked(c *gin.Context) {
	list, err := h.repo.BookmarkedWorkflows(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": list, "count": len(list)})
}

// Get returns one workflow from the store, or from the server when
// refresh=true.
// GET /api/workflows/:id
func (h *WorkflowHandler) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	refresh, ok := queryBool(c, "refresh")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var err error
	var result any
	if refresh != nil && *refresh {
		result, err = h.repo.GetWorkflow(ctx, id)
	} else {
		result, err = h.repo.Workflow(ctx, id)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh pulls workflows from the server. Without active both states are
// fetched.
// POST /api/workflows/refresh?active=true
func (h *WorkflowHandler) Refresh(c *gin.Context) {
	active, ok := queryBool(c, "active")
	if !ok {
		return
	}
	list, err := h.repo.RefreshWorkflows(c.Request.Context(), active)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": list, "count": len(list)})
}

type bookmarkRequest struct {
	Bookmarked *bool `json:"bookmarked" binding:"required"`
}

// SetBookmark sets the local bookmark flag.
// PUT /api/workflows/:id/bookmark
func (h *WorkflowHandler) SetBookmark(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req bookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bookmarked is required")
		return
	}
	if err := h.repo.SetBookmark(c.Request.Context(), id, *req.Bookmarked); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_bookmarked": *req.Bookmarked})
}

// ToggleBookmark flips the bookmark flag.
// POST /api/workflows/:id/bookmark/toggle
func (h *WorkflowHandler) ToggleBookmark(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	bookmarked, err := h.repo.ToggleBookmark(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_bookmarked": bookmarked})
}

// Stats groups the workflow's executions by status.
// GET /api/workflows/:id/stats?since=24h
func (h *WorkflowHandler) Stats(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	since, ok := querySince(c, h.now())
	if !ok {
		return
	}
	stats, err := h.repo.Stats(c.Request.Context(), id, since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow_id": id, "since": since.UTC(), "statuses": stats})
}

// Executions lists the stored executions of a workflow.
// GET /api/workflows/:id/executions?limit=20
func (h *WorkflowHandler) Executions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, ok := queryLimit(c, repository.DefaultExecutionLimit)
	if !ok {
		return
	}
	list, err := h.repo.Executions(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": list, "count": len(list)})
}

// RefreshExecutions pulls the newest executions of a workflow from the
// server.
// POST /api/workflows/:id/executions/refresh?limit=20
func (h *WorkflowHandler) RefreshExecutions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, ok := queryLimit(c, repository.DefaultExecutionLimit)
	if !ok {
		return
	}
	list, err := h.repo.RefreshExecutions(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": list, "count": len(list)})
}
