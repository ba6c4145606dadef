package handlers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/validation"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts non-browser clients and pages served from this host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// liveMessage is one frame pushed to a live query subscriber.
type liveMessage[T any] struct {
	Type  string    `json:"type"`
	Query string    `json:"query"`
	Data  T         `json:"data"`
	At    time.Time `json:"at"`
}

// StreamHandler pushes live query results over WebSocket. Each frame is the
// full current result; a new frame follows every store change that
// affects it.
//
// Sockets are hijacked from the HTTP server, so they end with ctx rather
// than with server shutdown.
type StreamHandler struct {
	ctx    context.Context
	repo   *repository.Repository
	logger *zap.Logger
}

func NewStreamHandler(ctx context.Context, repo *repository.Repository, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{ctx: ctx, repo: repo, logger: logger}
}

// Workflows streams the stored workflow list.
// GET /api/live/workflows?active=true&limit=50
func (h *StreamHandler) Workflows(c *gin.Context) {
	active, ok := queryBool(c, "active")
	if !ok {
		return
	}
	limit, ok := queryLimit(c, defaultListLimit)
	if !ok {
		return
	}
	isActive := active == nil || *active
	serve(c, h.ctx, h.logger, "workflows", func(ctx context.Context) <-chan []models.Workflow {
		return h.repo.WatchWorkflows(ctx, isActive, limit)
	})
}

// Bookmarked streams the bookmarked workflows.
// GET /api/live/workflows/bookmarked
func (h *StreamHandler) Bookmarked(c *gin.Context) {
	serve(c, h.ctx, h.logger, "bookmarked_workflows", h.repo.WatchBookmarkedWorkflows)
}

// WorkflowExecutions streams the stored executions of one workflow.
// GET /api/live/workflows/:id/executions?limit=20
func (h *StreamHandler) WorkflowExecutions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, ok := queryLimit(c, repository.DefaultExecutionLimit)
	if !ok {
		return
	}
	serve(c, h.ctx, h.logger, "workflow_executions", func(ctx context.Context) <-chan []models.Execution {
		return h.repo.WatchExecutions(ctx, id, limit)
	})
}

// ExecutionsByStatus streams stored executions with one status.
// GET /api/live/executions?status=error&limit=50
func (h *StreamHandler) ExecutionsByStatus(c *gin.Context) {
	status := c.Query("status")
	if err := validation.ValidateID(status); err != nil {
		badRequest(c, "status is required")
		return
	}
	limit, ok := queryLimit(c, defaultListLimit)
	if !ok {
		return
	}
	serve(c, h.ctx, h.logger, "executions_by_status", func(ctx context.Context) <-chan []models.Execution {
		return h.repo.WatchExecutionsByStatus(ctx, status, limit)
	})
}

// serve upgrades the request and forwards every result of subscribe until
// either side goes away or base ends. Incoming frames are discarded; reading them is
// what detects a closed client.
func serve[T any](c *gin.Context, base context.Context, logger *zap.Logger, query string, subscribe func(ctx context.Context) <-chan T) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.String("query", query), zap.Error(err))
		return
	}
	defer func() { _ = ws.Close() }()

	ctx, cancel := context.WithCancel(base)
	defer cancel()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Debug("live query subscribed", zap.String("query", query))
	defer logger.Debug("live query closed", zap.String("query", query))

	results := subscribe(ctx)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if base.Err() != nil {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		case data, ok := <-results:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			msg := liveMessage[T]{Type: "snapshot", Query: query, Data: data, At: time.Now().UTC()}
			if err := ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
