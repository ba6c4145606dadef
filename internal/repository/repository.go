// Package repository reconciles the n8n server with the local store. It
// owns the remote client lifecycle, classifies every failure and keeps the
// memory cache consistent with committed writes.
package repository

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pandeptwidyaop/n8n-monitor/internal/cache"
	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
	"github.com/pandeptwidyaop/n8n-monitor/internal/remote"
	"github.com/pandeptwidyaop/n8n-monitor/internal/settings"
	"github.com/pandeptwidyaop/n8n-monitor/internal/store"
)

const (
	// DefaultRetention is the staleness horizon used by Cleanup.
	DefaultRetention = 24 * time.Hour
	// DefaultPageSize is the number of workflows requested per refresh.
	DefaultPageSize = 250
	// DefaultExecutionLimit is used when a caller passes no limit.
	DefaultExecutionLimit = 20
	// DefaultCallTimeout bounds one coalesced refresh, including parent
	// lookups.
	DefaultCallTimeout = 2 * time.Minute
)

// SecretSource provides the connection settings.
type SecretSource interface {
	BaseURL() settings.Value
	APIKey() settings.Value
}

// ClientFactory builds a remote client for a validated connection.
type ClientFactory func(conn Connection) remote.API

// Options configures a Repository. Zero values select defaults.
type Options struct {
	Cache     *cache.Cache
	Payloads  *store.PayloadStore
	NewClient ClientFactory
	// Timeout and UserAgent configure the default client factory.
	Timeout   time.Duration
	UserAgent string
	// CallTimeout bounds a coalesced refresh shared by several callers.
	CallTimeout time.Duration
	Retention   time.Duration
	PageSize    int
	Logger      *zap.Logger
	Now         func() time.Time
}

// Repository is the synchronization layer between the n8n API, the
// settings and the entity store.
type Repository struct {
	secrets     SecretSource
	store       *store.Store
	cache       *cache.Cache
	payloads    *store.PayloadStore
	newClient   ClientFactory
	callTimeout time.Duration
	retention   time.Duration
	pageSize    int
	logger      *zap.Logger
	now         func() time.Time
	flights     singleflight.Group

	mu     sync.Mutex
	client remote.API
	conn   Connection
}

// ExecutionDetail is an execution together with its node data, when it was
// requested.
type ExecutionDetail struct {
	models.Execution
	Nodes []models.ExecutionNodeDTO `json:"nodes,omitempty"`
}

// Summary is the dashboard overview built from the local store.
type Summary struct {
	ActiveWorkflows     int                     `json:"active_workflows"`
	BookmarkedWorkflows int                     `json:"bookmarked_workflows"`
	ExecutionsSince     int                     `json:"executions_since"`
	Statuses            []models.ExecutionStats `json:"statuses"`
	Since               string                  `json:"since"`
}

func New(secrets SecretSource, st *store.Store, opts Options) *Repository {
	r := &Repository{
		secrets:     secrets,
		store:       st,
		cache:       opts.Cache,
		payloads:    opts.Payloads,
		newClient:   opts.NewClient,
		callTimeout: opts.CallTimeout,
		retention:   opts.Retention,
		pageSize:    opts.PageSize,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if r.cache == nil {
		r.cache = cache.New(cache.DefaultTTL, cache.DefaultCapacity)
	}
	if r.newClient == nil {
		clientOpts := remote.Options{Timeout: opts.Timeout, UserAgent: opts.UserAgent}
		r.newClient = func(conn Connection) remote.API {
			return remote.New(conn.BaseURL, conn.APIKey, clientOpts)
		}
	}
	if r.callTimeout <= 0 {
		r.callTimeout = DefaultCallTimeout
	}
	if r.retention <= 0 {
		r.retention = DefaultRetention
	}
	if r.pageSize <= 0 {
		r.pageSize = DefaultPageSize
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Cache returns the memory cache in front of the store.
func (r *Repository) Cache() *cache.Cache {
	return r.cache
}

// remoteClient validates the settings and returns a client for them. The
// client is reused until the URL or key changes.
func (r *Repository) remoteClient(op string) (remote.API, error) {
	conn, err := ValidateConnection(r.secrets.BaseURL(), r.secrets.APIKey())
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Op = op
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil || r.conn != conn {
		r.client = r.newClient(conn)
		r.conn = conn
		r.logger.Debug("remote client configured", zap.String("base_url", conn.BaseURL))
	}
	return r.client, nil
}

// ResetClient drops the cached client so the next call rebuilds it.
func (r *Repository) ResetClient() {
	r.mu.Lock()
	r.client = nil
	r.conn = Connection{}
	r.mu.Unlock()
}

// flight collapses concurrent identical calls into one. The shared call
// runs detached from every caller so one caller leaving cannot fail the
// others; it is bounded by timeout instead. A caller whose ctx ends stops
// waiting.
func flight[T any](ctx context.Context, g *singleflight.Group, timeout time.Duration, op, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(shared)
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, classify(op, ctx.Err(), false)
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// RefreshWorkflows fetches workflows from the server and upserts them. A
// nil active fetches both states.
func (r *Repository) RefreshWorkflows(ctx context.Context, active *bool) ([]models.Workflow, error) {
	const op = "refresh workflows"
	key := "workflows:" + boolKey(active)

	return flight(ctx, &r.flights, r.callTimeout, op, key, func(ctx context.Context) ([]models.Workflow, error) {
		client, err := r.remoteClient(op)
		if err != nil {
			return nil, err
		}

		dtos, err := client.ListWorkflows(ctx, remote.WorkflowQuery{Active: active, Limit: r.pageSize})
		if err != nil {
			return nil, classify(op, err, false)
		}

		syncTime := r.now().UnixMilli()
		entities := make([]models.Workflow, 0, len(dtos))
		ids := make([]string, 0, len(dtos))
		for i := range dtos {
			entities = append(entities, dtos[i].ToEntity(syncTime))
			ids = append(ids, dtos[i].ID)
		}

		err = r.store.UpsertWorkflows(ctx, entities)
		r.invalidateWorkflows(ids...)
		if err != nil {
			return nil, storageError(op, err)
		}

		stored, err := r.store.GetWorkflows(ctx, ids)
		if err != nil {
			return nil, storageError(op, err)
		}
		r.logger.Debug("workflows refreshed", zap.Int("count", len(stored)))
		return stored, nil
	})
}

// GetWorkflow fetches one workflow from the server and upserts it.
func (r *Repository) GetWorkflow(ctx context.Context, id string) (models.Workflow, error) {
	const op = "get workflow"

	return flight(ctx, &r.flights, r.callTimeout, op, "workflow:"+id, func(ctx context.Context) (models.Workflow, error) {
		client, err := r.remoteClient(op)
		if err != nil {
			return models.Workflow{}, err
		}

		dto, err := client.GetWorkflow(ctx, id)
		if err != nil {
			return models.Workflow{}, classify(op, err, false)
		}

		err = r.store.UpsertWorkflows(ctx, []models.Workflow{dto.ToEntity(r.now().UnixMilli())})
		r.invalidateWorkflows(dto.ID)
		if err != nil {
			return models.Workflow{}, storageError(op, err)
		}

		w, err := r.store.GetWorkflow(ctx, dto.ID)
		if err != nil {
			return models.Workflow{}, storageError(op, err)
		}
		r.cache.PutWorkflow(w.ID, w)
		return w, nil
	})
}

// RefreshExecutions fetches the newest executions of a workflow, or of all
// workflows when workflowID is empty, and stores them. Parent workflows
// missing locally are fetched first.
func (r *Repository) RefreshExecutions(ctx context.Context, workflowID string, limit int) ([]models.Execution, error) {
	const op = "refresh executions"
	if limit <= 0 {
		limit = DefaultExecutionLimit
	}
	key := "executions:" + workflowID + ":" + strconv.Itoa(limit)

	return flight(ctx, &r.flights, r.callTimeout, op, key, func(ctx context.Context) ([]models.Execution, error) {
		client, err := r.remoteClient(op)
		if err != nil {
			return nil, err
		}

		page, err := client.ListExecutions(ctx, remote.ExecutionQuery{WorkflowID: workflowID, Limit: limit})
		if err != nil {
			return nil, classify(op, err, false)
		}

		syncTime := r.now().UnixMilli()
		executions := make([]models.Execution, 0, len(page.Results))
		for i := range page.Results {
			e := page.Results[i].ToEntity(syncTime)
			if e.WorkflowID == "" {
				e.WorkflowID = workflowID
			}
			executions = append(executions, e)
		}

		parents, executions, err := r.resolveParents(ctx, op, client, executions, syncTime)
		if err != nil {
			return nil, err
		}

		err = r.store.SyncExecutions(ctx, parents, executions)
		r.invalidateExecutions(executions)
		if err != nil {
			return nil, storageError(op, err)
		}
		r.logger.Debug("executions refreshed",
			zap.String("workflow_id", workflowID),
			zap.Int("count", len(executions)),
			zap.Int("parents", len(parents)))
		return executions, nil
	})
}

// resolveParents returns the workflows that must be stored alongside
// executions so the foreign key holds. Executions whose workflow no longer
// exists on the server are dropped.
func (r *Repository) resolveParents(ctx context.Context, op string, client remote.API, executions []models.Execution, syncTime int64) ([]models.Workflow, []models.Execution, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, e := range executions {
		if e.WorkflowID != "" && !seen[e.WorkflowID] {
			seen[e.WorkflowID] = true
			ids = append(ids, e.WorkflowID)
		}
	}

	known, err := r.store.GetWorkflows(ctx, ids)
	if err != nil {
		return nil, nil, storageError(op, err)
	}
	stored := make(map[string]bool, len(known))
	for _, w := range known {
		stored[w.ID] = true
	}

	var parents []models.Workflow
	gone := make(map[string]bool)
	for _, id := range ids {
		if stored[id] {
			continue
		}
		dto, err := client.GetWorkflow(ctx, id)
		if err != nil {
			classified := classify(op, err, false)
			if KindOf(classified) != KindNotFound {
				return nil, nil, classified
			}
			r.logger.Warn("dropping executions of deleted workflow", zap.String("workflow_id", id))
			gone[id] = true
			continue
		}
		parents = append(parents, dto.ToEntity(syncTime))
	}

	kept := executions[:0]
	for _, e := range executions {
		if e.WorkflowID == "" || gone[e.WorkflowID] {
			continue
		}
		kept = append(kept, e)
	}
	return parents, kept, nil
}

// GetExecution fetches one execution from the server and stores it. With
// includeData the node data is written to an encrypted payload file and
// returned.
func (r *Repository) GetExecution(ctx context.Context, id string, includeData bool) (ExecutionDetail, error) {
	const op = "get execution"
	key := "execution:" + id + ":" + strconv.FormatBool(includeData)

	return flight(ctx, &r.flights, r.callTimeout, op, key, func(ctx context.Context) (ExecutionDetail, error) {
		client, err := r.remoteClient(op)
		if err != nil {
			return ExecutionDetail{}, err
		}

		dto, err := client.GetExecution(ctx, id, includeData)
		if err != nil {
			return ExecutionDetail{}, classify(op, err, false)
		}

		syncTime := r.now().UnixMilli()
		e := dto.ToEntity(syncTime)

		parents, kept, err := r.resolveParents(ctx, op, client, []models.Execution{e}, syncTime)
		if err != nil {
			return ExecutionDetail{}, err
		}
		if len(kept) == 0 {
			return ExecutionDetail{}, &Error{Kind: KindNotFound, Op: op, Err: store.ErrNotFound}
		}

		if includeData && len(dto.Nodes) > 0 && r.payloads != nil {
			path, err := r.payloads.Write(e.ID, dto.Nodes)
			if err != nil {
				return ExecutionDetail{}, storageError(op, err)
			}
			kept[0].DataChunkPath = &path
		}

		err = r.store.SyncExecutions(ctx, parents, kept)
		r.invalidateExecutions(kept)
		if err != nil {
			return ExecutionDetail{}, storageError(op, err)
		}

		stored, err := r.store.GetExecution(ctx, e.ID)
		if err != nil {
			return ExecutionDetail{}, storageError(op, err)
		}
		detail := ExecutionDetail{Execution: stored}
		if includeData {
			detail.Nodes = dto.Nodes
		}
		return detail, nil
	})
}

// ExecutionPayload reads the stored node data of an execution.
func (r *Repository) ExecutionPayload(ctx context.Context, id string) ([]models.ExecutionNodeDTO, error) {
	const op = "read execution payload"

	e, err := r.Execution(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.DataChunkPath == nil || r.payloads == nil {
		return nil, &Error{Kind: KindNotFound, Op: op, Err: store.ErrNotFound}
	}
	nodes, err := r.payloads.Read(*e.DataChunkPath)
	if err != nil {
		return nil, storageError(op, err)
	}
	return nodes, nil
}

// StopExecution asks the server to stop a running execution. The local row
// is left alone; the next refresh records the final state.
func (r *Repository) StopExecution(ctx context.Context, id string) error {
	const op = "stop execution"

	client, err := r.remoteClient(op)
	if err != nil {
		return err
	}
	if err := client.StopExecution(ctx, id); err != nil {
		return classify(op, err, true)
	}
	r.logger.Info("execution stop requested", zap.String("execution_id", id))
	return nil
}

// Workflows lists stored workflows, bookmarked first.
func (r *Repository) Workflows(ctx context.Context, active bool, limit int) ([]models.Workflow, error) {
	key := cache.WorkflowListKey(active, limit)
	if list, ok := r.cache.GetWorkflowList(key); ok {
		return list, nil
	}
	list, err := r.store.ListWorkflows(ctx, active, limit)
	if err != nil {
		return nil, storageError("list workflows", err)
	}
	r.cache.PutWorkflowList(key, list)
	return list, nil
}

// Workflow returns one stored workflow.
func (r *Repository) Workflow(ctx context.Context, id string) (models.Workflow, error) {
	if w, ok := r.cache.GetWorkflow(id); ok {
		return w, nil
	}
	w, err := r.store.GetWorkflow(ctx, id)
	if err != nil {
		return models.Workflow{}, storageError("read workflow", err)
	}
	r.cache.PutWorkflow(id, w)
	return w, nil
}

func (r *Repository) BookmarkedWorkflows(ctx context.Context) ([]models.Workflow, error) {
	list, err := r.store.ListBookmarkedWorkflows(ctx)
	if err != nil {
		return nil, storageError("list bookmarked workflows", err)
	}
	return list, nil
}

func (r *Repository) SearchWorkflows(ctx context.Context, query string, active bool) ([]models.Workflow, error) {
	list, err := r.store.SearchWorkflows(ctx, query, active)
	if err != nil {
		return nil, storageError("search workflows", err)
	}
	return list, nil
}

// Executions lists stored executions of a workflow, newest first.
func (r *Repository) Executions(ctx context.Context, workflowID string, limit int) ([]models.Execution, error) {
	key := cache.ExecutionListKey(workflowID, limit)
	if list, ok := r.cache.GetExecutionList(key); ok {
		return list, nil
	}
	list, err := r.store.ListExecutionsForWorkflow(ctx, workflowID, limit)
	if err != nil {
		return nil, storageError("list executions", err)
	}
	r.cache.PutExecutionList(key, list)
	return list, nil
}

func (r *Repository) ExecutionsByStatus(ctx context.Context, status string, limit int) ([]models.Execution, error) {
	list, err := r.store.ListExecutionsByStatus(ctx, status, limit)
	if err != nil {
		return nil, storageError("list executions by status", err)
	}
	return list, nil
}

func (r *Repository) FailedExecutionsSince(ctx context.Context, since time.Time) ([]models.Execution, error) {
	list, err := r.store.FailedExecutionsSince(ctx, models.FormatTime(since))
	if err != nil {
		return nil, storageError("list failed executions", err)
	}
	return list, nil
}

// Execution returns one stored execution.
func (r *Repository) Execution(ctx context.Context, id string) (models.Execution, error) {
	if e, ok := r.cache.GetExecution(id); ok {
		return e, nil
	}
	e, err := r.store.GetExecution(ctx, id)
	if err != nil {
		return models.Execution{}, storageError("read execution", err)
	}
	r.cache.PutExecution(id, e)
	return e, nil
}

// Stats groups executions started after since by status, for one workflow
// or for all when workflowID is empty.
func (r *Repository) Stats(ctx context.Context, workflowID string, since time.Time) ([]models.ExecutionStats, error) {
	sinceKey := models.FormatTime(since)
	scope := workflowID
	if scope == "" {
		scope = "all"
	}
	key := cache.StatsKey(scope, sinceKey)
	if stats, ok := r.cache.GetStats(key); ok {
		return stats, nil
	}

	var (
		stats []models.ExecutionStats
		err   error
	)
	if workflowID == "" {
		stats, err = r.store.OverallExecutionStats(ctx, sinceKey)
	} else {
		stats, err = r.store.ExecutionStatsByWorkflow(ctx, workflowID, sinceKey)
	}
	if err != nil {
		return nil, storageError("execution stats", err)
	}
	r.cache.PutStats(key, stats)
	return stats, nil
}

// Summary reports store-wide counts for executions started after since.
func (r *Repository) Summary(ctx context.Context, since time.Time) (Summary, error) {
	const op = "summary"
	var (
		s   = Summary{Since: models.FormatTime(since)}
		err error
	)
	if s.ActiveWorkflows, err = r.store.CountActiveWorkflows(ctx); err != nil {
		return Summary{}, storageError(op, err)
	}
	if s.BookmarkedWorkflows, err = r.store.CountBookmarkedWorkflows(ctx); err != nil {
		return Summary{}, storageError(op, err)
	}
	if s.ExecutionsSince, err = r.store.CountExecutionsSince(ctx, s.Since); err != nil {
		return Summary{}, storageError(op, err)
	}
	if s.Statuses, err = r.Stats(ctx, "", since); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// LatestExecutions returns the newest stored execution of every workflow.
func (r *Repository) LatestExecutions(ctx context.Context) ([]models.Execution, error) {
	list, err := r.store.LatestExecutionPerWorkflow(ctx)
	if err != nil {
		return nil, storageError("latest executions", err)
	}
	return list, nil
}

// RecentExecutions returns the newest stored executions across workflows.
func (r *Repository) RecentExecutions(ctx context.Context, limit int) ([]models.Execution, error) {
	list, err := r.store.RecentExecutions(ctx, limit)
	if err != nil {
		return nil, storageError("recent executions", err)
	}
	return list, nil
}

// WatchWorkflows streams the stored workflow list after every change.
func (r *Repository) WatchWorkflows(ctx context.Context, active bool, limit int) <-chan []models.Workflow {
	return r.store.WatchWorkflows(ctx, active, limit)
}

func (r *Repository) WatchBookmarkedWorkflows(ctx context.Context) <-chan []models.Workflow {
	return r.store.WatchBookmarkedWorkflows(ctx)
}

// WatchExecutions streams a workflow's stored executions after every change.
func (r *Repository) WatchExecutions(ctx context.Context, workflowID string, limit int) <-chan []models.Execution {
	return r.store.WatchExecutionsForWorkflow(ctx, workflowID, limit)
}

func (r *Repository) WatchExecutionsByStatus(ctx context.Context, status string, limit int) <-chan []models.Execution {
	return r.store.WatchExecutionsByStatus(ctx, status, limit)
}

// SetBookmark updates the bookmark flag locally. The server is not
// contacted.
func (r *Repository) SetBookmark(ctx context.Context, workflowID string, bookmarked bool) error {
	err := r.store.UpdateBookmark(ctx, workflowID, bookmarked)
	r.invalidateWorkflows(workflowID)
	if err != nil {
		return storageError("set bookmark", err)
	}
	return nil
}

// ToggleBookmark flips the bookmark flag and returns the new value.
func (r *Repository) ToggleBookmark(ctx context.Context, workflowID string) (bool, error) {
	w, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return false, storageError("toggle bookmark", err)
	}
	next := !w.IsBookmarked
	if err := r.SetBookmark(ctx, workflowID, next); err != nil {
		return false, err
	}
	return next, nil
}

// Cleanup deletes rows not synced within the retention horizon. Deleting a
// workflow deletes its executions.
func (r *Repository) Cleanup(ctx context.Context) (store.StaleResult, error) {
	cutoff := r.now().Add(-r.retention).UnixMilli()
	res, err := r.store.DeleteStale(ctx, cutoff)
	if err != nil {
		return store.StaleResult{}, storageError("cleanup", err)
	}
	if res.Workflows > 0 || res.Executions > 0 {
		r.cache.InvalidateAll()
		r.logger.Info("stale records removed",
			zap.Int64("workflows", res.Workflows),
			zap.Int64("executions", res.Executions))
	}
	return res, nil
}

// TrimExecutions keeps the newest keep executions of every workflow.
func (r *Repository) TrimExecutions(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	n, err := r.store.TrimExecutions(ctx, keep)
	if n > 0 {
		r.cache.InvalidateRelated(cache.KindExecution)
	}
	if err != nil {
		return n, storageError("trim executions", err)
	}
	return n, nil
}

// RemoveOrphanPayloads deletes payload files no execution refers to.
func (r *Repository) RemoveOrphanPayloads(ctx context.Context) (int, error) {
	const op = "remove orphan payloads"
	if r.payloads == nil {
		return 0, nil
	}
	paths, err := r.store.PayloadPaths(ctx)
	if err != nil {
		return 0, storageError(op, err)
	}
	n, err := r.payloads.RemoveOrphans(paths)
	if err != nil {
		return n, storageError(op, err)
	}
	return n, nil
}

// Reset drops the cached client and every cached read. It is used when the
// connection settings are cleared.
func (r *Repository) Reset() {
	r.ResetClient()
	r.cache.InvalidateAll()
}

func (r *Repository) invalidateWorkflows(ids ...string) {
	for _, id := range ids {
		r.cache.Invalidate(cache.KindWorkflow, id)
	}
	r.cache.InvalidateRelated(cache.KindWorkflow)
}

// invalidateExecutions also drops workflow entries, since a sync rewrites
// their last-execution fields.
func (r *Repository) invalidateExecutions(executions []models.Execution) {
	workflowIDs := make([]string, 0, len(executions))
	for _, e := range executions {
		r.cache.Invalidate(cache.KindExecution, e.ID)
		workflowIDs = append(workflowIDs, e.WorkflowID)
	}
	r.cache.InvalidateRelated(cache.KindExecution)
	r.invalidateWorkflows(workflowIDs...)
}

func boolKey(b *bool) string {
	if b == nil {
		return "any"
	}
	return strconv.FormatBool(*b)
}
