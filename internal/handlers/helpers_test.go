package handlers_test

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/cache"
	"github.com/pandeptwidyaop/n8n-monitor/internal/config"
	"github.com/pandeptwidyaop/n8n-monitor/internal/database"
	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
	"github.com/pandeptwidyaop/n8n-monitor/internal/remote"
	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/router"
	"github.com/pandeptwidyaop/n8n-monitor/internal/services"
	"github.com/pandeptwidyaop/n8n-monitor/internal/settings"
	"github.com/pandeptwidyaop/n8n-monitor/internal/store"
)

type fakeRemote struct {
	mu         sync.Mutex
	workflows  []models.WorkflowDTO
	executions []models.ExecutionDTO
	err        error
	stopErr    error
	stopped    []string
}

func (f *fakeRemote) ListWorkflows(ctx context.Context, q remote.WorkflowQuery) ([]models.WorkflowDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.workflows, nil
}

func (f *fakeRemote) GetWorkflow(ctx context.Context, id string) (models.WorkflowDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workflows {
		if w.ID == id {
			return w, nil
		}
	}
	return models.WorkflowDTO{}, &remote.HTTPError{StatusCode: http.StatusNotFound, Message: "Not Found"}
}

func (f *fakeRemote) ListExecutions(ctx context.Context, q remote.ExecutionQuery) (models.ExecutionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.ExecutionsResponse{}, f.err
	}
	return models.ExecutionsResponse{Results: f.executions}, nil
}

func (f *fakeRemote) GetExecution(ctx context.Context, id string, includeData bool) (models.ExecutionDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.executions {
		if e.ID == id {
			if includeData {
				e.Nodes = []models.ExecutionNodeDTO{{ID: "n1", Name: "Webhook", Type: "n8n-nodes-base.webhook", Status: "success"}}
			}
			return e, nil
		}
	}
	return models.ExecutionDTO{}, &remote.HTTPError{StatusCode: http.StatusNotFound, Message: "Not Found"}
}

func (f *fakeRemote) StopExecution(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, id)
	return nil
}

type stubSync struct{ report *services.SyncReport }

func (s stubSync) Last() *services.SyncReport { return s.report }

type apiFixture struct {
	router   *gin.Engine
	repo     *repository.Repository
	settings *settings.Store
	remote   *fakeRemote
	reaper   *services.Reaper
	// stop ends the server lifetime context passed to the router.
	stop context.CancelFunc
}

func strPtr(s string) *string { return &s }

func setupAPITest(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	st, err := settings.Open(filepath.Join(dir, "settings.enc"), make([]byte, 32), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}
	if err := st.SetBaseURL("https://n8n.example.com/"); err != nil {
		t.Fatalf("failed to set base url: %v", err)
	}
	if err := st.SetAPIKey("n8n_api_0123456789"); err != nil {
		t.Fatalf("failed to set api key: %v", err)
	}

	db, err := database.New(database.Options{})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	payloads, err := store.NewPayloadStore(filepath.Join(dir, "payloads"), "test-passphrase")
	if err != nil {
		t.Fatalf("failed to create payload store: %v", err)
	}

	f := &apiFixture{
		settings: st,
		remote: &fakeRemote{
			workflows: []models.WorkflowDTO{
				{ID: "w1", Name: "Orders", Active: true, UpdatedAt: "2024-01-01T00:00:00.000Z"},
				{ID: "w2", Name: "Invoices", Active: true, UpdatedAt: "2024-01-02T00:00:00.000Z"},
			},
			executions: []models.ExecutionDTO{
				{ID: "e1", WorkflowID: "w1", Status: "error", Start: strPtr(models.FormatTime(time.Now().Add(-time.Hour)))},
				{ID: "e2", WorkflowID: "w1", Status: "success", Start: strPtr(models.FormatTime(time.Now().Add(-2 * time.Hour)))},
			},
		},
	}

	f.repo = repository.New(st, store.New(db, zap.NewNop()), repository.Options{
		Cache:     cache.New(time.Minute, 10),
		Payloads:  payloads,
		NewClient: func(conn repository.Connection) remote.API { return f.remote },
	})
	f.reaper = services.NewReaper(f.repo, services.ReaperOptions{KeepExecutions: 100}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.stop = cancel

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg.Database.Path = filepath.Join(dir, "monitor.db")
	cfg.Database.PayloadDir = filepath.Join(dir, "payloads")

	f.router = router.New(ctx, cfg, router.Deps{
		Repository:  f.repo,
		Settings:    st,
		Sync:        stubSync{},
		Maintenance: f.reaper,
	})
	return f
}
