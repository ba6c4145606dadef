// Package services provides the background workers of the monitor daemon.
package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/cache"
	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/store"
)

// ReaperOptions configures the staleness reaper.
type ReaperOptions struct {
	CleanupInterval time.Duration
	SweepInterval   time.Duration
	// KeepExecutions is the per-workflow execution cap. Zero disables
	// trimming.
	KeepExecutions int
}

// ReapReport summarizes one storage pass.
type ReapReport struct {
	Stale          store.StaleResult `json:"stale"`
	Trimmed        int64             `json:"trimmed_executions"`
	OrphanPayloads int               `json:"orphan_payloads"`
	ExpiredEntries int               `json:"expired_cache_entries"`
	CompletedAt    time.Time         `json:"completed_at"`
}

// Reaper bounds store and cache growth. Storage cleanup and cache sweeps run
// on independent tickers.
type Reaper struct {
	repo   *repository.Repository
	cache  *cache.Cache
	opts   ReaperOptions
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	last *ReapReport
}

// NewReaper creates a Reaper over the repository and its cache.
func NewReaper(repo *repository.Repository, opts ReaperOptions, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reaper{
		repo:   repo,
		cache:  repo.Cache(),
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the cleanup and sweep loops.
func (r *Reaper) Start() {
	r.logger.Info("starting reaper",
		zap.Duration("cleanup_interval", r.opts.CleanupInterval),
		zap.Duration("sweep_interval", r.opts.SweepInterval),
		zap.Int("keep_executions", r.opts.KeepExecutions))

	r.wg.Add(2)
	go r.cleanupLoop()
	go r.sweepLoop()
}

// Stop halts both loops and waits for them to return.
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

// Last returns the report of the most recent storage pass.
func (r *Reaper) Last() *ReapReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Reaper) cleanupLoop() {
	defer r.wg.Done()

	// Run immediately on start
	r.runLogged()

	ticker := time.NewTicker(r.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.runLogged()
		}
	}
}

func (r *Reaper) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if n := r.cache.Sweep(); n > 0 {
				r.logger.Debug("expired cache entries swept", zap.Int("count", n))
			}
		}
	}
}

func (r *Reaper) runLogged() {
	if _, err := r.Run(r.ctx); err != nil && r.ctx.Err() == nil {
		r.logger.Error("reaper pass failed", zap.Error(err))
	}
}

// Run performs one storage pass: stale rows, the per-workflow execution
// cap, orphaned payload files and expired cache entries. Running it again
// with nothing stale changes nothing.
func (r *Reaper) Run(ctx context.Context) (ReapReport, error) {
	var report ReapReport

	stale, err := r.repo.Cleanup(ctx)
	if err != nil {
		return report, err
	}
	report.Stale = stale

	if report.Trimmed, err = r.repo.TrimExecutions(ctx, r.opts.KeepExecutions); err != nil {
		return report, err
	}
	if report.OrphanPayloads, err = r.repo.RemoveOrphanPayloads(ctx); err != nil {
		return report, err
	}
	report.ExpiredEntries = r.cache.Sweep()
	report.CompletedAt = time.Now()

	if stale.Workflows > 0 || stale.Executions > 0 || report.Trimmed > 0 || report.OrphanPayloads > 0 {
		r.logger.Info("reaper pass complete",
			zap.Int64("stale_workflows", stale.Workflows),
			zap.Int64("stale_executions", stale.Executions),
			zap.Int64("trimmed_executions", report.Trimmed),
			zap.Int("orphan_payloads", report.OrphanPayloads))
	}

	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()
	return report, nil
}
