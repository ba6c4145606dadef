package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/settings"
)

// MonitorSettings is the part of the settings store the monitor uses.
type MonitorSettings interface {
	Snapshot() settings.Snapshot
	SetLastSyncTime(t time.Time) error
	Watch(ctx context.Context) <-chan settings.Snapshot
}

// Notifier delivers failed executions to the user.
type Notifier interface {
	NotifyFailures(ctx context.Context, failures []models.Execution) error
}

// LogNotifier reports failures as structured log entries.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyFailures(ctx context.Context, failures []models.Execution) error {
	for _, e := range failures {
		fields := []zap.Field{
			zap.String("execution_id", e.ID),
			zap.String("workflow_id", e.WorkflowID),
			zap.String("status", e.Status),
		}
		if e.StartTime != nil {
			fields = append(fields, zap.String("started_at", *e.StartTime))
		}
		n.logger.Warn("workflow execution failed", fields...)
	}
	return nil
}

// MonitorOptions configures the poll loop.
type MonitorOptions struct {
	ExecutionLimit  int
	FailureLookback time.Duration
	Retry           repository.RetryPolicy
	Now             func() time.Time
}

// SyncReport summarizes one poll.
type SyncReport struct {
	Workflows  int       `json:"workflows"`
	Executions int       `json:"executions"`
	Failures   int       `json:"new_failures"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Monitor polls the n8n server on the configured interval, keeps the store
// fresh and reports new failed executions.
type Monitor struct {
	repo     *repository.Repository
	settings MonitorSettings
	notifier Notifier
	opts     MonitorOptions
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	reported map[string]time.Time
	last     *SyncReport
}

func NewMonitor(repo *repository.Repository, st MonitorSettings, notifier Notifier, opts MonitorOptions, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if opts.ExecutionLimit <= 0 {
		opts.ExecutionLimit = repository.DefaultExecutionLimit
	}
	if opts.FailureLookback <= 0 {
		opts.FailureLookback = time.Hour
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = repository.DefaultRetryPolicy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		repo:     repo,
		settings: st,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		reported: make(map[string]time.Time),
	}
}

// Start launches the poll loop.
func (m *Monitor) Start() {
	m.logger.Info("starting monitor", zap.Duration("interval", m.interval()))
	m.wg.Add(1)
	go m.loop()
}

// Stop halts the poll loop and waits for an in-flight poll to finish.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("monitor stopped")
}

// Last returns the report of the most recent poll.
func (m *Monitor) Last() *SyncReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) interval() time.Duration {
	d := m.settings.Snapshot().PollInterval()
	if d <= 0 {
		return settings.DefaultPollInterval * time.Minute
	}
	return d
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	updates := m.settings.Watch(m.ctx)
	m.runLogged()

	timer := time.NewTimer(m.interval())
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if !snap.BaseURL.Set || !snap.APIKey.Set {
				m.repo.Reset()
			}
			resetTimer(timer, snap.PollInterval())
		case <-timer.C:
			m.runLogged()
			timer.Reset(m.interval())
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if d <= 0 {
		d = settings.DefaultPollInterval * time.Minute
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (m *Monitor) runLogged() {
	_, err := m.SyncOnce(m.ctx)
	if err == nil || m.ctx.Err() != nil {
		return
	}

	var e *repository.Error
	switch {
	case !errors.As(err, &e):
		m.logger.Error("poll failed", zap.Error(err))
	case e.Kind == repository.KindConfiguration:
		m.logger.Info("monitor idle, connection not configured", zap.String("problem", e.Config.String()))
	default:
		m.logger.Error("poll failed",
			zap.String("kind", e.Kind.String()),
			zap.String("guidance", e.Guidance()),
			zap.Error(err))
	}
}

// SyncOnce refreshes active workflows and recent executions, then reports
// failures in the lookback window that were not reported before.
func (m *Monitor) SyncOnce(ctx context.Context) (SyncReport, error) {
	report := SyncReport{At: m.opts.Now()}
	err := m.sync(ctx, &report)
	if err != nil {
		report.Error = err.Error()
	}

	m.mu.Lock()
	m.last = &report
	m.mu.Unlock()
	return report, err
}

func (m *Monitor) sync(ctx context.Context, report *SyncReport) error {
	active := true
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		workflows, err := repository.Retry(gctx, m.opts.Retry, func(ctx context.Context) ([]models.Workflow, error) {
			return m.repo.RefreshWorkflows(ctx, &active)
		})
		report.Workflows = len(workflows)
		return err
	})
	g.Go(func() error {
		executions, err := repository.Retry(gctx, m.opts.Retry, func(ctx context.Context) ([]models.Execution, error) {
			return m.repo.RefreshExecutions(ctx, "", m.opts.ExecutionLimit)
		})
		report.Executions = len(executions)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	snap := m.settings.Snapshot()
	if snap.NotificationsEnabled {
		n, err := m.notifyFailures(ctx)
		if err != nil {
			return err
		}
		report.Failures = n
	}

	if err := m.settings.SetLastSyncTime(m.opts.Now()); err != nil {
		m.logger.Warn("failed to record last sync time", zap.Error(err))
	}
	return nil
}

func (m *Monitor) notifyFailures(ctx context.Context) (int, error) {
	now := m.opts.Now()
	since := now.Add(-m.opts.FailureLookback)

	failures, err := m.repo.FailedExecutionsSince(ctx, since)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	// Entries older than the window can no longer be returned.
	for id, at := range m.reported {
		if at.Before(since) {
			delete(m.reported, id)
		}
	}
	fresh := failures[:0]
	for _, e := range failures {
		if _, seen := m.reported[e.ID]; !seen {
			fresh = append(fresh, e)
		}
	}
	m.mu.Unlock()

	if len(fresh) == 0 {
		return 0, nil
	}
	if err := m.notifier.NotifyFailures(ctx, fresh); err != nil {
		return 0, err
	}

	m.mu.Lock()
	for _, e := range fresh {
		m.reported[e.ID] = now
	}
	m.mu.Unlock()
	return len(fresh), nil
}
