package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
)

// notifier wakes live queries when a table they read has changed. Each
// subscriber channel holds at most one pending signal, so bursts of writes
// coalesce into a single re-evaluation.
type notifier struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[string]chan struct{})}
}

func (n *notifier) subscribe(tables ...string) (string, <-chan struct{}) {
	id := uuid.New().String()
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, table := range tables {
		if n.subs[table] == nil {
			n.subs[table] = make(map[string]chan struct{})
		}
		n.subs[table][id] = ch
	}
	return id, ch
}

func (n *notifier) unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for table, subs := range n.subs {
		delete(subs, id)
		if len(subs) == 0 {
			delete(n.subs, table)
		}
	}
}

func (n *notifier) publish(tables ...string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, table := range tables {
		for _, ch := range n.subs[table] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// subscribers returns the number of live subscriptions on table.
func (n *notifier) subscribers(table string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[table])
}

// watch runs query once immediately and again after every write to tables,
// sending each result on the returned channel. Results arrive in commit
// order. The channel is closed and the subscription dropped when ctx ends.
func watch[T any](ctx context.Context, s *Store, tables []string, query func(context.Context) (T, error)) <-chan T {
	out := make(chan T)
	id, signal := s.notifier.subscribe(tables...)

	go func() {
		defer close(out)
		defer s.notifier.unsubscribe(id)

		for {
			result, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Warn("live query failed", zap.Strings("tables", tables), zap.Error(err))
			} else {
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-signal:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// WatchWorkflows is the live form of ListWorkflows.
func (s *Store) WatchWorkflows(ctx context.Context, active bool, limit int) <-chan []models.Workflow {
	return watch(ctx, s, []string{tableWorkflows}, func(ctx context.Context) ([]models.Workflow, error) {
		return s.ListWorkflows(ctx, active, limit)
	})
}

func (s *Store) WatchBookmarkedWorkflows(ctx context.Context) <-chan []models.Workflow {
	return watch(ctx, s, []string{tableWorkflows}, s.ListBookmarkedWorkflows)
}

func (s *Store) WatchSearchWorkflows(ctx context.Context, query string, active bool) <-chan []models.Workflow {
	return watch(ctx, s, []string{tableWorkflows}, func(ctx context.Context) ([]models.Workflow, error) {
		return s.SearchWorkflows(ctx, query, active)
	})
}

// WatchExecutionsForWorkflow is the live form of ListExecutionsForWorkflow.
func (s *Store) WatchExecutionsForWorkflow(ctx context.Context, workflowID string, limit int) <-chan []models.Execution {
	return watch(ctx, s, []string{tableExecutions}, func(ctx context.Context) ([]models.Execution, error) {
		return s.ListExecutionsForWorkflow(ctx, workflowID, limit)
	})
}

func (s *Store) WatchExecutionsByStatus(ctx context.Context, status string, limit int) <-chan []models.Execution {
	return watch(ctx, s, []string{tableExecutions}, func(ctx context.Context) ([]models.Execution, error) {
		return s.ListExecutionsByStatus(ctx, status, limit)
	})
}
