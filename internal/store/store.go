// Package store is the entity store: workflow and execution records kept in
// the encrypted database, with live queries that re-deliver results after
// every committed write.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/database"
)

const (
	tableWorkflows  = "workflows"
	tableExecutions = "executions"
)

var (
	// ErrNotFound indicates the requested record is not in the store.
	ErrNotFound = errors.New("record not found")
	// ErrPersist wraps snapshot failures after a write was committed in memory.
	ErrPersist = errors.New("failed to persist store snapshot")
)

// Store provides queries and writes over the workflow and execution tables.
type Store struct {
	db       *database.DB
	logger   *zap.Logger
	notifier *notifier
	now      func() time.Time
}

// New creates a Store on an already migrated database.
func New(db *database.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:       db,
		logger:   logger,
		notifier: newNotifier(),
		now:      time.Now,
	}
}

// NowMillis returns the store clock in epoch milliseconds.
func (s *Store) NowMillis() int64 {
	return s.now().UnixMilli()
}

// write runs fn in a transaction, persists the snapshot and wakes live
// queries on the touched tables. Either all of fn's statements commit or
// none do.
func (s *Store) write(ctx context.Context, tables []string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.notifier.publish(tables...)

	// The commit already happened, so the snapshot must not be abandoned
	// because the caller went away.
	if err := s.db.Persist(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("snapshot failed after commit", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func queryList[T any](ctx context.Context, db *database.DB, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

// StaleResult reports how many rows a staleness cleanup removed.
type StaleResult struct {
	Workflows  int64 `json:"workflows"`
	Executions int64 `json:"executions"`
}

// DeleteStale removes workflows and executions whose last sync is older than
// cutoff (epoch millis). Executions of removed workflows go with them.
func (s *Store) DeleteStale(ctx context.Context, cutoff int64) (StaleResult, error) {
	var result StaleResult
	err := s.write(ctx, []string{tableWorkflows, tableExecutions}, func(tx *sql.Tx) error {
		before, err := countTx(tx, `SELECT COUNT(*) FROM executions`)
		if err != nil {
			return err
		}

		res, err := tx.Exec(`DELETE FROM workflows WHERE last_sync_time < ?`, cutoff)
		if err != nil {
			return err
		}
		result.Workflows, _ = res.RowsAffected()

		if _, err := tx.Exec(`DELETE FROM executions WHERE last_sync_time < ?`, cutoff); err != nil {
			return err
		}

		after, err := countTx(tx, `SELECT COUNT(*) FROM executions`)
		if err != nil {
			return err
		}
		result.Executions = int64(before - after)
		return nil
	})
	return result, err
}

func countTx(tx *sql.Tx, query string, args ...any) (int, error) {
	var n int
	err := tx.QueryRow(query, args...).Scan(&n)
	return n, err
}
