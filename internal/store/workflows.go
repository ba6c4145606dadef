package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
)

const workflowColumns = `id, name, active, updated_at, tags, last_execution_status,
	last_execution_time, is_bookmarked, last_sync_time`

const workflowOrder = ` ORDER BY is_bookmarked DESC, updated_at DESC`

func scanWorkflow(row scanner) (models.Workflow, error) {
	var w models.Workflow
	err := row.Scan(&w.ID, &w.Name, &w.Active, &w.UpdatedAt, &w.Tags,
		&w.LastExecutionStatus, &w.LastExecutionTime, &w.IsBookmarked, &w.LastSyncTime)
	return w, err
}

// InsertWorkflows inserts a batch, leaving rows whose id already exists
// untouched.
func (s *Store) InsertWorkflows(ctx context.Context, workflows []models.Workflow) error {
	if len(workflows) == 0 {
		return nil
	}
	return s.write(ctx, []string{tableWorkflows}, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO workflows (`+workflowColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, w := range workflows {
			if _, err := stmt.ExecContext(ctx, w.ID, w.Name, w.Active, w.UpdatedAt, w.Tags,
				w.LastExecutionStatus, w.LastExecutionTime, w.IsBookmarked, w.LastSyncTime); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertWorkflows writes server-owned fields of a batch. Bookmarks and
// last-execution fields of existing rows are kept.
func (s *Store) UpsertWorkflows(ctx context.Context, workflows []models.Workflow) error {
	if len(workflows) == 0 {
		return nil
	}
	return s.write(ctx, []string{tableWorkflows}, func(tx *sql.Tx) error {
		return upsertWorkflowsTx(ctx, tx, workflows)
	})
}

func upsertWorkflowsTx(ctx context.Context, tx *sql.Tx, workflows []models.Workflow) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO workflows (`+workflowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			updated_at = excluded.updated_at,
			tags = excluded.tags,
			last_sync_time = excluded.last_sync_time`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, w := range workflows {
		if _, err := stmt.ExecContext(ctx, w.ID, w.Name, w.Active, w.UpdatedAt, w.Tags,
			w.LastExecutionStatus, w.LastExecutionTime, w.IsBookmarked, w.LastSyncTime); err != nil {
			return err
		}
	}
	return nil
}

// GetWorkflow returns ErrNotFound when id is not stored.
func (s *Store) GetWorkflow(ctx context.Context, id string) (models.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Workflow{}, ErrNotFound
	}
	return w, err
}

// GetWorkflows returns the stored rows among ids in list order. Unknown ids
// are skipped.
func (s *Store) GetWorkflows(ctx context.Context, ids []string) ([]models.Workflow, error) {
	if len(ids) == 0 {
		return []models.Workflow{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return queryList(ctx, s.db, scanWorkflow,
		`SELECT `+workflowColumns+` FROM workflows WHERE id IN (`+placeholders+`)`+workflowOrder, args...)
}

// ListWorkflows returns workflows with the given active flag, bookmarked
// first, newest first. A limit of zero means no limit.
func (s *Store) ListWorkflows(ctx context.Context, active bool, limit int) ([]models.Workflow, error) {
	return queryList(ctx, s.db, scanWorkflow,
		`SELECT `+workflowColumns+` FROM workflows WHERE active = ?`+workflowOrder+limitClause(limit), active)
}

func (s *Store) ListWorkflowsByStatus(ctx context.Context, active bool, status string) ([]models.Workflow, error) {
	return queryList(ctx, s.db, scanWorkflow,
		`SELECT `+workflowColumns+` FROM workflows WHERE active = ? AND last_execution_status = ?
		ORDER BY updated_at DESC`, active, status)
}

func (s *Store) ListBookmarkedWorkflows(ctx context.Context) ([]models.Workflow, error) {
	return queryList(ctx, s.db, scanWorkflow,
		`SELECT `+workflowColumns+` FROM workflows WHERE is_bookmarked = 1 ORDER BY updated_at DESC`)
}

// SearchWorkflows matches query anywhere in the workflow name.
func (s *Store) SearchWorkflows(ctx context.Context, query string, active bool) ([]models.Workflow, error) {
	return queryList(ctx, s.db, scanWorkflow,
		`SELECT `+workflowColumns+` FROM workflows
		WHERE active = ? AND name LIKE '%' || ? || '%'`+workflowOrder, active, query)
}

// WorkflowsNeedingSync returns the least recently synced workflows older
// than threshold.
func (s *Store) WorkflowsNeedingSync(ctx context.Context, threshold int64, limit int) ([]models.Workflow, error) {
	return queryList(ctx, s.db, scanWorkflow,
		`SELECT `+workflowColumns+` FROM workflows WHERE last_sync_time < ?
		ORDER BY last_sync_time ASC`+limitClause(limit), threshold)
}

func (s *Store) WorkflowIDs(ctx context.Context, active bool) ([]string, error) {
	return queryList(ctx, s.db, scanString, `SELECT id FROM workflows WHERE active = ?`, active)
}

func scanString(row scanner) (string, error) {
	var v string
	err := row.Scan(&v)
	return v, err
}

// UpdateLastExecution overwrites the last-execution fields of a workflow.
func (s *Store) UpdateLastExecution(ctx context.Context, workflowID, status, at string) error {
	return s.updateWorkflow(ctx,
		`UPDATE workflows SET last_execution_status = ?, last_execution_time = ? WHERE id = ?`,
		status, at, workflowID)
}

// UpdateBookmark sets the bookmark flag. It is the only path that changes it.
func (s *Store) UpdateBookmark(ctx context.Context, workflowID string, bookmarked bool) error {
	return s.updateWorkflow(ctx, `UPDATE workflows SET is_bookmarked = ? WHERE id = ?`, bookmarked, workflowID)
}

func (s *Store) updateWorkflow(ctx context.Context, query string, args ...any) error {
	return s.write(ctx, []string{tableWorkflows}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteStaleWorkflows removes workflows last synced before cutoff. Their
// executions are removed by cascade.
func (s *Store) DeleteStaleWorkflows(ctx context.Context, cutoff int64) (int64, error) {
	var n int64
	err := s.write(ctx, []string{tableWorkflows, tableExecutions}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE last_sync_time < ?`, cutoff)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func (s *Store) CountActiveWorkflows(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM workflows WHERE active = 1`)
}

func (s *Store) CountWorkflowsByStatus(ctx context.Context, active bool, status string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM workflows WHERE active = ? AND last_execution_status = ?`, active, status)
}

func (s *Store) CountBookmarkedWorkflows(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM workflows WHERE is_bookmarked = 1`)
}
