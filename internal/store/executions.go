package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
)

const executionColumns = `id, workflow_id, status, start_time, end_time, duration,
	data_chunk_path, last_sync_time`

// failedStatuses is the status set treated as a failed run.
const failedStatuses = `('failed', 'error', 'crashed')`

const upsertExecutionSQL = `INSERT INTO executions (` + executionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		duration = excluded.duration,
		data_chunk_path = COALESCE(excluded.data_chunk_path, executions.data_chunk_path),
		last_sync_time = excluded.last_sync_time`

func scanExecution(row scanner) (models.Execution, error) {
	var e models.Execution
	err := row.Scan(&e.ID, &e.WorkflowID, &e.Status, &e.StartTime, &e.EndTime,
		&e.Duration, &e.DataChunkPath, &e.LastSyncTime)
	return e, err
}

func scanStats(row scanner) (models.ExecutionStats, error) {
	var st models.ExecutionStats
	err := row.Scan(&st.Status, &st.Count)
	return st, err
}

// InsertExecutions inserts a batch, leaving rows whose id already exists
// untouched. The whole batch fails if any workflow_id is unknown.
func (s *Store) InsertExecutions(ctx context.Context, executions []models.Execution) error {
	if len(executions) == 0 {
		return nil
	}
	return s.write(ctx, []string{tableExecutions}, func(tx *sql.Tx) error {
		return execBatch(ctx, tx, `INSERT OR IGNORE INTO executions (`+executionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, executions)
	})
}

// UpsertExecutions writes a batch, replacing server-owned fields of existing
// rows. A stored payload reference survives an upsert without one.
func (s *Store) UpsertExecutions(ctx context.Context, executions []models.Execution) error {
	if len(executions) == 0 {
		return nil
	}
	return s.write(ctx, []string{tableExecutions}, func(tx *sql.Tx) error {
		return execBatch(ctx, tx, upsertExecutionSQL, executions)
	})
}

// refreshLastExecutionSQL copies a workflow's newest stored execution into
// its last-execution fields.
const refreshLastExecutionSQL = `UPDATE workflows SET
		last_execution_status = (SELECT status FROM executions
			WHERE workflow_id = workflows.id AND start_time IS NOT NULL
			ORDER BY start_time DESC LIMIT 1),
		last_execution_time = (SELECT start_time FROM executions
			WHERE workflow_id = workflows.id AND start_time IS NOT NULL
			ORDER BY start_time DESC LIMIT 1)
	WHERE id = ? AND EXISTS (SELECT 1 FROM executions
		WHERE workflow_id = workflows.id AND start_time IS NOT NULL)`

// SyncExecutions upserts parent workflows and executions in one transaction
// and refreshes the last-execution fields of every workflow in the batch.
func (s *Store) SyncExecutions(ctx context.Context, parents []models.Workflow, executions []models.Execution) error {
	return s.write(ctx, []string{tableWorkflows, tableExecutions}, func(tx *sql.Tx) error {
		if len(parents) > 0 {
			if err := upsertWorkflowsTx(ctx, tx, parents); err != nil {
				return err
			}
		}
		if len(executions) == 0 {
			return nil
		}
		if err := execBatch(ctx, tx, upsertExecutionSQL, executions); err != nil {
			return err
		}

		seen := make(map[string]bool)
		for _, e := range executions {
			if seen[e.WorkflowID] {
				continue
			}
			seen[e.WorkflowID] = true
			if _, err := tx.ExecContext(ctx, refreshLastExecutionSQL, e.WorkflowID); err != nil {
				return err
			}
		}
		return nil
	})
}

func execBatch(ctx context.Context, tx *sql.Tx, query string, executions []models.Execution) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range executions {
		if _, err := stmt.ExecContext(ctx, e.ID, e.WorkflowID, e.Status, e.StartTime, e.EndTime,
			e.Duration, e.DataChunkPath, e.LastSyncTime); err != nil {
			return err
		}
	}
	return nil
}

// GetExecution returns ErrNotFound when id is not stored.
func (s *Store) GetExecution(ctx context.Context, id string) (models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Execution{}, ErrNotFound
	}
	return e, err
}

// ListExecutionsForWorkflow returns the newest executions of a workflow.
func (s *Store) ListExecutionsForWorkflow(ctx context.Context, workflowID string, limit int) ([]models.Execution, error) {
	return queryList(ctx, s.db, scanExecution,
		`SELECT `+executionColumns+` FROM executions WHERE workflow_id = ?
		ORDER BY start_time DESC`+limitClause(limit), workflowID)
}

func (s *Store) ListExecutionsByStatus(ctx context.Context, status string, limit int) ([]models.Execution, error) {
	return queryList(ctx, s.db, scanExecution,
		`SELECT `+executionColumns+` FROM executions WHERE status = ?
		ORDER BY start_time DESC`+limitClause(limit), status)
}

func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]models.Execution, error) {
	return queryList(ctx, s.db, scanExecution,
		`SELECT `+executionColumns+` FROM executions ORDER BY start_time DESC`+limitClause(limit))
}

// FailedExecutionsSince returns failed runs started after since (ISO-8601).
func (s *Store) FailedExecutionsSince(ctx context.Context, since string) ([]models.Execution, error) {
	return queryList(ctx, s.db, scanExecution,
		`SELECT `+executionColumns+` FROM executions
		WHERE status IN `+failedStatuses+` AND start_time > ?
		ORDER BY start_time DESC`, since)
}

func (s *Store) ExecutionIDs(ctx context.Context, workflowID string) ([]string, error) {
	return queryList(ctx, s.db, scanString,
		`SELECT id FROM executions WHERE workflow_id = ? ORDER BY start_time DESC`, workflowID)
}

// PayloadPaths returns every payload reference held by an execution row.
func (s *Store) PayloadPaths(ctx context.Context) ([]string, error) {
	return queryList(ctx, s.db, scanString,
		`SELECT data_chunk_path FROM executions WHERE data_chunk_path IS NOT NULL`)
}

// SetExecutionPayload records the payload file of an execution.
func (s *Store) SetExecutionPayload(ctx context.Context, executionID, path string) error {
	return s.write(ctx, []string{tableExecutions}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE executions SET data_chunk_path = ? WHERE id = ?`, path, executionID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteStaleExecutions removes executions last synced before cutoff.
func (s *Store) DeleteStaleExecutions(ctx context.Context, cutoff int64) (int64, error) {
	var n int64
	err := s.write(ctx, []string{tableExecutions}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE last_sync_time < ?`, cutoff)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// RetainExecutions keeps the newest keep executions of a workflow and
// deletes the rest.
func (s *Store) RetainExecutions(ctx context.Context, workflowID string, keep int) (int64, error) {
	var n int64
	err := s.write(ctx, []string{tableExecutions}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id IN (
			SELECT id FROM executions WHERE workflow_id = ?
			ORDER BY start_time DESC LIMIT -1 OFFSET ?)`, workflowID, keep)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// TrimExecutions applies RetainExecutions to every workflow in one
// statement.
func (s *Store) TrimExecutions(ctx context.Context, keep int) (int64, error) {
	var n int64
	err := s.write(ctx, []string{tableExecutions}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY workflow_id ORDER BY start_time DESC
				) AS rn FROM executions
			) WHERE rn > ?)`, keep)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func (s *Store) CountFailedExecutions(ctx context.Context, workflowID, since string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM executions
		WHERE workflow_id = ? AND status IN `+failedStatuses+` AND start_time > ?`, workflowID, since)
}

func (s *Store) CountExecutionsForWorkflow(ctx context.Context, workflowID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM executions WHERE workflow_id = ?`, workflowID)
}

func (s *Store) CountExecutionsByStatus(ctx context.Context, status string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM executions WHERE status = ?`, status)
}

func (s *Store) CountExecutionsSince(ctx context.Context, since string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM executions WHERE start_time > ?`, since)
}

// ExecutionStatsByWorkflow groups a workflow's executions started after
// since by status.
func (s *Store) ExecutionStatsByWorkflow(ctx context.Context, workflowID, since string) ([]models.ExecutionStats, error) {
	return queryList(ctx, s.db, scanStats,
		`SELECT status, COUNT(*) FROM executions WHERE workflow_id = ? AND start_time > ?
		GROUP BY status ORDER BY status`, workflowID, since)
}

func (s *Store) OverallExecutionStats(ctx context.Context, since string) ([]models.ExecutionStats, error) {
	return queryList(ctx, s.db, scanStats,
		`SELECT status, COUNT(*) FROM executions WHERE start_time > ?
		GROUP BY status ORDER BY status`, since)
}

// LatestExecutionPerWorkflow returns each workflow's most recent execution.
func (s *Store) LatestExecutionPerWorkflow(ctx context.Context) ([]models.Execution, error) {
	return queryList(ctx, s.db, scanExecution,
		`SELECT `+executionColumns+` FROM executions e1
		WHERE e1.start_time = (
			SELECT MAX(e2.start_time) FROM executions e2 WHERE e2.workflow_id = e1.workflow_id
		)
		ORDER BY e1.start_time DESC`)
}
