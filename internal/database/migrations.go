package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNoMigrationPath is returned when the database records a migration this
// build does not know, typically a snapshot written by a newer version.
var ErrNoMigrationPath = errors.New("no migration path for database schema")

// MigrationReport describes what Migrate did.
type MigrationReport struct {
	Applied []string
	Batch   int
	// DataLost is set when the schema was dropped and rebuilt.
	DataLost bool
	Reason   string
}

type migration struct {
	name string
	up   []string
}

// migrations is append-only. Released entries must never change.
var migrations = []migration{
	{
		name: "001_create_workflows_table",
		up: []string{
			`CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				active BOOLEAN NOT NULL DEFAULT FALSE,
				updated_at TEXT NOT NULL,
				tags TEXT,
				last_execution_status TEXT,
				last_execution_time TEXT,
				is_bookmarked BOOLEAN NOT NULL DEFAULT FALSE,
				last_sync_time INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_workflows_active ON workflows(active)`,
			`CREATE INDEX IF NOT EXISTS idx_workflows_updated_at ON workflows(updated_at)`,
			`CREATE INDEX IF NOT EXISTS idx_workflows_is_bookmarked ON workflows(is_bookmarked)`,
			`CREATE INDEX IF NOT EXISTS idx_workflows_last_sync_time ON workflows(last_sync_time)`,
		},
	},
	{
		name: "002_create_executions_table",
		up: []string{
			`CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				status TEXT NOT NULL,
				start_time TEXT,
				end_time TEXT,
				duration INTEGER,
				data_chunk_path TEXT,
				last_sync_time INTEGER NOT NULL,
				FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON executions(workflow_id)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_start_time ON executions(start_time)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_last_sync_time ON executions(last_sync_time)`,
		},
	},
	{
		name: "003_add_query_indices",
		up: []string{
			`CREATE INDEX IF NOT EXISTS idx_workflows_active_bookmark_updated ON workflows(active, is_bookmarked, updated_at)`,
			`CREATE INDEX IF NOT EXISTS idx_workflows_active_last_status ON workflows(active, last_execution_status)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_workflow_start ON executions(workflow_id, start_time)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_workflow_status ON executions(workflow_id, status)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_status_start ON executions(status, start_time)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_workflow_status_start ON executions(workflow_id, status, start_time)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_sync_workflow ON executions(last_sync_time, workflow_id)`,
		},
	},
}

type execQuerier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func createMigrationsTable(db execQuerier) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		migration TEXT UNIQUE NOT NULL,
		batch INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func recordMigration(db execQuerier, name string, batch int) error {
	_, err := db.Exec(`INSERT INTO migrations (migration, batch) VALUES (?, ?)`, name, batch)
	return err
}

func hasMigrationRun(db execQuerier, name string) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM migrations WHERE migration = ?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func appliedMigrations(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT migration FROM migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// unknownMigrations returns recorded migrations missing from the registry.
func unknownMigrations(applied []string) []string {
	known := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		known[m.name] = true
	}

	var unknown []string
	for _, name := range applied {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func runMigrations(db *sql.DB, allowDestructive bool) (*MigrationReport, error) {
	if err := createMigrationsTable(db); err != nil {
		return nil, err
	}

	report := &MigrationReport{}

	applied, err := appliedMigrations(db)
	if err != nil {
		return nil, err
	}

	if unknown := unknownMigrations(applied); len(unknown) > 0 {
		reason := fmt.Sprintf("unregistered migrations recorded: %s", strings.Join(unknown, ", "))
		if !allowDestructive {
			return nil, fmt.Errorf("%w: %s", ErrNoMigrationPath, reason)
		}
		if err := dropSchema(db); err != nil {
			return nil, fmt.Errorf("destructive rebuild: %w", err)
		}
		if err := createMigrationsTable(db); err != nil {
			return nil, err
		}
		report.DataLost = true
		report.Reason = reason
	}

	var batch int
	if err := db.QueryRow(`SELECT COALESCE(MAX(batch), 0) FROM migrations`).Scan(&batch); err != nil {
		return nil, err
	}
	report.Batch = batch + 1

	for _, m := range migrations {
		hasRun, err := hasMigrationRun(db, m.name)
		if err != nil {
			return nil, err
		}
		if hasRun {
			continue
		}

		if err := applyMigration(db, m, report.Batch); err != nil {
			return nil, fmt.Errorf("migration %s: %w", m.name, err)
		}
		report.Applied = append(report.Applied, m.name)
	}

	return report, nil
}

func applyMigration(db *sql.DB, m migration, batch int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.up {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if err := recordMigration(tx, m.name, batch); err != nil {
		return err
	}
	return tx.Commit()
}

func dropSchema(db *sql.DB) error {
	for _, table := range []string{"executions", "workflows", "migrations"} {
		if _, err := db.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
			return err
		}
	}
	return nil
}
