// Copyright 2025 Umut Candan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides SQLite-backed persistence for completed runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	agenterrors "github.com/CandanUmut/systematic-automation-agent/pkg/errors"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// ArchivedRun is the persisted record of a finished workflow run.
type ArchivedRun struct {
	ID          string               `json:"id"`
	Workflow    string               `json:"workflow"`
	State       workflow.RunState    `json:"state"`
	Passes      int                  `json:"passes"`
	Warnings    []string             `json:"warnings,omitempty"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	Records     []workflow.RunRecord `json:"records,omitempty"`
}

// ListFilter narrows ListRuns results. Zero values match everything.
type ListFilter struct {
	Workflow string
	State    workflow.RunState
	Limit    int
}

// Config contains archive configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// RunArchive stores finished runs in SQLite.
type RunArchive struct {
	db *sql.DB
}

// New opens the archive database and runs migrations.
func New(cfg Config) (*RunArchive, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// WAL mode allows readers to proceed while a run is being archived.
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	archive := &RunArchive{db: db}
	if err := archive.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return archive, nil
}

// Close closes the underlying database.
func (a *RunArchive) Close() error {
	return a.db.Close()
}

func (a *RunArchive) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			state TEXT NOT NULL,
			passes INTEGER NOT NULL,
			warnings TEXT,
			error TEXT,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL,
			records TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := a.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Archive stores a finished run. Re-archiving the same run ID replaces
// the previous row.
func (a *RunArchive) Archive(ctx context.Context, run *ArchivedRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Workflow == "" {
		return fmt.Errorf("run workflow is required")
	}

	warningsJSON, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}
	recordsJSON, err := json.Marshal(run.Records)
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	query := `
		INSERT INTO runs (id, workflow, state, passes, warnings, error,
			started_at, completed_at, records, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow = excluded.workflow,
			state = excluded.state,
			passes = excluded.passes,
			warnings = excluded.warnings,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			records = excluded.records
	`

	_, err = a.db.ExecContext(ctx, query,
		run.ID, run.Workflow, string(run.State), run.Passes,
		string(warningsJSON), run.Error,
		run.StartedAt.UnixNano(), run.CompletedAt.UnixNano(),
		string(recordsJSON), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	return nil
}

// Get retrieves an archived run by ID.
func (a *RunArchive) Get(ctx context.Context, id string) (*ArchivedRun, error) {
	query := `
		SELECT id, workflow, state, passes, warnings, error,
			started_at, completed_at, records
		FROM runs WHERE id = ?
	`

	row := a.db.QueryRowContext(ctx, query, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, &agenterrors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// List returns archived runs matching the filter, most recent first.
func (a *RunArchive) List(ctx context.Context, filter ListFilter) ([]*ArchivedRun, error) {
	query := `
		SELECT id, workflow, state, passes, warnings, error,
			started_at, completed_at, records
		FROM runs
	`
	var conds []string
	var args []interface{}
	if filter.Workflow != "" {
		conds = append(conds, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(filter.State))
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*ArchivedRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// PruneBefore deletes runs that started before the cutoff and returns
// how many were removed.
func (a *RunArchive) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*ArchivedRun, error) {
	var (
		run          ArchivedRun
		state        string
		warningsJSON sql.NullString
		errMsg       sql.NullString
		recordsJSON  sql.NullString
		startedAt    int64
		completedAt  int64
	)
	err := row.Scan(&run.ID, &run.Workflow, &state, &run.Passes,
		&warningsJSON, &errMsg, &startedAt, &completedAt, &recordsJSON)
	if err != nil {
		return nil, err
	}

	run.State = workflow.RunState(state)
	run.Error = errMsg.String
	run.StartedAt = time.Unix(0, startedAt)
	run.CompletedAt = time.Unix(0, completedAt)

	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &run.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	if recordsJSON.Valid && recordsJSON.String != "" {
		if err := json.Unmarshal([]byte(recordsJSON.String), &run.Records); err != nil {
			return nil, fmt.Errorf("failed to unmarshal records: %w", err)
		}
	}
	return &run, nil
}
