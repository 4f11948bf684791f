package runrecord

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Ledger is a SQLite-backed index of (run_group_id, run_id, paper_id) so
// the scheduler can answer "is this run_id already claimed in this resume
// group?" without re-listing the blob store on every task. It is a local
// acceleration structure only: the blob store remains the source of truth
// for whether a run is actually resumable (Record.IsResumable).
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if necessary) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("runrecord: creating ledger directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("runrecord: opening ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_group_id TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	paper_id     TEXT NOT NULL,
	attempt      INTEGER NOT NULL,
	claimed      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_group_id, run_id)
);
CREATE INDEX IF NOT EXISTS idx_runs_group_paper ON runs(run_group_id, paper_id);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("runrecord: migrating ledger: %w", err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Record upserts a (group, run, paper, attempt) row. claimed marks whether
// the scheduler has already dispatched a task for it this process.
func (l *Ledger) Record(ctx context.Context, groupID, runID, paperID string, attempt int) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_group_id, run_id, paper_id, attempt, claimed)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT(run_group_id, run_id) DO UPDATE SET claimed = 1`,
		groupID, runID, paperID, attempt)
	if err != nil {
		return fmt.Errorf("runrecord: recording run: %w", err)
	}
	return nil
}

// ExistingRunIDs returns every run_id previously recorded for groupID, for
// the scheduler's "reuse an existing run_id in the resume group" lookup.
func (l *Ledger) ExistingRunIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT run_id FROM runs WHERE run_group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("runrecord: listing existing run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
