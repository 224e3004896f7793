// Package history implements the Load History Ledger: a local, file-backed
// record of every load attempt, so operators can audit prior runs without a
// second trip to Neo4j.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/ccdi-dataloader/graphload/internal/graph"
)

// Outcome is the terminal state of one recorded load attempt.
type Outcome string

const (
	OutcomeRunning Outcome = "running"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeAborted Outcome = "aborted"
)

// DefaultPath returns the default ledger location, ~/.config/graphload/history.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".graphload", "history.db")
	}
	return filepath.Join(home, ".config", "graphload", "history.db")
}

// Record is one row of the load_history table.
type Record struct {
	ID                string         `db:"id"`
	Dataset           string         `db:"dataset"`
	Mode              string         `db:"mode"`
	StartedAt         time.Time      `db:"started_at"`
	FinishedAt        sql.NullTime   `db:"finished_at"`
	NodesCreated      int            `db:"nodes_created"`
	NodesUpdated      int            `db:"nodes_updated"`
	EdgesCreated      int            `db:"edges_created"`
	EdgesUpdated      int            `db:"edges_updated"`
	NodesDeleted      int            `db:"nodes_deleted"`
	Outcome           string         `db:"outcome"`
	ErrorMessage      sql.NullString `db:"error_message"`
	ValidationLogPath sql.NullString `db:"validation_log_path"`
}

// Ledger wraps a SQLite-backed store of load_history rows.
type Ledger struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// Open connects to (and if necessary creates) the ledger database at path.
func Open(path string, logger *logrus.Logger) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to ledger database: %w", err)
	}
	db.Exec("PRAGMA journal_mode = WAL")

	l := &Ledger{db: db, logger: logger}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS load_history (
		id TEXT PRIMARY KEY,
		dataset TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		nodes_created INTEGER DEFAULT 0,
		nodes_updated INTEGER DEFAULT 0,
		edges_created INTEGER DEFAULT 0,
		edges_updated INTEGER DEFAULT 0,
		nodes_deleted INTEGER DEFAULT 0,
		outcome TEXT NOT NULL,
		error_message TEXT,
		validation_log_path TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_load_history_dataset ON load_history(dataset);
	CREATE INDEX IF NOT EXISTS idx_load_history_started ON load_history(started_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Begin records the start of a load attempt and returns its record id.
func (l *Ledger) Begin(ctx context.Context, dataset string, mode graph.LoadMode) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO load_history (id, dataset, mode, started_at, outcome)
		VALUES (?, ?, ?, ?, ?)
	`, id, dataset, string(mode), time.Now().UTC(), string(OutcomeRunning))
	if err != nil {
		return "", fmt.Errorf("begin load history record: %w", err)
	}
	l.logger.WithFields(logrus.Fields{"id": id, "dataset": dataset, "mode": mode}).Info("load started")
	return id, nil
}

// Finish records the terminal state of a load attempt.
func (l *Ledger) Finish(ctx context.Context, id string, counters graph.WriteCounters, outcome Outcome, errMsg, validationLogPath string) error {
	var created, updated, deleted int
	for _, n := range counters.Created {
		created += n
	}
	for _, n := range counters.Updated {
		updated += n
	}
	for _, n := range counters.Deleted {
		deleted += n
	}

	_, err := l.db.ExecContext(ctx, `
		UPDATE load_history
		SET finished_at = ?, nodes_created = ?, nodes_updated = ?, nodes_deleted = ?,
		    outcome = ?, error_message = ?, validation_log_path = ?
		WHERE id = ?
	`, time.Now().UTC(), created, updated, deleted, string(outcome), nullableString(errMsg), nullableString(validationLogPath), id)
	if err != nil {
		return fmt.Errorf("finish load history record: %w", err)
	}
	l.logger.WithFields(logrus.Fields{"id": id, "outcome": outcome}).Info("load finished")
	return nil
}

// Recent returns the most recent load_history records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := l.db.SelectContext(ctx, &records, `
		SELECT * FROM load_history ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query load history: %w", err)
	}
	return records, nil
}

// ForDataset returns every recorded load attempt for one dataset, newest first.
func (l *Ledger) ForDataset(ctx context.Context, dataset string, limit int) ([]Record, error) {
	var records []Record
	err := l.db.SelectContext(ctx, &records, `
		SELECT * FROM load_history WHERE dataset = ? ORDER BY started_at DESC LIMIT ?
	`, dataset, limit)
	if err != nil {
		return nil, fmt.Errorf("query load history for dataset %q: %w", dataset, err)
	}
	return records, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
