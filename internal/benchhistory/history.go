// Package benchhistory keeps a local SQLite log of benchmark runs so
// throughput can be compared across invocations of the CLI.
package benchhistory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS bench_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	pipeline_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	completed_steps INTEGER NOT NULL,
	total_records INTEGER NOT NULL,
	records_per_second REAL NOT NULL,
	passed INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL
);
`

// Entry is one benchmark outcome.
type Entry struct {
	ID               int64
	RunID            string
	PipelineID       string
	Mode             string
	Epoch            int
	CompletedSteps   int
	TotalRecords     int64
	RecordsPerSecond float64
	Passed           bool
	RecordedAt       time.Time
}

type History struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*History, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *History) Append(ctx context.Context, entry Entry) error {
	if h == nil || h.db == nil {
		return errors.New("history not initialized")
	}
	if strings.TrimSpace(entry.RunID) == "" {
		return errors.New("run id is required")
	}
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO bench_history
			(run_id, pipeline_id, mode, epoch, completed_steps, total_records, records_per_second, passed, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.PipelineID, entry.Mode, entry.Epoch,
		entry.CompletedSteps, entry.TotalRecords, entry.RecordsPerSecond,
		entry.Passed, recordedAt)
	return err
}

// List returns the most recent entries, newest first. A pipelineID
// narrows the listing to one pipeline; limit <= 0 means 20.
func (h *History) List(ctx context.Context, pipelineID string, limit int) ([]Entry, error) {
	if h == nil || h.db == nil {
		return nil, errors.New("history not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, run_id, pipeline_id, mode, epoch, completed_steps, total_records, records_per_second, passed, recorded_at
		FROM bench_history`
	args := []any{}
	if strings.TrimSpace(pipelineID) != "" {
		query += ` WHERE pipeline_id = ?`
		args = append(args, pipelineID)
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.PipelineID, &entry.Mode,
			&entry.Epoch, &entry.CompletedSteps, &entry.TotalRecords,
			&entry.RecordsPerSecond, &entry.Passed, &entry.RecordedAt); err != nil {
			return nil, err
		}
		entry.RecordedAt = entry.RecordedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
