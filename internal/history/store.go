// =============================================================================
// Blood Test Parser - Run History
// =============================================================================
//
// The history store is a small sqlite database that remembers every processed
// document and every test name the alias table could not resolve. Operators
// use the aggregated unresolved list to grow the alias table over time.
//
// TABLES:
//   runs              one row per processed document
//   unresolved_names  one row per (run, raw name)
//
// The store is safe for concurrent use; writes are serialized on a single
// connection.
//
// =============================================================================

package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02 15:04:05.000000"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	input         TEXT NOT NULL,
	output        TEXT NOT NULL DEFAULT '',
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL,
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	dates         INTEGER NOT NULL DEFAULT 0,
	results       INTEGER NOT NULL DEFAULT 0,
	cells_written INTEGER NOT NULL DEFAULT 0,
	rows_added    INTEGER NOT NULL DEFAULT 0,
	columns_added INTEGER NOT NULL DEFAULT 0,
	conflicts     INTEGER NOT NULL DEFAULT 0,
	unplaced      INTEGER NOT NULL DEFAULT 0,
	ambiguous     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS unresolved_names (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	raw_name TEXT NOT NULL,
	count    INTEGER NOT NULL,
	lines    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_unresolved_names_raw ON unresolved_names(raw_name);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Run is one processed document.
type Run struct {
	ID         string
	Input      string
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string

	Dates        int
	Results      int
	CellsWritten int
	RowsAdded    int
	ColumnsAdded int
	Conflicts    int
	Unplaced     int
	Ambiguous    int

	Unresolved []types.UnresolvedName
}

// UnresolvedSummary aggregates one raw name across runs.
type UnresolvedSummary struct {
	Raw         string
	Occurrences int
	Runs        int
	LastSeen    time.Time
}

// Store is the sqlite-backed history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the history database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	logger.Debug("history.open", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores a run and its unresolved names. An empty ID is filled
// with a new UUID; the ID used is returned.
func (s *Store) RecordRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusOK
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, input, output, started_at, finished_at, status, error,
			dates, results, cells_written, rows_added, columns_added, conflicts, unplaced, ambiguous)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Input, run.Output,
		formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Status, run.Error,
		run.Dates, run.Results, run.CellsWritten, run.RowsAdded, run.ColumnsAdded,
		run.Conflicts, run.Unplaced, run.Ambiguous,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	if len(run.Unresolved) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO unresolved_names (run_id, raw_name, count, lines) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return "", fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()
		for _, u := range run.Unresolved {
			if _, err := stmt.ExecContext(ctx, run.ID, u.Raw, u.Count, joinInts(u.Lines)); err != nil {
				return "", fmt.Errorf("insert unresolved %q: %w", u.Raw, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("history.recorded", "run_id", run.ID, "input", run.Input, "unresolved", len(run.Unresolved))
	return run.ID, nil
}

// Runs returns the most recent runs, newest first. limit <= 0 means all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, input, output, started_at, finished_at, status, error,
			dates, results, cells_written, rows_added, columns_added, conflicts, unplaced, ambiguous
		FROM runs ORDER BY started_at DESC, id`
	if limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(limit)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Input, &r.Output, &started, &finished, &r.Status, &r.Error,
			&r.Dates, &r.Results, &r.CellsWritten, &r.RowsAdded, &r.ColumnsAdded,
			&r.Conflicts, &r.Unplaced, &r.Ambiguous); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Unresolved aggregates unresolved names across all runs, most frequent
// first. limit <= 0 means all.
func (s *Store) Unresolved(ctx context.Context, limit int) ([]UnresolvedSummary, error) {
	q := `SELECT u.raw_name, SUM(u.count), COUNT(DISTINCT u.run_id), MAX(r.started_at)
		FROM unresolved_names u JOIN runs r ON r.id = u.run_id
		GROUP BY u.raw_name
		ORDER BY SUM(u.count) DESC, u.raw_name`
	if limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(limit)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query unresolved: %w", err)
	}
	defer rows.Close()

	var out []UnresolvedSummary
	for rows.Next() {
		var (
			u    UnresolvedSummary
			last string
		)
		if err := rows.Scan(&u.Raw, &u.Occurrences, &u.Runs, &last); err != nil {
			return nil, fmt.Errorf("scan unresolved: %w", err)
		}
		u.LastSeen = parseTime(last)
		out = append(out, u)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
