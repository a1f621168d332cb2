// Package journal keeps an audit log of runs in a SQLite database: one
// record per run, one per processed row and one per attribute delta,
// applied or not.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/journal/migrations"
	"github.com/agentstation/adsync/pkg/sync"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// RunInfo describes a run when it starts.
type RunInfo struct {
	ID        string
	Mode      string
	Input     string
	Mapping   string
	KeyField  string
	Directory string
	Started   time.Time
}

// Run is a recorded run.
type Run struct {
	ID        string     `json:"id" yaml:"id"`
	Mode      string     `json:"mode" yaml:"mode"`
	Input     string     `json:"input" yaml:"input"`
	Mapping   string     `json:"mapping" yaml:"mapping"`
	KeyField  string     `json:"key_field" yaml:"key_field"`
	Directory string     `json:"directory" yaml:"directory"`
	Status    string     `json:"status" yaml:"status"`
	Started   time.Time  `json:"started" yaml:"started"`
	Finished  *time.Time `json:"finished,omitempty" yaml:"finished,omitempty"`
	Stats     sync.Stats `json:"stats" yaml:"stats"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Delta is a recorded attribute delta.
type Delta struct {
	Line      int    `json:"line" yaml:"line"`
	Key       string `json:"key" yaml:"key"`
	DN        string `json:"dn" yaml:"dn"`
	Attribute string `json:"attribute" yaml:"attribute"`
	OldValue  string `json:"old_value" yaml:"old_value"`
	HadValue  bool   `json:"had_value" yaml:"had_value"`
	NewValue  string `json:"new_value" yaml:"new_value"`
	Apply     bool   `json:"apply" yaml:"apply"`
	Skipped   bool   `json:"skipped" yaml:"skipped"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Written   bool   `json:"written" yaml:"written"`
}

// Journal is a SQLite-backed run log.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal database at path and applies pending
// migrations.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.NewConfigError("journal", "database path is required", nil)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
			return nil, errors.WrapIO("create", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.WrapResource("open", "journal", path, err)
	}

	j := &Journal{db: db, path: path}
	if err := j.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, errors.WrapResource("migrate", "journal", path, err)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// migrate runs every embedded *.up.sql file newer than the recorded
// schema version.
func (j *Journal) migrate(fsys embed.FS) error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := j.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := j.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := j.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// StartRun records a new run as running.
func (j *Journal) StartRun(ctx context.Context, info RunInfo) error {
	if info.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "run id is required"}
	}
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, input, mapping, key_field, directory, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.Mode, info.Input, info.Mapping, info.KeyField, info.Directory,
		StatusRunning, formatTime(info.Started),
	)
	if err != nil {
		return errors.WrapResource("insert", "run", info.ID, err)
	}
	return nil
}

// RecordRow stores a processed row and its deltas.
func (j *Journal) RecordRow(ctx context.Context, runID string, row sync.RowResult) (err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapResource("begin", "row", runID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO run_rows (run_id, line, key, outcome, dn, loose, written, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, row.Line, row.Key, string(row.Outcome), row.DN, row.Loose, row.Written, row.Error,
	); err != nil {
		return errors.WrapResource("insert", "row", fmt.Sprintf("%s:%d", runID, row.Line), err)
	}

	for _, d := range row.Deltas {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO deltas (run_id, line, attribute, old_value, had_value, new_value, apply, skipped, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, row.Line, d.Attribute, d.OldValue, d.HadValue, d.NewValue, d.Apply, d.Skipped, d.Reason,
		); err != nil {
			return errors.WrapResource("insert", "delta", d.Attribute, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.WrapResource("commit", "row", runID, err)
	}
	return nil
}

// FinishRun stores the final counters and status. runErr is the error that
// ended the run, if any.
func (j *Journal) FinishRun(ctx context.Context, result *sync.Result, runErr error) error {
	status := StatusCompleted
	switch {
	case runErr != nil:
		status = StatusFailed
	case result.Canceled:
		status = StatusCanceled
	}

	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("marshalling stats: %w", err)
	}
	finished := result.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}

	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, stats = ?, error = ? WHERE id = ?`,
		status, formatTime(finished), string(stats), msg, result.RunID,
	)
	if err != nil {
		return errors.WrapResource("update", "run", result.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("run", result.RunID)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, mode, input, mapping, key_field, directory, status, started_at, finished_at, stats, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.WrapResource("query", "runs", "", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns one run by id.
func (j *Journal) Run(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, mode, input, mapping, key_field, directory, status, started_at, finished_at, stats, error
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("run", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Deltas returns the deltas recorded for a run in row order.
func (j *Journal) Deltas(ctx context.Context, runID string) ([]Delta, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT d.line, r.key, r.dn, d.attribute, d.old_value, d.had_value, d.new_value,
		       d.apply, d.skipped, d.reason, r.written
		FROM deltas d JOIN run_rows r ON r.run_id = d.run_id AND r.line = d.line
		WHERE d.run_id = ? ORDER BY d.line, d.id`, runID)
	if err != nil {
		return nil, errors.WrapResource("query", "deltas", runID, err)
	}
	defer rows.Close()

	var out []Delta
	for rows.Next() {
		var d Delta
		if err := rows.Scan(&d.Line, &d.Key, &d.DN, &d.Attribute, &d.OldValue, &d.HadValue,
			&d.NewValue, &d.Apply, &d.Skipped, &d.Reason, &d.Written); err != nil {
			return nil, fmt.Errorf("scanning delta: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
		stats    sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Mode, &r.Input, &r.Mapping, &r.KeyField, &r.Directory,
		&r.Status, &started, &finished, &stats, &r.Error); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scanning run: %w", err)
	}

	r.Started = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		r.Finished = &t
	}
	if stats.Valid && stats.String != "" {
		if err := json.Unmarshal([]byte(stats.String), &r.Stats); err != nil {
			return r, fmt.Errorf("decoding stats of run %s: %w", r.ID, err)
		}
	}
	return r, nil
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
