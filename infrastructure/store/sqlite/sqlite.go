// Package sqlite provides a single-node ports.RunStore on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.RunStore = (*Store)(nil)

// timeLayout keeps every fractional digit so stored values sort correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const runColumns = `id, config, status, result, created_at, started_at, finished_at, report`

// Store persists runs in a SQLite database file. Timestamps are stored as
// fixed-width UTC text so that they sort lexically.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the database at path (":memory:" for a private in-memory
// database), configures it and applies the schema.
func New(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// SQLite serializes writes; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		`CREATE TABLE IF NOT EXISTS qa_runs (
			id          TEXT PRIMARY KEY,
			config      TEXT NOT NULL,
			status      TEXT NOT NULL,
			result      TEXT NOT NULL DEFAULT 'pending',
			created_at  TEXT NOT NULL,
			started_at  TEXT,
			finished_at TEXT,
			report      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_qa_runs_status_created ON qa_runs(status, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	s.logger.Debug("storage: schema applied", "table", "qa_runs")
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateRun inserts a run. CreatedAt defaults to now.
func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	config, err := json.Marshal(run.Config)
	if err != nil {
		return ports.NewStoreError("create run", run.ID, fmt.Errorf("encode config: %w", err))
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	result := run.Result
	if result == "" {
		result = domain.RunResultPending
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO qa_runs (id, config, status, result, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		run.ID, string(config), string(run.Status), string(result), formatTime(createdAt),
	)
	if err != nil {
		return ports.NewStoreError("create run", run.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return ports.NewStoreError("create run", run.ID, err)
	} else if n == 0 {
		return ports.NewStoreError("create run", run.ID, ports.ErrRunExists)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM qa_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, ports.NewStoreError("get run", id, ports.ErrRunNotFound)
		}
		return domain.Run{}, ports.NewStoreError("get run", id, err)
	}
	return run, nil
}

// MarkRunning moves a queued run to running.
func (s *Store) MarkRunning(ctx context.Context, id string, startedAt time.Time) (domain.Run, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE qa_runs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(domain.RunStatusRunning), formatTime(startedAt), id, string(domain.RunStatusQueued),
	)
	if err != nil {
		return domain.Run{}, ports.NewStoreError("mark running", id, err)
	}
	if err := s.checkUpdated(ctx, res, id); err != nil {
		return domain.Run{}, ports.NewStoreError("mark running", id, err)
	}
	return s.GetRun(ctx, id)
}

// FinalizeRun applies the terminal write to a queued or running run.
func (s *Store) FinalizeRun(ctx context.Context, id string, outcome domain.RunOutcome) error {
	if !outcome.Status.IsTerminal() {
		return ports.NewStoreError("finalize run", id, fmt.Errorf("status %q is not terminal", outcome.Status))
	}

	var report sql.NullString
	if len(outcome.Report) > 0 {
		report = sql.NullString{String: string(outcome.Report), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE qa_runs SET status = ?, result = ?, report = ?, finished_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(outcome.Status), string(outcome.Result), report, formatTime(outcome.FinishedAt),
		id, string(domain.RunStatusQueued), string(domain.RunStatusRunning),
	)
	if err != nil {
		return ports.NewStoreError("finalize run", id, err)
	}
	if err := s.checkUpdated(ctx, res, id); err != nil {
		return ports.NewStoreError("finalize run", id, err)
	}
	return nil
}

// ListRuns returns runs oldest first. A zero Limit returns every match.
func (s *Store) ListRuns(ctx context.Context, filter ports.RunFilter) ([]domain.Run, error) {
	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM qa_runs
		 WHERE (? = '' OR status = ?)
		 ORDER BY created_at, id
		 LIMIT ?`,
		string(filter.Status), string(filter.Status), limit,
	)
	if err != nil {
		return nil, ports.NewStoreError("list runs", "", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, ports.NewStoreError("list runs", "", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, ports.NewStoreError("list runs", "", err)
	}
	return runs, nil
}

// checkUpdated maps a conditional update that matched no row to
// ErrRunNotFound or ErrRunConflict.
func (s *Store) checkUpdated(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM qa_runs WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ports.ErrRunNotFound
	}
	return domain.ErrRunConflict
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var (
		run                   domain.Run
		config, status        string
		result, createdAt     string
		startedAt, finishedAt sql.NullString
		report                sql.NullString
	)
	if err := row.Scan(&run.ID, &config, &status, &result, &createdAt, &startedAt, &finishedAt, &report); err != nil {
		return domain.Run{}, err
	}
	if err := json.Unmarshal([]byte(config), &run.Config); err != nil {
		return domain.Run{}, fmt.Errorf("decode config: %w", err)
	}

	var err error
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Run{}, err
	}
	if run.StartedAt, err = parseNullTime(startedAt); err != nil {
		return domain.Run{}, err
	}
	if run.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)
	run.Result = domain.RunResult(result)
	if report.Valid && report.String != "" {
		run.Report = json.RawMessage(report.String)
	}
	return run, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
