// Package postgres provides a PostgreSQL ports.RunStore built on pgxpool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.RunStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS qa_runs (
	id          TEXT PRIMARY KEY,
	config      JSONB       NOT NULL,
	status      TEXT        NOT NULL,
	result      TEXT        NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	report      JSONB
);
CREATE INDEX IF NOT EXISTS idx_qa_runs_status_created ON qa_runs (status, created_at);
`

const runColumns = `id, config, status, result, created_at, started_at, finished_at, report`

// Store persists runs in the qa_runs table.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to dsn, verifies the connection and applies the schema.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the runs table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	s.logger.Debug("storage: schema applied", "table", "qa_runs")
	return nil
}

// Truncate deletes every run. Tests use it to isolate cases sharing one
// database.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE qa_runs`); err != nil {
		return fmt.Errorf("storage: truncate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// CreateRun inserts a run. CreatedAt defaults to the database clock.
func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	config, err := json.Marshal(run.Config)
	if err != nil {
		return ports.NewStoreError("create run", run.ID, fmt.Errorf("encode config: %w", err))
	}
	var createdAt *time.Time
	if !run.CreatedAt.IsZero() {
		t := run.CreatedAt.UTC()
		createdAt = &t
	}
	result := run.Result
	if result == "" {
		result = domain.RunResultPending
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO qa_runs (id, config, status, result, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		 ON CONFLICT (id) DO NOTHING`,
		run.ID, config, string(run.Status), string(result), createdAt,
	)
	if err != nil {
		return ports.NewStoreError("create run", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ports.NewStoreError("create run", run.ID, ports.ErrRunExists)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM qa_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, ports.NewStoreError("get run", id, ports.ErrRunNotFound)
		}
		return domain.Run{}, ports.NewStoreError("get run", id, err)
	}
	return run, nil
}

// MarkRunning moves a queued run to running.
func (s *Store) MarkRunning(ctx context.Context, id string, startedAt time.Time) (domain.Run, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE qa_runs SET status = $2, started_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+runColumns,
		id, string(domain.RunStatusRunning), startedAt.UTC(), string(domain.RunStatusQueued),
	)
	run, err := scanRun(row)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Run{}, ports.NewStoreError("mark running", id, err)
	}
	return domain.Run{}, ports.NewStoreError("mark running", id, s.missOrConflict(ctx, id))
}

// FinalizeRun applies the terminal write to a queued or running run.
func (s *Store) FinalizeRun(ctx context.Context, id string, outcome domain.RunOutcome) error {
	if !outcome.Status.IsTerminal() {
		return ports.NewStoreError("finalize run", id, fmt.Errorf("status %q is not terminal", outcome.Status))
	}

	var report []byte
	if len(outcome.Report) > 0 {
		report = outcome.Report
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE qa_runs SET status = $2, result = $3, report = $4, finished_at = $5
		 WHERE id = $1 AND status IN ($6, $7)`,
		id, string(outcome.Status), string(outcome.Result), report, outcome.FinishedAt.UTC(),
		string(domain.RunStatusQueued), string(domain.RunStatusRunning),
	)
	if err != nil {
		return ports.NewStoreError("finalize run", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ports.NewStoreError("finalize run", id, s.missOrConflict(ctx, id))
	}
	return nil
}

// ListRuns returns runs oldest first. A zero Limit returns every match.
func (s *Store) ListRuns(ctx context.Context, filter ports.RunFilter) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM qa_runs WHERE ($1 = '' OR status = $1) ORDER BY created_at, id`
	args := []any{string(filter.Status)}
	if filter.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

// missOrConflict explains why a conditional update matched no row.
func (s *Store) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM qa_runs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ports.ErrRunNotFound
	}
	return domain.ErrRunConflict
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var (
		run    domain.Run
		config []byte
		status string
		result string
		report []byte
	)
	if err := row.Scan(&run.ID, &config, &status, &result, &run.CreatedAt, &run.StartedAt, &run.FinishedAt, &report); err != nil {
		return domain.Run{}, err
	}
	if err := json.Unmarshal(config, &run.Config); err != nil {
		return domain.Run{}, fmt.Errorf("decode config: %w", err)
	}
	run.Status = domain.RunStatus(status)
	run.Result = domain.RunResult(result)
	if len(report) > 0 {
		run.Report = report
	}
	return run, nil
}
