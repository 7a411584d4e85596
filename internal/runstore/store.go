// Package runstore persists conversion run summaries for history queries.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/docanvil/docanvil/internal/convert"
)

// ErrNotFound indicates no run with the given ID exists.
var ErrNotFound = errors.New("run not found")

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store persists run summaries. Capability lists, notices, degradations and
// artifact statuses are stored as JSON text columns so the schema stays flat
// across sqlite and postgres.
type Store struct {
	db     DB
	driver string
}

// New creates a run store on an open database connection. driver selects
// the DDL dialect, "sqlite" or "postgres".
func New(db DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Migrate creates the runs table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	var query string
	switch s.driver {
	case "sqlite":
		query = `
			CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				source TEXT NOT NULL,
				source_sha256 TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				pages INTEGER NOT NULL DEFAULT 0,
				tables_found INTEGER NOT NULL DEFAULT 0,
				figures_found INTEGER NOT NULL DEFAULT 0,
				characters INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP,
				duration_seconds REAL NOT NULL DEFAULT 0,
				engine_seconds REAL NOT NULL DEFAULT 0,
				engine TEXT NOT NULL DEFAULT '',
				device TEXT NOT NULL DEFAULT '',
				requested_capabilities TEXT NOT NULL DEFAULT 'null',
				executed_capabilities TEXT NOT NULL DEFAULT 'null',
				notices TEXT NOT NULL DEFAULT 'null',
				degradations TEXT NOT NULL DEFAULT 'null',
				artifacts TEXT NOT NULL DEFAULT 'null',
				cache_hit INTEGER NOT NULL DEFAULT 0,
				output_dir TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT ''
			);
		`
	default:
		query = `
			CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				source TEXT NOT NULL,
				source_sha256 TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				pages INTEGER NOT NULL DEFAULT 0,
				tables_found INTEGER NOT NULL DEFAULT 0,
				figures_found INTEGER NOT NULL DEFAULT 0,
				characters INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP,
				duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
				engine_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
				engine TEXT NOT NULL DEFAULT '',
				device TEXT NOT NULL DEFAULT '',
				requested_capabilities TEXT NOT NULL DEFAULT 'null',
				executed_capabilities TEXT NOT NULL DEFAULT 'null',
				notices TEXT NOT NULL DEFAULT 'null',
				degradations TEXT NOT NULL DEFAULT 'null',
				artifacts TEXT NOT NULL DEFAULT 'null',
				cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
				output_dir TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT ''
			);
		`
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at)`)
	if err != nil {
		return fmt.Errorf("create runs index: %w", err)
	}
	return nil
}

// SaveRun inserts the initial record for a run. Saving an ID that already
// exists replaces the record, so a caller that pre-registers a pending run
// and the runner's own save do not conflict.
func (s *Store) SaveRun(ctx context.Context, sum *convert.Summary) error {
	requested, executed, notices, degradations, artifacts, err := encodeColumns(sum)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, source, source_sha256, status, pages, tables_found, figures_found,
			characters, started_at, completed_at, duration_seconds, engine_seconds, engine, device,
			requested_capabilities, executed_capabilities, notices, degradations, artifacts,
			cache_hit, output_dir, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			source = excluded.source, source_sha256 = excluded.source_sha256,
			status = excluded.status, pages = excluded.pages,
			tables_found = excluded.tables_found, figures_found = excluded.figures_found,
			characters = excluded.characters, started_at = excluded.started_at,
			completed_at = excluded.completed_at, duration_seconds = excluded.duration_seconds,
			engine_seconds = excluded.engine_seconds, engine = excluded.engine,
			device = excluded.device, requested_capabilities = excluded.requested_capabilities,
			executed_capabilities = excluded.executed_capabilities, notices = excluded.notices,
			degradations = excluded.degradations, artifacts = excluded.artifacts,
			cache_hit = excluded.cache_hit, output_dir = excluded.output_dir, error = excluded.error
	`
	_, err = s.db.ExecContext(ctx, query,
		sum.RunID, sum.Source, sum.SourceSHA256, string(sum.Status), sum.Pages, sum.Tables,
		sum.Figures, sum.Characters, sum.StartedAt, nullTime(sum.CompletedAt),
		sum.DurationSeconds, sum.EngineSeconds, sum.EngineName, sum.Device,
		requested, executed, notices, degradations, artifacts,
		sum.CacheHit, sum.OutputDir, sum.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun replaces the stored record with the summary's current state.
func (s *Store) UpdateRun(ctx context.Context, sum *convert.Summary) error {
	requested, executed, notices, degradations, artifacts, err := encodeColumns(sum)
	if err != nil {
		return err
	}

	query := `
		UPDATE runs SET
			source = $2, source_sha256 = $3, status = $4, pages = $5, tables_found = $6,
			figures_found = $7, characters = $8, started_at = $9, completed_at = $10,
			duration_seconds = $11, engine_seconds = $12, engine = $13, device = $14,
			requested_capabilities = $15, executed_capabilities = $16, notices = $17,
			degradations = $18, artifacts = $19, cache_hit = $20, output_dir = $21, error = $22
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		sum.RunID, sum.Source, sum.SourceSHA256, string(sum.Status), sum.Pages, sum.Tables,
		sum.Figures, sum.Characters, sum.StartedAt, nullTime(sum.CompletedAt),
		sum.DurationSeconds, sum.EngineSeconds, sum.EngineName, sum.Device,
		requested, executed, notices, degradations, artifacts,
		sum.CacheHit, sum.OutputDir, sum.Error,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves one run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*convert.Summary, error) {
	query := selectColumns + ` FROM runs WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, id)

	sum, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sum, err
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*convert.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectColumns + ` FROM runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var sums []*convert.Summary
	for rows.Next() {
		sum, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// PurgeBefore deletes runs started before the cutoff and returns how many
// were removed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `
	SELECT id, source, source_sha256, status, pages, tables_found, figures_found,
		characters, started_at, completed_at, duration_seconds, engine_seconds, engine, device,
		requested_capabilities, executed_capabilities, notices, degradations, artifacts,
		cache_hit, output_dir, error
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*convert.Summary, error) {
	var (
		sum          convert.Summary
		status       string
		completedAt  sql.NullTime
		requested    string
		executed     string
		notices      string
		degradations string
		artifacts    string
	)

	err := row.Scan(
		&sum.RunID, &sum.Source, &sum.SourceSHA256, &status, &sum.Pages, &sum.Tables,
		&sum.Figures, &sum.Characters, &sum.StartedAt, &completedAt,
		&sum.DurationSeconds, &sum.EngineSeconds, &sum.EngineName, &sum.Device,
		&requested, &executed, &notices, &degradations, &artifacts,
		&sum.CacheHit, &sum.OutputDir, &sum.Error,
	)
	if err != nil {
		return nil, err
	}

	sum.Status = convert.RunStatus(status)
	if completedAt.Valid {
		sum.CompletedAt = completedAt.Time
	}
	if err := decodeColumn(requested, &sum.RequestedCapabilities); err != nil {
		return nil, err
	}
	if err := decodeColumn(executed, &sum.ExecutedCapabilities); err != nil {
		return nil, err
	}
	if err := decodeColumn(notices, &sum.Notices); err != nil {
		return nil, err
	}
	if err := decodeColumn(degradations, &sum.Degradations); err != nil {
		return nil, err
	}
	if err := decodeColumn(artifacts, &sum.Artifacts); err != nil {
		return nil, err
	}
	sum.DegradedPages = degradedPages(sum.Degradations)

	return &sum, nil
}

func encodeColumns(sum *convert.Summary) (requested, executed, notices, degradations, artifacts string, err error) {
	if requested, err = encodeColumn(sum.RequestedCapabilities); err != nil {
		return
	}
	if executed, err = encodeColumn(sum.ExecutedCapabilities); err != nil {
		return
	}
	if notices, err = encodeColumn(sum.Notices); err != nil {
		return
	}
	if degradations, err = encodeColumn(sum.Degradations); err != nil {
		return
	}
	artifacts, err = encodeColumn(sum.Artifacts)
	return
}

func encodeColumn(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode run column: %w", err)
	}
	return string(data), nil
}

func decodeColumn(data string, v interface{}) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode run column: %w", err)
	}
	return nil
}

func degradedPages(degradations []convert.Degradation) []int {
	res := convert.Result{Degradations: degradations}
	return res.DegradedPages()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
