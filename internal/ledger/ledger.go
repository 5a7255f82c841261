// Package ledger records which source files have been merged into each
// destination, so a re-run over the same sources does not duplicate points.
//
// The ledger is a SQLite database kept in the working space. Its schema is
// embedded and applied with golang-migrate when the ledger is opened.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/plotmerge/internal/logging"
	"github.com/banshee-data/plotmerge/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run states.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// timeLayout is fixed width so stored stamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ledger is an open merge ledger.
type Ledger struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Run is one recorded invocation.
type Run struct {
	ID          string
	Sensor      string
	Plot        string
	Destination string
	Status      string
	Detail      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// SourceRecord is a source file merged into a destination.
type SourceRecord struct {
	Path     string
	Points   uint64
	RunID    string
	MergedAt time.Time
}

// Open opens or creates the ledger at path and migrates it to the latest
// schema.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// Pragmas are per connection; keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure ledger %s: %q: %w", path, pragma, err)
		}
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger %s: %w", path, err)
	}
	return &Ledger{db: db, clock: timeutil.RealClock{}}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: closing it would close db.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger on the diag stream.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	logging.Diagf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// SchemaVersion returns the applied migration version.
func (l *Ledger) SchemaVersion(ctx context.Context) (uint, error) {
	var v uint
	var dirty bool
	err := l.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&v, &dirty)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}

// StartRun records the start of a merge and returns its run id.
func (l *Ledger) StartRun(ctx context.Context, sensor, plot, destination string) (string, error) {
	id := uuid.New().String()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO merge_runs (run_id, sensor, plot, destination, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, sensor, plot, destination, StatusRunning, l.stamp())
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun records the outcome of a run.
func (l *Ledger) FinishRun(ctx context.Context, runID, status, detail string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE merge_runs SET status = ?, detail = ?, finished_at = ?
		WHERE run_id = ?`,
		status, detail, l.stamp(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("unknown run %s", runID)
	}
	return nil
}

// GetRun returns a recorded run.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var started string
	var finished sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT run_id, sensor, plot, destination, status, detail, started_at, finished_at
		FROM merge_runs WHERE run_id = ?`, runID).
		Scan(&r.ID, &r.Sensor, &r.Plot, &r.Destination, &r.Status, &r.Detail, &started, &finished)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("run %s: bad started_at: %w", runID, err)
	}
	if finished.Valid {
		if r.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
			return nil, fmt.Errorf("run %s: bad finished_at: %w", runID, err)
		}
	}
	return &r, nil
}

// IsMerged reports whether source has already been merged into destination.
func (l *Ledger) IsMerged(ctx context.Context, destination, source string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM merged_sources WHERE destination = ? AND source_path = ?`,
		destination, source).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return n > 0, nil
}

// Pending splits sources into those not yet merged into destination and
// those already merged, keeping the input order.
func (l *Ledger) Pending(ctx context.Context, destination string, sources []string) (pending, merged []string, err error) {
	for _, src := range sources {
		ok, err := l.IsMerged(ctx, destination, src)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			merged = append(merged, src)
		} else {
			pending = append(pending, src)
		}
	}
	return pending, merged, nil
}

// RecordMerge records sources as merged into destination by runID, in a
// single transaction.
func (l *Ledger) RecordMerge(ctx context.Context, runID, destination string, sources []SourceRecord) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO merged_sources (destination, source_path, point_count, run_id, merged_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (destination, source_path) DO UPDATE SET
			point_count = excluded.point_count,
			run_id = excluded.run_id,
			merged_at = excluded.merged_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	stamp := l.stamp()
	for _, s := range sources {
		if _, err := stmt.ExecContext(ctx, destination, s.Path, int64(s.Points), runID, stamp); err != nil {
			return fmt.Errorf("failed to record %s: %w", s.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	logging.Diagf("ledger: recorded %d source(s) for %s (run %s)", len(sources), destination, runID)
	return nil
}

// Sources lists the sources merged into destination, oldest first.
func (l *Ledger) Sources(ctx context.Context, destination string) ([]SourceRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT source_path, point_count, run_id, merged_at
		FROM merged_sources WHERE destination = ?
		ORDER BY merged_at, rowid`, destination)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var out []SourceRecord
	for rows.Next() {
		var s SourceRecord
		var points int64
		var mergedAt string
		if err := rows.Scan(&s.Path, &points, &s.RunID, &mergedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		s.Points = uint64(points)
		if s.MergedAt, err = time.Parse(timeLayout, mergedAt); err != nil {
			return nil, fmt.Errorf("bad merged_at for %s: %w", s.Path, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Forget drops every record for destination. Used when the destination no
// longer exists, so its former sources are merged again.
func (l *Ledger) Forget(ctx context.Context, destination string) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM merged_sources WHERE destination = ?`, destination)
	if err != nil {
		return 0, fmt.Errorf("failed to forget %s: %w", destination, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Opsf("ledger: %s is gone, forgot %d merged source(s)", destination, n)
	}
	return n, nil
}

// SetClock replaces the clock used to stamp runs and merged sources.
func (l *Ledger) SetClock(c timeutil.Clock) {
	l.clock = c
}

func (l *Ledger) stamp() string {
	return l.clock.Now().UTC().Format(timeLayout)
}
