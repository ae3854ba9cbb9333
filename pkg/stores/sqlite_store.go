package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/pdreach/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore persists run history in SQLite. It implements
// engine.Recorder.
type SQLiteStore struct {
	db   *sql.DB
	path string
	lock *flock.Flock

	busyTimeout time.Duration
	lockTimeout time.Duration
}

var _ engine.Recorder = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	// Path is the database file, or MemoryPath.
	Path string

	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration

	// LockTimeout is how long Init waits for the exclusive lock file; zero
	// fails immediately when another process holds it.
	LockTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	return &SQLiteStore{
		path:        cfg.Path,
		busyTimeout: cfg.BusyTimeout,
		lockTimeout: cfg.LockTimeout,
	}, nil
}

// Init takes the lock file for file databases, then opens the database.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return engine.NewStorageError("failed to create database directory", err)
		}
		if err := s.acquireLock(ctx); err != nil {
			return err
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		s.path, s.busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		s.releaseLock()
		return engine.NewStorageError("failed to open database", err)
	}

	// One connection: an in-memory database lives only as long as its
	// connection, and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		s.releaseLock()
		return engine.NewStorageError("failed to ping database", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) acquireLock(ctx context.Context) error {
	lock := flock.New(s.path + ".lock")

	var (
		locked bool
		err    error
	)
	if s.lockTimeout > 0 {
		lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
		locked, err = lock.TryLockContext(lockCtx, 50*time.Millisecond)
	} else {
		locked, err = lock.TryLock()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return engine.NewStorageError("failed to acquire database lock", err).WithCode(engine.ErrCodeStoreLocked)
	}
	if !locked {
		return engine.NewStorageError(fmt.Sprintf("database %s is in use by another process", s.path), nil).
			WithCode(engine.ErrCodeStoreLocked)
	}

	s.lock = lock
	return nil
}

func (s *SQLiteStore) releaseLock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
		s.lock = nil
	}
}

// Close closes the database connection and releases the lock file.
func (s *SQLiteStore) Close() error {
	defer s.releaseLock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return engine.NewStorageError("database not initialized", nil)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return engine.NewStorageError("failed to create migration source", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return engine.NewStorageError("failed to create database driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return engine.NewStorageError("failed to create migration instance", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return engine.NewStorageError("failed to run migrations", err)
	}
	return nil
}

// Open is NewSQLiteStore, Init and Migrate in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, engine.NewStorageError("invalid store config", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *engine.Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return engine.NewStorageError("failed to encode summary", err)
	}

	query := `
		INSERT INTO runs (id, model, source, status, queries, summary, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Model,
		run.Source,
		string(run.Status),
		run.Queries,
		string(summary),
		run.StartedAt.UTC(),
		utcPtr(run.CompletedAt),
	)
	if err != nil {
		return engine.NewStorageError("failed to create run", err).WithOperation("create_run")
	}
	return nil
}

// CompleteRun records the final status, summary and completion time.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *engine.Run) error {
	if err := run.Status.Validate(); err != nil {
		return engine.NewValidationError("invalid run status", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return engine.NewStorageError("failed to encode summary", err)
	}

	completed := run.CompletedAt
	if completed == nil {
		now := time.Now()
		completed = &now
	}

	query := `
		UPDATE runs
		SET status = ?, summary = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(run.Status), string(summary), completed.UTC(), run.ID)
	if err != nil {
		return engine.NewStorageError("failed to complete run", err).WithOperation("complete_run")
	}
	return expectRow(result, "run", run.ID)
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	query := `
		SELECT id, model, source, status, queries, summary, started_at, completed_at
		FROM runs
		WHERE id = ?
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, engine.NewStorageError("failed to get run", err)
	}
	return run, nil
}

// FindRun resolves a run by ID or unique ID prefix.
func (s *SQLiteStore) FindRun(ctx context.Context, prefix string) (*engine.Run, error) {
	if run, err := s.GetRun(ctx, prefix); err == nil {
		return run, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id LIKE ? ESCAPE '\' LIMIT 2`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, engine.NewStorageError("failed to find run", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, engine.NewStorageError("failed to scan run id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	switch len(ids) {
	case 0:
		return nil, notFound("run", prefix)
	case 1:
		return s.GetRun(ctx, ids[0])
	default:
		return nil, engine.NewValidationError(fmt.Sprintf("run id prefix %q is ambiguous", prefix), nil)
	}
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Model != "" {
		where = append(where, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT id, model, source, status, queries, summary, started_at, completed_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engine.NewStorageError("failed to list runs", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, engine.NewStorageError("failed to scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStorageError("error iterating runs", err)
	}
	return runs, nil
}

// DeleteRun deletes a run and its results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return engine.NewStorageError("failed to delete run", err)
	}
	return expectRow(result, "run", id)
}

// SaveResult records one query result. Saving a result for the same query
// twice replaces it.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, res *engine.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return engine.NewStorageError("failed to encode result", err)
	}

	query := `
		INSERT INTO results (id, run_id, query, direction, verdict, expect, outcome, duration_ns, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, query) DO UPDATE SET
			direction = excluded.direction,
			verdict = excluded.verdict,
			expect = excluded.expect,
			outcome = excluded.outcome,
			duration_ns = excluded.duration_ns,
			payload = excluded.payload
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.New().String(),
		runID,
		res.Query,
		string(res.Direction),
		string(res.Verdict),
		string(res.Expect),
		res.Outcome(),
		res.Duration.Nanoseconds(),
		string(payload),
	)
	if err != nil {
		return engine.NewStorageError("failed to save result", err).
			WithOperation("save_result").WithQuery(res.Query)
	}
	return nil
}

// ListResults returns the results of a run ordered by query name. A
// non-empty outcome keeps only results with that Outcome().
func (s *SQLiteStore) ListResults(ctx context.Context, runID, outcome string) ([]*ResultRecord, error) {
	query := `
		SELECT id, run_id, payload, created_at
		FROM results
		WHERE run_id = ? AND (? = '' OR outcome = ?)
		ORDER BY query ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID, outcome, outcome)
	if err != nil {
		return nil, engine.NewStorageError("failed to list results", err)
	}
	defer rows.Close()

	records := []*ResultRecord{}
	for rows.Next() {
		var (
			rec     ResultRecord
			payload string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &payload, &rec.CreatedAt); err != nil {
			return nil, engine.NewStorageError("failed to scan result", err)
		}
		rec.Result = &engine.Result{}
		if err := json.Unmarshal([]byte(payload), rec.Result); err != nil {
			return nil, engine.NewStorageError("failed to decode result", err).WithDetail("id", rec.ID)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStorageError("error iterating results", err)
	}
	return records, nil
}

// SaveSnapshot stores snap and assigns its ID when empty.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return engine.NewStorageError("failed to encode snapshot", err)
	}

	query := `
		INSERT INTO snapshots (id, run_id, model, query, direction, states, edges, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		snap.ID,
		nullString(snap.RunID),
		snap.Model,
		snap.Query,
		snap.Direction,
		len(snap.States),
		len(snap.Edges),
		string(data),
		snap.CreatedAt,
	)
	if err != nil {
		return engine.NewStorageError("failed to save snapshot", err).WithOperation("save_snapshot")
	}
	return nil
}

// GetSnapshot retrieves a snapshot by ID.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("snapshot", id)
	}
	if err != nil {
		return nil, engine.NewStorageError("failed to get snapshot", err)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal([]byte(data), snap); err != nil {
		return nil, engine.NewStorageError("failed to decode snapshot", err)
	}
	return snap, nil
}

// ListSnapshots returns snapshot headers for a model, newest first. States
// and edges are not loaded.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, model string) ([]*Snapshot, error) {
	query := `
		SELECT id, COALESCE(run_id, ''), model, query, direction, created_at
		FROM snapshots
		WHERE (? = '' OR model = ?)
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, model, model)
	if err != nil {
		return nil, engine.NewStorageError("failed to list snapshots", err)
	}
	defer rows.Close()

	snaps := []*Snapshot{}
	for rows.Next() {
		snap := &Snapshot{}
		if err := rows.Scan(&snap.ID, &snap.RunID, &snap.Model, &snap.Query, &snap.Direction, &snap.CreatedAt); err != nil {
			return nil, engine.NewStorageError("failed to scan snapshot", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStorageError("error iterating snapshots", err)
	}
	return snaps, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return engine.NewStorageError("database not initialized", nil)
	}
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*engine.Run, error) {
	var (
		run       engine.Run
		status    string
		summary   string
		completed sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Model, &run.Source, &status, &run.Queries, &summary, &run.StartedAt, &completed); err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary of run %s: %w", run.ID, err)
	}
	return &run, nil
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return engine.NewStorageError("failed to get rows affected", err)
	}
	if rows == 0 {
		return notFound(kind, id)
	}
	return nil
}

func notFound(kind, id string) error {
	return engine.NewStorageError(fmt.Sprintf("%s not found: %s", kind, id), nil).WithCode(engine.ErrCodeNotFound)
}

// IsNotFound reports whether err is a missing record.
func IsNotFound(err error) bool {
	var e *engine.Error
	return errors.As(err, &e) && e.Code == engine.ErrCodeNotFound
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
