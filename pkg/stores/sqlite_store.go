package stores

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

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveTarget records a saved target and replaces the set of profiles it
// references.
func (s *SQLiteStore) SaveTarget(ctx context.Context, target *Target, profileIDs []string) error {
	now := time.Now().UTC()
	if target.SavedAt.IsZero() {
		target.SavedAt = now
	}
	target.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO targets (handle, name, saved_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, target.Handle, target.Name, target.SavedAt, target.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save target: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM target_profiles WHERE handle = ?`, target.Handle); err != nil {
		return fmt.Errorf("failed to clear target profiles: %w", err)
	}
	for _, id := range profileIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO target_profiles (handle, profile_id) VALUES (?, ?)`,
			target.Handle, id); err != nil {
			return fmt.Errorf("failed to record target profile: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit target: %w", err)
	}
	return nil
}

// GetTarget retrieves a saved target by handle
func (s *SQLiteStore) GetTarget(ctx context.Context, handle string) (*Target, error) {
	query := `SELECT handle, name, saved_at, updated_at FROM targets WHERE handle = ?`

	t := &Target{}
	err := s.db.QueryRowContext(ctx, query, handle).Scan(&t.Handle, &t.Name, &t.SavedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	return t, nil
}

// ListTargets lists saved targets ordered by handle
func (s *SQLiteStore) ListTargets(ctx context.Context) ([]*Target, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT handle, name, saved_at, updated_at FROM targets ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	targets := []*Target{}
	for rows.Next() {
		t := &Target{}
		if err := rows.Scan(&t.Handle, &t.Name, &t.SavedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}
	return targets, nil
}

// DeleteTarget forgets a saved target and its profile references
func (s *SQLiteStore) DeleteTarget(ctx context.Context, handle string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE handle = ?`, handle)
	if err != nil {
		return fmt.Errorf("failed to delete target: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("target %s: %w", handle, ErrNotFound)
	}
	return nil
}

// TargetProfiles returns the profile ids referenced by a saved target
func (s *SQLiteStore) TargetProfiles(ctx context.Context, handle string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_id FROM target_profiles WHERE handle = ? ORDER BY profile_id`, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to list target profiles: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReferencedProfiles returns the ids of every profile some saved target
// references.
func (s *SQLiteStore) ReferencedProfiles(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT profile_id FROM target_profiles`)
	if err != nil {
		return nil, fmt.Errorf("failed to list referenced profiles: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan profile id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// UpsertProfile inserts or refreshes a profile row
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *ProfileRecord) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.LastUsedAt.IsZero() {
		p.LastUsedAt = p.CreatedAt
	}

	query := `
		INSERT INTO profiles (id, handle, memento, path, bundle_count, feature_count, severity, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			bundle_count = excluded.bundle_count,
			feature_count = excluded.feature_count,
			severity = excluded.severity,
			last_used_at = excluded.last_used_at
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Handle,
		p.Memento,
		p.Path,
		p.BundleCount,
		p.FeatureCount,
		p.Severity,
		p.CreatedAt,
		p.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

const profileColumns = `id, handle, memento, path, bundle_count, feature_count, severity, created_at, last_used_at`

func scanProfile(scan func(dest ...any) error) (*ProfileRecord, error) {
	p := &ProfileRecord{}
	err := scan(
		&p.ID,
		&p.Handle,
		&p.Memento,
		&p.Path,
		&p.BundleCount,
		&p.FeatureCount,
		&p.Severity,
		&p.CreatedAt,
		&p.LastUsedAt,
	)
	return p, err
}

// GetProfile retrieves a profile row by id
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*ProfileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// TouchProfile records that a profile was reused
func (s *SQLiteStore) TouchProfile(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE profiles SET last_used_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch profile: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListProfiles lists profile rows, most recently created first
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*ProfileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []*ProfileRecord{}
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

// DeleteProfile removes a profile row. Deleting a missing row is not an
// error.
func (s *SQLiteStore) DeleteProfile(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
