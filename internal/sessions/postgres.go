package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/warden/pkg/models"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL (or CockroachDB) using
// prepared statements.
type PostgresStore struct {
	db *sql.DB

	stmtSave   *sql.Stmt
	stmtLoad   *sql.Stmt
	stmtExists *sql.Stmt
	stmtDelete *sql.Stmt
	stmtList   *sql.Stmt
}

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions (updated_at DESC);
`

// NewPostgresStore connects using dsn, creates the schema if missing and
// prepares statements.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	store, err := newPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.prepareStatements(); err != nil {
		s.closeStatements()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

// prepareStatements prepares all SQL statements for reuse.
func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtSave, err = s.db.Prepare(`
		INSERT INTO sessions (id, key, model, message_count, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			model = EXCLUDED.model,
			message_count = EXCLUDED.message_count,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save session: %w", err)
	}

	s.stmtLoad, err = s.db.Prepare(`SELECT data FROM sessions WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("failed to prepare load session: %w", err)
	}

	s.stmtExists, err = s.db.Prepare(`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`)
	if err != nil {
		return fmt.Errorf("failed to prepare session exists: %w", err)
	}

	s.stmtDelete, err = s.db.Prepare(`DELETE FROM sessions WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete session: %w", err)
	}

	s.stmtList, err = s.db.Prepare(`
		SELECT id, key, model, message_count, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC, id ASC
		LIMIT $1 OFFSET $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list sessions: %w", err)
	}

	return nil
}

func (s *PostgresStore) closeStatements() []error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.stmtSave, s.stmtLoad, s.stmtExists, s.stmtDelete, s.stmtList} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Close closes the prepared statements and the database connection.
func (s *PostgresStore) Close() error {
	errs := s.closeStatements()
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*models.Session, error) {
	var data []byte
	err := s.stmtLoad.QueryRowContext(ctx, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decodeSnapshot(data)
}

func (s *PostgresStore) Save(ctx context.Context, session *models.Session) error {
	data, err := encodeSnapshot(session)
	if err != nil {
		return err
	}
	created, updated := session.CreatedAt, session.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if created.IsZero() {
		created = updated
	}

	_, err = s.stmtSave.ExecContext(ctx,
		session.ID,
		session.Key,
		session.Model,
		len(session.History),
		data,
		created,
		updated,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.stmtExists.QueryRowContext(ctx, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	// A NULL limit means no limit in PostgreSQL.
	var limit sql.NullInt64
	if opts.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(opts.Limit), Valid: true}
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.stmtList.QueryContext(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Key, &sum.Model, &sum.MessageCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}
