package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgQueryTimeout = 5 * time.Second

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStorage implements Storage on PostgreSQL. Updates lock the row
// with SELECT ... FOR UPDATE for the duration of the transaction.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to PostgreSQL and creates the schema if needed.
func NewPostgres(ctx context.Context, connString string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &PostgresStorage{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	ddlStatements := []string{
		`CREATE TABLE IF NOT EXISTS license_keys (
			code TEXT PRIMARY KEY,
			policy TEXT NOT NULL,
			expiry_mode TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			used BOOLEAN NOT NULL DEFAULT FALSE,
			device_id TEXT NOT NULL DEFAULT '',
			activated_at TIMESTAMPTZ,
			extended_days INTEGER NOT NULL DEFAULT 0,
			extended_at TIMESTAMPTZ,
			notes TEXT NOT NULL DEFAULT '',
			revision BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_license_keys_policy ON license_keys(policy)`,
		`CREATE INDEX IF NOT EXISTS idx_license_keys_expires ON license_keys(expires_at)`,
	}
	for _, stmt := range ddlStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}
	return nil
}

func scanPGKey(row pgx.Row) (*KeyRecord, error) {
	var (
		r      KeyRecord
		policy string
		mode   string
	)
	err := row.Scan(&r.Code, &policy, &mode, &r.CreatedAt, &r.ExpiresAt, &r.Used, &r.DeviceID,
		&r.ActivatedAt, &r.ExtendedDays, &r.ExtendedAt, &r.Notes, &r.Revision)
	if err != nil {
		return nil, err
	}
	if r.Policy, err = ParsePolicy(policy); err != nil {
		return nil, err
	}
	r.Mode = ExpiryMode(mode)
	r.CreatedAt = r.CreatedAt.UTC()
	for _, t := range []*time.Time{r.ExpiresAt, r.ActivatedAt, r.ExtendedAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
	return &r, nil
}

// Get retrieves a key by code.
func (s *PostgresStorage) Get(ctx context.Context, code string) (*KeyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	rec, err := scanPGKey(s.pool.QueryRow(ctx,
		"SELECT "+keyColumns+" FROM license_keys WHERE code = $1", code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return rec, nil
}

// Insert creates a new key record.
func (s *PostgresStorage) Insert(ctx context.Context, rec *KeyRecord) error {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		"INSERT INTO license_keys ("+keyColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)",
		rec.Code, rec.Policy.String(), string(rec.Mode), rec.CreatedAt.UTC(), rec.ExpiresAt,
		rec.Used, rec.DeviceID, rec.ActivatedAt, rec.ExtendedDays, rec.ExtendedAt, rec.Notes)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}
	rec.Revision = 1
	return nil
}

// Put inserts or replaces a key record.
func (s *PostgresStorage) Put(ctx context.Context, rec *KeyRecord) error {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO license_keys (`+keyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		ON CONFLICT (code) DO UPDATE SET
			policy = EXCLUDED.policy,
			expiry_mode = EXCLUDED.expiry_mode,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			used = EXCLUDED.used,
			device_id = EXCLUDED.device_id,
			activated_at = EXCLUDED.activated_at,
			extended_days = EXCLUDED.extended_days,
			extended_at = EXCLUDED.extended_at,
			notes = EXCLUDED.notes,
			revision = license_keys.revision + 1`,
		rec.Code, rec.Policy.String(), string(rec.Mode), rec.CreatedAt.UTC(), rec.ExpiresAt,
		rec.Used, rec.DeviceID, rec.ActivatedAt, rec.ExtendedDays, rec.ExtendedAt, rec.Notes)
	if err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Delete removes a key by code.
func (s *PostgresStorage) Delete(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, "DELETE FROM license_keys WHERE code = $1", code)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all keys, newest first.
func (s *PostgresStorage) List(ctx context.Context) ([]*KeyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		"SELECT "+keyColumns+" FROM license_keys ORDER BY created_at DESC, code ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*KeyRecord, 0)
	for rows.Next() {
		rec, err := scanPGKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys = append(keys, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}

// Count returns the number of stored keys.
func (s *PostgresStorage) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM license_keys").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return count, nil
}

// Update applies fn while the row is locked with SELECT ... FOR UPDATE.
func (s *PostgresStorage) Update(ctx context.Context, code string, fn UpdateFunc) (*KeyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cur, err := scanPGKey(tx.QueryRow(ctx,
		"SELECT "+keyColumns+" FROM license_keys WHERE code = $1 FOR UPDATE", code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock key: %w", err)
	}

	next, err := fn(cur.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE license_keys SET
			policy = $1, expiry_mode = $2, created_at = $3, expires_at = $4, used = $5,
			device_id = $6, activated_at = $7, extended_days = $8, extended_at = $9,
			notes = $10, revision = revision + 1
		WHERE code = $11`,
		next.Policy.String(), string(next.Mode), next.CreatedAt.UTC(), next.ExpiresAt, next.Used,
		next.DeviceID, next.ActivatedAt, next.ExtendedDays, next.ExtendedAt, next.Notes, cur.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to update key: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	stored := next.Clone()
	stored.Code = cur.Code
	stored.Revision = cur.Revision + 1
	return stored, nil
}

// DeleteExpired removes every key whose expiry is set and before now.
func (s *PostgresStorage) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		"DELETE FROM license_keys WHERE expires_at IS NOT NULL AND expires_at < $1", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired keys: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteAll removes every key.
func (s *PostgresStorage) DeleteAll(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, "DELETE FROM license_keys")
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping verifies database connectivity.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}
