package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqlTimeLayout is fixed-width so that lexicographic order on the TEXT
// column equals chronological order.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z"

const keyColumns = "code, policy, expiry_mode, created_at, expires_at, used, device_id, activated_at, extended_days, extended_at, notes, revision"

type rowScanner interface {
	Scan(dest ...any) error
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func formatSQLTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func nullSQLTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatSQLTime(*t), Valid: true}
}

func parseSQLTime(s string) (time.Time, error) {
	t, err := time.Parse(sqlTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullSQLTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseSQLTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// scanKey reads one license_keys row selected with keyColumns.
func scanKey(row rowScanner) (*KeyRecord, error) {
	var (
		r                                  KeyRecord
		policy, mode, createdAt            string
		expiresAt, activatedAt, extendedAt sql.NullString
	)
	err := row.Scan(&r.Code, &policy, &mode, &createdAt, &expiresAt, &r.Used, &r.DeviceID,
		&activatedAt, &r.ExtendedDays, &extendedAt, &r.Notes, &r.Revision)
	if err != nil {
		return nil, err
	}

	if r.Policy, err = ParsePolicy(policy); err != nil {
		return nil, err
	}
	r.Mode = ExpiryMode(mode)
	if r.CreatedAt, err = parseSQLTime(createdAt); err != nil {
		return nil, err
	}
	if r.ExpiresAt, err = parseNullSQLTime(expiresAt); err != nil {
		return nil, err
	}
	if r.ActivatedAt, err = parseNullSQLTime(activatedAt); err != nil {
		return nil, err
	}
	if r.ExtendedAt, err = parseNullSQLTime(extendedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func getKey(ctx context.Context, q rowQuerier, code string) (*KeyRecord, error) {
	rec, err := scanKey(q.QueryRowContext(ctx,
		"SELECT "+keyColumns+" FROM license_keys WHERE code = ?", code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return rec, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE/PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended codes 2067 (UNIQUE) and 1555 (PRIMARY KEY), or base constraint code 19
		code := sqliteErr.Code()
		return code == 2067 || code == 1555 || (code&0xFF) == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// Get retrieves a key by code.
// Returns ErrNotFound if the code doesn't exist.
func (s *SQLiteStorage) Get(ctx context.Context, code string) (*KeyRecord, error) {
	return getKey(ctx, s.db, code)
}

// Insert creates a new key record.
// Returns ErrDuplicate if a key with this code already exists.
func (s *SQLiteStorage) Insert(ctx context.Context, rec *KeyRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO license_keys ("+keyColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)",
		rec.Code, rec.Policy.String(), string(rec.Mode), formatSQLTime(rec.CreatedAt),
		nullSQLTime(rec.ExpiresAt), rec.Used, rec.DeviceID, nullSQLTime(rec.ActivatedAt),
		rec.ExtendedDays, nullSQLTime(rec.ExtendedAt), rec.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}
	rec.Revision = 1
	return nil
}

// Put inserts or replaces a key record.
func (s *SQLiteStorage) Put(ctx context.Context, rec *KeyRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO license_keys (`+keyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(code) DO UPDATE SET
			policy = excluded.policy,
			expiry_mode = excluded.expiry_mode,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			used = excluded.used,
			device_id = excluded.device_id,
			activated_at = excluded.activated_at,
			extended_days = excluded.extended_days,
			extended_at = excluded.extended_at,
			notes = excluded.notes,
			revision = license_keys.revision + 1`,
		rec.Code, rec.Policy.String(), string(rec.Mode), formatSQLTime(rec.CreatedAt),
		nullSQLTime(rec.ExpiresAt), rec.Used, rec.DeviceID, nullSQLTime(rec.ActivatedAt),
		rec.ExtendedDays, nullSQLTime(rec.ExtendedAt), rec.Notes)
	if err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Delete removes a key by code.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStorage) Delete(ctx context.Context, code string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM license_keys WHERE code = ?", code)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// List returns all keys, newest first.
// Returns empty slice if no keys exist.
func (s *SQLiteStorage) List(ctx context.Context) ([]*KeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+keyColumns+" FROM license_keys ORDER BY created_at DESC, code ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	keys := make([]*KeyRecord, 0)
	for rows.Next() {
		rec, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys = append(keys, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}

	return keys, nil
}

// Count returns the number of stored keys.
func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM license_keys").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return count, nil
}

// Update applies fn to the current record in one transaction.
// The write is additionally guarded by the record's revision so a
// concurrent writer in another process yields ErrConflict instead of a
// lost update.
func (s *SQLiteStorage) Update(ctx context.Context, code string, fn UpdateFunc) (*KeyRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := getKey(ctx, tx, code)
	if err != nil {
		return nil, err
	}

	next, err := fn(cur.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE license_keys SET
			policy = ?, expiry_mode = ?, created_at = ?, expires_at = ?, used = ?,
			device_id = ?, activated_at = ?, extended_days = ?, extended_at = ?,
			notes = ?, revision = revision + 1
		WHERE code = ? AND revision = ?`,
		next.Policy.String(), string(next.Mode), formatSQLTime(next.CreatedAt),
		nullSQLTime(next.ExpiresAt), next.Used, next.DeviceID, nullSQLTime(next.ActivatedAt),
		next.ExtendedDays, nullSQLTime(next.ExtendedAt), next.Notes,
		cur.Code, cur.Revision)
	if err != nil {
		return nil, fmt.Errorf("failed to update key: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	stored := next.Clone()
	stored.Code = cur.Code
	stored.Revision = cur.Revision + 1
	return stored, nil
}

// DeleteExpired removes every key whose expiry is set and before now.
func (s *SQLiteStorage) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM license_keys WHERE expires_at IS NOT NULL AND expires_at < ?",
		formatSQLTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteAll removes every key.
func (s *SQLiteStorage) DeleteAll(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM license_keys")
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
