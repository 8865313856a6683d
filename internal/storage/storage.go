// Package storage provides the key record types and the Key Store backends.
package storage

import (
	"context"
	"time"
)

// UpdateFunc computes the next state of a record inside the store's
// per-code critical section. cur is a private copy the function may modify.
// Returning a nil record means no write is performed.
type UpdateFunc func(cur *KeyRecord) (*KeyRecord, error)

// Storage is implemented by every Key Store backend.
type Storage interface {
	// Record operations
	Get(ctx context.Context, code string) (*KeyRecord, error)
	Insert(ctx context.Context, rec *KeyRecord) error
	Put(ctx context.Context, rec *KeyRecord) error
	Delete(ctx context.Context, code string) error
	List(ctx context.Context) ([]*KeyRecord, error)
	Count(ctx context.Context) (int, error)

	// Update runs fn against the current record while holding the code
	// exclusively. Returns ErrNotFound without calling fn if the code is absent.
	Update(ctx context.Context, code string, fn UpdateFunc) (*KeyRecord, error)

	// Bulk operations
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteAll(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)
