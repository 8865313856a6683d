package storage

import (
	"context"
	"fmt"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend     string // sqlite, memory, redis, postgres
	SQLitePath  string
	RedisURL    string
	PostgresDSN string
}

// Open creates the Storage named by opts.Backend.
func Open(ctx context.Context, opts Options) (Storage, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		return New(opts.SQLitePath)
	case BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return NewRedis(opts.RedisURL)
	case BackendPostgres:
		return NewPostgres(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
