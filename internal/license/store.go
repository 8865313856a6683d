package license

import (
	"context"
	"time"

	"github.com/sipico/license-key-server/internal/storage"
)

// Store is the subset of the key store the service depends on.
// Every storage backend satisfies it.
type Store interface {
	Get(ctx context.Context, code string) (*storage.KeyRecord, error)
	Insert(ctx context.Context, rec *storage.KeyRecord) error
	Put(ctx context.Context, rec *storage.KeyRecord) error
	Delete(ctx context.Context, code string) error
	List(ctx context.Context) ([]*storage.KeyRecord, error)
	Count(ctx context.Context) (int, error)
	Update(ctx context.Context, code string, fn storage.UpdateFunc) (*storage.KeyRecord, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

var _ Store = (storage.Storage)(nil)
