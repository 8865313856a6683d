// Package mockstore provides a configurable mock of storage.Storage for tests.
//
// Each method has a function field. When a field is nil the call goes to
// Base if set, otherwise the method returns a sensible default. Setting
// Base to a real store and overriding a single method is the usual way to
// inject one failure into an otherwise working backend.
package mockstore

import (
	"context"
	"time"

	"github.com/sipico/license-key-server/internal/storage"
)

// MockStorage is a configurable mock implementation of storage.Storage.
type MockStorage struct {
	// Base handles every method whose function field is nil.
	Base storage.Storage

	// Record operations
	GetFunc    func(ctx context.Context, code string) (*storage.KeyRecord, error)
	InsertFunc func(ctx context.Context, rec *storage.KeyRecord) error
	PutFunc    func(ctx context.Context, rec *storage.KeyRecord) error
	DeleteFunc func(ctx context.Context, code string) error
	ListFunc   func(ctx context.Context) ([]*storage.KeyRecord, error)
	CountFunc  func(ctx context.Context) (int, error)
	UpdateFunc func(ctx context.Context, code string, fn storage.UpdateFunc) (*storage.KeyRecord, error)

	// Bulk operations
	DeleteExpiredFunc func(ctx context.Context, now time.Time) (int, error)
	DeleteAllFunc     func(ctx context.Context) (int, error)

	// Lifecycle
	PingFunc  func(ctx context.Context) error
	CloseFunc func() error
}

var _ storage.Storage = (*MockStorage)(nil)

// Get retrieves a key by code.
func (m *MockStorage) Get(ctx context.Context, code string) (*storage.KeyRecord, error) {
	switch {
	case m.GetFunc != nil:
		return m.GetFunc(ctx, code)
	case m.Base != nil:
		return m.Base.Get(ctx, code)
	}
	return nil, storage.ErrNotFound
}

// Insert stores a new key.
func (m *MockStorage) Insert(ctx context.Context, rec *storage.KeyRecord) error {
	switch {
	case m.InsertFunc != nil:
		return m.InsertFunc(ctx, rec)
	case m.Base != nil:
		return m.Base.Insert(ctx, rec)
	}
	rec.Revision = 1
	return nil
}

// Put upserts a key.
func (m *MockStorage) Put(ctx context.Context, rec *storage.KeyRecord) error {
	switch {
	case m.PutFunc != nil:
		return m.PutFunc(ctx, rec)
	case m.Base != nil:
		return m.Base.Put(ctx, rec)
	}
	return nil
}

// Delete removes a key.
func (m *MockStorage) Delete(ctx context.Context, code string) error {
	switch {
	case m.DeleteFunc != nil:
		return m.DeleteFunc(ctx, code)
	case m.Base != nil:
		return m.Base.Delete(ctx, code)
	}
	return storage.ErrNotFound
}

// List returns all keys.
func (m *MockStorage) List(ctx context.Context) ([]*storage.KeyRecord, error) {
	switch {
	case m.ListFunc != nil:
		return m.ListFunc(ctx)
	case m.Base != nil:
		return m.Base.List(ctx)
	}
	return []*storage.KeyRecord{}, nil
}

// Count returns the number of keys.
func (m *MockStorage) Count(ctx context.Context) (int, error) {
	switch {
	case m.CountFunc != nil:
		return m.CountFunc(ctx)
	case m.Base != nil:
		return m.Base.Count(ctx)
	}
	return 0, nil
}

// Update applies fn to the stored key.
func (m *MockStorage) Update(ctx context.Context, code string, fn storage.UpdateFunc) (*storage.KeyRecord, error) {
	switch {
	case m.UpdateFunc != nil:
		return m.UpdateFunc(ctx, code, fn)
	case m.Base != nil:
		return m.Base.Update(ctx, code, fn)
	}
	return nil, storage.ErrNotFound
}

// DeleteExpired removes expired keys.
func (m *MockStorage) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	switch {
	case m.DeleteExpiredFunc != nil:
		return m.DeleteExpiredFunc(ctx, now)
	case m.Base != nil:
		return m.Base.DeleteExpired(ctx, now)
	}
	return 0, nil
}

// DeleteAll removes every key.
func (m *MockStorage) DeleteAll(ctx context.Context) (int, error) {
	switch {
	case m.DeleteAllFunc != nil:
		return m.DeleteAllFunc(ctx)
	case m.Base != nil:
		return m.Base.DeleteAll(ctx)
	}
	return 0, nil
}

// Ping checks connectivity.
func (m *MockStorage) Ping(ctx context.Context) error {
	switch {
	case m.PingFunc != nil:
		return m.PingFunc(ctx)
	case m.Base != nil:
		return m.Base.Ping(ctx)
	}
	return nil
}

// Close releases resources.
func (m *MockStorage) Close() error {
	switch {
	case m.CloseFunc != nil:
		return m.CloseFunc()
	case m.Base != nil:
		return m.Base.Close()
	}
	return nil
}

// FailingUpdate returns an UpdateFunc field value that evaluates fn against
// the base record and then fails the write with err, as a store that lost
// its backing file would.
func FailingUpdate(base storage.Storage, err error) func(ctx context.Context, code string, fn storage.UpdateFunc) (*storage.KeyRecord, error) {
	return func(ctx context.Context, code string, fn storage.UpdateFunc) (*storage.KeyRecord, error) {
		cur, getErr := base.Get(ctx, code)
		if getErr != nil {
			return nil, getErr
		}
		next, fnErr := fn(cur)
		if fnErr != nil {
			return nil, fnErr
		}
		if next == nil {
			return cur, nil
		}
		return nil, err
	}
}
