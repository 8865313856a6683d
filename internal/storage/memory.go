package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-process Storage. Updates are serialized per code
// with a keyed lock; the map itself is guarded by a separate RWMutex that
// is never held while an UpdateFunc runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]*KeyRecord
	locks   *keyedMutex
}

// NewMemory creates an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*KeyRecord),
		locks:   newKeyedMutex(),
	}
}

// Get retrieves a copy of the record for code.
func (m *MemoryStorage) Get(ctx context.Context, code string) (*KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[code]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Insert stores rec if its code is unused.
func (m *MemoryStorage) Insert(ctx context.Context, rec *KeyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Code]; ok {
		return ErrDuplicate
	}
	rec.Revision = 1
	m.records[rec.Code] = rec.Clone()
	return nil
}

// Put inserts or replaces rec.
func (m *MemoryStorage) Put(ctx context.Context, rec *KeyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := m.locks.Lock(rec.Code)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	c := rec.Clone()
	c.Revision = 1
	if prev, ok := m.records[rec.Code]; ok {
		c.Revision = prev.Revision + 1
	}
	m.records[rec.Code] = c
	return nil
}

// Delete removes the record for code.
func (m *MemoryStorage) Delete(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[code]; !ok {
		return ErrNotFound
	}
	delete(m.records, code)
	return nil
}

// List returns copies of all records, newest first.
func (m *MemoryStorage) List(ctx context.Context) ([]*KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*KeyRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

// Count returns the number of records.
func (m *MemoryStorage) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Update applies fn while holding the lock for code.
func (m *MemoryStorage) Update(ctx context.Context, code string, fn UpdateFunc) (*KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(code)
	defer unlock()

	cur, err := m.Get(ctx, code)
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

	stored := next.Clone()
	stored.Code = code
	stored.Revision = cur.Revision + 1

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[code]; !ok {
		// Deleted while fn ran.
		return nil, ErrNotFound
	}
	m.records[code] = stored
	return stored.Clone(), nil
}

// DeleteExpired removes records whose expiry is before now.
func (m *MemoryStorage) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for code, rec := range m.records {
		if rec.IsExpired(now) {
			delete(m.records, code)
			n++
		}
	}
	return n, nil
}

// DeleteAll removes every record.
func (m *MemoryStorage) DeleteAll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.records)
	m.records = make(map[string]*KeyRecord)
	return n, nil
}

// Ping always succeeds.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}

// sortRecords orders by CreatedAt descending, then code.
func sortRecords(recs []*KeyRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].Code < recs[j].Code
	})
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
