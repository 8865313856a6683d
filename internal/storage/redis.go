package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix     = "keyserver:key:"
	defaultRedisMaxRetries = 16
	redisScanBatch         = 256
)

// RedisStorage stores each key record as a JSON document under its own
// Redis key. Updates use WATCH/MULTI optimistic transactions: a concurrent
// change to the watched key aborts the transaction and it is retried
// against the new state.
type RedisStorage struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

// NewRedis connects to the Redis server at url (redis://...) and verifies
// connectivity.
func NewRedis(url string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisWithClient(client, ""), nil
}

// NewRedisWithClient wraps an existing client. An empty prefix selects the
// default key namespace.
func NewRedisWithClient(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{
		client:     client,
		prefix:     prefix,
		maxRetries: defaultRedisMaxRetries,
	}
}

func (s *RedisStorage) redisKey(code string) string {
	return s.prefix + code
}

func encodeRecord(r *KeyRecord) ([]byte, error) {
	data, err := json.Marshal(newRecordDoc(r))
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}
	return data, nil
}

func decodeRecord(code string, data []byte) (*KeyRecord, error) {
	var doc recordDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode key %s: %w", code, err)
	}
	return doc.record(code, time.Time{})
}

// Get retrieves a key by code.
func (s *RedisStorage) Get(ctx context.Context, code string) (*KeyRecord, error) {
	data, err := s.client.Get(ctx, s.redisKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return decodeRecord(code, data)
}

// Insert stores rec only if no record exists for its code.
func (s *RedisStorage) Insert(ctx context.Context, rec *KeyRecord) error {
	c := rec.Clone()
	c.Revision = 1
	data, err := encodeRecord(c)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.redisKey(rec.Code), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert key: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	rec.Revision = 1
	return nil
}

// Put inserts or replaces rec, bumping the stored revision.
func (s *RedisStorage) Put(ctx context.Context, rec *KeyRecord) error {
	key := s.redisKey(rec.Code)
	txf := func(tx *redis.Tx) error {
		revision := int64(1)
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to read key: %w", err)
		default:
			prev, err := decodeRecord(rec.Code, data)
			if err != nil {
				return err
			}
			revision = prev.Revision + 1
		}

		c := rec.Clone()
		c.Revision = revision
		out, err := encodeRecord(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}
	return s.watch(ctx, key, txf)
}

// Delete removes a key by code.
func (s *RedisStorage) Delete(ctx context.Context, code string) error {
	n, err := s.client.Del(ctx, s.redisKey(code)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanKeys returns every Redis key in this store's namespace.
func (s *RedisStorage) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", redisScanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// List returns all keys, newest first.
func (s *RedisStorage) List(ctx context.Context) ([]*KeyRecord, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	recs := make([]*KeyRecord, 0, len(keys))
	if len(keys) == 0 {
		return recs, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Deleted between SCAN and MGET.
			continue
		}
		rec, err := decodeRecord(strings.TrimPrefix(keys[i], s.prefix), []byte(str))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return recs, nil
}

// Count returns the number of stored keys.
func (s *RedisStorage) Count(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Update applies fn inside a WATCH/MULTI transaction on the code's key.
// fn may run more than once when the transaction is retried.
func (s *RedisStorage) Update(ctx context.Context, code string, fn UpdateFunc) (*KeyRecord, error) {
	key := s.redisKey(code)
	var stored *KeyRecord

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		cur, err := decodeRecord(code, data)
		if err != nil {
			return err
		}

		next, err := fn(cur.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			stored = cur
			return nil
		}

		next = next.Clone()
		next.Code = code
		next.Revision = cur.Revision + 1
		out, err := encodeRecord(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err != nil {
			return err
		}
		stored = next
		return nil
	}

	if err := s.watch(ctx, key, txf); err != nil {
		return nil, err
	}
	return stored, nil
}

// watch runs txf under WATCH key, retrying when another client modified
// the key before EXEC.
func (s *RedisStorage) watch(ctx context.Context, key string, txf func(tx *redis.Tx) error) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// DeleteExpired removes keys whose expiry is before now. Each deletion is
// guarded by WATCH so a key extended concurrently is kept.
func (s *RedisStorage) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		code := strings.TrimPrefix(key, s.prefix)
		removed := false
		txf := func(tx *redis.Tx) error {
			removed = false
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read key: %w", err)
			}
			rec, err := decodeRecord(code, data)
			if err != nil {
				return err
			}
			if !rec.IsExpired(now) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				removed = true
			}
			return err
		}
		if err := s.watch(ctx, key, txf); err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}

// DeleteAll removes every key in the namespace.
func (s *RedisStorage) DeleteAll(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	return int(n), nil
}

// Ping verifies the Redis connection.
func (s *RedisStorage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
