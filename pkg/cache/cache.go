package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("cache: key not found")
	ErrVersionConflict = errors.New("cache: version conflict")
	// ErrNoChange may be returned by an Update callback to leave the key untouched.
	ErrNoChange = errors.New("cache: no change")
)

// Store is a versioned key-value store. Every key carries a monotonically
// increasing version; version 0 means the key does not exist.
type Store interface {
	// Get decodes the value into dest and returns its version.
	Get(ctx context.Context, key string, dest interface{}) (int64, error)
	// CompareAndSwap writes value only if the stored version equals expected.
	// It returns the new version or ErrVersionConflict.
	CompareAndSwap(ctx context.Context, key string, expected int64, value interface{}) (int64, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

// record is the stored envelope around a value.
type record struct {
	Version int64           `json:"v"`
	Data    json.RawMessage `json:"d"`
}

// Load reads a typed value. A missing key yields the zero value, version 0 and no error.
func Load[T any](ctx context.Context, s Store, key string) (T, int64, error) {
	var v T
	ver, err := s.Get(ctx, key, &v)
	if errors.Is(err, ErrNotFound) {
		var zero T
		return zero, 0, nil
	}
	if err != nil {
		var zero T
		return zero, 0, err
	}
	return v, ver, nil
}

// LoadAll reads every key under prefix. Undecodable entries are skipped.
func LoadAll[T any](ctx context.Context, s Store, prefix string) (map[string]T, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(keys))
	for _, k := range keys {
		var v T
		if _, err := s.Get(ctx, k, &v); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			var se *json.SyntaxError
			var te *json.UnmarshalTypeError
			if errors.As(err, &se) || errors.As(err, &te) {
				continue
			}
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Update runs a read-modify-write cycle with optimistic concurrency, retrying
// on version conflicts up to maxRetries times.
func Update[T any](ctx context.Context, s Store, key string, maxRetries int, fn func(cur T, exists bool) (T, error)) (T, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var zero T
	for attempt := 0; attempt < maxRetries; attempt++ {
		cur, ver, err := Load[T](ctx, s, key)
		if err != nil {
			return zero, fmt.Errorf("load %s: %w", key, err)
		}
		next, err := fn(cur, ver > 0)
		if errors.Is(err, ErrNoChange) {
			return cur, nil
		}
		if err != nil {
			return zero, err
		}
		_, err = s.CompareAndSwap(ctx, key, ver, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return zero, fmt.Errorf("swap %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Millisecond):
		}
	}
	return zero, fmt.Errorf("update %s: %w after %d attempts", key, ErrVersionConflict, maxRetries)
}
