package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N int `json:"n"`
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var c counter
	_, err := s.Get(ctx, "k", &c)
	require.ErrorIs(t, err, ErrNotFound)

	v, err := s.CompareAndSwap(ctx, "k", 0, counter{N: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = s.CompareAndSwap(ctx, "k", 0, counter{N: 2})
	assert.ErrorIs(t, err, ErrVersionConflict)

	v, err = s.CompareAndSwap(ctx, "k", 1, counter{N: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	got, ver, err := Load[counter](ctx, s, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, got.N)
	assert.Equal(t, int64(2), ver)
}

func TestUpdateConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Update(ctx, s, "ctr", 1000, func(cur counter, _ bool) (counter, error) {
				cur.N++
				return cur, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, ver, err := Load[counter](ctx, s, "ctr")
	require.NoError(t, err)
	assert.Equal(t, workers, got.N)
	assert.Equal(t, int64(workers), ver)
}

func TestUpdateNoChangeAndCallbackError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.CompareAndSwap(ctx, "k", 0, counter{N: 5})
	require.NoError(t, err)

	got, err := Update(ctx, s, "k", 3, func(cur counter, exists bool) (counter, error) {
		assert.True(t, exists)
		return cur, ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, 5, got.N)

	boom := errors.New("boom")
	_, err = Update(ctx, s, "k", 3, func(cur counter, _ bool) (counter, error) {
		return cur, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ver, _ := Load[counter](ctx, s, "k")
	assert.Equal(t, int64(1), ver)
}

func TestLoadAllAndKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, k := range []string{"weight:a", "weight:b", "decay:a"} {
		_, err := s.CompareAndSwap(ctx, k, 0, counter{N: len(k)})
		require.NoError(t, err)
	}

	keys, err := s.Keys(ctx, "weight:")
	require.NoError(t, err)
	assert.Equal(t, []string{"weight:a", "weight:b"}, keys)

	all, err := LoadAll[counter](ctx, s, "weight:")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 8, all["weight:a"].N)

	require.NoError(t, s.Delete(ctx, "weight:a"))
	keys, _ = s.Keys(ctx, "weight:")
	assert.Equal(t, []string{"weight:b"}, keys)
}

func TestMemoryStoreTryLock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ok, err := s.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.TryLock(ctx, "job", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = s.TryLock(ctx, "job", time.Minute)
	assert.True(t, ok)

	require.NoError(t, s.Unlock(ctx, "job"))
	ok, _ = s.TryLock(ctx, "job", time.Minute)
	assert.True(t, ok)
}
