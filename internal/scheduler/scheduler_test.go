package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/pkg/cache"
)

func TestRunNowTakesLock(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	s := New(store, time.Minute, nil)

	var runs atomic.Int32
	require.NoError(t, s.Register(Job{Name: "rebalance", Spec: "0 0 */4 * * *", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	ran, err := s.RunNow(ctx, "rebalance")
	require.NoError(t, err)
	assert.True(t, ran)

	held, err := store.TryLock(ctx, cache.Key("job", "rebalance"), time.Minute)
	require.NoError(t, err)
	require.True(t, held, "lock is released after the run")

	ran, err = s.RunNow(ctx, "rebalance")
	require.NoError(t, err)
	assert.False(t, ran, "another holder blocks the run")
	assert.Equal(t, int32(1), runs.Load())
}

func TestRunNowReportsJobError(t *testing.T) {
	s := New(cache.NewMemoryStore(), time.Minute, nil)
	boom := errors.New("boom")
	require.NoError(t, s.Register(Job{Name: "decay", Spec: "0 15 0 * * *", Run: func(context.Context) error { return boom }}))

	ran, err := s.RunNow(context.Background(), "decay")
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	_, err = s.RunNow(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRegisterRejectsBadSpecAndDuplicates(t *testing.T) {
	s := New(cache.NewMemoryStore(), time.Minute, nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Register(Job{Name: "bad", Spec: "not a spec", Run: noop}))
	require.NoError(t, s.Register(Job{Name: "corr", Spec: "* * * * * *", Run: noop}))
	assert.Error(t, s.Register(Job{Name: "corr", Spec: "* * * * * *", Run: noop}))
}

func TestCronFiresJobs(t *testing.T) {
	s := New(cache.NewMemoryStore(), time.Minute, nil)
	fired := make(chan struct{}, 4)
	require.NoError(t, s.Register(Job{Name: "tick", Spec: "* * * * * *", Run: func(context.Context) error {
		fired <- struct{}{}
		return nil
	}}))
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}
