package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/internal/domain/models"
	domrepo "SignalCore/internal/domain/repository"
	pkgsqlite "SignalCore/pkg/sqlite"
)

var t0 = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func envelopes(t *testing.T) []models.Envelope {
	t.Helper()
	var out []models.Envelope
	for i, topic := range []string{models.TopicTradeOutcome, models.TopicRegimeChange, models.TopicDecayEvaluated} {
		env, err := models.NewEnvelope(topic, "k", t0.Add(time.Duration(i)*time.Hour), map[string]int{"i": i})
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func exerciseLog(t *testing.T, log domrepo.EventLog) {
	ctx := context.Background()
	require.NoError(t, log.Init(ctx))

	envs := envelopes(t)
	for _, env := range envs {
		require.NoError(t, log.Append(ctx, env))
	}
	require.NoError(t, log.Append(ctx, envs[0]), "re-append is a no-op")

	var got []models.Envelope
	require.NoError(t, log.Replay(ctx, time.Time{}, func(env models.Envelope) error {
		got = append(got, env)
		return nil
	}))
	require.Len(t, got, 3)
	for i := range envs {
		assert.Equal(t, envs[i].ID, got[i].ID)
		assert.Equal(t, envs[i].Type, got[i].Type)
		assert.True(t, envs[i].Timestamp.Equal(got[i].Timestamp))
		assert.JSONEq(t, string(envs[i].Payload), string(got[i].Payload))
	}

	got = got[:0]
	require.NoError(t, log.Replay(ctx, t0.Add(time.Hour), func(env models.Envelope) error {
		got = append(got, env)
		return nil
	}))
	assert.Len(t, got, 2)

	stop := errors.New("stop")
	err := log.Replay(ctx, time.Time{}, func(models.Envelope) error { return stop })
	assert.ErrorIs(t, err, stop)

	err = log.Append(ctx, models.Envelope{Type: "x"})
	assert.ErrorIs(t, err, models.ErrMalformed)
}

func TestMemoryEventLog(t *testing.T) {
	log := NewMemoryEventLog()
	exerciseLog(t, log)
	assert.Equal(t, 3, log.Len())
}

func TestSQLiteEventLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	c, err := pkgsqlite.NewClient(pkgsqlite.WithPath(path))
	require.NoError(t, err)
	defer c.Close()

	exerciseLog(t, NewSQLiteEventLog(c, "event_log"))
}

func TestSQLiteEventLogSequenceSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	c, err := pkgsqlite.NewClient(pkgsqlite.WithPath(path))
	require.NoError(t, err)
	first := NewSQLiteEventLog(c, "event_log")
	require.NoError(t, first.Init(ctx))
	envs := envelopes(t)
	require.NoError(t, first.Append(ctx, envs[0]))
	before := first.seq.Load()
	require.NoError(t, c.Close())

	c, err = pkgsqlite.NewClient(pkgsqlite.WithPath(path))
	require.NoError(t, err)
	defer c.Close()
	second := NewSQLiteEventLog(c, "event_log")
	require.NoError(t, second.Init(ctx))
	assert.Equal(t, before, second.seq.Load())
	require.NoError(t, second.Append(ctx, envs[1]))
	assert.Greater(t, second.seq.Load(), before)

	var ids []string
	require.NoError(t, second.Replay(ctx, time.Time{}, func(env models.Envelope) error {
		ids = append(ids, env.ID)
		return nil
	}))
	assert.Equal(t, []string{envs[0].ID, envs[1].ID}, ids)
}
