package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalCore/internal/domain/models"
)

type recordingHandler struct {
	topic string
	got   []models.Envelope
	err   error
}

func (h *recordingHandler) Topic() string { return h.topic }

func (h *recordingHandler) Handle(_ context.Context, b []byte) error {
	env, err := models.ParseEnvelope(b)
	if err != nil {
		return err
	}
	h.got = append(h.got, env)
	return h.err
}

func TestBusDispatchesByTopic(t *testing.T) {
	bus := NewBus(nil)
	ticks := &recordingHandler{topic: models.TopicTick}
	failing := &recordingHandler{topic: models.TopicTick, err: errors.New("nope")}
	other := &recordingHandler{topic: models.TopicRebalance}
	bus.RegisterHandler(ticks)
	bus.RegisterHandler(failing)
	bus.RegisterHandler(other)

	env, err := models.NewEnvelope(models.TopicTick, "AAPL", time.Now(), models.Tick{Instrument: "AAPL", Price: 1})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), env))

	require.Len(t, ticks.got, 1)
	assert.Equal(t, env.ID, ticks.got[0].ID)
	assert.Empty(t, other.got)
	assert.Len(t, bus.Failures(), 1)
	assert.Len(t, bus.Published(models.TopicTick), 1)
	assert.Empty(t, bus.Published(models.TopicRebalance))

	require.NoError(t, bus.PublishMessage(context.Background(), models.TopicAlerts, map[string]string{"a": "b"}))
	assert.Len(t, bus.Published(""), 2)
}
