package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerConfigValidation(t *testing.T) {
	_, err := NewProducer()
	assert.ErrorContains(t, err, "brokers are required")

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.ErrorContains(t, err, "unknown compression")

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithRequiredAcks(2))
	assert.Error(t, err)
}

func TestProducerOptions(t *testing.T) {
	cfg := defaultProducerConfig()
	for _, opt := range []ProducerOption{
		WithBrokers([]string{"a:9092"}),
		WithCompression("zstd"),
		WithBatching(0, 4096, 20*time.Millisecond),
		WithMaxAttempts(0),
		WithKeyPartitioning(false),
	} {
		opt(cfg)
	}
	require.NoError(t, cfg.validate())
	assert.Equal(t, 100, cfg.BatchSize, "non-positive size keeps the default")
	assert.Equal(t, 4096, cfg.BatchBytes)
	assert.Equal(t, 20*time.Millisecond, cfg.Linger)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.False(t, cfg.KeyPartitioning)

	codec, err := compressionCodec(cfg.Compression)
	require.NoError(t, err)
	assert.Equal(t, kafka.Zstd, codec)
}

func TestNewProducerUsesKeyHashing(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	defer p.Close()

	_, ok := p.writer.Balancer.(*kafka.Hash)
	assert.True(t, ok)
	assert.Equal(t, kafka.Snappy, p.writer.Compression)
}
