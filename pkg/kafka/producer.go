package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Producer is a synchronous Kafka writer shared by every publisher.
type Producer struct {
	writer *kafka.Writer
	comp   string
}

// NewProducer creates a new Kafka producer.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	codec, _ := compressionCodec(cfg.Compression)

	bal := kafka.Balancer(&kafka.LeastBytes{})
	if cfg.KeyPartitioning {
		bal = &kafka.Hash{}
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.Linger,
	}

	initProducerMetricsOnce()
	return &Producer{writer: writer, comp: cfg.Compression}, nil
}

// Header is a message header.
type Header = kafka.Header

// Publish writes one message and waits for the broker acknowledgement.
// []byte and string values are sent as is; anything else is JSON encoded.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}, headers ...Header) error {
	v, err := encodeValue(value)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   v,
		Headers: headers,
		Time:    start,
	})
	producerStats.observe(topic, p.comp, len(v), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending batches and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodeValue(value interface{}) ([]byte, error) {
	switch val := value.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	case json.RawMessage:
		return val, nil
	}
	v, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return v, nil
}

type producerMetrics struct {
	once     sync.Once
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var producerStats producerMetrics

func initProducerMetricsOnce() {
	producerStats.once.Do(func() {
		producerStats.messages = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcore_kafka_producer_messages_total",
			Help: "Messages written to Kafka by result",
		}, []string{"topic", "result"})
		producerStats.bytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcore_kafka_producer_bytes_total",
			Help: "Uncompressed payload bytes written to Kafka",
		}, []string{"topic", "compression"})
		producerStats.latency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalcore_kafka_producer_write_seconds",
			Help:    "Time until the broker acknowledged a write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"topic"})
	})
}

func (m *producerMetrics) observe(topic, comp string, n int, d time.Duration, err error) {
	if m.messages == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		m.bytes.WithLabelValues(topic, comp).Add(float64(n))
	}
	m.messages.WithLabelValues(topic, result).Inc()
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}
