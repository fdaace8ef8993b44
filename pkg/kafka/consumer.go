package kafka

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"SignalCore/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads registered topics in one consumer group. Messages are
// sharded by (topic, partition) so each partition is handled in order by a
// single worker and its offsets are committed in order.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	hook     ConsumerHook
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	shards   []chan kafka.Message
	dlq      *kafka.Writer

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	fetchers sync.WaitGroup
	workers  sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer validates the configuration. Nothing connects until Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger,
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
	}
	if c.log == nil {
		c.log = logger.NewNop()
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.Hash{}}
	}
	initConsumerMetricsOnce()
	return c, nil
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler binds handler to its topic. The first registration wins.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka consumer: handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// Start opens a reader per registered topic and launches the shards.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("kafka consumer: no handlers registered")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.shards = make([]chan kafka.Message, c.cfg.Workers)
	for i := range c.shards {
		c.shards[i] = make(chan kafka.Message, c.cfg.BufferSize)
		c.workers.Add(1)
		go c.work(i)
	}

	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       topic,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: startOffset(c.cfg.StartOffset),
		})
		c.readers[topic] = r
		c.fetchers.Add(1)
		go c.fetch(topic, r)
	}
	c.log.Info("kafka consumer: started",
		logger.Int("topics", len(c.readers)),
		logger.Int("shards", len(c.shards)),
		logger.String("group", c.cfg.GroupID))
	return nil
}

// Stop ends fetching, lets in-flight messages finish and closes readers.
// Queued messages that were not started stay uncommitted and are
// redelivered to the next member of the group.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.stopping.Store(true)
		c.cancel()
		c.fetchers.Wait()
		for _, s := range c.shards {
			close(s)
		}

		done := make(chan struct{})
		go func() {
			c.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer: workers still busy: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
		c.log.Info("kafka consumer: stopped")
	})
	return err
}

func (c *Consumer) fetch(topic string, r *kafka.Reader) {
	defer c.fetchers.Done()
	for {
		km, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka consumer: fetch", logger.String("topic", topic), logger.Error(err))
			select {
			case <-time.After(Backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, 3)):
				continue
			case <-c.ctx.Done():
				return
			}
		}

		shard := c.shards[shardFor(km.Topic, km.Partition, len(c.shards))]
		select {
		case shard <- km:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(shard)))
		case <-c.ctx.Done():
			return
		}
	}
}

func shardFor(topic string, partition, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(n))
}

func (c *Consumer) work(i int) {
	defer c.workers.Done()
	for km := range c.shards[i] {
		if c.stopping.Load() {
			continue
		}
		handler, ok := c.handlers[km.Topic]
		if !ok {
			continue
		}
		start := time.Now()
		if c.deliver(handler, km) {
			c.commit(km)
		}
		consumerHandleLatency.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())
	}
}

// deliver runs the handler with retries. It reports whether the offset may
// be committed: on success, on a permanent failure, or once the message is
// parked in the DLQ.
func (c *Consumer) deliver(handler MessageHandler, km kafka.Message) (commit bool) {
	defer func() {
		if r := recover(); r != nil {
			err := Permanent(fmt.Errorf("handler panic: %v", r))
			commit = c.drop(km, err, 1)
		}
	}()

	var (
		err      error
		attempts int
	)
	for {
		attempts++
		ctx, hmsg, data, berr := c.hook.BeforeHandle(context.Background(), km.Topic, km, km.Value)
		if berr != nil {
			err = berr
			break
		}
		err = handler.Handle(ctx, data)
		c.hook.AfterHandle(ctx, km.Topic, hmsg, data, err)
		if err == nil {
			return true
		}
		c.hook.OnError(ctx, km.Topic, hmsg, data, err)
		if IsPermanent(err) || attempts > c.cfg.RetryMax {
			break
		}
		select {
		case <-time.After(Backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-c.ctx.Done():
			// leave uncommitted for redelivery
			return false
		}
	}
	return c.drop(km, err, attempts)
}

func (c *Consumer) drop(km kafka.Message, err error, attempts int) bool {
	reason := "retries_exhausted"
	if IsPermanent(err) {
		reason = "permanent"
	}
	consumerFailures.WithLabelValues(km.Topic, reason).Inc()
	c.log.Error("kafka consumer: message dropped",
		logger.String("topic", km.Topic),
		logger.Int("partition", km.Partition),
		logger.Int64("offset", km.Offset),
		logger.String("key", string(km.Key)),
		logger.String("reason", reason),
		logger.Int("attempts", attempts),
		logger.String("payload", excerpt(km.Value, 256)),
		logger.Error(err))

	if c.dlq == nil {
		return IsPermanent(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	werr := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   km.Key,
		Value: km.Value,
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(km.Topic)},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(km.Offset, 10))},
			{Key: "error", Value: []byte(err.Error())},
		},
	})
	if werr != nil {
		c.log.Error("kafka consumer: dlq write", logger.String("dlq_topic", c.cfg.DLQTopic), logger.Error(werr))
		return IsPermanent(err)
	}
	return true
}

func (c *Consumer) commit(km kafka.Message) {
	r := c.readers[km.Topic]
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(Backoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka consumer: commit failed",
		logger.String("topic", km.Topic),
		logger.Int64("offset", km.Offset),
		logger.Error(err))
}

func excerpt(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func startOffset(reset string) int64 {
	if reset == "latest" {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

// Backoff returns an exponential delay for attempt, capped at max, with up
// to half of it removed as jitter.
func Backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	d := max
	if attempt < 32 {
		if exp := min << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	half := int64(d) / 2
	if half <= 0 {
		return d
	}
	return d - time.Duration(rand.Int63n(half))
}

var (
	consumerMetrics       sync.Once
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerFailures      *prometheus.CounterVec
)

func initConsumerMetricsOnce() {
	consumerMetrics.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "signalcore_kafka_consumer_queue_depth", Help: "Messages waiting in the shard a topic last enqueued to"},
			[]string{"topic"},
		)
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "signalcore_kafka_consumer_handle_seconds", Help: "Handling time per message including retries"},
			[]string{"topic"},
		)
		consumerFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "signalcore_kafka_consumer_failures_total", Help: "Messages given up on, by reason"},
			[]string{"topic", "reason"},
		)
	})
}
