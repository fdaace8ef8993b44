package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships alert batches. The Kafka publisher satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush at least this often
	CountThreshold int           // flush once this many distinct entries are pending
	Topic          string
	Service        string
	Publisher      Publisher
	PublishTimeout time.Duration
}

// AlertBatch is the payload published to the alerts topic.
type AlertBatch struct {
	Service string               `json:"service"`
	SentAt  time.Time            `json:"sent_at"`
	Entries []AggregatedLogEntry `json:"entries"`
}

// AggregatedLogEntry folds identical log lines into one entry with a count.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector aggregates log lines and publishes them in batches from a
// single goroutine, so batches leave in the order they were cut.
type LogCollector struct {
	cfg     CollectionConfig
	mu      sync.Mutex
	pending map[uint64]*AggregatedLogEntry
	batches chan AlertBatch
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		pending: make(map[uint64]*AggregatedLogEntry),
		batches: make(chan AlertBatch, 16),
		stop:    make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	if c.cfg.PublishTimeout <= 0 {
		c.cfg.PublishTimeout = 10 * time.Second
	}

	c.wg.Add(2)
	go c.tick()
	go c.publish()
	return c
}

// AddLog records one occurrence of a log line.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now().UTC()
	fp := fingerprint(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.pending[fp]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	c.pending[fp] = &AggregatedLogEntry{
		Level:     level,
		Message:   message,
		Fields:    fields,
		Caller:    caller,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	if len(c.pending) >= c.cfg.CountThreshold {
		c.cutLocked()
	}
}

// Flush publishes whatever is pending without waiting for the interval.
func (c *LogCollector) Flush() {
	c.mu.Lock()
	c.cutLocked()
	c.mu.Unlock()
}

// Close flushes pending entries and waits until every batch is published.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func (c *LogCollector) tick() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Flush()
		case <-c.stop:
			c.Flush()
			c.mu.Lock()
			close(c.batches)
			c.batches = nil
			c.mu.Unlock()
			return
		}
	}
}

func (c *LogCollector) publish() {
	defer c.wg.Done()
	for b := range c.batches {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, b); err != nil {
			// the logger cannot report its own delivery failures
			fmt.Fprintf(os.Stderr, "alert batch of %d entries dropped: %v\n", len(b.Entries), err)
		}
		cancel()
	}
}

// cutLocked moves pending entries into a batch. Entries logged after Close
// are dropped.
func (c *LogCollector) cutLocked() {
	if len(c.pending) == 0 || c.batches == nil {
		return
	}
	entries := make([]AggregatedLogEntry, 0, len(c.pending))
	for _, e := range c.pending {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FirstSeen.Before(entries[j].FirstSeen) })
	c.pending = make(map[uint64]*AggregatedLogEntry)
	c.batches <- AlertBatch{Service: c.cfg.Service, SentAt: time.Now().UTC(), Entries: entries}
}

func fingerprint(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	for _, s := range []string{level, message, caller} {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	// json.Marshal sorts map keys, so equal field sets hash equally
	if b, err := json.Marshal(fields); err == nil {
		_, _ = h.Write(b)
	}
	return h.Sum64()
}
