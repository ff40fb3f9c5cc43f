package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships a digest somewhere durable. *kafka.Producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls error digests. A digest is flushed every
// TimeInterval or as soon as CountThreshold distinct errors are pending.
type CollectionConfig struct {
	Service        string
	TimeInterval   time.Duration
	CountThreshold int
	Topic          string
	Publisher      Publisher
}

// LogBatch is one flushed digest.
type LogBatch struct {
	Service   string        `json:"service"`
	FlushedAt time.Time     `json:"flushed_at"`
	Entries   []DigestEntry `json:"entries"`
}

// DigestEntry is a distinct error line with how often it was seen.
type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

type LogCollector struct {
	cfg CollectionConfig

	mu      sync.Mutex
	pending map[uint64]*DigestEntry

	full chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		pending: make(map[uint64]*DigestEntry),
		full:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	go c.run()
	return c
}

func digestKey(level, msg, caller string, fields map[string]interface{}) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", level, caller, msg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, fields[k])
	}
	return h.Sum64()
}

func (c *LogCollector) AddLog(level, msg string, fields map[string]interface{}, caller string) {
	key := digestKey(level, msg, caller, fields)
	now := time.Now().UTC()

	c.mu.Lock()
	e, ok := c.pending[key]
	if !ok {
		e = &DigestEntry{Level: level, Message: msg, Fields: fields, Caller: caller, FirstSeen: now}
		c.pending[key] = e
	}
	e.Count++
	e.LastSeen = now
	n := len(c.pending)
	c.mu.Unlock()

	if n >= c.cfg.CountThreshold {
		select {
		case c.full <- struct{}{}:
		default:
		}
	}
}

func (c *LogCollector) run() {
	defer close(c.done)
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-c.full:
		case <-c.stop:
			c.flush()
			return
		}
		c.flush()
	}
}

func (c *LogCollector) flush() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := LogBatch{Service: c.cfg.Service, FlushedAt: time.Now().UTC(), Entries: make([]DigestEntry, 0, len(c.pending))}
	for _, e := range c.pending {
		batch.Entries = append(batch.Entries, *e)
	}
	c.pending = make(map[uint64]*DigestEntry)
	c.mu.Unlock()

	if c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// the logger cannot log its own publish failure without recursing
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		fmt.Fprintf(os.Stderr, "publish error digest: %v\n", err)
	}
}

// Close flushes what is pending and stops the flush loop.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
}
