package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDesk/internal/domain/models"
	mid "AlphaDesk/internal/middleware"
	pkgkafka "AlphaDesk/pkg/kafka"
)

type sink struct {
	mu     sync.Mutex
	got    []*models.Tick
	refuse bool
}

func (s *sink) Ingest(t *models.Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return false
	}
	s.got = append(s.got, t)
	return true
}

func (s *sink) ticks() []*models.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Tick(nil), s.got...)
}

type memStorage struct {
	mu      sync.Mutex
	batches [][]*models.Tick
	err     error
	closed  bool
}

func (m *memStorage) Init(context.Context) error   { return nil }
func (m *memStorage) Health(context.Context) error { return nil }

func (m *memStorage) Close() error {
	m.closed = true
	return nil
}

func (m *memStorage) StoreBatch(_ context.Context, ts []*models.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, ts)
	return nil
}

func TestProcessorBatchesStorage(t *testing.T) {
	s := &sink{}
	store := &memStorage{}
	p := NewTickProcessor(s, WithStorage(store, 2, time.Hour))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, &models.Tick{Symbol: "EURUSD", Last: 1.1}))
	assert.Empty(t, store.batches)
	require.NoError(t, p.Process(ctx, &models.Tick{Symbol: "EURUSD", Last: 1.2}))
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 2)

	require.NoError(t, p.Process(ctx, &models.Tick{Symbol: "GBPUSD", Last: 1.3}))
	require.NoError(t, p.Flush(ctx))
	assert.Len(t, store.batches, 2)
	assert.Len(t, s.ticks(), 3)

	require.NoError(t, p.Close())
	assert.True(t, store.closed)
}

func TestProcessorBackpressure(t *testing.T) {
	p := NewTickProcessor(&sink{refuse: true})
	err := p.Process(context.Background(), &models.Tick{Symbol: "EURUSD", Last: 1.1})
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.Error(t, p.Process(context.Background(), nil))
}

func TestProcessorStorageFailureDropsBatch(t *testing.T) {
	store := &memStorage{err: errors.New("clickhouse down")}
	p := NewTickProcessor(&sink{}, WithStorage(store, 10, time.Hour))
	require.NoError(t, p.Process(context.Background(), &models.Tick{Symbol: "EURUSD", Last: 1.1}))
	assert.Error(t, p.Flush(context.Background()))

	store.err = nil
	require.NoError(t, p.Flush(context.Background()))
	assert.Empty(t, store.batches)
}

func TestProcessorRunFlushesOnExit(t *testing.T) {
	store := &memStorage{}
	p := NewTickProcessor(&sink{}, WithStorage(store, 100, time.Hour))
	require.NoError(t, p.Process(context.Background(), &models.Tick{Symbol: "EURUSD", Last: 1.1}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
	assert.Len(t, store.batches, 1)
}

func TestKafkaTicksHandler(t *testing.T) {
	s := &sink{}
	h := NewKafkaTicksHandler("market.ticks", NewTickProcessor(s), nil)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	assert.Equal(t, "market.ticks", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"EURUSD","bid":1.0999,"ask":1.1001,"t":1709640000000}`)))
	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"GBPUSD","c":1.27,"v":3,"t":1709640000}`)))
	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"USDJPY","last":150}`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`not json`)))

	got := s.ticks()
	require.Len(t, got, 3)
	assert.InDelta(t, 1.1, got[0].Price(), 1e-9)
	assert.Equal(t, time.UnixMilli(1709640000000).UTC(), got[0].Timestamp)
	assert.Equal(t, 1.27, got[1].Last)
	assert.Equal(t, 3.0, got[1].Volume)
	assert.Equal(t, time.Unix(1709640000, 0).UTC(), got[1].Timestamp)
	assert.Equal(t, now, got[2].Timestamp)
}

type fakeStream struct {
	mu         sync.Mutex
	connected  bool
	reconnects int
	reads      int
	ticks      chan *models.Tick
	errs       chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{ticks: make(chan *models.Tick, 8), errs: make(chan error, 1)}
}

func (f *fakeStream) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Subscribe(context.Context) error { return nil }

func (f *fakeStream) Read(context.Context) (<-chan *models.Tick, <-chan error) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	return f.ticks, f.errs
}

func (f *fakeStream) Reconnect(context.Context) error {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects, f.reads
}

func TestCollectorForwardsAndReconnects(t *testing.T) {
	s := &sink{}
	stream := newFakeStream()
	pipe := mid.NewRealtimePipeline(NewTickProcessor(s), mid.WithMaxRPS(0))
	c := NewTickCollector(stream, NewTickProcessor(s), WithPipeline(pipe))

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsConnected())

	stream.ticks <- &models.Tick{Symbol: "EURUSD", Last: 1.1}
	require.Eventually(t, func() bool { return len(s.ticks()) == 1 }, time.Second, 5*time.Millisecond)

	stream.errs <- errors.New("connection reset")
	require.Eventually(t, func() bool {
		r, reads := stream.counts()
		return r == 1 && reads == 2
	}, time.Second, 5*time.Millisecond)

	stream.ticks <- &models.Tick{Symbol: "EURUSD", Last: 1.2}
	require.Eventually(t, func() bool { return len(s.ticks()) == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.False(t, c.IsConnected())
}

type fakeConsumer struct {
	topics  []string
	started bool
	stopped bool
}

func (f *fakeConsumer) RegisterHandler(h pkgkafka.MessageHandler) { f.topics = append(f.topics, h.Topic()) }

func (f *fakeConsumer) Start() error {
	f.started = true
	return nil
}

func (f *fakeConsumer) Stop(context.Context) error {
	f.stopped = true
	return nil
}

func TestKafkaSourceLifecycle(t *testing.T) {
	fc := &fakeConsumer{}
	src := &KafkaSource{consumer: fc, handler: NewKafkaTicksHandler("market.ticks", nil, nil)}

	require.NoError(t, src.Start(context.Background()))
	assert.Equal(t, []string{"market.ticks"}, fc.topics)
	assert.True(t, fc.started)
	require.NoError(t, src.Shutdown(context.Background()))
	assert.True(t, fc.stopped)
}
