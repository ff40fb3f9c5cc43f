package alpha

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDesk/internal/domain/models"
	domsvc "AlphaDesk/internal/domain/service"
	"AlphaDesk/pkg/config"
)

type stubPod struct {
	name  string
	warm  bool
	sig   *models.Signal
	err   error
	delay time.Duration

	mu       sync.Mutex
	outcomes []float64
}

func (p *stubPod) Name() string           { return p.name }
func (p *stubPod) Kind() string           { return "stub" }
func (p *stubPod) Warmup(string, []models.Candle) {}

func (p *stubPod) ComputeSignal(ctx context.Context, symbol string, _ domsvc.Features, _ *models.Tick) (*models.Signal, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil || p.sig == nil {
		return nil, p.err
	}
	s := *p.sig
	s.Symbol = symbol
	s.SourcePod = p.name
	return &s, nil
}

func (p *stubPod) Performance() models.PodPerformance {
	perf := models.PodPerformance{Name: p.name, WarmupBars: 10}
	if p.warm {
		perf.BarsProcessed = 10
	}
	return perf
}

func (p *stubPod) RecordOutcome(pnl float64) {
	p.mu.Lock()
	p.outcomes = append(p.outcomes, pnl)
	p.mu.Unlock()
}

func warmPods(names ...string) []domsvc.Pod {
	out := make([]domsvc.Pod, 0, len(names))
	for _, n := range names {
		out = append(out, &stubPod{name: n, warm: true})
	}
	return out
}

type memStateStore struct {
	mu   sync.Mutex
	pods []models.PodState
}

func (m *memStateStore) SavePosition(context.Context, *models.Position) error       { return nil }
func (m *memStateStore) DeletePosition(context.Context, string) error               { return nil }
func (m *memStateStore) LoadPositions(context.Context) ([]*models.Position, error)  { return nil, nil }
func (m *memStateStore) SaveOrder(context.Context, *models.Order) error             { return nil }
func (m *memStateStore) GetOrder(context.Context, string) (*models.Order, error)    { return nil, nil }
func (m *memStateStore) SaveRiskConfig(context.Context, models.RiskConfig) error    { return nil }
func (m *memStateStore) LoadRiskConfig(context.Context) (*models.RiskConfig, error) { return nil, nil }

func (m *memStateStore) SavePodStates(_ context.Context, s []models.PodState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pods = append([]models.PodState(nil), s...)
	return nil
}

func (m *memStateStore) LoadPodStates(context.Context) ([]models.PodState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PodState(nil), m.pods...), nil
}

func allocCfg() config.AllocatorConfig {
	return config.AllocatorConfig{LearningRate: 0.5, MinPodWeight: 0.05, MaxPodWeight: 0.6, PerformanceWindow: 5}
}

func assertSimplex(t *testing.T, w map[string]float64, lo, hi float64) {
	t.Helper()
	var s float64
	for name, v := range w {
		assert.GreaterOrEqual(t, v, lo-1e-9, name)
		assert.LessOrEqual(t, v, hi+1e-9, name)
		s += v
	}
	assert.InDelta(t, 1.0, s, 1e-6)
}

func TestNewAllocatorEqualWeights(t *testing.T) {
	a, err := NewAllocator(allocCfg(), warmPods("a", "b", "c", "d"))
	require.NoError(t, err)
	for _, w := range a.Weights() {
		assert.InDelta(t, 0.25, w, 1e-9)
	}
}

func TestNewAllocatorRejectsInfeasibleBounds(t *testing.T) {
	cfg := allocCfg()
	cfg.MaxPodWeight = 0.3
	_, err := NewAllocator(cfg, warmPods("a", "b"))
	assert.Error(t, err)

	_, err = NewAllocator(allocCfg(), []domsvc.Pod{&stubPod{name: "a"}, &stubPod{name: "a"}})
	assert.Error(t, err)
}

func TestReweightDirection(t *testing.T) {
	a, err := NewAllocator(allocCfg(), warmPods("win", "lose", "flat"))
	require.NoError(t, err)
	before := a.Weights()

	a.RecordOutcome(map[string]float64{"win": 0.5}, 100)
	a.RecordOutcome(map[string]float64{"lose": 0.5}, -100)
	require.NoError(t, a.Reweight(context.Background()))

	after := a.Weights()
	assert.Greater(t, after["win"], before["win"])
	assert.Less(t, after["lose"], before["lose"])
	assert.Less(t, after["flat"], before["flat"], "no edge is treated as a loss")
	assert.InDelta(t, after["lose"], after["flat"], 1e-12)
	assertSimplex(t, after, 0.05, 0.6)
}

func TestReweightWithoutOutcomesKeepsWeights(t *testing.T) {
	a, err := NewAllocator(allocCfg(), warmPods("a", "b", "c"))
	require.NoError(t, err)
	before := a.Weights()
	require.NoError(t, a.Reweight(context.Background()))
	for name, w := range a.Weights() {
		assert.InDelta(t, before[name], w, 1e-12, name)
	}
}

func TestReweightKeepsBoundsUnderRandomOutcomes(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e"}
	a, err := NewAllocator(allocCfg(), warmPods(names...))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		for i := 0; i < 3; i++ {
			attr := map[string]float64{names[rng.Intn(len(names))]: rng.Float64()*2 - 1}
			a.RecordOutcome(attr, rng.NormFloat64()*50)
		}
		require.NoError(t, a.Reweight(context.Background()))
		assertSimplex(t, a.Weights(), 0.05, 0.6)
	}
}

func TestProjectCapped(t *testing.T) {
	w := projectCapped([]float64{100, 1, 1, 0}, 0.1, 0.5)
	var s float64
	for _, v := range w {
		s += v
		assert.GreaterOrEqual(t, v, 0.1-1e-9)
		assert.LessOrEqual(t, v, 0.5+1e-9)
	}
	assert.InDelta(t, 1.0, s, 1e-9)
	assert.InDelta(t, 0.5, w[0], 1e-9)
	assert.InDelta(t, 0.1, w[3], 1e-9)

	eq := projectCapped([]float64{0, 0}, 0, 1)
	assert.Equal(t, []float64{0.5, 0.5}, eq)
}

func TestBlendSignals(t *testing.T) {
	a, err := NewAllocator(allocCfg(), warmPods("up", "down"))
	require.NoError(t, err)

	b := a.BlendSignals([]*models.Signal{
		{Symbol: "EURUSD", Value: 0.8, Confidence: 0.9, Volatility: 0.01, SourcePod: "up"},
		{Symbol: "EURUSD", Value: -0.4, Confidence: 0.7, Volatility: 0.03, SourcePod: "down"},
		{Symbol: "GBPUSD", Value: 1, Confidence: 1, SourcePod: "up"},
	}, "EURUSD")

	assert.Equal(t, 2, b.Contributors)
	assert.InDelta(t, 0.2, b.Signal, 1e-9)
	assert.InDelta(t, 0.4, b.Attribution["up"], 1e-9)
	assert.InDelta(t, -0.2, b.Attribution["down"], 1e-9)
	assert.InDelta(t, 0.8*0.2/0.6, b.Confidence, 1e-9, "disagreement discount")
	assert.InDelta(t, 0.02, b.Volatility, 1e-9)

	agree := a.BlendSignals([]*models.Signal{
		{Symbol: "EURUSD", Value: 0.8, Confidence: 0.9, SourcePod: "up"},
		{Symbol: "EURUSD", Value: 0.4, Confidence: 0.7, SourcePod: "down"},
	}, "EURUSD")
	assert.InDelta(t, 0.8, agree.Confidence, 1e-9)
}

func TestBlendSkipsWarmupAndUnknownPods(t *testing.T) {
	pods := []domsvc.Pod{&stubPod{name: "ready", warm: true}, &stubPod{name: "cold"}}
	a, err := NewAllocator(config.AllocatorConfig{LearningRate: 0.1, MaxPodWeight: 1, PerformanceWindow: 5}, pods)
	require.NoError(t, err)

	b := a.BlendSignals([]*models.Signal{
		{Symbol: "EURUSD", Value: -1, Confidence: 1, SourcePod: "cold"},
		{Symbol: "EURUSD", Value: 0.5, Confidence: 0.8, SourcePod: "ready"},
		{Symbol: "EURUSD", Value: 1, Confidence: 1, SourcePod: "ghost"},
	}, "EURUSD")
	assert.Equal(t, 1, b.Contributors)
	assert.InDelta(t, 0.25, b.Signal, 1e-9, "the cold pod's weight still dilutes the blend")
	assert.InDelta(t, 0.25, b.Attribution["ready"], 1e-9)
	assert.InDelta(t, 0.8, b.Confidence, 1e-9)
	assert.NotContains(t, b.Attribution, "cold")

	none := a.BlendSignals(nil, "EURUSD")
	assert.Zero(t, none.Contributors)
	assert.Zero(t, none.Signal)
}

func TestBlendScalesByTotalWeight(t *testing.T) {
	a, err := NewAllocator(allocCfg(), warmPods("a", "b", "c", "d"))
	require.NoError(t, err)

	one := a.BlendSignals([]*models.Signal{
		{Symbol: "EURUSD", Value: 0.8, Confidence: 0.9, SourcePod: "a"},
	}, "EURUSD")
	assert.InDelta(t, 0.2, one.Signal, 1e-9)

	all := a.BlendSignals([]*models.Signal{
		{Symbol: "EURUSD", Value: 0.8, Confidence: 0.9, SourcePod: "a"},
		{Symbol: "EURUSD", Value: 0.8, Confidence: 0.9, SourcePod: "b"},
		{Symbol: "EURUSD", Value: 0.8, Confidence: 0.9, SourcePod: "c"},
		{Symbol: "EURUSD", Value: 0.8, Confidence: 0.9, SourcePod: "d"},
	}, "EURUSD")
	assert.InDelta(t, 0.8, all.Signal, 1e-9)
	assert.Greater(t, all.Signal, one.Signal, "agreement across pods raises conviction")
	assert.InDelta(t, one.Confidence, all.Confidence, 1e-9)

	var attr float64
	for _, v := range all.Attribution {
		attr += v
	}
	assert.InDelta(t, all.Signal, attr, 1e-9)
}

func TestRecordOutcomeAttribution(t *testing.T) {
	a, err := NewAllocator(allocCfg(), warmPods("a", "b"))
	require.NoError(t, err)

	a.RecordOutcome(map[string]float64{"a": 0.4, "b": -0.2}, 12)
	st := a.States()
	assert.InDelta(t, 8, st[0].RollingPnL, 1e-9)
	assert.InDelta(t, -4, st[1].RollingPnL, 1e-9)

	for i := 0; i < 10; i++ {
		a.RecordOutcome(map[string]float64{"a": 1}, 1)
	}
	assert.Len(t, a.States()[0].PerformanceWindow, 5)
}

func TestPersistAndRestore(t *testing.T) {
	store := &memStateStore{}
	a, err := NewAllocator(allocCfg(), warmPods("a", "b", "c"), WithStateStore(store))
	require.NoError(t, err)
	a.RecordOutcome(map[string]float64{"a": 1}, 50)
	require.NoError(t, a.Reweight(context.Background()))
	want := a.Weights()

	b, err := NewAllocator(allocCfg(), warmPods("a", "b", "c"), WithStateStore(store))
	require.NoError(t, err)
	require.NoError(t, b.Restore(context.Background()))
	got := b.Weights()
	for k, v := range want {
		assert.InDelta(t, v, got[k], 1e-9, k)
	}
	assert.InDelta(t, 50, b.States()[0].RollingPnL, 1e-9)
}
