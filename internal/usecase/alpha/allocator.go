// Package alpha runs the strategy pods, weights them with a Hedge-style
// meta-allocator and shapes the blended signal into an alpha result.
package alpha

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	domsvc "AlphaDesk/internal/domain/service"
	"AlphaDesk/pkg/config"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/metrics"
)

// Blend is the allocator's weighted combination of pod signals.
type Blend struct {
	Signal       float64
	Confidence   float64
	Volatility   float64
	Attribution  map[string]float64
	Weights      map[string]float64
	Contributors int
}

// Allocator owns pod weights. Weights always sum to 1 and stay inside the
// configured bounds.
type Allocator struct {
	cfg     config.AllocatorConfig
	pods    map[string]domsvc.Pod
	order   []string
	store   domrepo.StateStore
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu     sync.RWMutex
	states map[string]*models.PodState
}

type AllocatorOption func(*Allocator)

func WithStateStore(s domrepo.StateStore) AllocatorOption {
	return func(a *Allocator) { a.store = s }
}

func WithAllocatorMetrics(m domrepo.Metrics) AllocatorOption {
	return func(a *Allocator) { a.metrics = m }
}

func WithAllocatorLogger(l *logger.Logger) AllocatorOption {
	return func(a *Allocator) { a.log = l.Component("allocator") }
}

func WithAllocatorClock(now func() time.Time) AllocatorOption {
	return func(a *Allocator) { a.now = now }
}

// NewAllocator starts every pod at equal weight.
func NewAllocator(cfg config.AllocatorConfig, pods []domsvc.Pod, opts ...AllocatorOption) (*Allocator, error) {
	if err := config.ValidateAllocator(cfg, len(pods)); err != nil {
		return nil, err
	}
	a := &Allocator{
		cfg:     cfg,
		pods:    make(map[string]domsvc.Pod, len(pods)),
		order:   make([]string, 0, len(pods)),
		states:  make(map[string]*models.PodState, len(pods)),
		metrics: metrics.Discard{},
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	raw := make([]float64, len(pods))
	for i, p := range pods {
		if _, dup := a.pods[p.Name()]; dup {
			return nil, fmt.Errorf("allocator: duplicate pod %q", p.Name())
		}
		a.pods[p.Name()] = p
		a.order = append(a.order, p.Name())
		raw[i] = 1
	}
	w := projectCapped(raw, cfg.MinPodWeight, cfg.MaxPodWeight)
	ts := a.now().UTC()
	for i, name := range a.order {
		a.states[name] = &models.PodState{
			Name:      name,
			Kind:      a.pods[name].Kind(),
			Weight:    w[i],
			UpdatedAt: ts,
		}
	}
	a.publishWeights()
	return a, nil
}

// BlendSignals combines pod signals by weight as Σwᵢsᵢ / Σwⱼ, where the
// denominator runs over every registered pod. Pods that are silent, have
// zero weight or are still in warmup contribute sᵢ = 0 and so pull the
// blend toward flat. Confidence is the weighted mean confidence of the
// contributing pods discounted by disagreement, |Σwᵢsᵢ| / Σwᵢ|sᵢ|.
func (a *Allocator) BlendSignals(signals []*models.Signal, symbol string) Blend {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b := Blend{
		Attribution: make(map[string]float64, len(signals)),
		Weights:     make(map[string]float64, len(a.states)),
	}
	var total float64
	for name, st := range a.states {
		b.Weights[name] = st.Weight
		total += st.Weight
	}

	type contrib struct {
		pod string
		w   float64
		s   *models.Signal
	}
	var (
		cs                                []contrib
		sumW, sumWS, sumWAbsS, sumWC, vol float64
	)
	for _, s := range signals {
		if s == nil || s.Symbol != symbol {
			continue
		}
		st, ok := a.states[s.SourcePod]
		if !ok || st.Weight <= 0 {
			continue
		}
		if p := a.pods[s.SourcePod]; p != nil && !p.Performance().WarmedUp() {
			continue
		}
		cs = append(cs, contrib{pod: s.SourcePod, w: st.Weight, s: s})
		sumW += st.Weight
		sumWS += st.Weight * s.Value
		sumWAbsS += st.Weight * math.Abs(s.Value)
		sumWC += st.Weight * s.Confidence
		vol += s.Volatility
	}
	if sumW == 0 {
		return b
	}

	for _, c := range cs {
		b.Attribution[c.pod] = c.w * c.s.Value / total
	}
	b.Contributors = len(cs)
	b.Signal = sumWS / total
	b.Volatility = vol / float64(len(cs))
	if sumWAbsS > 0 {
		b.Confidence = (sumWC / sumW) * (math.Abs(sumWS) / sumWAbsS)
	}
	return b
}

// RecordOutcome spreads a closed trade's PnL over the pods by their signed
// share of the signal that opened it, and returns each pod's share.
func (a *Allocator) RecordOutcome(attribution map[string]float64, pnl float64) map[string]float64 {
	var total, net float64
	for _, v := range attribution {
		total += math.Abs(v)
		net += v
	}
	if total == 0 {
		return nil
	}
	dir := 1.0
	if net < 0 {
		dir = -1
	}

	shares := make(map[string]float64, len(attribution))
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, v := range attribution {
		st, ok := a.states[name]
		if !ok {
			continue
		}
		share := pnl * dir * v / total
		shares[name] = share
		st.PerformanceWindow = append(st.PerformanceWindow, share)
		if n := len(st.PerformanceWindow); n > a.cfg.PerformanceWindow {
			st.PerformanceWindow = append([]float64(nil), st.PerformanceWindow[n-a.cfg.PerformanceWindow:]...)
		}
		st.RollingPnL = sum(st.PerformanceWindow)
	}
	return shares
}

// Reweight applies one Hedge step: pods with positive trailing PnL gain
// weight and every other pod loses it, then weights are projected back
// onto the bounded simplex.
func (a *Allocator) Reweight(ctx context.Context) error {
	a.mu.Lock()
	raw := make([]float64, len(a.order))
	for i, name := range a.order {
		st := a.states[name]
		eta := -a.cfg.LearningRate
		if sum(st.PerformanceWindow) > 0 {
			eta = a.cfg.LearningRate
		}
		raw[i] = st.Weight * math.Exp(eta)
	}
	w := projectCapped(raw, a.cfg.MinPodWeight, a.cfg.MaxPodWeight)
	ts := a.now().UTC()
	for i, name := range a.order {
		st := a.states[name]
		st.Weight = w[i]
		st.UpdatedAt = ts
		a.log.Debug("pod reweighted",
			logger.String("pod", name),
			logger.Float64("weight", st.Weight),
			logger.Float64("rolling_pnl", st.RollingPnL))
	}
	a.mu.Unlock()

	a.publishWeights()
	return a.Persist(ctx)
}

// Weights returns a copy of the current weights.
func (a *Allocator) Weights() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]float64, len(a.states))
	for name, st := range a.states {
		out[name] = st.Weight
	}
	return out
}

// States snapshots pod states in registration order.
func (a *Allocator) States() []models.PodState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.PodState, 0, len(a.order))
	for _, name := range a.order {
		st := *a.states[name]
		st.PerformanceWindow = append([]float64(nil), st.PerformanceWindow...)
		perf := a.pods[name].Performance()
		st.WarmupBarsRemaining = max(0, perf.WarmupBars-perf.BarsProcessed)
		out = append(out, st)
	}
	return out
}

// Restore loads persisted weights and windows for known pods. Unknown pods
// are ignored and the result is re-projected so the bounds still hold.
func (a *Allocator) Restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	saved, err := a.store.LoadPodStates(ctx)
	if err != nil {
		return fmt.Errorf("load pod states: %w", err)
	}
	if len(saved) == 0 {
		return nil
	}

	a.mu.Lock()
	byName := make(map[string]models.PodState, len(saved))
	for _, s := range saved {
		byName[s.Name] = s
	}
	raw := make([]float64, len(a.order))
	for i, name := range a.order {
		st := a.states[name]
		raw[i] = st.Weight
		s, ok := byName[name]
		if !ok {
			continue
		}
		if s.Weight > 0 {
			raw[i] = s.Weight
		}
		st.PerformanceWindow = append([]float64(nil), s.PerformanceWindow...)
		if n := len(st.PerformanceWindow); n > a.cfg.PerformanceWindow {
			st.PerformanceWindow = st.PerformanceWindow[n-a.cfg.PerformanceWindow:]
		}
		st.RollingPnL = sum(st.PerformanceWindow)
	}
	w := projectCapped(raw, a.cfg.MinPodWeight, a.cfg.MaxPodWeight)
	for i, name := range a.order {
		a.states[name].Weight = w[i]
	}
	a.mu.Unlock()

	a.log.Info("pod states restored", logger.Int("count", len(saved)))
	a.publishWeights()
	return nil
}

// Persist saves pod states when a store is configured.
func (a *Allocator) Persist(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.SavePodStates(ctx, a.States()); err != nil {
		return fmt.Errorf("save pod states: %w", err)
	}
	return nil
}

func (a *Allocator) publishWeights() {
	for name, w := range a.Weights() {
		a.metrics.SetPodWeight(name, w)
	}
}

// projectCapped scales raw weights by a common factor λ and clamps each to
// [lo, hi], choosing λ by bisection so the result sums to 1. Requires
// n·lo ≤ 1 ≤ n·hi.
func projectCapped(raw []float64, lo, hi float64) []float64 {
	n := len(raw)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	var total float64
	for _, v := range raw {
		if v > 0 && !math.IsInf(v, 0) {
			total += v
		}
	}
	if total == 0 {
		for i := range out {
			out[i] = 1 / float64(n)
		}
		return out
	}

	mass := func(lambda float64) float64 {
		var s float64
		for i, v := range raw {
			out[i] = clamp(lambda*math.Max(v, 0)/total, lo, hi)
			s += out[i]
		}
		return s
	}

	left, right := 0.0, 1.0
	for mass(right) < 1 && right < 1e12 {
		right *= 2
	}
	for i := 0; i < 200; i++ {
		mid := (left + right) / 2
		if mass(mid) < 1 {
			left = mid
		} else {
			right = mid
		}
	}
	s := mass(right)

	// Spread the bisection residue over coordinates not pinned to a bound.
	if r := 1 - s; r != 0 {
		for i := range out {
			if out[i] > lo && out[i] < hi {
				out[i] = clamp(out[i]+r, lo, hi)
				break
			}
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}
