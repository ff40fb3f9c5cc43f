package pods

import (
	"errors"
	"fmt"
	"sort"

	"AlphaDesk/internal/domain/service"
	"AlphaDesk/pkg/config"
)

// Pod kinds.
const (
	KindTrend            = "trend"
	KindMeanReversion    = "mean_reversion"
	KindVolatilityRegime = "volatility_regime"
	KindModel            = "model"
)

var ErrUnknownKind = errors.New("unknown pod kind")

// Deps are collaborators some pod kinds need.
type Deps struct {
	Predictor service.Predictor
}

// Factory builds a pod from its configuration.
type Factory func(cfg config.PodConfig, deps Deps) (service.Pod, error)

// Registry maps pod kinds to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with every built-in kind.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(KindTrend, func(c config.PodConfig, _ Deps) (service.Pod, error) {
		return NewTrend(c.Name, c.WarmupBars, c.Params), nil
	})
	r.Register(KindMeanReversion, func(c config.PodConfig, _ Deps) (service.Pod, error) {
		return NewMeanReversion(c.Name, c.WarmupBars, c.Params), nil
	})
	r.Register(KindVolatilityRegime, func(c config.PodConfig, _ Deps) (service.Pod, error) {
		return NewVolatilityRegime(c.Name, c.WarmupBars, c.Params), nil
	})
	r.Register(KindModel, func(c config.PodConfig, d Deps) (service.Pod, error) {
		if d.Predictor == nil {
			return nil, fmt.Errorf("pod %s: model kind needs a predictor", c.Name)
		}
		return NewModel(c.Name, c.WarmupBars, c.Params, d.Predictor), nil
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(kind string, f Factory) { r.factories[kind] = f }

// Kinds lists registered kinds, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs every enabled pod in configuration order.
func (r *Registry) Build(cfgs []config.PodConfig, deps Deps) ([]service.Pod, error) {
	out := make([]service.Pod, 0, len(cfgs))
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		f, ok := r.factories[c.Kind]
		if !ok {
			return nil, fmt.Errorf("pod %s: %w %q", c.Name, ErrUnknownKind, c.Kind)
		}
		p, err := f(c, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
