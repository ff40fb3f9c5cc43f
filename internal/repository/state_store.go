package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/pkg/cache"
)

const (
	positionPrefix = "position"
	orderPrefix    = "order"
	podStatesKey   = "pod_states"
	riskConfigKey  = "risk_config"
)

// CacheStateStore keeps restart state in a cache.Service: Redis in
// production, the in-memory cache in paper runs and tests.
type CacheStateStore struct {
	c        cache.Service
	orderTTL time.Duration
}

var _ domrepo.StateStore = (*CacheStateStore)(nil)

// NewCacheStateStore creates a store. Orders expire after orderTTL; zero keeps them.
func NewCacheStateStore(c cache.Service, orderTTL time.Duration) *CacheStateStore {
	return &CacheStateStore{c: c, orderTTL: orderTTL}
}

func (s *CacheStateStore) SavePosition(ctx context.Context, p *models.Position) error {
	if err := s.c.Set(ctx, cache.Key(positionPrefix, p.ID), p, 0); err != nil {
		return fmt.Errorf("save position %s: %w", p.ID, err)
	}
	return nil
}

func (s *CacheStateStore) DeletePosition(ctx context.Context, id string) error {
	if err := s.c.Delete(ctx, cache.Key(positionPrefix, id)); err != nil {
		return fmt.Errorf("delete position %s: %w", id, err)
	}
	return nil
}

// LoadPositions returns stored positions ordered by open time.
func (s *CacheStateStore) LoadPositions(ctx context.Context) ([]*models.Position, error) {
	keys, err := s.c.Keys(ctx, cache.Under(positionPrefix))
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	byKey, err := cache.MGetAs[models.Position](ctx, s.c, keys...)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	out := make([]*models.Position, 0, len(byKey))
	for _, p := range byKey {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

func (s *CacheStateStore) SaveOrder(ctx context.Context, o *models.Order) error {
	if err := s.c.Set(ctx, cache.Key(orderPrefix, o.ID), o, s.orderTTL); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder returns nil, nil when the order is unknown.
func (s *CacheStateStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	if err := s.c.Get(ctx, cache.Key(orderPrefix, id), &o); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &o, nil
}

func (s *CacheStateStore) SavePodStates(ctx context.Context, states []models.PodState) error {
	if err := s.c.Set(ctx, podStatesKey, states, 0); err != nil {
		return fmt.Errorf("save pod states: %w", err)
	}
	return nil
}

func (s *CacheStateStore) LoadPodStates(ctx context.Context) ([]models.PodState, error) {
	var out []models.PodState
	if err := s.c.Get(ctx, podStatesKey, &out); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load pod states: %w", err)
	}
	return out, nil
}

func (s *CacheStateStore) SaveRiskConfig(ctx context.Context, cfg models.RiskConfig) error {
	if err := s.c.Set(ctx, riskConfigKey, cfg, 0); err != nil {
		return fmt.Errorf("save risk config: %w", err)
	}
	return nil
}

// LoadRiskConfig returns nil, nil when nothing was saved.
func (s *CacheStateStore) LoadRiskConfig(ctx context.Context) (*models.RiskConfig, error) {
	var cfg models.RiskConfig
	if err := s.c.Get(ctx, riskConfigKey, &cfg); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load risk config: %w", err)
	}
	return &cfg, nil
}
