package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
)

// HistoryCache is the slice of a cache the history store needs.
type HistoryCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}

// HistoryStore serves candle history to the alpha and risk paths from the
// feature store, fronted by a short-lived cache.
type HistoryStore struct {
	fs    domrepo.FeatureStore
	tf    domrepo.Timeframe
	cache HistoryCache
	ttl   time.Duration
}

var _ domrepo.MarketData = (*HistoryStore)(nil)

// NewHistoryStore creates a HistoryStore. A nil cache or zero ttl disables caching.
func NewHistoryStore(fs domrepo.FeatureStore, tf domrepo.Timeframe, cache HistoryCache, ttl time.Duration) *HistoryStore {
	return &HistoryStore{fs: fs, tf: tf, cache: cache, ttl: ttl}
}

func (h *HistoryStore) key(symbol string, window int) string {
	return fmt.Sprintf("history:%s:%s:%d", symbol, h.tf, window)
}

// GetHistory returns up to window candles in ascending time order. Store
// failures are returned as is; nothing is synthesized.
func (h *HistoryStore) GetHistory(ctx context.Context, symbol string, window int) ([]models.Candle, error) {
	caching := h.cache != nil && h.ttl > 0
	if caching {
		if b, ok, err := h.cache.GetBytes(h.key(symbol, window)); err == nil && ok {
			var out []models.Candle
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		}
	}

	out, err := h.fs.GetLatestNCandles(ctx, symbol, window, h.tf)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	if caching && len(out) > 0 {
		if b, err := json.Marshal(out); err == nil {
			_ = h.cache.SetBytes(h.key(symbol, window), b, h.ttl)
		}
	}
	return out, nil
}
