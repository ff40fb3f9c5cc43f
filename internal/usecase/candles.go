package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/pkg/util"
)

var ErrInvalidCandlesQuery = errors.New("invalid candles query")

const (
	defaultCandleLimit = 500
	maxCandleLimit     = 50000
)

// CandlesUseCase serves stored OHLCV history to the operator API.
type CandlesUseCase struct {
	store domrepo.FeatureStore
}

func NewCandlesUseCase(store domrepo.FeatureStore) *CandlesUseCase {
	return &CandlesUseCase{store: store}
}

type GetCandlesParams struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe domrepo.Timeframe
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Count     int             `json:"count"`
	Candles   []models.Candle `json:"candles"`
}

func (p *GetCandlesParams) normalize() error {
	switch {
	case p.Symbol == "":
		return fmt.Errorf("%w: symbol required", ErrInvalidCandlesQuery)
	case !domrepo.IsValidTimeframe(p.Timeframe):
		return fmt.Errorf("%w: timeframe %q", ErrInvalidCandlesQuery, p.Timeframe)
	case p.From.After(p.To):
		return fmt.Errorf("%w: from after to", ErrInvalidCandlesQuery)
	}
	if p.Limit <= 0 {
		p.Limit = defaultCandleLimit
	}
	p.Limit = min(p.Limit, maxCandleLimit)
	p.From, p.To = util.AlignFromTo(p.From, p.To, p.Timeframe.Duration())
	return nil
}

// GetCandles returns the newest Limit candles of [From, To] after aligning
// both ends to the bucket width, oldest first.
func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	candles, err := uc.store.GetCandles(ctx, p.Symbol, p.From, p.To, p.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("get candles %s: %w", p.Symbol, err)
	}
	if n := len(candles) - p.Limit; n > 0 {
		candles = candles[n:]
	}
	return &GetCandlesResult{
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		From:      p.From,
		To:        p.To,
		Count:     len(candles),
		Candles:   candles,
	}, nil
}
