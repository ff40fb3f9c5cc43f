// Package risk validates signals, sizes positions and watches open
// positions and the portfolio as a whole.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/metrics"
)

var (
	ErrInvalidRiskConfig     = errors.New("invalid risk config")
	ErrInvalidBlackout       = errors.New("invalid blackout period")
	ErrLiquidationIncomplete = errors.New("auto-liquidation left open positions")
	ErrNoLiquidator          = errors.New("no liquidator configured")
)

// Portfolio is the read side of the book the manager needs.
type Portfolio interface {
	Positions() []models.Position
	PendingOrders() []models.Order
	OpenCount() int
	Equity() float64
	EquityCurve() []float64
	DailyPnL() (pnl, startEquity float64)
}

// Liquidator closes every open position at market. It reports how many
// positions it closed.
type Liquidator interface {
	LiquidateAll(ctx context.Context, reason string) (int, error)
}

const maxRecentViolations = 500

// Manager is safe for concurrent use.
type Manager struct {
	book    Portfolio
	market  domrepo.MarketData
	store   domrepo.StateStore
	audit   domrepo.AuditStore
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu         sync.RWMutex
	cfg        models.RiskConfig
	blackouts  []models.BlackoutPeriod
	liquidator Liquidator
	stats      map[string]*tradeStats
	recent     []models.RiskViolation
	lossDay    time.Time
	inDD       bool
}

type Option func(*Manager)

func WithStateStore(s domrepo.StateStore) Option { return func(m *Manager) { m.store = s } }

func WithAuditStore(a domrepo.AuditStore) Option { return func(m *Manager) { m.audit = a } }

func WithMetrics(r domrepo.Metrics) Option { return func(m *Manager) { m.metrics = r } }

func WithLogger(l *logger.Logger) Option { return func(m *Manager) { m.log = l.Component("risk") } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager validates cfg before accepting it.
func NewManager(cfg models.RiskConfig, book Portfolio, market domrepo.MarketData, opts ...Option) (*Manager, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	m := &Manager{
		book:    book,
		market:  market,
		metrics: metrics.Discard{},
		log:     logger.Nop(),
		now:     time.Now,
		cfg:     cfg,
		stats:   make(map[string]*tradeStats),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SetLiquidator registers the component that executes liquidations.
func (m *Manager) SetLiquidator(l Liquidator) {
	m.mu.Lock()
	m.liquidator = l
	m.mu.Unlock()
}

var validate = validator.New()

// ValidateConfig rejects malformed bounds.
func ValidateConfig(cfg models.RiskConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRiskConfig, err)
	}
	if cfg.WeekendCheck && cfg.WeekendStartDay == cfg.WeekendEndDay && cfg.WeekendStartHour == cfg.WeekendEndHour {
		return fmt.Errorf("%w: weekend window is empty", ErrInvalidRiskConfig)
	}
	return nil
}

// Config returns the active configuration.
func (m *Manager) Config() models.RiskConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig swaps the configuration after validation and persists it.
func (m *Manager) UpdateConfig(ctx context.Context, cfg models.RiskConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.log.Info("risk config updated",
		logger.Int("max_positions", cfg.MaxPositions),
		logger.Float64("confidence_threshold", cfg.ConfidenceThreshold),
		logger.Float64("var_limit", cfg.VaRLimit))
	if m.store != nil {
		if err := m.store.SaveRiskConfig(ctx, cfg); err != nil {
			return fmt.Errorf("persist risk config: %w", err)
		}
	}
	return nil
}

// Restore loads a persisted configuration if one exists. A persisted
// config that no longer validates is ignored.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	cfg, err := m.store.LoadRiskConfig(ctx)
	if err != nil {
		return fmt.Errorf("load risk config: %w", err)
	}
	if cfg == nil {
		return nil
	}
	if err := ValidateConfig(*cfg); err != nil {
		m.log.Warn("ignoring persisted risk config", logger.Error(err))
		return nil
	}
	m.mu.Lock()
	m.cfg = *cfg
	m.mu.Unlock()
	return nil
}

// RecordViolation stamps and stores a violation. Audit failures are logged,
// not returned.
func (m *Manager) RecordViolation(ctx context.Context, v models.RiskViolation) models.RiskViolation {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = m.now().UTC()
	}

	m.mu.Lock()
	m.recent = append(m.recent, v)
	if len(m.recent) > maxRecentViolations {
		m.recent = append([]models.RiskViolation(nil), m.recent[len(m.recent)-maxRecentViolations:]...)
	}
	m.mu.Unlock()

	m.metrics.RecordViolation(v.Type, v.Severity)
	m.log.Warn("risk violation",
		logger.String("type", v.Type),
		logger.String("severity", v.Severity),
		logger.String("symbol", v.Symbol),
		logger.Float64("value", v.Value),
		logger.Float64("limit", v.Limit),
		logger.String("message", v.Message))
	if m.audit != nil {
		if err := m.audit.RecordViolation(ctx, v); err != nil {
			m.metrics.RecordError("audit")
			m.log.Error("audit violation failed", logger.Error(err))
		}
	}
	return v
}

// Violations returns violations within [from, to], newest first. The audit
// store is authoritative when configured.
func (m *Manager) Violations(ctx context.Context, from, to time.Time, limit int) ([]models.RiskViolation, error) {
	if m.audit != nil {
		return m.audit.QueryViolations(ctx, from, to, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.RiskViolation
	for i := len(m.recent) - 1; i >= 0; i-- {
		v := m.recent[i]
		if v.Timestamp.Before(from) || v.Timestamp.After(to) {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
