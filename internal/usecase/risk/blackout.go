package risk

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/pkg/logger"
)

// AddBlackout registers a news blackout. Currencies are normalised to
// upper case.
func (m *Manager) AddBlackout(b models.BlackoutPeriod) error {
	cs := make([]string, len(b.Currencies))
	for i, c := range b.Currencies {
		cs[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	b.Currencies = cs
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlackout, err)
	}
	now := m.now().UTC()
	if b.Expired(now) {
		return fmt.Errorf("%w: ended at %s", ErrInvalidBlackout, b.End.Format(time.RFC3339))
	}

	m.mu.Lock()
	m.blackouts = append(pruneExpired(m.blackouts, now), b)
	sort.Slice(m.blackouts, func(i, j int) bool { return m.blackouts[i].Start.Before(m.blackouts[j].Start) })
	m.mu.Unlock()

	m.log.Info("blackout scheduled",
		logger.String("event", b.Event),
		logger.Strings("currencies", b.Currencies),
		logger.Time("start", b.Start),
		logger.Time("end", b.End))
	return nil
}

// Blackouts lists blackouts that have not ended yet.
func (m *Manager) Blackouts() []models.BlackoutPeriod {
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blackouts = pruneExpired(m.blackouts, now)
	return append([]models.BlackoutPeriod(nil), m.blackouts...)
}

func (m *Manager) inBlackout(symbol string, now time.Time) bool {
	ccy := Currencies(symbol)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.blackouts {
		if b.Active(now) && b.Covers(ccy) {
			return true
		}
	}
	return false
}

func pruneExpired(in []models.BlackoutPeriod, now time.Time) []models.BlackoutPeriod {
	out := in[:0]
	for _, b := range in {
		if !b.Expired(now) {
			out = append(out, b)
		}
	}
	return out
}
