package trading

import (
	"context"
	"fmt"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/pkg/config"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/scheduler"
)

// Periodic job names.
const (
	JobReweight       = "reweight"
	JobRiskSweep      = "risk_sweep"
	JobPortfolioCheck = "portfolio_check"
	JobAlphaScan      = "alpha_scan"
	JobHeartbeat      = "heartbeat"
)

type Reweighter interface {
	Reweight(ctx context.Context) error
	Weights() map[string]float64
}

type Supervisor interface {
	RiskSweep() int
	CheckPortfolio(ctx context.Context) (models.PortfolioRisk, error)
	Status() models.Status
}

type Scanner interface {
	Scan(ctx context.Context, symbols []string) int
}

type JobScheduler interface {
	Add(name, spec string, job scheduler.Job) error
}

var (
	_ JobScheduler = (*scheduler.Scheduler)(nil)
	_ Scanner      = (*Pipeline)(nil)
)

// RegisterJobs puts the periodic tasks on s. Specs come from cfg and an
// empty spec leaves the task off.
func RegisterJobs(s JobScheduler, cfg config.SchedulerConfig, alloc Reweighter, exec Supervisor, scan Scanner, symbols []string, l *logger.Logger) error {
	if l == nil {
		l = logger.Nop()
	}
	l = l.Component("jobs")

	jobs := []struct {
		name, spec string
		job        scheduler.Job
	}{
		{JobReweight, cfg.Reweight, alloc.Reweight},
		{JobRiskSweep, cfg.RiskSweep, func(context.Context) error {
			if n := exec.RiskSweep(); n > 0 {
				l.Info("risk sweep queued exits", logger.Int("exits", n))
			}
			return nil
		}},
		{JobPortfolioCheck, cfg.PortfolioCheck, func(ctx context.Context) error {
			_, err := exec.CheckPortfolio(ctx)
			return err
		}},
		{JobAlphaScan, cfg.AlphaScan, func(ctx context.Context) error {
			n := scan.Scan(ctx, symbols)
			l.Debug("alpha scan done", logger.Int("symbols", len(symbols)), logger.Int("queued", n))
			return nil
		}},
		{JobHeartbeat, cfg.Heartbeat, func(context.Context) error {
			st := exec.Status()
			l.Info("heartbeat",
				logger.String("state", st.State),
				logger.String("mode", st.Mode),
				logger.Int("open_positions", st.OpenPositions),
				logger.Int("queue_depth", st.QueueDepth),
				logger.Float64("equity", st.Equity),
				logger.Any("weights", alloc.Weights()))
			return nil
		}},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.job); err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return nil
}
