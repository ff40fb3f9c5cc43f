package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"AlphaDesk/pkg/logger"
)

// Restorer reloads persisted state before trading starts.
type Restorer interface {
	Restore(ctx context.Context) error
}

// Runner is a loop that runs until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Source pushes market data into the process.
type Source interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Worker is started once and stopped on shutdown.
type Worker interface {
	Start(ctx context.Context) error
	Stop()
}

// Warmer primes strategies with history.
type Warmer interface {
	Warmup(ctx context.Context, symbols []string) error
}

// HTTPServer is the ops API server.
type HTTPServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// Scheduler runs periodic jobs.
type Scheduler interface {
	Start()
	Stop()
}

// Persister flushes state on the way out.
type Persister interface {
	Persist(ctx context.Context) error
}

// Components are the long-lived parts the app starts and stops. Source,
// Warmer and Persister may be nil.
type Components struct {
	Symbols   []string
	Restorers []Restorer
	Warmer    Warmer
	Executor  Worker
	Runners   []Runner
	Source    Source
	Scheduler Scheduler
	HTTP      HTTPServer
	Persister Persister
	Closers   []io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	c               Components
	log             *logger.Logger
	shutdownTimeout time.Duration

	cancel context.CancelFunc
	group  *errgroup.Group

	executorUp bool
	sourceUp   bool
	schedUp    bool
	httpUp     bool
}

func New(c Components, l *logger.Logger, shutdownTimeout time.Duration) *App {
	if l == nil {
		l = logger.Nop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{c: c, log: l.Component("app"), shutdownTimeout: shutdownTimeout}
}

// Run starts everything and blocks until ctx is cancelled, SIGINT/SIGTERM
// arrives or a runner fails. It then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, err := a.start(ctx)
	if err != nil {
		a.log.Error("startup failed", logger.Error(err))
		return errors.Join(err, a.shutdown())
	}

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case <-runCtx.Done():
		a.log.Warn("runner exited, shutting down")
	}
	return a.shutdown()
}

func (a *App) start(ctx context.Context) (context.Context, error) {
	for _, r := range a.c.Restorers {
		if err := r.Restore(ctx); err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
	}
	if a.c.Warmer != nil {
		if err := a.c.Warmer.Warmup(ctx, a.c.Symbols); err != nil {
			a.log.Warn("warmup incomplete", logger.Error(err))
		}
	}

	// Loops outlive the signal and are cancelled by shutdown once inflow stops.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	if err := a.c.Executor.Start(runCtx); err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}
	a.executorUp = true

	g, gctx := errgroup.WithContext(runCtx)
	a.group = g
	for _, r := range a.c.Runners {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}

	if a.c.Source != nil {
		if err := a.c.Source.Start(gctx); err != nil {
			return nil, fmt.Errorf("start source: %w", err)
		}
		a.sourceUp = true
	}
	a.c.Scheduler.Start()
	a.schedUp = true
	if err := a.c.HTTP.Start(); err != nil {
		return nil, fmt.Errorf("start http: %w", err)
	}
	a.httpUp = true
	a.log.Info("alphadesk started", logger.Strings("symbols", a.c.Symbols))
	return gctx, nil
}

// shutdown stops inflow first, then the loops, then flushes and closes.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	var errs []error

	if a.sourceUp {
		if err := a.c.Source.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		}
	}
	if a.schedUp {
		a.c.Scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.group != nil {
		if err := a.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("runner: %w", err))
		}
	}
	if a.executorUp {
		a.c.Executor.Stop()
	}
	if a.httpUp {
		if err := a.c.HTTP.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if a.executorUp && a.c.Persister != nil {
		if err := a.c.Persister.Persist(ctx); err != nil {
			errs = append(errs, fmt.Errorf("persist: %w", err))
		}
	}
	for _, c := range a.c.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		a.log.Warn("shutdown finished with errors", logger.Error(err))
	} else {
		a.log.Info("shutdown complete")
	}
	return err
}
