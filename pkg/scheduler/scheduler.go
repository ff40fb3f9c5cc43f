// Package scheduler runs periodic jobs on cron specs. Jobs share a base
// context that is cancelled on Stop, and a job never overlaps with its own
// previous run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"AlphaDesk/pkg/logger"
)

// Job is a unit of periodic work.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	log     *logger.Logger
	timeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	names  map[string]cron.EntryID
}

type Option func(*Scheduler)

func WithLogger(l *logger.Logger) Option { return func(s *Scheduler) { s.log = l.Component("scheduler") } }

// WithJobTimeout bounds every run. Zero means no bound.
func WithJobTimeout(d time.Duration) Option { return func(s *Scheduler) { s.timeout = d } }

func New(opts ...Option) *Scheduler {
	s := &Scheduler{log: logger.Nop(), names: make(map[string]cron.EntryID)}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	cl := cronLogger{s.log}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Add registers job under name. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.log.Info("job disabled", logger.String("job", name))
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("job %q: bad spec %q: %w", name, spec, err)
	}
	s.names[name] = id
	return nil
}

// RunNow executes a registered job synchronously, outside the schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.names[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

// Jobs lists registered job names with their next run time.
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.names))
	for name, id := range s.names {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

func (s *Scheduler) run(name string, job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Error("job failed", logger.String("job", name), logger.Duration("took", time.Since(start)), logger.Error(err))
		return
	}
	s.log.Debug("job done", logger.String("job", name), logger.Duration("took", time.Since(start)))
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs", len(s.names)))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

type cronLogger struct{ l *logger.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug(msg, logger.Any("kv", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error(msg, logger.Error(err), logger.Any("kv", kv))
}
