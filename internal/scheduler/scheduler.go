package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"SignalCore/pkg/cache"
	"SignalCore/pkg/logger"
)

// Job is one periodic computation.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on cron specs with a seconds field. Each run takes a
// store lock first so only one replica executes a given job at a time.
type Scheduler struct {
	cron   *cron.Cron
	locks  cache.Store
	ttl    time.Duration
	logger *logger.Logger
	jobs   map[string]Job
	ctx    context.Context
	cancel context.CancelFunc
}

func New(locks cache.Store, ttl time.Duration, lg *logger.Logger) *Scheduler {
	if lg == nil {
		lg = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{lg}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		locks:  locks,
		ttl:    ttl,
		logger: lg,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds jobs. Names must be unique.
func (s *Scheduler) Register(jobs ...Job) error {
	for _, j := range jobs {
		if _, ok := s.jobs[j.Name]; ok {
			return fmt.Errorf("register %s: duplicate job", j.Name)
		}
		job := j
		if _, err := s.cron.AddFunc(job.Spec, func() { s.run(s.ctx, job) }); err != nil {
			return fmt.Errorf("register %s: %w", job.Name, err)
		}
		s.jobs[job.Name] = job
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", logger.Int("jobs", len(s.jobs)))
}

// Stop prevents new runs and waits for running ones until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// RunNow executes a registered job immediately, still under its lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	job, ok := s.jobs[name]
	if !ok {
		return false, fmt.Errorf("run %s: unknown job", name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) (bool, error) {
	key := cache.Key("job", job.Name)
	ok, err := s.locks.TryLock(ctx, key, s.ttl)
	if err != nil {
		s.logger.Error("Job lock failed", logger.String("job", job.Name), logger.Error(err))
		return false, err
	}
	if !ok {
		s.logger.Debug("Job held by another instance", logger.String("job", job.Name))
		return false, nil
	}
	defer func() {
		if err := s.locks.Unlock(context.Background(), key); err != nil {
			s.logger.Warn("Job unlock failed", logger.String("job", job.Name), logger.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.ttl)
	defer cancel()
	start := time.Now()
	if err := job.Run(runCtx); err != nil {
		s.logger.Error("Job failed",
			logger.String("job", job.Name),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return true, err
	}
	s.logger.Debug("Job finished", logger.String("job", job.Name), logger.Duration("elapsed", time.Since(start)))
	return true, nil
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct{ l *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, logger.Any("kv", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, logger.Error(err), logger.Any("kv", keysAndValues))
}
