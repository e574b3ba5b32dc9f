package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is one scheduled maintenance pass
type JobFunc func(ctx context.Context) error

type job struct {
	name string
	spec string
	run  JobFunc
}

// Scheduler runs maintenance jobs on cron schedules. A run that is still going
// when its next tick fires is skipped.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    []job
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewScheduler creates an empty scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// AddJob registers fn under a standard five-field cron spec or a descriptor
// such as "@every 5m". An empty spec leaves the job disabled.
func (s *Scheduler) AddJob(name, spec string, fn JobFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("job name and function are required")
	}
	if spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid schedule for job %s: %w", name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("cannot add job %s while scheduler is running", name)
	}
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("job %s already registered", name)
		}
	}
	s.jobs = append(s.jobs, job{name: name, spec: spec, run: fn})
	return nil
}

// Name returns the worker name
func (s *Scheduler) Name() string {
	return "Scheduler"
}

// Start schedules every enabled job
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	log := cronLogger{s.logger}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(log),
		cron.Recover(log),
	))
	runCtx, cancel := context.WithCancel(ctx)

	for _, j := range s.jobs {
		if j.spec == "" {
			s.logger.Info("Scheduled job disabled", zap.String("job", j.name))
			continue
		}
		j := j
		if _, err := c.AddFunc(j.spec, func() { _ = s.execute(runCtx, j) }); err != nil {
			cancel()
			return fmt.Errorf("failed to schedule job %s: %w", j.name, err)
		}
		s.logger.Info("Scheduled job", zap.String("job", j.name), zap.String("schedule", j.spec))
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
	return nil
}

// Stop halts the schedule and waits for running jobs to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	return nil
}

// IsRunning reports whether the schedule is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow executes a registered job immediately, whether or not it is scheduled
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *job
	for i := range s.jobs {
		if s.jobs[i].name == name {
			found = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("job %s not registered", name)
	}
	return s.execute(ctx, *found)
}

func (s *Scheduler) execute(ctx context.Context, j job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	start := time.Now()
	err := j.run(ctx)
	if err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", j.name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	s.logger.Debug("Scheduled job finished",
		zap.String("job", j.name),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
