package resume

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/observability"
)

// SweepReport summarizes one pass over the waiting instances
type SweepReport struct {
	Scanned  int           `json:"scanned"`
	Resumed  int           `json:"resumed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Name identifies the poller in the worker manager
func (c *Coordinator) Name() string {
	return "ResumePoller"
}

// Start launches the poll loop. Calling it while running does nothing.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})
	go c.pollLoop(loopCtx, c.stopped)

	c.logger.Info("ResumePoller started",
		zap.Duration("poll_interval", c.config.PollInterval),
		zap.Int("batch_size", c.config.BatchSize))
	return nil
}

// Stop cancels the poll loop and waits for it to exit. Calling it while stopped does nothing.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	cancel, stopped := c.cancel, c.stopped
	c.cancel, c.stopped = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped
	c.logger.Info("ResumePoller stopped")
	return nil
}

// IsRunning reports whether the poll loop is active
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// LastSweep returns when the poll loop last ran and its error
func (c *Coordinator) LastSweep() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.lastErr
}

func (c *Coordinator) pollLoop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := c.sweep(ctx, PathPoll)
			c.mu.Lock()
			c.lastRun = c.now()
			c.lastErr = err
			c.mu.Unlock()
			if err != nil && ctx.Err() == nil {
				c.logger.Error("Resume sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep re-evaluates every waiting instance and resumes those whose wait is satisfied
func (c *Coordinator) Sweep(ctx context.Context) (SweepReport, error) {
	return c.sweep(ctx, PathPoll)
}

// ForceResumeAllStuckWorkflows runs a sweep on demand
func (c *Coordinator) ForceResumeAllStuckWorkflows(ctx context.Context) (SweepReport, error) {
	return c.sweep(ctx, PathForce)
}

func (c *Coordinator) sweep(ctx context.Context, path string) (report SweepReport, err error) {
	ctx, span := observability.StartSpan(ctx, "resume.sweep", observability.AttrOperation.String(path))
	started := c.now()
	defer func() {
		report.Duration = c.now().Sub(started)
		c.metrics.RecordSweep(report.Duration)
		observability.EndSpan(span, err)
	}()

	var resumed, failed atomic.Int64
	var afterID int64
	for {
		page, err := c.instances.ListByStatus(ctx, entity.WaitingStatuses(), afterID, c.config.BatchSize)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}
		report.Scanned += len(page)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.config.MaxConcurrentResumes)
		for _, inst := range page {
			id := inst.ID
			g.Go(func() error {
				ok, err := c.tryResume(gctx, id, "", "", path)
				if err != nil {
					failed.Add(1)
					c.logger.Warn("Resume failed during sweep",
						zap.Int64("instance_id", id),
						zap.Error(err))
					return nil
				}
				if ok {
					resumed.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		afterID = page[len(page)-1].ID
		if len(page) < c.config.BatchSize {
			break
		}
	}

	report.Resumed = int(resumed.Load())
	report.Failed = int(failed.Load())
	if report.Resumed > 0 || report.Failed > 0 {
		c.logger.Info("Resume sweep finished",
			zap.String("path", path),
			zap.Int("scanned", report.Scanned),
			zap.Int("resumed", report.Resumed),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}
