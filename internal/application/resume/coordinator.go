// Package resume detects externally completed work and resumes the waiting workflow instances.
// Events are the primary path; a polling sweep re-derives the same predicate as a safety net.
package resume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	"github.com/garyjia/hr-orchestrator/internal/observability"
)

// Resume paths, used as the metrics label
const (
	PathEvent = "event"
	PathPoll  = "poll"
	PathForce = "force"
)

// WorkflowResumer is the part of the workflow engine the coordinator drives
type WorkflowResumer interface {
	GetInstance(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error)
	GetStepStatus(ctx context.Context, instanceID int64, stepID string) (*entity.WorkflowStepStatus, error)
	CompleteWaitingStep(ctx context.Context, instanceID int64, stepID string, payload map[string]interface{}) (bool, error)
	Run(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error)
}

// Config holds coordinator settings
type Config struct {
	PollInterval         time.Duration
	BatchSize            int
	MaxConcurrentResumes int
	// AutoContinue runs the instance after a successful resume
	AutoContinue bool
}

// DefaultConfig returns a one minute poll over batches of 50
func DefaultConfig() Config {
	return Config{
		PollInterval:         time.Minute,
		BatchSize:            50,
		MaxConcurrentResumes: 4,
		AutoContinue:         true,
	}
}

// Coordinator resumes waiting instances
type Coordinator struct {
	config    Config
	workflows WorkflowResumer
	instances port.InstanceRepository
	tasks     port.TaskRepository
	chains    port.ChainRepository
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	lastRun time.Time
	lastErr error
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithMetrics records sweeps and resumes
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a coordinator. Zero config fields take their defaults.
func NewCoordinator(
	config Config,
	workflows WorkflowResumer,
	instances port.InstanceRepository,
	tasks port.TaskRepository,
	chains port.ChainRepository,
	logger *zap.Logger,
	opts ...Option,
) *Coordinator {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrentResumes <= 0 {
		config.MaxConcurrentResumes = defaults.MaxConcurrentResumes
	}

	c := &Coordinator{
		config:    config,
		workflows: workflows,
		instances: instances,
		tasks:     tasks,
		chains:    chains,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe wires the event path
func (c *Coordinator) Subscribe(d dispatcher.Dispatcher) {
	onTask := func(ctx context.Context, evt *event.Event) error {
		_, err := c.OnTaskCompleted(ctx, evt.AggregateID)
		return err
	}
	d.SubscribeNamed(event.TypeTaskCompleted, "resume.task_completed", onTask)
	d.SubscribeNamed(event.TypeTaskSkipped, "resume.task_skipped", onTask)
	d.SubscribeNamed(event.TypeApprovalChainClosed, "resume.chain_closed", func(ctx context.Context, evt *event.Event) error {
		_, err := c.OnApprovalCompleted(ctx, evt.AggregateID)
		return err
	})
}

// OnTaskCompleted resumes the instance waiting on a task, if its wait is now satisfied
func (c *Coordinator) OnTaskCompleted(ctx context.Context, taskID int64) (bool, error) {
	task, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task.WorkflowInstanceID == nil || task.WorkflowStepID == "" {
		return false, nil
	}
	return c.tryResume(ctx, *task.WorkflowInstanceID, task.WorkflowStepID, entity.WaitItemTask, PathEvent)
}

// OnApprovalCompleted resumes the instance waiting on a chain, if the chain closed approved
func (c *Coordinator) OnApprovalCompleted(ctx context.Context, chainID int64) (bool, error) {
	chain, err := c.chains.GetByID(ctx, chainID)
	if err != nil {
		return false, err
	}
	if chain.WorkflowInstanceID == nil || chain.WorkflowStepID == "" {
		return false, nil
	}
	return c.tryResume(ctx, *chain.WorkflowInstanceID, chain.WorkflowStepID, entity.WaitItemApproval, PathEvent)
}

// tryResume completes the current waiting step when its predicate holds. An empty stepID or
// itemType matches any wait. Instances that moved on in the meantime are a no-op.
func (c *Coordinator) tryResume(ctx context.Context, instanceID int64, stepID string, itemType entity.WaitItemType, path string) (bool, error) {
	inst, err := c.workflows.GetInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if !inst.Status.IsWaiting() {
		return false, nil
	}
	if stepID != "" && inst.CurrentStepID != stepID {
		return false, nil
	}

	step, err := c.workflows.GetStepStatus(ctx, inst.ID, inst.CurrentStepID)
	if err != nil {
		return false, err
	}
	// A Completed step under a still-waiting instance is a completion whose instance write
	// was lost; CompleteWaitingStep finishes it.
	if step.Wait == nil || (step.Status != entity.StepStatusWaiting && step.Status != entity.StepStatusCompleted) {
		return false, nil
	}
	if itemType != "" && step.Wait.ItemType != itemType {
		return false, nil
	}
	if expected, ok := step.Wait.ItemType.WaitingStatus(); !ok || inst.Status != expected {
		return false, nil
	}

	ev, err := c.evaluate(ctx, inst, step.Wait)
	if err != nil {
		return false, err
	}
	if !ev.ready {
		c.logger.Debug("Wait not satisfied",
			zap.Int64("instance_id", inst.ID),
			zap.String("step_id", inst.CurrentStepID),
			zap.String("reason", ev.reason))
		return false, nil
	}

	advanced, err := c.workflows.CompleteWaitingStep(ctx, inst.ID, inst.CurrentStepID, ev.payload)
	if errors.Is(err, failure.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resume instance #%d: %w", inst.ID, err)
	}
	if !advanced {
		return false, nil
	}

	c.metrics.RecordResumed(path)
	c.logger.Info("Workflow resumed",
		zap.Int64("instance_id", inst.ID),
		zap.String("step_id", inst.CurrentStepID),
		zap.String("path", path),
		zap.String("reason", ev.reason))

	if c.config.AutoContinue {
		if _, err := c.workflows.Run(ctx, inst.ID); err != nil {
			return true, fmt.Errorf("continue instance #%d: %w", inst.ID, err)
		}
	}
	return true, nil
}
