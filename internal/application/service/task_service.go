package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/hr-orchestrator/internal/application/dependency"
	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
)

// TaskOutcome is a task after a completion together with the dependents it unblocked
type TaskOutcome struct {
	Task      *entity.TaskAssignment `json:"task"`
	Unblocked []int64                `json:"unblocked"`
}

// TaskService manages task completion and the dependency graph.
// Completions are published as task.completed / task.skipped so waiting workflows resume.
type TaskService interface {
	// GetTask retrieves a task by its ID
	GetTask(ctx context.Context, taskID int64) (*entity.TaskAssignment, error)

	// ListTasks retrieves the live tasks of a process
	ListTasks(ctx context.Context, processID int64) ([]*entity.TaskAssignment, error)

	// CompleteTask marks a task Completed and unblocks its dependents
	CompleteTask(ctx context.Context, taskID int64, actorID string) (*TaskOutcome, error)

	// SkipTask marks a task Skipped
	SkipTask(ctx context.Context, taskID int64, actorID, reason string) (*TaskOutcome, error)

	// SetDependency points a task at a prerequisite, rejecting cycles
	SetDependency(ctx context.Context, taskID, dependsOnID int64) (*entity.TaskAssignment, error)

	// RemoveDependency clears a task's prerequisite
	RemoveDependency(ctx context.Context, taskID int64) (*entity.TaskAssignment, error)

	// CriticalPath returns the task ordering of a process
	CriticalPath(ctx context.Context, processID int64) (*dependency.CriticalPath, error)
}

type taskServiceImpl struct {
	tasks      port.TaskRepository
	deps       *dependency.Engine
	dispatcher dispatcher.Dispatcher
	logger     Logger
	now        func() time.Time
}

// NewTaskService creates a new TaskService
func NewTaskService(
	tasks port.TaskRepository,
	deps *dependency.Engine,
	d dispatcher.Dispatcher,
	logger Logger,
) TaskService {
	return &taskServiceImpl{
		tasks:      tasks,
		deps:       deps,
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *taskServiceImpl) GetTask(ctx context.Context, taskID int64) (*entity.TaskAssignment, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Deleted {
		return nil, failure.NotFoundf("task #%d", taskID)
	}
	return task, nil
}

func (s *taskServiceImpl) ListTasks(ctx context.Context, processID int64) ([]*entity.TaskAssignment, error) {
	return s.tasks.ListByProcess(ctx, processID)
}

func (s *taskServiceImpl) CompleteTask(ctx context.Context, taskID int64, actorID string) (*TaskOutcome, error) {
	return s.finish(ctx, taskID, entity.TaskStatusCompleted, actorID, "")
}

func (s *taskServiceImpl) SkipTask(ctx context.Context, taskID int64, actorID, reason string) (*TaskOutcome, error) {
	return s.finish(ctx, taskID, entity.TaskStatusSkipped, actorID, reason)
}

// finish writes a terminal task status, then unblocks dependents, then publishes the event.
// Repeating the same completion writes nothing but re-runs the unblock and the publish, so a
// completion interrupted after its status write converges on retry. Both are idempotent.
func (s *taskServiceImpl) finish(ctx context.Context, taskID int64, status entity.TaskStatus, actorID, reason string) (*TaskOutcome, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	repeat := task.Status == status
	if !repeat {
		switch {
		case task.IsDone() || task.Status == entity.TaskStatusCancelled:
			return nil, fmt.Errorf("%w: task #%d is already %s", failure.ErrConflict, taskID, task.Status)
		case status == entity.TaskStatusCompleted && task.IsBlocked:
			return nil, fmt.Errorf("%w: task #%d is blocked: %s", failure.ErrConflict, taskID, task.BlockedReason)
		}

		now := s.now().UTC()
		if err := s.tasks.SetStatus(ctx, taskID, status, actorID, &now); err != nil {
			s.logger.Error("Failed to update task status",
				"error", err,
				"task_id", taskID,
				"status", status)
			return nil, fmt.Errorf("update task status: %w", err)
		}
	}

	var unblocked []int64
	if status == entity.TaskStatusCompleted {
		unblocked, err = s.deps.OnTaskCompleted(ctx, taskID)
	} else {
		unblocked, err = s.deps.OnTaskSkipped(ctx, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("unblock dependents of task #%d: %w", taskID, err)
	}

	task, err = s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Task finished",
		"task_id", taskID,
		"status", status,
		"actor", actorID,
		"repeat", repeat,
		"unblocked", len(unblocked))

	eventType := event.TypeTaskCompleted
	if status == entity.TaskStatusSkipped {
		eventType = event.TypeTaskSkipped
	}
	publish(ctx, s.dispatcher, s.logger, event.NewEvent(eventType, taskID, map[string]interface{}{
		"task_id":    taskID,
		"process_id": task.ProcessID,
		"status":     string(status),
		"actor":      actorID,
		"reason":     reason,
		"unblocked":  unblocked,
	}))

	return &TaskOutcome{Task: task, Unblocked: unblocked}, nil
}

func (s *taskServiceImpl) SetDependency(ctx context.Context, taskID, dependsOnID int64) (*entity.TaskAssignment, error) {
	return s.deps.AddDependency(ctx, taskID, dependsOnID)
}

func (s *taskServiceImpl) RemoveDependency(ctx context.Context, taskID int64) (*entity.TaskAssignment, error) {
	return s.deps.RemoveDependency(ctx, taskID)
}

func (s *taskServiceImpl) CriticalPath(ctx context.Context, processID int64) (*dependency.CriticalPath, error) {
	return s.deps.CriticalPath(ctx, processID)
}
