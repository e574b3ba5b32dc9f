package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/hr-orchestrator/internal/application/dependency"
	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/application/workflow"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	"github.com/garyjia/hr-orchestrator/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// TaskInput describes one task created with a process. DependsOn is the index of an earlier
// task in the same batch.
type TaskInput struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	DueDays     int    `json:"due_days,omitempty" validate:"gte=0"`
	DependsOn   *int   `json:"depends_on,omitempty"`
}

// InitiateProcessInput describes a new process
type InitiateProcessInput struct {
	Title          string                     `json:"title" validate:"required"`
	Type           entity.ProcessType         `json:"type" validate:"required,oneof=ONBOARDING TRANSFER OFFBOARDING"`
	EmployeeID     int64                      `json:"employee_id" validate:"required,gt=0"`
	EmployeeName   string                     `json:"employee_name,omitempty"`
	DepartmentID   int64                      `json:"department_id,omitempty" validate:"gte=0"`
	DepartmentName string                     `json:"department_name,omitempty"`
	Context        map[string]interface{}     `json:"context,omitempty"`
	Tasks          []TaskInput                `json:"tasks,omitempty" validate:"omitempty,dive"`
	Workflow       *entity.WorkflowDefinition `json:"workflow,omitempty"`
	ActorID        string                     `json:"actor_id,omitempty"`
}

// InitiateResult is a freshly created process with its tasks and workflow
type InitiateResult struct {
	Process  *entity.Process           `json:"process"`
	Tasks    []*entity.TaskAssignment  `json:"tasks"`
	Workflow *entity.WorkflowInstance `json:"workflow,omitempty"`
}

// ProcessView is a process with everything attached to it
type ProcessView struct {
	Process   *entity.Process            `json:"process"`
	Tasks     []*entity.TaskAssignment   `json:"tasks"`
	Workflows []*entity.WorkflowInstance `json:"workflows"`
}

// ProcessService manages HR processes
type ProcessService interface {
	// InitiateProcess creates a process, its task batch and optionally starts its workflow
	InitiateProcess(ctx context.Context, in InitiateProcessInput) (*InitiateResult, error)

	// GetProcess retrieves a process with its tasks and workflow instances
	GetProcess(ctx context.Context, processID int64) (*ProcessView, error)

	// UpdateStatus changes a process status from outside and publishes process.status_changed
	UpdateStatus(ctx context.Context, processID int64, status entity.ProcessStatus, reason, actorID string) (*entity.Process, error)
}

type processServiceImpl struct {
	processes  port.ProcessRepository
	tasks      port.TaskRepository
	instances  port.InstanceRepository
	deps       *dependency.Engine
	workflows  workflow.WorkflowEngine
	dispatcher dispatcher.Dispatcher
	logger     Logger
	now        func() time.Time
}

// NewProcessService creates a new ProcessService
func NewProcessService(
	processes port.ProcessRepository,
	tasks port.TaskRepository,
	instances port.InstanceRepository,
	deps *dependency.Engine,
	workflows workflow.WorkflowEngine,
	d dispatcher.Dispatcher,
	logger Logger,
) ProcessService {
	return &processServiceImpl{
		processes:  processes,
		tasks:      tasks,
		instances:  instances,
		deps:       deps,
		workflows:  workflows,
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *processServiceImpl) InitiateProcess(ctx context.Context, in InitiateProcessInput) (*InitiateResult, error) {
	if err := utils.Validator().Struct(in); err != nil {
		return nil, failure.FromValidator(err)
	}
	for i, t := range in.Tasks {
		if t.DependsOn != nil && (*t.DependsOn < 0 || *t.DependsOn >= i) {
			return nil, failure.Validationf("task %d depends on %d, which is not an earlier task", i, *t.DependsOn)
		}
	}
	if in.Workflow != nil {
		if err := workflow.ValidateDefinition(in.Workflow); err != nil {
			return nil, err
		}
	}

	proc := &entity.Process{
		Title:      in.Title,
		Type:       in.Type,
		Status:     entity.ProcessStatusPending,
		Employee:   reference(in.EmployeeID, in.EmployeeName),
		Department: reference(in.DepartmentID, in.DepartmentName),
		Context:    in.Context,
	}
	if err := s.processes.Create(ctx, proc); err != nil {
		s.logger.Error("Failed to create process", "error", err, "title", in.Title)
		return nil, fmt.Errorf("create process: %w", err)
	}

	result := &InitiateResult{Process: proc}
	for i, t := range in.Tasks {
		task := &entity.TaskAssignment{
			ProcessID:   proc.ID,
			Title:       t.Title,
			Description: t.Description,
			AssigneeID:  t.AssigneeID,
			Status:      entity.TaskStatusNotStarted,
		}
		if t.DueDays > 0 {
			due := s.now().UTC().AddDate(0, 0, t.DueDays)
			task.DueDate = &due
		}
		if err := s.tasks.Create(ctx, task); err != nil {
			return nil, fmt.Errorf("create task %d of process #%d: %w", i, proc.ID, err)
		}
		if t.DependsOn != nil {
			linked, err := s.deps.AddDependency(ctx, task.ID, result.Tasks[*t.DependsOn].ID)
			if err != nil {
				return nil, fmt.Errorf("link task %d of process #%d: %w", i, proc.ID, err)
			}
			task = linked
		}
		result.Tasks = append(result.Tasks, task)
	}

	s.logger.Info("Process initiated",
		"process_id", proc.ID,
		"type", proc.Type,
		"tasks", len(result.Tasks))

	if in.Workflow == nil {
		return result, nil
	}

	taskIDs := make([]int64, len(result.Tasks))
	for i, t := range result.Tasks {
		taskIDs[i] = t.ID
	}
	wfContext := map[string]interface{}{
		"process_id":   proc.ID,
		"process_type": string(proc.Type),
		"employee_id":  in.EmployeeID,
		"task_ids":     taskIDs,
	}
	for k, v := range in.Context {
		wfContext[k] = v
	}

	instanceID, err := s.workflows.Start(ctx, in.Workflow, workflow.StartInput{
		ProcessID: proc.ID,
		Context:   wfContext,
		ActorID:   in.ActorID,
	})
	if err != nil {
		return result, fmt.Errorf("start workflow for process #%d: %w", proc.ID, err)
	}
	inst, err := s.workflows.Run(ctx, instanceID)
	if err != nil {
		return result, fmt.Errorf("run workflow #%d: %w", instanceID, err)
	}
	result.Workflow = inst

	// the workflow's own status change has synced the process by now
	if refreshed, err := s.processes.GetByID(ctx, proc.ID); err == nil {
		result.Process = refreshed
	}
	return result, nil
}

func reference(id int64, title string) entity.Reference {
	switch {
	case id == 0:
		return entity.Reference{}
	case title != "":
		return entity.Resolved(id, title)
	}
	return entity.Unresolved(id)
}

func (s *processServiceImpl) GetProcess(ctx context.Context, processID int64) (*ProcessView, error) {
	proc, err := s.processes.GetByID(ctx, processID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ListByProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	instances, err := s.instances.ListByProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	return &ProcessView{Process: proc, Tasks: tasks, Workflows: instances}, nil
}

func (s *processServiceImpl) UpdateStatus(ctx context.Context, processID int64, status entity.ProcessStatus, reason, actorID string) (*entity.Process, error) {
	if !status.IsValid() {
		return nil, failure.Validationf("unknown process status %q", status)
	}
	proc, err := s.processes.GetByID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if proc.Status == status {
		return proc, nil
	}
	if proc.Status.IsFinal() {
		return nil, fmt.Errorf("%w: process #%d is already %s", failure.ErrConflict, processID, proc.Status)
	}

	if err := s.processes.UpdateStatus(ctx, processID, status, reason); err != nil {
		s.logger.Error("Failed to update process status",
			"error", err,
			"process_id", processID,
			"status", status)
		return nil, fmt.Errorf("update process status: %w", err)
	}

	s.logger.Info("Process status updated",
		"process_id", processID,
		"from", proc.Status,
		"to", status,
		"actor", actorID)

	publish(ctx, s.dispatcher, s.logger, event.NewEvent(event.TypeProcessStatusChanged, processID, map[string]interface{}{
		"process_id":      processID,
		"previous_status": proc.Status.String(),
		"new_status":      status.String(),
		"reason":          reason,
		"source":          "api",
		"actor":           actorID,
	}))

	return s.processes.GetByID(ctx, processID)
}

// publish dispatches synchronously; subscriber failures are already dead-lettered by the
// subscribers themselves, so they are only logged here
func publish(ctx context.Context, d dispatcher.Dispatcher, logger Logger, evt *event.Event) {
	if d == nil {
		return
	}
	if err := d.Dispatch(ctx, evt); err != nil {
		logger.Error("Event handler failed",
			"error", err,
			"event_type", evt.Type,
			"aggregate_id", evt.AggregateID)
	}
}
