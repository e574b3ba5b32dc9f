package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
)

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	records
	now func() time.Time
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(store port.RecordStore, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		records: newRecords(store, entity.CollectionTasks, logger),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *TaskRepository) Create(ctx context.Context, task *entity.TaskAssignment) error {
	now := r.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = entity.TaskStatusNotStarted
	}

	id, err := r.create(ctx, task)
	if err != nil {
		return err
	}
	task.ID = id
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*entity.TaskAssignment, error) {
	return getOne[entity.TaskAssignment](ctx, r.records, id)
}

func (r *TaskRepository) SetDependency(ctx context.Context, id int64, dependsOn *int64) error {
	var dep interface{}
	if dependsOn != nil {
		dep = *dependsOn
	}
	return r.update(ctx, id, port.Fields{"depends_on_task_id": dep, "updated_at": r.now()})
}

func (r *TaskRepository) SetBlocked(ctx context.Context, id int64, blocked bool, reason string) error {
	return r.update(ctx, id, port.Fields{"is_blocked": blocked, "blocked_reason": reason, "updated_at": r.now()})
}

func (r *TaskRepository) SetStatus(ctx context.Context, id int64, status entity.TaskStatus, actorID string, at *time.Time) error {
	fields := port.Fields{"status": status, "updated_at": r.now(), "completed_by": optional(actorID), "completed_at": nil}
	if at != nil {
		fields["completed_at"] = *at
	}
	return r.update(ctx, id, fields)
}

func (r *TaskRepository) SetAssignee(ctx context.Context, id int64, assigneeID string) error {
	return r.update(ctx, id, port.Fields{"assignee_id": optional(assigneeID), "updated_at": r.now()})
}

func (r *TaskRepository) LinkWorkflow(ctx context.Context, id int64, instanceID int64, stepID string) error {
	return r.update(ctx, id, port.Fields{
		"workflow_instance_id": instanceID,
		"workflow_step_id":     stepID,
		"updated_at":           r.now(),
	})
}

func (r *TaskRepository) ListDependents(ctx context.Context, id int64) ([]*entity.TaskAssignment, error) {
	return queryAll[entity.TaskAssignment](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("depends_on_task_id", id), port.Eq("deleted", false)},
		OrderBy: []port.Order{{Field: "id"}},
	})
}

func (r *TaskRepository) ListByProcess(ctx context.Context, processID int64) ([]*entity.TaskAssignment, error) {
	return queryAll[entity.TaskAssignment](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("process_id", processID), port.Eq("deleted", false)},
		OrderBy: []port.Order{{Field: "id"}},
	})
}

// ProcessRepository implements port.ProcessRepository
type ProcessRepository struct {
	records
}

// NewProcessRepository creates a new process repository
func NewProcessRepository(store port.RecordStore, logger *zap.Logger) port.ProcessRepository {
	return &ProcessRepository{newRecords(store, entity.CollectionProcesses, logger)}
}

func (r *ProcessRepository) Create(ctx context.Context, process *entity.Process) error {
	now := time.Now().UTC()
	if process.CreatedAt.IsZero() {
		process.CreatedAt = now
	}
	process.UpdatedAt = now
	if process.Status == "" {
		process.Status = entity.ProcessStatusPending
	}

	id, err := r.create(ctx, process)
	if err != nil {
		return err
	}
	process.ID = id
	return nil
}

func (r *ProcessRepository) GetByID(ctx context.Context, id int64) (*entity.Process, error) {
	return getOne[entity.Process](ctx, r.records, id)
}

func (r *ProcessRepository) UpdateStatus(ctx context.Context, id int64, status entity.ProcessStatus, reason string) error {
	return r.update(ctx, id, port.Fields{
		"status":        status,
		"status_reason": optional(reason),
		"updated_at":    time.Now().UTC(),
	})
}
