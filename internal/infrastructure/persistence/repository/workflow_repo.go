package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
)

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	records
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(store port.RecordStore, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{newRecords(store, entity.CollectionWorkflowDefinitions, logger)}
}

func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	id, err := r.create(ctx, def)
	if err != nil {
		return err
	}
	def.ID = id
	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	return getOne[entity.WorkflowDefinition](ctx, r.records, id)
}

func (r *DefinitionRepository) FindByNameVersion(ctx context.Context, name string, version int) (*entity.WorkflowDefinition, error) {
	return queryFirst[entity.WorkflowDefinition](ctx, r.records, port.Query{
		Filter: []port.Condition{port.Eq("name", name), port.Eq("version", version)},
	}, failure.NotFoundf("workflow definition %s v%d", name, version))
}

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	records
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(store port.RecordStore, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{newRecords(store, entity.CollectionWorkflowInstances, logger)}
}

func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	id, err := r.create(ctx, instance)
	if err != nil {
		return err
	}
	instance.ID = id
	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	inst, err := getOne[entity.WorkflowInstance](ctx, r.records, id)
	if err != nil {
		return nil, err
	}
	if inst.Variables == nil {
		inst.Variables = map[string]interface{}{}
	}
	return inst, nil
}

func (r *InstanceRepository) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	fields := port.Fields{
		"status":             instance.Status,
		"paused_from_status": optional(string(instance.PausedFromStatus)),
		"current_step_id":    instance.CurrentStepID,
		"variables":          instance.Variables,
		"error":              optional(instance.Error),
		"completed_at":       nil,
		"updated_at":         instance.UpdatedAt,
	}
	if instance.CompletedAt != nil {
		fields["completed_at"] = *instance.CompletedAt
	}
	return r.update(ctx, instance.ID, fields)
}

func (r *InstanceRepository) ListByStatus(ctx context.Context, statuses []entity.WorkflowStatus, afterID int64, limit int) ([]*entity.WorkflowInstance, error) {
	return queryAll[entity.WorkflowInstance](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.In("status", statuses), port.Gt("id", afterID)},
		OrderBy: []port.Order{{Field: "id"}},
		Top:     limit,
	})
}

func (r *InstanceRepository) ListByProcess(ctx context.Context, processID int64) ([]*entity.WorkflowInstance, error) {
	return queryAll[entity.WorkflowInstance](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("process_id", processID)},
		OrderBy: []port.Order{{Field: "id"}},
	})
}

// StepStatusRepository implements port.StepStatusRepository
type StepStatusRepository struct {
	records
}

// NewStepStatusRepository creates a new step status repository
func NewStepStatusRepository(store port.RecordStore, logger *zap.Logger) port.StepStatusRepository {
	return &StepStatusRepository{newRecords(store, entity.CollectionWorkflowStepStatus, logger)}
}

func (r *StepStatusRepository) Get(ctx context.Context, instanceID int64, stepID string) (*entity.WorkflowStepStatus, error) {
	return queryFirst[entity.WorkflowStepStatus](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("instance_id", instanceID), port.Eq("step_id", stepID)},
		OrderBy: []port.Order{{Field: "id", Desc: true}},
	}, failure.NotFoundf("step %s of instance #%d", stepID, instanceID))
}

func (r *StepStatusRepository) Save(ctx context.Context, status *entity.WorkflowStepStatus) error {
	if status.ID == 0 {
		id, err := r.create(ctx, status)
		if err != nil {
			return err
		}
		status.ID = id
		return nil
	}

	fields := port.Fields{
		"status":       status.Status,
		"attempt":      status.Attempt,
		"result":       status.Result,
		"wait":         status.Wait,
		"error":        optional(status.Error),
		"log":          status.Log,
		"completed_at": status.CompletedAt,
		"updated_at":   status.UpdatedAt,
	}
	if status.Result == nil {
		fields["result"] = nil
	}
	if status.Wait == nil {
		fields["wait"] = nil
	}
	if status.CompletedAt == nil {
		fields["completed_at"] = nil
	}
	return r.update(ctx, status.ID, fields)
}

func (r *StepStatusRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepStatus, error) {
	return queryAll[entity.WorkflowStepStatus](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("instance_id", instanceID)},
		OrderBy: []port.Order{{Field: "id"}},
	})
}

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	records
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(store port.RecordStore, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{newRecords(store, entity.CollectionWorkflowHistory, logger)}
}

func (r *HistoryRepository) Create(ctx context.Context, history *entity.WorkflowHistory) error {
	id, err := r.create(ctx, history)
	if err != nil {
		return err
	}
	history.ID = id
	return nil
}

func (r *HistoryRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowHistory, error) {
	return queryAll[entity.WorkflowHistory](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("instance_id", instanceID)},
		OrderBy: []port.Order{{Field: "id"}},
	})
}
