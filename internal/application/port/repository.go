package port

import (
	"context"
	"time"

	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
)

// Repositories below return errors wrapping failure.ErrNotFound for missing records.

// DefinitionRepository persists workflow definitions
type DefinitionRepository interface {
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)
	FindByNameVersion(ctx context.Context, name string, version int) (*entity.WorkflowDefinition, error)
}

// InstanceRepository persists workflow instances
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	// Update writes the mutable execution fields of the instance
	Update(ctx context.Context, instance *entity.WorkflowInstance) error
	// ListByStatus pages through instances in the given statuses with id > afterID, ordered by id
	ListByStatus(ctx context.Context, statuses []entity.WorkflowStatus, afterID int64, limit int) ([]*entity.WorkflowInstance, error)
	ListByProcess(ctx context.Context, processID int64) ([]*entity.WorkflowInstance, error)
}

// StepStatusRepository persists per-step execution records keyed by (instance, step)
type StepStatusRepository interface {
	Get(ctx context.Context, instanceID int64, stepID string) (*entity.WorkflowStepStatus, error)
	// Save creates the record when ID is zero and updates it otherwise
	Save(ctx context.Context, status *entity.WorkflowStepStatus) error
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepStatus, error)
}

// HistoryRepository records instance transitions
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.WorkflowHistory) error
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowHistory, error)
}

// TaskRepository persists task assignments with targeted field writes
type TaskRepository interface {
	Create(ctx context.Context, task *entity.TaskAssignment) error
	GetByID(ctx context.Context, id int64) (*entity.TaskAssignment, error)
	SetDependency(ctx context.Context, id int64, dependsOn *int64) error
	SetBlocked(ctx context.Context, id int64, blocked bool, reason string) error
	SetStatus(ctx context.Context, id int64, status entity.TaskStatus, actorID string, at *time.Time) error
	SetAssignee(ctx context.Context, id int64, assigneeID string) error
	LinkWorkflow(ctx context.Context, id int64, instanceID int64, stepID string) error
	// ListDependents returns non-deleted tasks whose dependency points at id
	ListDependents(ctx context.Context, id int64) ([]*entity.TaskAssignment, error)
	ListByProcess(ctx context.Context, processID int64) ([]*entity.TaskAssignment, error)
}

// ProcessRepository persists HR processes
type ProcessRepository interface {
	Create(ctx context.Context, process *entity.Process) error
	GetByID(ctx context.Context, id int64) (*entity.Process, error)
	UpdateStatus(ctx context.Context, id int64, status entity.ProcessStatus, reason string) error
}

// ChainRepository persists approval chains
type ChainRepository interface {
	Create(ctx context.Context, chain *entity.ApprovalChain) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalChain, error)
	// Update writes level, status, activity and completion fields
	Update(ctx context.Context, chain *entity.ApprovalChain) error
	FindActiveByProcess(ctx context.Context, processID int64) (*entity.ApprovalChain, error)
	// FindLatestByWorkflowStep returns the most recent chain started by a workflow step
	FindLatestByWorkflowStep(ctx context.Context, instanceID int64, stepID string) (*entity.ApprovalChain, error)
}

// RequestRepository persists approval requests
type RequestRepository interface {
	Create(ctx context.Context, request *entity.ApprovalRequest) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error)
	// Update writes approver, status, due date, escalation and decision fields
	Update(ctx context.Context, request *entity.ApprovalRequest) error
	// ListByChainLevel returns a level's requests ordered by sequence
	ListByChainLevel(ctx context.Context, chainID int64, level int) ([]*entity.ApprovalRequest, error)
	ListByChain(ctx context.Context, chainID int64) ([]*entity.ApprovalRequest, error)
	// ListOverdue returns actionable requests due before now
	ListOverdue(ctx context.Context, now time.Time) ([]*entity.ApprovalRequest, error)
	ListNonTerminalCreatedBefore(ctx context.Context, cutoff time.Time) ([]*entity.ApprovalRequest, error)
}

// DelegationRepository persists delegation rules
type DelegationRepository interface {
	Create(ctx context.Context, rule *entity.DelegationRule) error
	// FindActive returns the most recently created rule of delegatorID covering at
	FindActive(ctx context.Context, delegatorID string, at time.Time) (*entity.DelegationRule, error)
}

// DeadLetterRepository persists dead-letter items
type DeadLetterRepository interface {
	Create(ctx context.Context, item *entity.DeadLetterItem) error
	GetByID(ctx context.Context, id int64) (*entity.DeadLetterItem, error)
	Update(ctx context.Context, item *entity.DeadLetterItem) error
	ListByStatus(ctx context.Context, status entity.DeadLetterStatus, limit int) ([]*entity.DeadLetterItem, error)
}
