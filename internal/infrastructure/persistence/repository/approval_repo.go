package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
)

// ChainRepository implements port.ChainRepository
type ChainRepository struct {
	records
}

// NewChainRepository creates a new approval chain repository
func NewChainRepository(store port.RecordStore, logger *zap.Logger) port.ChainRepository {
	return &ChainRepository{newRecords(store, entity.CollectionApprovalChains, logger)}
}

func (r *ChainRepository) Create(ctx context.Context, chain *entity.ApprovalChain) error {
	id, err := r.create(ctx, chain)
	if err != nil {
		return err
	}
	chain.ID = id
	return nil
}

func (r *ChainRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalChain, error) {
	return getOne[entity.ApprovalChain](ctx, r.records, id)
}

func (r *ChainRepository) Update(ctx context.Context, chain *entity.ApprovalChain) error {
	fields := port.Fields{
		"current_level":  chain.CurrentLevel,
		"overall_status": chain.OverallStatus,
		"is_active":      chain.IsActive,
		"updated_at":     chain.UpdatedAt,
		"completed_at":   nil,
	}
	if chain.CompletedAt != nil {
		fields["completed_at"] = *chain.CompletedAt
	}
	return r.update(ctx, chain.ID, fields)
}

func (r *ChainRepository) FindActiveByProcess(ctx context.Context, processID int64) (*entity.ApprovalChain, error) {
	return queryFirst[entity.ApprovalChain](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("process_id", processID), port.Eq("is_active", true)},
		OrderBy: []port.Order{{Field: "id", Desc: true}},
	}, failure.NotFoundf("active approval chain for process #%d", processID))
}

func (r *ChainRepository) FindLatestByWorkflowStep(ctx context.Context, instanceID int64, stepID string) (*entity.ApprovalChain, error) {
	return queryFirst[entity.ApprovalChain](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("workflow_instance_id", instanceID), port.Eq("workflow_step_id", stepID)},
		OrderBy: []port.Order{{Field: "id", Desc: true}},
	}, failure.NotFoundf("approval chain for step %s of instance #%d", stepID, instanceID))
}

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	records
}

// NewRequestRepository creates a new approval request repository
func NewRequestRepository(store port.RecordStore, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{newRecords(store, entity.CollectionApprovalRequests, logger)}
}

func (r *RequestRepository) Create(ctx context.Context, request *entity.ApprovalRequest) error {
	id, err := r.create(ctx, request)
	if err != nil {
		return err
	}
	request.ID = id
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	return getOne[entity.ApprovalRequest](ctx, r.records, id)
}

func (r *RequestRepository) Update(ctx context.Context, request *entity.ApprovalRequest) error {
	fields := port.Fields{
		"approver_id":          request.ApproverID,
		"original_approver_id": optional(request.OriginalApproverID),
		"status":               request.Status,
		"due_date":             request.DueDate,
		"escalation_level":     request.EscalationLevel,
		"comments":             optional(request.Comments),
		"decided_by":           optional(request.DecidedBy),
		"decided_at":           nil,
		"updated_at":           request.UpdatedAt,
	}
	if request.DecidedAt != nil {
		fields["decided_at"] = *request.DecidedAt
	}
	return r.update(ctx, request.ID, fields)
}

func (r *RequestRepository) ListByChainLevel(ctx context.Context, chainID int64, level int) ([]*entity.ApprovalRequest, error) {
	return queryAll[entity.ApprovalRequest](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("chain_id", chainID), port.Eq("level", level)},
		OrderBy: []port.Order{{Field: "sequence"}},
	})
}

func (r *RequestRepository) ListByChain(ctx context.Context, chainID int64) ([]*entity.ApprovalRequest, error) {
	return queryAll[entity.ApprovalRequest](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("chain_id", chainID)},
		OrderBy: []port.Order{{Field: "level"}, {Field: "sequence"}},
	})
}

func (r *RequestRepository) ListOverdue(ctx context.Context, now time.Time) ([]*entity.ApprovalRequest, error) {
	return queryAll[entity.ApprovalRequest](ctx, r.records, port.Query{
		Filter: []port.Condition{
			port.In("status", entity.ActionableApprovalStatuses()),
			port.Lt("due_date", now),
		},
		OrderBy: []port.Order{{Field: "due_date"}},
	})
}

func (r *RequestRepository) ListNonTerminalCreatedBefore(ctx context.Context, cutoff time.Time) ([]*entity.ApprovalRequest, error) {
	return queryAll[entity.ApprovalRequest](ctx, r.records, port.Query{
		Filter: []port.Condition{
			port.In("status", entity.NonTerminalApprovalStatuses()),
			port.Lt("created_at", cutoff),
		},
		OrderBy: []port.Order{{Field: "chain_id"}, {Field: "level"}, {Field: "sequence"}},
	})
}

// DelegationRepository implements port.DelegationRepository
type DelegationRepository struct {
	records
}

// NewDelegationRepository creates a new delegation rule repository
func NewDelegationRepository(store port.RecordStore, logger *zap.Logger) port.DelegationRepository {
	return &DelegationRepository{newRecords(store, entity.CollectionDelegationRules, logger)}
}

func (r *DelegationRepository) Create(ctx context.Context, rule *entity.DelegationRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	id, err := r.create(ctx, rule)
	if err != nil {
		return err
	}
	rule.ID = id
	return nil
}

func (r *DelegationRepository) FindActive(ctx context.Context, delegatorID string, at time.Time) (*entity.DelegationRule, error) {
	return queryFirst[entity.DelegationRule](ctx, r.records, port.Query{
		Filter: []port.Condition{
			port.Eq("delegator_id", delegatorID),
			{Field: "start_at", Op: port.OpLte, Value: at},
			{Field: "end_at", Op: port.OpGte, Value: at},
		},
		OrderBy: []port.Order{{Field: "id", Desc: true}},
	}, failure.NotFoundf("active delegation for %s", delegatorID))
}

// DeadLetterRepository implements port.DeadLetterRepository
type DeadLetterRepository struct {
	records
}

// NewDeadLetterRepository creates a new dead-letter repository
func NewDeadLetterRepository(store port.RecordStore, logger *zap.Logger) port.DeadLetterRepository {
	return &DeadLetterRepository{newRecords(store, entity.CollectionDeadLetters, logger)}
}

func (r *DeadLetterRepository) Create(ctx context.Context, item *entity.DeadLetterItem) error {
	id, err := r.create(ctx, item)
	if err != nil {
		return err
	}
	item.ID = id
	return nil
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id int64) (*entity.DeadLetterItem, error) {
	return getOne[entity.DeadLetterItem](ctx, r.records, id)
}

func (r *DeadLetterRepository) Update(ctx context.Context, item *entity.DeadLetterItem) error {
	fields := port.Fields{
		"status":          item.Status,
		"attempts":        item.Attempts,
		"error":           item.Error,
		"last_attempt_at": item.LastAttemptAt,
		"resolved_by":     optional(item.ResolvedBy),
		"resolved_at":     nil,
	}
	if item.ResolvedAt != nil {
		fields["resolved_at"] = *item.ResolvedAt
	}
	return r.update(ctx, item.ID, fields)
}

func (r *DeadLetterRepository) ListByStatus(ctx context.Context, status entity.DeadLetterStatus, limit int) ([]*entity.DeadLetterItem, error) {
	return queryAll[entity.DeadLetterItem](ctx, r.records, port.Query{
		Filter:  []port.Condition{port.Eq("status", status)},
		OrderBy: []port.Order{{Field: "id"}},
		Top:     limit,
	})
}
