// Package approval runs multi-level approval chains with delegation and escalation.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	"github.com/garyjia/hr-orchestrator/internal/observability"
	"github.com/garyjia/hr-orchestrator/pkg/utils"
)

// StartChainInput describes a new chain
type StartChainInput struct {
	ProcessID          int64                   `json:"process_id" validate:"required,gt=0"`
	Title              string                  `json:"title,omitempty"`
	Levels             []entity.ApprovalLevel  `json:"levels" validate:"required,min=1,dive"`
	EscalationAction   entity.EscalationAction `json:"escalation_action,omitempty" validate:"omitempty,oneof=NOTIFY ASSIGN_TO_MANAGER ASSIGN_TO_ALTERNATE AUTO_APPROVE"`
	WorkflowInstanceID *int64                  `json:"workflow_instance_id,omitempty"`
	WorkflowStepID     string                  `json:"workflow_step_id,omitempty"`
	RequestedBy        string                  `json:"requested_by,omitempty"`
}

// DecisionResult reports the effect of one decision
type DecisionResult struct {
	Request *entity.ApprovalRequest `json:"request"`
	Chain   *entity.ApprovalChain   `json:"chain"`
	// LevelOutcome is empty while the level is still undecided
	LevelOutcome entity.ApprovalStatus `json:"level_outcome,omitempty"`
	ChainClosed  bool                  `json:"chain_closed"`
}

// ChainView is a chain with all of its requests
type ChainView struct {
	Chain    *entity.ApprovalChain     `json:"chain"`
	Requests []*entity.ApprovalRequest `json:"requests"`
}

// Engine drives approval chains
type Engine struct {
	chains      port.ChainRepository
	requests    port.RequestRepository
	delegations port.DelegationRepository
	notifier    port.Notifier
	directory   port.Directory
	dispatcher  dispatcher.Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	defaultDueDays     int
	maxEscalationLevel int
	strictManager      bool

	locks utils.KeyedMutex
}

// Option configures an Engine
type Option func(*Engine)

// WithNotifier sends approval notifications
func WithNotifier(n port.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithDirectory resolves managers for AssignToManager escalation
func WithDirectory(d port.Directory) Option {
	return func(e *Engine) {
		e.directory = d
	}
}

// WithDispatcher publishes chain_closed and escalated events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithDefaultDueDays sets the due window used by levels declaring zero days
func WithDefaultDueDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.defaultDueDays = days
		}
	}
}

// WithMaxEscalationLevel caps how often one request is escalated. Zero means unlimited.
func WithMaxEscalationLevel(n int) Option {
	return func(e *Engine) {
		e.maxEscalationLevel = n
	}
}

// WithStrictManagerEscalation makes an unresolvable manager an error instead of a Notify fallback
func WithStrictManagerEscalation(strict bool) Option {
	return func(e *Engine) {
		e.strictManager = strict
	}
}

// WithMetrics records decisions and escalations
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a new approval engine
func NewEngine(
	chains port.ChainRepository,
	requests port.RequestRepository,
	delegations port.DelegationRepository,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		chains:             chains,
		requests:           requests,
		delegations:        delegations,
		logger:             logger,
		now:                time.Now,
		defaultDueDays:     3,
		maxEscalationLevel: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// withChain serializes work on one chain. A chain returned by fn was closed and
// its chain_closed event is published after the lock is released.
func (e *Engine) withChain(ctx context.Context, chainID int64, fn func() (*entity.ApprovalChain, error)) error {
	unlock := e.locks.Lock(chainID)
	closed, err := fn()
	unlock()

	if closed != nil {
		e.publishClosed(ctx, closed)
	}
	return err
}

// StartChain validates the levels, rejects a second active chain for the process
// and creates the requests of level 1.
func (e *Engine) StartChain(ctx context.Context, in StartChainInput) (*entity.ApprovalChain, error) {
	if err := utils.Validator().Struct(in); err != nil {
		return nil, failure.FromValidator(err)
	}
	if in.EscalationAction == "" {
		in.EscalationAction = entity.EscalationNotify
	}

	active, err := e.chains.FindActiveByProcess(ctx, in.ProcessID)
	switch {
	case err == nil:
		return nil, failure.Validationf("process #%d already has active approval chain #%d", in.ProcessID, active.ID)
	case !errors.Is(err, failure.ErrNotFound):
		return nil, err
	}

	now := e.now().UTC()
	chain := &entity.ApprovalChain{
		ProcessID:          in.ProcessID,
		Levels:             in.Levels,
		CurrentLevel:       1,
		OverallStatus:      entity.ApprovalStatusPending,
		IsActive:           true,
		EscalationAction:   in.EscalationAction,
		WorkflowInstanceID: in.WorkflowInstanceID,
		WorkflowStepID:     in.WorkflowStepID,
		RequestedBy:        in.RequestedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.chains.Create(ctx, chain); err != nil {
		return nil, err
	}

	if _, err := e.createLevelApprovals(ctx, chain, 1); err != nil {
		return nil, fmt.Errorf("failed to create level 1 of chain #%d: %w", chain.ID, err)
	}

	e.logger.Info("Approval chain started",
		zap.Int64("chain_id", chain.ID),
		zap.Int64("process_id", chain.ProcessID),
		zap.Int("levels", len(chain.Levels)))
	return chain, nil
}

// SubmitDecision records an approver's decision and evaluates the level
func (e *Engine) SubmitDecision(ctx context.Context, approvalID int64, decision entity.Decision, comments, actorID string) (*DecisionResult, error) {
	var status entity.ApprovalStatus
	switch decision {
	case entity.DecisionApprove:
		status = entity.ApprovalStatusApproved
	case entity.DecisionReject:
		status = entity.ApprovalStatusRejected
	default:
		return nil, failure.Validationf("unknown decision %q", decision)
	}

	req, err := e.requests.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	result := &DecisionResult{}
	err = e.withChain(ctx, req.ChainID, func() (*entity.ApprovalChain, error) {
		req, err := e.requests.GetByID(ctx, approvalID)
		if err != nil {
			return nil, err
		}
		if err := checkActionable(req); err != nil {
			return nil, err
		}
		if !mayDecide(req, actorID) {
			return nil, failure.Validationf("%s is not the approver of request #%d", actorID, approvalID)
		}

		now := e.now().UTC()
		req.Status = status
		req.Comments = comments
		req.DecidedBy = actorID
		req.DecidedAt = &now
		req.UpdatedAt = now
		if err := e.requests.Update(ctx, req); err != nil {
			return nil, err
		}
		e.metrics.RecordDecision(string(decision))
		e.logger.Info("Approval decision recorded",
			zap.Int64("approval_id", req.ID),
			zap.Int64("chain_id", req.ChainID),
			zap.Int("level", req.Level),
			zap.String("decision", string(decision)),
			zap.String("actor", actorID))

		outcome, chain, closed, err := e.evaluateLevel(ctx, req.ChainID, req.Level)
		if err != nil {
			return nil, err
		}
		result.Request = req
		result.Chain = chain
		result.LevelOutcome = outcome
		result.ChainClosed = closed
		if closed {
			return chain, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DelegateApproval hands an active request to another approver.
// The first original approver is preserved across repeated delegation.
func (e *Engine) DelegateApproval(ctx context.Context, approvalID int64, delegateToID, reason string) (*entity.ApprovalRequest, error) {
	if strings.TrimSpace(delegateToID) == "" {
		return nil, failure.Validationf("delegate is required")
	}

	req, err := e.requests.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	var out *entity.ApprovalRequest
	err = e.withChain(ctx, req.ChainID, func() (*entity.ApprovalChain, error) {
		req, err := e.requests.GetByID(ctx, approvalID)
		if err != nil {
			return nil, err
		}
		if err := checkActionable(req); err != nil {
			return nil, err
		}
		if req.ApproverID == delegateToID {
			return nil, failure.Validationf("request #%d is already assigned to %s", approvalID, delegateToID)
		}

		previous := req.ApproverID
		if req.OriginalApproverID == "" {
			req.OriginalApproverID = previous
		}
		req.ApproverID = delegateToID
		req.Status = entity.ApprovalStatusDelegated
		if reason != "" {
			req.Comments = reason
		}
		req.UpdatedAt = e.now().UTC()
		if err := e.requests.Update(ctx, req); err != nil {
			return nil, err
		}
		out = req

		e.logger.Info("Approval delegated",
			zap.Int64("approval_id", req.ID),
			zap.String("from", previous),
			zap.String("to", delegateToID))

		e.notifyApprover(ctx, req, port.MessageApprovalRequest, "Approval delegated to you")
		e.notify(ctx, port.Notification{
			RecipientID: previous,
			Title:       "Approval delegated",
			Message:     fmt.Sprintf("Approval request #%d was delegated to %s. %s", req.ID, delegateToID, reason),
			Priority:    entity.PriorityNormal,
		})
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelChain closes an active chain as Cancelled together with its open requests
func (e *Engine) CancelChain(ctx context.Context, chainID int64, reason, actorID string) (*entity.ApprovalChain, error) {
	var out *entity.ApprovalChain
	err := e.withChain(ctx, chainID, func() (*entity.ApprovalChain, error) {
		chain, err := e.chains.GetByID(ctx, chainID)
		if err != nil {
			return nil, err
		}
		if !chain.IsActive {
			return nil, fmt.Errorf("%w: approval chain #%d is already %s", failure.ErrConflict, chainID, chain.OverallStatus)
		}

		reqs, err := e.requests.ListByChain(ctx, chainID)
		if err != nil {
			return nil, err
		}
		if err := e.cancelOpen(ctx, reqs, reason); err != nil {
			return nil, err
		}
		if err := e.closeChain(ctx, chain, entity.ApprovalStatusCancelled); err != nil {
			return nil, err
		}
		out = chain
		e.logger.Info("Approval chain cancelled",
			zap.Int64("chain_id", chainID),
			zap.String("actor", actorID),
			zap.String("reason", reason))
		return chain, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetChain returns a chain with its requests
func (e *Engine) GetChain(ctx context.Context, chainID int64) (*ChainView, error) {
	chain, err := e.chains.GetByID(ctx, chainID)
	if err != nil {
		return nil, err
	}
	reqs, err := e.requests.ListByChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return &ChainView{Chain: chain, Requests: reqs}, nil
}

// GetRequest returns one request
func (e *Engine) GetRequest(ctx context.Context, approvalID int64) (*entity.ApprovalRequest, error) {
	return e.requests.GetByID(ctx, approvalID)
}

// ListRequests returns every request of a chain ordered by level and sequence
func (e *Engine) ListRequests(ctx context.Context, chainID int64) ([]*entity.ApprovalRequest, error) {
	return e.requests.ListByChain(ctx, chainID)
}

// LatestChainForStep returns the most recent chain started by a workflow step
func (e *Engine) LatestChainForStep(ctx context.Context, instanceID int64, stepID string) (*entity.ApprovalChain, error) {
	return e.chains.FindLatestByWorkflowStep(ctx, instanceID, stepID)
}

// AddDelegationRule stores a time-boxed delegation consulted when new requests are created
func (e *Engine) AddDelegationRule(ctx context.Context, rule *entity.DelegationRule) error {
	if err := utils.Validator().Struct(rule); err != nil {
		return failure.FromValidator(err)
	}
	rule.StartAt = rule.StartAt.UTC()
	rule.EndAt = rule.EndAt.UTC()
	if err := e.delegations.Create(ctx, rule); err != nil {
		return err
	}
	e.logger.Info("Delegation rule added",
		zap.Int64("rule_id", rule.ID),
		zap.String("delegator", rule.DelegatorID),
		zap.String("delegate", rule.DelegateID))
	return nil
}

func checkActionable(req *entity.ApprovalRequest) error {
	switch {
	case req.Status == entity.ApprovalStatusQueued:
		return fmt.Errorf("%w: approval request #%d is queued behind an earlier approver", failure.ErrConflict, req.ID)
	case req.Status.IsTerminal():
		return fmt.Errorf("%w: approval request #%d is already %s", failure.ErrConflict, req.ID, req.Status)
	}
	return nil
}

// mayDecide allows the assignee, the original approver and system actors
func mayDecide(req *entity.ApprovalRequest, actorID string) bool {
	if actorID == "" {
		return false
	}
	if actorID == entity.ActorSystem || strings.HasPrefix(actorID, entity.ActorSystem+":") {
		return true
	}
	return actorID == req.ApproverID || (req.OriginalApproverID != "" && actorID == req.OriginalApproverID)
}

func (e *Engine) publishClosed(ctx context.Context, chain *entity.ApprovalChain) {
	e.metrics.RecordChainClosed(string(chain.OverallStatus))
	if e.dispatcher == nil {
		return
	}
	payload := map[string]interface{}{
		"chain_id":   chain.ID,
		"process_id": chain.ProcessID,
		"status":     string(chain.OverallStatus),
	}
	if chain.WorkflowInstanceID != nil {
		payload["workflow_instance_id"] = *chain.WorkflowInstanceID
		payload["workflow_step_id"] = chain.WorkflowStepID
	}
	if err := e.dispatcher.Dispatch(ctx, event.NewEvent(event.TypeApprovalChainClosed, chain.ID, payload)); err != nil {
		e.logger.Warn("approval.chain_closed handler failed", zap.Int64("chain_id", chain.ID), zap.Error(err))
	}
}
