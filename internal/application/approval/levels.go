package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
)

// createLevelApprovals creates one request per approver of the level.
// Sequential levels start only the first approver; the rest are Queued.
func (e *Engine) createLevelApprovals(ctx context.Context, chain *entity.ApprovalChain, level int) ([]*entity.ApprovalRequest, error) {
	def := chain.Level(level)
	if def == nil {
		return nil, failure.Validationf("approval chain #%d has no level %d", chain.ID, level)
	}

	now := e.now().UTC()
	due := now.Add(e.dueWindow(def))
	reqs := make([]*entity.ApprovalRequest, 0, len(def.ApproverIDs))

	for i, approverID := range def.ApproverIDs {
		status := entity.ApprovalStatusPending
		if def.ApprovalType == entity.ApprovalTypeSequential && i > 0 {
			status = entity.ApprovalStatusQueued
		}

		assignee, err := e.route(ctx, approverID, now)
		if err != nil {
			return nil, err
		}

		req := &entity.ApprovalRequest{
			ChainID:    chain.ID,
			ProcessID:  chain.ProcessID,
			Level:      level,
			Sequence:   i + 1,
			ApproverID: assignee,
			Status:     status,
			DueDate:    due,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if assignee != approverID {
			req.OriginalApproverID = approverID
		}
		if err := e.requests.Create(ctx, req); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	for _, req := range reqs {
		if req.Status.IsActionable() {
			e.notifyApprover(ctx, req, port.MessageApprovalRequest, "Approval requested")
		}
	}
	return reqs, nil
}

func (e *Engine) dueWindow(def *entity.ApprovalLevel) time.Duration {
	days := def.DueDays
	if days <= 0 {
		days = e.defaultDueDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// route applies an active delegation rule. Rules are followed one hop only.
func (e *Engine) route(ctx context.Context, approverID string, at time.Time) (string, error) {
	rule, err := e.delegations.FindActive(ctx, approverID, at)
	if err != nil {
		if errors.Is(err, failure.ErrNotFound) {
			return approverID, nil
		}
		return "", err
	}
	e.logger.Debug("Request routed by delegation rule",
		zap.String("delegator", approverID),
		zap.String("delegate", rule.DelegateID),
		zap.Int64("rule_id", rule.ID))
	return rule.DelegateID, nil
}

// levelOutcome decides a level from its requests. It returns an empty status while
// undecided, together with the queued request to activate next if any.
func levelOutcome(kind entity.ApprovalType, reqs []*entity.ApprovalRequest) (entity.ApprovalStatus, *entity.ApprovalRequest) {
	var approved, rejected, open int
	var active, nextQueued, firstDecided *entity.ApprovalRequest

	for _, r := range reqs {
		switch {
		case r.Status == entity.ApprovalStatusApproved:
			approved++
		case r.Status == entity.ApprovalStatusRejected:
			rejected++
		case r.Status == entity.ApprovalStatusQueued:
			open++
			if nextQueued == nil {
				nextQueued = r
			}
		case r.Status.IsActionable():
			open++
			active = r
		}
		if r.Status == entity.ApprovalStatusApproved || r.Status == entity.ApprovalStatusRejected {
			if firstDecided == nil || decidedBefore(r, firstDecided) {
				firstDecided = r
			}
		}
	}

	switch kind {
	case entity.ApprovalTypeSequential:
		if rejected > 0 {
			return entity.ApprovalStatusRejected, nil
		}
		if approved == len(reqs) {
			return entity.ApprovalStatusApproved, nil
		}
		if active != nil {
			return "", nil
		}
		if nextQueued != nil {
			return "", nextQueued
		}
		return entity.ApprovalStatusRejected, nil

	case entity.ApprovalTypeFirstApprover:
		if firstDecided != nil {
			return firstDecided.Status, nil
		}
		if open > 0 {
			return "", nil
		}
		return entity.ApprovalStatusRejected, nil

	default:
		if open > 0 {
			return "", nil
		}
		if rejected == 0 && approved > 0 {
			return entity.ApprovalStatusApproved, nil
		}
		return entity.ApprovalStatusRejected, nil
	}
}

func decidedBefore(a, b *entity.ApprovalRequest) bool {
	if a.DecidedAt == nil || b.DecidedAt == nil {
		return a.Sequence < b.Sequence
	}
	if a.DecidedAt.Equal(*b.DecidedAt) {
		return a.Sequence < b.Sequence
	}
	return a.DecidedAt.Before(*b.DecidedAt)
}

// evaluateLevel applies the level rules after a request changed. It activates the next
// sequential approver, advances to the next level or closes the chain. Callers hold the chain lock.
func (e *Engine) evaluateLevel(ctx context.Context, chainID int64, level int) (entity.ApprovalStatus, *entity.ApprovalChain, bool, error) {
	chain, err := e.chains.GetByID(ctx, chainID)
	if err != nil {
		return "", nil, false, err
	}
	if !chain.IsActive || chain.CurrentLevel != level {
		return "", chain, false, nil
	}
	def := chain.Level(level)
	if def == nil {
		return "", chain, false, failure.Validationf("approval chain #%d has no level %d", chainID, level)
	}

	reqs, err := e.requests.ListByChainLevel(ctx, chainID, level)
	if err != nil {
		return "", chain, false, err
	}

	outcome, next := levelOutcome(def.ApprovalType, reqs)
	if outcome == "" {
		if next != nil {
			if err := e.activate(ctx, next, def); err != nil {
				return "", chain, false, err
			}
		}
		return "", chain, false, nil
	}

	if err := e.cancelOpen(ctx, reqs, fmt.Sprintf("level %d closed %s", level, outcome)); err != nil {
		return "", chain, false, err
	}

	e.logger.Info("Approval level closed",
		zap.Int64("chain_id", chainID),
		zap.Int("level", level),
		zap.String("outcome", string(outcome)))

	if outcome == entity.ApprovalStatusApproved && level < len(chain.Levels) {
		chain.CurrentLevel = level + 1
		chain.UpdatedAt = e.now().UTC()
		if err := e.chains.Update(ctx, chain); err != nil {
			return "", chain, false, err
		}
		if _, err := e.createLevelApprovals(ctx, chain, chain.CurrentLevel); err != nil {
			return "", chain, false, err
		}
		return outcome, chain, false, nil
	}

	if err := e.closeChain(ctx, chain, outcome); err != nil {
		return "", chain, false, err
	}
	return outcome, chain, true, nil
}

// activate moves a queued sequential request to Pending with a fresh due date
func (e *Engine) activate(ctx context.Context, req *entity.ApprovalRequest, def *entity.ApprovalLevel) error {
	now := e.now().UTC()
	req.Status = entity.ApprovalStatusPending
	req.DueDate = now.Add(e.dueWindow(def))
	req.UpdatedAt = now
	if err := e.requests.Update(ctx, req); err != nil {
		return err
	}
	e.logger.Info("Next sequential approver activated",
		zap.Int64("approval_id", req.ID),
		zap.String("approver", req.ApproverID))
	e.notifyApprover(ctx, req, port.MessageApprovalRequest, "Approval requested")
	return nil
}

func (e *Engine) cancelOpen(ctx context.Context, reqs []*entity.ApprovalRequest, reason string) error {
	now := e.now().UTC()
	for _, r := range reqs {
		if r.Status.IsTerminal() {
			continue
		}
		r.Status = entity.ApprovalStatusCancelled
		r.Comments = reason
		r.UpdatedAt = now
		if err := e.requests.Update(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) closeChain(ctx context.Context, chain *entity.ApprovalChain, status entity.ApprovalStatus) error {
	now := e.now().UTC()
	chain.OverallStatus = status
	chain.IsActive = false
	chain.UpdatedAt = now
	chain.CompletedAt = &now
	if err := e.chains.Update(ctx, chain); err != nil {
		return err
	}
	e.logger.Info("Approval chain closed",
		zap.Int64("chain_id", chain.ID),
		zap.Int64("process_id", chain.ProcessID),
		zap.String("status", string(status)))
	return nil
}
