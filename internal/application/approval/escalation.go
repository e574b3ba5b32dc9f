package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
)

// EscalationResult reports what an escalation did
type EscalationResult struct {
	Request *entity.ApprovalRequest `json:"request"`
	// Applied is the action actually taken, which differs from the chain's
	// configured action when an assignment could not be resolved
	Applied  entity.EscalationAction `json:"applied"`
	FellBack bool                    `json:"fell_back"`
}

// SweepReport summarizes a ProcessOverdue or ExpireApprovals pass
type SweepReport struct {
	Processed    int `json:"processed"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	ChainsClosed int `json:"chains_closed"`
}

// EscalateApproval applies the chain's escalation action to an overdue request
func (e *Engine) EscalateApproval(ctx context.Context, approvalID int64) (*EscalationResult, error) {
	req, err := e.requests.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	var result *EscalationResult
	err = e.withChain(ctx, req.ChainID, func() (*entity.ApprovalChain, error) {
		res, closed, err := e.escalateLocked(ctx, approvalID)
		result = res
		return closed, err
	})
	if err != nil {
		return nil, err
	}
	e.publishEscalated(ctx, result)
	return result, nil
}

func (e *Engine) escalateLocked(ctx context.Context, approvalID int64) (*EscalationResult, *entity.ApprovalChain, error) {
	req, err := e.requests.GetByID(ctx, approvalID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkActionable(req); err != nil {
		return nil, nil, err
	}
	if e.maxEscalationLevel > 0 && req.EscalationLevel >= e.maxEscalationLevel {
		return nil, nil, fmt.Errorf("%w: approval request #%d reached escalation level %d", failure.ErrConflict, req.ID, req.EscalationLevel)
	}

	chain, err := e.chains.GetByID(ctx, req.ChainID)
	if err != nil {
		return nil, nil, err
	}
	def := chain.Level(req.Level)
	if def == nil {
		return nil, nil, failure.Validationf("approval chain #%d has no level %d", chain.ID, req.Level)
	}

	now := e.now().UTC()
	result := &EscalationResult{Request: req, Applied: chain.EscalationAction}
	if result.Applied == "" {
		result.Applied = entity.EscalationNotify
	}

	switch result.Applied {
	case entity.EscalationAssignToManager:
		manager, ok, err := e.resolveManager(ctx, req.ApproverID)
		if err != nil || !ok {
			if e.strictManager {
				if err != nil {
					return nil, nil, fmt.Errorf("failed to resolve manager of %s: %w", req.ApproverID, err)
				}
				return nil, nil, failure.Validationf("no manager found for approver %s", req.ApproverID)
			}
			e.logger.Warn("Manager not resolvable, escalating by notification",
				zap.Int64("approval_id", req.ID),
				zap.String("approver", req.ApproverID),
				zap.Error(err))
			result.Applied, result.FellBack = entity.EscalationNotify, true
			break
		}
		e.reassign(req, manager)

	case entity.EscalationAssignToAlternate:
		if def.AlternateApproverID == "" || def.AlternateApproverID == req.ApproverID {
			e.logger.Warn("No alternate approver, escalating by notification",
				zap.Int64("approval_id", req.ID),
				zap.Int("level", req.Level))
			result.Applied, result.FellBack = entity.EscalationNotify, true
			break
		}
		e.reassign(req, def.AlternateApproverID)

	case entity.EscalationAutoApprove:
		req.Status = entity.ApprovalStatusApproved
		req.DecidedBy = entity.ActorAutoApprove
		req.DecidedAt = &now
		req.Comments = "auto-approved after due date"
	}

	req.EscalationLevel++
	req.UpdatedAt = now
	if req.Status != entity.ApprovalStatusApproved {
		req.Status = entity.ApprovalStatusEscalated
		req.DueDate = now.Add(e.dueWindow(def))
	}
	if err := e.requests.Update(ctx, req); err != nil {
		return nil, nil, err
	}
	e.metrics.RecordEscalation(string(result.Applied))

	e.logger.Info("Approval escalated",
		zap.Int64("approval_id", req.ID),
		zap.Int64("chain_id", req.ChainID),
		zap.String("action", string(result.Applied)),
		zap.Int("escalation_level", req.EscalationLevel))

	if result.Applied == entity.EscalationAutoApprove {
		_, updated, closed, err := e.evaluateLevel(ctx, chain.ID, req.Level)
		if err != nil {
			return nil, nil, err
		}
		if closed {
			return result, updated, nil
		}
		return result, nil, nil
	}

	e.notifyApprover(ctx, req, port.MessageEscalation, "Overdue approval escalated")
	return result, nil, nil
}

func (e *Engine) resolveManager(ctx context.Context, userID string) (string, bool, error) {
	if e.directory == nil {
		return "", false, nil
	}
	manager, ok, err := e.directory.ResolveManager(ctx, userID)
	if err != nil || !ok || manager == "" || manager == userID {
		return "", false, err
	}
	return manager, true, nil
}

func (e *Engine) reassign(req *entity.ApprovalRequest, to string) {
	if req.OriginalApproverID == "" {
		req.OriginalApproverID = req.ApproverID
	}
	req.ApproverID = to
}

func (e *Engine) publishEscalated(ctx context.Context, result *EscalationResult) {
	if e.dispatcher == nil || result == nil {
		return
	}
	req := result.Request
	evt := event.NewEvent(event.TypeApprovalEscalated, req.ChainID, map[string]interface{}{
		"approval_id": req.ID,
		"chain_id":    req.ChainID,
		"process_id":  req.ProcessID,
		"action":      string(result.Applied),
		"status":      string(req.Status),
	})
	if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
		e.logger.Warn("approval.escalated handler failed", zap.Int64("approval_id", req.ID), zap.Error(err))
	}
}

// ProcessOverdue escalates every actionable request past its due date
func (e *Engine) ProcessOverdue(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	overdue, err := e.requests.ListOverdue(ctx, e.now().UTC())
	if err != nil {
		return report, err
	}

	for _, req := range overdue {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := e.EscalateApproval(ctx, req.ID); err != nil {
			if errors.Is(err, failure.ErrConflict) {
				report.Skipped++
				continue
			}
			report.Failed++
			e.logger.Error("Failed to escalate overdue approval", zap.Int64("approval_id", req.ID), zap.Error(err))
			continue
		}
		report.Processed++
	}

	if len(overdue) > 0 {
		e.logger.Info("Overdue approvals processed",
			zap.Int("escalated", report.Processed),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

// ExpireApprovals force-closes non-terminal requests older than maxAgeDays as Expired and
// re-evaluates their levels, so a level left with no approval closes its chain Rejected.
func (e *Engine) ExpireApprovals(ctx context.Context, maxAgeDays int) (SweepReport, error) {
	var report SweepReport
	if maxAgeDays < 0 {
		return report, failure.Validationf("max age must not be negative")
	}

	cutoff := e.now().UTC().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	stale, err := e.requests.ListNonTerminalCreatedBefore(ctx, cutoff)
	if err != nil {
		return report, err
	}

	byChain := make(map[int64][]int64)
	var order []int64
	for _, r := range stale {
		if _, ok := byChain[r.ChainID]; !ok {
			order = append(order, r.ChainID)
		}
		byChain[r.ChainID] = append(byChain[r.ChainID], r.ID)
	}

	for _, chainID := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ids := byChain[chainID]
		err := e.withChain(ctx, chainID, func() (*entity.ApprovalChain, error) {
			return e.expireLocked(ctx, chainID, ids, &report)
		})
		if err != nil {
			report.Failed++
			e.logger.Error("Failed to expire approvals", zap.Int64("chain_id", chainID), zap.Error(err))
		}
	}

	if len(stale) > 0 {
		e.logger.Info("Stale approvals expired",
			zap.Int("expired", report.Processed),
			zap.Int("chains_closed", report.ChainsClosed))
	}
	return report, nil
}

func (e *Engine) expireLocked(ctx context.Context, chainID int64, ids []int64, report *SweepReport) (*entity.ApprovalChain, error) {
	now := e.now().UTC()
	levels := map[int]bool{}
	for _, id := range ids {
		req, err := e.requests.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if req.Status.IsTerminal() {
			report.Skipped++
			continue
		}
		req.Status = entity.ApprovalStatusExpired
		req.DecidedBy = entity.ActorExpiration
		req.DecidedAt = &now
		req.UpdatedAt = now
		if err := e.requests.Update(ctx, req); err != nil {
			return nil, err
		}
		levels[req.Level] = true
		report.Processed++
	}

	chain, err := e.chains.GetByID(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if !levels[chain.CurrentLevel] {
		return nil, nil
	}
	_, updated, closed, err := e.evaluateLevel(ctx, chainID, chain.CurrentLevel)
	if err != nil {
		return nil, err
	}
	if closed {
		report.ChainsClosed++
		return updated, nil
	}
	return nil, nil
}
