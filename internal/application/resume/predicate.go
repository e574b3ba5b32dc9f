package resume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/hr-orchestrator/internal/application/workflow"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
)

// WaitStatus describes what an instance is waiting on and whether it may resume now
type WaitStatus struct {
	InstanceID     int64                 `json:"instance_id"`
	Status         entity.WorkflowStatus `json:"status"`
	StepID         string                `json:"step_id,omitempty"`
	Waiting        bool                  `json:"waiting"`
	Wait           *entity.WaitCriteria  `json:"wait,omitempty"`
	CanResume      bool                  `json:"can_resume"`
	Reason         string                `json:"reason"`
	DoneItemIDs    []int64               `json:"done_item_ids,omitempty"`
	PendingItemIDs []int64               `json:"pending_item_ids,omitempty"`
	WaitingFor     time.Duration         `json:"waiting_for,omitempty"`
}

// evaluation is the outcome of one wait predicate
type evaluation struct {
	ready   bool
	reason  string
	done    []int64
	pending []int64
	payload map[string]interface{}
}

func (c *Coordinator) evaluate(ctx context.Context, inst *entity.WorkflowInstance, wait *entity.WaitCriteria) (*evaluation, error) {
	switch wait.ItemType {
	case entity.WaitItemTask:
		return c.evaluateTasks(ctx, wait)
	case entity.WaitItemApproval:
		return c.evaluateApproval(ctx, inst, wait)
	case entity.WaitItemInput:
		return c.evaluateInput(wait), nil
	}
	return nil, fmt.Errorf("%w: unknown wait item type %q", failure.ErrWorkflowLogic, wait.ItemType)
}

// evaluateTasks counts Completed and Skipped tasks as done. Missing or deleted tasks stay pending.
func (c *Coordinator) evaluateTasks(ctx context.Context, wait *entity.WaitCriteria) (*evaluation, error) {
	ev := &evaluation{}
	for _, id := range wait.ItemIDs {
		task, err := c.tasks.GetByID(ctx, id)
		if errors.Is(err, failure.ErrNotFound) {
			ev.pending = append(ev.pending, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if task.IsDone() && !task.Deleted {
			ev.done = append(ev.done, id)
		} else {
			ev.pending = append(ev.pending, id)
		}
	}

	switch {
	case len(wait.ItemIDs) == 0:
		ev.ready = true
		ev.reason = "no tasks to wait for"
	case wait.Mode == entity.WaitModeAny:
		ev.ready = len(ev.done) > 0
		ev.reason = fmt.Sprintf("%d of %d tasks done, any one required", len(ev.done), len(wait.ItemIDs))
	default:
		ev.ready = len(ev.pending) == 0
		ev.reason = fmt.Sprintf("%d of %d tasks done, all required", len(ev.done), len(wait.ItemIDs))
	}
	if ev.ready {
		ev.payload = map[string]interface{}{workflow.VarCompletedTaskIDs: ev.done}
	}
	return ev, nil
}

// evaluateApproval resumes once the chain linked to the step closed Approved, meaning every
// level approved
func (c *Coordinator) evaluateApproval(ctx context.Context, inst *entity.WorkflowInstance, wait *entity.WaitCriteria) (*evaluation, error) {
	var chain *entity.ApprovalChain
	var err error
	if len(wait.ItemIDs) > 0 {
		chain, err = c.chains.GetByID(ctx, wait.ItemIDs[0])
	} else {
		chain, err = c.chains.FindLatestByWorkflowStep(ctx, inst.ID, inst.CurrentStepID)
	}
	if errors.Is(err, failure.ErrNotFound) {
		return &evaluation{reason: "no approval chain linked to the step"}, nil
	}
	if err != nil {
		return nil, err
	}

	ev := &evaluation{}
	switch chain.OverallStatus {
	case entity.ApprovalStatusApproved:
		ev.ready = true
		ev.done = []int64{chain.ID}
		ev.reason = fmt.Sprintf("approval chain #%d approved", chain.ID)
		ev.payload = map[string]interface{}{
			workflow.VarApprovalChainID: chain.ID,
			"approval_status":           string(chain.OverallStatus),
		}
	case entity.ApprovalStatusRejected, entity.ApprovalStatusExpired, entity.ApprovalStatusCancelled:
		ev.pending = []int64{chain.ID}
		ev.reason = fmt.Sprintf("approval chain #%d closed %s", chain.ID, chain.OverallStatus)
	default:
		ev.pending = []int64{chain.ID}
		ev.reason = fmt.Sprintf("approval chain #%d at level %d of %d", chain.ID, chain.CurrentLevel, len(chain.Levels))
	}
	return ev, nil
}

// evaluateInput only resumes input waits whose deadline passed; supplied input goes through
// CompleteWaitingStep directly
func (c *Coordinator) evaluateInput(wait *entity.WaitCriteria) *evaluation {
	if wait.ResumeAt == nil {
		return &evaluation{reason: "waiting for input"}
	}
	if c.now().Before(*wait.ResumeAt) {
		return &evaluation{reason: fmt.Sprintf("waiting for input until %s", wait.ResumeAt.Format(time.RFC3339))}
	}
	return &evaluation{
		ready:   true,
		reason:  "input deadline elapsed",
		payload: map[string]interface{}{"input_timed_out": true},
	}
}

// GetWorkflowWaitStatus reports the wait of an instance without changing anything
func (c *Coordinator) GetWorkflowWaitStatus(ctx context.Context, instanceID int64) (*WaitStatus, error) {
	inst, err := c.workflows.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	ws := &WaitStatus{InstanceID: inst.ID, Status: inst.Status, StepID: inst.CurrentStepID}
	if !inst.Status.IsWaiting() {
		ws.Reason = fmt.Sprintf("instance is %s", inst.Status)
		return ws, nil
	}

	step, err := c.workflows.GetStepStatus(ctx, inst.ID, inst.CurrentStepID)
	if err != nil {
		return nil, err
	}
	if step.Status != entity.StepStatusWaiting || step.Wait == nil {
		ws.Reason = fmt.Sprintf("step %s is %s without wait criteria", step.StepID, step.Status)
		return ws, nil
	}

	ws.Waiting = true
	ws.Wait = step.Wait
	if !step.Wait.Since.IsZero() {
		ws.WaitingFor = c.now().Sub(step.Wait.Since)
	}

	ev, err := c.evaluate(ctx, inst, step.Wait)
	if err != nil {
		return nil, err
	}
	ws.CanResume = ev.ready
	ws.Reason = ev.reason
	ws.DoneItemIDs = ev.done
	ws.PendingItemIDs = ev.pending
	return ws, nil
}
