package statussync

import "github.com/garyjia/hr-orchestrator/internal/domain/entity"

// WorkflowAction is what a process status change asks of its workflow instances
type WorkflowAction string

const (
	ActionNone   WorkflowAction = ""
	ActionPause  WorkflowAction = "pause"
	ActionCancel WorkflowAction = "cancel"
	ActionResume WorkflowAction = "resume"
)

var workflowToProcess = map[entity.WorkflowStatus]entity.ProcessStatus{
	entity.WorkflowStatusPending:            entity.ProcessStatusPending,
	entity.WorkflowStatusRunning:            entity.ProcessStatusInProgress,
	entity.WorkflowStatusWaitingForTask:     entity.ProcessStatusInProgress,
	entity.WorkflowStatusWaitingForApproval: entity.ProcessStatusInProgress,
	entity.WorkflowStatusWaitingForInput:    entity.ProcessStatusInProgress,
	entity.WorkflowStatusPaused:             entity.ProcessStatusOnHold,
	entity.WorkflowStatusCompleted:          entity.ProcessStatusCompleted,
	entity.WorkflowStatusFailed:             entity.ProcessStatusCancelled,
	entity.WorkflowStatusCancelled:          entity.ProcessStatusCancelled,
}

var approvalToProcess = map[entity.ApprovalStatus]entity.ProcessStatus{
	entity.ApprovalStatusApproved:  entity.ProcessStatusInProgress,
	entity.ApprovalStatusRejected:  entity.ProcessStatusOnHold,
	entity.ApprovalStatusEscalated: entity.ProcessStatusPendingApproval,
	entity.ApprovalStatusCancelled: entity.ProcessStatusCancelled,
	entity.ApprovalStatusExpired:   entity.ProcessStatusOnHold,
}

var processToWorkflow = map[entity.ProcessStatus]WorkflowAction{
	entity.ProcessStatusOnHold:     ActionPause,
	entity.ProcessStatusCancelled:  ActionCancel,
	entity.ProcessStatusInProgress: ActionResume,
}

// ProcessStatusForWorkflow maps an instance status onto its process
func ProcessStatusForWorkflow(s entity.WorkflowStatus) (entity.ProcessStatus, bool) {
	p, ok := workflowToProcess[s]
	return p, ok
}

// ProcessStatusForApproval maps a chain or request outcome onto its process
func ProcessStatusForApproval(s entity.ApprovalStatus) (entity.ProcessStatus, bool) {
	p, ok := approvalToProcess[s]
	return p, ok
}

// ActionForProcessStatus returns the action a process status asks of an instance in
// status current. Resume only applies to paused instances, and instances already in the
// requested state need nothing.
func ActionForProcessStatus(process entity.ProcessStatus, current entity.WorkflowStatus) WorkflowAction {
	if current.IsTerminal() {
		return ActionNone
	}
	action := processToWorkflow[process]
	switch action {
	case ActionPause:
		if current == entity.WorkflowStatusPaused || current == entity.WorkflowStatusPending {
			return ActionNone
		}
	case ActionResume:
		if current != entity.WorkflowStatusPaused {
			return ActionNone
		}
	}
	return action
}
