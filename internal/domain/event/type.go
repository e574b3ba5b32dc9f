package event

// Type represents the type of domain event
type Type string

const (
	TypeWorkflowStatusChanged Type = "workflow.status_changed"
	TypeWorkflowStepCompleted Type = "workflow.step_completed"
	TypeTaskCompleted         Type = "task.completed"
	TypeTaskSkipped           Type = "task.skipped"
	TypeTaskUnblocked         Type = "task.unblocked"
	TypeApprovalChainClosed   Type = "approval.chain_closed"
	TypeApprovalEscalated     Type = "approval.escalated"
	TypeProcessStatusChanged  Type = "process.status_changed"
)

var validTypes = map[Type]bool{
	TypeWorkflowStatusChanged: true,
	TypeWorkflowStepCompleted: true,
	TypeTaskCompleted:         true,
	TypeTaskSkipped:           true,
	TypeTaskUnblocked:         true,
	TypeApprovalChainClosed:   true,
	TypeApprovalEscalated:     true,
	TypeProcessStatusChanged:  true,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the event type is known
func (t Type) IsValid() bool {
	return validTypes[t]
}
