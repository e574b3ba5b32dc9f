package entity

import "time"

// ApprovalType decides how the requests of one level combine
type ApprovalType string

const (
	ApprovalTypeSequential    ApprovalType = "SEQUENTIAL"
	ApprovalTypeParallel      ApprovalType = "PARALLEL"
	ApprovalTypeFirstApprover ApprovalType = "FIRST_APPROVER"
)

// ApprovalStatus is shared by requests and chains
type ApprovalStatus string

const (
	ApprovalStatusQueued    ApprovalStatus = "QUEUED"
	ApprovalStatusPending   ApprovalStatus = "PENDING"
	ApprovalStatusDelegated ApprovalStatus = "DELEGATED"
	ApprovalStatusEscalated ApprovalStatus = "ESCALATED"
	ApprovalStatusApproved  ApprovalStatus = "APPROVED"
	ApprovalStatusRejected  ApprovalStatus = "REJECTED"
	ApprovalStatusExpired   ApprovalStatus = "EXPIRED"
	ApprovalStatusCancelled ApprovalStatus = "CANCELLED"
)

var terminalApprovalStatuses = map[ApprovalStatus]bool{
	ApprovalStatusApproved:  true,
	ApprovalStatusRejected:  true,
	ApprovalStatusExpired:   true,
	ApprovalStatusCancelled: true,
}

var actionableApprovalStatuses = map[ApprovalStatus]bool{
	ApprovalStatusPending:   true,
	ApprovalStatusDelegated: true,
	ApprovalStatusEscalated: true,
}

// IsTerminal returns true once a request or chain can no longer change
func (s ApprovalStatus) IsTerminal() bool {
	return terminalApprovalStatuses[s]
}

// IsActionable returns true when an approver is expected to respond
func (s ApprovalStatus) IsActionable() bool {
	return actionableApprovalStatuses[s]
}

func (s ApprovalStatus) String() string {
	return string(s)
}

// NonTerminalApprovalStatuses lists the statuses that still await an outcome
func NonTerminalApprovalStatuses() []ApprovalStatus {
	return []ApprovalStatus{
		ApprovalStatusQueued,
		ApprovalStatusPending,
		ApprovalStatusDelegated,
		ApprovalStatusEscalated,
	}
}

// ActionableApprovalStatuses lists the statuses an approver can act on
func ActionableApprovalStatuses() []ApprovalStatus {
	return []ApprovalStatus{
		ApprovalStatusPending,
		ApprovalStatusDelegated,
		ApprovalStatusEscalated,
	}
}

// Decision is an approver's response
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// EscalationAction is applied to overdue requests of a chain
type EscalationAction string

const (
	EscalationNotify            EscalationAction = "NOTIFY"
	EscalationAssignToManager   EscalationAction = "ASSIGN_TO_MANAGER"
	EscalationAssignToAlternate EscalationAction = "ASSIGN_TO_ALTERNATE"
	EscalationAutoApprove       EscalationAction = "AUTO_APPROVE"
)

// ApprovalLevel is one stage of a chain
type ApprovalLevel struct {
	ApprovalType        ApprovalType `json:"approval_type" validate:"required,oneof=SEQUENTIAL PARALLEL FIRST_APPROVER"`
	ApproverIDs         []string     `json:"approver_ids" validate:"required,min=1,dive,required"`
	DueDays             int          `json:"due_days" validate:"gte=0"`
	AlternateApproverID string       `json:"alternate_approver_id,omitempty"`
}

// ApprovalChain gates a process behind ordered levels. CurrentLevel is 1-based.
type ApprovalChain struct {
	ID                 int64            `json:"id"`
	ProcessID          int64            `json:"process_id"`
	Levels             []ApprovalLevel  `json:"levels"`
	CurrentLevel       int              `json:"current_level"`
	OverallStatus      ApprovalStatus   `json:"overall_status"`
	IsActive           bool             `json:"is_active"`
	EscalationAction   EscalationAction `json:"escalation_action"`
	WorkflowInstanceID *int64           `json:"workflow_instance_id"`
	WorkflowStepID     string           `json:"workflow_step_id,omitempty"`
	RequestedBy        string           `json:"requested_by,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
}

// Level returns the 1-based level definition, or nil
func (c *ApprovalChain) Level(n int) *ApprovalLevel {
	if n < 1 || n > len(c.Levels) {
		return nil
	}
	return &c.Levels[n-1]
}

// ApprovalRequest asks one approver for a decision
type ApprovalRequest struct {
	ID                 int64          `json:"id"`
	ChainID            int64          `json:"chain_id"`
	ProcessID          int64          `json:"process_id"`
	Level              int            `json:"level"`
	Sequence           int            `json:"sequence"`
	ApproverID         string         `json:"approver_id"`
	OriginalApproverID string         `json:"original_approver_id,omitempty"`
	Status             ApprovalStatus `json:"status"`
	DueDate            time.Time      `json:"due_date"`
	EscalationLevel    int            `json:"escalation_level"`
	Comments           string         `json:"comments,omitempty"`
	DecidedBy          string         `json:"decided_by,omitempty"`
	DecidedAt          *time.Time     `json:"decided_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// DelegationRule routes a delegator's new requests to a delegate during a window
type DelegationRule struct {
	ID          int64     `json:"id"`
	DelegatorID string    `json:"delegator_id" validate:"required"`
	DelegateID  string    `json:"delegate_id" validate:"required,nefield=DelegatorID"`
	StartAt     time.Time `json:"start_at" validate:"required"`
	EndAt       time.Time `json:"end_at" validate:"required,gtfield=StartAt"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Covers reports whether the rule is active at t
func (r *DelegationRule) Covers(t time.Time) bool {
	return !t.Before(r.StartAt) && !t.After(r.EndAt)
}
