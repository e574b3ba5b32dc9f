package entity

import "time"

// WorkflowStatus is the lifecycle state of a workflow instance
type WorkflowStatus string

const (
	WorkflowStatusPending            WorkflowStatus = "PENDING"
	WorkflowStatusRunning            WorkflowStatus = "RUNNING"
	WorkflowStatusWaitingForTask     WorkflowStatus = "WAITING_FOR_TASK"
	WorkflowStatusWaitingForApproval WorkflowStatus = "WAITING_FOR_APPROVAL"
	WorkflowStatusWaitingForInput    WorkflowStatus = "WAITING_FOR_INPUT"
	WorkflowStatusPaused             WorkflowStatus = "PAUSED"
	WorkflowStatusCompleted          WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed             WorkflowStatus = "FAILED"
	WorkflowStatusCancelled          WorkflowStatus = "CANCELLED"
)

var terminalWorkflowStatuses = map[WorkflowStatus]bool{
	WorkflowStatusCompleted: true,
	WorkflowStatusFailed:    true,
	WorkflowStatusCancelled: true,
}

var waitingWorkflowStatuses = map[WorkflowStatus]bool{
	WorkflowStatusWaitingForTask:     true,
	WorkflowStatusWaitingForApproval: true,
	WorkflowStatusWaitingForInput:    true,
}

// WaitingStatuses lists every Waiting* status
func WaitingStatuses() []WorkflowStatus {
	return []WorkflowStatus{
		WorkflowStatusWaitingForTask,
		WorkflowStatusWaitingForApproval,
		WorkflowStatusWaitingForInput,
	}
}

// IsTerminal returns true for Completed, Failed and Cancelled
func (s WorkflowStatus) IsTerminal() bool {
	return terminalWorkflowStatuses[s]
}

// IsWaiting returns true for the Waiting* statuses
func (s WorkflowStatus) IsWaiting() bool {
	return waitingWorkflowStatuses[s]
}

func (s WorkflowStatus) String() string {
	return string(s)
}

// WaitItemType names what a waiting step is waiting on
type WaitItemType string

const (
	WaitItemTask     WaitItemType = "TASK"
	WaitItemApproval WaitItemType = "APPROVAL"
	WaitItemInput    WaitItemType = "INPUT"
)

// WaitingStatus returns the instance status matching a wait on this item type
func (t WaitItemType) WaitingStatus() (WorkflowStatus, bool) {
	switch t {
	case WaitItemTask:
		return WorkflowStatusWaitingForTask, true
	case WaitItemApproval:
		return WorkflowStatusWaitingForApproval, true
	case WaitItemInput:
		return WorkflowStatusWaitingForInput, true
	}
	return "", false
}

// WaitMode decides whether all or any awaited items must be done
type WaitMode string

const (
	WaitModeAll WaitMode = "ALL"
	WaitModeAny WaitMode = "ANY"
)

// WorkflowInstance is one running execution of a workflow definition
type WorkflowInstance struct {
	ID               int64                  `json:"id"`
	DefinitionID     int64                  `json:"definition_id"`
	ProcessID        int64                  `json:"process_id"`
	Status           WorkflowStatus         `json:"status"`
	PausedFromStatus WorkflowStatus         `json:"paused_from_status,omitempty"`
	CurrentStepID    string                 `json:"current_step_id"`
	Context          map[string]interface{} `json:"context,omitempty"`
	Variables        map[string]interface{} `json:"variables"`
	Error            string                 `json:"error,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}

// StepStatus is the state of one step within an instance
type StepStatus string

const (
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusWaiting   StepStatus = "WAITING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// WaitCriteria is persisted on a waiting step and re-evaluated by the resume paths
type WaitCriteria struct {
	ItemType WaitItemType `json:"item_type"`
	ItemIDs  []int64      `json:"item_ids,omitempty"`
	Mode     WaitMode     `json:"mode"`
	Since    time.Time    `json:"since"`
	ResumeAt *time.Time   `json:"resume_at,omitempty"`
	Prompt   string       `json:"prompt,omitempty"`
}

// StepLogEntry is one line of a step's append-only log
type StepLogEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// WorkflowStepStatus records the outcome of an executed or waiting step
type WorkflowStepStatus struct {
	ID          int64                  `json:"id"`
	InstanceID  int64                  `json:"instance_id"`
	StepID      string                 `json:"step_id"`
	StepType    StepType               `json:"step_type"`
	Status      StepStatus             `json:"status"`
	Attempt     int                    `json:"attempt"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Wait        *WaitCriteria          `json:"wait,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Log         []StepLogEntry         `json:"log"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Append adds a log line
func (s *WorkflowStepStatus) Append(at time.Time, level, message string) {
	s.Log = append(s.Log, StepLogEntry{At: at, Level: level, Message: message})
}
