package entity

import (
	"time"

	"github.com/garyjia/hr-orchestrator/internal/domain/expression"
)

// StepType is the closed set of step kinds a definition may use
type StepType string

const (
	StepTypeCreateTask   StepType = "CREATE_TASK"
	StepTypeAssignTasks  StepType = "ASSIGN_TASKS"
	StepTypeWaitForTasks StepType = "WAIT_FOR_TASKS"
	StepTypeApproval     StepType = "APPROVAL"
	StepTypeNotification StepType = "NOTIFICATION"
	StepTypeAction       StepType = "ACTION"
	StepTypeSetVariable  StepType = "SET_VARIABLE"
	StepTypeWait         StepType = "WAIT"
)

var validStepTypes = map[StepType]bool{
	StepTypeCreateTask:   true,
	StepTypeAssignTasks:  true,
	StepTypeWaitForTasks: true,
	StepTypeApproval:     true,
	StepTypeNotification: true,
	StepTypeAction:       true,
	StepTypeSetVariable:  true,
	StepTypeWait:         true,
}

// IsValid returns true if the step type belongs to the closed enumeration
func (t StepType) IsValid() bool {
	return validStepTypes[t]
}

func (t StepType) String() string {
	return string(t)
}

// WorkflowDefinition is an ordered list of steps
type WorkflowDefinition struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name" validate:"required"`
	Version   int              `json:"version"`
	Steps     []StepDefinition `json:"steps" validate:"required,min=1,dive"`
	CreatedAt time.Time        `json:"created_at"`
}

// StepDefinition configures one step. When guards the step itself (a false guard skips it),
// Branches pick the following step, and Next overrides the sequential successor.
type StepDefinition struct {
	ID       string                `json:"id" validate:"required"`
	Name     string                `json:"name,omitempty"`
	Type     StepType              `json:"type" validate:"required"`
	Next     string                `json:"next,omitempty"`
	When     *expression.Condition `json:"when,omitempty"`
	Branches []Branch              `json:"branches,omitempty" validate:"omitempty,dive"`
	Config   StepConfig            `json:"config"`
}

// Branch routes to Goto when its condition holds
type Branch struct {
	When expression.Condition `json:"when"`
	Goto string               `json:"goto" validate:"required"`
}

// StepConfig holds the handler-specific settings; only the block matching the step type is read
type StepConfig struct {
	Tasks        []TaskTemplate           `json:"tasks,omitempty" validate:"omitempty,dive"`
	TaskIDs      expression.Operand       `json:"task_ids,omitempty"`
	AssigneeID   expression.Operand       `json:"assignee_id,omitempty"`
	WaitMode     WaitMode                 `json:"wait_mode,omitempty" validate:"omitempty,oneof=ALL ANY"`
	Approval     *ApprovalConfig          `json:"approval,omitempty"`
	Notification *NotificationConfig      `json:"notification,omitempty"`
	Action       *ActionConfig            `json:"action,omitempty"`
	Assignments  []expression.FieldUpdate `json:"assignments,omitempty" validate:"omitempty,dive"`
	Wait         *WaitConfig              `json:"wait,omitempty"`
	OutputKey    string                   `json:"output_key,omitempty"`
}

// TaskTemplate describes a task created by a CreateTask step. DependsOn is the index of an
// earlier template in the same step.
type TaskTemplate struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	DependsOn   *int   `json:"depends_on,omitempty" validate:"omitempty,gte=0"`
	DueDays     int    `json:"due_days,omitempty" validate:"gte=0"`
}

// ApprovalConfig starts an approval chain
type ApprovalConfig struct {
	Levels           []ApprovalLevel  `json:"levels" validate:"required,min=1,dive"`
	EscalationAction EscalationAction `json:"escalation_action,omitempty"`
}

// NotificationConfig sends one notification. Title and Message accept {{path}} placeholders.
type NotificationConfig struct {
	Recipient expression.Operand `json:"recipient"`
	Title     string             `json:"title" validate:"required"`
	Message   string             `json:"message"`
	Priority  Priority           `json:"priority,omitempty"`
	LinkURL   string             `json:"link_url,omitempty"`
	Rich      bool               `json:"rich,omitempty"`
}

// ActionConfig applies field updates to a record
type ActionConfig struct {
	Collection string                   `json:"collection" validate:"required"`
	RecordID   expression.Operand       `json:"record_id"`
	Updates    []expression.FieldUpdate `json:"updates" validate:"required,min=1,dive"`
}

// WaitConfig suspends the instance for input, optionally until a deadline
type WaitConfig struct {
	Prompt          string `json:"prompt,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty" validate:"gte=0"`
}

// Priority is a notification priority
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Step returns the step with the given id, or nil
func (d *WorkflowDefinition) Step(id string) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// FirstStepID returns the id of the first step
func (d *WorkflowDefinition) FirstStepID() string {
	if len(d.Steps) == 0 {
		return ""
	}
	return d.Steps[0].ID
}

// SequentialNext returns the id of the step declared after id, or "" when id is last
func (d *WorkflowDefinition) SequentialNext(id string) string {
	for i := range d.Steps {
		if d.Steps[i].ID == id && i+1 < len(d.Steps) {
			return d.Steps[i+1].ID
		}
	}
	return ""
}
