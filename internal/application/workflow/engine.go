// Package workflow executes workflow instances step by step and suspends them while
// they wait on tasks, approvals or input.
package workflow

import (
	"context"
	"time"

	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
)

// WorkflowEngine drives workflow instances through their definition
type WorkflowEngine interface {
	// Start persists the definition when new, creates the instance and moves it to Running
	Start(ctx context.Context, def *entity.WorkflowDefinition, in StartInput) (int64, error)

	// ExecuteStep runs the current step of a Running instance
	ExecuteStep(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error)

	// Run executes steps while the instance stays Running, up to the step limit
	Run(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error)

	// CompleteWaitingStep records the result of a waiting step and advances the instance.
	// It returns false without error when the step is already past its wait.
	CompleteWaitingStep(ctx context.Context, instanceID int64, stepID string, payload map[string]interface{}) (bool, error)

	Pause(ctx context.Context, instanceID int64, actorID, reason string) (*entity.WorkflowInstance, error)
	Resume(ctx context.Context, instanceID int64, actorID string) (*entity.WorkflowInstance, error)
	Cancel(ctx context.Context, instanceID int64, actorID, reason string) (*entity.WorkflowInstance, error)

	GetInstance(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error)
	GetDefinition(ctx context.Context, definitionID int64) (*entity.WorkflowDefinition, error)
	GetStepStatus(ctx context.Context, instanceID int64, stepID string) (*entity.WorkflowStepStatus, error)
	ListStepStatuses(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepStatus, error)
	ListHistory(ctx context.Context, instanceID int64) ([]*entity.WorkflowHistory, error)

	// ListInstances returns up to limit instances in the given statuses, oldest first
	ListInstances(ctx context.Context, statuses []entity.WorkflowStatus, limit int) ([]*entity.WorkflowInstance, error)
}

// StartInput binds a definition to a process
type StartInput struct {
	ProcessID int64                  `json:"process_id" validate:"required,gt=0"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	ActorID   string                 `json:"actor_id,omitempty"`
}

// NextAction tells the engine what to do after a step handler returns
type NextAction string

const (
	NextContinue NextAction = "continue"
	NextWait     NextAction = "wait"
	NextFail     NextAction = "fail"
)

// StepResult is the uniform outcome of every step handler
type StepResult struct {
	Success         bool                   `json:"success"`
	NextAction      NextAction             `json:"next_action"`
	WaitForItemType entity.WaitItemType    `json:"wait_for_item_type,omitempty"`
	WaitForItemIDs  []int64                `json:"wait_for_item_ids,omitempty"`
	WaitMode        entity.WaitMode        `json:"wait_mode,omitempty"`
	ResumeAt        *time.Time             `json:"resume_at,omitempty"`
	Prompt          string                 `json:"prompt,omitempty"`
	OutputVariables map[string]interface{} `json:"output_variables,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// Continue builds a successful result that moves on to the next step
func Continue(outputs map[string]interface{}) *StepResult {
	return &StepResult{Success: true, NextAction: NextContinue, OutputVariables: outputs}
}

// Wait builds a successful result that suspends the instance
func Wait(itemType entity.WaitItemType, ids []int64, mode entity.WaitMode) *StepResult {
	if mode == "" {
		mode = entity.WaitModeAll
	}
	return &StepResult{
		Success:         true,
		NextAction:      NextWait,
		WaitForItemType: itemType,
		WaitForItemIDs:  ids,
		WaitMode:        mode,
	}
}

// Fail builds a failed result
func Fail(msg string) *StepResult {
	return &StepResult{NextAction: NextFail, Error: msg}
}
