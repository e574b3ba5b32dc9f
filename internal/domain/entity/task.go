package entity

import "time"

// TaskStatus is the state of a task assignment
type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "NOT_STARTED"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusSkipped    TaskStatus = "SKIPPED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// TaskAssignment is one unit of work inside a process. Tasks are soft-deleted only.
type TaskAssignment struct {
	ID                 int64      `json:"id"`
	ProcessID          int64      `json:"process_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	AssigneeID         string     `json:"assignee_id,omitempty"`
	DependsOnTaskID    *int64     `json:"depends_on_task_id"`
	Status             TaskStatus `json:"status"`
	IsBlocked          bool       `json:"is_blocked"`
	BlockedReason      string     `json:"blocked_reason"`
	WorkflowInstanceID *int64     `json:"workflow_instance_id"`
	WorkflowStepID     string     `json:"workflow_step_id,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	Deleted            bool       `json:"deleted"`
	CompletedBy        string     `json:"completed_by,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsDone reports whether the task will receive no further work
func (t *TaskAssignment) IsDone() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusSkipped
}
