package entity

import "time"

// WorkflowHistory is the audit trail of workflow status transitions
type WorkflowHistory struct {
	ID             int64          `json:"id"`
	InstanceID     int64          `json:"instance_id"`
	StepID         string         `json:"step_id,omitempty"`
	PreviousStatus WorkflowStatus `json:"previous_status"`
	NewStatus      WorkflowStatus `json:"new_status"`
	Trigger        string         `json:"trigger"`
	Actor          string         `json:"actor"`
	Reason         string         `json:"reason,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}
