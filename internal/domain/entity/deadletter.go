package entity

import "time"

// DeadLetterStatus is the lifecycle of a dead-lettered operation
type DeadLetterStatus string

const (
	DeadLetterStatusPending    DeadLetterStatus = "PENDING"
	DeadLetterStatusProcessing DeadLetterStatus = "PROCESSING"
	DeadLetterStatusResolved   DeadLetterStatus = "RESOLVED"
	DeadLetterStatusAbandoned  DeadLetterStatus = "ABANDONED"
)

// IsTerminal returns true for Resolved and Abandoned
func (s DeadLetterStatus) IsTerminal() bool {
	return s == DeadLetterStatusResolved || s == DeadLetterStatusAbandoned
}

// DeadLetterItem is an operation that exhausted its retries
type DeadLetterItem struct {
	ID             int64                  `json:"id"`
	OperationType  string                 `json:"operation_type"`
	Payload        map[string]interface{} `json:"payload"`
	Error          string                 `json:"error"`
	Attempts       int                    `json:"attempts"`
	CorrelationTag string                 `json:"correlation_tag"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Status         DeadLetterStatus       `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	LastAttemptAt  time.Time              `json:"last_attempt_at"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy     string                 `json:"resolved_by,omitempty"`
}
