package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ProcessType is the kind of HR lifecycle process
type ProcessType string

const (
	ProcessTypeOnboarding  ProcessType = "ONBOARDING"
	ProcessTypeTransfer    ProcessType = "TRANSFER"
	ProcessTypeOffboarding ProcessType = "OFFBOARDING"
)

// ProcessStatus is the user-facing status of a process
type ProcessStatus string

const (
	ProcessStatusPending         ProcessStatus = "PENDING"
	ProcessStatusInProgress      ProcessStatus = "IN_PROGRESS"
	ProcessStatusPendingApproval ProcessStatus = "PENDING_APPROVAL"
	ProcessStatusOnHold          ProcessStatus = "ON_HOLD"
	ProcessStatusCompleted       ProcessStatus = "COMPLETED"
	ProcessStatusCancelled       ProcessStatus = "CANCELLED"
)

var validProcessStatuses = map[ProcessStatus]bool{
	ProcessStatusPending:         true,
	ProcessStatusInProgress:      true,
	ProcessStatusPendingApproval: true,
	ProcessStatusOnHold:          true,
	ProcessStatusCompleted:       true,
	ProcessStatusCancelled:       true,
}

// IsValid returns true for a known process status
func (s ProcessStatus) IsValid() bool {
	return validProcessStatuses[s]
}

// IsFinal returns true once a process is closed to status syncs
func (s ProcessStatus) IsFinal() bool {
	return s == ProcessStatusCompleted || s == ProcessStatusCancelled
}

func (s ProcessStatus) String() string {
	return string(s)
}

// Process is an onboarding, transfer or offboarding case
type Process struct {
	ID           int64                  `json:"id"`
	Title        string                 `json:"title" validate:"required"`
	Type         ProcessType            `json:"type" validate:"required,oneof=ONBOARDING TRANSFER OFFBOARDING"`
	Status       ProcessStatus          `json:"status"`
	StatusReason string                 `json:"status_reason,omitempty"`
	Employee     Reference              `json:"employee"`
	Department   Reference              `json:"department"`
	Context      map[string]interface{} `json:"context,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

type referenceKind uint8

const (
	referenceNone referenceKind = iota
	referenceUnresolved
	referenceResolved
)

// Reference is a foreign key that is either a bare id or an id expanded with its title
type Reference struct {
	kind  referenceKind
	id    int64
	title string
}

// Unresolved builds a bare-id reference
func Unresolved(id int64) Reference {
	return Reference{kind: referenceUnresolved, id: id}
}

// Resolved builds an expanded reference
func Resolved(id int64, title string) Reference {
	return Reference{kind: referenceResolved, id: id, title: title}
}

// RefID extracts the referenced id from either form
func (r Reference) RefID() int64 {
	return r.id
}

// Title returns the title of a resolved reference
func (r Reference) Title() (string, bool) {
	return r.title, r.kind == referenceResolved
}

// IsZero reports whether the reference is unset
func (r Reference) IsZero() bool {
	return r.kind == referenceNone
}

type resolvedReference struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// MarshalJSON writes a bare number for unresolved references and an object otherwise
func (r Reference) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case referenceUnresolved:
		return json.Marshal(r.id)
	case referenceResolved:
		return json.Marshal(resolvedReference{ID: r.id, Title: r.title})
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts null, a bare id, or an {id, title} object
func (r *Reference) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*r = Reference{}
		return nil
	case data[0] == '{':
		var rr resolvedReference
		if err := json.Unmarshal(data, &rr); err != nil {
			return fmt.Errorf("invalid reference object: %w", err)
		}
		*r = Resolved(rr.ID, rr.Title)
		return nil
	}

	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("invalid reference id: %w", err)
	}
	*r = Unresolved(id)
	return nil
}
