package port

import (
	"context"

	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
)

// Notification is a plain text message to one user
type Notification struct {
	RecipientID string
	Title       string
	Message     string
	Priority    entity.Priority
	LinkURL     string
}

// MessageKind selects the card layout of a rich message
type MessageKind string

const (
	MessageApprovalRequest MessageKind = "approval_request"
	MessageEscalation      MessageKind = "escalation"
	MessageTaskAssigned    MessageKind = "task_assigned"
	MessageGeneric         MessageKind = "generic"
)

// RichField is one labelled line of a rich message
type RichField struct {
	Label string
	Value string
}

// RichMessage is a structured card message to one user
type RichMessage struct {
	RecipientID string
	Kind        MessageKind
	Title       string
	Fields      []RichField
	LinkURL     string
}

// Notifier delivers notifications. Callers treat failures as non-fatal.
type Notifier interface {
	SendNotification(ctx context.Context, n Notification) error
	SendRichMessage(ctx context.Context, m RichMessage) error
}

// Directory resolves organisational relationships
type Directory interface {
	// ResolveManager returns the manager of userID, or false when none is known
	ResolveManager(ctx context.Context, userID string) (string, bool, error)
}
