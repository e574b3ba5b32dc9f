package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
)

// messageSender is the IM call the messenger needs from the SDK client
type messageSender interface {
	SendMessage(ctx context.Context, receiveID, msgType, content string) (string, error)
}

// Messenger implements port.Notifier over Lark IM
type Messenger struct {
	sender      messageSender
	linkBaseURL string
	logger      *zap.Logger
}

var _ port.Notifier = (*Messenger)(nil)

// NewMessenger creates a new Lark notifier. Relative card links are prefixed with linkBaseURL.
func NewMessenger(sender messageSender, linkBaseURL string, logger *zap.Logger) *Messenger {
	return &Messenger{
		sender:      sender,
		linkBaseURL: strings.TrimRight(linkBaseURL, "/"),
		logger:      logger,
	}
}

// SendNotification sends a plain notification. Urgent and high priority ones go out as a
// card so the priority is visible.
func (m *Messenger) SendNotification(ctx context.Context, n port.Notification) error {
	if n.RecipientID == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	if n.Priority == entity.PriorityHigh || n.Priority == entity.PriorityUrgent {
		fields := []port.RichField{{Label: "Priority", Value: string(n.Priority)}}
		if n.Message != "" {
			fields = append([]port.RichField{{Label: "Details", Value: n.Message}}, fields...)
		}
		return m.SendRichMessage(ctx, port.RichMessage{
			RecipientID: n.RecipientID,
			Kind:        port.MessageGeneric,
			Title:       n.Title,
			Fields:      fields,
			LinkURL:     n.LinkURL,
		})
	}

	text := n.Title
	if n.Message != "" {
		text += "\n" + n.Message
	}
	if link := m.link(n.LinkURL); link != "" {
		text += "\n" + link
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal text content: %w", err)
	}
	return m.send(ctx, n.RecipientID, "text", string(content))
}

// SendRichMessage sends an interactive card
func (m *Messenger) SendRichMessage(ctx context.Context, msg port.RichMessage) error {
	if msg.RecipientID == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	card := buildCard(msg, m.link(msg.LinkURL))
	content, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}
	return m.send(ctx, msg.RecipientID, "interactive", string(content))
}

func (m *Messenger) send(ctx context.Context, recipient, msgType, content string) error {
	messageID, err := m.sender.SendMessage(ctx, recipient, msgType, content)
	if err != nil {
		m.logger.Error("Failed to send Lark message",
			zap.String("recipient", recipient),
			zap.String("msg_type", msgType),
			zap.Error(err))
		return err
	}

	m.logger.Info("Lark message sent",
		zap.String("message_id", messageID),
		zap.String("recipient", recipient),
		zap.String("msg_type", msgType))
	return nil
}

func (m *Messenger) link(url string) string {
	if url == "" || m.linkBaseURL == "" || strings.Contains(url, "://") {
		return url
	}
	return m.linkBaseURL + "/" + strings.TrimLeft(url, "/")
}
