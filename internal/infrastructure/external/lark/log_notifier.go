package lark

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
)

// LogNotifier stands in for Lark when it is disabled; every message is logged only
type LogNotifier struct {
	logger *zap.Logger
}

var _ port.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a logging notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendNotification(_ context.Context, msg port.Notification) error {
	n.logger.Info("Notification",
		zap.String("recipient", msg.RecipientID),
		zap.String("title", msg.Title),
		zap.String("priority", string(msg.Priority)),
		zap.String("message", msg.Message),
		zap.String("link", msg.LinkURL))
	return nil
}

func (n *LogNotifier) SendRichMessage(_ context.Context, msg port.RichMessage) error {
	fields := make([]zap.Field, 0, len(msg.Fields)+3)
	fields = append(fields,
		zap.String("recipient", msg.RecipientID),
		zap.String("kind", string(msg.Kind)),
		zap.String("title", msg.Title))
	for _, f := range msg.Fields {
		fields = append(fields, zap.String("field."+f.Label, f.Value))
	}
	n.logger.Info("Rich notification", fields...)
	return nil
}
