package approval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
)

// Notification failures are logged and never fail the approval operation.

func (e *Engine) notifyApprover(ctx context.Context, req *entity.ApprovalRequest, kind port.MessageKind, title string) {
	if e.notifier == nil {
		return
	}
	fields := []port.RichField{
		{Label: "Process", Value: fmt.Sprintf("#%d", req.ProcessID)},
		{Label: "Request", Value: fmt.Sprintf("#%d (level %d)", req.ID, req.Level)},
		{Label: "Due", Value: req.DueDate.Format("2006-01-02 15:04 MST")},
	}
	if req.OriginalApproverID != "" {
		fields = append(fields, port.RichField{Label: "On behalf of", Value: req.OriginalApproverID})
	}
	if req.EscalationLevel > 0 {
		fields = append(fields, port.RichField{Label: "Escalation", Value: fmt.Sprintf("level %d", req.EscalationLevel)})
	}

	msg := port.RichMessage{
		RecipientID: req.ApproverID,
		Kind:        kind,
		Title:       title,
		Fields:      fields,
	}
	if err := e.notifier.SendRichMessage(ctx, msg); err != nil {
		e.logger.Warn("Failed to notify approver",
			zap.Int64("approval_id", req.ID),
			zap.String("approver", req.ApproverID),
			zap.Error(err))
	}
}

func (e *Engine) notify(ctx context.Context, n port.Notification) {
	if e.notifier == nil || n.RecipientID == "" {
		return
	}
	if err := e.notifier.SendNotification(ctx, n); err != nil {
		e.logger.Warn("Failed to send notification",
			zap.String("recipient", n.RecipientID),
			zap.Error(err))
	}
}
