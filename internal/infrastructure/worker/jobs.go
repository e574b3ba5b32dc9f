package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/approval"
	"github.com/garyjia/hr-orchestrator/internal/application/retry"
)

// Job names
const (
	JobEscalateOverdue  = "approval.escalate_overdue"
	JobExpireApprovals  = "approval.expire"
	JobReplayDeadLetter = "dead_letter.replay"
)

type overdueSweeper interface {
	ProcessOverdue(ctx context.Context) (approval.SweepReport, error)
	ExpireApprovals(ctx context.Context, maxAgeDays int) (approval.SweepReport, error)
}

type deadLetterReplayer interface {
	ReplayPending(ctx context.Context, limit int) (retry.ReplayReport, error)
}

// EscalationJob escalates every overdue approval request
func EscalationJob(approvals overdueSweeper) JobFunc {
	return func(ctx context.Context) error {
		_, err := approvals.ProcessOverdue(ctx)
		return err
	}
}

// ExpiryJob expires approval requests older than maxAgeDays
func ExpiryJob(approvals overdueSweeper, maxAgeDays int) JobFunc {
	return func(ctx context.Context) error {
		_, err := approvals.ExpireApprovals(ctx, maxAgeDays)
		return err
	}
}

// ReplayJob replays up to batch pending dead letters
func ReplayJob(queue deadLetterReplayer, batch int, logger *zap.Logger) JobFunc {
	return func(ctx context.Context) error {
		report, err := queue.ReplayPending(ctx, batch)
		if err != nil {
			return err
		}
		if report.Resolved+report.Failed > 0 {
			logger.Info("Dead letters replayed",
				zap.Int("resolved", report.Resolved),
				zap.Int("failed", report.Failed),
				zap.Int("skipped", report.Skipped))
		}
		return nil
	}
}
