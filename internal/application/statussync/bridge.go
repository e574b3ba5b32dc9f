// Package statussync keeps the workflow, process and approval aggregates in step.
// Every write goes through the retry pipeline so a failed sync ends in the dead-letter queue.
package statussync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/application/retry"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	"github.com/garyjia/hr-orchestrator/internal/observability"
)

// Dead-letter operation types written by the bridge
const (
	OpWorkflowToProcess = "sync.workflow_to_process"
	OpApprovalToProcess = "sync.approval_to_process"
	OpProcessToWorkflow = "sync.process_to_workflow"
)

// WorkflowController is the part of the workflow engine the bridge drives
type WorkflowController interface {
	GetInstance(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error)
	Pause(ctx context.Context, instanceID int64, actorID, reason string) (*entity.WorkflowInstance, error)
	Resume(ctx context.Context, instanceID int64, actorID string) (*entity.WorkflowInstance, error)
	Cancel(ctx context.Context, instanceID int64, actorID, reason string) (*entity.WorkflowInstance, error)
}

// Bridge propagates status changes between the paired aggregates
type Bridge struct {
	processes  port.ProcessRepository
	instances  port.InstanceRepository
	workflows  WorkflowController
	queue      *retry.Queue
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// Option configures a Bridge
type Option func(*Bridge)

// WithDispatcher publishes process.status_changed after process writes
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(b *Bridge) {
		b.dispatcher = d
	}
}

// WithMetrics records sync writes
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// NewBridge creates a bridge and registers its dead-letter replayers on queue
func NewBridge(
	processes port.ProcessRepository,
	instances port.InstanceRepository,
	workflows WorkflowController,
	queue *retry.Queue,
	logger *zap.Logger,
	opts ...Option,
) *Bridge {
	b := &Bridge{
		processes: processes,
		instances: instances,
		workflows: workflows,
		queue:     queue,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(b)
	}

	queue.RegisterReplayer(OpWorkflowToProcess, b.replayProcessWrite)
	queue.RegisterReplayer(OpApprovalToProcess, b.replayProcessWrite)
	queue.RegisterReplayer(OpProcessToWorkflow, b.replayWorkflowAction)
	return b
}

// Subscribe wires the bridge to the domain events it reacts to
func (b *Bridge) Subscribe(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeWorkflowStatusChanged, "statussync.workflow", b.onWorkflowStatusChanged)
	d.SubscribeNamed(event.TypeApprovalChainClosed, "statussync.chain_closed", b.onChainClosed)
	d.SubscribeNamed(event.TypeApprovalEscalated, "statussync.escalated", b.onEscalated)
	d.SubscribeNamed(event.TypeProcessStatusChanged, "statussync.process", b.onProcessStatusChanged)
}

func (b *Bridge) onWorkflowStatusChanged(ctx context.Context, evt *event.Event) error {
	processID := evt.GetPayloadInt("process_id")
	if processID == 0 {
		return nil
	}
	status := entity.WorkflowStatus(evt.GetPayloadString("new_status"))
	return b.SyncWorkflowToProcess(ctx, processID, status, evt.GetPayloadString("reason"))
}

func (b *Bridge) onChainClosed(ctx context.Context, evt *event.Event) error {
	processID := evt.GetPayloadInt("process_id")
	if processID == 0 {
		return nil
	}
	status := entity.ApprovalStatus(evt.GetPayloadString("status"))
	return b.SyncApprovalToProcess(ctx, processID, status, fmt.Sprintf("approval chain #%d %s", evt.AggregateID, status))
}

func (b *Bridge) onEscalated(ctx context.Context, evt *event.Event) error {
	status := entity.ApprovalStatus(evt.GetPayloadString("status"))
	processID := evt.GetPayloadInt("process_id")
	if status != entity.ApprovalStatusEscalated || processID == 0 {
		return nil
	}
	return b.SyncApprovalToProcess(ctx, processID, status, fmt.Sprintf("approval #%d escalated", evt.GetPayloadInt("approval_id")))
}

func (b *Bridge) onProcessStatusChanged(ctx context.Context, evt *event.Event) error {
	status := entity.ProcessStatus(evt.GetPayloadString("new_status"))
	return b.SyncProcessToWorkflow(ctx, evt.AggregateID, status, evt.GetPayloadString("reason"))
}

// SyncWorkflowToProcess moves the process to the status matching an instance status
func (b *Bridge) SyncWorkflowToProcess(ctx context.Context, processID int64, status entity.WorkflowStatus, reason string) error {
	target, ok := ProcessStatusForWorkflow(status)
	if !ok {
		return failure.Validationf("no process status for workflow status %q", status)
	}
	return b.syncProcess(ctx, OpWorkflowToProcess, processID, target, reason, map[string]interface{}{
		"workflow_status": string(status),
	})
}

// SyncApprovalToProcess moves the process to the status matching an approval outcome
func (b *Bridge) SyncApprovalToProcess(ctx context.Context, processID int64, status entity.ApprovalStatus, reason string) error {
	target, ok := ProcessStatusForApproval(status)
	if !ok {
		return failure.Validationf("no process status for approval status %q", status)
	}
	return b.syncProcess(ctx, OpApprovalToProcess, processID, target, reason, map[string]interface{}{
		"approval_status": string(status),
	})
}

func (b *Bridge) syncProcess(
	ctx context.Context,
	opType string,
	processID int64,
	target entity.ProcessStatus,
	reason string,
	opContext map[string]interface{},
) error {
	ctx, span := observability.StartSpan(ctx, "statussync.process",
		observability.AttrOperation.String(opType),
		observability.AttrProcessID.Int64(processID))

	op := retry.Operation{
		Type: opType,
		Payload: map[string]interface{}{
			"process_id": processID,
			"status":     string(target),
			"reason":     reason,
		},
		Context: opContext,
	}

	var previous entity.ProcessStatus
	var changed bool
	err := b.queue.RunWithRetry(ctx, op, func(ctx context.Context) error {
		var err error
		previous, changed, err = b.applyProcessStatus(ctx, processID, target, reason)
		return err
	})
	observability.EndSpan(span, err)

	direction := directionOf(opType)
	if err != nil {
		b.metrics.RecordSyncWrite(direction, outcomeOf(err))
		return fmt.Errorf("%w: process #%d to %s: %w", failure.ErrSyncDivergence, processID, target, err)
	}
	if !changed {
		b.metrics.RecordSyncWrite(direction, "noop")
		return nil
	}

	b.metrics.RecordSyncWrite(direction, "applied")
	b.publishProcessChanged(ctx, processID, previous, target, reason, direction)
	return nil
}

// applyProcessStatus writes target unless the process already holds it or has ended
func (b *Bridge) applyProcessStatus(ctx context.Context, processID int64, target entity.ProcessStatus, reason string) (entity.ProcessStatus, bool, error) {
	proc, err := b.processes.GetByID(ctx, processID)
	if err != nil {
		return "", false, err
	}
	if proc.Status == target {
		return proc.Status, false, nil
	}
	if proc.Status.IsFinal() {
		b.logger.Info("Process already closed, sync skipped",
			zap.Int64("process_id", processID),
			zap.String("status", proc.Status.String()),
			zap.String("target", target.String()))
		return proc.Status, false, nil
	}
	if err := b.processes.UpdateStatus(ctx, processID, target, reason); err != nil {
		return proc.Status, false, err
	}

	b.logger.Info("Process status synced",
		zap.Int64("process_id", processID),
		zap.String("from", proc.Status.String()),
		zap.String("to", target.String()),
		zap.String("reason", reason))
	return proc.Status, true, nil
}

func (b *Bridge) publishProcessChanged(ctx context.Context, processID int64, previous, status entity.ProcessStatus, reason, source string) {
	if b.dispatcher == nil {
		return
	}
	evt := event.NewEvent(event.TypeProcessStatusChanged, processID, map[string]interface{}{
		"process_id":      processID,
		"previous_status": previous.String(),
		"new_status":      status.String(),
		"reason":          reason,
		"source":          source,
	})
	if err := b.dispatcher.Dispatch(ctx, evt); err != nil {
		b.logger.Warn("process.status_changed handler failed",
			zap.Int64("process_id", processID),
			zap.Error(err))
	}
}

// SyncProcessToWorkflow applies the action a process status asks of each live instance
func (b *Bridge) SyncProcessToWorkflow(ctx context.Context, processID int64, status entity.ProcessStatus, reason string) error {
	instances, err := b.instances.ListByProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("%w: list instances of process #%d: %w", failure.ErrSyncDivergence, processID, err)
	}

	var errs []error
	for _, inst := range instances {
		action := ActionForProcessStatus(status, inst.Status)
		if action == ActionNone {
			continue
		}
		if err := b.syncWorkflow(ctx, inst.ID, action, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) syncWorkflow(ctx context.Context, instanceID int64, action WorkflowAction, reason string) error {
	ctx, span := observability.StartSpan(ctx, "statussync.workflow",
		observability.AttrOperation.String(OpProcessToWorkflow),
		observability.AttrInstanceID.Int64(instanceID))

	op := retry.Operation{
		Type: OpProcessToWorkflow,
		Payload: map[string]interface{}{
			"instance_id": instanceID,
			"action":      string(action),
			"reason":      reason,
		},
	}
	err := b.queue.RunWithRetry(ctx, op, func(ctx context.Context) error {
		return b.applyWorkflowAction(ctx, instanceID, action, reason)
	})
	observability.EndSpan(span, err)

	if err != nil {
		b.metrics.RecordSyncWrite("process_to_workflow", outcomeOf(err))
		return fmt.Errorf("%w: %s instance #%d: %w", failure.ErrSyncDivergence, action, instanceID, err)
	}
	b.metrics.RecordSyncWrite("process_to_workflow", "applied")
	return nil
}

// applyWorkflowAction re-reads the instance so a retried or replayed action that already
// took effect is a no-op
func (b *Bridge) applyWorkflowAction(ctx context.Context, instanceID int64, action WorkflowAction, reason string) error {
	inst, err := b.workflows.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	switch action {
	case ActionPause:
		if inst.Status == entity.WorkflowStatusPaused || inst.Status.IsTerminal() {
			return nil
		}
		_, err = b.workflows.Pause(ctx, instanceID, entity.ActorSync, reason)
	case ActionCancel:
		if inst.Status.IsTerminal() {
			return nil
		}
		_, err = b.workflows.Cancel(ctx, instanceID, entity.ActorSync, reason)
	case ActionResume:
		if inst.Status != entity.WorkflowStatusPaused {
			return nil
		}
		_, err = b.workflows.Resume(ctx, instanceID, entity.ActorSync)
	default:
		return failure.Validationf("unknown workflow action %q", action)
	}

	if errors.Is(err, failure.ErrConflict) {
		b.logger.Info("Workflow moved on before sync applied",
			zap.Int64("instance_id", instanceID),
			zap.String("action", string(action)),
			zap.Error(err))
		return nil
	}
	return err
}

func (b *Bridge) replayProcessWrite(ctx context.Context, payload map[string]interface{}) error {
	processID := payloadInt(payload, "process_id")
	status := entity.ProcessStatus(payloadString(payload, "status"))
	if processID == 0 || !status.IsValid() {
		return failure.Validationf("malformed process sync payload %v", payload)
	}
	reason := payloadString(payload, "reason")

	previous, changed, err := b.applyProcessStatus(ctx, processID, status, reason)
	if err != nil {
		return err
	}
	if changed {
		b.publishProcessChanged(ctx, processID, previous, status, reason, "replay")
	}
	return nil
}

func (b *Bridge) replayWorkflowAction(ctx context.Context, payload map[string]interface{}) error {
	instanceID := payloadInt(payload, "instance_id")
	if instanceID == 0 {
		return failure.Validationf("malformed workflow sync payload %v", payload)
	}
	return b.applyWorkflowAction(ctx, instanceID, WorkflowAction(payloadString(payload, "action")), payloadString(payload, "reason"))
}

func directionOf(opType string) string {
	switch opType {
	case OpWorkflowToProcess:
		return "workflow_to_process"
	case OpApprovalToProcess:
		return "approval_to_process"
	}
	return "process_to_workflow"
}

func outcomeOf(err error) string {
	if errors.Is(err, retry.ErrExhausted) {
		return "dead_lettered"
	}
	return "failed"
}

func payloadInt(payload map[string]interface{}, key string) int64 {
	switch v := payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func payloadString(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}
