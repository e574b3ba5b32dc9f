package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/expression"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	domainwf "github.com/garyjia/hr-orchestrator/internal/domain/workflow"
	"github.com/garyjia/hr-orchestrator/internal/observability"
	"github.com/garyjia/hr-orchestrator/pkg/utils"
)

const (
	defaultMaxStepsPerRun = 100
	defaultCacheExpiry    = 30 * time.Minute
)

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	definitions *definitionCache
	instances   port.InstanceRepository
	steps       port.StepStatusRepository
	history     port.HistoryRepository
	dispatcher  dispatcher.Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	maxSteps    int
	cacheExpiry time.Duration

	collab   collaborators
	handlers map[entity.StepType]StepHandler
	custom   map[entity.StepType]StepHandler

	// one step at a time per instance
	locks utils.KeyedMutex
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithCacheExpiry sets how long loaded definitions stay cached
func WithCacheExpiry(expiry time.Duration) EngineOption {
	return func(e *engineImpl) {
		if expiry > 0 {
			e.cacheExpiry = expiry
		}
	}
}

// WithMaxStepsPerRun bounds the steps executed by one Run call
func WithMaxStepsPerRun(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithMetrics records transitions and step outcomes
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithTasks enables CreateTask, AssignTasks and WaitForTasks steps
func WithTasks(tasks port.TaskRepository, deps DependencyLinker) EngineOption {
	return func(e *engineImpl) {
		e.collab.tasks = tasks
		e.collab.deps = deps
	}
}

// WithApprovals enables Approval steps
func WithApprovals(a ChainStarter) EngineOption {
	return func(e *engineImpl) {
		e.collab.approvals = a
	}
}

// WithNotifier enables Notification steps and task assignment messages
func WithNotifier(n port.Notifier) EngineOption {
	return func(e *engineImpl) {
		e.collab.notifier = n
	}
}

// WithRecordStore enables Action steps
func WithRecordStore(s port.RecordStore) EngineOption {
	return func(e *engineImpl) {
		e.collab.records = s
	}
}

// WithStepHandler replaces the handler of one step type
func WithStepHandler(stepType entity.StepType, h StepHandler) EngineOption {
	return func(e *engineImpl) {
		e.custom[stepType] = h
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	definitions port.DefinitionRepository,
	instances port.InstanceRepository,
	steps port.StepStatusRepository,
	history port.HistoryRepository,
	logger *zap.Logger,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		instances:   instances,
		steps:       steps,
		history:     history,
		logger:      logger,
		now:         time.Now,
		maxSteps:    defaultMaxStepsPerRun,
		cacheExpiry: defaultCacheExpiry,
		custom:      make(map[entity.StepType]StepHandler),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.definitions = newDefinitionCache(definitions, e.cacheExpiry, e.now)
	e.handlers = defaultHandlers(&e.collab, e.logger)
	for t, h := range e.custom {
		e.handlers[t] = h
	}
	return e
}

// outbox collects events raised under an instance lock. They are dispatched after the
// lock is released so subscribers may call back into the engine.
type outbox struct {
	events []*event.Event
}

func (o *outbox) add(evt *event.Event) {
	o.events = append(o.events, evt)
}

func (e *engineImpl) publish(ctx context.Context, out *outbox) {
	if e.dispatcher == nil {
		return
	}
	for _, evt := range out.events {
		if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
			e.logger.Warn("Event handler failed",
				zap.String("event_type", evt.Type.String()),
				zap.Int64("instance_id", evt.AggregateID),
				zap.Error(err))
		}
	}
}

// withInstance loads the instance under its lock and runs fn on it
func (e *engineImpl) withInstance(
	ctx context.Context,
	instanceID int64,
	fn func(inst *entity.WorkflowInstance, out *outbox) error,
) (*entity.WorkflowInstance, error) {
	var out outbox

	unlock := e.locks.Lock(instanceID)
	inst, err := e.instances.GetByID(ctx, instanceID)
	if err == nil {
		err = fn(inst, &out)
	}
	unlock()

	e.publish(ctx, &out)
	return inst, err
}

// Start persists the definition when new, creates the instance and moves it to Running
func (e *engineImpl) Start(ctx context.Context, def *entity.WorkflowDefinition, in StartInput) (int64, error) {
	if err := utils.Validator().Struct(in); err != nil {
		return 0, failure.FromValidator(err)
	}

	ctx, span := observability.StartSpan(ctx, "workflow.start", observability.AttrProcessID.Int64(in.ProcessID))
	id, err := e.start(ctx, def, in)
	observability.EndSpan(span, err)
	return id, err
}

func (e *engineImpl) start(ctx context.Context, def *entity.WorkflowDefinition, in StartInput) (int64, error) {
	stored, err := e.definitions.resolve(ctx, def)
	if err != nil {
		return 0, err
	}

	now := e.now().UTC()
	vars := make(map[string]interface{}, len(in.Variables))
	for k, v := range in.Variables {
		vars[k] = v
	}
	inst := &entity.WorkflowInstance{
		DefinitionID:  stored.ID,
		ProcessID:     in.ProcessID,
		Status:        entity.WorkflowStatusPending,
		CurrentStepID: stored.FirstStepID(),
		Context:       in.Context,
		Variables:     vars,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.instances.Create(ctx, inst); err != nil {
		return 0, fmt.Errorf("failed to create instance: %w", err)
	}

	actor := in.ActorID
	if actor == "" {
		actor = entity.ActorSystem
	}
	_, err = e.withInstance(ctx, inst.ID, func(inst *entity.WorkflowInstance, out *outbox) error {
		return e.transition(ctx, inst, domainwf.TriggerStart, actor, "", out)
	})
	if err != nil {
		return inst.ID, err
	}

	e.logger.Info("Workflow instance started",
		zap.Int64("instance_id", inst.ID),
		zap.Int64("process_id", inst.ProcessID),
		zap.String("definition", stored.Name),
		zap.Int("version", stored.Version))
	return inst.ID, nil
}

// transition fires trigger on the instance, then persists the instance and its history
func (e *engineImpl) transition(
	ctx context.Context,
	inst *entity.WorkflowInstance,
	trigger domainwf.Trigger,
	actorID, reason string,
	out *outbox,
) error {
	machine, err := lifecycleFor(inst)
	if err != nil {
		return err
	}

	previous := inst.Status
	if err := machine.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("%w: instance #%d: %w", failure.ErrConflict, inst.ID, err)
	}

	now := e.now().UTC()
	inst.Status = entity.WorkflowStatus(machine.State())
	inst.UpdatedAt = now
	switch trigger {
	case domainwf.TriggerPause:
		inst.PausedFromStatus = previous
	case domainwf.TriggerResume, domainwf.TriggerCancel:
		inst.PausedFromStatus = ""
	}
	if inst.Status.IsTerminal() {
		inst.CompletedAt = &now
	}

	if err := e.instances.Update(ctx, inst); err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}

	history := &entity.WorkflowHistory{
		InstanceID:     inst.ID,
		StepID:         inst.CurrentStepID,
		PreviousStatus: previous,
		NewStatus:      inst.Status,
		Trigger:        trigger.String(),
		Actor:          actorID,
		Reason:         reason,
		Timestamp:      now,
	}
	if err := e.history.Create(ctx, history); err != nil {
		e.logger.Error("Failed to record workflow history",
			zap.Int64("instance_id", inst.ID),
			zap.String("trigger", trigger.String()),
			zap.Error(err))
	}

	e.metrics.RecordTransition(previous.String(), inst.Status.String(), trigger.String())
	e.logger.Info("Workflow instance transitioned",
		zap.Int64("instance_id", inst.ID),
		zap.String("from", previous.String()),
		zap.String("to", inst.Status.String()),
		zap.String("trigger", trigger.String()),
		zap.String("actor", actorID))

	out.add(event.NewEvent(event.TypeWorkflowStatusChanged, inst.ID, map[string]interface{}{
		"instance_id":     inst.ID,
		"process_id":      inst.ProcessID,
		"previous_status": previous.String(),
		"new_status":      inst.Status.String(),
		"trigger":         trigger.String(),
		"actor":           actorID,
		"reason":          reason,
	}))
	return nil
}

// ExecuteStep runs the current step of a Running instance
func (e *engineImpl) ExecuteStep(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error) {
	return e.withInstance(ctx, instanceID, func(inst *entity.WorkflowInstance, out *outbox) error {
		return e.executeLocked(ctx, inst, out)
	})
}

func (e *engineImpl) executeLocked(ctx context.Context, inst *entity.WorkflowInstance, out *outbox) error {
	if inst.Status != entity.WorkflowStatusRunning {
		return fmt.Errorf("%w: instance #%d is %s, not running", failure.ErrConflict, inst.ID, inst.Status)
	}

	def, err := e.definitions.get(ctx, inst.DefinitionID)
	if err != nil {
		return err
	}
	if inst.CurrentStepID == "" {
		return e.transition(ctx, inst, domainwf.TriggerComplete, entity.ActorSystem, "no steps left", out)
	}
	step := def.Step(inst.CurrentStepID)
	if step == nil {
		inst.Error = fmt.Sprintf("step %q is not defined in %s v%d", inst.CurrentStepID, def.Name, def.Version)
		return e.transition(ctx, inst, domainwf.TriggerFail, entity.ActorSystem, inst.Error, out)
	}

	ctx, span := observability.StartSpan(ctx, "workflow.execute_step",
		observability.AttrInstanceID.Int64(inst.ID),
		observability.AttrProcessID.Int64(inst.ProcessID),
		observability.AttrStepID.String(step.ID),
		observability.AttrStepType.String(step.Type.String()))
	err = e.runStep(ctx, inst, def, step, out)
	observability.EndSpan(span, err)
	return err
}

func (e *engineImpl) runStep(
	ctx context.Context,
	inst *entity.WorkflowInstance,
	def *entity.WorkflowDefinition,
	step *entity.StepDefinition,
	out *outbox,
) error {
	started := e.now()
	status, err := e.beginStep(ctx, inst, step)
	if err != nil {
		return err
	}

	if step.When != nil && !step.When.Evaluate(scopeOf(inst)) {
		now := e.now().UTC()
		status.Status = entity.StepStatusSkipped
		status.CompletedAt = &now
		status.UpdatedAt = now
		status.Append(now, "info", "guard evaluated false, step skipped")
		if err := e.steps.Save(ctx, status); err != nil {
			return err
		}
		e.metrics.RecordStep(step.Type.String(), "skipped", e.now().Sub(started))
		return e.advance(ctx, inst, def, step, out)
	}

	h, ok := e.handlers[step.Type]
	if !ok {
		return e.failStep(ctx, inst, step, status, fmt.Sprintf("no handler for step type %s", step.Type), started, out)
	}

	sc := &StepContext{
		Instance:   inst,
		Definition: def,
		Step:       step,
		Scope:      scopeOf(inst),
		Now:        e.now().UTC(),
	}
	result := e.invoke(ctx, h, sc)
	if !result.Success || result.NextAction == NextFail {
		msg := result.Error
		if msg == "" {
			msg = "step handler reported failure"
		}
		return e.failStep(ctx, inst, step, status, msg, started, out)
	}

	for k, v := range result.OutputVariables {
		if inst.Variables == nil {
			inst.Variables = map[string]interface{}{}
		}
		inst.Variables[k] = v
	}

	now := e.now().UTC()
	switch result.NextAction {
	case NextWait:
		waiting, ok := result.WaitForItemType.WaitingStatus()
		if !ok {
			return e.failStep(ctx, inst, step, status, fmt.Sprintf("unknown wait item type %q", result.WaitForItemType), started, out)
		}
		trigger, _ := domainwf.WaitTrigger(domainwf.State(waiting))

		status.Status = entity.StepStatusWaiting
		status.Result = result.OutputVariables
		status.Wait = &entity.WaitCriteria{
			ItemType: result.WaitForItemType,
			ItemIDs:  result.WaitForItemIDs,
			Mode:     result.WaitMode,
			Since:    now,
			ResumeAt: result.ResumeAt,
			Prompt:   result.Prompt,
		}
		status.UpdatedAt = now
		status.Append(now, "info", fmt.Sprintf("waiting for %s %v (%s)", result.WaitForItemType, result.WaitForItemIDs, result.WaitMode))
		if err := e.steps.Save(ctx, status); err != nil {
			return err
		}
		e.metrics.RecordStep(step.Type.String(), "waiting", e.now().Sub(started))
		return e.transition(ctx, inst, trigger, entity.ActorSystem, "", out)

	case NextContinue, "":
		status.Status = entity.StepStatusCompleted
		status.Result = result.OutputVariables
		status.CompletedAt = &now
		status.UpdatedAt = now
		status.Append(now, "info", "step completed")
		if err := e.steps.Save(ctx, status); err != nil {
			return err
		}
		e.metrics.RecordStep(step.Type.String(), "completed", e.now().Sub(started))
		out.add(stepCompletedEvent(inst, step, result.OutputVariables))
		return e.advance(ctx, inst, def, step, out)
	}

	return e.failStep(ctx, inst, step, status, fmt.Sprintf("unknown next action %q", result.NextAction), started, out)
}

// beginStep loads or creates the step's status record and marks a new attempt
func (e *engineImpl) beginStep(ctx context.Context, inst *entity.WorkflowInstance, step *entity.StepDefinition) (*entity.WorkflowStepStatus, error) {
	now := e.now().UTC()
	status, err := e.steps.Get(ctx, inst.ID, step.ID)
	switch {
	case err == nil:
		status.Attempt++
		status.Result = nil
		status.Wait = nil
		status.Error = ""
		status.CompletedAt = nil
	case errors.Is(err, failure.ErrNotFound):
		status = &entity.WorkflowStepStatus{
			InstanceID: inst.ID,
			StepID:     step.ID,
			StepType:   step.Type,
			Attempt:    1,
		}
	default:
		return nil, err
	}

	status.Status = entity.StepStatusRunning
	status.StartedAt = now
	status.UpdatedAt = now
	status.Append(now, "info", fmt.Sprintf("attempt %d started", status.Attempt))
	if err := e.steps.Save(ctx, status); err != nil {
		return nil, err
	}
	return status, nil
}

// invoke runs a handler, turning errors and panics into a failed result
func (e *engineImpl) invoke(ctx context.Context, h StepHandler, sc *StepContext) (result *StepResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Step handler panicked",
				zap.Int64("instance_id", sc.Instance.ID),
				zap.String("step_id", sc.Step.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			result = Fail(fmt.Sprintf("handler panicked: %v", r))
		}
	}()

	res, err := h.Execute(ctx, sc)
	if err != nil {
		return Fail(err.Error())
	}
	if res == nil {
		return Fail("handler returned no result")
	}
	return res
}

func (e *engineImpl) failStep(
	ctx context.Context,
	inst *entity.WorkflowInstance,
	step *entity.StepDefinition,
	status *entity.WorkflowStepStatus,
	msg string,
	started time.Time,
	out *outbox,
) error {
	now := e.now().UTC()
	status.Status = entity.StepStatusFailed
	status.Error = msg
	status.UpdatedAt = now
	status.Append(now, "error", msg)
	if err := e.steps.Save(ctx, status); err != nil {
		e.logger.Error("Failed to record step failure",
			zap.Int64("instance_id", inst.ID),
			zap.String("step_id", step.ID),
			zap.Error(err))
	}

	e.metrics.RecordStep(step.Type.String(), "failed", e.now().Sub(started))
	e.logger.Warn("Workflow step failed",
		zap.Int64("instance_id", inst.ID),
		zap.String("step_id", step.ID),
		zap.String("step_type", step.Type.String()),
		zap.String("error", msg))

	inst.Error = fmt.Sprintf("step %s: %s", step.ID, msg)
	return e.transition(ctx, inst, domainwf.TriggerFail, entity.ActorSystem, msg, out)
}

// advance moves past step, completing the instance when no step follows
func (e *engineImpl) advance(
	ctx context.Context,
	inst *entity.WorkflowInstance,
	def *entity.WorkflowDefinition,
	step *entity.StepDefinition,
	out *outbox,
) error {
	next := route(def, step, scopeOf(inst))
	if next == "" {
		return e.transition(ctx, inst, domainwf.TriggerComplete, entity.ActorSystem, "", out)
	}

	inst.CurrentStepID = next
	inst.UpdatedAt = e.now().UTC()
	if err := e.instances.Update(ctx, inst); err != nil {
		return fmt.Errorf("failed to advance instance: %w", err)
	}
	return nil
}

// route picks the step after step: the first matching branch, then Next, then the
// sequential successor
func route(def *entity.WorkflowDefinition, step *entity.StepDefinition, scope expression.Scope) string {
	for i := range step.Branches {
		if step.Branches[i].When.Evaluate(scope) {
			return step.Branches[i].Goto
		}
	}
	if step.Next != "" {
		return step.Next
	}
	return def.SequentialNext(step.ID)
}

func scopeOf(inst *entity.WorkflowInstance) expression.Scope {
	return expression.Scope{Context: inst.Context, Variables: inst.Variables}
}

func stepCompletedEvent(inst *entity.WorkflowInstance, step *entity.StepDefinition, outputs map[string]interface{}) *event.Event {
	return event.NewEvent(event.TypeWorkflowStepCompleted, inst.ID, map[string]interface{}{
		"instance_id": inst.ID,
		"process_id":  inst.ProcessID,
		"step_id":     step.ID,
		"step_type":   step.Type.String(),
		"outputs":     outputs,
	})
}

// Run executes steps while the instance stays Running, up to the step limit
func (e *engineImpl) Run(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error) {
	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	for i := 0; i < e.maxSteps; i++ {
		if inst.Status != entity.WorkflowStatusRunning {
			return inst, nil
		}
		if err := ctx.Err(); err != nil {
			return inst, err
		}
		inst, err = e.ExecuteStep(ctx, instanceID)
		if err != nil {
			return inst, err
		}
	}

	if inst.Status != entity.WorkflowStatusRunning {
		return inst, nil
	}
	e.logger.Warn("Workflow run hit the step limit",
		zap.Int64("instance_id", instanceID),
		zap.Int("max_steps", e.maxSteps),
		zap.String("current_step", inst.CurrentStepID))
	return inst, fmt.Errorf("%w: instance #%d still running after %d steps", failure.ErrWorkflowLogic, instanceID, e.maxSteps)
}

// CompleteWaitingStep records the result of a waiting step and advances the instance
func (e *engineImpl) CompleteWaitingStep(ctx context.Context, instanceID int64, stepID string, payload map[string]interface{}) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "workflow.complete_waiting_step",
		observability.AttrInstanceID.Int64(instanceID),
		observability.AttrStepID.String(stepID))

	var advanced bool
	_, err := e.withInstance(ctx, instanceID, func(inst *entity.WorkflowInstance, out *outbox) error {
		var err error
		advanced, err = e.completeLocked(ctx, inst, stepID, payload, out)
		return err
	})
	observability.EndSpan(span, err)
	return advanced, err
}

func (e *engineImpl) completeLocked(
	ctx context.Context,
	inst *entity.WorkflowInstance,
	stepID string,
	payload map[string]interface{},
	out *outbox,
) (bool, error) {
	status, err := e.steps.Get(ctx, inst.ID, stepID)
	if err != nil {
		return false, err
	}
	// A Completed step whose instance is still parked on it lost its instance write;
	// finish the transition instead of reporting a no-op.
	interrupted := interruptedCompletion(inst, status)
	if status.Status != entity.StepStatusWaiting && !interrupted {
		e.logger.Debug("Step is not waiting, nothing to complete",
			zap.Int64("instance_id", inst.ID),
			zap.String("step_id", stepID),
			zap.String("step_status", string(status.Status)))
		return false, nil
	}
	if status.Wait == nil || inst.CurrentStepID != stepID {
		return false, fmt.Errorf("%w: instance #%d is not waiting on step %q", failure.ErrConflict, inst.ID, stepID)
	}
	want, _ := status.Wait.ItemType.WaitingStatus()
	if inst.Status != want {
		return false, fmt.Errorf("%w: instance #%d is %s, step %q waits in %s", failure.ErrConflict, inst.ID, inst.Status, stepID, want)
	}

	def, err := e.definitions.get(ctx, inst.DefinitionID)
	if err != nil {
		return false, err
	}
	step := def.Step(stepID)
	if step == nil {
		return false, failure.NotFoundf("step %q in %s v%d", stepID, def.Name, def.Version)
	}

	if interrupted {
		e.logger.Warn("Finishing interrupted step completion",
			zap.Int64("instance_id", inst.ID),
			zap.String("step_id", stepID),
			zap.String("instance_status", inst.Status.String()))
	} else {
		now := e.now().UTC()
		status.Status = entity.StepStatusCompleted
		status.Result = mergeResult(status.Result, payload)
		status.CompletedAt = &now
		status.UpdatedAt = now
		status.Append(now, "info", "wait satisfied")
		if err := e.steps.Save(ctx, status); err != nil {
			return false, err
		}
	}

	if inst.Variables == nil {
		inst.Variables = map[string]interface{}{}
	}
	if key := step.Config.OutputKey; key != "" && len(payload) > 0 {
		inst.Variables[key] = payload
	} else {
		for k, v := range payload {
			inst.Variables[k] = v
		}
	}

	next := route(def, step, scopeOf(inst))
	if next != "" {
		inst.CurrentStepID = next
	}
	if err := e.transition(ctx, inst, domainwf.TriggerResumeWait, entity.ActorResume, "", out); err != nil {
		return false, err
	}
	out.add(stepCompletedEvent(inst, step, payload))

	if next == "" {
		if err := e.transition(ctx, inst, domainwf.TriggerComplete, entity.ActorSystem, "", out); err != nil {
			return true, err
		}
	}
	return true, nil
}

// interruptedCompletion reports whether the step record was completed while the instance
// write that should have followed it never landed
func interruptedCompletion(inst *entity.WorkflowInstance, status *entity.WorkflowStepStatus) bool {
	if status.Status != entity.StepStatusCompleted || status.Wait == nil || inst.CurrentStepID != status.StepID {
		return false
	}
	want, ok := status.Wait.ItemType.WaitingStatus()
	return ok && inst.Status == want
}

func mergeResult(result, payload map[string]interface{}) map[string]interface{} {
	if len(payload) == 0 {
		return result
	}
	merged := make(map[string]interface{}, len(result)+len(payload))
	for k, v := range result {
		merged[k] = v
	}
	for k, v := range payload {
		merged[k] = v
	}
	return merged
}

// Pause suspends an instance, remembering the status to resume into
func (e *engineImpl) Pause(ctx context.Context, instanceID int64, actorID, reason string) (*entity.WorkflowInstance, error) {
	return e.administrative(ctx, instanceID, domainwf.TriggerPause, actorID, reason)
}

// Resume returns a paused instance to the status it held before pausing
func (e *engineImpl) Resume(ctx context.Context, instanceID int64, actorID string) (*entity.WorkflowInstance, error) {
	return e.administrative(ctx, instanceID, domainwf.TriggerResume, actorID, "")
}

// Cancel terminates a non-terminal instance
func (e *engineImpl) Cancel(ctx context.Context, instanceID int64, actorID, reason string) (*entity.WorkflowInstance, error) {
	return e.administrative(ctx, instanceID, domainwf.TriggerCancel, actorID, reason)
}

func (e *engineImpl) administrative(ctx context.Context, instanceID int64, trigger domainwf.Trigger, actorID, reason string) (*entity.WorkflowInstance, error) {
	if actorID == "" {
		actorID = entity.ActorSystem
	}
	return e.withInstance(ctx, instanceID, func(inst *entity.WorkflowInstance, out *outbox) error {
		return e.transition(ctx, inst, trigger, actorID, reason, out)
	})
}

func (e *engineImpl) GetInstance(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error) {
	return e.instances.GetByID(ctx, instanceID)
}

func (e *engineImpl) GetDefinition(ctx context.Context, definitionID int64) (*entity.WorkflowDefinition, error) {
	return e.definitions.get(ctx, definitionID)
}

func (e *engineImpl) GetStepStatus(ctx context.Context, instanceID int64, stepID string) (*entity.WorkflowStepStatus, error) {
	return e.steps.Get(ctx, instanceID, stepID)
}

func (e *engineImpl) ListStepStatuses(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepStatus, error) {
	return e.steps.ListByInstance(ctx, instanceID)
}

func (e *engineImpl) ListHistory(ctx context.Context, instanceID int64) ([]*entity.WorkflowHistory, error) {
	return e.history.ListByInstance(ctx, instanceID)
}

// ListInstances returns up to limit instances in the given statuses. No statuses means all.
func (e *engineImpl) ListInstances(ctx context.Context, statuses []entity.WorkflowStatus, limit int) ([]*entity.WorkflowInstance, error) {
	if len(statuses) == 0 {
		for _, s := range domainwf.States() {
			statuses = append(statuses, entity.WorkflowStatus(s))
		}
	}
	return e.instances.ListByStatus(ctx, statuses, 0, limit)
}
