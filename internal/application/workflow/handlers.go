package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/approval"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/expression"
)

// Variable names written by the built-in handlers when a step sets no output_key
const (
	VarCreatedTaskIDs   = "created_task_ids"
	VarAssignedTaskIDs  = "assigned_task_ids"
	VarApprovalChainID  = "approval_chain_id"
	VarCompletedTaskIDs = "completed_task_ids"
)

// StepContext is what a handler sees of the instance it runs for
type StepContext struct {
	Instance   *entity.WorkflowInstance
	Definition *entity.WorkflowDefinition
	Step       *entity.StepDefinition
	Scope      expression.Scope
	Now        time.Time
}

func (sc *StepContext) outputKey(fallback string) string {
	if sc.Step.Config.OutputKey != "" {
		return sc.Step.Config.OutputKey
	}
	return fallback
}

// StepHandler executes one step type. A returned error fails the step.
type StepHandler interface {
	Execute(ctx context.Context, sc *StepContext) (*StepResult, error)
}

// StepHandlerFunc adapts a function to StepHandler
type StepHandlerFunc func(ctx context.Context, sc *StepContext) (*StepResult, error)

func (f StepHandlerFunc) Execute(ctx context.Context, sc *StepContext) (*StepResult, error) {
	return f(ctx, sc)
}

// DependencyLinker adds task dependency edges
type DependencyLinker interface {
	AddDependency(ctx context.Context, taskID, dependsOnID int64) (*entity.TaskAssignment, error)
}

// ChainStarter starts approval chains
type ChainStarter interface {
	StartChain(ctx context.Context, in approval.StartChainInput) (*entity.ApprovalChain, error)
}

type collaborators struct {
	tasks     port.TaskRepository
	deps      DependencyLinker
	approvals ChainStarter
	notifier  port.Notifier
	records   port.RecordStore
}

func defaultHandlers(c *collaborators, logger *zap.Logger) map[entity.StepType]StepHandler {
	h := &handlers{collaborators: c, logger: logger}
	return map[entity.StepType]StepHandler{
		entity.StepTypeCreateTask:   StepHandlerFunc(h.createTask),
		entity.StepTypeAssignTasks:  StepHandlerFunc(h.assignTasks),
		entity.StepTypeWaitForTasks: StepHandlerFunc(h.waitForTasks),
		entity.StepTypeApproval:     StepHandlerFunc(h.approval),
		entity.StepTypeNotification: StepHandlerFunc(h.notification),
		entity.StepTypeAction:       StepHandlerFunc(h.action),
		entity.StepTypeSetVariable:  StepHandlerFunc(h.setVariable),
		entity.StepTypeWait:         StepHandlerFunc(h.wait),
	}
}

type handlers struct {
	*collaborators
	logger *zap.Logger
}

func (h *handlers) createTask(ctx context.Context, sc *StepContext) (*StepResult, error) {
	if h.tasks == nil {
		return nil, fmt.Errorf("task repository not configured")
	}
	templates := sc.Step.Config.Tasks
	instanceID := sc.Instance.ID

	ids := make([]int64, len(templates))
	created := make([]*entity.TaskAssignment, len(templates))
	for i, tpl := range templates {
		task := &entity.TaskAssignment{
			ProcessID:          sc.Instance.ProcessID,
			Title:              expression.Interpolate(tpl.Title, sc.Scope),
			Description:        expression.Interpolate(tpl.Description, sc.Scope),
			AssigneeID:         expression.Interpolate(tpl.AssigneeID, sc.Scope),
			WorkflowInstanceID: &instanceID,
			WorkflowStepID:     sc.Step.ID,
		}
		if tpl.DueDays > 0 {
			due := sc.Now.AddDate(0, 0, tpl.DueDays)
			task.DueDate = &due
		}
		if err := h.tasks.Create(ctx, task); err != nil {
			return nil, fmt.Errorf("create task %q: %w", task.Title, err)
		}
		ids[i] = task.ID
		created[i] = task
	}

	for i, tpl := range templates {
		if tpl.DependsOn == nil {
			continue
		}
		if h.deps == nil {
			return nil, fmt.Errorf("dependency engine not configured")
		}
		if _, err := h.deps.AddDependency(ctx, ids[i], ids[*tpl.DependsOn]); err != nil {
			return nil, fmt.Errorf("link task #%d to #%d: %w", ids[i], ids[*tpl.DependsOn], err)
		}
	}

	for _, task := range created {
		h.notifyAssigned(ctx, task)
	}
	return Continue(map[string]interface{}{sc.outputKey(VarCreatedTaskIDs): ids}), nil
}

func (h *handlers) assignTasks(ctx context.Context, sc *StepContext) (*StepResult, error) {
	if h.tasks == nil {
		return nil, fmt.Errorf("task repository not configured")
	}
	ids, err := taskIDs(sc)
	if err != nil {
		return nil, err
	}
	assignee, ok := sc.Step.Config.AssigneeID.Resolve(sc.Scope).(string)
	if !ok || assignee == "" {
		return nil, fmt.Errorf("assignee did not resolve to a user id")
	}

	for _, id := range ids {
		if err := h.tasks.SetAssignee(ctx, id, assignee); err != nil {
			return nil, fmt.Errorf("assign task #%d: %w", id, err)
		}
		task, err := h.tasks.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		h.notifyAssigned(ctx, task)
	}
	return Continue(map[string]interface{}{sc.outputKey(VarAssignedTaskIDs): ids}), nil
}

// waitForTasks links the awaited tasks to this step so completions find it, and only
// suspends when the wait is not already satisfied
func (h *handlers) waitForTasks(ctx context.Context, sc *StepContext) (*StepResult, error) {
	if h.tasks == nil {
		return nil, fmt.Errorf("task repository not configured")
	}
	ids, err := taskIDs(sc)
	if err != nil {
		return nil, err
	}
	mode := sc.Step.Config.WaitMode
	if mode == "" {
		mode = entity.WaitModeAll
	}
	if len(ids) == 0 {
		h.logger.Info("No tasks to wait for",
			zap.Int64("instance_id", sc.Instance.ID),
			zap.String("step_id", sc.Step.ID))
		return Continue(nil), nil
	}

	var done []int64
	for _, id := range ids {
		task, err := h.tasks.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.IsDone() {
			done = append(done, id)
		}
		if err := h.tasks.LinkWorkflow(ctx, id, sc.Instance.ID, sc.Step.ID); err != nil {
			return nil, fmt.Errorf("link task #%d: %w", id, err)
		}
	}

	if (mode == entity.WaitModeAll && len(done) == len(ids)) || (mode == entity.WaitModeAny && len(done) > 0) {
		return Continue(map[string]interface{}{sc.outputKey(VarCompletedTaskIDs): done}), nil
	}
	return Wait(entity.WaitItemTask, ids, mode), nil
}

func (h *handlers) approval(ctx context.Context, sc *StepContext) (*StepResult, error) {
	if h.approvals == nil {
		return nil, fmt.Errorf("approval engine not configured")
	}
	cfg := sc.Step.Config.Approval

	levels := make([]entity.ApprovalLevel, len(cfg.Levels))
	for i, l := range cfg.Levels {
		levels[i] = entity.ApprovalLevel{
			ApprovalType:        l.ApprovalType,
			DueDays:             l.DueDays,
			AlternateApproverID: expression.Interpolate(l.AlternateApproverID, sc.Scope),
		}
		for _, a := range l.ApproverIDs {
			if id := expression.Interpolate(a, sc.Scope); id != "" {
				levels[i].ApproverIDs = append(levels[i].ApproverIDs, id)
			}
		}
	}

	title := sc.Step.Name
	if title == "" {
		title = sc.Step.ID
	}
	instanceID := sc.Instance.ID
	chain, err := h.approvals.StartChain(ctx, approval.StartChainInput{
		ProcessID:          sc.Instance.ProcessID,
		Title:              title,
		Levels:             levels,
		EscalationAction:   cfg.EscalationAction,
		WorkflowInstanceID: &instanceID,
		WorkflowStepID:     sc.Step.ID,
		RequestedBy:        entity.ActorSystem,
	})
	if err != nil {
		return nil, err
	}

	res := Wait(entity.WaitItemApproval, []int64{chain.ID}, entity.WaitModeAll)
	res.OutputVariables = map[string]interface{}{sc.outputKey(VarApprovalChainID): chain.ID}
	return res, nil
}

// notification never fails the step; delivery problems are logged
func (h *handlers) notification(ctx context.Context, sc *StepContext) (*StepResult, error) {
	cfg := sc.Step.Config.Notification
	recipient, ok := cfg.Recipient.Resolve(sc.Scope).(string)
	if !ok || recipient == "" {
		h.logger.Warn("Notification recipient did not resolve",
			zap.Int64("instance_id", sc.Instance.ID),
			zap.String("step_id", sc.Step.ID))
		return h.notified(sc, false), nil
	}
	if h.notifier == nil {
		h.logger.Warn("No notifier configured, notification dropped",
			zap.Int64("instance_id", sc.Instance.ID),
			zap.String("recipient", recipient))
		return h.notified(sc, false), nil
	}

	title := expression.Interpolate(cfg.Title, sc.Scope)
	message := expression.Interpolate(cfg.Message, sc.Scope)
	var err error
	if cfg.Rich {
		err = h.notifier.SendRichMessage(ctx, port.RichMessage{
			RecipientID: recipient,
			Kind:        port.MessageGeneric,
			Title:       title,
			Fields:      []port.RichField{{Label: "Message", Value: message}},
			LinkURL:     cfg.LinkURL,
		})
	} else {
		priority := cfg.Priority
		if priority == "" {
			priority = entity.PriorityNormal
		}
		err = h.notifier.SendNotification(ctx, port.Notification{
			RecipientID: recipient,
			Title:       title,
			Message:     message,
			Priority:    priority,
			LinkURL:     cfg.LinkURL,
		})
	}
	if err != nil {
		h.logger.Warn("Failed to send workflow notification",
			zap.Int64("instance_id", sc.Instance.ID),
			zap.String("recipient", recipient),
			zap.Error(err))
		return h.notified(sc, false), nil
	}
	return h.notified(sc, true), nil
}

func (h *handlers) notified(sc *StepContext, ok bool) *StepResult {
	if sc.Step.Config.OutputKey == "" {
		return Continue(nil)
	}
	return Continue(map[string]interface{}{sc.Step.Config.OutputKey: ok})
}

func (h *handlers) action(ctx context.Context, sc *StepContext) (*StepResult, error) {
	if h.records == nil {
		return nil, fmt.Errorf("record store not configured")
	}
	cfg := sc.Step.Config.Action
	id, ok := toID(cfg.RecordID.Resolve(sc.Scope))
	if !ok {
		return nil, fmt.Errorf("record id for %s did not resolve", cfg.Collection)
	}

	fields := expression.ResolveUpdates(cfg.Updates, sc.Scope)
	if len(fields) == 0 {
		h.logger.Warn("Action resolved no field updates",
			zap.Int64("instance_id", sc.Instance.ID),
			zap.String("step_id", sc.Step.ID),
			zap.String("collection", cfg.Collection))
		return Continue(nil), nil
	}
	if err := h.records.UpdateRecord(ctx, cfg.Collection, id, port.Fields(fields)); err != nil {
		return nil, fmt.Errorf("update %s #%d: %w", cfg.Collection, id, err)
	}

	if sc.Step.Config.OutputKey == "" {
		return Continue(nil), nil
	}
	return Continue(map[string]interface{}{sc.Step.Config.OutputKey: fields}), nil
}

func (h *handlers) setVariable(_ context.Context, sc *StepContext) (*StepResult, error) {
	return Continue(expression.ResolveUpdates(sc.Step.Config.Assignments, sc.Scope)), nil
}

func (h *handlers) wait(_ context.Context, sc *StepContext) (*StepResult, error) {
	res := Wait(entity.WaitItemInput, nil, entity.WaitModeAll)
	if cfg := sc.Step.Config.Wait; cfg != nil {
		res.Prompt = expression.Interpolate(cfg.Prompt, sc.Scope)
		if cfg.DurationSeconds > 0 {
			at := sc.Now.Add(time.Duration(cfg.DurationSeconds) * time.Second)
			res.ResumeAt = &at
		}
	}
	return res, nil
}

func (h *handlers) notifyAssigned(ctx context.Context, task *entity.TaskAssignment) {
	if h.notifier == nil || task.AssigneeID == "" {
		return
	}
	fields := []port.RichField{{Label: "Task", Value: task.Title}}
	if task.DueDate != nil {
		fields = append(fields, port.RichField{Label: "Due", Value: task.DueDate.Format("2006-01-02")})
	}
	if task.IsBlocked {
		fields = append(fields, port.RichField{Label: "Blocked", Value: task.BlockedReason})
	}
	err := h.notifier.SendRichMessage(ctx, port.RichMessage{
		RecipientID: task.AssigneeID,
		Kind:        port.MessageTaskAssigned,
		Title:       "New task assigned",
		Fields:      fields,
	})
	if err != nil {
		h.logger.Warn("Failed to notify assignee",
			zap.Int64("task_id", task.ID),
			zap.String("assignee_id", task.AssigneeID),
			zap.Error(err))
	}
}

// taskIDs resolves the step's task_ids operand, defaulting to the ids created earlier
func taskIDs(sc *StepContext) ([]int64, error) {
	op := sc.Step.Config.TaskIDs
	if op.IsZero() {
		op = expression.Ref("vars." + VarCreatedTaskIDs)
	}
	v := op.Resolve(sc.Scope)
	if expression.IsUndefined(v) {
		return nil, fmt.Errorf("task ids did not resolve")
	}
	ids, ok := toIDs(v)
	if !ok {
		return nil, fmt.Errorf("task ids resolved to %T, want a list of ids", v)
	}
	return ids, nil
}

// toIDs accepts the shapes an id list takes before and after a JSON round trip
func toIDs(v interface{}) ([]int64, bool) {
	switch t := v.(type) {
	case []int64:
		return t, true
	case []interface{}:
		ids := make([]int64, 0, len(t))
		for _, e := range t {
			id, ok := toID(e)
			if !ok {
				return nil, false
			}
			ids = append(ids, id)
		}
		return ids, true
	case []float64:
		ids := make([]int64, len(t))
		for i, f := range t {
			ids[i] = int64(f)
		}
		return ids, true
	case []int:
		ids := make([]int64, len(t))
		for i, n := range t {
			ids[i] = int64(n)
		}
		return ids, true
	}
	if id, ok := toID(v); ok {
		return []int64{id}, true
	}
	return nil, false
}

func toID(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, t > 0
	case int:
		return int64(t), t > 0
	case float64:
		return int64(t), t > 0 && t == float64(int64(t))
	case json.Number:
		n, err := t.Int64()
		return n, err == nil && n > 0
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}
