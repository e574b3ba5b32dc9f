// Package dependency maintains the per-process task dependency graph.
package dependency

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	"github.com/garyjia/hr-orchestrator/internal/observability"
)

const defaultMaxTraversal = 10000

// CriticalPath is the structural ordering of a process's task graph
type CriticalPath struct {
	ProcessID int64 `json:"process_id"`
	// Order is a topological order of all live tasks, prerequisites first
	Order []int64 `json:"order"`
	// Path is the longest dependency chain by node count
	Path   []int64 `json:"path"`
	Length int     `json:"length"`
}

// Engine keeps TaskAssignment.IsBlocked consistent with the depends-on edges
type Engine struct {
	tasks        port.TaskRepository
	dispatcher   dispatcher.Dispatcher
	logger       *zap.Logger
	metrics      *observability.Metrics
	skipUnblocks bool
	maxTraversal int
}

// Option configures an Engine
type Option func(*Engine)

// WithDispatcher publishes task.unblocked events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithSkipUnblocksDependents sets whether a Skipped prerequisite satisfies its dependents
func WithSkipUnblocksDependents(enabled bool) Option {
	return func(e *Engine) {
		e.skipUnblocks = enabled
	}
}

// WithMaxTraversal bounds the cycle check
func WithMaxTraversal(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTraversal = n
		}
	}
}

// WithMetrics counts unblocked tasks
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a new dependency engine
func NewEngine(tasks port.TaskRepository, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		tasks:        tasks,
		logger:       logger,
		skipUnblocks: true,
		maxTraversal: defaultMaxTraversal,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Satisfied reports whether a prerequisite in this status releases its dependents
func (e *Engine) Satisfied(status entity.TaskStatus) bool {
	return status == entity.TaskStatusCompleted || (e.skipUnblocks && status == entity.TaskStatusSkipped)
}

// AddDependency makes taskID depend on dependsOnID and recomputes its blocked flag
func (e *Engine) AddDependency(ctx context.Context, taskID, dependsOnID int64) (*entity.TaskAssignment, error) {
	if taskID == dependsOnID {
		return nil, failure.Validationf("task #%d cannot depend on itself", taskID)
	}

	task, err := e.liveTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	dep, err := e.liveTask(ctx, dependsOnID)
	if err != nil {
		return nil, err
	}
	if task.ProcessID != dep.ProcessID {
		return nil, failure.Validationf("task #%d and task #%d belong to different processes", taskID, dependsOnID)
	}

	cycle, err := e.WouldCreateCycle(ctx, taskID, dependsOnID)
	if err != nil {
		return nil, err
	}
	if cycle {
		return nil, failure.Validationf("dependency #%d -> #%d would create a cycle", taskID, dependsOnID)
	}

	if err := e.tasks.SetDependency(ctx, taskID, &dependsOnID); err != nil {
		return nil, err
	}
	e.logger.Info("Dependency added",
		zap.Int64("task_id", taskID),
		zap.Int64("depends_on_task_id", dependsOnID))

	return e.UpdateBlockedStatus(ctx, taskID)
}

// RemoveDependency clears the edge of taskID and recomputes its blocked flag
func (e *Engine) RemoveDependency(ctx context.Context, taskID int64) (*entity.TaskAssignment, error) {
	task, err := e.liveTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.DependsOnTaskID == nil {
		return task, nil
	}
	if err := e.tasks.SetDependency(ctx, taskID, nil); err != nil {
		return nil, err
	}
	e.logger.Info("Dependency removed", zap.Int64("task_id", taskID))

	return e.UpdateBlockedStatus(ctx, taskID)
}

// WouldCreateCycle reports whether taskID is reachable from dependsOnID along depends-on edges.
// The walk is breadth-first over a bounded visited set.
func (e *Engine) WouldCreateCycle(ctx context.Context, taskID, dependsOnID int64) (bool, error) {
	visited := map[int64]bool{}
	queue := []int64{dependsOnID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == taskID {
			return true, nil
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		if len(visited) > e.maxTraversal {
			return false, failure.Validationf("dependency chain from task #%d exceeds %d tasks", dependsOnID, e.maxTraversal)
		}

		t, err := e.tasks.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, failure.ErrNotFound) {
				continue
			}
			return false, err
		}
		if t.DependsOnTaskID != nil {
			queue = append(queue, *t.DependsOnTaskID)
		}
	}
	return false, nil
}

// UpdateBlockedStatus recomputes the blocked flag and reason of one task
func (e *Engine) UpdateBlockedStatus(ctx context.Context, taskID int64) (*entity.TaskAssignment, error) {
	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	blocked, reason := false, ""
	if task.DependsOnTaskID != nil {
		dep, err := e.tasks.GetByID(ctx, *task.DependsOnTaskID)
		if err != nil {
			return nil, fmt.Errorf("failed to load prerequisite of task #%d: %w", taskID, err)
		}
		if !e.Satisfied(dep.Status) {
			blocked = true
			reason = fmt.Sprintf("Blocked by task #%d (%s)", dep.ID, dep.Title)
		}
	}

	if task.IsBlocked == blocked && task.BlockedReason == reason {
		return task, nil
	}
	if err := e.tasks.SetBlocked(ctx, taskID, blocked, reason); err != nil {
		return nil, err
	}
	task.IsBlocked = blocked
	task.BlockedReason = reason
	return task, nil
}

// OnTaskCompleted re-evaluates every dependent of taskID and returns the ids that became unblocked
func (e *Engine) OnTaskCompleted(ctx context.Context, taskID int64) ([]int64, error) {
	return e.releaseDependents(ctx, taskID)
}

// OnTaskSkipped re-evaluates every dependent of taskID.
// Dependents unblock only while skipped prerequisites count as satisfied.
func (e *Engine) OnTaskSkipped(ctx context.Context, taskID int64) ([]int64, error) {
	return e.releaseDependents(ctx, taskID)
}

func (e *Engine) releaseDependents(ctx context.Context, taskID int64) ([]int64, error) {
	dependents, err := e.tasks.ListDependents(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var unblocked []int64
	var errs []error
	for _, d := range dependents {
		wasBlocked := d.IsBlocked
		updated, err := e.UpdateBlockedStatus(ctx, d.ID)
		if err != nil {
			e.logger.Error("Failed to re-evaluate dependent",
				zap.Int64("task_id", d.ID),
				zap.Int64("prerequisite_id", taskID),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if wasBlocked && !updated.IsBlocked {
			unblocked = append(unblocked, d.ID)
			e.publishUnblocked(ctx, updated, taskID)
		}
	}

	e.metrics.RecordUnblocked(len(unblocked))
	if len(unblocked) > 0 {
		e.logger.Info("Dependents unblocked",
			zap.Int64("prerequisite_id", taskID),
			zap.Int64s("task_ids", unblocked))
	}
	return unblocked, errors.Join(errs...)
}

func (e *Engine) publishUnblocked(ctx context.Context, task *entity.TaskAssignment, prerequisiteID int64) {
	if e.dispatcher == nil {
		return
	}
	evt := event.NewEvent(event.TypeTaskUnblocked, task.ID, map[string]interface{}{
		"task_id":         task.ID,
		"process_id":      task.ProcessID,
		"prerequisite_id": prerequisiteID,
		"assignee_id":     task.AssigneeID,
	})
	if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
		e.logger.Warn("task.unblocked handler failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}
}

// CriticalPath orders the live tasks of a process with Kahn's algorithm and
// reports the longest chain. Ties go to the chain ending at the lower task id.
func (e *Engine) CriticalPath(ctx context.Context, processID int64) (*CriticalPath, error) {
	tasks, err := e.tasks.ListByProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[int64]*entity.TaskAssignment, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = t
	}

	inDegree := make(map[int64]int, len(nodes))
	successors := make(map[int64][]int64, len(nodes))
	for id, t := range nodes {
		if t.DependsOnTaskID == nil {
			continue
		}
		dep := *t.DependsOnTaskID
		if _, ok := nodes[dep]; !ok {
			continue
		}
		inDegree[id]++
		successors[dep] = append(successors[dep], id)
	}

	var ready []int64
	for id := range nodes {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	length := make(map[int64]int, len(nodes))
	prev := make(map[int64]int64, len(nodes))
	order := make([]int64, 0, len(nodes))

	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		if length[id] == 0 {
			length[id] = 1
		}

		for _, next := range successors[id] {
			if length[id]+1 > length[next] {
				length[next] = length[id] + 1
				prev[next] = id
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, failure.Validationf("task graph of process #%d contains a cycle", processID)
	}

	result := &CriticalPath{ProcessID: processID, Order: order, Path: []int64{}}
	var end int64
	for _, id := range order {
		if length[id] > result.Length || (length[id] == result.Length && id < end) {
			result.Length = length[id]
			end = id
		}
	}
	if result.Length == 0 {
		return result, nil
	}

	for id := end; ; {
		result.Path = append([]int64{id}, result.Path...)
		p, ok := prev[id]
		if !ok {
			break
		}
		id = p
	}
	return result, nil
}

func (e *Engine) liveTask(ctx context.Context, id int64) (*entity.TaskAssignment, error) {
	t, err := e.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Deleted {
		return nil, failure.NotFoundf("task #%d is deleted", id)
	}
	return t, nil
}
