package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/approval"
	"github.com/garyjia/hr-orchestrator/internal/application/dependency"
	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/application/resume"
	"github.com/garyjia/hr-orchestrator/internal/application/retry"
	"github.com/garyjia/hr-orchestrator/internal/application/statussync"
	"github.com/garyjia/hr-orchestrator/internal/application/workflow"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/expression"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/persistence/memory"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/persistence/repository"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

// failingTasks wraps a real repository and fails SetStatus or SetBlocked on demand
type failingTasks struct {
	port.TaskRepository
	setStatusErr   error
	failSetBlocked int
}

func (f *failingTasks) SetBlocked(ctx context.Context, id int64, blocked bool, reason string) error {
	if f.failSetBlocked > 0 {
		f.failSetBlocked--
		return errors.New("database is locked")
	}
	return f.TaskRepository.SetBlocked(ctx, id, blocked, reason)
}

func (f *failingTasks) SetStatus(ctx context.Context, id int64, status entity.TaskStatus, actorID string, at *time.Time) error {
	if f.setStatusErr != nil {
		return f.setStatusErr
	}
	return f.TaskRepository.SetStatus(ctx, id, status, actorID, at)
}

type fixture struct {
	processes ProcessService
	tasks     TaskService
	taskRepo  port.TaskRepository
	approvals *approval.Engine
	workflows workflow.WorkflowEngine

	mu     sync.Mutex
	events []*event.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	logger := zap.NewNop()
	d := dispatcher.NewDispatcher()

	f := &fixture{taskRepo: repository.NewTaskRepository(store, logger)}
	record := func(_ context.Context, evt *event.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, evt)
		return nil
	}
	d.Subscribe(event.TypeTaskCompleted, record)
	d.Subscribe(event.TypeTaskSkipped, record)

	deps := dependency.NewEngine(f.taskRepo, logger, dependency.WithDispatcher(d), dependency.WithSkipUnblocksDependents(true))
	chains := repository.NewChainRepository(store, logger)
	f.approvals = approval.NewEngine(chains,
		repository.NewRequestRepository(store, logger),
		repository.NewDelegationRepository(store, logger),
		logger,
		approval.WithDispatcher(d))

	processRepo := repository.NewProcessRepository(store, logger)
	instances := repository.NewInstanceRepository(store, logger)
	f.workflows = workflow.NewEngine(
		repository.NewDefinitionRepository(store, logger),
		instances,
		repository.NewStepStatusRepository(store, logger),
		repository.NewHistoryRepository(store, logger),
		logger,
		workflow.WithDispatcher(d),
		workflow.WithTasks(f.taskRepo, deps),
		workflow.WithApprovals(f.approvals),
	)

	queue := retry.NewQueue(repository.NewDeadLetterRepository(store, logger), logger)
	statussync.NewBridge(processRepo, instances, f.workflows, queue, logger, statussync.WithDispatcher(d)).Subscribe(d)
	resume.NewCoordinator(resume.Config{AutoContinue: true}, f.workflows, instances, f.taskRepo, chains, logger).Subscribe(d)

	f.processes = NewProcessService(processRepo, f.taskRepo, instances, deps, f.workflows, d, &mockLogger{})
	f.tasks = NewTaskService(f.taskRepo, deps, d, &mockLogger{})
	return f
}

func (f *fixture) eventTypes() []event.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Type
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func intp(i int) *int { return &i }

func onboardingInput() InitiateProcessInput {
	return InitiateProcessInput{
		Title:        "Onboard Ada",
		Type:         entity.ProcessTypeOnboarding,
		EmployeeID:   42,
		EmployeeName: "Ada",
		Context:      map[string]interface{}{"manager": "u-mgr"},
		Tasks: []TaskInput{
			{Title: "Contract", AssigneeID: "hr-1", DueDays: 1},
			{Title: "Laptop", AssigneeID: "it-1", DependsOn: intp(0)},
			{Title: "Badge", AssigneeID: "fac-1", DependsOn: intp(1)},
		},
		Workflow: &entity.WorkflowDefinition{
			Name: "onboarding-basic",
			Steps: []entity.StepDefinition{
				{ID: "wait_tasks", Type: entity.StepTypeWaitForTasks, Config: entity.StepConfig{
					TaskIDs: expression.Ref("context.task_ids"),
				}},
				{ID: "signoff", Type: entity.StepTypeApproval, Config: entity.StepConfig{Approval: &entity.ApprovalConfig{
					Levels: []entity.ApprovalLevel{
						{ApprovalType: entity.ApprovalTypeSequential, ApproverIDs: []string{"{{context.manager}}"}},
					},
				}}},
			},
		},
		ActorID: "hr-admin",
	}
}

func TestInitiateProcess_RunsToCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.processes.InitiateProcess(ctx, onboardingInput())
	require.NoError(t, err)
	require.Len(t, res.Tasks, 3)
	require.NotNil(t, res.Workflow)
	assert.Equal(t, entity.WorkflowStatusWaitingForTask, res.Workflow.Status)
	assert.Equal(t, entity.ProcessStatusInProgress, res.Process.Status)
	title, ok := res.Process.Employee.Title()
	assert.True(t, ok)
	assert.Equal(t, "Ada", title)

	assert.False(t, res.Tasks[0].IsBlocked)
	assert.True(t, res.Tasks[1].IsBlocked)
	assert.True(t, res.Tasks[2].IsBlocked)
	assert.NotNil(t, res.Tasks[0].DueDate)

	_, err = f.tasks.CompleteTask(ctx, res.Tasks[1].ID, "it-1")
	assert.ErrorIs(t, err, failure.ErrConflict, "blocked tasks cannot be completed")

	out, err := f.tasks.CompleteTask(ctx, res.Tasks[0].ID, "hr-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{res.Tasks[1].ID}, out.Unblocked)

	out, err = f.tasks.SkipTask(ctx, res.Tasks[1].ID, "it-1", "brings own laptop")
	require.NoError(t, err)
	assert.Equal(t, []int64{res.Tasks[2].ID}, out.Unblocked, "skipped prerequisites unblock dependents")

	_, err = f.tasks.CompleteTask(ctx, res.Tasks[2].ID, "fac-1")
	require.NoError(t, err)

	view, err := f.processes.GetProcess(ctx, res.Process.ID)
	require.NoError(t, err)
	require.Len(t, view.Workflows, 1)
	assert.Equal(t, entity.WorkflowStatusWaitingForApproval, view.Workflows[0].Status)

	chain, err := f.approvals.LatestChainForStep(ctx, res.Workflow.ID, "signoff")
	require.NoError(t, err)
	reqs, err := f.approvals.ListRequests(ctx, chain.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	_, err = f.approvals.SubmitDecision(ctx, reqs[0].ID, entity.DecisionApprove, "", "u-mgr")
	require.NoError(t, err)

	view, err = f.processes.GetProcess(ctx, res.Process.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusCompleted, view.Workflows[0].Status)
	assert.Equal(t, entity.ProcessStatusCompleted, view.Process.Status)
	assert.Equal(t, []event.Type{event.TypeTaskCompleted, event.TypeTaskSkipped, event.TypeTaskCompleted}, f.eventTypes())
}

func TestInitiateProcess_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *InitiateProcessInput)
	}{
		{"missing title", func(in *InitiateProcessInput) { in.Title = "" }},
		{"bad type", func(in *InitiateProcessInput) { in.Type = "PROMOTION" }},
		{"missing employee", func(in *InitiateProcessInput) { in.EmployeeID = 0 }},
		{"forward dependency", func(in *InitiateProcessInput) { in.Tasks[0].DependsOn = intp(2) }},
		{"task without title", func(in *InitiateProcessInput) { in.Tasks[1].Title = "" }},
		{"workflow without steps", func(in *InitiateProcessInput) { in.Workflow.Steps = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := onboardingInput()
			tt.mutate(&in)
			_, err := f.processes.InitiateProcess(context.Background(), in)
			assert.ErrorIs(t, err, failure.ErrValidation)
		})
	}
}

func TestInitiateProcess_WithoutWorkflow(t *testing.T) {
	f := newFixture(t)
	in := onboardingInput()
	in.Workflow = nil

	res, err := f.processes.InitiateProcess(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, res.Workflow)
	assert.Equal(t, entity.ProcessStatusPending, res.Process.Status)
}

func TestUpdateStatus_PausesAndCancelsWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.processes.InitiateProcess(ctx, onboardingInput())
	require.NoError(t, err)

	proc, err := f.processes.UpdateStatus(ctx, res.Process.ID, entity.ProcessStatusOnHold, "visa pending", "hr-admin")
	require.NoError(t, err)
	assert.Equal(t, entity.ProcessStatusOnHold, proc.Status)
	assert.Equal(t, "visa pending", proc.StatusReason)

	inst, err := f.workflows.GetInstance(ctx, res.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusPaused, inst.Status)

	_, err = f.processes.UpdateStatus(ctx, res.Process.ID, entity.ProcessStatusInProgress, "visa granted", "hr-admin")
	require.NoError(t, err)
	inst, err = f.workflows.GetInstance(ctx, res.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusWaitingForTask, inst.Status)

	_, err = f.processes.UpdateStatus(ctx, res.Process.ID, entity.ProcessStatusCancelled, "offer withdrawn", "hr-admin")
	require.NoError(t, err)
	inst, err = f.workflows.GetInstance(ctx, res.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusCancelled, inst.Status)

	_, err = f.processes.UpdateStatus(ctx, res.Process.ID, entity.ProcessStatusInProgress, "", "hr-admin")
	assert.ErrorIs(t, err, failure.ErrConflict)

	_, err = f.processes.UpdateStatus(ctx, res.Process.ID, "ARCHIVED", "", "hr-admin")
	assert.ErrorIs(t, err, failure.ErrValidation)
}

func TestCompleteTask_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := &entity.TaskAssignment{ProcessID: 1, Title: "Welcome lunch", Status: entity.TaskStatusNotStarted}
	require.NoError(t, f.taskRepo.Create(ctx, task))

	_, err := f.tasks.CompleteTask(ctx, task.ID, "u-1")
	require.NoError(t, err)
	out, err := f.tasks.CompleteTask(ctx, task.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusCompleted, out.Task.Status)
	assert.Empty(t, out.Unblocked)
	assert.Equal(t, []event.Type{event.TypeTaskCompleted, event.TypeTaskCompleted}, f.eventTypes(),
		"a repeated completion re-publishes for subscribers that missed the first")

	_, err = f.tasks.SkipTask(ctx, task.ID, "u-1", "")
	assert.ErrorIs(t, err, failure.ErrConflict)

	_, err = f.tasks.CompleteTask(ctx, 999, "u-1")
	assert.ErrorIs(t, err, failure.ErrNotFound)
}

func TestCompleteTask_RetryAfterUnblockFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tasks := &failingTasks{TaskRepository: repository.NewTaskRepository(store, zap.NewNop())}

	d := dispatcher.NewDispatcher()
	var published []event.Type
	d.Subscribe(event.TypeTaskCompleted, func(_ context.Context, evt *event.Event) error {
		published = append(published, evt.Type)
		return nil
	})
	svc := NewTaskService(tasks, dependency.NewEngine(tasks, zap.NewNop(), dependency.WithDispatcher(d)), d, &mockLogger{})

	first := &entity.TaskAssignment{ProcessID: 1, Title: "T1", Status: entity.TaskStatusNotStarted}
	second := &entity.TaskAssignment{ProcessID: 1, Title: "T2", Status: entity.TaskStatusNotStarted}
	require.NoError(t, tasks.Create(ctx, first))
	require.NoError(t, tasks.Create(ctx, second))
	dependent, err := svc.SetDependency(ctx, second.ID, first.ID)
	require.NoError(t, err)
	require.True(t, dependent.IsBlocked)

	tasks.failSetBlocked = 1
	_, err = svc.CompleteTask(ctx, first.ID, "u-1")
	require.Error(t, err)
	assert.Empty(t, published)

	got, err := tasks.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusCompleted, got.Status)
	got, err = tasks.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBlocked)

	out, err := svc.CompleteTask(ctx, first.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{second.ID}, out.Unblocked)
	assert.Equal(t, []event.Type{event.TypeTaskCompleted}, published)

	got, err = tasks.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBlocked)
	assert.Empty(t, got.BlockedReason)
}

func TestCompleteTask_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	real := repository.NewTaskRepository(store, zap.NewNop())
	tasks := &failingTasks{TaskRepository: real, setStatusErr: errors.New("disk full")}

	task := &entity.TaskAssignment{ProcessID: 1, Title: "Payroll", Status: entity.TaskStatusNotStarted}
	require.NoError(t, real.Create(ctx, task))

	svc := NewTaskService(tasks, dependency.NewEngine(tasks, zap.NewNop()), nil, &mockLogger{})
	_, err := svc.CompleteTask(ctx, task.ID, "u-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stored, err := real.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusNotStarted, stored.Status)
}

func TestTaskService_DependencyManagement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []int64
	for _, title := range []string{"A", "B", "C"} {
		task := &entity.TaskAssignment{ProcessID: 4, Title: title, Status: entity.TaskStatusNotStarted}
		require.NoError(t, f.taskRepo.Create(ctx, task))
		ids = append(ids, task.ID)
	}

	b, err := f.tasks.SetDependency(ctx, ids[1], ids[0])
	require.NoError(t, err)
	assert.True(t, b.IsBlocked)
	_, err = f.tasks.SetDependency(ctx, ids[2], ids[1])
	require.NoError(t, err)

	_, err = f.tasks.SetDependency(ctx, ids[0], ids[2])
	assert.ErrorIs(t, err, failure.ErrValidation, "cycles are rejected")

	cp, err := f.tasks.CriticalPath(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, ids, cp.Path)

	b, err = f.tasks.RemoveDependency(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, b.IsBlocked)
	assert.Nil(t, b.DependsOnTaskID)
}
