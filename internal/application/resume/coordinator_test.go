package resume

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
	"github.com/garyjia/hr-orchestrator/internal/application/workflow"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/expression"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/persistence/memory"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/persistence/repository"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyInstances drops the next failUpdates instance writes
type flakyInstances struct {
	port.InstanceRepository
	mu          sync.Mutex
	failUpdates int
}

func (f *flakyInstances) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	f.mu.Lock()
	if f.failUpdates > 0 {
		f.failUpdates--
		f.mu.Unlock()
		return failure.Transient(errors.New("instance write dropped"))
	}
	f.mu.Unlock()
	return f.InstanceRepository.Update(ctx, instance)
}

type fixture struct {
	engine      workflow.WorkflowEngine
	instances   *flakyInstances
	coordinator *Coordinator
	tasks       port.TaskRepository
	approvals   *approval.Engine
	dispatcher  dispatcher.Dispatcher
	clock       *clock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := memory.NewStore()
	logger := zap.NewNop()
	d := dispatcher.NewDispatcher()

	f := &fixture{
		tasks:      repository.NewTaskRepository(store, logger),
		dispatcher: d,
		clock:      &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}

	chains := repository.NewChainRepository(store, logger)
	f.approvals = approval.NewEngine(
		chains,
		repository.NewRequestRepository(store, logger),
		repository.NewDelegationRepository(store, logger),
		logger,
		approval.WithDispatcher(d),
		approval.WithClock(f.clock.Now),
	)

	instances := repository.NewInstanceRepository(store, logger)
	f.instances = &flakyInstances{InstanceRepository: instances}
	f.engine = workflow.NewEngine(
		repository.NewDefinitionRepository(store, logger),
		f.instances,
		repository.NewStepStatusRepository(store, logger),
		repository.NewHistoryRepository(store, logger),
		logger,
		workflow.WithDispatcher(d),
		workflow.WithClock(f.clock.Now),
		workflow.WithTasks(f.tasks, dependency.NewEngine(f.tasks, logger)),
		workflow.WithApprovals(f.approvals),
	)

	f.coordinator = NewCoordinator(cfg, f.engine, instances, f.tasks, chains, logger, WithClock(f.clock.Now))
	f.coordinator.Subscribe(d)
	return f
}

func tasksDefinition(mode entity.WaitMode) *entity.WorkflowDefinition {
	return &entity.WorkflowDefinition{
		Name: "equipment-" + string(mode),
		Steps: []entity.StepDefinition{
			{
				ID:   "tasks",
				Type: entity.StepTypeCreateTask,
				Config: entity.StepConfig{Tasks: []entity.TaskTemplate{
					{Title: "Laptop", AssigneeID: "it-1"},
					{Title: "Desk", AssigneeID: "fac-1"},
				}},
			},
			{ID: "wait", Type: entity.StepTypeWaitForTasks, Config: entity.StepConfig{WaitMode: mode}},
			{
				ID:   "mark",
				Type: entity.StepTypeSetVariable,
				Config: entity.StepConfig{Assignments: []expression.FieldUpdate{
					{Field: "equipped", Value: expression.Lit(true)},
				}},
			},
		},
	}
}

func (f *fixture) startWaiting(t *testing.T, def *entity.WorkflowDefinition, processID int64) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.engine.Start(ctx, def, workflow.StartInput{ProcessID: processID})
	require.NoError(t, err)
	inst, err := f.engine.Run(ctx, id)
	require.NoError(t, err)
	require.True(t, inst.Status.IsWaiting(), "instance should be waiting, got %s", inst.Status)
	return id
}

func (f *fixture) complete(t *testing.T, taskID int64, status entity.TaskStatus) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.tasks.SetStatus(context.Background(), taskID, status, "it-1", &now))
}

func (f *fixture) status(t *testing.T, id int64) entity.WorkflowStatus {
	t.Helper()
	inst, err := f.engine.GetInstance(context.Background(), id)
	require.NoError(t, err)
	return inst.Status
}

func TestOnTaskCompleted_WaitForAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AutoContinue: true})
	id := f.startWaiting(t, tasksDefinition(entity.WaitModeAll), 5)

	tasks, err := f.tasks.ListByProcess(ctx, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	f.complete(t, tasks[0].ID, entity.TaskStatusCompleted)
	resumed, err := f.coordinator.OnTaskCompleted(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, entity.WorkflowStatusWaitingForTask, f.status(t, id))

	f.complete(t, tasks[1].ID, entity.TaskStatusSkipped)
	resumed, err = f.coordinator.OnTaskCompleted(ctx, tasks[1].ID)
	require.NoError(t, err)
	assert.True(t, resumed)

	inst, err := f.engine.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusCompleted, inst.Status)
	assert.Equal(t, true, inst.Variables["equipped"])
	assert.Len(t, inst.Variables[workflow.VarCompletedTaskIDs], 2)

	// the same completion delivered again is a no-op
	resumed, err = f.coordinator.OnTaskCompleted(ctx, tasks[1].ID)
	require.NoError(t, err)
	assert.False(t, resumed)
}

func TestOnTaskCompleted_WaitForAny(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	id := f.startWaiting(t, tasksDefinition(entity.WaitModeAny), 6)

	tasks, err := f.tasks.ListByProcess(ctx, 6)
	require.NoError(t, err)

	f.complete(t, tasks[1].ID, entity.TaskStatusCompleted)
	resumed, err := f.coordinator.OnTaskCompleted(ctx, tasks[1].ID)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, entity.WorkflowStatusRunning, f.status(t, id), "without auto-continue the instance waits for the next run")

	step, err := f.engine.GetStepStatus(ctx, id, "wait")
	require.NoError(t, err)
	assert.Equal(t, entity.StepStatusCompleted, step.Status)
}

func TestOnTaskCompleted_UnlinkedTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	task := &entity.TaskAssignment{ProcessID: 1, Title: "Standalone", Status: entity.TaskStatusCompleted}
	require.NoError(t, f.tasks.Create(ctx, task))

	resumed, err := f.coordinator.OnTaskCompleted(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, resumed)
}

func TestEventPath_ApprovalChainClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AutoContinue: true})

	def := &entity.WorkflowDefinition{
		Name: "transfer",
		Steps: []entity.StepDefinition{
			{
				ID:   "approve",
				Type: entity.StepTypeApproval,
				Config: entity.StepConfig{Approval: &entity.ApprovalConfig{
					Levels: []entity.ApprovalLevel{
						{ApprovalType: entity.ApprovalTypeSequential, ApproverIDs: []string{"mgr"}},
						{ApprovalType: entity.ApprovalTypeSequential, ApproverIDs: []string{"hrbp"}},
					},
				}},
			},
		},
	}
	id := f.startWaiting(t, def, 8)

	chain, err := f.approvals.LatestChainForStep(ctx, id, "approve")
	require.NoError(t, err)

	approve := func(approver string) {
		reqs, err := f.approvals.ListRequests(ctx, chain.ID)
		require.NoError(t, err)
		for _, r := range reqs {
			if r.ApproverID == approver && r.Status.IsActionable() {
				_, err := f.approvals.SubmitDecision(ctx, r.ID, entity.DecisionApprove, "", approver)
				require.NoError(t, err)
				return
			}
		}
		t.Fatalf("no actionable request for %s", approver)
	}

	approve("mgr")
	assert.Equal(t, entity.WorkflowStatusWaitingForApproval, f.status(t, id), "one level of two is not enough")

	ws, err := f.coordinator.GetWorkflowWaitStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, ws.CanResume)
	assert.Contains(t, ws.Reason, "level 2 of 2")

	approve("hrbp")
	inst, err := f.engine.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusCompleted, inst.Status)
	assert.Equal(t, "APPROVED", inst.Variables["approval_status"])
}

func TestEventPath_TaskEventsViaDispatcher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AutoContinue: true})
	id := f.startWaiting(t, tasksDefinition(entity.WaitModeAll), 9)

	tasks, err := f.tasks.ListByProcess(ctx, 9)
	require.NoError(t, err)
	for _, task := range tasks {
		f.complete(t, task.ID, entity.TaskStatusCompleted)
		require.NoError(t, f.dispatcher.Dispatch(ctx, event.NewEvent(event.TypeTaskCompleted, task.ID, nil)))
	}
	assert.Equal(t, entity.WorkflowStatusCompleted, f.status(t, id))
}

func TestSweep_ResumesMissedCompletions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 2, MaxConcurrentResumes: 2, AutoContinue: true})

	var ready, blocked []int64
	for p := int64(1); p <= 5; p++ {
		id := f.startWaiting(t, tasksDefinition(entity.WaitModeAll), p)
		tasks, err := f.tasks.ListByProcess(ctx, p)
		require.NoError(t, err)
		if p%2 == 1 {
			for _, task := range tasks {
				f.complete(t, task.ID, entity.TaskStatusCompleted)
			}
			ready = append(ready, id)
		} else {
			blocked = append(blocked, id)
		}
	}

	report, err := f.coordinator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 3, report.Resumed)
	assert.Zero(t, report.Failed)

	for _, id := range ready {
		assert.Equal(t, entity.WorkflowStatusCompleted, f.status(t, id))
	}
	for _, id := range blocked {
		assert.Equal(t, entity.WorkflowStatusWaitingForTask, f.status(t, id))
	}

	report, err = f.coordinator.ForceResumeAllStuckWorkflows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Zero(t, report.Resumed)
}

func TestSweep_FinishesInterruptedCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AutoContinue: true})
	id := f.startWaiting(t, tasksDefinition(entity.WaitModeAll), 3)

	tasks, err := f.tasks.ListByProcess(ctx, 3)
	require.NoError(t, err)
	for _, task := range tasks {
		f.complete(t, task.ID, entity.TaskStatusCompleted)
	}

	f.instances.mu.Lock()
	f.instances.failUpdates = 1
	f.instances.mu.Unlock()
	_, err = f.coordinator.OnTaskCompleted(ctx, tasks[1].ID)
	require.ErrorIs(t, err, failure.ErrTransientStore)

	step, err := f.engine.GetStepStatus(ctx, id, "wait")
	require.NoError(t, err)
	assert.Equal(t, entity.StepStatusCompleted, step.Status)
	assert.Equal(t, entity.WorkflowStatusWaitingForTask, f.status(t, id))

	report, err := f.coordinator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resumed)
	assert.Equal(t, entity.WorkflowStatusCompleted, f.status(t, id))
}

func TestEventPathAndSweepRace(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		f := newFixture(t, Config{BatchSize: 10, MaxConcurrentResumes: 4})
		id := f.startWaiting(t, tasksDefinition(entity.WaitModeAll), 1)

		tasks, err := f.tasks.ListByProcess(ctx, 1)
		require.NoError(t, err)
		for _, task := range tasks {
			f.complete(t, task.ID, entity.TaskStatusCompleted)
		}

		var (
			wg       sync.WaitGroup
			start    = make(chan struct{})
			resumed  bool
			eventErr error
			report   SweepReport
			sweepErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			resumed, eventErr = f.coordinator.OnTaskCompleted(ctx, tasks[1].ID)
		}()
		go func() {
			defer wg.Done()
			<-start
			report, sweepErr = f.coordinator.Sweep(ctx)
		}()
		close(start)
		wg.Wait()

		require.NoError(t, eventErr)
		require.NoError(t, sweepErr)
		assert.Zero(t, report.Failed)

		advanced := report.Resumed
		if resumed {
			advanced++
		}
		assert.Equal(t, 1, advanced, "round %d: exactly one path resumes the instance", round)

		history, err := f.engine.ListHistory(ctx, id)
		require.NoError(t, err)
		resumeWaits := 0
		for _, h := range history {
			if h.Trigger == "RESUME_WAIT" {
				resumeWaits++
			}
		}
		assert.Equal(t, 1, resumeWaits, "round %d", round)
		assert.Equal(t, entity.WorkflowStatusRunning, f.status(t, id))
	}
}

func TestSweep_InputDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AutoContinue: true})

	def := &entity.WorkflowDefinition{
		Name: "cooling-off",
		Steps: []entity.StepDefinition{
			{ID: "hold", Type: entity.StepTypeWait, Config: entity.StepConfig{Wait: &entity.WaitConfig{
				Prompt:          "Confirm start date",
				DurationSeconds: 3600,
			}}},
		},
	}
	id := f.startWaiting(t, def, 11)

	report, err := f.coordinator.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Resumed)

	f.clock.Advance(time.Hour)
	report, err = f.coordinator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resumed)

	inst, err := f.engine.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusCompleted, inst.Status)
	assert.Equal(t, true, inst.Variables["input_timed_out"])
}

func TestGetWorkflowWaitStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	id := f.startWaiting(t, tasksDefinition(entity.WaitModeAll), 12)

	tasks, err := f.tasks.ListByProcess(ctx, 12)
	require.NoError(t, err)
	f.complete(t, tasks[0].ID, entity.TaskStatusCompleted)
	f.clock.Advance(30 * time.Minute)

	ws, err := f.coordinator.GetWorkflowWaitStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, ws.Waiting)
	assert.False(t, ws.CanResume)
	assert.Equal(t, "wait", ws.StepID)
	assert.Equal(t, []int64{tasks[0].ID}, ws.DoneItemIDs)
	assert.Equal(t, []int64{tasks[1].ID}, ws.PendingItemIDs)
	assert.Equal(t, 30*time.Minute, ws.WaitingFor)
	assert.Contains(t, ws.Reason, "1 of 2 tasks done")

	f.complete(t, tasks[1].ID, entity.TaskStatusCompleted)
	ws, err = f.coordinator.GetWorkflowWaitStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, ws.CanResume)
	assert.Equal(t, entity.WorkflowStatusWaitingForTask, f.status(t, id), "diagnostics never resume")
}

func TestStartStop_Idempotent(t *testing.T) {
	f := newFixture(t, Config{PollInterval: 5 * time.Millisecond})
	c := f.coordinator

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())

	assert.Eventually(t, func() bool {
		at, _ := c.LastSweep()
		return !at.IsZero()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())
	require.NoError(t, c.Stop())
}
