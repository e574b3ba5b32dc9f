package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/event"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/persistence/memory"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/persistence/repository"
)

// --- Mocks ---

type mockNotifier struct {
	mu       sync.Mutex
	rich     []port.RichMessage
	plain    []port.Notification
	failWith error
}

func (m *mockNotifier) SendNotification(_ context.Context, n port.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plain = append(m.plain, n)
	return m.failWith
}

func (m *mockNotifier) SendRichMessage(_ context.Context, msg port.RichMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rich = append(m.rich, msg)
	return m.failWith
}

func (m *mockNotifier) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.rich {
		out = append(out, r.RecipientID)
	}
	return out
}

type mockDirectory struct {
	managers map[string]string
	err      error
}

func (m *mockDirectory) ResolveManager(_ context.Context, userID string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	mgr, ok := m.managers[userID]
	return mgr, ok, nil
}

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

type fixture struct {
	engine   *Engine
	notifier *mockNotifier
	clock    *clock
	closed   []*event.Event
	mu       sync.Mutex
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	logger := zap.NewNop()
	f := &fixture{
		notifier: &mockNotifier{},
		clock:    &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}

	d := dispatcher.NewDispatcher()
	d.Subscribe(event.TypeApprovalChainClosed, func(_ context.Context, evt *event.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed = append(f.closed, evt)
		return nil
	})

	base := []Option{
		WithNotifier(f.notifier),
		WithDispatcher(d),
		WithClock(f.clock.Now),
	}
	f.engine = NewEngine(
		repository.NewChainRepository(store, logger),
		repository.NewRequestRepository(store, logger),
		repository.NewDelegationRepository(store, logger),
		logger,
		append(base, opts...)...,
	)
	return f
}

func sequential(approvers ...string) entity.ApprovalLevel {
	return entity.ApprovalLevel{ApprovalType: entity.ApprovalTypeSequential, ApproverIDs: approvers, DueDays: 2}
}

func (f *fixture) start(t *testing.T, processID int64, action entity.EscalationAction, levels ...entity.ApprovalLevel) *entity.ApprovalChain {
	t.Helper()
	chain, err := f.engine.StartChain(context.Background(), StartChainInput{
		ProcessID:        processID,
		Levels:           levels,
		EscalationAction: action,
		RequestedBy:      "hr-admin",
	})
	require.NoError(t, err)
	return chain
}

func (f *fixture) requests(t *testing.T, chainID int64) []*entity.ApprovalRequest {
	t.Helper()
	reqs, err := f.engine.ListRequests(context.Background(), chainID)
	require.NoError(t, err)
	return reqs
}

func (f *fixture) requestFor(t *testing.T, chainID int64, approver string) *entity.ApprovalRequest {
	t.Helper()
	for _, r := range f.requests(t, chainID) {
		if r.ApproverID == approver && !r.Status.IsTerminal() {
			return r
		}
	}
	t.Fatalf("no open request for %s", approver)
	return nil
}

func statuses(reqs []*entity.ApprovalRequest) []entity.ApprovalStatus {
	out := make([]entity.ApprovalStatus, len(reqs))
	for i, r := range reqs {
		out[i] = r.Status
	}
	return out
}

func assertSingleActive(t *testing.T, reqs []*entity.ApprovalRequest) {
	t.Helper()
	active := map[int]int{}
	for _, r := range reqs {
		if r.Status.IsActionable() {
			active[r.Level]++
		}
	}
	for level, n := range active {
		assert.LessOrEqual(t, n, 1, "level %d has %d active requests", level, n)
	}
}

func (f *fixture) decide(t *testing.T, chainID int64, approver string, d entity.Decision) *DecisionResult {
	t.Helper()
	req := f.requestFor(t, chainID, approver)
	res, err := f.engine.SubmitDecision(context.Background(), req.ID, d, "", approver)
	require.NoError(t, err)
	return res
}

// --- Tests ---

func TestSequentialLevel_ApproveApproveReject(t *testing.T) {
	f := newFixture(t)
	chain := f.start(t, 10, "", sequential("A", "B", "C"))

	reqs := f.requests(t, chain.ID)
	assert.Equal(t, []entity.ApprovalStatus{
		entity.ApprovalStatusPending, entity.ApprovalStatusQueued, entity.ApprovalStatusQueued,
	}, statuses(reqs))
	assert.Equal(t, []string{"A"}, f.notifier.recipients())

	f.decide(t, chain.ID, "A", entity.DecisionApprove)
	reqs = f.requests(t, chain.ID)
	assert.Equal(t, entity.ApprovalStatusPending, reqs[1].Status)
	assert.Equal(t, entity.ApprovalStatusQueued, reqs[2].Status)
	assertSingleActive(t, reqs)

	f.decide(t, chain.ID, "B", entity.DecisionApprove)
	reqs = f.requests(t, chain.ID)
	assert.Equal(t, entity.ApprovalStatusPending, reqs[2].Status)
	assertSingleActive(t, reqs)

	res := f.decide(t, chain.ID, "C", entity.DecisionReject)
	assert.True(t, res.ChainClosed)
	assert.Equal(t, entity.ApprovalStatusRejected, res.LevelOutcome)
	assert.Equal(t, entity.ApprovalStatusRejected, res.Chain.OverallStatus)
	assert.False(t, res.Chain.IsActive)

	require.Len(t, f.closed, 1)
	assert.Equal(t, "REJECTED", f.closed[0].GetPayloadString("status"))
	assert.Equal(t, int64(10), f.closed[0].GetPayloadInt("process_id"))
	assert.Equal(t, []string{"A", "B", "C"}, f.notifier.recipients())
}

func TestSequential_RejectionCancelsQueued(t *testing.T) {
	f := newFixture(t)
	chain := f.start(t, 1, "", sequential("A", "B", "C"))

	res := f.decide(t, chain.ID, "A", entity.DecisionReject)
	assert.True(t, res.ChainClosed)
	assert.Equal(t, []entity.ApprovalStatus{
		entity.ApprovalStatusRejected, entity.ApprovalStatusCancelled, entity.ApprovalStatusCancelled,
	}, statuses(f.requests(t, chain.ID)))
}

func TestMultiLevel_AdvancesThenApproves(t *testing.T) {
	f := newFixture(t)
	chain := f.start(t, 1, "",
		sequential("A"),
		entity.ApprovalLevel{ApprovalType: entity.ApprovalTypeParallel, ApproverIDs: []string{"B", "C"}},
		sequential("D"),
	)

	res := f.decide(t, chain.ID, "A", entity.DecisionApprove)
	assert.False(t, res.ChainClosed)
	assert.Equal(t, 2, res.Chain.CurrentLevel)

	res = f.decide(t, chain.ID, "B", entity.DecisionApprove)
	assert.Empty(t, res.LevelOutcome)
	res = f.decide(t, chain.ID, "C", entity.DecisionApprove)
	assert.Equal(t, entity.ApprovalStatusApproved, res.LevelOutcome)
	assert.Equal(t, 3, res.Chain.CurrentLevel)

	res = f.decide(t, chain.ID, "D", entity.DecisionApprove)
	assert.True(t, res.ChainClosed)
	assert.Equal(t, entity.ApprovalStatusApproved, res.Chain.OverallStatus)
}

func TestParallel_RejectedOnlyAfterAllRespond(t *testing.T) {
	f := newFixture(t)
	chain := f.start(t, 1, "", entity.ApprovalLevel{
		ApprovalType: entity.ApprovalTypeParallel, ApproverIDs: []string{"A", "B", "C"},
	})
	assert.ElementsMatch(t, []string{"A", "B", "C"}, f.notifier.recipients())

	res := f.decide(t, chain.ID, "A", entity.DecisionReject)
	assert.Empty(t, res.LevelOutcome)
	f.decide(t, chain.ID, "B", entity.DecisionApprove)
	res = f.decide(t, chain.ID, "C", entity.DecisionApprove)
	assert.True(t, res.ChainClosed)
	assert.Equal(t, entity.ApprovalStatusRejected, res.Chain.OverallStatus)
}

func TestFirstApprover_FirstResponseWins(t *testing.T) {
	tests := []struct {
		name     string
		decision entity.Decision
		want     entity.ApprovalStatus
	}{
		{"approve", entity.DecisionApprove, entity.ApprovalStatusApproved},
		{"reject", entity.DecisionReject, entity.ApprovalStatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			chain := f.start(t, 1, "", entity.ApprovalLevel{
				ApprovalType: entity.ApprovalTypeFirstApprover, ApproverIDs: []string{"A", "B"},
			})

			res := f.decide(t, chain.ID, "B", tt.decision)
			assert.True(t, res.ChainClosed)
			assert.Equal(t, tt.want, res.Chain.OverallStatus)

			reqs := f.requests(t, chain.ID)
			assert.Equal(t, entity.ApprovalStatusCancelled, reqs[0].Status)
		})
	}
}

func TestSubmitDecision_Rejections(t *testing.T) {
	f := newFixture(t)
	chain := f.start(t, 1, "", sequential("A", "B"))
	reqs := f.requests(t, chain.ID)
	ctx := context.Background()

	_, err := f.engine.SubmitDecision(ctx, reqs[1].ID, entity.DecisionApprove, "", "B")
	assert.ErrorIs(t, err, failure.ErrConflict, "queued request")

	_, err = f.engine.SubmitDecision(ctx, reqs[0].ID, entity.DecisionApprove, "", "mallory")
	assert.ErrorIs(t, err, failure.ErrValidation, "wrong approver")

	_, err = f.engine.SubmitDecision(ctx, reqs[0].ID, entity.Decision("MAYBE"), "", "A")
	assert.ErrorIs(t, err, failure.ErrValidation)

	_, err = f.engine.SubmitDecision(ctx, reqs[0].ID, entity.DecisionApprove, "", "A")
	require.NoError(t, err)
	_, err = f.engine.SubmitDecision(ctx, reqs[0].ID, entity.DecisionApprove, "", "A")
	assert.ErrorIs(t, err, failure.ErrConflict, "already decided")
}

func TestStartChain_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   StartChainInput
	}{
		{"no levels", StartChainInput{ProcessID: 1}},
		{"missing approver", StartChainInput{ProcessID: 1, Levels: []entity.ApprovalLevel{{ApprovalType: entity.ApprovalTypeSequential}}}},
		{"blank approver", StartChainInput{ProcessID: 1, Levels: []entity.ApprovalLevel{sequential("")}}},
		{"bad type", StartChainInput{ProcessID: 1, Levels: []entity.ApprovalLevel{{ApprovalType: "ALL", ApproverIDs: []string{"A"}}}}},
		{"bad action", StartChainInput{ProcessID: 1, Levels: []entity.ApprovalLevel{sequential("A")}, EscalationAction: "PAGE"}},
		{"no process", StartChainInput{Levels: []entity.ApprovalLevel{sequential("A")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.StartChain(ctx, tt.in)
			assert.ErrorIs(t, err, failure.ErrValidation)
		})
	}
}

func TestStartChain_OneActivePerProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chain := f.start(t, 5, "", sequential("A"))

	_, err := f.engine.StartChain(ctx, StartChainInput{ProcessID: 5, Levels: []entity.ApprovalLevel{sequential("B")}})
	assert.ErrorIs(t, err, failure.ErrValidation)

	f.decide(t, chain.ID, "A", entity.DecisionApprove)
	_, err = f.engine.StartChain(ctx, StartChainInput{ProcessID: 5, Levels: []entity.ApprovalLevel{sequential("B")}})
	assert.NoError(t, err)
}

func TestDelegationRule_RoutesNewRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	require.NoError(t, f.engine.AddDelegationRule(ctx, &entity.DelegationRule{
		DelegatorID: "A", DelegateID: "A2", StartAt: now.Add(-time.Hour), EndAt: now.Add(time.Hour),
	}))
	// delegations are single hop
	require.NoError(t, f.engine.AddDelegationRule(ctx, &entity.DelegationRule{
		DelegatorID: "A2", DelegateID: "A3", StartAt: now.Add(-time.Hour), EndAt: now.Add(time.Hour),
	}))

	chain := f.start(t, 1, "", sequential("A"))
	req := f.requests(t, chain.ID)[0]
	assert.Equal(t, "A2", req.ApproverID)
	assert.Equal(t, "A", req.OriginalApproverID)
	assert.Equal(t, []string{"A2"}, f.notifier.recipients())

	err := f.engine.AddDelegationRule(ctx, &entity.DelegationRule{DelegatorID: "A", DelegateID: "A", StartAt: now, EndAt: now.Add(time.Hour)})
	assert.ErrorIs(t, err, failure.ErrValidation)
}

func TestDelegateApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chain := f.start(t, 1, "", sequential("A"))
	req := f.requests(t, chain.ID)[0]

	out, err := f.engine.DelegateApproval(ctx, req.ID, "B", "on leave")
	require.NoError(t, err)
	assert.Equal(t, "B", out.ApproverID)
	assert.Equal(t, "A", out.OriginalApproverID)
	assert.Equal(t, entity.ApprovalStatusDelegated, out.Status)

	out, err = f.engine.DelegateApproval(ctx, req.ID, "C", "")
	require.NoError(t, err)
	assert.Equal(t, "A", out.OriginalApproverID, "original approver is preserved")

	require.Len(t, f.notifier.plain, 2)
	assert.Equal(t, "A", f.notifier.plain[0].RecipientID)

	_, err = f.engine.DelegateApproval(ctx, req.ID, "C", "")
	assert.ErrorIs(t, err, failure.ErrValidation)

	res, err := f.engine.SubmitDecision(ctx, req.ID, entity.DecisionApprove, "", "C")
	require.NoError(t, err)
	assert.True(t, res.ChainClosed)
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.notifier.failWith = errors.New("lark down")
	chain := f.start(t, 1, "", sequential("A", "B"))

	res := f.decide(t, chain.ID, "A", entity.DecisionApprove)
	assert.Empty(t, res.LevelOutcome)
	assert.Equal(t, entity.ApprovalStatusPending, f.requests(t, chain.ID)[1].Status)
}

func TestEscalation(t *testing.T) {
	tests := []struct {
		name         string
		action       entity.EscalationAction
		directory    *mockDirectory
		strict       bool
		alternate    string
		wantApplied  entity.EscalationAction
		wantFellBack bool
		wantApprover string
		wantStatus   entity.ApprovalStatus
		wantErr      error
	}{
		{
			name: "notify", action: entity.EscalationNotify,
			wantApplied: entity.EscalationNotify, wantApprover: "A", wantStatus: entity.ApprovalStatusEscalated,
		},
		{
			name: "manager", action: entity.EscalationAssignToManager,
			directory:   &mockDirectory{managers: map[string]string{"A": "M"}},
			wantApplied: entity.EscalationAssignToManager, wantApprover: "M", wantStatus: entity.ApprovalStatusEscalated,
		},
		{
			name: "manager missing falls back", action: entity.EscalationAssignToManager,
			directory:   &mockDirectory{managers: map[string]string{}},
			wantApplied: entity.EscalationNotify, wantFellBack: true, wantApprover: "A", wantStatus: entity.ApprovalStatusEscalated,
		},
		{
			name: "manager missing strict", action: entity.EscalationAssignToManager,
			directory: &mockDirectory{managers: map[string]string{}}, strict: true,
			wantErr: failure.ErrValidation,
		},
		{
			name: "alternate", action: entity.EscalationAssignToAlternate, alternate: "ALT",
			wantApplied: entity.EscalationAssignToAlternate, wantApprover: "ALT", wantStatus: entity.ApprovalStatusEscalated,
		},
		{
			name: "alternate missing falls back", action: entity.EscalationAssignToAlternate,
			wantApplied: entity.EscalationNotify, wantFellBack: true, wantApprover: "A", wantStatus: entity.ApprovalStatusEscalated,
		},
		{
			name: "auto approve", action: entity.EscalationAutoApprove,
			wantApplied: entity.EscalationAutoApprove, wantApprover: "A", wantStatus: entity.ApprovalStatusApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{WithStrictManagerEscalation(tt.strict)}
			if tt.directory != nil {
				opts = append(opts, WithDirectory(tt.directory))
			}
			f := newFixture(t, opts...)
			level := sequential("A")
			level.AlternateApproverID = tt.alternate
			chain := f.start(t, 1, tt.action, level)
			req := f.requests(t, chain.ID)[0]

			res, err := f.engine.EscalateApproval(context.Background(), req.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantApplied, res.Applied)
			assert.Equal(t, tt.wantFellBack, res.FellBack)
			assert.Equal(t, tt.wantApprover, res.Request.ApproverID)
			assert.Equal(t, tt.wantStatus, res.Request.Status)
			assert.Equal(t, 1, res.Request.EscalationLevel)
		})
	}
}

func TestAutoApprove_ClosesChain(t *testing.T) {
	f := newFixture(t)
	chain := f.start(t, 1, entity.EscalationAutoApprove, sequential("A"))
	req := f.requests(t, chain.ID)[0]

	_, err := f.engine.EscalateApproval(context.Background(), req.ID)
	require.NoError(t, err)

	view, err := f.engine.GetChain(context.Background(), chain.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ApprovalStatusApproved, view.Chain.OverallStatus)
	require.Len(t, f.closed, 1)
}

func TestProcessOverdue_RespectsMaxLevel(t *testing.T) {
	f := newFixture(t, WithMaxEscalationLevel(2))
	ctx := context.Background()
	chain := f.start(t, 1, entity.EscalationNotify, sequential("A"))

	report, err := f.engine.ProcessOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed, "nothing is due yet")

	for i := 0; i < 3; i++ {
		f.clock.Advance(3 * 24 * time.Hour)
		report, err = f.engine.ProcessOverdue(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, SweepReport{Skipped: 1}, report)
	assert.Equal(t, 2, f.requests(t, chain.ID)[0].EscalationLevel)
}

func TestExpireApprovals_ClosesRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chain := f.start(t, 1, "", sequential("A", "B"))

	report, err := f.engine.ExpireApprovals(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)

	f.clock.Advance(31 * 24 * time.Hour)
	report, err = f.engine.ExpireApprovals(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.ChainsClosed)

	view, err := f.engine.GetChain(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ApprovalStatusRejected, view.Chain.OverallStatus)
	assert.Equal(t, []entity.ApprovalStatus{entity.ApprovalStatusExpired, entity.ApprovalStatusExpired}, statuses(view.Requests))
}

func TestCancelChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chain := f.start(t, 1, "", sequential("A", "B"))

	out, err := f.engine.CancelChain(ctx, chain.ID, "process withdrawn", "hr-admin")
	require.NoError(t, err)
	assert.Equal(t, entity.ApprovalStatusCancelled, out.OverallStatus)
	assert.Equal(t, []entity.ApprovalStatus{entity.ApprovalStatusCancelled, entity.ApprovalStatusCancelled}, statuses(f.requests(t, chain.ID)))

	_, err = f.engine.CancelChain(ctx, chain.ID, "again", "hr-admin")
	assert.ErrorIs(t, err, failure.ErrConflict)
}

func TestLevelOutcome(t *testing.T) {
	r := func(seq int, s entity.ApprovalStatus) *entity.ApprovalRequest {
		return &entity.ApprovalRequest{Sequence: seq, Status: s}
	}
	const (
		P = entity.ApprovalStatusPending
		Q = entity.ApprovalStatusQueued
		A = entity.ApprovalStatusApproved
		R = entity.ApprovalStatusRejected
		X = entity.ApprovalStatusExpired
	)

	tests := []struct {
		name     string
		kind     entity.ApprovalType
		reqs     []*entity.ApprovalRequest
		want     entity.ApprovalStatus
		wantNext int
	}{
		{"seq active", entity.ApprovalTypeSequential, []*entity.ApprovalRequest{r(1, A), r(2, P), r(3, Q)}, "", 0},
		{"seq activate next", entity.ApprovalTypeSequential, []*entity.ApprovalRequest{r(1, A), r(2, Q), r(3, Q)}, "", 2},
		{"seq all approved", entity.ApprovalTypeSequential, []*entity.ApprovalRequest{r(1, A), r(2, A)}, A, 0},
		{"seq rejected", entity.ApprovalTypeSequential, []*entity.ApprovalRequest{r(1, A), r(2, R), r(3, Q)}, R, 0},
		{"seq expired", entity.ApprovalTypeSequential, []*entity.ApprovalRequest{r(1, A), r(2, X)}, R, 0},
		{"par open", entity.ApprovalTypeParallel, []*entity.ApprovalRequest{r(1, R), r(2, P)}, "", 0},
		{"par approved", entity.ApprovalTypeParallel, []*entity.ApprovalRequest{r(1, A), r(2, X)}, A, 0},
		{"par all expired", entity.ApprovalTypeParallel, []*entity.ApprovalRequest{r(1, X), r(2, X)}, R, 0},
		{"first open", entity.ApprovalTypeFirstApprover, []*entity.ApprovalRequest{r(1, P), r(2, P)}, "", 0},
		{"first expired", entity.ApprovalTypeFirstApprover, []*entity.ApprovalRequest{r(1, X), r(2, X)}, R, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, next := levelOutcome(tt.kind, tt.reqs)
			assert.Equal(t, tt.want, got)
			if tt.wantNext == 0 {
				assert.Nil(t, next)
			} else {
				require.NotNil(t, next)
				assert.Equal(t, tt.wantNext, next.Sequence)
			}
		})
	}
}
