package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/approval"
	"github.com/garyjia/hr-orchestrator/internal/application/retry"
)

func TestScheduler_AddJob(t *testing.T) {
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name    string
		job     string
		spec    string
		fn      JobFunc
		wantErr bool
	}{
		{name: "standard spec", job: "a", spec: "*/5 * * * *", fn: noop},
		{name: "descriptor", job: "b", spec: "@every 10m", fn: noop},
		{name: "disabled", job: "c", spec: "", fn: noop},
		{name: "bad spec", job: "d", spec: "every tuesday", fn: noop, wantErr: true},
		{name: "missing func", job: "e", spec: "@hourly", wantErr: true},
		{name: "duplicate", job: "a", spec: "@hourly", fn: noop, wantErr: true},
	}

	s := NewScheduler(zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AddJob(tt.job, tt.spec, tt.fn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	var runs int32
	require.NoError(t, s.AddJob("count", "", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	require.NoError(t, s.AddJob("fail", "", func(context.Context) error {
		return errors.New("store down")
	}))

	require.NoError(t, s.RunNow(context.Background(), "count"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))
	assert.EqualError(t, s.RunNow(context.Background(), "fail"), "store down")
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.RunNow(ctx, "count"), context.Canceled)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	var runs int32
	require.NoError(t, s.AddJob("tick", "@every 1s", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.AddJob("late", "@hourly", func(context.Context) error { return nil }))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) > 0 }, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

type fakeSweeper struct {
	overdue int
	maxAge  int
}

func (f *fakeSweeper) ProcessOverdue(context.Context) (approval.SweepReport, error) {
	f.overdue++
	return approval.SweepReport{Processed: 2}, nil
}

func (f *fakeSweeper) ExpireApprovals(_ context.Context, maxAgeDays int) (approval.SweepReport, error) {
	f.maxAge = maxAgeDays
	return approval.SweepReport{}, nil
}

type fakeReplayer struct {
	limit int
	err   error
}

func (f *fakeReplayer) ReplayPending(_ context.Context, limit int) (retry.ReplayReport, error) {
	f.limit = limit
	return retry.ReplayReport{Resolved: 1}, f.err
}

func TestJobs(t *testing.T) {
	sweeper := &fakeSweeper{}
	replayer := &fakeReplayer{}

	s := NewScheduler(zap.NewNop())
	require.NoError(t, s.AddJob(JobEscalateOverdue, "@every 15m", EscalationJob(sweeper)))
	require.NoError(t, s.AddJob(JobExpireApprovals, "@daily", ExpiryJob(sweeper, 30)))
	require.NoError(t, s.AddJob(JobReplayDeadLetter, "@every 5m", ReplayJob(replayer, 25, zap.NewNop())))

	ctx := context.Background()
	require.NoError(t, s.RunNow(ctx, JobEscalateOverdue))
	require.NoError(t, s.RunNow(ctx, JobExpireApprovals))
	require.NoError(t, s.RunNow(ctx, JobReplayDeadLetter))

	assert.Equal(t, 1, sweeper.overdue)
	assert.Equal(t, 30, sweeper.maxAge)
	assert.Equal(t, 25, replayer.limit)

	replayer.err = errors.New("list failed")
	assert.Error(t, s.RunNow(ctx, JobReplayDeadLetter))
}
