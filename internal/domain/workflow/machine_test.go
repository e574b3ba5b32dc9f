package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateRunning, false},
		{StateWaitingForTask, false},
		{StateWaitingForApproval, false},
		{StateWaitingForInput, false},
		{StatePaused, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	for _, s := range States() {
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if State("ARCHIVED").IsValid() {
		t.Error("unknown state should be invalid")
	}
	if State("").IsValid() {
		t.Error("empty state should be invalid")
	}
}

func TestBuilder_ConfigureReturnsSameConfig(t *testing.T) {
	builder := NewBuilder()
	if builder.Configure(StateRunning) != builder.Configure(StateRunning) {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_Panics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"invalid state", func() { NewBuilder().Configure(State("INVALID")) }},
		{"terminal state", func() { NewBuilder().Configure(StateCompleted) }},
		{"invalid target", func() { NewBuilder().Configure(StatePending).Permit(TriggerStart, State("X")) }},
		{"invalid initial", func() { NewBuilder().Build(State("X")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestBuild_CopiesConfiguration(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerStart, StateRunning)
	machine := builder.Build(StatePending)

	builder.Configure(StatePending).Permit(TriggerCancel, StateCancelled)

	if machine.CanFire(TriggerCancel) {
		t.Error("machine should not see transitions added after Build()")
	}
}

func TestFire_GuardOrder(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePaused).
		PermitIf(TriggerResume, StateWaitingForTask, func(ctx context.Context) bool { return false }).
		PermitIf(TriggerResume, StateRunning, func(ctx context.Context) bool { return true })

	machine := builder.Build(StatePaused)
	if err := machine.Fire(context.Background(), TriggerResume); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine.State() != StateRunning {
		t.Errorf("State = %v, want %v", machine.State(), StateRunning)
	}
}

func TestFire_AllGuardsFail(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePaused).
		PermitIf(TriggerResume, StateRunning, func(ctx context.Context) bool { return false })

	machine := builder.Build(StatePaused)
	err := machine.Fire(context.Background(), TriggerResume)
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if machine.State() != StatePaused {
		t.Errorf("State should remain %v, got %v", StatePaused, machine.State())
	}
}

func TestInstanceLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name       string
		from       State
		pausedFrom State
		trigger    Trigger
		want       State
		wantErr    error
	}{
		{"start", StatePending, "", TriggerStart, StateRunning, nil},
		{"wait task", StateRunning, "", TriggerWaitTask, StateWaitingForTask, nil},
		{"wait approval", StateRunning, "", TriggerWaitApproval, StateWaitingForApproval, nil},
		{"wait input", StateRunning, "", TriggerWaitInput, StateWaitingForInput, nil},
		{"resume wait", StateWaitingForApproval, "", TriggerResumeWait, StateRunning, nil},
		{"complete", StateRunning, "", TriggerComplete, StateCompleted, nil},
		{"fail", StateRunning, "", TriggerFail, StateFailed, nil},
		{"pause waiting", StateWaitingForTask, "", TriggerPause, StatePaused, nil},
		{"resume to waiting", StatePaused, StateWaitingForTask, TriggerResume, StateWaitingForTask, nil},
		{"resume to running", StatePaused, StateRunning, TriggerResume, StateRunning, nil},
		{"resume legacy pause", StatePaused, "", TriggerResume, StateRunning, nil},
		{"cancel pending", StatePending, "", TriggerCancel, StateCancelled, nil},
		{"cancel paused", StatePaused, StateRunning, TriggerCancel, StateCancelled, nil},
		{"cancel waiting", StateWaitingForInput, "", TriggerCancel, StateCancelled, nil},
		{"resume not paused", StateRunning, "", TriggerResume, StateRunning, ErrInvalidTransition},
		{"complete from waiting", StateWaitingForTask, "", TriggerComplete, StateWaitingForTask, ErrInvalidTransition},
		{"cancel terminal", StateCompleted, "", TriggerCancel, StateCompleted, ErrInvalidTransition},
		{"start twice", StateRunning, "", TriggerStart, StateRunning, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := NewInstanceLifecycle(tt.from, tt.pausedFrom)
			err := machine.Fire(context.Background(), tt.trigger)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Fire() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Errorf("Fire() failed: %v", err)
			}

			if machine.State() != tt.want {
				t.Errorf("State = %v, want %v", machine.State(), tt.want)
			}
		})
	}
}

func TestInstanceLifecycle_TerminalHasNoTriggers(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		if got := NewInstanceLifecycle(s, "").PermittedTriggers(); len(got) != 0 {
			t.Errorf("%s permitted triggers = %v, want none", s, got)
		}
	}
}

func TestInstanceLifecycle_CancelFromEveryNonTerminal(t *testing.T) {
	for _, s := range States() {
		if s.IsTerminal() {
			continue
		}
		if !NewInstanceLifecycle(s, StateRunning).CanFire(TriggerCancel) {
			t.Errorf("cancel should be permitted from %s", s)
		}
	}
}

func TestWaitTrigger(t *testing.T) {
	if trig, ok := WaitTrigger(StateWaitingForApproval); !ok || trig != TriggerWaitApproval {
		t.Errorf("WaitTrigger() = %v, %v", trig, ok)
	}
	if _, ok := WaitTrigger(StateRunning); ok {
		t.Error("running is not a waiting state")
	}
}
