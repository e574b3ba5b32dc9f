package workflow

import "context"

// NewInstanceLifecycle returns the instance state machine positioned at current.
// pausedFrom is the status held before a pause and selects the Resume target.
func NewInstanceLifecycle(current, pausedFrom State) StateMachine {
	b := NewBuilder()

	resumeTo := func(target State) GuardFunc {
		return func(context.Context) bool { return pausedFrom == target }
	}

	b.Configure(StatePending).
		Permit(TriggerStart, StateRunning).
		Permit(TriggerCancel, StateCancelled).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateRunning).
		Permit(TriggerWaitTask, StateWaitingForTask).
		Permit(TriggerWaitApproval, StateWaitingForApproval).
		Permit(TriggerWaitInput, StateWaitingForInput).
		Permit(TriggerPause, StatePaused).
		Permit(TriggerComplete, StateCompleted).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerCancel, StateCancelled)

	for _, waiting := range []State{StateWaitingForTask, StateWaitingForApproval, StateWaitingForInput} {
		b.Configure(waiting).
			Permit(TriggerResumeWait, StateRunning).
			Permit(TriggerPause, StatePaused).
			Permit(TriggerFail, StateFailed).
			Permit(TriggerCancel, StateCancelled)
	}

	b.Configure(StatePaused).
		PermitIf(TriggerResume, StateRunning, resumeTo(StateRunning)).
		PermitIf(TriggerResume, StateWaitingForTask, resumeTo(StateWaitingForTask)).
		PermitIf(TriggerResume, StateWaitingForApproval, resumeTo(StateWaitingForApproval)).
		PermitIf(TriggerResume, StateWaitingForInput, resumeTo(StateWaitingForInput)).
		PermitIf(TriggerResume, StateRunning, func(context.Context) bool { return pausedFrom == "" }).
		Permit(TriggerCancel, StateCancelled)

	return b.Build(current)
}

// WaitTrigger returns the trigger that parks a running instance in the given waiting state
func WaitTrigger(waiting State) (Trigger, bool) {
	switch waiting {
	case StateWaitingForTask:
		return TriggerWaitTask, true
	case StateWaitingForApproval:
		return TriggerWaitApproval, true
	case StateWaitingForInput:
		return TriggerWaitInput, true
	}
	return "", false
}
