package workflow

// State is a workflow instance lifecycle state
type State string

const (
	StatePending            State = "PENDING"
	StateRunning            State = "RUNNING"
	StateWaitingForTask     State = "WAITING_FOR_TASK"
	StateWaitingForApproval State = "WAITING_FOR_APPROVAL"
	StateWaitingForInput    State = "WAITING_FOR_INPUT"
	StatePaused             State = "PAUSED"
	StateCompleted          State = "COMPLETED"
	StateFailed             State = "FAILED"
	StateCancelled          State = "CANCELLED"
)

var validStates = map[State]bool{
	StatePending:            true,
	StateRunning:            true,
	StateWaitingForTask:     true,
	StateWaitingForApproval: true,
	StateWaitingForInput:    true,
	StatePaused:             true,
	StateCompleted:          true,
	StateFailed:             true,
	StateCancelled:          true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
	StateCancelled: true,
}

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}

// States returns every lifecycle state in declaration order
func States() []State {
	return []State{
		StatePending,
		StateRunning,
		StateWaitingForTask,
		StateWaitingForApproval,
		StateWaitingForInput,
		StatePaused,
		StateCompleted,
		StateFailed,
		StateCancelled,
	}
}
