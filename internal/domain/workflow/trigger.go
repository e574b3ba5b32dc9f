package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerStart        Trigger = "START"
	TriggerWaitTask     Trigger = "WAIT_TASK"
	TriggerWaitApproval Trigger = "WAIT_APPROVAL"
	TriggerWaitInput    Trigger = "WAIT_INPUT"
	TriggerResumeWait   Trigger = "RESUME_WAIT"
	TriggerPause        Trigger = "PAUSE"
	TriggerResume       Trigger = "RESUME"
	TriggerComplete     Trigger = "COMPLETE"
	TriggerFail         Trigger = "FAIL"
	TriggerCancel       Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
