package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	// TriggerActivate fires when the first node of a new instance activates
	TriggerActivate Trigger = "ACTIVATE"
	// TriggerFinish fires when the last qualifying node has been approved
	TriggerFinish Trigger = "FINISH"
	// TriggerReject fires when any current node is rejected
	TriggerReject Trigger = "REJECT"
	// TriggerWithdraw fires when the initiator revokes the instance
	TriggerWithdraw Trigger = "WITHDRAW"
	// TriggerVacuousApprove fires when every node was skipped at creation
	// and the configured vacuous result is approval
	TriggerVacuousApprove Trigger = "VACUOUS_APPROVE"
	// TriggerVacuousReject fires when every node was skipped at creation
	// and the configured vacuous result is rejection
	TriggerVacuousReject Trigger = "VACUOUS_REJECT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
