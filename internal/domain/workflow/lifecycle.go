package workflow

// NewInstanceMachine builds the lifecycle state machine for an approval
// instance, positioned at the given current state. The configuration encodes
// every legal transition; the case engine fires triggers through it before
// mutating any persistent state, so an illegal transition is rejected with
// ErrInvalidTransition and nothing else happens.
func NewInstanceMachine(current State) StateMachine {
	builder := NewBuilder()

	builder.Configure(StatePending).
		Permit(TriggerActivate, StateInProgress).
		Permit(TriggerWithdraw, StateWithdrawn).
		Permit(TriggerVacuousApprove, StateApproved).
		Permit(TriggerVacuousReject, StateRejected)

	builder.Configure(StateInProgress).
		Permit(TriggerFinish, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerWithdraw, StateWithdrawn)

	// Terminal states permit nothing.

	return builder.Build(current)
}
