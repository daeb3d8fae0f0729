package entity

// InstanceStatus is the lifecycle status of an approval instance
type InstanceStatus string

const (
	InstancePending    InstanceStatus = "PENDING"
	InstanceInProgress InstanceStatus = "IN_PROGRESS"
	InstanceApproved   InstanceStatus = "APPROVED"
	InstanceRejected   InstanceStatus = "REJECTED"
	InstanceWithdrawn  InstanceStatus = "WITHDRAWN"
)

// IsTerminal returns true if no further transitions are allowed
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceApproved, InstanceRejected, InstanceWithdrawn:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status
func (s InstanceStatus) String() string {
	return string(s)
}

// NodeStatus is the lifecycle status of a single approval node
type NodeStatus string

const (
	NodePending    NodeStatus = "PENDING"
	NodeSkipped    NodeStatus = "SKIPPED"
	NodeInProgress NodeStatus = "IN_PROGRESS"
	NodeApproved   NodeStatus = "APPROVED"
	NodeRejected   NodeStatus = "REJECTED"
)

// String returns the string representation of the status
func (s NodeStatus) String() string {
	return string(s)
}

// Result is the outcome of an instance or node
type Result string

const (
	ResultNone     Result = "NONE"
	ResultApproved Result = "APPROVED"
	ResultRejected Result = "REJECTED"
)

// String returns the string representation of the result
func (r Result) String() string {
	return string(r)
}

// Action identifies an operation an actor can submit against an instance
type Action string

const (
	ActionApprove  Action = "APPROVE"
	ActionReject   Action = "REJECT"
	ActionTransfer Action = "TRANSFER"
	ActionRevoke   Action = "REVOKE"
	ActionComment  Action = "COMMENT"
	ActionFollow   Action = "FOLLOW"
)

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid returns true if the action is one of the defined constants
func (a Action) IsValid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionTransfer, ActionRevoke, ActionComment, ActionFollow:
		return true
	default:
		return false
	}
}

// CountersignResponse is one approver's answer on a countersign node
type CountersignResponse string

const (
	ResponsePending  CountersignResponse = "PENDING"
	ResponseApproved CountersignResponse = "APPROVED"
	ResponseRejected CountersignResponse = "REJECTED"
)
