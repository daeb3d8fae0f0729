package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceCreated     Type = "instance.created"
	TypeInstanceCompleted   Type = "instance.completed"
	TypeInstanceWithdrawn   Type = "instance.withdrawn"
	TypeNodeActivated       Type = "node.activated"
	TypeNodeApproved        Type = "node.approved"
	TypeNodeRejected        Type = "node.rejected"
	TypeNodeStalled         Type = "node.stalled"
	TypeApproverTransferred Type = "node.transferred"
	TypeCommentAdded        Type = "comment.added"
	TypeFollowAdded         Type = "follow.added"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInstanceCreated,
		TypeInstanceCompleted,
		TypeInstanceWithdrawn,
		TypeNodeActivated,
		TypeNodeApproved,
		TypeNodeRejected,
		TypeNodeStalled,
		TypeApproverTransferred,
		TypeCommentAdded,
		TypeFollowAdded:
		return true
	default:
		return false
	}
}
