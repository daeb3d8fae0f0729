package entity

import (
	"time"

	"github.com/garyjia/approval-flow/internal/domain/flow"
)

// Node represents one step in an instance's approval sequence. Each node
// snapshots its compiled NodeSpec (kind, approver rule, condition) at
// instance creation, so template edits never affect in-flight cases.
type Node struct {
	ID         int64             `json:"id"`
	InstanceID string            `json:"instance_id"`
	Sequence   int               `json:"sequence"`
	Name       string            `json:"name"`
	Kind       flow.NodeKind     `json:"kind"`
	Approver   flow.ApproverSpec `json:"approver"`
	Condition  *flow.Condition   `json:"condition,omitempty"`

	Status          NodeStatus `json:"status"`
	Approvers       []string   `json:"approvers"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	ApprovalResult  Result     `json:"approval_result"`
	ApprovalComment string     `json:"approval_comment,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	// Stalled marks an activated node whose approver resolution produced an
	// empty set. The node stays IN_PROGRESS and progress is blocked until an
	// operator reassigns approvers via transfer.
	Stalled   bool      `json:"stalled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasApprover returns true if the user is in the node's resolved approver set
func (n *Node) HasApprover(userID string) bool {
	for _, a := range n.Approvers {
		if a == userID {
			return true
		}
	}
	return false
}

// CountersignRecord tracks one approver's response on a countersign node
type CountersignRecord struct {
	ID          int64               `json:"id"`
	NodeID      int64               `json:"node_id"`
	Approver    string              `json:"approver"`
	Response    CountersignResponse `json:"response"`
	Comment     string              `json:"comment,omitempty"`
	RespondedAt *time.Time          `json:"responded_at,omitempty"`
}
