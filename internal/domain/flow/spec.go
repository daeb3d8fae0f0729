package flow

// NodeKind distinguishes how a node collects approval
type NodeKind string

const (
	// KindApproval requires one approval from any member of the approver set
	KindApproval NodeKind = "approval"
	// KindCountersign requires approval from every member of the approver set
	KindCountersign NodeKind = "countersign"
)

// String returns the string representation of the kind
func (k NodeKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is one of the defined constants
func (k NodeKind) IsValid() bool {
	return k == KindApproval || k == KindCountersign
}

// ApproverKind identifies the approver resolution strategy for a node
type ApproverKind string

const (
	ApproverRole              ApproverKind = "role"
	ApproverDepartmentManager ApproverKind = "department_manager"
	ApproverInitiatorManager  ApproverKind = "initiator_manager"
	ApproverFixedUsers        ApproverKind = "fixed_users"
)

// String returns the string representation of the kind
func (k ApproverKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is one of the defined constants
func (k ApproverKind) IsValid() bool {
	switch k {
	case ApproverRole, ApproverDepartmentManager, ApproverInitiatorManager, ApproverFixedUsers:
		return true
	default:
		return false
	}
}

// ApproverSpec is the declarative rule used to compute who may act on a node.
// RoleCodes is set only for ApproverRole; UserIDs only for ApproverFixedUsers.
type ApproverSpec struct {
	Kind      ApproverKind `json:"kind"`
	RoleCodes []string     `json:"role_codes,omitempty"`
	UserIDs   []string     `json:"user_ids,omitempty"`
}

// NodeSpec is one compiled step of a template's approval flow. It is a value
// object owned by a NodeGraph; never persisted independently.
type NodeSpec struct {
	Name      string       `json:"name"`
	Sequence  int          `json:"sequence"`
	Kind      NodeKind     `json:"kind"`
	Approver  ApproverSpec `json:"approver"`
	Condition *Condition   `json:"condition,omitempty"`
}

// NodeGraph is the ordered, compiled node list for one template version
type NodeGraph struct {
	TemplateCode    string     `json:"template_code"`
	TemplateVersion int        `json:"template_version"`
	Nodes           []NodeSpec `json:"nodes"`
}
