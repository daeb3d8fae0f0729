package entity

import "time"

// Instance represents one running or completed approval case
type Instance struct {
	ID              string                 `json:"id"`
	TemplateCode    string                 `json:"template_code"`
	TemplateVersion int                    `json:"template_version"`
	Initiator       string                 `json:"initiator"`
	InitiatorDept   string                 `json:"initiator_dept"`
	BusinessType    string                 `json:"business_type"`
	BusinessID      string                 `json:"business_id"`
	FormData        map[string]interface{} `json:"form_data"`
	Status          InstanceStatus         `json:"status"`
	FinalResult     Result                 `json:"final_result"`
	CurrentNodeSeq  *int                   `json:"current_node_seq,omitempty"`
	InitiatedAt     time.Time              `json:"initiated_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`

	// Nodes is the ordered node collection, one per compiled NodeSpec.
	// Populated by the repository; ordered by Sequence.
	Nodes []*Node `json:"nodes,omitempty"`
}

// CurrentNode returns the node referenced by CurrentNodeSeq, or nil
func (i *Instance) CurrentNode() *Node {
	if i.CurrentNodeSeq == nil {
		return nil
	}
	return i.NodeAt(*i.CurrentNodeSeq)
}

// NodeAt returns the node with the given sequence, or nil
func (i *Instance) NodeAt(sequence int) *Node {
	for _, n := range i.Nodes {
		if n.Sequence == sequence {
			return n
		}
	}
	return nil
}

// IsTerminal returns true if the instance reached a terminal status
func (i *Instance) IsTerminal() bool {
	return i.Status.IsTerminal()
}
