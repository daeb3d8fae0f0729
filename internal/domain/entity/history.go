package entity

import "time"

// ActionHistory is an append-only record of one action applied to an instance
type ActionHistory struct {
	ID             int64     `json:"id"`
	InstanceID     string    `json:"instance_id"`
	ActorUserID    string    `json:"actor_user_id"`
	NodeSequence   *int      `json:"node_sequence,omitempty"`
	Action         string    `json:"action"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
