package entity

import "time"

// Comment is an append-only remark on an instance. Comments never affect
// state-machine transitions.
type Comment struct {
	ID         int64     `json:"id"`
	InstanceID string    `json:"instance_id"`
	Author     string    `json:"author"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Follow subscribes a user to an instance's progress.
type Follow struct {
	ID         int64     `json:"id"`
	InstanceID string    `json:"instance_id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
}
