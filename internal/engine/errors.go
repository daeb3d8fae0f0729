package engine

import "errors"

var (
	// ErrInstanceNotFound is returned when the instance ID resolves to nothing
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrUnauthorized is returned when the actor is not entitled to perform
	// the requested action on the current node. Never mutates state.
	ErrUnauthorized = errors.New("actor not authorized")

	// ErrInvalidState is returned when an action is attempted against an
	// instance or node not in a state that permits it
	ErrInvalidState = errors.New("invalid state for action")

	// ErrStalledNode is returned when an approval action targets a node whose
	// resolution produced an empty approver set. The node must be reassigned
	// via transfer before anyone can act on it.
	ErrStalledNode = errors.New("node stalled: no resolved approvers")

	// ErrInvalidTransferTarget is returned when a transfer target fails
	// eligibility checks
	ErrInvalidTransferTarget = errors.New("invalid transfer target")
)
