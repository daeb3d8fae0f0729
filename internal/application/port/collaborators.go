package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-flow/internal/domain/event"
)

// DirectoryLookup is the user/department directory capability consumed by the
// approver resolver. The engine never owns user data; the host supplies an
// implementation backed by its directory of record.
type DirectoryLookup interface {
	// UsersWithRole returns the active users holding any of the role codes
	UsersWithRole(ctx context.Context, roleCodes []string) ([]string, error)

	// DepartmentManager returns the manager of a department, or "" when the
	// department has no manager configured
	DepartmentManager(ctx context.Context, departmentID string) (string, error)

	// ManagerOf returns a user's direct manager, or "" when none is configured
	ManagerOf(ctx context.Context, userID string) (string, error)

	// IsActive reports whether the user account is currently active
	IsActive(ctx context.Context, userID string) (bool, error)
}

// EventSink receives domain events after the transition that raised them has
// been durably committed. Delivery is fire-and-forget from the engine's
// perspective.
type EventSink interface {
	Publish(ctx context.Context, evt *event.Event) error
}

// Visibility decides whether a user may view an instance. Comment and follow
// actions delegate their authorization here.
type Visibility interface {
	CanView(ctx context.Context, userID, instanceID string) (bool, error)
}

// Clock supplies the current time. Injected so tests control timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock
type SystemClock struct{}

// Now returns the current wall-clock time
func (SystemClock) Now() time.Time {
	return time.Now()
}
