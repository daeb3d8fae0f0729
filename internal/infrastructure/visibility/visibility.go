// Package visibility implements the default participant-based view check:
// a user may view an instance if they initiated it, were resolved as an
// approver on any of its nodes, or already follow it.
package visibility

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/approval-flow/internal/application/port"
)

// ParticipantVisibility implements port.Visibility
type ParticipantVisibility struct {
	db *sql.DB
}

// NewParticipantVisibility creates the default visibility checker
func NewParticipantVisibility(db *sql.DB) *ParticipantVisibility {
	return &ParticipantVisibility{db: db}
}

// CanView reports whether the user participates in the instance
func (v *ParticipantVisibility) CanView(ctx context.Context, userID, instanceID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM instances WHERE id = ? AND initiator = ?
		) OR EXISTS(
			SELECT 1 FROM nodes
			WHERE instance_id = ? AND approvers LIKE '%"' || ? || '"%'
		) OR EXISTS(
			SELECT 1 FROM follows WHERE instance_id = ? AND user_id = ?
		)
	`

	var ok bool
	err := v.db.QueryRowContext(ctx, query,
		instanceID, userID,
		instanceID, userID,
		instanceID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check visibility: %w", err)
	}

	return ok, nil
}

// Verify interface compliance
var _ port.Visibility = (*ParticipantVisibility)(nil)
