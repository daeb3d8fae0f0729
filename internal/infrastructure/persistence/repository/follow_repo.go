package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/entity"
)

// FollowRepository implements port.FollowRepository
type FollowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFollowRepository creates a new follow repository
func NewFollowRepository(db *sql.DB, logger *zap.Logger) port.FollowRepository {
	return &FollowRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a follow record
func (r *FollowRepository) Create(ctx context.Context, follow *entity.Follow) error {
	query := `
		INSERT INTO follows (instance_id, user_id, created_at)
		VALUES (?, ?, ?)
	`

	result, err := pick(ctx, r.db).ExecContext(ctx, query,
		follow.InstanceID,
		follow.UserID,
		follow.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create follow", zap.String("instance_id", follow.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create follow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	follow.ID = id

	return nil
}

// GetByInstanceID returns the instance's followers
func (r *FollowRepository) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.Follow, error) {
	query := `
		SELECT id, instance_id, user_id, created_at
		FROM follows
		WHERE instance_id = ?
		ORDER BY created_at, id
	`

	rows, err := pick(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get follows: %w", err)
	}
	defer rows.Close()

	var follows []*entity.Follow
	for rows.Next() {
		var follow entity.Follow
		err := rows.Scan(
			&follow.ID,
			&follow.InstanceID,
			&follow.UserID,
			&follow.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan follow: %w", err)
		}
		follows = append(follows, &follow)
	}

	return follows, rows.Err()
}

// Exists reports whether the user already follows the instance
func (r *FollowRepository) Exists(ctx context.Context, instanceID, userID string) (bool, error) {
	query := `
		SELECT EXISTS(SELECT 1 FROM follows WHERE instance_id = ? AND user_id = ?)
	`

	var exists bool
	err := pick(ctx, r.db).QueryRowContext(ctx, query, instanceID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check follow: %w", err)
	}

	return exists, nil
}

// Verify interface compliance
var _ port.FollowRepository = (*FollowRepository)(nil)
