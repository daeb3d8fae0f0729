package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/entity"
)

// CommentRepository implements port.CommentRepository
type CommentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *sql.DB, logger *zap.Logger) port.CommentRepository {
	return &CommentRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a comment
func (r *CommentRepository) Create(ctx context.Context, comment *entity.Comment) error {
	query := `
		INSERT INTO comments (instance_id, author, content, created_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := pick(ctx, r.db).ExecContext(ctx, query,
		comment.InstanceID,
		comment.Author,
		comment.Content,
		comment.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create comment", zap.String("instance_id", comment.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create comment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	comment.ID = id

	return nil
}

// GetByInstanceID returns the instance's comments in creation order
func (r *CommentRepository) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.Comment, error) {
	query := `
		SELECT id, instance_id, author, content, created_at
		FROM comments
		WHERE instance_id = ?
		ORDER BY created_at, id
	`

	rows, err := pick(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get comments: %w", err)
	}
	defer rows.Close()

	var comments []*entity.Comment
	for rows.Next() {
		var comment entity.Comment
		err := rows.Scan(
			&comment.ID,
			&comment.InstanceID,
			&comment.Author,
			&comment.Content,
			&comment.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, &comment)
	}

	return comments, rows.Err()
}

// Verify interface compliance
var _ port.CommentRepository = (*CommentRepository)(nil)
