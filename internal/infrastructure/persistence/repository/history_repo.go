package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/entity"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an action history record
func (r *HistoryRepository) Create(ctx context.Context, history *entity.ActionHistory) error {
	query := `
		INSERT INTO action_history (
			instance_id, actor_user_id, node_sequence, action,
			previous_status, new_status, detail, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := pick(ctx, r.db).ExecContext(ctx, query,
		history.InstanceID,
		history.ActorUserID,
		nullableInt(history.NodeSequence),
		history.Action,
		history.PreviousStatus,
		history.NewStatus,
		history.Detail,
		history.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.String("instance_id", history.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create history record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	history.ID = id

	return nil
}

// GetByInstanceID returns the instance's history in order
func (r *HistoryRepository) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.ActionHistory, error) {
	query := `
		SELECT id, instance_id, actor_user_id, node_sequence, action,
			previous_status, new_status, detail, timestamp
		FROM action_history
		WHERE instance_id = ?
		ORDER BY timestamp, id
	`

	rows, err := pick(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.ActionHistory
	for rows.Next() {
		var record entity.ActionHistory
		var nodeSeq sql.NullInt64

		err := rows.Scan(
			&record.ID,
			&record.InstanceID,
			&record.ActorUserID,
			&nodeSeq,
			&record.Action,
			&record.PreviousStatus,
			&record.NewStatus,
			&record.Detail,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}

		if nodeSeq.Valid {
			seq := int(nodeSeq.Int64)
			record.NodeSequence = &seq
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
