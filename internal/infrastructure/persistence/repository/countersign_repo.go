package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/entity"
)

// CountersignRepository implements port.CountersignRepository
type CountersignRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCountersignRepository creates a new countersign repository
func NewCountersignRepository(db *sql.DB, logger *zap.Logger) port.CountersignRepository {
	return &CountersignRepository{
		db:     db,
		logger: logger,
	}
}

// Init creates one pending record per approver for a newly activated node
func (r *CountersignRepository) Init(ctx context.Context, nodeID int64, approvers []string) error {
	query := `
		INSERT INTO countersign_records (node_id, approver, response)
		VALUES (?, ?, ?)
	`

	for _, approver := range approvers {
		_, err := pick(ctx, r.db).ExecContext(ctx, query, nodeID, approver, entity.ResponsePending)
		if err != nil {
			r.logger.Error("Failed to init countersign record",
				zap.Int64("node_id", nodeID),
				zap.String("approver", approver),
				zap.Error(err))
			return fmt.Errorf("failed to init countersign record: %w", err)
		}
	}

	return nil
}

// Record stores one approver's response
func (r *CountersignRepository) Record(ctx context.Context, nodeID int64, approver string, response entity.CountersignResponse, comment string, at time.Time) error {
	query := `
		UPDATE countersign_records
		SET response = ?, comment = ?, responded_at = ?
		WHERE node_id = ? AND approver = ?
	`

	result, err := pick(ctx, r.db).ExecContext(ctx, query, string(response), comment, at, nodeID, approver)
	if err != nil {
		r.logger.Error("Failed to record countersign response",
			zap.Int64("node_id", nodeID),
			zap.String("approver", approver),
			zap.Error(err))
		return fmt.Errorf("failed to record countersign response: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no countersign record for approver %s on node %d", approver, nodeID)
	}

	return nil
}

// GetByNodeID returns the node's countersign records
func (r *CountersignRepository) GetByNodeID(ctx context.Context, nodeID int64) ([]*entity.CountersignRecord, error) {
	query := `
		SELECT id, node_id, approver, response, comment, responded_at
		FROM countersign_records
		WHERE node_id = ?
		ORDER BY approver
	`

	rows, err := pick(ctx, r.db).QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get countersign records: %w", err)
	}
	defer rows.Close()

	var records []*entity.CountersignRecord
	for rows.Next() {
		var record entity.CountersignRecord
		var response string
		var comment sql.NullString
		var respondedAt sql.NullTime

		err := rows.Scan(
			&record.ID,
			&record.NodeID,
			&record.Approver,
			&response,
			&comment,
			&respondedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan countersign record: %w", err)
		}

		record.Response = entity.CountersignResponse(response)
		if comment.Valid {
			record.Comment = comment.String
		}
		if respondedAt.Valid {
			record.RespondedAt = &respondedAt.Time
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

// Reassign moves a pending record from one approver to another
func (r *CountersignRepository) Reassign(ctx context.Context, nodeID int64, from, to string) error {
	query := `
		UPDATE countersign_records
		SET approver = ?
		WHERE node_id = ? AND approver = ? AND response = ?
	`

	result, err := pick(ctx, r.db).ExecContext(ctx, query, to, nodeID, from, entity.ResponsePending)
	if err != nil {
		r.logger.Error("Failed to reassign countersign record",
			zap.Int64("node_id", nodeID),
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return fmt.Errorf("failed to reassign countersign record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no pending countersign record for %s on node %d", from, nodeID)
	}

	return nil
}

// Verify interface compliance
var _ port.CountersignRepository = (*CountersignRepository)(nil)
