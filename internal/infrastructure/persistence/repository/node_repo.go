package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/entity"
	"github.com/garyjia/approval-flow/internal/domain/flow"
)

// NodeRepository implements port.NodeRepository. The approver spec and
// condition columns hold the JSON snapshot taken from the compiled graph at
// instance creation.
type NodeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNodeRepository creates a new node repository
func NewNodeRepository(db *sql.DB, logger *zap.Logger) port.NodeRepository {
	return &NodeRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts one row per node and backfills the generated IDs
func (r *NodeRepository) CreateBatch(ctx context.Context, nodes []*entity.Node) error {
	query := `
		INSERT INTO nodes (
			instance_id, sequence, name, kind, approver_spec, condition_spec,
			status, approvers, approval_result, stalled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, node := range nodes {
		approverSpec, err := json.Marshal(node.Approver)
		if err != nil {
			return fmt.Errorf("failed to marshal approver spec: %w", err)
		}
		conditionSpec, err := marshalCondition(node.Condition)
		if err != nil {
			return err
		}
		approvers, err := json.Marshal(node.Approvers)
		if err != nil {
			return fmt.Errorf("failed to marshal approvers: %w", err)
		}

		result, err := pick(ctx, r.db).ExecContext(ctx, query,
			node.InstanceID,
			node.Sequence,
			node.Name,
			node.Kind.String(),
			string(approverSpec),
			conditionSpec,
			node.Status.String(),
			string(approvers),
			node.ApprovalResult.String(),
			node.Stalled,
		)
		if err != nil {
			r.logger.Error("Failed to create node",
				zap.String("instance_id", node.InstanceID),
				zap.Int("sequence", node.Sequence),
				zap.Error(err))
			return fmt.Errorf("failed to create node: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		node.ID = id
	}

	return nil
}

// GetByInstanceID returns the instance's nodes ordered by sequence
func (r *NodeRepository) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.Node, error) {
	query := `
		SELECT id, instance_id, sequence, name, kind, approver_spec, condition_spec,
			status, approvers, approved_by, approval_result, approval_comment,
			approved_at, stalled, created_at, updated_at
		FROM nodes
		WHERE instance_id = ?
		ORDER BY sequence
	`

	rows, err := pick(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*entity.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}

	return nodes, rows.Err()
}

// Update persists the node's mutable fields
func (r *NodeRepository) Update(ctx context.Context, node *entity.Node) error {
	approvers, err := json.Marshal(node.Approvers)
	if err != nil {
		return fmt.Errorf("failed to marshal approvers: %w", err)
	}

	query := `
		UPDATE nodes
		SET status = ?, approvers = ?, approved_by = ?, approval_result = ?,
			approval_comment = ?, approved_at = ?, stalled = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err = pick(ctx, r.db).ExecContext(ctx, query,
		node.Status.String(),
		string(approvers),
		node.ApprovedBy,
		node.ApprovalResult.String(),
		node.ApprovalComment,
		node.ApprovedAt,
		node.Stalled,
		node.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update node", zap.Int64("id", node.ID), zap.Error(err))
		return fmt.Errorf("failed to update node: %w", err)
	}

	return nil
}

// ListStalled returns in-progress nodes flagged stalled, oldest first
func (r *NodeRepository) ListStalled(ctx context.Context, limit int) ([]*entity.Node, error) {
	query := `
		SELECT id, instance_id, sequence, name, kind, approver_spec, condition_spec,
			status, approvers, approved_by, approval_result, approval_comment,
			approved_at, stalled, created_at, updated_at
		FROM nodes
		WHERE stalled = 1 AND status = ?
		ORDER BY updated_at
		LIMIT ?
	`

	rows, err := pick(ctx, r.db).QueryContext(ctx, query, entity.NodeInProgress.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*entity.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}

	return nodes, rows.Err()
}

func scanNode(row rowScanner) (*entity.Node, error) {
	var node entity.Node
	var kind, approverSpec, status, approvers string
	var conditionSpec, approvedBy, approvalComment sql.NullString
	var approvalResult string
	var approvedAt sql.NullTime

	err := row.Scan(
		&node.ID,
		&node.InstanceID,
		&node.Sequence,
		&node.Name,
		&kind,
		&approverSpec,
		&conditionSpec,
		&status,
		&approvers,
		&approvedBy,
		&approvalResult,
		&approvalComment,
		&approvedAt,
		&node.Stalled,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	node.Kind = flow.NodeKind(kind)
	node.Status = entity.NodeStatus(status)
	node.ApprovalResult = entity.Result(approvalResult)

	if err := json.Unmarshal([]byte(approverSpec), &node.Approver); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approver spec: %w", err)
	}
	if err := json.Unmarshal([]byte(approvers), &node.Approvers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approvers: %w", err)
	}
	if conditionSpec.Valid && conditionSpec.String != "" {
		var cond flow.Condition
		if err := json.Unmarshal([]byte(conditionSpec.String), &cond); err != nil {
			return nil, fmt.Errorf("failed to unmarshal condition: %w", err)
		}
		node.Condition = &cond
	}
	if approvedBy.Valid {
		node.ApprovedBy = &approvedBy.String
	}
	if approvalComment.Valid {
		node.ApprovalComment = approvalComment.String
	}
	if approvedAt.Valid {
		node.ApprovedAt = &approvedAt.Time
	}

	return &node, nil
}

func marshalCondition(cond *flow.Condition) (interface{}, error) {
	if cond == nil {
		return nil, nil
	}
	data, err := json.Marshal(cond)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal condition: %w", err)
	}
	return string(data), nil
}

// Verify interface compliance
var _ port.NodeRepository = (*NodeRepository)(nil)
