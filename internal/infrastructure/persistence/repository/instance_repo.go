package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/entity"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new approval instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.Instance) error {
	formData, err := json.Marshal(instance.FormData)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}

	query := `
		INSERT INTO instances (
			id, template_code, template_version, initiator, initiator_dept,
			business_type, business_id, form_data, status, final_result,
			current_node_seq, initiated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = pick(ctx, r.db).ExecContext(ctx, query,
		instance.ID,
		instance.TemplateCode,
		instance.TemplateVersion,
		instance.Initiator,
		instance.InitiatorDept,
		instance.BusinessType,
		instance.BusinessID,
		string(formData),
		instance.Status.String(),
		instance.FinalResult.String(),
		nullableInt(instance.CurrentNodeSeq),
		instance.InitiatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	return nil
}

// GetByID retrieves an approval instance by ID. Nodes are not loaded.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.Instance, error) {
	query := `
		SELECT id, template_code, template_version, initiator, initiator_dept,
			business_type, business_id, form_data, status, final_result,
			current_node_seq, initiated_at, completed_at, created_at, updated_at
		FROM instances
		WHERE id = ?
	`

	instance, err := scanInstance(pick(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return instance, nil
}

// UpdateState persists status, final result, current node reference and
// completion time in one statement
func (r *InstanceRepository) UpdateState(ctx context.Context, instance *entity.Instance) error {
	query := `
		UPDATE instances
		SET status = ?, final_result = ?, current_node_seq = ?, completed_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := pick(ctx, r.db).ExecContext(ctx, query,
		instance.Status.String(),
		instance.FinalResult.String(),
		nullableInt(instance.CurrentNodeSeq),
		instance.CompletedAt,
		instance.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update instance state", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance state: %w", err)
	}

	return nil
}

// ListByInitiator returns an initiator's instances, newest first
func (r *InstanceRepository) ListByInitiator(ctx context.Context, initiator string, limit, offset int) ([]*entity.Instance, error) {
	query := `
		SELECT id, template_code, template_version, initiator, initiator_dept,
			business_type, business_id, form_data, status, final_result,
			current_node_seq, initiated_at, completed_at, created_at, updated_at
		FROM instances
		WHERE initiator = ?
		ORDER BY initiated_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := pick(ctx, r.db).QueryContext(ctx, query, initiator, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*entity.Instance, error) {
	var instance entity.Instance
	var formData, status, finalResult string
	var currentNodeSeq sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&instance.TemplateCode,
		&instance.TemplateVersion,
		&instance.Initiator,
		&instance.InitiatorDept,
		&instance.BusinessType,
		&instance.BusinessID,
		&formData,
		&status,
		&finalResult,
		&currentNodeSeq,
		&instance.InitiatedAt,
		&completedAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = entity.InstanceStatus(status)
	instance.FinalResult = entity.Result(finalResult)

	if err := json.Unmarshal([]byte(formData), &instance.FormData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal form data: %w", err)
	}
	if currentNodeSeq.Valid {
		seq := int(currentNodeSeq.Int64)
		instance.CurrentNodeSeq = &seq
	}
	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}

	return &instance, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
