package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/flow"
)

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new template
func (r *TemplateRepository) Create(ctx context.Context, tpl *flow.Template) error {
	query := `
		INSERT INTO templates (code, name, version, status, form_schema, flow_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := pick(ctx, r.db).ExecContext(ctx, query,
		tpl.Code,
		tpl.Name,
		tpl.Version,
		tpl.Status.String(),
		string(tpl.FormSchema),
		string(tpl.FlowConfig),
		tpl.CreatedAt,
		tpl.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create template", zap.String("code", tpl.Code), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	return nil
}

// GetByCode retrieves a template by its unique code
func (r *TemplateRepository) GetByCode(ctx context.Context, code string) (*flow.Template, error) {
	query := `
		SELECT code, name, version, status, form_schema, flow_config, created_at, updated_at
		FROM templates
		WHERE code = ?
	`

	tpl, err := scanTemplate(pick(ctx, r.db).QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.String("code", code), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return tpl, nil
}

// UpdateFlowConfig replaces the flow configuration and bumps the version
func (r *TemplateRepository) UpdateFlowConfig(ctx context.Context, code string, flowConfig []byte) error {
	query := `
		UPDATE templates
		SET flow_config = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE code = ?
	`

	result, err := pick(ctx, r.db).ExecContext(ctx, query, string(flowConfig), code)
	if err != nil {
		r.logger.Error("Failed to update template flow config", zap.String("code", code), zap.Error(err))
		return fmt.Errorf("failed to update template flow config: %w", err)
	}

	return requireRow(result, code)
}

// UpdateStatus changes the template's publication status
func (r *TemplateRepository) UpdateStatus(ctx context.Context, code string, status flow.TemplateStatus) error {
	query := `
		UPDATE templates
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE code = ?
	`

	result, err := pick(ctx, r.db).ExecContext(ctx, query, status.String(), code)
	if err != nil {
		r.logger.Error("Failed to update template status", zap.String("code", code), zap.Error(err))
		return fmt.Errorf("failed to update template status: %w", err)
	}

	return requireRow(result, code)
}

// List returns templates ordered by code
func (r *TemplateRepository) List(ctx context.Context, limit, offset int) ([]*flow.Template, error) {
	query := `
		SELECT code, name, version, status, form_schema, flow_config, created_at, updated_at
		FROM templates
		ORDER BY code
		LIMIT ? OFFSET ?
	`

	rows, err := pick(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*flow.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tpl)
	}

	return templates, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*flow.Template, error) {
	var tpl flow.Template
	var status, formSchema, flowConfig string

	err := row.Scan(
		&tpl.Code,
		&tpl.Name,
		&tpl.Version,
		&status,
		&formSchema,
		&flowConfig,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tpl.Status = flow.TemplateStatus(status)
	tpl.FormSchema = []byte(formSchema)
	tpl.FlowConfig = []byte(flowConfig)
	return &tpl, nil
}

func requireRow(result sql.Result, code string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %s not found", code)
	}
	return nil
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)
