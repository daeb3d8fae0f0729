package service

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/flow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// TemplateService manages approval template lifecycle. Flow configurations
// are compiled at save time so malformed templates are rejected before any
// instance can reference them.
type TemplateService interface {
	Create(ctx context.Context, code, name string, formSchema, flowConfig []byte) (*flow.Template, error)
	Get(ctx context.Context, code string) (*flow.Template, error)
	List(ctx context.Context, limit, offset int) ([]*flow.Template, error)
	// UpdateFlow replaces the flow configuration of a template, bumping its
	// version and invalidating the compiled-graph cache. In-flight instances
	// keep their snapshotted graphs.
	UpdateFlow(ctx context.Context, code string, flowConfig []byte) (*flow.Template, error)
	Publish(ctx context.Context, code string) error
	Disable(ctx context.Context, code string) error
}

type templateServiceImpl struct {
	templates port.TemplateRepository
	compiler  *flow.Compiler
	clock     port.Clock
	logger    Logger
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(templates port.TemplateRepository, compiler *flow.Compiler, clock port.Clock, logger Logger) TemplateService {
	return &templateServiceImpl{
		templates: templates,
		compiler:  compiler,
		clock:     clock,
		logger:    logger,
	}
}

// Create stores a new draft template after verifying its flow compiles
func (s *templateServiceImpl) Create(ctx context.Context, code, name string, formSchema, flowConfig []byte) (*flow.Template, error) {
	tpl := &flow.Template{
		Code:       code,
		Name:       name,
		Version:    1,
		Status:     flow.TemplateDraft,
		FormSchema: formSchema,
		FlowConfig: flowConfig,
		CreatedAt:  s.clock.Now(),
		UpdatedAt:  s.clock.Now(),
	}

	if _, err := s.compiler.Compile(tpl); err != nil {
		return nil, err
	}

	if err := s.templates.Create(ctx, tpl); err != nil {
		s.logger.Error("Failed to create template", "error", err, "code", code)
		return nil, err
	}

	s.logger.Info("Template created", "code", code, "name", name)
	return tpl, nil
}

// Get retrieves a template by code
func (s *templateServiceImpl) Get(ctx context.Context, code string) (*flow.Template, error) {
	tpl, err := s.templates.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("template %s not found", code)
	}
	return tpl, nil
}

// List returns templates ordered by code
func (s *templateServiceImpl) List(ctx context.Context, limit, offset int) ([]*flow.Template, error) {
	return s.templates.List(ctx, limit, offset)
}

// UpdateFlow replaces the flow configuration and bumps the version
func (s *templateServiceImpl) UpdateFlow(ctx context.Context, code string, flowConfig []byte) (*flow.Template, error) {
	tpl, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	// Compile against the next version to validate before persisting.
	candidate := *tpl
	candidate.Version = tpl.Version + 1
	candidate.FlowConfig = flowConfig
	if _, err := s.compiler.Compile(&candidate); err != nil {
		return nil, err
	}

	if err := s.templates.UpdateFlowConfig(ctx, code, flowConfig); err != nil {
		s.logger.Error("Failed to update template flow", "error", err, "code", code)
		return nil, err
	}

	// Stale graphs for old versions are dropped; recompilation happens on
	// next use, never per instance.
	s.compiler.Invalidate(code)

	s.logger.Info("Template flow updated", "code", code, "version", candidate.Version)
	return &candidate, nil
}

// Publish activates a template so instances can be created from it
func (s *templateServiceImpl) Publish(ctx context.Context, code string) error {
	if _, err := s.Get(ctx, code); err != nil {
		return err
	}
	if err := s.templates.UpdateStatus(ctx, code, flow.TemplateActive); err != nil {
		s.logger.Error("Failed to publish template", "error", err, "code", code)
		return err
	}
	s.logger.Info("Template published", "code", code)
	return nil
}

// Disable stops new instances from being created from the template.
// In-flight instances are unaffected.
func (s *templateServiceImpl) Disable(ctx context.Context, code string) error {
	if _, err := s.Get(ctx, code); err != nil {
		return err
	}
	if err := s.templates.UpdateStatus(ctx, code, flow.TemplateDisabled); err != nil {
		s.logger.Error("Failed to disable template", "error", err, "code", code)
		return err
	}
	s.logger.Info("Template disabled", "code", code)
	return nil
}
