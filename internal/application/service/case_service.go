package service

import (
	"context"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/entity"
	"github.com/garyjia/approval-flow/internal/engine"
)

// CaseService is the host-facing surface for approval cases: creation,
// action application, and read-only projections.
type CaseService interface {
	Create(ctx context.Context, templateCode string, initiator engine.Initiator, businessType, businessID string, formData map[string]interface{}) (*entity.Instance, error)
	Apply(ctx context.Context, instanceID string, action entity.Action, actor string, payload engine.Payload) (*engine.Result, error)
	Get(ctx context.Context, instanceID string) (*entity.Instance, error)
	ListByInitiator(ctx context.Context, initiator string, limit, offset int) ([]*entity.Instance, error)
	// ListStalled returns in-progress nodes with an empty approver set so
	// operators can reassign them
	ListStalled(ctx context.Context, limit int) ([]*entity.Node, error)
	Comments(ctx context.Context, instanceID string) ([]*entity.Comment, error)
	Followers(ctx context.Context, instanceID string) ([]*entity.Follow, error)
	History(ctx context.Context, instanceID string) ([]*entity.ActionHistory, error)
}

type caseServiceImpl struct {
	processor *engine.Processor
	templates TemplateService
	instances port.InstanceRepository
	nodes     port.NodeRepository
	comments  port.CommentRepository
	follows   port.FollowRepository
	history   port.HistoryRepository
	logger    Logger
}

// NewCaseService creates a new CaseService
func NewCaseService(
	processor *engine.Processor,
	templates TemplateService,
	instances port.InstanceRepository,
	nodes port.NodeRepository,
	comments port.CommentRepository,
	follows port.FollowRepository,
	history port.HistoryRepository,
	logger Logger,
) CaseService {
	return &caseServiceImpl{
		processor: processor,
		templates: templates,
		instances: instances,
		nodes:     nodes,
		comments:  comments,
		follows:   follows,
		history:   history,
		logger:    logger,
	}
}

// Create instantiates a case from an active template
func (s *caseServiceImpl) Create(ctx context.Context, templateCode string, initiator engine.Initiator, businessType, businessID string, formData map[string]interface{}) (*entity.Instance, error) {
	tpl, err := s.templates.Get(ctx, templateCode)
	if err != nil {
		return nil, err
	}
	return s.processor.CreateInstance(ctx, tpl, initiator, businessType, businessID, formData)
}

// Apply validates and applies one action against an instance
func (s *caseServiceImpl) Apply(ctx context.Context, instanceID string, action entity.Action, actor string, payload engine.Payload) (*engine.Result, error) {
	return s.processor.Apply(ctx, instanceID, action, actor, payload)
}

// Get returns the instance with its nodes
func (s *caseServiceImpl) Get(ctx context.Context, instanceID string) (*entity.Instance, error) {
	return s.processor.GetInstance(ctx, instanceID)
}

// ListByInitiator returns an initiator's instances, newest first
func (s *caseServiceImpl) ListByInitiator(ctx context.Context, initiator string, limit, offset int) ([]*entity.Instance, error) {
	return s.instances.ListByInitiator(ctx, initiator, limit, offset)
}

// ListStalled returns stalled nodes, oldest first
func (s *caseServiceImpl) ListStalled(ctx context.Context, limit int) ([]*entity.Node, error) {
	return s.nodes.ListStalled(ctx, limit)
}

// Comments returns the instance's comments in creation order
func (s *caseServiceImpl) Comments(ctx context.Context, instanceID string) ([]*entity.Comment, error) {
	return s.comments.GetByInstanceID(ctx, instanceID)
}

// Followers returns the instance's followers
func (s *caseServiceImpl) Followers(ctx context.Context, instanceID string) ([]*entity.Follow, error) {
	return s.follows.GetByInstanceID(ctx, instanceID)
}

// History returns the instance's action history in order
func (s *caseServiceImpl) History(ctx context.Context, instanceID string) ([]*entity.ActionHistory, error) {
	return s.history.GetByInstanceID(ctx, instanceID)
}
