package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-flow/internal/domain/entity"
	"github.com/garyjia/approval-flow/internal/domain/flow"
)

// TemplateRepository defines persistence operations for flow.Template
type TemplateRepository interface {
	Create(ctx context.Context, tpl *flow.Template) error
	GetByCode(ctx context.Context, code string) (*flow.Template, error)
	// UpdateFlowConfig replaces the flow configuration and bumps the version
	UpdateFlowConfig(ctx context.Context, code string, flowConfig []byte) error
	UpdateStatus(ctx context.Context, code string, status flow.TemplateStatus) error
	List(ctx context.Context, limit, offset int) ([]*flow.Template, error)
}

// InstanceRepository defines persistence operations for entity.Instance.
// GetByID does not load nodes; use NodeRepository.GetByInstanceID.
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.Instance) error
	GetByID(ctx context.Context, id string) (*entity.Instance, error)
	// UpdateState persists status, final result, current node reference and
	// completion time in one statement
	UpdateState(ctx context.Context, instance *entity.Instance) error
	ListByInitiator(ctx context.Context, initiator string, limit, offset int) ([]*entity.Instance, error)
}

// NodeRepository defines persistence operations for entity.Node
type NodeRepository interface {
	CreateBatch(ctx context.Context, nodes []*entity.Node) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.Node, error)
	Update(ctx context.Context, node *entity.Node) error
	// ListStalled returns in-progress nodes flagged stalled, oldest first
	ListStalled(ctx context.Context, limit int) ([]*entity.Node, error)
}

// CountersignRepository tracks per-approver responses on countersign nodes
type CountersignRepository interface {
	// Init creates one pending record per approver for a newly activated node
	Init(ctx context.Context, nodeID int64, approvers []string) error
	Record(ctx context.Context, nodeID int64, approver string, response entity.CountersignResponse, comment string, at time.Time) error
	GetByNodeID(ctx context.Context, nodeID int64) ([]*entity.CountersignRecord, error)
	// Reassign moves a pending record from one approver to another
	Reassign(ctx context.Context, nodeID int64, from, to string) error
}

// CommentRepository defines persistence operations for entity.Comment
type CommentRepository interface {
	Create(ctx context.Context, comment *entity.Comment) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.Comment, error)
}

// FollowRepository defines persistence operations for entity.Follow
type FollowRepository interface {
	Create(ctx context.Context, follow *entity.Follow) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.Follow, error)
	Exists(ctx context.Context, instanceID, userID string) (bool, error)
}

// HistoryRepository defines persistence operations for entity.ActionHistory
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.ActionHistory) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.ActionHistory, error)
}

// TransactionManager scopes a function to one database transaction. Nested
// calls reuse the transaction already carried by the context.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
