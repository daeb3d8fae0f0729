package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/entity"
	"github.com/garyjia/approval-flow/internal/domain/event"
	"github.com/garyjia/approval-flow/internal/domain/flow"
)

// Payload carries the action-specific inputs of an Apply call
type Payload struct {
	// Comment is the free-text remark attached to approve/reject
	Comment string
	// Target is the transfer target user
	Target string
	// Content is the comment body for ActionComment
	Content string
	// Elevated is set by the host when the actor holds an elevated capability
	// (e.g. an operator forcing a transfer on a stalled node). The host is
	// responsible for verifying the capability.
	Elevated bool
}

// Result is the outcome of a successfully applied action
type Result struct {
	Instance *entity.Instance
}

// Processor validates and applies actions against live instances. It owns
// actor authorization, countersign response tracking, and event publication;
// state transitions are delegated to the Engine.
type Processor struct {
	engine     *Engine
	directory  port.DirectoryLookup
	visibility port.Visibility
	comments   port.CommentRepository
	follows    port.FollowRepository
	sink       port.EventSink
	locker     *instanceLocker
	logger     Logger
}

// NewProcessor creates an action processor around the given engine
func NewProcessor(
	eng *Engine,
	directory port.DirectoryLookup,
	visibility port.Visibility,
	comments port.CommentRepository,
	follows port.FollowRepository,
	sink port.EventSink,
	logger Logger,
) *Processor {
	return &Processor{
		engine:     eng,
		directory:  directory,
		visibility: visibility,
		comments:   comments,
		follows:    follows,
		sink:       sink,
		locker:     newInstanceLocker(),
		logger:     logger,
	}
}

// CreateInstance creates a new case from the template and publishes the
// resulting events after commit.
func (p *Processor) CreateInstance(
	ctx context.Context,
	tpl *flow.Template,
	initiator Initiator,
	businessType, businessID string,
	formData map[string]interface{},
) (*entity.Instance, error) {
	instance, events, err := p.engine.Create(ctx, tpl, initiator, businessType, businessID, formData)
	if err != nil {
		return nil, err
	}

	p.publish(ctx, events)
	return instance, nil
}

// GetInstance returns a read-only projection of the instance with its nodes
func (p *Processor) GetInstance(ctx context.Context, id string) (*entity.Instance, error) {
	return p.engine.GetInstance(ctx, id)
}

// Apply validates and applies one action against the instance. The whole
// transition runs under the per-instance lock and one transaction; events
// are published only after the transaction commits.
func (p *Processor) Apply(ctx context.Context, instanceID string, action entity.Action, actor string, payload Payload) (*Result, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidState, action)
	}

	unlock := p.locker.Lock(instanceID)
	defer unlock()

	instance, err := p.engine.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	var events []*event.Event
	err = p.engine.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		events, err = p.apply(txCtx, instance, action, actor, payload)
		return err
	})
	if err != nil {
		p.logger.Error("Action failed",
			"instance_id", instanceID,
			"action", action,
			"actor", actor,
			"error", err)
		return nil, err
	}

	p.publish(ctx, events)

	p.logger.Info("Action applied",
		"instance_id", instanceID,
		"action", action,
		"actor", actor,
		"status", instance.Status)
	return &Result{Instance: instance}, nil
}

func (p *Processor) apply(ctx context.Context, instance *entity.Instance, action entity.Action, actor string, payload Payload) ([]*event.Event, error) {
	switch action {
	case entity.ActionApprove:
		return p.applyApprove(ctx, instance, actor, payload.Comment)
	case entity.ActionReject:
		return p.applyReject(ctx, instance, actor, payload.Comment)
	case entity.ActionTransfer:
		return p.applyTransfer(ctx, instance, actor, payload)
	case entity.ActionRevoke:
		return p.applyRevoke(ctx, instance, actor)
	case entity.ActionComment:
		return p.applyComment(ctx, instance, actor, payload.Content)
	default:
		return p.applyFollow(ctx, instance, actor)
	}
}

// currentNode returns the in-progress node an approval action targets
func (p *Processor) currentNode(instance *entity.Instance) (*entity.Node, error) {
	if instance.Status != entity.InstanceInProgress {
		return nil, fmt.Errorf("%w: instance is %s", ErrInvalidState, instance.Status)
	}
	node := instance.CurrentNode()
	if node == nil || node.Status != entity.NodeInProgress {
		return nil, fmt.Errorf("%w: no node in progress", ErrInvalidState)
	}
	return node, nil
}

func (p *Processor) applyApprove(ctx context.Context, instance *entity.Instance, actor, comment string) ([]*event.Event, error) {
	node, err := p.currentNode(instance)
	if err != nil {
		return nil, err
	}
	if node.Stalled {
		return nil, fmt.Errorf("%w: node %d", ErrStalledNode, node.Sequence)
	}
	if !node.HasApprover(actor) {
		return nil, fmt.Errorf("%w: %s may not approve node %d", ErrUnauthorized, actor, node.Sequence)
	}

	prev := instance.Status.String()

	if node.Kind == flow.KindCountersign {
		complete, err := p.recordCountersign(ctx, node, actor, entity.ResponseApproved, comment)
		if err != nil {
			return nil, err
		}
		if !complete {
			// Node stays in progress until every member has responded.
			seq := node.Sequence
			if err := p.engine.recordHistory(ctx, instance, actor, &seq, "APPROVE",
				prev, instance.Status.String(), "countersign response recorded"); err != nil {
				return nil, err
			}
			return []*event.Event{
				p.engine.newEvent(event.TypeNodeApproved, instance, actor, map[string]interface{}{
					"node_sequence":        node.Sequence,
					"node_name":            node.Name,
					"comment":              comment,
					"countersign_complete": false,
				}),
			}, nil
		}
	}

	events, err := p.engine.advance(ctx, instance, node, actor, comment)
	if err != nil {
		return nil, err
	}

	seq := node.Sequence
	if err := p.engine.recordHistory(ctx, instance, actor, &seq, "APPROVE",
		prev, instance.Status.String(), comment); err != nil {
		return nil, err
	}
	return events, nil
}

func (p *Processor) applyReject(ctx context.Context, instance *entity.Instance, actor, comment string) ([]*event.Event, error) {
	node, err := p.currentNode(instance)
	if err != nil {
		return nil, err
	}
	if node.Stalled {
		return nil, fmt.Errorf("%w: node %d", ErrStalledNode, node.Sequence)
	}
	if !node.HasApprover(actor) {
		return nil, fmt.Errorf("%w: %s may not reject node %d", ErrUnauthorized, actor, node.Sequence)
	}

	prev := instance.Status.String()

	if node.Kind == flow.KindCountersign {
		// A single countersign rejection rejects the whole node.
		if _, err := p.recordCountersign(ctx, node, actor, entity.ResponseRejected, comment); err != nil {
			return nil, err
		}
	}

	events, err := p.engine.rejectCurrent(ctx, instance, node, actor, comment)
	if err != nil {
		return nil, err
	}

	seq := node.Sequence
	if err := p.engine.recordHistory(ctx, instance, actor, &seq, "REJECT",
		prev, instance.Status.String(), comment); err != nil {
		return nil, err
	}
	return events, nil
}

// recordCountersign stores one member's response and reports whether every
// member has now approved
func (p *Processor) recordCountersign(ctx context.Context, node *entity.Node, actor string, response entity.CountersignResponse, comment string) (bool, error) {
	records, err := p.engine.countersigns.GetByNodeID(ctx, node.ID)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.Approver == actor && r.Response != entity.ResponsePending {
			return false, fmt.Errorf("%w: %s already responded on node %d", ErrInvalidState, actor, node.Sequence)
		}
	}

	if err := p.engine.countersigns.Record(ctx, node.ID, actor, response, comment, p.engine.clock.Now()); err != nil {
		return false, err
	}

	if response != entity.ResponseApproved {
		return false, nil
	}
	for _, r := range records {
		if r.Approver == actor {
			continue
		}
		if r.Response != entity.ResponseApproved {
			return false, nil
		}
	}
	return true, nil
}

func (p *Processor) applyTransfer(ctx context.Context, instance *entity.Instance, actor string, payload Payload) ([]*event.Event, error) {
	node, err := p.currentNode(instance)
	if err != nil {
		return nil, err
	}
	if !node.HasApprover(actor) && !payload.Elevated {
		return nil, fmt.Errorf("%w: %s may not transfer node %d", ErrUnauthorized, actor, node.Sequence)
	}

	target := payload.Target
	if target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidTransferTarget)
	}
	if node.HasApprover(target) {
		return nil, fmt.Errorf("%w: %s is already an approver", ErrInvalidTransferTarget, target)
	}
	active, err := p.directory.IsActive(ctx, target)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: %s is not active", ErrInvalidTransferTarget, target)
	}

	events, err := p.engine.transfer(ctx, instance, node, actor, target)
	if err != nil {
		return nil, err
	}

	seq := node.Sequence
	if err := p.engine.recordHistory(ctx, instance, actor, &seq, "TRANSFER",
		instance.Status.String(), instance.Status.String(),
		fmt.Sprintf("approver transferred to %s", target)); err != nil {
		return nil, err
	}
	return events, nil
}

func (p *Processor) applyRevoke(ctx context.Context, instance *entity.Instance, actor string) ([]*event.Event, error) {
	if actor != instance.Initiator {
		return nil, fmt.Errorf("%w: only the initiator may revoke", ErrUnauthorized)
	}

	prev := instance.Status.String()
	events, err := p.engine.withdraw(ctx, instance, actor)
	if err != nil {
		return nil, err
	}

	if err := p.engine.recordHistory(ctx, instance, actor, nil, "REVOKE",
		prev, instance.Status.String(), "instance withdrawn"); err != nil {
		return nil, err
	}
	return events, nil
}

func (p *Processor) applyComment(ctx context.Context, instance *entity.Instance, actor, content string) ([]*event.Event, error) {
	if err := p.requireView(ctx, actor, instance.ID); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty comment", ErrInvalidState)
	}

	comment := &entity.Comment{
		InstanceID: instance.ID,
		Author:     actor,
		Content:    content,
		CreatedAt:  p.engine.clock.Now(),
	}
	if err := p.comments.Create(ctx, comment); err != nil {
		return nil, err
	}

	return []*event.Event{
		p.engine.newEvent(event.TypeCommentAdded, instance, actor, map[string]interface{}{
			"comment_id": comment.ID,
		}),
	}, nil
}

func (p *Processor) applyFollow(ctx context.Context, instance *entity.Instance, actor string) ([]*event.Event, error) {
	if err := p.requireView(ctx, actor, instance.ID); err != nil {
		return nil, err
	}

	exists, err := p.follows.Exists(ctx, instance.ID, actor)
	if err != nil {
		return nil, err
	}
	if exists {
		// Following twice is a no-op.
		return nil, nil
	}

	follow := &entity.Follow{
		InstanceID: instance.ID,
		UserID:     actor,
		CreatedAt:  p.engine.clock.Now(),
	}
	if err := p.follows.Create(ctx, follow); err != nil {
		return nil, err
	}

	return []*event.Event{
		p.engine.newEvent(event.TypeFollowAdded, instance, actor, nil),
	}, nil
}

func (p *Processor) requireView(ctx context.Context, actor, instanceID string) error {
	ok, err := p.visibility.CanView(ctx, actor, instanceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not view instance", ErrUnauthorized, actor)
	}
	return nil
}

// publish delivers events after the transition committed. Every event of one
// call shares a correlation ID so consumers can group them. Delivery failures
// are logged, never propagated: committed state is authoritative and events
// can be re-derived from it.
func (p *Processor) publish(ctx context.Context, events []*event.Event) {
	correlationID := uuid.NewString()
	for _, evt := range events {
		if err := p.sink.Publish(ctx, evt.WithCorrelation(correlationID)); err != nil {
			p.logger.Error("Failed to publish event",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"error", err)
		}
	}
}
