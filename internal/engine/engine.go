// Package engine implements the approval case state machine: instance
// creation with conditional node activation, advance-on-approve, rejection
// short-circuit, countersign tracking, transfer and revoke. All transitions
// are all-or-nothing; domain events are returned to the caller for
// publication after the enclosing transaction commits.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/approver"
	"github.com/garyjia/approval-flow/internal/domain/entity"
	"github.com/garyjia/approval-flow/internal/domain/event"
	"github.com/garyjia/approval-flow/internal/domain/flow"
	"github.com/garyjia/approval-flow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Initiator identifies who opens a case and the department they belong to
type Initiator struct {
	UserID     string
	Department string
}

// Engine owns instance and node lifecycle. Its transition methods assume the
// caller holds the per-instance lock and an open transaction context.
type Engine struct {
	compiler     *flow.Compiler
	resolver     *approver.Resolver
	instances    port.InstanceRepository
	nodes        port.NodeRepository
	countersigns port.CountersignRepository
	history      port.HistoryRepository
	tx           port.TransactionManager
	clock        port.Clock
	vacuous      entity.Result
	logger       Logger
}

// NewEngine creates a case engine. vacuousResult decides the terminal result
// of an instance whose every node condition evaluated false at creation;
// entity.ResultNone falls back to approval.
func NewEngine(
	compiler *flow.Compiler,
	resolver *approver.Resolver,
	instances port.InstanceRepository,
	nodes port.NodeRepository,
	countersigns port.CountersignRepository,
	history port.HistoryRepository,
	tx port.TransactionManager,
	clock port.Clock,
	vacuousResult entity.Result,
	logger Logger,
) *Engine {
	if vacuousResult != entity.ResultRejected {
		vacuousResult = entity.ResultApproved
	}
	return &Engine{
		compiler:     compiler,
		resolver:     resolver,
		instances:    instances,
		nodes:        nodes,
		countersigns: countersigns,
		history:      history,
		tx:           tx,
		clock:        clock,
		vacuous:      vacuousResult,
		logger:       logger,
	}
}

// Create builds a new instance from an active template: compiles the node
// graph, snapshots it into one node row per spec, and activates the first
// node whose condition holds. If every node is skipped the instance completes
// immediately with the configured vacuous result.
func (e *Engine) Create(
	ctx context.Context,
	tpl *flow.Template,
	initiator Initiator,
	businessType, businessID string,
	formData map[string]interface{},
) (*entity.Instance, []*event.Event, error) {
	if !tpl.CanInstantiate() {
		return nil, nil, fmt.Errorf("%w: template %s is %s", flow.ErrTemplateNotActive, tpl.Code, tpl.Status)
	}

	graph, err := e.compiler.Compile(tpl)
	if err != nil {
		return nil, nil, err
	}

	now := e.clock.Now()
	instance := &entity.Instance{
		ID:              uuid.NewString(),
		TemplateCode:    tpl.Code,
		TemplateVersion: tpl.Version,
		Initiator:       initiator.UserID,
		InitiatorDept:   initiator.Department,
		BusinessType:    businessType,
		BusinessID:      businessID,
		FormData:        formData,
		Status:          entity.InstancePending,
		FinalResult:     entity.ResultNone,
		InitiatedAt:     now,
	}

	for _, spec := range graph.Nodes {
		instance.Nodes = append(instance.Nodes, &entity.Node{
			InstanceID:     instance.ID,
			Sequence:       spec.Sequence,
			Name:           spec.Name,
			Kind:           spec.Kind,
			Approver:       spec.Approver,
			Condition:      spec.Condition,
			Status:         entity.NodePending,
			ApprovalResult: entity.ResultNone,
		})
	}

	var events []*event.Event

	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instances.Create(txCtx, instance); err != nil {
			return fmt.Errorf("create instance: %w", err)
		}
		if err := e.nodes.CreateBatch(txCtx, instance.Nodes); err != nil {
			return fmt.Errorf("create nodes: %w", err)
		}

		events = append(events, e.newEvent(event.TypeInstanceCreated, instance, initiator.UserID, map[string]interface{}{
			"business_type": businessType,
			"business_id":   businessID,
		}))

		activationEvents, err := e.activateFrom(txCtx, instance, 0, initiator.UserID)
		if err != nil {
			return err
		}
		events = append(events, activationEvents...)

		return e.recordHistory(txCtx, instance, initiator.UserID, nil, "CREATE",
			"", instance.Status.String(), "instance created")
	})
	if err != nil {
		e.logger.Error("Failed to create instance", "error", err, "template_code", tpl.Code)
		return nil, nil, err
	}

	e.logger.Info("Instance created",
		"instance_id", instance.ID,
		"template_code", tpl.Code,
		"status", instance.Status)
	return instance, events, nil
}

// GetInstance returns a read-only projection of the instance with its nodes.
// It never mutates state.
func (e *Engine) GetInstance(ctx context.Context, id string) (*entity.Instance, error) {
	instance, err := e.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}

	nodes, err := e.nodes.GetByInstanceID(ctx, id)
	if err != nil {
		return nil, err
	}
	instance.Nodes = nodes

	return instance, nil
}

// fire runs the instance lifecycle state machine for the trigger and applies
// the resulting state. An illegal transition surfaces as ErrInvalidState
// before anything is mutated.
func (e *Engine) fire(ctx context.Context, instance *entity.Instance, trigger workflow.Trigger) error {
	machine := workflow.NewInstanceMachine(workflow.State(instance.Status))
	if err := machine.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	instance.Status = entity.InstanceStatus(machine.State().String())
	return nil
}

// activateFrom scans nodes from startSeq in sequence order, marking nodes
// whose condition evaluates false as skipped, and activates the first
// qualifying node. When the list is exhausted the instance completes: with
// the final node approved, or with the vacuous result if nothing ever
// activated. Must run inside the caller's transaction.
func (e *Engine) activateFrom(ctx context.Context, instance *entity.Instance, startSeq int, actor string) ([]*event.Event, error) {
	var events []*event.Event

	for _, node := range instance.Nodes {
		if node.Sequence < startSeq || node.Status != entity.NodePending {
			continue
		}

		qualifies := true
		if node.Condition != nil {
			ok, err := node.Condition.Evaluate(instance.FormData)
			if err != nil {
				return nil, fmt.Errorf("evaluate condition for node %d: %w", node.Sequence, err)
			}
			qualifies = ok
		}

		if !qualifies {
			node.Status = entity.NodeSkipped
			node.UpdatedAt = e.clock.Now()
			if err := e.nodes.Update(ctx, node); err != nil {
				return nil, fmt.Errorf("skip node %d: %w", node.Sequence, err)
			}
			continue
		}

		activationEvents, err := e.activateNode(ctx, instance, node, actor)
		if err != nil {
			return nil, err
		}
		return append(events, activationEvents...), nil
	}

	// Exhausted the list: terminal.
	completionEvents, err := e.complete(ctx, instance, startSeq == 0, actor)
	if err != nil {
		return nil, err
	}
	return append(events, completionEvents...), nil
}

// activateNode resolves the node's approvers and marks it in progress. An
// empty resolution is not an error: the node is flagged stalled so operators
// can see why the case is stuck and reassign via transfer.
func (e *Engine) activateNode(ctx context.Context, instance *entity.Instance, node *entity.Node, actor string) ([]*event.Event, error) {
	approvers, err := e.resolver.Resolve(ctx, node.Approver, approver.Context{
		Initiator:     instance.Initiator,
		InitiatorDept: instance.InitiatorDept,
	})
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	node.Status = entity.NodeInProgress
	node.Approvers = approvers
	node.Stalled = len(approvers) == 0
	node.UpdatedAt = now

	if err := e.nodes.Update(ctx, node); err != nil {
		return nil, fmt.Errorf("activate node %d: %w", node.Sequence, err)
	}

	if node.Kind == flow.KindCountersign && len(approvers) > 0 {
		if err := e.countersigns.Init(ctx, node.ID, approvers); err != nil {
			return nil, fmt.Errorf("init countersign records: %w", err)
		}
	}

	seq := node.Sequence
	instance.CurrentNodeSeq = &seq
	if instance.Status == entity.InstancePending {
		if err := e.fire(ctx, instance, workflow.TriggerActivate); err != nil {
			return nil, err
		}
	}
	if err := e.instances.UpdateState(ctx, instance); err != nil {
		return nil, fmt.Errorf("update instance state: %w", err)
	}

	events := []*event.Event{
		e.newEvent(event.TypeNodeActivated, instance, actor, map[string]interface{}{
			"node_sequence": node.Sequence,
			"node_name":     node.Name,
			"approvers":     node.Approvers,
		}),
	}

	if node.Stalled {
		e.logger.Error("Node activated with empty approver set",
			"instance_id", instance.ID,
			"node_sequence", node.Sequence)
		events = append(events, e.newEvent(event.TypeNodeStalled, instance, actor, map[string]interface{}{
			"node_sequence": node.Sequence,
			"node_name":     node.Name,
		}))
	}

	return events, nil
}

// complete terminates the instance. vacuous is true when no node ever
// activated; the outcome then follows the configured vacuous result instead
// of plain approval.
func (e *Engine) complete(ctx context.Context, instance *entity.Instance, vacuous bool, actor string) ([]*event.Event, error) {
	trigger := workflow.TriggerFinish
	result := entity.ResultApproved
	if vacuous {
		trigger = workflow.TriggerVacuousApprove
		if e.vacuous == entity.ResultRejected {
			trigger = workflow.TriggerVacuousReject
			result = entity.ResultRejected
		}
	}

	if err := e.fire(ctx, instance, trigger); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	instance.FinalResult = result
	instance.CurrentNodeSeq = nil
	instance.CompletedAt = &now

	if err := e.instances.UpdateState(ctx, instance); err != nil {
		return nil, fmt.Errorf("complete instance: %w", err)
	}

	return []*event.Event{
		e.newEvent(event.TypeInstanceCompleted, instance, actor, map[string]interface{}{
			"final_result": result.String(),
			"vacuous":      vacuous,
		}),
	}, nil
}

// advance marks the current node approved and scans forward for the next
// qualifying node, or completes the instance. Must run inside the caller's
// transaction with the per-instance lock held.
func (e *Engine) advance(ctx context.Context, instance *entity.Instance, node *entity.Node, actor, comment string) ([]*event.Event, error) {
	now := e.clock.Now()
	node.Status = entity.NodeApproved
	node.ApprovedBy = &actor
	node.ApprovalResult = entity.ResultApproved
	node.ApprovalComment = comment
	node.ApprovedAt = &now
	node.UpdatedAt = now

	if err := e.nodes.Update(ctx, node); err != nil {
		return nil, fmt.Errorf("approve node %d: %w", node.Sequence, err)
	}

	events := []*event.Event{
		e.newEvent(event.TypeNodeApproved, instance, actor, map[string]interface{}{
			"node_sequence": node.Sequence,
			"node_name":     node.Name,
			"comment":       comment,
		}),
	}

	forwardEvents, err := e.activateFrom(ctx, instance, node.Sequence+1, actor)
	if err != nil {
		return nil, err
	}
	return append(events, forwardEvents...), nil
}

// rejectCurrent rejects the current node and terminates the whole instance.
// Remaining pending nodes are never activated or evaluated.
func (e *Engine) rejectCurrent(ctx context.Context, instance *entity.Instance, node *entity.Node, actor, comment string) ([]*event.Event, error) {
	now := e.clock.Now()
	node.Status = entity.NodeRejected
	node.ApprovedBy = &actor
	node.ApprovalResult = entity.ResultRejected
	node.ApprovalComment = comment
	node.ApprovedAt = &now
	node.UpdatedAt = now

	if err := e.nodes.Update(ctx, node); err != nil {
		return nil, fmt.Errorf("reject node %d: %w", node.Sequence, err)
	}

	if err := e.fire(ctx, instance, workflow.TriggerReject); err != nil {
		return nil, err
	}

	instance.FinalResult = entity.ResultRejected
	instance.CurrentNodeSeq = nil
	instance.CompletedAt = &now

	if err := e.instances.UpdateState(ctx, instance); err != nil {
		return nil, fmt.Errorf("reject instance: %w", err)
	}

	return []*event.Event{
		e.newEvent(event.TypeNodeRejected, instance, actor, map[string]interface{}{
			"node_sequence": node.Sequence,
			"node_name":     node.Name,
			"comment":       comment,
		}),
		e.newEvent(event.TypeInstanceCompleted, instance, actor, map[string]interface{}{
			"final_result": entity.ResultRejected.String(),
		}),
	}, nil
}

// withdraw revokes the instance on behalf of its initiator. The current node,
// if any, is left in its partial state.
func (e *Engine) withdraw(ctx context.Context, instance *entity.Instance, actor string) ([]*event.Event, error) {
	if err := e.fire(ctx, instance, workflow.TriggerWithdraw); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	instance.CompletedAt = &now

	if err := e.instances.UpdateState(ctx, instance); err != nil {
		return nil, fmt.Errorf("withdraw instance: %w", err)
	}

	return []*event.Event{
		e.newEvent(event.TypeInstanceWithdrawn, instance, actor, nil),
	}, nil
}

// transfer replaces who may act on the current in-progress node: the acting
// approver is removed and the target added, leaving sequence, status and
// recorded countersign responses untouched. A forced transfer on a stalled
// node simply installs the target as the approver set.
func (e *Engine) transfer(ctx context.Context, instance *entity.Instance, node *entity.Node, actor, target string) ([]*event.Event, error) {
	replaced := make([]string, 0, len(node.Approvers))
	for _, a := range node.Approvers {
		if a != actor {
			replaced = append(replaced, a)
		}
	}
	replaced = append(replaced, target)

	wasStalled := node.Stalled
	node.Approvers = replaced
	node.Stalled = false
	node.UpdatedAt = e.clock.Now()

	if err := e.nodes.Update(ctx, node); err != nil {
		return nil, fmt.Errorf("transfer node %d: %w", node.Sequence, err)
	}

	if node.Kind == flow.KindCountersign {
		if err := e.retargetCountersign(ctx, node, actor, target, wasStalled); err != nil {
			return nil, err
		}
	}

	return []*event.Event{
		e.newEvent(event.TypeApproverTransferred, instance, actor, map[string]interface{}{
			"node_sequence": node.Sequence,
			"node_name":     node.Name,
			"target":        target,
			"was_stalled":   wasStalled,
		}),
	}, nil
}

// retargetCountersign gives the transfer target a countersign record. The
// actor's pending record moves over when one exists; otherwise (a stalled
// node, an elevated actor outside the member set, or an actor who already
// responded) the target gets a fresh pending record, which the require-all
// completion check then counts.
func (e *Engine) retargetCountersign(ctx context.Context, node *entity.Node, actor, target string, wasStalled bool) error {
	if !wasStalled {
		records, err := e.countersigns.GetByNodeID(ctx, node.ID)
		if err != nil {
			return fmt.Errorf("load countersign records: %w", err)
		}
		for _, rec := range records {
			if rec.Approver == actor && rec.Response == entity.ResponsePending {
				if err := e.countersigns.Reassign(ctx, node.ID, actor, target); err != nil {
					return fmt.Errorf("reassign countersign record: %w", err)
				}
				return nil
			}
		}
	}
	if err := e.countersigns.Init(ctx, node.ID, []string{target}); err != nil {
		return fmt.Errorf("init countersign record: %w", err)
	}
	return nil
}

func (e *Engine) newEvent(eventType event.Type, instance *entity.Instance, actor string, payload map[string]interface{}) *event.Event {
	return event.New(eventType, instance.ID, instance.TemplateCode, actor, payload, e.clock.Now())
}

func (e *Engine) recordHistory(ctx context.Context, instance *entity.Instance, actor string, nodeSeq *int, action, prev, next, detail string) error {
	return e.history.Create(ctx, &entity.ActionHistory{
		InstanceID:     instance.ID,
		ActorUserID:    actor,
		NodeSequence:   nodeSeq,
		Action:         action,
		PreviousStatus: prev,
		NewStatus:      next,
		Detail:         detail,
		Timestamp:      e.clock.Now(),
	})
}
