package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-flow/internal/domain/entity"
	"github.com/garyjia/approval-flow/internal/domain/event"
	"github.com/garyjia/approval-flow/internal/domain/flow"
)

const serialFlow = `{
	"nodes": [
		{"name": "Manager", "kind": "approval", "approver": {"kind": "initiator_manager"}},
		{"name": "Finance", "kind": "approval", "approver": {"kind": "role", "role_codes": ["finance"]}}
	]
}`

const conditionalFlow = `{
	"nodes": [
		{"name": "Manager", "kind": "approval", "approver": {"kind": "initiator_manager"}},
		{
			"name": "Finance",
			"kind": "approval",
			"approver": {"kind": "role", "role_codes": ["finance"]},
			"condition": {"field": "amount", "operator": "gt", "value": 5000}
		}
	]
}`

const countersignFlow = `{
	"nodes": [
		{"name": "Joint Review", "kind": "countersign", "approver": {"kind": "fixed_users", "user_ids": ["u-a", "u-b"]}}
	]
}`

const allConditionalFlow = `{
	"nodes": [
		{
			"name": "Finance",
			"kind": "approval",
			"approver": {"kind": "role", "role_codes": ["finance"]},
			"condition": {"field": "amount", "operator": "gt", "value": 5000}
		}
	]
}`

func (h *harness) create(t *testing.T, flowConfig, initiator string, formData map[string]interface{}) *entity.Instance {
	t.Helper()
	instance, err := h.processor.CreateInstance(context.Background(), activeTemplate(flowConfig),
		Initiator{UserID: initiator, Department: "sales"}, "expense", "biz-1", formData)
	require.NoError(t, err)
	return instance
}

func (h *harness) get(t *testing.T, id string) *entity.Instance {
	t.Helper()
	instance, err := h.processor.GetInstance(context.Background(), id)
	require.NoError(t, err)
	return instance
}

func (h *harness) apply(id string, action entity.Action, actor string, payload Payload) (*Result, error) {
	return h.processor.Apply(context.Background(), id, action, actor, payload)
}

func TestProcessor_CreateSerialFlow(t *testing.T) {
	h := newHarness(entity.ResultApproved)

	instance := h.create(t, serialFlow, "u-init", map[string]interface{}{"amount": 100.0})

	assert.Equal(t, entity.InstanceInProgress, instance.Status)
	require.NotNil(t, instance.CurrentNodeSeq)
	assert.Equal(t, 0, *instance.CurrentNodeSeq)

	stored := h.get(t, instance.ID)
	require.Len(t, stored.Nodes, 2)
	assert.Equal(t, entity.NodeInProgress, stored.Nodes[0].Status)
	assert.Equal(t, []string{"u-boss"}, stored.Nodes[0].Approvers)
	assert.Equal(t, entity.NodePending, stored.Nodes[1].Status)

	assert.Equal(t, []event.Type{event.TypeInstanceCreated, event.TypeNodeActivated}, h.sink.types())
}

func TestProcessor_CreateRejectsInactiveTemplate(t *testing.T) {
	h := newHarness(entity.ResultApproved)

	tpl := activeTemplate(serialFlow)
	tpl.Status = flow.TemplateDraft

	_, err := h.processor.CreateInstance(context.Background(), tpl,
		Initiator{UserID: "u-init"}, "expense", "biz-1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, flow.ErrTemplateNotActive))
}

func TestProcessor_ApproveThroughCompletion(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-boss", Payload{Comment: "lgtm"})
	require.NoError(t, err)

	mid := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceInProgress, mid.Status)
	assert.Equal(t, entity.NodeApproved, mid.Nodes[0].Status)
	require.NotNil(t, mid.Nodes[0].ApprovedBy)
	assert.Equal(t, "u-boss", *mid.Nodes[0].ApprovedBy)
	assert.Equal(t, entity.NodeInProgress, mid.Nodes[1].Status)
	assert.Equal(t, []string{"u-fin1", "u-fin2"}, mid.Nodes[1].Approvers)

	_, err = h.apply(instance.ID, entity.ActionApprove, "u-fin2", Payload{})
	require.NoError(t, err)

	final := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceApproved, final.Status)
	assert.Equal(t, entity.ResultApproved, final.FinalResult)
	assert.Nil(t, final.CurrentNodeSeq)
	assert.NotNil(t, final.CompletedAt)

	assert.Equal(t, []event.Type{
		event.TypeInstanceCreated,
		event.TypeNodeActivated,
		event.TypeNodeApproved,
		event.TypeNodeActivated,
		event.TypeNodeApproved,
		event.TypeInstanceCompleted,
	}, h.sink.types())
}

func TestProcessor_EventsOfOneCallShareCorrelation(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	created := h.sink.events
	require.GreaterOrEqual(t, len(created), 2)
	for _, evt := range created {
		assert.Equal(t, created[0].CorrelationID, evt.CorrelationID)
	}

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-boss", Payload{})
	require.NoError(t, err)

	applied := h.sink.events[len(created):]
	require.NotEmpty(t, applied)
	for _, evt := range applied {
		assert.Equal(t, applied[0].CorrelationID, evt.CorrelationID)
	}
	assert.NotEqual(t, created[0].CorrelationID, applied[0].CorrelationID)
}

func TestProcessor_ConditionalNodeSkipped(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, conditionalFlow, "u-init", map[string]interface{}{"amount": 100.0})

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-boss", Payload{})
	require.NoError(t, err)

	final := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceApproved, final.Status)
	assert.Equal(t, entity.NodeSkipped, final.Nodes[1].Status)
}

func TestProcessor_ConditionalNodeActivates(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, conditionalFlow, "u-init", map[string]interface{}{"amount": 9000.0})

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-boss", Payload{})
	require.NoError(t, err)

	mid := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceInProgress, mid.Status)
	assert.Equal(t, entity.NodeInProgress, mid.Nodes[1].Status)
}

func TestProcessor_VacuousApproval(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, allConditionalFlow, "u-init", map[string]interface{}{"amount": 100.0})

	assert.Equal(t, entity.InstanceApproved, instance.Status)
	assert.Equal(t, entity.ResultApproved, instance.FinalResult)

	stored := h.get(t, instance.ID)
	assert.Equal(t, entity.NodeSkipped, stored.Nodes[0].Status)

	types := h.sink.types()
	require.Len(t, types, 2)
	assert.Equal(t, event.TypeInstanceCompleted, types[1])

	last := h.sink.events[len(h.sink.events)-1]
	assert.Equal(t, true, last.Payload["vacuous"])
}

func TestProcessor_VacuousRejection(t *testing.T) {
	h := newHarness(entity.ResultRejected)
	instance := h.create(t, allConditionalFlow, "u-init", map[string]interface{}{"amount": 100.0})

	assert.Equal(t, entity.InstanceRejected, instance.Status)
	assert.Equal(t, entity.ResultRejected, instance.FinalResult)
}

func TestProcessor_RejectShortCircuits(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionReject, "u-boss", Payload{Comment: "no budget"})
	require.NoError(t, err)

	final := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceRejected, final.Status)
	assert.Equal(t, entity.ResultRejected, final.FinalResult)
	assert.Equal(t, entity.NodeRejected, final.Nodes[0].Status)
	// Downstream nodes are never activated or evaluated.
	assert.Equal(t, entity.NodePending, final.Nodes[1].Status)

	assert.Equal(t, []event.Type{
		event.TypeInstanceCreated,
		event.TypeNodeActivated,
		event.TypeNodeRejected,
		event.TypeInstanceCompleted,
	}, h.sink.types())
}

func TestProcessor_ApproveUnauthorized(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-stranger", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	// Nothing mutated.
	stored := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceInProgress, stored.Status)
	assert.Equal(t, entity.NodeInProgress, stored.Nodes[0].Status)
}

func TestProcessor_ActionOnTerminalInstance(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, allConditionalFlow, "u-init", map[string]interface{}{"amount": 1.0})
	require.Equal(t, entity.InstanceApproved, instance.Status)

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-fin1", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))

	_, err = h.apply(instance.ID, entity.ActionRevoke, "u-init", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestProcessor_InvalidAction(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.Action("ESCALATE"), "u-boss", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestProcessor_CountersignRequiresAll(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, countersignFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-a", Payload{Comment: "ok"})
	require.NoError(t, err)

	mid := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceInProgress, mid.Status)
	assert.Equal(t, entity.NodeInProgress, mid.Nodes[0].Status)

	records, err := h.countersigns.GetByNodeID(context.Background(), mid.Nodes[0].ID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	_, err = h.apply(instance.ID, entity.ActionApprove, "u-b", Payload{})
	require.NoError(t, err)

	final := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceApproved, final.Status)
	assert.Equal(t, entity.NodeApproved, final.Nodes[0].Status)
}

func TestProcessor_CountersignDuplicateResponse(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, countersignFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-a", Payload{})
	require.NoError(t, err)

	_, err = h.apply(instance.ID, entity.ActionApprove, "u-a", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestProcessor_CountersignRejectsOnFirstRejection(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, countersignFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-a", Payload{})
	require.NoError(t, err)

	_, err = h.apply(instance.ID, entity.ActionReject, "u-b", Payload{Comment: "veto"})
	require.NoError(t, err)

	final := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceRejected, final.Status)
	assert.Equal(t, entity.NodeRejected, final.Nodes[0].Status)
}

func TestProcessor_TransferReplacesApprover(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionTransfer, "u-boss", Payload{Target: "u-carol"})
	require.NoError(t, err)

	mid := h.get(t, instance.ID)
	assert.Equal(t, []string{"u-carol"}, mid.Nodes[0].Approvers)
	// Sequence and status survive the transfer.
	assert.Equal(t, entity.NodeInProgress, mid.Nodes[0].Status)
	require.NotNil(t, mid.CurrentNodeSeq)
	assert.Equal(t, 0, *mid.CurrentNodeSeq)

	// The original approver lost the capability.
	_, err = h.apply(instance.ID, entity.ActionApprove, "u-boss", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = h.apply(instance.ID, entity.ActionApprove, "u-carol", Payload{})
	require.NoError(t, err)
}

func TestProcessor_TransferTargetValidation(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	h.directory.inactive["u-gone"] = true
	instance := h.create(t, serialFlow, "u-init", nil)

	tests := []struct {
		name   string
		actor  string
		target string
		want   error
	}{
		{"empty target", "u-boss", "", ErrInvalidTransferTarget},
		{"target already approver", "u-boss", "u-boss", ErrInvalidTransferTarget},
		{"inactive target", "u-boss", "u-gone", ErrInvalidTransferTarget},
		{"actor not an approver", "u-stranger", "u-carol", ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.apply(instance.ID, entity.ActionTransfer, tt.actor, Payload{Target: tt.target})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "error = %v", err)
		})
	}
}

func TestProcessor_CountersignTransferReassignsPendingRecord(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, countersignFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-a", Payload{})
	require.NoError(t, err)

	_, err = h.apply(instance.ID, entity.ActionTransfer, "u-b", Payload{Target: "u-carol"})
	require.NoError(t, err)

	mid := h.get(t, instance.ID)
	assert.ElementsMatch(t, []string{"u-a", "u-carol"}, mid.Nodes[0].Approvers)

	// Recorded responses survive; only the pending record moved.
	_, err = h.apply(instance.ID, entity.ActionApprove, "u-carol", Payload{})
	require.NoError(t, err)

	final := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceApproved, final.Status)
}

func TestProcessor_ElevatedTransferOnActiveCountersignNode(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, countersignFlow, "u-init", nil)

	// An operator outside the member set holds no countersign record; the
	// target joins with a fresh pending one instead of a reassignment.
	_, err := h.apply(instance.ID, entity.ActionTransfer, "u-operator",
		Payload{Target: "u-carol", Elevated: true})
	require.NoError(t, err)

	mid := h.get(t, instance.ID)
	assert.ElementsMatch(t, []string{"u-a", "u-b", "u-carol"}, mid.Nodes[0].Approvers)

	records, err := h.countersigns.GetByNodeID(context.Background(), mid.Nodes[0].ID)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	// All three members must now respond before the node completes.
	_, err = h.apply(instance.ID, entity.ActionApprove, "u-a", Payload{})
	require.NoError(t, err)
	_, err = h.apply(instance.ID, entity.ActionApprove, "u-b", Payload{})
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceInProgress, h.get(t, instance.ID).Status)

	_, err = h.apply(instance.ID, entity.ActionApprove, "u-carol", Payload{})
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceApproved, h.get(t, instance.ID).Status)
}

func TestProcessor_CountersignTransferAfterResponse(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, countersignFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-a", Payload{})
	require.NoError(t, err)

	// u-a already responded, so there is no pending record to move; the
	// target still gets a pending record and the approval stays counted.
	_, err = h.apply(instance.ID, entity.ActionTransfer, "u-a", Payload{Target: "u-carol"})
	require.NoError(t, err)

	mid := h.get(t, instance.ID)
	assert.ElementsMatch(t, []string{"u-b", "u-carol"}, mid.Nodes[0].Approvers)

	_, err = h.apply(instance.ID, entity.ActionApprove, "u-b", Payload{})
	require.NoError(t, err)
	_, err = h.apply(instance.ID, entity.ActionApprove, "u-carol", Payload{})
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceApproved, h.get(t, instance.ID).Status)
}

func TestProcessor_StalledNode(t *testing.T) {
	h := newHarness(entity.ResultApproved)

	// u-orphan has no manager configured, so resolution is empty.
	instance := h.create(t, serialFlow, "u-orphan", nil)

	stored := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceInProgress, stored.Status)
	assert.True(t, stored.Nodes[0].Stalled)
	assert.Empty(t, stored.Nodes[0].Approvers)
	assert.Contains(t, h.sink.types(), event.TypeNodeStalled)

	stalled, err := h.nodes.ListStalled(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, stalled, 1)

	// Nobody can act on a stalled node.
	_, err = h.apply(instance.ID, entity.ActionApprove, "u-boss", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStalledNode))

	// An elevated transfer installs a concrete approver and unblocks the case.
	_, err = h.apply(instance.ID, entity.ActionTransfer, "u-operator", Payload{Target: "u-carol", Elevated: true})
	require.NoError(t, err)

	fixed := h.get(t, instance.ID)
	assert.False(t, fixed.Nodes[0].Stalled)
	assert.Equal(t, []string{"u-carol"}, fixed.Nodes[0].Approvers)

	_, err = h.apply(instance.ID, entity.ActionApprove, "u-carol", Payload{})
	require.NoError(t, err)
}

func TestProcessor_Revoke(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionRevoke, "u-boss", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = h.apply(instance.ID, entity.ActionRevoke, "u-init", Payload{})
	require.NoError(t, err)

	final := h.get(t, instance.ID)
	assert.Equal(t, entity.InstanceWithdrawn, final.Status)
	assert.NotNil(t, final.CompletedAt)
	assert.Contains(t, h.sink.types(), event.TypeInstanceWithdrawn)
}

func TestProcessor_Comment(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	h.visibility.deny["u-outsider"] = true
	instance := h.create(t, serialFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionComment, "u-outsider", Payload{Content: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = h.apply(instance.ID, entity.ActionComment, "u-init", Payload{Content: ""})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))

	_, err = h.apply(instance.ID, entity.ActionComment, "u-init", Payload{Content: "please expedite"})
	require.NoError(t, err)

	comments, err := h.comments.GetByInstanceID(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "please expedite", comments[0].Content)
	assert.Contains(t, h.sink.types(), event.TypeCommentAdded)
}

func TestProcessor_FollowIsIdempotent(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	_, err := h.apply(instance.ID, entity.ActionFollow, "u-boss", Payload{})
	require.NoError(t, err)

	_, err = h.apply(instance.ID, entity.ActionFollow, "u-boss", Payload{})
	require.NoError(t, err)

	follows, err := h.follows.GetByInstanceID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Len(t, follows, 1)

	count := 0
	for _, typ := range h.sink.types() {
		if typ == event.TypeFollowAdded {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestProcessor_GetInstanceNotFound(t *testing.T) {
	h := newHarness(entity.ResultApproved)

	_, err := h.processor.GetInstance(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInstanceNotFound))

	_, err = h.apply("missing", entity.ActionApprove, "u-boss", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInstanceNotFound))
}

func TestProcessor_GetInstanceIsReadOnly(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	first := h.get(t, instance.ID)
	second := h.get(t, instance.ID)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Nodes[0].Status, second.Nodes[0].Status)
	assert.Equal(t, first.Nodes[0].Approvers, second.Nodes[0].Approvers)
}

func TestProcessor_ApproverSetSnapshottedAtActivation(t *testing.T) {
	h := newHarness(entity.ResultApproved)
	instance := h.create(t, serialFlow, "u-init", nil)

	// Later directory changes never alter an already-activated node.
	h.directory.managers["u-init"] = "u-newboss"

	_, err := h.apply(instance.ID, entity.ActionApprove, "u-newboss", Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = h.apply(instance.ID, entity.ActionApprove, "u-boss", Payload{})
	require.NoError(t, err)
}
