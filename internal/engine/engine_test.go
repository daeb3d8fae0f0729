package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/approver"
	"github.com/garyjia/approval-flow/internal/domain/entity"
	"github.com/garyjia/approval-flow/internal/domain/event"
	"github.com/garyjia/approval-flow/internal/domain/flow"
)

// In-memory collaborators backing the engine and processor tests. They copy
// on read and write the way a real repository round-trips rows, so state
// leaks between the caller's structs and the store are caught.

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }

type memTxManager struct{}

func (memTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memInstanceRepo struct {
	mu        sync.Mutex
	instances map[string]*entity.Instance
}

func newMemInstanceRepo() *memInstanceRepo {
	return &memInstanceRepo{instances: make(map[string]*entity.Instance)}
}

func copyInstance(in *entity.Instance) *entity.Instance {
	c := *in
	c.Nodes = nil
	if in.CurrentNodeSeq != nil {
		seq := *in.CurrentNodeSeq
		c.CurrentNodeSeq = &seq
	}
	return &c
}

func (r *memInstanceRepo) Create(ctx context.Context, instance *entity.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[instance.ID] = copyInstance(instance)
	return nil
}

func (r *memInstanceRepo) GetByID(ctx context.Context, id string) (*entity.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[id]
	if !ok {
		return nil, nil
	}
	return copyInstance(instance), nil
}

func (r *memInstanceRepo) UpdateState(ctx context.Context, instance *entity.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[instance.ID] = copyInstance(instance)
	return nil
}

func (r *memInstanceRepo) ListByInitiator(ctx context.Context, initiator string, limit, offset int) ([]*entity.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.Instance
	for _, instance := range r.instances {
		if instance.Initiator == initiator {
			result = append(result, copyInstance(instance))
		}
	}
	return result, nil
}

type memNodeRepo struct {
	mu     sync.Mutex
	nextID int64
	nodes  map[int64]*entity.Node
}

func newMemNodeRepo() *memNodeRepo {
	return &memNodeRepo{nodes: make(map[int64]*entity.Node)}
}

func copyNode(n *entity.Node) *entity.Node {
	c := *n
	c.Approvers = append([]string(nil), n.Approvers...)
	return &c
}

func (r *memNodeRepo) CreateBatch(ctx context.Context, nodes []*entity.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, node := range nodes {
		r.nextID++
		node.ID = r.nextID
		r.nodes[node.ID] = copyNode(node)
	}
	return nil
}

func (r *memNodeRepo) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.Node
	for _, node := range r.nodes {
		if node.InstanceID == instanceID {
			result = append(result, copyNode(node))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result, nil
}

func (r *memNodeRepo) Update(ctx context.Context, node *entity.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.ID] = copyNode(node)
	return nil
}

func (r *memNodeRepo) ListStalled(ctx context.Context, limit int) ([]*entity.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.Node
	for _, node := range r.nodes {
		if node.Stalled && node.Status == entity.NodeInProgress {
			result = append(result, copyNode(node))
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type memCountersignRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64][]*entity.CountersignRecord
}

func newMemCountersignRepo() *memCountersignRepo {
	return &memCountersignRepo{records: make(map[int64][]*entity.CountersignRecord)}
}

func (r *memCountersignRepo) Init(ctx context.Context, nodeID int64, approvers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range approvers {
		r.nextID++
		r.records[nodeID] = append(r.records[nodeID], &entity.CountersignRecord{
			ID:       r.nextID,
			NodeID:   nodeID,
			Approver: a,
			Response: entity.ResponsePending,
		})
	}
	return nil
}

func (r *memCountersignRepo) Record(ctx context.Context, nodeID int64, approver string, response entity.CountersignResponse, comment string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records[nodeID] {
		if rec.Approver == approver {
			rec.Response = response
			rec.Comment = comment
			rec.RespondedAt = &at
			return nil
		}
	}
	return fmt.Errorf("no countersign record for approver %s on node %d", approver, nodeID)
}

func (r *memCountersignRepo) GetByNodeID(ctx context.Context, nodeID int64) ([]*entity.CountersignRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*entity.CountersignRecord, 0, len(r.records[nodeID]))
	for _, rec := range r.records[nodeID] {
		c := *rec
		result = append(result, &c)
	}
	return result, nil
}

func (r *memCountersignRepo) Reassign(ctx context.Context, nodeID int64, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records[nodeID] {
		if rec.Approver == from && rec.Response == entity.ResponsePending {
			rec.Approver = to
			return nil
		}
	}
	return fmt.Errorf("no pending countersign record for %s on node %d", from, nodeID)
}

type memCommentRepo struct {
	mu       sync.Mutex
	comments []*entity.Comment
}

func (r *memCommentRepo) Create(ctx context.Context, comment *entity.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	comment.ID = int64(len(r.comments) + 1)
	c := *comment
	r.comments = append(r.comments, &c)
	return nil
}

func (r *memCommentRepo) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.Comment
	for _, c := range r.comments {
		if c.InstanceID == instanceID {
			cc := *c
			result = append(result, &cc)
		}
	}
	return result, nil
}

type memFollowRepo struct {
	mu      sync.Mutex
	follows []*entity.Follow
}

func (r *memFollowRepo) Create(ctx context.Context, follow *entity.Follow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	follow.ID = int64(len(r.follows) + 1)
	f := *follow
	r.follows = append(r.follows, &f)
	return nil
}

func (r *memFollowRepo) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.Follow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.Follow
	for _, f := range r.follows {
		if f.InstanceID == instanceID {
			ff := *f
			result = append(result, &ff)
		}
	}
	return result, nil
}

func (r *memFollowRepo) Exists(ctx context.Context, instanceID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.follows {
		if f.InstanceID == instanceID && f.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

type memHistoryRepo struct {
	mu      sync.Mutex
	entries []*entity.ActionHistory
}

func (r *memHistoryRepo) Create(ctx context.Context, history *entity.ActionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	history.ID = int64(len(r.entries) + 1)
	h := *history
	r.entries = append(r.entries, &h)
	return nil
}

func (r *memHistoryRepo) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.ActionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.ActionHistory
	for _, h := range r.entries {
		if h.InstanceID == instanceID {
			hh := *h
			result = append(result, &hh)
		}
	}
	return result, nil
}

type memSink struct {
	mu     sync.Mutex
	events []*event.Event
}

func (s *memSink) Publish(ctx context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *memSink) types() []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]event.Type, 0, len(s.events))
	for _, evt := range s.events {
		result = append(result, evt.Type)
	}
	return result
}

type stubDirectory struct {
	roleUsers map[string][]string
	managers  map[string]string
	deptHeads map[string]string
	inactive  map[string]bool
}

func (d *stubDirectory) UsersWithRole(ctx context.Context, roleCodes []string) ([]string, error) {
	var users []string
	for _, code := range roleCodes {
		users = append(users, d.roleUsers[code]...)
	}
	return users, nil
}

func (d *stubDirectory) DepartmentManager(ctx context.Context, departmentID string) (string, error) {
	return d.deptHeads[departmentID], nil
}

func (d *stubDirectory) ManagerOf(ctx context.Context, userID string) (string, error) {
	return d.managers[userID], nil
}

func (d *stubDirectory) IsActive(ctx context.Context, userID string) (bool, error) {
	return !d.inactive[userID], nil
}

type stubVisibility struct {
	deny map[string]bool
}

func (v *stubVisibility) CanView(ctx context.Context, userID, instanceID string) (bool, error) {
	return !v.deny[userID], nil
}

// harness bundles a processor wired entirely to in-memory collaborators
type harness struct {
	engine       *Engine
	processor    *Processor
	instances    *memInstanceRepo
	nodes        *memNodeRepo
	countersigns *memCountersignRepo
	comments     *memCommentRepo
	follows      *memFollowRepo
	history      *memHistoryRepo
	sink         *memSink
	directory    *stubDirectory
	visibility   *stubVisibility
	clock        *fixedClock
}

func newHarness(vacuous entity.Result) *harness {
	h := &harness{
		instances:    newMemInstanceRepo(),
		nodes:        newMemNodeRepo(),
		countersigns: newMemCountersignRepo(),
		comments:     &memCommentRepo{},
		follows:      &memFollowRepo{},
		history:      &memHistoryRepo{},
		sink:         &memSink{},
		clock:        &fixedClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		directory: &stubDirectory{
			roleUsers: map[string][]string{"finance": {"u-fin1", "u-fin2"}},
			managers:  map[string]string{"u-init": "u-boss"},
			deptHeads: map[string]string{"sales": "u-saleshead"},
			inactive:  map[string]bool{},
		},
		visibility: &stubVisibility{deny: map[string]bool{}},
	}

	h.engine = NewEngine(
		flow.NewCompiler(),
		approver.NewResolver(h.directory),
		h.instances,
		h.nodes,
		h.countersigns,
		h.history,
		memTxManager{},
		h.clock,
		vacuous,
		nopLogger{},
	)
	h.processor = NewProcessor(
		h.engine,
		h.directory,
		h.visibility,
		h.comments,
		h.follows,
		h.sink,
		nopLogger{},
	)
	return h
}

func activeTemplate(flowConfig string) *flow.Template {
	return &flow.Template{
		Code:       "expense-claim",
		Name:       "Expense Claim",
		Version:    1,
		Status:     flow.TemplateActive,
		FlowConfig: []byte(flowConfig),
	}
}

var _ port.DirectoryLookup = (*stubDirectory)(nil)
var _ port.Visibility = (*stubVisibility)(nil)
var _ port.EventSink = (*memSink)(nil)
var _ port.InstanceRepository = (*memInstanceRepo)(nil)
var _ port.NodeRepository = (*memNodeRepo)(nil)
var _ port.CountersignRepository = (*memCountersignRepo)(nil)
var _ port.CommentRepository = (*memCommentRepo)(nil)
var _ port.FollowRepository = (*memFollowRepo)(nil)
var _ port.HistoryRepository = (*memHistoryRepo)(nil)
var _ port.TransactionManager = memTxManager{}
