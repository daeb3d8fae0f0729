// Package approver resolves a node's declarative approver spec into a
// concrete set of user identifiers at activation time. The resolved set is a
// snapshot: later directory changes never alter an already-activated node.
package approver

import (
	"context"
	"fmt"
	"sort"

	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/domain/flow"
)

// Context carries the instance fields resolution strategies may consult
type Context struct {
	Initiator     string
	InitiatorDept string
}

// Resolver computes approver sets from approver specs via a DirectoryLookup
type Resolver struct {
	directory port.DirectoryLookup
}

// NewResolver creates a resolver backed by the given directory
func NewResolver(directory port.DirectoryLookup) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns the sorted, de-duplicated approver set for the spec. An
// empty result is not an error here; the case engine records it as a stalled
// node so operators can see why a case is stuck.
func (r *Resolver) Resolve(ctx context.Context, spec flow.ApproverSpec, ictx Context) ([]string, error) {
	var users []string
	var err error

	switch spec.Kind {
	case flow.ApproverRole:
		users, err = r.directory.UsersWithRole(ctx, spec.RoleCodes)
	case flow.ApproverDepartmentManager:
		users, err = r.singleManager(ctx, func() (string, error) {
			return r.directory.DepartmentManager(ctx, ictx.InitiatorDept)
		})
	case flow.ApproverInitiatorManager:
		users, err = r.singleManager(ctx, func() (string, error) {
			return r.directory.ManagerOf(ctx, ictx.Initiator)
		})
	case flow.ApproverFixedUsers:
		users, err = r.activeOnly(ctx, spec.UserIDs)
	default:
		return nil, fmt.Errorf("unknown approver kind: %s", spec.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("resolve %s approvers: %w", spec.Kind, err)
	}

	return normalize(users), nil
}

func (r *Resolver) singleManager(ctx context.Context, lookup func() (string, error)) ([]string, error) {
	manager, err := lookup()
	if err != nil {
		return nil, err
	}
	if manager == "" {
		return nil, nil
	}
	return []string{manager}, nil
}

func (r *Resolver) activeOnly(ctx context.Context, userIDs []string) ([]string, error) {
	active := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		ok, err := r.directory.IsActive(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			active = append(active, id)
		}
	}
	return active, nil
}

// normalize sorts and de-duplicates so resolution is deterministic given the
// same directory state
func normalize(users []string) []string {
	if len(users) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(users))
	result := make([]string, 0, len(users))
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		result = append(result, u)
	}

	sort.Strings(result)
	return result
}
