// Package policy contains domain types for RBAC evaluation of query
// tool calls.
package policy

import (
	"errors"
	"fmt"

	"github.com/chalkline-ai/chalkline/internal/domain/auth"
)

// ErrConfigurationDefect is returned when a (role, operation) pair that
// belongs in the rule table has no rule. Callers must treat it as fatal
// for the request rather than silently denying.
var ErrConfigurationDefect = errors.New("policy configuration defect")

// Effect is the authorization posture a rule grants.
type Effect string

const (
	// EffectDeny blocks the operation outright.
	EffectDeny Effect = "deny"
	// EffectAllowAll permits the operation for any target in the tenant.
	EffectAllowAll Effect = "allow_all"
	// EffectAllowOwnOnly permits the operation only when the target is
	// the caller's own record.
	EffectAllowOwnOnly Effect = "allow_own_only"
	// EffectAllowScoped permits the operation when the target falls
	// inside the caller's evaluated scope.
	EffectAllowScoped Effect = "allow_scoped"
)

// IsValid returns true if the effect is a known effect.
func (e Effect) IsValid() bool {
	switch e {
	case EffectDeny, EffectAllowAll, EffectAllowOwnOnly, EffectAllowScoped:
		return true
	default:
		return false
	}
}

// Outcome is the result category of one evaluation.
type Outcome string

const (
	// OutcomeAllow permits the operation without further restriction.
	OutcomeAllow Outcome = "allow"
	// OutcomeDeny blocks the operation.
	OutcomeDeny Outcome = "deny"
	// OutcomeAllowFiltered permits the operation restricted to the
	// scope carried on the decision.
	OutcomeAllowFiltered Outcome = "allow_filtered"
)

// Scope restricts an allowed operation to a subset of records.
type Scope struct {
	// OwnRef restricts reads to this exact record identifier when set.
	OwnRef string
	// ClassIDs restricts reads to students of these classes when set.
	ClassIDs []string
}

// IsZero reports whether the scope carries no restriction.
func (s Scope) IsZero() bool {
	return s.OwnRef == "" && len(s.ClassIDs) == 0
}

// Decision is the outcome of evaluating one operation for one caller.
type Decision struct {
	// Outcome is allow, deny, or allow_filtered.
	Outcome Outcome
	// Scope is set iff Outcome is OutcomeAllowFiltered.
	Scope Scope
	// Reason is a short machine-stable explanation for logs and audit.
	Reason string
}

// Allowed reports whether the operation may proceed in some form.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow || d.Outcome == OutcomeAllowFiltered
}

// Target identifies what a tool call wants to read. Exactly one of the
// fields is meaningful for a given operation.
type Target struct {
	// StudentID targets one student's records.
	StudentID string
	// ClassID targets one class.
	ClassID string
	// SchoolWide marks operations with no narrower target.
	SchoolWide bool
}

// Rule binds one (role, operation) pair to an effect.
type Rule struct {
	Role      auth.Role
	Operation string
	Effect    Effect
}

// Table is the static rule table for a deployment. It is immutable
// after construction; evaluation never mutates it.
type Table struct {
	rules map[auth.Role]map[string]Effect
	ops   map[string]struct{}
}

// NewTable builds a rule table over the given operations. Every rule
// must reference a listed operation and a valid role and effect.
func NewTable(operations []string, rules []Rule) (*Table, error) {
	t := &Table{
		rules: make(map[auth.Role]map[string]Effect),
		ops:   make(map[string]struct{}, len(operations)),
	}
	for _, op := range operations {
		t.ops[op] = struct{}{}
	}
	for _, r := range rules {
		if !r.Role.IsValid() {
			return nil, fmt.Errorf("rule for op %q: unknown role %q", r.Operation, r.Role)
		}
		if !r.Effect.IsValid() {
			return nil, fmt.Errorf("rule %s/%s: unknown effect %q", r.Role, r.Operation, r.Effect)
		}
		if _, ok := t.ops[r.Operation]; !ok {
			return nil, fmt.Errorf("rule %s/%s: operation not in catalog", r.Role, r.Operation)
		}
		byOp, ok := t.rules[r.Role]
		if !ok {
			byOp = make(map[string]Effect)
			t.rules[r.Role] = byOp
		}
		if _, dup := byOp[r.Operation]; dup {
			return nil, fmt.Errorf("rule %s/%s: duplicate rule", r.Role, r.Operation)
		}
		byOp[r.Operation] = r.Effect
	}
	return t, nil
}

// Effect looks up the effect for a (role, operation) pair.
//
// An operation outside the catalog is a plain default deny: ok is false
// and err is nil. An operation inside the catalog with no rule for the
// role is a deployment mistake and returns ErrConfigurationDefect.
func (t *Table) Effect(role auth.Role, operation string) (Effect, bool, error) {
	if _, known := t.ops[operation]; !known {
		return EffectDeny, false, nil
	}
	if byOp, ok := t.rules[role]; ok {
		if eff, ok := byOp[operation]; ok {
			return eff, true, nil
		}
	}
	return EffectDeny, false, fmt.Errorf("%w: no rule for role %q op %q", ErrConfigurationDefect, role, operation)
}

// Operations returns the catalog of operations the table enumerates.
func (t *Table) Operations() []string {
	out := make([]string, 0, len(t.ops))
	for op := range t.ops {
		out = append(out, op)
	}
	return out
}

// ValidateComplete verifies the table has a rule for every
// (role, operation) pair over all valid roles. Run at startup so
// defects surface before any traffic.
func (t *Table) ValidateComplete() error {
	for _, role := range []auth.Role{auth.RoleStudent, auth.RoleTeacher, auth.RoleAdmin} {
		for op := range t.ops {
			if _, _, err := t.Effect(role, op); err != nil {
				return err
			}
		}
	}
	return nil
}
