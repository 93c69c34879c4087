package policy

import (
	"context"

	"github.com/chalkline-ai/chalkline/internal/domain/auth"
)

// Engine evaluates one operation for one caller against the rule table.
type Engine interface {
	// Evaluate decides whether claims may perform operation on target.
	// It returns a Decision for both allows and denies; the error
	// return is reserved for evaluation failures such as
	// ErrConfigurationDefect, which callers must not downgrade to a
	// deny.
	Evaluate(ctx context.Context, claims auth.Claims, operation string, target Target) (Decision, error)
}

// ScopeEvaluator answers whether a target falls inside a caller's
// scope. Implementations live in the adapter layer; the domain only
// sees the question and the boolean answer.
type ScopeEvaluator interface {
	// InScope reports whether the target class is within the caller's
	// assigned classes. classIDs are the caller's assignments, already
	// resolved from the tenant partition.
	InScope(ctx context.Context, targetClassID string, classIDs []string) (bool, error)
}
