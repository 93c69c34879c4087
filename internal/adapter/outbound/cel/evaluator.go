// Package cel provides the CEL-backed scope selector used for teacher
// scoped access checks.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/chalkline-ai/chalkline/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for scope expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion DoS.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// DefaultScopeExpression is the shipped scope selector: the target
// class must be among the caller's assigned classes.
const DefaultScopeExpression = `target.class_id in teacher.class_ids`

// ScopeEvaluator evaluates a compiled scope expression. The expression
// is fixed at construction; deployments override it through config.
type ScopeEvaluator struct {
	env  *cel.Env
	prg  cel.Program
	expr string
}

var _ policy.ScopeEvaluator = (*ScopeEvaluator)(nil)

// newScopeEnvironment creates a CEL environment exposing the scope
// evaluation variables.
func newScopeEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("teacher", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// NewScopeEvaluator compiles expr into a reusable evaluator. Pass
// DefaultScopeExpression when no override is configured.
func NewScopeEvaluator(expr string) (*ScopeEvaluator, error) {
	env, err := newScopeEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create scope environment: %w", err)
	}
	e := &ScopeEvaluator{env: env, expr: expr}
	if err := e.validateExpression(expr); err != nil {
		return nil, err
	}
	prg, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	e.prg = prg
	return e, nil
}

// Expression returns the configured scope expression.
func (e *ScopeEvaluator) Expression() string { return e.expr }

// compile parses and type-checks a scope expression, returning a compiled program.
func (e *ScopeEvaluator) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// validateExpression enforces safety limits before compilation.
func (e *ScopeEvaluator) validateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	return validateNesting(expr)
}

// InScope evaluates the scope expression for one target class against
// the caller's class assignments. A non-boolean result is an error,
// never an allow.
func (e *ScopeEvaluator) InScope(ctx context.Context, targetClassID string, classIDs []string) (bool, error) {
	ids := make([]string, len(classIDs))
	copy(ids, classIDs)
	activation := map[string]any{
		"target": map[string]any{
			"class_id": targetClassID,
		},
		"teacher": map[string]any{
			"class_ids": ids,
		},
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := e.prg.ContextEval(evalCtx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}
