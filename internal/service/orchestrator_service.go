package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chalkline-ai/chalkline/internal/domain/agent"
	"github.com/chalkline-ai/chalkline/internal/domain/auth"
	"github.com/chalkline-ai/chalkline/internal/domain/policy"
	"github.com/chalkline-ai/chalkline/internal/domain/tenant"
	"github.com/chalkline-ai/chalkline/internal/domain/tool"
)

// ToolDispatcher is the orchestrator's view of the tool registry.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, claims auth.Claims, req agent.ToolRequest) (any, error)
	Descriptors() []tool.Descriptor
}

var _ ToolDispatcher = (*RegistryService)(nil)

// fallbackAnswer is returned when the turn ends with no usable answer
// and no completed lookups to summarize.
const fallbackAnswer = "I could not finish answering within the allowed number of steps. Please ask a narrower question."

// OrchestratorService runs the reasoning loop for one turn: it asks the
// reasoner for a step, dispatches any requested tool calls, feeds the
// observations back, and repeats until the reasoner answers or the
// round budget runs out.
type OrchestratorService struct {
	reasoner   agent.Reasoner
	dispatcher ToolDispatcher
	router     tenant.Router
	logger     *slog.Logger
	tracer     trace.Tracer

	maxRounds      int
	toolTimeout    time.Duration
	turnTimeout    time.Duration
	maxResultBytes int
}

// OrchestratorOption configures OrchestratorService.
type OrchestratorOption func(*OrchestratorService)

// WithMaxRounds sets how many tool-dispatching reasoning rounds a turn
// may run. One extra tools-disabled round is granted for the final
// answer when the budget runs out.
func WithMaxRounds(n int) OrchestratorOption {
	return func(s *OrchestratorService) {
		s.maxRounds = n
	}
}

// WithToolTimeout sets the per-call deadline for one tool dispatch.
func WithToolTimeout(d time.Duration) OrchestratorOption {
	return func(s *OrchestratorService) {
		s.toolTimeout = d
	}
}

// WithTurnTimeout sets the deadline for the whole turn.
func WithTurnTimeout(d time.Duration) OrchestratorOption {
	return func(s *OrchestratorService) {
		s.turnTimeout = d
	}
}

// WithMaxResultBytes caps how much of one tool result is placed into
// the transcript before truncation.
func WithMaxResultBytes(n int) OrchestratorOption {
	return func(s *OrchestratorService) {
		s.maxResultBytes = n
	}
}

// NewOrchestratorService creates an orchestrator with sane defaults:
// 8 rounds, 10s per tool call, 120s per turn, 16KiB per tool result.
func NewOrchestratorService(reasoner agent.Reasoner, dispatcher ToolDispatcher, router tenant.Router, logger *slog.Logger, opts ...OrchestratorOption) *OrchestratorService {
	s := &OrchestratorService{
		reasoner:       reasoner,
		dispatcher:     dispatcher,
		router:         router,
		logger:         logger,
		tracer:         otel.Tracer("chalkline/orchestrator"),
		maxRounds:      8,
		toolTimeout:    10 * time.Second,
		turnTimeout:    120 * time.Second,
		maxResultBytes: 16 * 1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Turn runs one question through the reasoning loop and returns the
// final answer. The error return is reserved for turn-aborting
// failures: invalid claims, unknown tenant, a policy configuration
// defect, or a reasoner failure. Tool call failures are observations
// fed back to the reasoner, not errors.
func (s *OrchestratorService) Turn(ctx context.Context, claims auth.Claims, question string) (*agent.TurnResult, error) {
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	// Resolve the tenant before any reasoning so an unknown tenant
	// never reaches the model.
	if _, err := s.router.Resolve(ctx, claims.TenantID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("tenant.id", claims.TenantID),
			attribute.String("caller.role", string(claims.Role)),
		))
	defer span.End()

	transcript := []agent.Message{
		{Role: agent.RoleSystem, Content: systemPrompt(claims)},
		{Role: agent.RoleUser, Content: question},
	}
	descriptors := s.dispatcher.Descriptors()
	result := &agent.TurnResult{}

	for round := 1; round <= s.maxRounds; round++ {
		result.Rounds = round

		step, err := s.reasoner.Reason(ctx, transcript, descriptors, true)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return s.truncatedResult(result), nil
			}
			return nil, fmt.Errorf("reasoning round %d: %w", round, err)
		}
		transcript = append(transcript, step.Raw)

		if len(step.Requests) == 0 {
			result.Answer = step.Answer
			span.SetAttributes(
				attribute.Int("turn.rounds", result.Rounds),
				attribute.Int("turn.tool_calls", len(result.ToolCalls)),
			)
			return result, nil
		}

		observations, err := s.dispatchAll(ctx, claims, step.Requests, result)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return s.truncatedResult(result), nil
			}
			return nil, err
		}
		transcript = append(transcript, observations...)
	}

	// Budget exhausted. Grant one tools-disabled round so the reasoner
	// can wrap up from what it has seen.
	result.Truncated = true
	step, err := s.reasoner.Reason(ctx, transcript, descriptors, false)
	if err != nil || step.Answer == "" {
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("final answer round failed", "error", err)
		}
		return s.truncatedResult(result), nil
	}
	result.Answer = step.Answer
	return result, nil
}

// dispatchAll runs one round's tool requests concurrently and returns
// their observations in request order. The error return carries only
// turn-aborting failures.
func (s *OrchestratorService) dispatchAll(ctx context.Context, claims auth.Claims, requests []agent.ToolRequest, result *agent.TurnResult) ([]agent.Message, error) {
	observations := make([]agent.Message, len(requests))
	recs := make([]agent.ToolCallRecord, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		g.Go(func() error {
			obs, rec, err := s.dispatchOne(gctx, claims, req)
			if err != nil {
				return err
			}
			observations[i] = obs
			recs[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.ToolCalls = append(result.ToolCalls, recs...)
	return observations, nil
}

// dispatchOne runs one tool call under the per-call deadline and shapes
// its observation. Classified tool errors become observations; tenant
// and configuration defects abort.
func (s *OrchestratorService) dispatchOne(ctx context.Context, claims auth.Claims, req agent.ToolRequest) (agent.Message, agent.ToolCallRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	callCtx, span := s.tracer.Start(callCtx, "agent.tool_call",
		trace.WithAttributes(attribute.String("tool.name", req.Name)))
	defer span.End()

	start := time.Now()
	payload, err := s.dispatcher.Dispatch(callCtx, claims, req)
	duration := time.Since(start)

	rec := agent.ToolCallRecord{
		CallID:   req.CallID,
		Name:     req.Name,
		Outcome:  agent.OutcomeOK,
		Duration: duration,
	}

	if err != nil {
		if errors.Is(err, policy.ErrConfigurationDefect) || errors.Is(err, tenant.ErrTenantNotFound) {
			return agent.Message{}, agent.ToolCallRecord{}, err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = tool.WrapError(tool.CodeTimeout, fmt.Sprintf("tool %s exceeded its deadline", req.Name), err)
		}
		if ctx.Err() != nil {
			// The turn itself ran out, not just this call.
			return agent.Message{}, agent.ToolCallRecord{}, ctx.Err()
		}

		code := tool.CodeOf(err)
		rec.Outcome = agent.OutcomeError
		rec.ErrorCode = code
		span.SetAttributes(attribute.String("tool.error_code", string(code)))
		s.logger.Info("tool call failed",
			"tool", req.Name,
			"code", code,
			"error", err,
		)
		return s.errorObservation(req, code, tool.MessageOf(err)), rec, nil
	}

	content, merr := json.Marshal(payload)
	if merr != nil {
		rec.Outcome = agent.OutcomeError
		rec.ErrorCode = tool.CodeInternal
		return s.errorObservation(req, tool.CodeInternal, "internal error"), rec, nil
	}
	return agent.Message{
		Role:     agent.RoleTool,
		CallID:   req.CallID,
		ToolName: req.Name,
		Content:  s.truncate(string(content)),
	}, rec, nil
}

// errorObservation shapes a failed call into a transcript entry the
// reasoner can react to.
func (s *OrchestratorService) errorObservation(req agent.ToolRequest, code tool.ErrorCode, message string) agent.Message {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": message,
		},
	})
	return agent.Message{
		Role:     agent.RoleTool,
		CallID:   req.CallID,
		ToolName: req.Name,
		Content:  string(body),
	}
}

// truncationMarker is appended when a tool result is cut.
const truncationMarker = "\n[result truncated]"

// truncate caps a tool result for the transcript. The cut lands on a
// rune boundary so the transcript stays valid UTF-8.
func (s *OrchestratorService) truncate(content string) string {
	if len(content) <= s.maxResultBytes {
		return content
	}
	cut := s.maxResultBytes
	for cut > 0 && content[cut]&0xC0 == 0x80 {
		cut--
	}
	return content[:cut] + truncationMarker
}

// truncatedResult finishes a turn that ran out of budget or time
// without a final answer from the reasoner.
func (s *OrchestratorService) truncatedResult(result *agent.TurnResult) *agent.TurnResult {
	result.Truncated = true
	if result.Answer == "" {
		result.Answer = summarizeToolCalls(result.ToolCalls)
	}
	return result
}

// summarizeToolCalls synthesizes a closing answer from whatever lookups
// completed before the turn was cut off.
func summarizeToolCalls(calls []agent.ToolCallRecord) string {
	seen := make(map[string]struct{})
	var done []string
	for _, c := range calls {
		if c.Outcome != agent.OutcomeOK {
			continue
		}
		if _, dup := seen[c.Name]; dup {
			continue
		}
		seen[c.Name] = struct{}{}
		done = append(done, c.Name)
	}
	if len(done) == 0 {
		return fallbackAnswer
	}
	return fmt.Sprintf("I ran out of steps before finishing. These lookups completed: %s. Please ask a narrower question for a full answer.",
		strings.Join(done, ", "))
}

// systemPrompt builds the role-specific instructions for the turn. It
// states the caller's access boundary so the reasoner does not attempt
// calls that policy will deny.
func systemPrompt(claims auth.Claims) string {
	base := "You are a school records assistant. Answer questions using only the provided tools. " +
		"Never invent grades, attendance figures, or personal details. " +
		"If a tool reports permission_denied, tell the user the record is outside their access instead of retrying."

	switch claims.Role {
	case auth.RoleStudent:
		return base + fmt.Sprintf(" The caller is the student %s and may only see their own records.", claims.StudentRef)
	case auth.RoleTeacher:
		return base + fmt.Sprintf(" The caller is the teacher %s and may only see students of their assigned classes.", claims.TeacherRef)
	case auth.RoleAdmin:
		return base + " The caller is a school administrator with access to all records of their school."
	default:
		return base
	}
}
