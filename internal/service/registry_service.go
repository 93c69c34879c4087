package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chalkline-ai/chalkline/internal/domain/agent"
	"github.com/chalkline-ai/chalkline/internal/domain/auth"
	"github.com/chalkline-ai/chalkline/internal/domain/policy"
	"github.com/chalkline-ai/chalkline/internal/domain/records"
	"github.com/chalkline-ai/chalkline/internal/domain/tenant"
	"github.com/chalkline-ai/chalkline/internal/domain/tool"
)

// RegistryService owns the query tool catalog. Every dispatch runs the
// same pipeline: validate arguments, resolve the target, evaluate
// policy, read within scope, shape the result. No tool handler talks
// to a store before the policy decision for its target is in hand.
type RegistryService struct {
	engine     policy.Engine
	router     tenant.Router
	validate   *validator.Validate
	weakMargin float64
	logger     *slog.Logger
}

// RegistryOption configures RegistryService.
type RegistryOption func(*RegistryService)

// WithWeakSubjectMargin overrides how far below their own average a
// subject must fall before the performance analysis flags it.
func WithWeakSubjectMargin(margin float64) RegistryOption {
	return func(s *RegistryService) {
		s.weakMargin = margin
	}
}

// NewRegistryService creates the registry over the shipped tool catalog.
func NewRegistryService(engine policy.Engine, router tenant.Router, logger *slog.Logger, opts ...RegistryOption) *RegistryService {
	s := &RegistryService{
		engine:     engine,
		router:     router,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		weakMargin: records.DefaultWeakSubjectMargin,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Descriptors returns the tool catalog for reasoner advertisement, in
// registration order.
func (s *RegistryService) Descriptors() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:        tool.OpGetStudentInfo,
			Description: "Get a student's profile: name, roll number, class, and guardian contacts.",
			InputSchema: studentTargetSchema,
		},
		{
			Name:        tool.OpGetAttendanceReport,
			Description: "Get a student's attendance summary with day counts, percentage, and recent absences. Dates are YYYY-MM-DD and optional.",
			InputSchema: attendanceSchema,
		},
		{
			Name:        tool.OpGetExamResults,
			Description: "Get a student's exam results, newest first, optionally filtered by subject and exam type.",
			InputSchema: examResultsSchema,
		},
		{
			Name:        tool.OpAnalyzePerformance,
			Description: "Analyze a student's performance: subject averages, weak subjects, attendance, and recommendations.",
			InputSchema: studentTargetSchema,
		},
		{
			Name:        tool.OpGetClassPerformance,
			Description: "Get class-wide performance: averages per subject, top performers, and struggling student count.",
			InputSchema: classTargetSchema,
		},
	}
}

var (
	studentTargetSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"student_id": {"type": "string", "description": "Student identifier, e.g. STU_ALICE"}
		},
		"required": ["student_id"]
	}`)
	attendanceSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"student_id": {"type": "string", "description": "Student identifier"},
			"start_date": {"type": "string", "description": "Inclusive start date YYYY-MM-DD"},
			"end_date": {"type": "string", "description": "Inclusive end date YYYY-MM-DD"}
		},
		"required": ["student_id"]
	}`)
	examResultsSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"student_id": {"type": "string", "description": "Student identifier"},
			"subject": {"type": "string", "description": "Optional subject filter"},
			"exam_type": {"type": "string", "description": "Optional exam type filter", "enum": ["midterm", "final", "quiz", "assignment", "project"]}
		},
		"required": ["student_id"]
	}`)
	classTargetSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"class_id": {"type": "string", "description": "Class identifier, e.g. CLS_10A"}
		},
		"required": ["class_id"]
	}`)
)

// Dispatch runs one tool call for one caller. The result is the shaped
// report ready for JSON encoding into the transcript. Failures are
// classified tool errors, except tenant and configuration defects
// which propagate unclassified so the orchestrator aborts the turn.
func (s *RegistryService) Dispatch(ctx context.Context, claims auth.Claims, req agent.ToolRequest) (any, error) {
	partition, err := s.router.Resolve(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}

	switch req.Name {
	case tool.OpGetStudentInfo:
		return s.getStudentInfo(ctx, claims, partition, req.Arguments)
	case tool.OpGetAttendanceReport:
		return s.getAttendanceReport(ctx, claims, partition, req.Arguments)
	case tool.OpGetExamResults:
		return s.getExamResults(ctx, claims, partition, req.Arguments)
	case tool.OpAnalyzePerformance:
		return s.analyzePerformance(ctx, claims, partition, req.Arguments)
	case tool.OpGetClassPerformance:
		return s.getClassPerformance(ctx, claims, partition, req.Arguments)
	default:
		return nil, tool.NewError(tool.CodeUnknownTool, fmt.Sprintf("no tool named %q", req.Name))
	}
}

// decodeArgs unmarshals and validates tool arguments into dst.
func (s *RegistryService) decodeArgs(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return tool.WrapError(tool.CodeInvalidArgument, "malformed arguments", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return tool.WrapError(tool.CodeInvalidArgument, fmt.Sprintf("invalid arguments: %v", err), err)
	}
	return nil
}

// resolveStudent loads the target student's profile, which also pins
// the class the scope filter is applied against. Runs only after a
// non-deny decision for the target is in hand.
func (s *RegistryService) resolveStudent(ctx context.Context, p *tenant.Partition, studentID string) (*records.StudentProfile, error) {
	profile, err := p.Records.StudentByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil, tool.WrapError(tool.CodeNotFound, fmt.Sprintf("no student with id %q", studentID), err)
		}
		return nil, tool.WrapError(tool.CodeInternal, "student lookup failed", err)
	}
	return profile, nil
}

// authorize evaluates policy for the target and converts denies into
// permission errors safe to surface to the reasoner.
func (s *RegistryService) authorize(ctx context.Context, claims auth.Claims, operation string, target policy.Target) (policy.Decision, error) {
	decision, err := s.engine.Evaluate(ctx, claims, operation, target)
	if err != nil {
		// Configuration defects abort the turn instead of masquerading
		// as a deny.
		return policy.Decision{}, err
	}
	if !decision.Allowed() {
		s.logger.Info("tool call denied",
			"operation", operation,
			"subject", claims.SubjectID,
			"role", claims.Role,
			"reason", decision.Reason,
		)
		return policy.Decision{}, tool.NewError(tool.CodePermissionDenied,
			fmt.Sprintf("access denied: %s", denialMessage(claims.Role, operation)))
	}
	return decision, nil
}

// applyClassScope finishes a filtered decision once the resolved
// target's class is known, by re-evaluating with the full target so the
// configured scope selector decides membership. This is the mandatory
// post-read step for scoped callers whose target class is unknown at
// evaluation time.
func (s *RegistryService) applyClassScope(ctx context.Context, claims auth.Claims, operation string, decision policy.Decision, target policy.Target) error {
	if decision.Outcome != policy.OutcomeAllowFiltered {
		return nil
	}
	_, err := s.authorize(ctx, claims, operation, target)
	return err
}

// denialMessage produces the reasoner-facing denial text. It names the
// rule shape, not the specific records that exist.
func denialMessage(role auth.Role, operation string) string {
	switch role {
	case auth.RoleStudent:
		return "students can only view their own records"
	case auth.RoleTeacher:
		return "teachers can only view records of students in their classes"
	default:
		return fmt.Sprintf("role %q may not perform %s", role, operation)
	}
}

func (s *RegistryService) getStudentInfo(ctx context.Context, claims auth.Claims, p *tenant.Partition, raw json.RawMessage) (any, error) {
	var args tool.StudentInfoArgs
	if err := s.decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	decision, err := s.authorize(ctx, claims, tool.OpGetStudentInfo, policy.Target{StudentID: args.StudentID})
	if err != nil {
		return nil, err
	}
	profile, err := s.resolveStudent(ctx, p, args.StudentID)
	if err != nil {
		return nil, err
	}
	if err := s.applyClassScope(ctx, claims, tool.OpGetStudentInfo, decision, policy.Target{StudentID: profile.StudentID, ClassID: profile.ClassID}); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *RegistryService) getAttendanceReport(ctx context.Context, claims auth.Claims, p *tenant.Partition, raw json.RawMessage) (any, error) {
	var args tool.AttendanceReportArgs
	if err := s.decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	rng, err := parseDateRange(args.StartDate, args.EndDate)
	if err != nil {
		return nil, err
	}

	decision, err := s.authorize(ctx, claims, tool.OpGetAttendanceReport, policy.Target{StudentID: args.StudentID})
	if err != nil {
		return nil, err
	}
	profile, err := s.resolveStudent(ctx, p, args.StudentID)
	if err != nil {
		return nil, err
	}
	if err := s.applyClassScope(ctx, claims, tool.OpGetAttendanceReport, decision, policy.Target{StudentID: profile.StudentID, ClassID: profile.ClassID}); err != nil {
		return nil, err
	}

	attendance, err := p.Records.Attendance(ctx, args.StudentID, rng)
	if err != nil {
		return nil, tool.WrapError(tool.CodeInternal, "attendance lookup failed", err)
	}
	return records.BuildAttendanceReport(*profile, rng, attendance), nil
}

func (s *RegistryService) getExamResults(ctx context.Context, claims auth.Claims, p *tenant.Partition, raw json.RawMessage) (any, error) {
	var args tool.ExamResultsArgs
	if err := s.decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ExamType != "" && !records.ExamType(args.ExamType).IsValid() {
		return nil, tool.NewError(tool.CodeInvalidArgument, fmt.Sprintf("unknown exam_type %q", args.ExamType))
	}

	decision, err := s.authorize(ctx, claims, tool.OpGetExamResults, policy.Target{StudentID: args.StudentID})
	if err != nil {
		return nil, err
	}
	profile, err := s.resolveStudent(ctx, p, args.StudentID)
	if err != nil {
		return nil, err
	}
	if err := s.applyClassScope(ctx, claims, tool.OpGetExamResults, decision, policy.Target{StudentID: profile.StudentID, ClassID: profile.ClassID}); err != nil {
		return nil, err
	}

	exams, err := p.Records.ExamResults(ctx, args.StudentID, args.Subject)
	if err != nil {
		return nil, tool.WrapError(tool.CodeInternal, "exam lookup failed", err)
	}
	if args.ExamType != "" {
		filtered := exams[:0]
		for _, e := range exams {
			if e.ExamType == records.ExamType(args.ExamType) {
				filtered = append(filtered, e)
			}
		}
		exams = filtered
	}
	return records.BuildExamReport(*profile, args.Subject, exams), nil
}

func (s *RegistryService) analyzePerformance(ctx context.Context, claims auth.Claims, p *tenant.Partition, raw json.RawMessage) (any, error) {
	var args tool.AnalyzePerformanceArgs
	if err := s.decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	decision, err := s.authorize(ctx, claims, tool.OpAnalyzePerformance, policy.Target{StudentID: args.StudentID})
	if err != nil {
		return nil, err
	}
	profile, err := s.resolveStudent(ctx, p, args.StudentID)
	if err != nil {
		return nil, err
	}
	if err := s.applyClassScope(ctx, claims, tool.OpAnalyzePerformance, decision, policy.Target{StudentID: profile.StudentID, ClassID: profile.ClassID}); err != nil {
		return nil, err
	}

	exams, err := p.Records.ExamResults(ctx, args.StudentID, "")
	if err != nil {
		return nil, tool.WrapError(tool.CodeInternal, "exam lookup failed", err)
	}
	attendance, err := p.Records.Attendance(ctx, args.StudentID, records.DateRange{})
	if err != nil {
		return nil, tool.WrapError(tool.CodeInternal, "attendance lookup failed", err)
	}
	return records.BuildPerformanceAnalysis(*profile, exams, attendance, s.weakMargin), nil
}

func (s *RegistryService) getClassPerformance(ctx context.Context, claims auth.Claims, p *tenant.Partition, raw json.RawMessage) (any, error) {
	var args tool.ClassPerformanceArgs
	if err := s.decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	if _, err := s.authorize(ctx, claims, tool.OpGetClassPerformance, policy.Target{ClassID: args.ClassID}); err != nil {
		return nil, err
	}
	class, err := p.Records.ClassByID(ctx, args.ClassID)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil, tool.WrapError(tool.CodeNotFound, fmt.Sprintf("no class with id %q", args.ClassID), err)
		}
		return nil, tool.WrapError(tool.CodeInternal, "class lookup failed", err)
	}

	students, err := p.Records.StudentsByClass(ctx, args.ClassID)
	if err != nil {
		return nil, tool.WrapError(tool.CodeInternal, "class roster lookup failed", err)
	}
	exams, err := p.Records.ExamResultsByClass(ctx, args.ClassID)
	if err != nil {
		return nil, tool.WrapError(tool.CodeInternal, "class exam lookup failed", err)
	}
	return records.BuildClassPerformance(*class, students, exams), nil
}

// parseDateRange converts optional date strings into a DateRange.
func parseDateRange(start, end string) (records.DateRange, error) {
	var rng records.DateRange
	var err error
	if start != "" {
		rng.Start, err = time.Parse("2006-01-02", start)
		if err != nil {
			return records.DateRange{}, tool.WrapError(tool.CodeInvalidArgument, fmt.Sprintf("invalid start_date %q", start), err)
		}
	}
	if end != "" {
		rng.End, err = time.Parse("2006-01-02", end)
		if err != nil {
			return records.DateRange{}, tool.WrapError(tool.CodeInvalidArgument, fmt.Sprintf("invalid end_date %q", end), err)
		}
	}
	if !rng.Start.IsZero() && !rng.End.IsZero() && rng.End.Before(rng.Start) {
		return records.DateRange{}, tool.NewError(tool.CodeInvalidArgument, "end_date is before start_date")
	}
	return rng, nil
}
