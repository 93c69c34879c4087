package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/cel"
	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/memory"
	"github.com/chalkline-ai/chalkline/internal/domain/agent"
	"github.com/chalkline-ai/chalkline/internal/domain/auth"
	"github.com/chalkline-ai/chalkline/internal/domain/policy"
	"github.com/chalkline-ai/chalkline/internal/domain/records"
	"github.com/chalkline-ai/chalkline/internal/domain/tenant"
	"github.com/chalkline-ai/chalkline/internal/domain/tool"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

// seedDemoStore fills a store with one school: two classes, three
// students, one teacher assigned to CLS_10A only.
func seedDemoStore(t *testing.T, store records.Writer) {
	t.Helper()
	ctx := context.Background()

	mustSeed := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	mustSeed(store.UpsertClass(ctx, records.Class{ClassID: "CLS_10A", Name: "Grade 10 Section A", Grade: 10, Section: "A", AcademicYear: "2025-2026"}))
	mustSeed(store.UpsertClass(ctx, records.Class{ClassID: "CLS_10B", Name: "Grade 10 Section B", Grade: 10, Section: "B", AcademicYear: "2025-2026"}))

	mustSeed(store.UpsertStudent(ctx, records.StudentProfile{
		StudentID: "STU_ALICE", Name: "Alice Johnson", RollNumber: "10A-01",
		ClassID: "CLS_10A", ClassName: "Grade 10 Section A", Grade: 10, Section: "A",
	}))
	mustSeed(store.UpsertStudent(ctx, records.StudentProfile{
		StudentID: "STU_BOB", Name: "Bob Smith", RollNumber: "10A-02",
		ClassID: "CLS_10A", ClassName: "Grade 10 Section A", Grade: 10, Section: "A",
	}))
	mustSeed(store.UpsertStudent(ctx, records.StudentProfile{
		StudentID: "STU_CARA", Name: "Cara Lee", RollNumber: "10B-01",
		ClassID: "CLS_10B", ClassName: "Grade 10 Section B", Grade: 10, Section: "B",
	}))

	mustSeed(store.UpsertTeacher(ctx, "TCH_JOHN", "John Mathews", []string{"CLS_10A"}, "CLS_10A"))

	mustSeed(store.InsertAttendance(ctx, "STU_ALICE", day(t, "2026-01-05"), records.StatusPresent))
	mustSeed(store.InsertAttendance(ctx, "STU_ALICE", day(t, "2026-01-06"), records.StatusAbsent))
	mustSeed(store.InsertAttendance(ctx, "STU_ALICE", day(t, "2026-01-07"), records.StatusPresent))
	mustSeed(store.InsertAttendance(ctx, "STU_ALICE", day(t, "2026-01-08"), records.StatusPresent))

	mustSeed(store.InsertExamResult(ctx, records.ExamResult{
		StudentID: "STU_ALICE", Subject: "Math", ExamType: records.ExamMidterm,
		ExamDate: day(t, "2026-01-10"), MarksObtained: 90, MaxMarks: 100, Grade: "A",
	}))
	mustSeed(store.InsertExamResult(ctx, records.ExamResult{
		StudentID: "STU_ALICE", Subject: "History", ExamType: records.ExamQuiz,
		ExamDate: day(t, "2026-01-12"), MarksObtained: 12, MaxMarks: 20, Grade: "C",
	}))
	mustSeed(store.InsertExamResult(ctx, records.ExamResult{
		StudentID: "STU_BOB", Subject: "Math", ExamType: records.ExamMidterm,
		ExamDate: day(t, "2026-01-10"), MarksObtained: 55, MaxMarks: 100, Grade: "D",
	}))
}

// newTestRegistry wires a registry over one seeded tenant with the
// shipped rule table and scope expression.
func newTestRegistry(t *testing.T) *RegistryService {
	t.Helper()
	logger := discardLogger()

	store := memory.NewRecordStore()
	seedDemoStore(t, store)

	router, err := NewTenantRouter(map[string]records.Store{"demo_school": store}, logger)
	if err != nil {
		t.Fatalf("NewTenantRouter: %v", err)
	}

	ops := tool.CatalogOperations()
	table, err := policy.NewTable(ops, DefaultRules(ops))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	scope, err := cel.NewScopeEvaluator(cel.DefaultScopeExpression)
	if err != nil {
		t.Fatalf("NewScopeEvaluator: %v", err)
	}
	engine, err := NewPolicyService(table, scope, router, logger)
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}

	return NewRegistryService(engine, router, logger)
}

func studentClaims(ref string) auth.Claims {
	return auth.Claims{SubjectID: "user-" + ref, Role: auth.RoleStudent, TenantID: "demo_school", StudentRef: ref}
}

func teacherClaims(ref string) auth.Claims {
	return auth.Claims{SubjectID: "user-" + ref, Role: auth.RoleTeacher, TenantID: "demo_school", TeacherRef: ref}
}

func adminClaims() auth.Claims {
	return auth.Claims{SubjectID: "user-admin", Role: auth.RoleAdmin, TenantID: "demo_school"}
}

func call(name, args string) agent.ToolRequest {
	return agent.ToolRequest{CallID: "call-1", Name: name, Arguments: json.RawMessage(args)}
}

func wantToolCode(t *testing.T, err error, code tool.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := tool.CodeOf(err); got != code {
		t.Fatalf("error code = %s, want %s (err: %v)", got, code, err)
	}
}

func TestRegistryStudentOwnRecords(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	claims := studentClaims("STU_ALICE")

	t.Run("own profile allowed", func(t *testing.T) {
		result, err := reg.Dispatch(ctx, claims, call(tool.OpGetStudentInfo, `{"student_id":"STU_ALICE"}`))
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		profile, ok := result.(*records.StudentProfile)
		if !ok {
			t.Fatalf("result type = %T, want *records.StudentProfile", result)
		}
		if profile.Name != "Alice Johnson" {
			t.Errorf("Name = %q, want Alice Johnson", profile.Name)
		}
	})

	t.Run("classmate profile denied", func(t *testing.T) {
		_, err := reg.Dispatch(ctx, claims, call(tool.OpGetStudentInfo, `{"student_id":"STU_BOB"}`))
		wantToolCode(t, err, tool.CodePermissionDenied)
	})

	t.Run("nonexistent student denied the same way", func(t *testing.T) {
		// A denied caller must not learn which student ids exist.
		_, err := reg.Dispatch(ctx, claims, call(tool.OpGetStudentInfo, `{"student_id":"STU_GHOST"}`))
		wantToolCode(t, err, tool.CodePermissionDenied)
	})

	t.Run("denial happens before any record read", func(t *testing.T) {
		_, err := reg.Dispatch(ctx, claims, call(tool.OpGetExamResults, `{"student_id":"STU_GHOST"}`))
		wantToolCode(t, err, tool.CodePermissionDenied)
		if errors.Is(err, records.ErrNotFound) {
			t.Errorf("denial carries a store lookup result: %v", err)
		}
	})

	t.Run("own attendance allowed", func(t *testing.T) {
		result, err := reg.Dispatch(ctx, claims, call(tool.OpGetAttendanceReport, `{"student_id":"STU_ALICE"}`))
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		report, ok := result.(records.AttendanceReport)
		if !ok {
			t.Fatalf("result type = %T, want records.AttendanceReport", result)
		}
		if report.TotalDays != 4 || report.PresentDays != 3 {
			t.Errorf("days = %d/%d, want 3 present of 4", report.PresentDays, report.TotalDays)
		}
		if report.AttendancePercent != 75.0 {
			t.Errorf("AttendancePercent = %v, want 75", report.AttendancePercent)
		}
	})

	t.Run("class performance denied", func(t *testing.T) {
		_, err := reg.Dispatch(ctx, claims, call(tool.OpGetClassPerformance, `{"class_id":"CLS_10A"}`))
		wantToolCode(t, err, tool.CodePermissionDenied)
	})
}

func TestRegistryTeacherScope(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	claims := teacherClaims("TCH_JOHN")

	t.Run("student in assigned class allowed", func(t *testing.T) {
		result, err := reg.Dispatch(ctx, claims, call(tool.OpGetExamResults, `{"student_id":"STU_BOB"}`))
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		report, ok := result.(records.ExamReport)
		if !ok {
			t.Fatalf("result type = %T, want records.ExamReport", result)
		}
		if len(report.Results) != 1 {
			t.Fatalf("len(Results) = %d, want 1", len(report.Results))
		}
	})

	t.Run("student outside assigned classes denied", func(t *testing.T) {
		_, err := reg.Dispatch(ctx, claims, call(tool.OpGetStudentInfo, `{"student_id":"STU_CARA"}`))
		wantToolCode(t, err, tool.CodePermissionDenied)
	})

	t.Run("assigned class performance allowed", func(t *testing.T) {
		result, err := reg.Dispatch(ctx, claims, call(tool.OpGetClassPerformance, `{"class_id":"CLS_10A"}`))
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		perf, ok := result.(records.ClassPerformance)
		if !ok {
			t.Fatalf("result type = %T, want records.ClassPerformance", result)
		}
		if perf.StudentCount != 2 {
			t.Errorf("StudentCount = %d, want 2", perf.StudentCount)
		}
		if len(perf.TopPerformers) != 2 || perf.TopPerformers[0].StudentID != "STU_ALICE" {
			t.Errorf("TopPerformers = %+v, want STU_ALICE leading", perf.TopPerformers)
		}
	})

	t.Run("unassigned class performance denied", func(t *testing.T) {
		_, err := reg.Dispatch(ctx, claims, call(tool.OpGetClassPerformance, `{"class_id":"CLS_10B"}`))
		wantToolCode(t, err, tool.CodePermissionDenied)
	})
}

func TestRegistryAdminAccess(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	claims := adminClaims()

	t.Run("any student allowed", func(t *testing.T) {
		result, err := reg.Dispatch(ctx, claims, call(tool.OpAnalyzePerformance, `{"student_id":"STU_ALICE"}`))
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		analysis, ok := result.(records.PerformanceAnalysis)
		if !ok {
			t.Fatalf("result type = %T, want records.PerformanceAnalysis", result)
		}
		// 90% Math and 60% History averaging to 75, History below by 15.
		if analysis.OverallAverage != 75.0 {
			t.Errorf("OverallAverage = %v, want 75", analysis.OverallAverage)
		}
		if len(analysis.WeakSubjects) != 1 || analysis.WeakSubjects[0] != "History" {
			t.Errorf("WeakSubjects = %v, want [History]", analysis.WeakSubjects)
		}
	})

	t.Run("missing student is not found", func(t *testing.T) {
		_, err := reg.Dispatch(ctx, claims, call(tool.OpGetStudentInfo, `{"student_id":"STU_NOBODY"}`))
		wantToolCode(t, err, tool.CodeNotFound)
	})

	t.Run("missing class is not found", func(t *testing.T) {
		_, err := reg.Dispatch(ctx, claims, call(tool.OpGetClassPerformance, `{"class_id":"CLS_99Z"}`))
		wantToolCode(t, err, tool.CodeNotFound)
	})
}

func TestRegistryArgumentValidation(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	claims := adminClaims()

	tests := []struct {
		name string
		req  agent.ToolRequest
		code tool.ErrorCode
	}{
		{
			name: "missing required field",
			req:  call(tool.OpGetStudentInfo, `{}`),
			code: tool.CodeInvalidArgument,
		},
		{
			name: "malformed json",
			req:  call(tool.OpGetStudentInfo, `{"student_id":`),
			code: tool.CodeInvalidArgument,
		},
		{
			name: "unknown field rejected",
			req:  call(tool.OpGetStudentInfo, `{"student_id":"STU_ALICE","extra":true}`),
			code: tool.CodeInvalidArgument,
		},
		{
			name: "bad date format",
			req:  call(tool.OpGetAttendanceReport, `{"student_id":"STU_ALICE","start_date":"January 5"}`),
			code: tool.CodeInvalidArgument,
		},
		{
			name: "inverted date range",
			req:  call(tool.OpGetAttendanceReport, `{"student_id":"STU_ALICE","start_date":"2026-01-08","end_date":"2026-01-05"}`),
			code: tool.CodeInvalidArgument,
		},
		{
			name: "unknown exam type",
			req:  call(tool.OpGetExamResults, `{"student_id":"STU_ALICE","exam_type":"pop"}`),
			code: tool.CodeInvalidArgument,
		},
		{
			name: "unknown tool",
			req:  call("drop_all_tables", `{}`),
			code: tool.CodeUnknownTool,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Dispatch(ctx, claims, tt.req)
			wantToolCode(t, err, tt.code)
		})
	}
}

func TestRegistryAttendanceDateFilter(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	result, err := reg.Dispatch(ctx, adminClaims(), call(tool.OpGetAttendanceReport,
		`{"student_id":"STU_ALICE","start_date":"2026-01-06","end_date":"2026-01-07"}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	report := result.(records.AttendanceReport)
	if report.TotalDays != 2 {
		t.Errorf("TotalDays = %d, want 2", report.TotalDays)
	}
	if report.AbsentDays != 1 || len(report.RecentAbsences) != 1 {
		t.Errorf("absences = %d/%v, want one on 2026-01-06", report.AbsentDays, report.RecentAbsences)
	}
	if report.PeriodStart != "2026-01-06" || report.PeriodEnd != "2026-01-07" {
		t.Errorf("period = %s..%s", report.PeriodStart, report.PeriodEnd)
	}
}

func TestRegistryExamTypeFilter(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	result, err := reg.Dispatch(ctx, adminClaims(), call(tool.OpGetExamResults,
		`{"student_id":"STU_ALICE","exam_type":"quiz"}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	report := result.(records.ExamReport)
	if len(report.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1", len(report.Results))
	}
	if report.Results[0].Subject != "History" || report.Results[0].ExamType != "quiz" {
		t.Errorf("Results[0] = %+v, want History quiz", report.Results[0])
	}
}

func TestRegistryTenantIsolation(t *testing.T) {
	logger := discardLogger()
	ctx := context.Background()

	// The same student id exists in both partitions with different data.
	seedTenant := func(store records.Writer, studentName string, marks float64) {
		if err := store.UpsertClass(ctx, records.Class{ClassID: "CLS_10A", Name: "Grade 10 Section A", Grade: 10, Section: "A", AcademicYear: "2025-2026"}); err != nil {
			t.Fatalf("seed class: %v", err)
		}
		if err := store.UpsertStudent(ctx, records.StudentProfile{
			StudentID: "STU_ALICE", Name: studentName, RollNumber: "10A-01",
			ClassID: "CLS_10A", ClassName: "Grade 10 Section A", Grade: 10, Section: "A",
		}); err != nil {
			t.Fatalf("seed student: %v", err)
		}
		if err := store.InsertExamResult(ctx, records.ExamResult{
			StudentID: "STU_ALICE", Subject: "Math", ExamType: records.ExamMidterm,
			ExamDate: day(t, "2026-01-10"), MarksObtained: marks, MaxMarks: 100, Grade: "A",
		}); err != nil {
			t.Fatalf("seed exam: %v", err)
		}
	}
	north := memory.NewRecordStore()
	south := memory.NewRecordStore()
	seedTenant(north, "Alice North", 90)
	seedTenant(south, "Alice South", 40)

	router, err := NewTenantRouter(map[string]records.Store{"north_school": north, "south_school": south}, logger)
	if err != nil {
		t.Fatalf("NewTenantRouter: %v", err)
	}
	ops := tool.CatalogOperations()
	table, err := policy.NewTable(ops, DefaultRules(ops))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	scope, err := cel.NewScopeEvaluator(cel.DefaultScopeExpression)
	if err != nil {
		t.Fatalf("NewScopeEvaluator: %v", err)
	}
	engine, err := NewPolicyService(table, scope, router, logger)
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	reg := NewRegistryService(engine, router, logger)

	fetch := func(tenantID string) records.ExamReport {
		claims := auth.Claims{SubjectID: "user-" + tenantID, Role: auth.RoleStudent, TenantID: tenantID, StudentRef: "STU_ALICE"}
		result, err := reg.Dispatch(ctx, claims, call(tool.OpGetExamResults, `{"student_id":"STU_ALICE"}`))
		if err != nil {
			t.Fatalf("Dispatch for %s: %v", tenantID, err)
		}
		return result.(records.ExamReport)
	}

	northReport := fetch("north_school")
	southReport := fetch("south_school")
	if northReport.StudentName != "Alice North" || northReport.Results[0].MarksObtained != 90 {
		t.Errorf("north report = %+v, want Alice North with 90 marks", northReport)
	}
	if southReport.StudentName != "Alice South" || southReport.Results[0].MarksObtained != 40 {
		t.Errorf("south report = %+v, want Alice South with 40 marks", southReport)
	}
}

func TestRegistryUnknownTenant(t *testing.T) {
	reg := newTestRegistry(t)
	claims := adminClaims()
	claims.TenantID = "ghost_school"

	_, err := reg.Dispatch(context.Background(), claims, call(tool.OpGetStudentInfo, `{"student_id":"STU_ALICE"}`))
	if !errors.Is(err, tenant.ErrTenantNotFound) {
		t.Fatalf("err = %v, want ErrTenantNotFound", err)
	}
}

// defectEngine simulates a rule table defect surfacing at evaluation time.
type defectEngine struct{}

func (defectEngine) Evaluate(ctx context.Context, claims auth.Claims, operation string, target policy.Target) (policy.Decision, error) {
	return policy.Decision{}, policy.ErrConfigurationDefect
}

func TestRegistryConfigurationDefectPropagates(t *testing.T) {
	logger := discardLogger()
	store := memory.NewRecordStore()
	seedDemoStore(t, store)
	router, err := NewTenantRouter(map[string]records.Store{"demo_school": store}, logger)
	if err != nil {
		t.Fatalf("NewTenantRouter: %v", err)
	}
	reg := NewRegistryService(defectEngine{}, router, logger)

	_, err = reg.Dispatch(context.Background(), adminClaims(), call(tool.OpGetStudentInfo, `{"student_id":"STU_ALICE"}`))
	if !errors.Is(err, policy.ErrConfigurationDefect) {
		t.Fatalf("err = %v, want ErrConfigurationDefect", err)
	}
	var te *tool.Error
	if errors.As(err, &te) {
		t.Fatalf("defect was classified as tool error %v, must propagate unclassified", te)
	}
}

func TestRegistryDescriptors(t *testing.T) {
	reg := newTestRegistry(t)
	descs := reg.Descriptors()

	if len(descs) != len(tool.CatalogOperations()) {
		t.Fatalf("len(descs) = %d, want %d", len(descs), len(tool.CatalogOperations()))
	}
	for i, op := range tool.CatalogOperations() {
		if descs[i].Name != op {
			t.Errorf("descs[%d].Name = %q, want %q", i, descs[i].Name, op)
		}
		var schema map[string]any
		if err := json.Unmarshal(descs[i].InputSchema, &schema); err != nil {
			t.Errorf("schema for %s does not parse: %v", op, err)
		}
	}
}

func TestRegistryWeakSubjectMarginOption(t *testing.T) {
	logger := discardLogger()
	store := memory.NewRecordStore()
	seedDemoStore(t, store)
	router, err := NewTenantRouter(map[string]records.Store{"demo_school": store}, logger)
	if err != nil {
		t.Fatalf("NewTenantRouter: %v", err)
	}
	ops := tool.CatalogOperations()
	table, err := policy.NewTable(ops, DefaultRules(ops))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	scope, err := cel.NewScopeEvaluator(cel.DefaultScopeExpression)
	if err != nil {
		t.Fatalf("NewScopeEvaluator: %v", err)
	}
	engine, err := NewPolicyService(table, scope, router, logger)
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}

	// With a 20-point margin History (15 below overall) is no longer weak.
	reg := NewRegistryService(engine, router, logger, WithWeakSubjectMargin(20))
	result, err := reg.Dispatch(context.Background(), adminClaims(), call(tool.OpAnalyzePerformance, `{"student_id":"STU_ALICE"}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	analysis := result.(records.PerformanceAnalysis)
	if len(analysis.WeakSubjects) != 0 {
		t.Errorf("WeakSubjects = %v, want none with widened margin", analysis.WeakSubjects)
	}
}
