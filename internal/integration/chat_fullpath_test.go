// Package integration exercises the full request path: HTTP transport,
// authentication, rate limiting, the agent loop, policy evaluation, the
// SQLite partition, and the decision trail.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	httpadapter "github.com/chalkline-ai/chalkline/internal/adapter/inbound/http"
	auditfile "github.com/chalkline-ai/chalkline/internal/adapter/outbound/audit"
	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/cel"
	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/memory"
	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/sqlite"
	"github.com/chalkline-ai/chalkline/internal/domain/agent"
	"github.com/chalkline-ai/chalkline/internal/domain/auth"
	"github.com/chalkline-ai/chalkline/internal/domain/policy"
	"github.com/chalkline-ai/chalkline/internal/domain/ratelimit"
	"github.com/chalkline-ai/chalkline/internal/domain/records"
	"github.com/chalkline-ai/chalkline/internal/domain/tool"
	"github.com/chalkline-ai/chalkline/internal/service"
)

// scriptedReasoner replays a fixed sequence of steps.
type scriptedReasoner struct {
	mu    sync.Mutex
	steps []agent.Step
	calls int
}

func (r *scriptedReasoner) Reason(ctx context.Context, transcript []agent.Message, tools []tool.Descriptor, allowTools bool) (*agent.Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls >= len(r.steps) {
		return &agent.Step{Answer: "I could not finish answering."}, nil
	}
	step := r.steps[r.calls]
	r.calls++
	return &step, nil
}

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

// testStack is everything one full-path test needs.
type testStack struct {
	server   *httptest.Server
	auditSvc *service.AuditService
	auditDir string
}

type stackOption func(*stackConfig)

type stackConfig struct {
	subjectLimit ratelimit.Limit
}

func withSubjectLimit(limit ratelimit.Limit) stackOption {
	return func(c *stackConfig) { c.subjectLimit = limit }
}

// newTestStack boots the whole pipeline over one seeded SQLite tenant
// and serves it the way the transport does, middleware chain included.
func newTestStack(t *testing.T, steps []agent.Step, opts ...stackOption) *testStack {
	t.Helper()
	logger := discardLogger()

	sc := stackConfig{
		subjectLimit: ratelimit.Limit{Rate: 1000, Burst: 1000, Period: time.Minute},
	}
	for _, opt := range opts {
		opt(&sc)
	}

	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, "demo_school.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	seedSchool(t, store)

	router, err := service.NewTenantRouter(map[string]records.Store{"demo_school": store}, logger)
	if err != nil {
		t.Fatalf("NewTenantRouter: %v", err)
	}

	directory := memory.NewDirectory()
	directory.Add(auth.HashKey("sk-alice"), &auth.Identity{
		SubjectID: "user-alice", Name: "Alice Johnson", Role: auth.RoleStudent,
		TenantID: "demo_school", StudentRef: "STU_ALICE",
	})
	directory.Add(auth.HashKey("sk-john"), &auth.Identity{
		SubjectID: "user-john", Name: "John Mathews", Role: auth.RoleTeacher,
		TenantID: "demo_school", TeacherRef: "TCH_JOHN",
	})
	keys := auth.NewKeyService(directory)

	ops := tool.CatalogOperations()
	table, err := policy.NewTable(ops, service.DefaultRules(ops))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	scope, err := cel.NewScopeEvaluator(cel.DefaultScopeExpression)
	if err != nil {
		t.Fatalf("NewScopeEvaluator: %v", err)
	}

	auditDir := filepath.Join(dir, "audit")
	auditStore, err := auditfile.NewFileStore(auditfile.FileConfig{Dir: auditDir}, logger)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { _ = auditStore.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	auditSvc := service.NewAuditService(auditStore, logger,
		service.WithFlushInterval(10*time.Millisecond),
	)
	auditSvc.Start(ctx)

	engine, err := service.NewPolicyService(table, scope, router, logger,
		service.WithDecisionSink(auditSvc),
	)
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}

	registry := service.NewRegistryService(engine, router, logger)
	orchestrator := service.NewOrchestratorService(&scriptedReasoner{steps: steps}, registry, router, logger)

	limiter := memory.NewRateLimiter()

	// Same chain the transport builds, minus metrics.
	chat := http.Handler(httpadapter.NewChatHandler(orchestrator, nil))
	chat = httpadapter.RateLimitBySubject(limiter, sc.subjectLimit)(chat)
	chat = httpadapter.APIKeyAuth(keys)(chat)
	chat = httpadapter.RateLimitByAddr(limiter, ratelimit.Limit{Rate: 1000, Burst: 1000, Period: time.Minute})(chat)
	chat = httpadapter.OriginProtection(nil)(chat)
	chat = httpadapter.RequestIDMiddleware(logger)(chat)

	server := httptest.NewServer(chat)
	t.Cleanup(server.Close)

	return &testStack{server: server, auditSvc: auditSvc, auditDir: auditDir}
}

func seedSchool(t *testing.T, store records.Writer) {
	t.Helper()
	ctx := context.Background()
	mustSeed := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	mustSeed(store.UpsertClass(ctx, records.Class{ClassID: "CLS_10A", Name: "Grade 10 Section A", Grade: 10, Section: "A", AcademicYear: "2025-2026"}))
	mustSeed(store.UpsertStudent(ctx, records.StudentProfile{
		StudentID: "STU_ALICE", Name: "Alice Johnson", RollNumber: "10A-01",
		ClassID: "CLS_10A", ClassName: "Grade 10 Section A", Grade: 10, Section: "A",
	}))
	mustSeed(store.UpsertStudent(ctx, records.StudentProfile{
		StudentID: "STU_BOB", Name: "Bob Smith", RollNumber: "10A-02",
		ClassID: "CLS_10A", ClassName: "Grade 10 Section A", Grade: 10, Section: "A",
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
}

func postChat(t *testing.T, server *httptest.Server, apiKey, question string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeChat(t *testing.T, resp *http.Response) httpadapter.ChatResponse {
	t.Helper()
	var out httpadapter.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestStudentAttendanceFullPath(t *testing.T) {
	stack := newTestStack(t, []agent.Step{
		{Requests: []agent.ToolRequest{{
			CallID:    "c1",
			Name:      tool.OpGetAttendanceReport,
			Arguments: json.RawMessage(`{"student_id":"STU_ALICE"}`),
		}}},
		{Answer: "You attended 3 of 4 days, 75 percent."},
	})

	resp := postChat(t, stack.server, "sk-alice", "How is my attendance?")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decodeChat(t, resp)
	if !strings.Contains(out.Answer, "75") {
		t.Errorf("answer = %q", out.Answer)
	}
	if out.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", out.Rounds)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Outcome != agent.OutcomeOK {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	// The decision must land in the trail, without any record payload.
	stack.auditSvc.Stop()
	trail := readDecisionTrail(t, stack.auditDir)
	if !strings.Contains(trail, `"operation":"`+tool.OpGetAttendanceReport+`"`) {
		t.Errorf("trail missing operation: %s", trail)
	}
	if !strings.Contains(trail, `"decision":"allow"`) {
		t.Errorf("trail missing decision: %s", trail)
	}
	if strings.Contains(trail, "75") && strings.Contains(trail, "percent") {
		t.Error("trail contains result payload")
	}
}

func readDecisionTrail(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var b strings.Builder
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		b.Write(data)
	}
	return b.String()
}

func TestStudentCannotReadClassmate(t *testing.T) {
	stack := newTestStack(t, []agent.Step{
		{Requests: []agent.ToolRequest{{
			CallID:    "c1",
			Name:      tool.OpGetStudentInfo,
			Arguments: json.RawMessage(`{"student_id":"STU_BOB"}`),
		}}},
		{Answer: "I cannot access another student's records."},
	})

	resp := postChat(t, stack.server, "sk-alice", "Tell me about Bob")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decodeChat(t, resp)
	if len(out.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	if out.ToolCalls[0].Outcome != agent.OutcomeError || out.ToolCalls[0].ErrorCode != string(tool.CodePermissionDenied) {
		t.Errorf("tool call = %+v", out.ToolCalls[0])
	}
	if strings.Contains(out.Answer, "Bob Smith") {
		t.Errorf("denied record leaked into answer: %q", out.Answer)
	}
}

func TestTeacherScopedRead(t *testing.T) {
	stack := newTestStack(t, []agent.Step{
		{Requests: []agent.ToolRequest{{
			CallID:    "c1",
			Name:      tool.OpGetExamResults,
			Arguments: json.RawMessage(`{"student_id":"STU_ALICE"}`),
		}}},
		{Answer: "Alice scored 90 in Math."},
	})

	resp := postChat(t, stack.server, "sk-john", "How did Alice do in Math?")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decodeChat(t, resp)
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Outcome != agent.OutcomeOK {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	stack := newTestStack(t, nil)

	resp := postChat(t, stack.server, "sk-wrong", "hello")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	resp = postChat(t, stack.server, "", "hello")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", resp.StatusCode)
	}
}

func TestSubjectRateLimitEnforced(t *testing.T) {
	stack := newTestStack(t,
		[]agent.Step{{Answer: "hi"}, {Answer: "hi again"}},
		withSubjectLimit(ratelimit.Limit{Rate: 1, Burst: 1, Period: time.Hour}),
	)

	first := postChat(t, stack.server, "sk-alice", "hello")
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", first.StatusCode)
	}

	second := postChat(t, stack.server, "sk-alice", "hello again")
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestBrowserOriginBlocked(t *testing.T) {
	stack := newTestStack(t, []agent.Step{{Answer: "hi"}})

	body := bytes.NewReader([]byte(`{"question":"hello"}`))
	req, err := http.NewRequest(http.MethodPost, stack.server.URL, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer sk-alice")
	req.Header.Set("Origin", "https://evil.example")

	resp, err := stack.server.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
