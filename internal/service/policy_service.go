package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/chalkline-ai/chalkline/internal/ctxkey"
	"github.com/chalkline-ai/chalkline/internal/domain/audit"
	"github.com/chalkline-ai/chalkline/internal/domain/auth"
	"github.com/chalkline-ai/chalkline/internal/domain/policy"
)

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision policy.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for policy decisions.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit.
// On hit, the entry is promoted to the head (most recently used).
func (c *ResultCache) Get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

// Put stores a decision. At capacity the least recently used entry is evicted.
func (c *ResultCache) Put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey generates a unique hash for one evaluation. Every
// input that can change the decision participates in the key.
func computeCacheKey(claims auth.Claims, operation string, target policy.Target) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(claims.TenantID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(claims.SubjectID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(claims.Role))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(claims.OwnRef())
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(operation)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(target.StudentID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(target.ClassID)
	_, _ = h.Write([]byte{0})
	if target.SchoolWide {
		_, _ = h.WriteString("school_wide")
	}

	return h.Sum64()
}

// AssignmentSource resolves a teacher's class assignments within a tenant.
// Implemented by the tenant router so the policy service never touches
// partitions directly.
type AssignmentSource interface {
	TeacherClassIDs(ctx context.Context, tenantID, teacherRef string) ([]string, error)
}

// DecisionSink receives one record per evaluation. *AuditService
// satisfies it.
type DecisionSink interface {
	Record(record audit.Record)
}

// PolicyService implements policy.Engine over the static rule table.
// Scoped effects delegate the membership question to the configured
// scope evaluator; results are cached in a bounded LRU.
type PolicyService struct {
	table       *policy.Table
	scope       policy.ScopeEvaluator
	assignments AssignmentSource
	cache       *ResultCache
	sink        DecisionSink
	logger      *slog.Logger
	now         func() time.Time
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) PolicyServiceOption {
	return func(s *PolicyService) {
		s.cache = NewResultCache(size)
	}
}

// WithDecisionSink routes every decision into the audit trail.
func WithDecisionSink(sink DecisionSink) PolicyServiceOption {
	return func(s *PolicyService) {
		s.sink = sink
	}
}

// NewPolicyService creates a PolicyService. The table is validated for
// full enumeration so deployment mistakes surface at startup rather
// than as per-request defects.
func NewPolicyService(table *policy.Table, scope policy.ScopeEvaluator, assignments AssignmentSource, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	if err := table.ValidateComplete(); err != nil {
		return nil, fmt.Errorf("rule table incomplete: %w", err)
	}

	s := &PolicyService{
		table:       table,
		scope:       scope,
		assignments: assignments,
		cache:       NewResultCache(1000),
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger.Info("policy service initialized",
		"operations", len(table.Operations()),
		"cache_max_size", s.cache.maxSize,
	)
	return s, nil
}

// Evaluate decides whether claims may perform operation on target.
// Decisions are deterministic given the same inputs, which makes them
// safe to cache. ErrConfigurationDefect is never downgraded to a deny.
func (s *PolicyService) Evaluate(ctx context.Context, claims auth.Claims, operation string, target policy.Target) (policy.Decision, error) {
	start := s.now()
	cacheKey := computeCacheKey(claims, operation, target)

	if decision, ok := s.cache.Get(cacheKey); ok {
		s.record(ctx, claims, operation, target, decision, true, start)
		return decision, nil
	}

	decision, err := s.evaluate(ctx, claims, operation, target)
	if err != nil {
		return policy.Decision{}, err
	}

	s.cache.Put(cacheKey, decision)
	s.record(ctx, claims, operation, target, decision, false, start)
	return decision, nil
}

func (s *PolicyService) evaluate(ctx context.Context, claims auth.Claims, operation string, target policy.Target) (policy.Decision, error) {
	effect, known, err := s.table.Effect(claims.Role, operation)
	if err != nil {
		return policy.Decision{}, err
	}
	if !known {
		return policy.Decision{
			Outcome: policy.OutcomeDeny,
			Reason:  "default_deny: operation not in rule table",
		}, nil
	}

	switch effect {
	case policy.EffectDeny:
		return policy.Decision{
			Outcome: policy.OutcomeDeny,
			Reason:  "deny: rule forbids operation for role",
		}, nil

	case policy.EffectAllowAll:
		return policy.Decision{
			Outcome: policy.OutcomeAllow,
			Reason:  "allow_all: role has tenant-wide access",
		}, nil

	case policy.EffectAllowOwnOnly:
		return s.evaluateOwnOnly(claims, target), nil

	case policy.EffectAllowScoped:
		return s.evaluateScoped(ctx, claims, target)

	default:
		return policy.Decision{}, fmt.Errorf("%w: unhandled effect %q", policy.ErrConfigurationDefect, effect)
	}
}

// evaluateOwnOnly allows only exact equality between the target student
// and the caller's own reference. No pattern or prefix matching.
func (s *PolicyService) evaluateOwnOnly(claims auth.Claims, target policy.Target) policy.Decision {
	own := claims.OwnRef()
	if target.StudentID == "" || own == "" {
		return policy.Decision{
			Outcome: policy.OutcomeDeny,
			Reason:  "own_only: operation target is not a single student",
		}
	}
	if target.StudentID != own {
		return policy.Decision{
			Outcome: policy.OutcomeDeny,
			Reason:  "own_only: target is not the caller's record",
		}
	}
	return policy.Decision{
		Outcome: policy.OutcomeAllow,
		Scope:   policy.Scope{OwnRef: own},
		Reason:  "own_only: target is caller's own record",
	}
}

// evaluateScoped resolves the caller's assignments and checks the
// target class when the call names one. Student-targeted calls carry
// no class at evaluation time; those come back OutcomeAllowFiltered
// with the assignment scope, and the registry must apply it to the
// resolved record before returning any data. Evaluator failure is a
// deny, never an allow.
func (s *PolicyService) evaluateScoped(ctx context.Context, claims auth.Claims, target policy.Target) (policy.Decision, error) {
	if target.ClassID == "" && target.StudentID == "" {
		return policy.Decision{
			Outcome: policy.OutcomeDeny,
			Reason:  "scoped: operation has no target to scope by",
		}, nil
	}

	classIDs, err := s.assignments.TeacherClassIDs(ctx, claims.TenantID, claims.TeacherRef)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("resolving assignments for %s: %w", claims.TeacherRef, err)
	}
	if len(classIDs) == 0 {
		return policy.Decision{
			Outcome: policy.OutcomeDeny,
			Reason:  "scoped: caller has no class assignments",
		}, nil
	}

	if target.ClassID == "" {
		sorted := make([]string, len(classIDs))
		copy(sorted, classIDs)
		sort.Strings(sorted)
		return policy.Decision{
			Outcome: policy.OutcomeAllowFiltered,
			Scope:   policy.Scope{ClassIDs: sorted},
			Reason:  "scoped: allowed within caller's classes, class filter pending",
		}, nil
	}

	inScope, err := s.scope.InScope(ctx, target.ClassID, classIDs)
	if err != nil {
		s.logger.Warn("scope evaluation failed, denying",
			"teacher", claims.TeacherRef,
			"class", target.ClassID,
			"error", err,
		)
		return policy.Decision{
			Outcome: policy.OutcomeDeny,
			Reason:  "scoped: scope evaluation failed",
		}, nil
	}
	if !inScope {
		return policy.Decision{
			Outcome: policy.OutcomeDeny,
			Reason:  "scoped: target class outside caller's assignments",
		}, nil
	}

	sorted := make([]string, len(classIDs))
	copy(sorted, classIDs)
	sort.Strings(sorted)
	return policy.Decision{
		Outcome: policy.OutcomeAllowFiltered,
		Scope:   policy.Scope{ClassIDs: sorted},
		Reason:  "scoped: target class within caller's assignments",
	}, nil
}

// record pushes one decision into the audit sink, if configured.
func (s *PolicyService) record(ctx context.Context, claims auth.Claims, operation string, target policy.Target, decision policy.Decision, cacheHit bool, start time.Time) {
	if s.sink == nil {
		return
	}

	requestID, _ := ctx.Value(ctxkey.RequestIDKey{}).(string)
	s.sink.Record(audit.Record{
		Timestamp:       start.UTC(),
		RequestID:       requestID,
		TenantID:        claims.TenantID,
		SubjectID:       claims.SubjectID,
		Role:            string(claims.Role),
		Operation:       operation,
		TargetStudentID: target.StudentID,
		TargetClassID:   target.ClassID,
		Decision:        decisionString(decision),
		Reason:          decision.Reason,
		CacheHit:        cacheHit,
		LatencyMicros:   s.now().Sub(start).Microseconds(),
	})
}

func decisionString(d policy.Decision) string {
	switch d.Outcome {
	case policy.OutcomeAllow:
		return audit.DecisionAllow
	case policy.OutcomeAllowFiltered:
		return audit.DecisionAllowFiltered
	default:
		return audit.DecisionDeny
	}
}

// DefaultRules returns the shipped rule table contents: students see
// their own records, teachers see their classes, admins see the tenant.
func DefaultRules(operations []string) []policy.Rule {
	rules := make([]policy.Rule, 0, len(operations)*3)
	for _, op := range operations {
		studentEffect := policy.EffectAllowOwnOnly
		if strings.HasSuffix(op, "class_performance") {
			// Class-wide rollups expose other students' standings.
			studentEffect = policy.EffectDeny
		}
		rules = append(rules,
			policy.Rule{Role: auth.RoleStudent, Operation: op, Effect: studentEffect},
			policy.Rule{Role: auth.RoleTeacher, Operation: op, Effect: policy.EffectAllowScoped},
			policy.Rule{Role: auth.RoleAdmin, Operation: op, Effect: policy.EffectAllowAll},
		)
	}
	return rules
}

// Compile-time interface verification.
var _ policy.Engine = (*PolicyService)(nil)
