// Package audit contains domain types for the decision audit trail.
package audit

import (
	"context"
	"time"
)

// Decision constants for audit records.
const (
	DecisionAllow         = "allow"
	DecisionAllowFiltered = "allow_filtered"
	DecisionDeny          = "deny"
)

// Record is a single auditable policy decision for one tool call.
// Records deliberately carry no query arguments or result payloads;
// student data never lands in the audit trail.
type Record struct {
	// Timestamp is when the tool call was evaluated (UTC).
	Timestamp time.Time `json:"timestamp"`
	// RequestID correlates the record with request logs.
	RequestID string `json:"request_id"`
	// TenantID is the school partition the call targeted.
	TenantID string `json:"tenant_id"`
	// SubjectID is the caller.
	SubjectID string `json:"subject_id"`
	// Role is the caller's role at evaluation time.
	Role string `json:"role"`
	// Operation is the tool operation name.
	Operation string `json:"operation"`
	// TargetStudentID is set for student-targeted operations.
	TargetStudentID string `json:"target_student_id,omitempty"`
	// TargetClassID is set for class-targeted operations.
	TargetClassID string `json:"target_class_id,omitempty"`
	// Decision is allow, allow_filtered, or deny.
	Decision string `json:"decision"`
	// Reason is the machine-stable explanation from the policy engine.
	Reason string `json:"reason"`
	// CacheHit is true when the decision came from the decision cache.
	CacheHit bool `json:"cache_hit"`
	// LatencyMicros is the policy evaluation latency in microseconds.
	LatencyMicros int64 `json:"latency_micros"`
}

// Store persists audit records.
// Interface owned by domain per hexagonal architecture.
// Implementation handles batching and async writes.
type Store interface {
	// Append stores audit records. Must be non-blocking from caller perspective.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}
