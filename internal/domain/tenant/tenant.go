// Package tenant defines the routing surface between authenticated
// requests and per-school data partitions.
package tenant

import (
	"context"
	"errors"

	"github.com/chalkline-ai/chalkline/internal/domain/records"
)

// ErrTenantNotFound is returned when no partition is registered for a
// tenant identifier.
var ErrTenantNotFound = errors.New("tenant not found")

// Partition is a turn-scoped handle to exactly one tenant's records.
// The embedded store is bound to that tenant at construction, so a
// holder of a Partition cannot express a cross-tenant read.
type Partition struct {
	// TenantID is the school the partition belongs to.
	TenantID string
	// Records is the read surface over this tenant's data.
	Records records.Store
}

// Router resolves tenant identifiers to partitions. The routing table
// is fixed at process start; Resolve never creates partitions.
type Router interface {
	// Resolve returns the partition for the tenant named in the
	// claims. Returns ErrTenantNotFound for unregistered tenants.
	Resolve(ctx context.Context, tenantID string) (*Partition, error)

	// TenantIDs lists the registered tenants, sorted ascending.
	TenantIDs() []string
}
