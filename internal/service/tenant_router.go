package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/chalkline-ai/chalkline/internal/domain/records"
	"github.com/chalkline-ai/chalkline/internal/domain/tenant"
)

// TenantRouter implements tenant.Router over an immutable map built at
// startup. There is no registration after construction; an unknown
// tenant is always ErrTenantNotFound, never a lazily created partition.
type TenantRouter struct {
	stores map[string]records.Store
	logger *slog.Logger
}

// Compile-time interface verification.
var (
	_ tenant.Router    = (*TenantRouter)(nil)
	_ AssignmentSource = (*TenantRouter)(nil)
)

// NewTenantRouter creates a router over the given tenant stores.
func NewTenantRouter(stores map[string]records.Store, logger *slog.Logger) (*TenantRouter, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("no tenants configured")
	}

	copied := make(map[string]records.Store, len(stores))
	for id, store := range stores {
		if id == "" {
			return nil, fmt.Errorf("tenant with empty id")
		}
		if store == nil {
			return nil, fmt.Errorf("tenant %q has nil store", id)
		}
		copied[id] = store
	}

	logger.Info("tenant router initialized", "tenants", len(copied))
	return &TenantRouter{stores: copied, logger: logger}, nil
}

// Resolve returns a fresh turn-scoped partition handle for the tenant.
func (r *TenantRouter) Resolve(ctx context.Context, tenantID string) (*tenant.Partition, error) {
	store, ok := r.stores[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", tenantID, tenant.ErrTenantNotFound)
	}
	return &tenant.Partition{TenantID: tenantID, Records: store}, nil
}

// TenantIDs lists the registered tenants, sorted ascending.
func (r *TenantRouter) TenantIDs() []string {
	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TeacherClassIDs resolves a teacher's class assignments from the
// teacher's own tenant partition. Satisfies AssignmentSource for the
// policy service.
func (r *TenantRouter) TeacherClassIDs(ctx context.Context, tenantID, teacherRef string) ([]string, error) {
	p, err := r.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	assignments, err := p.Records.AssignmentsByTeacher(ctx, teacherRef)
	if err != nil {
		return nil, err
	}
	return assignments.ClassIDs, nil
}
