package tenants

import "context"

// Repo is the record store the insights core reads tenants from.
// Get returns errors.ErrTenantNotFound for unknown ids.
type Repo interface {
	Upsert(ctx context.Context, tenantData *Tenant) error
	Delete(ctx context.Context, tenantID string) error
	Get(ctx context.Context, tenantID string) (*Tenant, error)
	List(ctx context.Context, offset, limit int) ([]*Tenant, error)
	ListAll(ctx context.Context) ([]*Tenant, error)
}
