package tenantrepofakes

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/tenants"
)

var _ tenants.Repo = (*FakeTenantRepo)(nil)

type FakeTenantRepo struct {
	tenants map[string]*tenants.Tenant
	lock    sync.RWMutex
}

func NewFakeTenantRepo(seed ...*tenants.Tenant) *FakeTenantRepo {
	tr := &FakeTenantRepo{
		tenants: make(map[string]*tenants.Tenant),
	}
	for _, t := range seed {
		_ = tr.Upsert(context.Background(), t)
	}
	return tr
}

func (tr *FakeTenantRepo) Upsert(_ context.Context, tenantData *tenants.Tenant) error {
	if err := tenantData.Validate(); err != nil {
		return err
	}
	tr.lock.Lock()
	defer tr.lock.Unlock()
	if tenantData.ID == "" {
		tenantData.ID = uuid.New().String()
	}
	tr.tenants[tenantData.ID] = tenantData
	return nil
}

func (tr *FakeTenantRepo) Delete(_ context.Context, tenantID string) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	delete(tr.tenants, tenantID)
	return nil
}

func (tr *FakeTenantRepo) Get(_ context.Context, tenantID string) (*tenants.Tenant, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	t, ok := tr.tenants[tenantID]
	if !ok {
		return nil, errors.ErrTenantNotFound
	}
	return t, nil
}

func (tr *FakeTenantRepo) List(ctx context.Context, offset, limit int) ([]*tenants.Tenant, error) {
	all, _ := tr.ListAll(ctx)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// ListAll returns every tenant ordered by abbreviation, then id.
func (tr *FakeTenantRepo) ListAll(_ context.Context) ([]*tenants.Tenant, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()

	list := make([]*tenants.Tenant, 0, len(tr.tenants))
	for _, t := range tr.tenants {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Abbreviation != list[j].Abbreviation {
			return list[i].Abbreviation < list[j].Abbreviation
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}
