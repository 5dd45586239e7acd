package tenants

import (
	"strings"

	"github.com/jrsteele09/tenant-insights/internal/errors"
)

// Tenant is a managed customer organization. Each tenant maps to its own
// identity directory and, optionally, an organization in the shared RMM account.
type Tenant struct {
	ID                string       `json:"id"`
	Abbreviation      string       `json:"abbreviation"`        // Short code shown in reports (e.g., "ACME")
	Name              string       `json:"name"`                // Display name
	ExternalTenantID  string       `json:"external_tenant_id"`  // Identity directory id; token URLs are scoped to it
	RMMOrganizationID string       `json:"rmm_organization_id"` // Organization id in the RMM account, empty if unmanaged
	Credentials       *Credentials `json:"-"`                   // Optional per-tenant app registration overriding the global one
}

// Credentials is a per-tenant client registration in the identity directory.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

func (t *Tenant) Validate() error {
	if strings.TrimSpace(t.Abbreviation) == "" {
		return errors.Wrapf(errors.ErrInvalidTenant, "abbreviation is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.Wrapf(errors.ErrInvalidTenant, "name is required")
	}
	return nil
}

// Label identifies the tenant in logs and error summaries.
func (t *Tenant) Label() string {
	if t.Abbreviation != "" {
		return t.Abbreviation
	}
	return t.ID
}
