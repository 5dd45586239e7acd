package config

import "strings"

// Identity holds the multi-tenant app registration used against the directory API.
// Tokens are requested per directory tenant from {authority}/{tenant}/oauth2/v2.0/token.
type Identity struct{}

var _ IdentityConfig = Identity{}

func (Identity) GetIdentityClientID() string {
	return GetEnv("IDENTITY_CLIENT_ID", "")
}

func (Identity) GetIdentityClientSecret() string {
	return GetEnv("IDENTITY_CLIENT_SECRET", "")
}

func (Identity) GetIdentityAuthority() string {
	return strings.TrimRight(GetEnv("IDENTITY_AUTHORITY", "https://login.microsoftonline.com"), "/")
}

func (Identity) GetIdentityScope() string {
	return GetEnv("IDENTITY_SCOPE", "https://graph.microsoft.com/.default")
}

func (Identity) GetIdentityBaseURL() string {
	return strings.TrimRight(GetEnv("IDENTITY_BASE_URL", "https://graph.microsoft.com/v1.0"), "/")
}

// GetPrivilegedRoleTemplateID defaults to the Global Administrator role template.
func (Identity) GetPrivilegedRoleTemplateID() string {
	return GetEnv("PRIVILEGED_ROLE_TEMPLATE_ID", "62e90394-69f5-4237-9190-012177145e10")
}

func (Identity) GetGuestMarker() string {
	return GetEnv("GUEST_PRINCIPAL_MARKER", "#EXT#")
}

// RMM holds the account-wide credential for the RMM API.
type RMM struct{}

var _ RMMConfig = RMM{}

func (RMM) GetRMMBaseURL() string {
	return strings.TrimRight(GetEnv("RMM_BASE_URL", "https://app.ninjarmm.com"), "/")
}

func (RMM) GetRMMClientID() string {
	return GetEnv("RMM_CLIENT_ID", "")
}

func (RMM) GetRMMClientSecret() string {
	return GetEnv("RMM_CLIENT_SECRET", "")
}

// GetRMMTokenURL returns an explicit token endpoint. When empty and an issuer is
// configured, the endpoint is discovered from the issuer.
func (r RMM) GetRMMTokenURL() string {
	if r.GetRMMIssuer() != "" {
		return GetEnv("RMM_TOKEN_URL", "")
	}
	return GetEnv("RMM_TOKEN_URL", r.GetRMMBaseURL()+"/ws/oauth/token")
}

func (RMM) GetRMMIssuer() string {
	return GetEnv("RMM_ISSUER", "")
}

func (RMM) GetRMMScope() string {
	return GetEnv("RMM_SCOPE", "monitoring management")
}

func (RMM) GetRMMRequestsPerSecond() float64 {
	return GetEnvFloat("RMM_REQUESTS_PER_SECOND", 10)
}

func (RMM) GetRMMPageSize() int {
	return GetEnvInt("RMM_PAGE_SIZE", 200)
}
