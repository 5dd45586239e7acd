package config

type SecurityConfig interface {
	GetJWTSecret() string
	GetJWTIssuer() string
}

type DatabaseConfig interface {
	GetDatabaseURL() string
	GetTenantSecretKey() string
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetJWTSecret() string {
	return GetEnv("JWT_SECRET", "")
}

// GetJWTIssuer is optional; when set, tokens from other issuers are rejected.
func (Security) GetJWTIssuer() string {
	return GetEnv("JWT_ISSUER", "")
}

type Database struct{}

var _ DatabaseConfig = Database{}

// GetDatabaseURL returns the tenant record store DSN. Empty selects the in-memory store.
func (Database) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}

// GetTenantSecretKey is a base64 encoded 32 byte key. When set, per-tenant
// client secrets are encrypted in the tenants table.
func (Database) GetTenantSecretKey() string {
	return GetEnv("TENANT_SECRET_KEY", "")
}
