package config

import (
	"time"

	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	IdentityConfig
	RMMConfig
	CacheConfig
	FanoutConfig
	LicensingConfig
	ScoringConfig
	SecurityConfig
	DatabaseConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type IdentityConfig interface {
	GetIdentityClientID() string
	GetIdentityClientSecret() string
	GetIdentityAuthority() string
	GetIdentityScope() string
	GetIdentityBaseURL() string
	GetPrivilegedRoleTemplateID() string
	GetGuestMarker() string
}

type RMMConfig interface {
	GetRMMBaseURL() string
	GetRMMClientID() string
	GetRMMClientSecret() string
	GetRMMTokenURL() string
	GetRMMIssuer() string
	GetRMMScope() string
	GetRMMRequestsPerSecond() float64
	GetRMMPageSize() int
}

type CacheConfig interface {
	GetCacheDriver() string
	GetRedisURL() string
	GetCachePrefix() string
	GetScoreTTL() time.Duration
	GetOptimizationTTL() time.Duration
	GetFleetTTL() time.Duration
}

type mainConfig struct {
	EnvVars
	Identity
	RMM
	Cache
	Fanout
	Licensing
	Scoring
	Security
	Database
}

// New loads an optional .env file and returns env-backed configuration.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
