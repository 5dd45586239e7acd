package config

import (
	"strings"
	"time"
)

type FanoutConfig interface {
	GetFanoutConcurrency() int
	GetRequestTimeout() time.Duration
	GetTokenRefreshMargin() time.Duration
}

type LicensingConfig interface {
	GetPriceTablePath() string
}

type Cache struct{}

var _ CacheConfig = Cache{}

// GetCacheDriver returns "memory" or "redis".
func (Cache) GetCacheDriver() string {
	return strings.ToLower(GetEnv("CACHE_DRIVER", "memory"))
}

func (Cache) GetRedisURL() string {
	return GetEnv("REDIS_URL", "redis://localhost:6379")
}

func (Cache) GetCachePrefix() string {
	return GetEnv("CACHE_PREFIX", "insights:")
}

func (Cache) GetScoreTTL() time.Duration {
	return GetEnvDuration("SCORE_CACHE_TTL", time.Hour)
}

func (Cache) GetOptimizationTTL() time.Duration {
	return GetEnvDuration("OPTIMIZATION_CACHE_TTL", time.Hour)
}

func (Cache) GetFleetTTL() time.Duration {
	return GetEnvDuration("FLEET_CACHE_TTL", 5*time.Minute)
}

type Fanout struct{}

var _ FanoutConfig = Fanout{}

// GetFanoutConcurrency returns the per-batch tenant concurrency; 0 means unbounded.
func (Fanout) GetFanoutConcurrency() int {
	return GetEnvInt("FANOUT_CONCURRENCY", 0)
}

func (Fanout) GetRequestTimeout() time.Duration {
	return GetEnvDuration("EXTERNAL_REQUEST_TIMEOUT", 30*time.Second)
}

func (Fanout) GetTokenRefreshMargin() time.Duration {
	return GetEnvDuration("TOKEN_REFRESH_MARGIN", 60*time.Second)
}

type Licensing struct{}

var _ LicensingConfig = Licensing{}

// GetPriceTablePath returns an optional YAML price table overriding the built-in prices.
func (Licensing) GetPriceTablePath() string {
	return GetEnv("PRICE_TABLE_PATH", "")
}
