package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/tenant-insights/internal/config"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SCORE_CACHE_TTL", "")
	t.Setenv("RMM_ISSUER", "")
	t.Setenv("RMM_TOKEN_URL", "")
	t.Setenv("RMM_BASE_URL", "")

	c := config.New()
	require.Equal(t, ":8080", c.GetPort())
	require.Equal(t, time.Hour, c.GetScoreTTL())
	require.Equal(t, time.Hour, c.GetOptimizationTTL())
	require.Equal(t, 60*time.Second, c.GetTokenRefreshMargin())
	require.Equal(t, "#EXT#", c.GetGuestMarker())
	require.Equal(t, "62e90394-69f5-4237-9190-012177145e10", c.GetPrivilegedRoleTemplateID())
	require.Equal(t, "https://app.ninjarmm.com/ws/oauth/token", c.GetRMMTokenURL())
}

func TestConfig_Overrides(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("SCORE_CACHE_TTL", "15m")
	t.Setenv("FANOUT_CONCURRENCY", "4")
	t.Setenv("CACHE_DRIVER", "REDIS")
	t.Setenv("IDENTITY_BASE_URL", "https://graph.example.com/beta/")

	c := config.New()
	require.Equal(t, ":9090", c.GetPort())
	require.Equal(t, 15*time.Minute, c.GetScoreTTL())
	require.Equal(t, 4, c.GetFanoutConcurrency())
	require.Equal(t, "redis", c.GetCacheDriver())
	require.Equal(t, "https://graph.example.com/beta", c.GetIdentityBaseURL())
}

func TestConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("OPTIMIZATION_CACHE_TTL", "soon")
	t.Setenv("RMM_PAGE_SIZE", "many")

	c := config.New()
	require.Equal(t, time.Hour, c.GetOptimizationTTL())
	require.Equal(t, 200, c.GetRMMPageSize())
}

func TestConfig_IssuerDisablesDefaultTokenURL(t *testing.T) {
	t.Setenv("RMM_ISSUER", "https://rmm.example.com")
	t.Setenv("RMM_TOKEN_URL", "")

	c := config.New()
	require.Empty(t, c.GetRMMTokenURL())
}

func TestConfig_Scoring(t *testing.T) {
	t.Setenv("SCORING_CONFIG_PATH", "")
	t.Setenv("GUEST_DETECTION", "UserType")

	c := config.New()
	require.Empty(t, c.GetScoringConfigPath())
	require.Equal(t, "usertype", c.GetGuestDetection())
}
