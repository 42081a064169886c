package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/observability"
)

func setOIDCEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LATTICE_OIDC_ISSUER_URL", "https://idp.example.com")
	t.Setenv("LATTICE_OIDC_CLIENT_ID", "lattice")
	t.Setenv("LATTICE_OIDC_CLIENT_SECRET", "secret")
	t.Setenv("LATTICE_OIDC_REDIRECT_URL", "https://app.example.com/auth/callback")
}

func TestLoadAPIConfig_Defaults(t *testing.T) {
	setOIDCEnv(t)

	cfg, err := LoadAPIConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.False(t, cfg.Audit.ArchiveEnabled)
	assert.Equal(t, "30 0 * * *", cfg.Audit.PurgeSchedule)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadAPIConfig_EnvOverrides(t *testing.T) {
	setOIDCEnv(t)
	t.Setenv("LATTICE_PORT", "9000")
	t.Setenv("LATTICE_POSTGRES_MAX_CONNS", "50")
	t.Setenv("LATTICE_LOG_LEVEL", "debug")
	t.Setenv("LATTICE_AUDIT_RETENTION_DAYS", "30")
	t.Setenv("LATTICE_SHUTDOWN_TIMEOUT", "45s")

	cfg, err := LoadAPIConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)
	assert.Equal(t, 45*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoadAPIConfig_MissingOIDC(t *testing.T) {
	t.Setenv("LATTICE_OIDC_ISSUER_URL", "")
	t.Setenv("LATTICE_OIDC_CLIENT_ID", "")

	_, err := LoadAPIConfig()
	assert.Error(t, err)
}

func TestLoadAPIConfig_ArchiveRequiresBucket(t *testing.T) {
	setOIDCEnv(t)
	t.Setenv("LATTICE_AUDIT_ARCHIVE_ENABLED", "true")

	_, err := LoadAPIConfig()
	require.Error(t, err)

	t.Setenv("LATTICE_AUDIT_ARCHIVE_BUCKET", "lattice-audit-archive")
	cfg, err := LoadAPIConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Audit.ArchiveEnabled)
}

func TestLoadAPIConfig_PortClash(t *testing.T) {
	setOIDCEnv(t)
	t.Setenv("LATTICE_PORT", "8080")
	t.Setenv("LATTICE_HEALTH_PORT", "8080")

	_, err := LoadAPIConfig()
	assert.Error(t, err)
}

func TestLoadGatewayConfig_Defaults(t *testing.T) {
	setOIDCEnv(t)

	cfg, err := LoadGatewayConfig()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, "9091", cfg.Server.HealthPort)
	assert.Equal(t, "/etc/lattice/routes.yaml", cfg.RoutesFile)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.SecureCookies)
}

func TestLoadGatewayConfig_RequiresFullOIDC(t *testing.T) {
	// The gateway drives the login flow itself, so a client secret and
	// redirect URL are mandatory, unlike the API server.
	t.Setenv("LATTICE_OIDC_ISSUER_URL", "https://idp.example.com")
	t.Setenv("LATTICE_OIDC_CLIENT_ID", "lattice")
	t.Setenv("LATTICE_OIDC_CLIENT_SECRET", "")
	t.Setenv("LATTICE_OIDC_REDIRECT_URL", "")

	_, err := LoadGatewayConfig()
	assert.Error(t, err)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("LATTICE_TEST_BOOL", "1")
	assert.True(t, getEnvBool("LATTICE_TEST_BOOL", false))

	t.Setenv("LATTICE_TEST_BOOL", "false")
	assert.False(t, getEnvBool("LATTICE_TEST_BOOL", true))

	t.Setenv("LATTICE_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getEnvInt("LATTICE_TEST_INT", 7))

	t.Setenv("LATTICE_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, getEnvDuration("LATTICE_TEST_DURATION", time.Minute))
}
