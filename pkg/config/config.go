package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/latticehq/lattice/pkg/observability"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OIDCConfig holds identity provider configuration
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// AuditConfig holds audit retention settings
type AuditConfig struct {
	RetentionDays  int
	ArchiveEnabled bool
	ArchiveBucket  string
	ArchiveRegion  string
	PurgeSchedule  string
}

// APIConfig is the full configuration of the API server
type APIConfig struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	OIDC          OIDCConfig
	Observability ObservabilityConfig
	Audit         AuditConfig
}

// GatewayConfig is the full configuration of the session gateway
type GatewayConfig struct {
	Server        ServerConfig
	Redis         RedisConfig
	OIDC          OIDCConfig
	Observability ObservabilityConfig

	// RoutesFile is the YAML route table, watched for changes
	RoutesFile string

	SessionTTL    time.Duration
	SecureCookies bool
}

// LoadAPIConfig loads API server configuration from environment
// variables.
func LoadAPIConfig() (*APIConfig, error) {
	cfg := &APIConfig{
		Server: loadServerConfig("8080", "9090"),
		Database: DatabaseConfig{
			URL:          getEnv("LATTICE_POSTGRES_URL", "postgres://localhost/lattice?sslmode=disable"),
			MaxOpenConns: getEnvInt("LATTICE_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("LATTICE_POSTGRES_IDLE_CONNS", 5),
		},
		Redis:         loadRedisConfig(),
		OIDC:          loadOIDCConfig(),
		Observability: loadObservabilityConfig("lattice-api"),
		Audit: AuditConfig{
			RetentionDays:  getEnvInt("LATTICE_AUDIT_RETENTION_DAYS", 90),
			ArchiveEnabled: getEnvBool("LATTICE_AUDIT_ARCHIVE_ENABLED", false),
			ArchiveBucket:  getEnv("LATTICE_AUDIT_ARCHIVE_BUCKET", ""),
			ArchiveRegion:  getEnv("LATTICE_AUDIT_ARCHIVE_REGION", "us-east-1"),
			PurgeSchedule:  getEnv("LATTICE_AUDIT_PURGE_SCHEDULE", "30 0 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadGatewayConfig loads gateway configuration from environment
// variables.
func LoadGatewayConfig() (*GatewayConfig, error) {
	cfg := &GatewayConfig{
		Server:        loadServerConfig("8081", "9091"),
		Redis:         loadRedisConfig(),
		OIDC:          loadOIDCConfig(),
		Observability: loadObservabilityConfig("lattice-gateway"),
		RoutesFile:    getEnv("LATTICE_GATEWAY_ROUTES_FILE", "/etc/lattice/routes.yaml"),
		SessionTTL:    getEnvDuration("LATTICE_SESSION_TTL", 12*time.Hour),
		SecureCookies: getEnvBool("LATTICE_SECURE_COOKIES", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig(defaultPort, defaultHealthPort string) ServerConfig {
	return ServerConfig{
		Host:            getEnv("LATTICE_HOST", "0.0.0.0"),
		Port:            getEnv("LATTICE_PORT", defaultPort),
		ReadTimeout:     getEnvDuration("LATTICE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LATTICE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("LATTICE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LATTICE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("LATTICE_HEALTH_PORT", defaultHealthPort),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("LATTICE_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("LATTICE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("LATTICE_REDIS_DB", 0),
	}
}

func loadOIDCConfig() OIDCConfig {
	return OIDCConfig{
		IssuerURL:    getEnv("LATTICE_OIDC_ISSUER_URL", ""),
		ClientID:     getEnv("LATTICE_OIDC_CLIENT_ID", ""),
		ClientSecret: getEnv("LATTICE_OIDC_CLIENT_SECRET", ""),
		RedirectURL:  getEnv("LATTICE_OIDC_REDIRECT_URL", ""),
	}
}

func loadObservabilityConfig(serviceName string) ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LATTICE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("LATTICE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LATTICE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LATTICE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LATTICE_OTEL_SERVICE_NAME", serviceName),
		OTelServiceVersion: getEnv("LATTICE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("LATTICE_OTEL_INSECURE", true),
	}
}

// Validate checks the API configuration
func (c *APIConfig) Validate() error {
	if err := c.Server.validate(); err != nil {
		return err
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.OIDC.IssuerURL == "" || c.OIDC.ClientID == "" {
		return fmt.Errorf("OIDC issuer URL and client ID are required")
	}
	if c.Audit.ArchiveEnabled && c.Audit.ArchiveBucket == "" {
		return fmt.Errorf("audit archive bucket is required when archiving is enabled")
	}
	return c.Observability.validate()
}

// Validate checks the gateway configuration
func (c *GatewayConfig) Validate() error {
	if err := c.Server.validate(); err != nil {
		return err
	}
	if c.OIDC.IssuerURL == "" || c.OIDC.ClientID == "" || c.OIDC.ClientSecret == "" || c.OIDC.RedirectURL == "" {
		return fmt.Errorf("complete OIDC configuration is required for the gateway")
	}
	if c.RoutesFile == "" {
		return fmt.Errorf("gateway routes file is required")
	}
	return c.Observability.validate()
}

func (c *ServerConfig) validate() error {
	if c.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Port == c.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	return nil
}

func (c *ObservabilityConfig) validate() error {
	if c.OTelEnabled && c.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
