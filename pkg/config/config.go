// Package config loads application configuration from environment
// variables, with sane defaults for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/trusteekit/boardroom/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Authz         AuthzConfig
	Invitations   InvitationConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

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

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds settings for the membership role cache
type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
	CacheTTL time.Duration
}

// AuthzConfig holds authorization engine settings
type AuthzConfig struct {
	// PolicyFile optionally points at a YAML overlay that grants
	// additional permissions on top of the built-in matrix. Loaded
	// once at startup; empty means no overlay.
	PolicyFile string
}

// InvitationConfig holds invitation lifecycle settings
type InvitationConfig struct {
	TTL time.Duration

	// AcceptBaseURL is the public URL prefix embedded in invitation
	// notifications, e.g. https://portal.example.org/invite
	AcceptBaseURL string
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	RetentionDays int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("BOARDROOM_HOST", "0.0.0.0"),
			Port:            getEnv("BOARDROOM_PORT", "8080"),
			ReadTimeout:     getEnvDuration("BOARDROOM_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("BOARDROOM_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("BOARDROOM_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("BOARDROOM_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("BOARDROOM_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("BOARDROOM_POSTGRES_URL", ""),
			ReplicaURLs: getEnv("BOARDROOM_POSTGRES_REPLICA_URLS", ""),
			MaxConns:    getEnvInt("BOARDROOM_POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("BOARDROOM_POSTGRES_MIN_CONNS", 5),
			Timeout:     getEnvDuration("BOARDROOM_POSTGRES_TIMEOUT", 10*time.Second),
			MaxLifetime: getEnvDuration("BOARDROOM_POSTGRES_MAX_LIFETIME", 30*time.Minute),
			MaxIdleTime: getEnvDuration("BOARDROOM_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("BOARDROOM_REDIS_ENABLED", false),
			URL:      getEnv("BOARDROOM_REDIS_URL", "localhost:6379"),
			Password: getEnv("BOARDROOM_REDIS_PASSWORD", ""),
			DB:       getEnvInt("BOARDROOM_REDIS_DB", 0),
			PoolSize: getEnvInt("BOARDROOM_REDIS_POOL_SIZE", 10),
			CacheTTL: getEnvDuration("BOARDROOM_ROLE_CACHE_TTL", 5*time.Minute),
		},
		Authz: AuthzConfig{
			PolicyFile: getEnv("BOARDROOM_POLICY_FILE", ""),
		},
		Invitations: InvitationConfig{
			TTL:           getEnvDuration("BOARDROOM_INVITATION_TTL", 7*24*time.Hour),
			AcceptBaseURL: getEnv("BOARDROOM_INVITE_ACCEPT_URL", "http://localhost:8080/invite"),
		},
		Audit: AuditConfig{
			RetentionDays: getEnvInt("BOARDROOM_AUDIT_RETENTION_DAYS", 7*365),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("BOARDROOM_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("BOARDROOM_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
