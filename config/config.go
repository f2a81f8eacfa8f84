package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Chain lock strategies
const (
	ChainLockMutex    = "mutex"
	ChainLockAdvisory = "advisory"
)

// Storage backends for security events
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// DevHMACKey is used when no key is configured outside production
const DevHMACKey = "dev-only-security-events-chain-key"

// minHMACKeyLength is the shortest key accepted in production
const minHMACKeyLength = 32

// Config represents the complete application configuration
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	AuditDatabase  *DatabaseConfig // Optional: separate DB for security events. When nil, events use main DB.
	Auth           AuthConfig
	SecurityEvents SecurityEventsConfig
	Observability  ObservabilityConfig
	Environment    string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds ingestion API token settings
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	AdminRole string
}

// SecurityEventsConfig holds the pipeline settings
type SecurityEventsConfig struct {
	Store              string
	InitSchema         bool
	HMACKey            string
	GuardrailRulesFile string
	ChainLock          string
	WriteTimeout       time.Duration // 0 disables the per-call deadline
	ActorCacheSize     int
	ActorCacheTTL      time.Duration
	DispatchBuffer     int
	DispatchWorkers    int
	AsyncLegacy        bool // route legacy audit calls through the dispatcher
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer: getEnv("AUTH_JWT_ISSUER", ""),
			AdminRole: getEnv("AUTH_ADMIN_ROLE", "admin"),
		},
		SecurityEvents: SecurityEventsConfig{
			Store:              strings.ToLower(getEnv("SECURITY_EVENTS_STORE", StorePostgres)),
			InitSchema:         getEnvAsBool("SECURITY_EVENTS_INIT_SCHEMA", true),
			HMACKey:            getEnv("SECURITY_EVENTS_HMAC_KEY", ""),
			GuardrailRulesFile: getEnv("SECURITY_EVENTS_GUARDRAIL_RULES_FILE", ""),
			ChainLock:          strings.ToLower(getEnv("SECURITY_EVENTS_CHAIN_LOCK", ChainLockAdvisory)),
			WriteTimeout:       getEnvAsDuration("SECURITY_EVENTS_WRITE_TIMEOUT", 5*time.Second),
			ActorCacheSize:     getEnvAsInt("SECURITY_EVENTS_ACTOR_CACHE_SIZE", 1000),
			ActorCacheTTL:      getEnvAsDuration("SECURITY_EVENTS_ACTOR_CACHE_TTL", 5*time.Minute),
			DispatchBuffer:     getEnvAsInt("SECURITY_EVENTS_DISPATCH_BUFFER", 1000),
			DispatchWorkers:    getEnvAsInt("SECURITY_EVENTS_DISPATCH_WORKERS", 4),
			AsyncLegacy:        getEnvAsBool("SECURITY_EVENTS_ASYNC_LEGACY", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	se := c.SecurityEvents

	switch se.Store {
	case StorePostgres:
		// Database validation (DATABASE_URL or DB_* vars)
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory store is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown security events store %q", se.Store)
	}

	switch se.ChainLock {
	case ChainLockMutex, ChainLockAdvisory:
	default:
		return fmt.Errorf("unknown chain lock %q: use %s or %s", se.ChainLock, ChainLockMutex, ChainLockAdvisory)
	}
	if se.ChainLock == ChainLockAdvisory && se.Store != StorePostgres {
		return fmt.Errorf("advisory chain lock requires the postgres store")
	}

	if se.WriteTimeout < 0 {
		return fmt.Errorf("security events write timeout must not be negative")
	}
	if se.ActorCacheSize <= 0 {
		return fmt.Errorf("actor cache size must be positive")
	}
	if se.DispatchBuffer <= 0 || se.DispatchWorkers <= 0 {
		return fmt.Errorf("dispatch buffer and workers must be positive")
	}

	// Secrets are required in production
	if c.IsProduction() {
		if len(se.HMACKey) < minHMACKeyLength {
			return fmt.Errorf("SECURITY_EVENTS_HMAC_KEY must be at least %d bytes in production", minHMACKeyLength)
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("AUTH_JWT_SECRET is required in production")
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// ChainKey returns the HMAC key for record hashes, falling back to a
// fixed development key outside production.
func (c *Config) ChainKey() []byte {
	if c.SecurityEvents.HMACKey == "" && !c.IsProduction() {
		return []byte(DevHMACKey)
	}
	return []byte(c.SecurityEvents.HMACKey)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "audit_password"),
		Database:        getEnv("DB_NAME", "audit"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadAuditDatabaseConfig loads the security events DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (events use main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
