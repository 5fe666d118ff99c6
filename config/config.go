package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Store
	SQLitePath    string
	DBPoolSize    int
	DBPoolTimeout time.Duration

	// Broker
	RedisURL string

	// JWT
	JWTSecret string

	// Microsoft identity platform
	MSALClientID     string
	MSALTenantID     string
	MSALScopes       []string
	MSALRedirectPort int

	// Headless login automation
	LoginAutomationURL string

	// Worker
	WorkerID         string
	WorkerPoolSize   int
	WorkerQueueSize  int
	AdminConcurrency int
	UserConcurrency  int

	// Writer daemon
	WriteBatchSize int
	FlushInterval  time.Duration

	// Sync
	DefaultSyncDays     int
	MaintenanceInterval time.Duration

	// Download
	DownloadWorkers int
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Store
		SQLitePath:    getEnv("SQLITE_PATH", "./data/mailvault.db"),
		DBPoolSize:    getEnvInt("DB_POOL_SIZE", 20),
		DBPoolTimeout: time.Duration(getEnvInt("DB_POOL_TIMEOUT_SEC", 5)) * time.Second,

		// Broker
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Microsoft identity platform
		MSALClientID:     getEnv("MSAL_CLIENT_ID", "f4a5101b-9441-48f4-968f-3ef3da7b7290"),
		MSALTenantID:     getEnv("MSAL_TENANT_ID", "common"),
		MSALScopes:       getEnvSlice("MSAL_SCOPES", []string{"User.Read", "Mail.Read", "Mail.ReadWrite", "Mail.Send"}),
		MSALRedirectPort: getEnvInt("MSAL_REDIRECT_PORT", 53100),

		// Headless login automation
		LoginAutomationURL: getEnv("LOGIN_AUTOMATION_URL", ""),

		// Worker
		WorkerID:         getEnv("WORKER_ID", generateWorkerID()),
		WorkerPoolSize:   getEnvInt("WORKER_POOL_SIZE", 50),
		WorkerQueueSize:  getEnvInt("WORKER_QUEUE_SIZE", 1000),
		AdminConcurrency: getEnvInt("ADMIN_CONCURRENCY", 30),
		UserConcurrency:  getEnvInt("USER_CONCURRENCY", 10),

		// Writer daemon
		WriteBatchSize: getEnvInt("WRITE_BATCH_SIZE", 500),
		FlushInterval:  time.Duration(getEnvInt("FLUSH_INTERVAL_MS", 2000)) * time.Millisecond,

		// Sync
		DefaultSyncDays:     getEnvInt("DEFAULT_SYNC_DAYS", 30),
		MaintenanceInterval: time.Duration(getEnvInt("MAINTENANCE_INTERVAL_MIN", 60)) * time.Minute,

		// Download
		DownloadWorkers: getEnvInt("DOWNLOAD_WORKERS", 10),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
