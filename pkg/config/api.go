package config

import (
	"strings"
	"time"
)

// Executor backends understood by the API.
const (
	ExecutorScripted = "scripted"
	ExecutorPipeline = "pipeline"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment      string
	Addr             string
	DatabaseURL      string
	MigrationsDir    string
	JWTSecret        string
	ClientURL        string
	EnvEncryptionKey string
	LogLevel         string

	Executor           string
	ScriptSpeed        float64
	DomainSuffix       string
	ExecutorTimeout    time.Duration
	StaleAfter         time.Duration
	ReconcileInterval  time.Duration
	SSEHeartbeat       time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int

	DockerHost string
	Workdir    string
	GitTimeout time.Duration
	Registry   string

	LogArchiveBucket    string
	LogArchiveEndpoint  string
	LogArchiveRegion    string
	LogArchiveAccessKey string
	LogArchiveSecretKey string
	LogArchivePrefix    string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:      GetString("APP_ENV", "development"),
		Addr:             apiAddr(),
		DatabaseURL:      GetString("DATABASE_URL", ""),
		MigrationsDir:    GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:        GetString("JWT_SECRET", "supersecuresecret"),
		ClientURL:        GetString("CLIENT_URL", "http://localhost:5173"),
		EnvEncryptionKey: GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),
		LogLevel:         GetString("LOG_LEVEL", "info"),

		Executor:           strings.ToLower(GetString("DEPLOY_EXECUTOR", ExecutorScripted)),
		ScriptSpeed:        GetFloat("DEPLOY_SCRIPT_SPEED", 1),
		DomainSuffix:       GetString("DEPLOY_DOMAIN_SUFFIX", ".deploykit.app"),
		ExecutorTimeout:    GetSeconds("DEPLOY_EXECUTOR_TIMEOUT_SECONDS", 0),
		StaleAfter:         GetSeconds("DEPLOY_STALE_AFTER_SECONDS", time.Hour),
		ReconcileInterval:  GetSeconds("DEPLOY_RECONCILE_SECONDS", time.Minute),
		SSEHeartbeat:       GetSeconds("SSE_HEARTBEAT_SECONDS", 15*time.Second),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),

		DockerHost: GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		Workdir:    GetString("BUILDER_WORKDIR", "/tmp/deploykit"),
		GitTimeout: GetSeconds("GIT_TIMEOUT_SECONDS", time.Minute),
		Registry:   GetString("DOCKER_REGISTRY", "deploykit"),

		LogArchiveBucket:    GetString("LOG_ARCHIVE_BUCKET", ""),
		LogArchiveEndpoint:  GetString("LOG_ARCHIVE_ENDPOINT", ""),
		LogArchiveRegion:    GetString("LOG_ARCHIVE_REGION", "auto"),
		LogArchiveAccessKey: GetString("LOG_ARCHIVE_ACCESS_KEY_ID", ""),
		LogArchiveSecretKey: GetString("LOG_ARCHIVE_SECRET_ACCESS_KEY", ""),
		LogArchivePrefix:    GetString("LOG_ARCHIVE_PREFIX", "deployments"),
	}
}

// apiAddr honours PORT (as set by most hosting platforms) before API_ADDR.
func apiAddr() string {
	if port := strings.TrimSpace(GetString("PORT", "")); port != "" {
		return ":" + strings.TrimPrefix(port, ":")
	}
	return GetString("API_ADDR", ":4000")
}
