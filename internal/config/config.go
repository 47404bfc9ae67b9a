package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the walletwise backend.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Chatbot   ChatbotConfig
	SeedFile  string
}

type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mysql or memory.
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	// SnapshotPath persists the memory driver to a JSON file when set.
	SnapshotPath string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Version      string
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	AdminAPIKey string
	// Disabled skips authentication entirely; every request acts as DevUserID.
	Disabled  bool
	DevUserID string
}

type ChatbotConfig struct {
	MaxIterations       int
	ConfigCacheTTL      time.Duration
	CategoryCacheTTL    time.Duration
	HealthProbeSchedule string
	HealthThreshold     float64
	Locale              string
	RateLimitPerMinute  int
	RateLimitBurst      int
	SecretFileDir       string
	Retention           RetentionConfig
}

// RetentionConfig bounds how long audit rows are kept. Zero days keeps rows
// forever.
type RetentionConfig struct {
	HealthLogDays       int
	ConversationLogDays int
	Interval            time.Duration
	// ArchiveDir receives gzipped JSONL copies of conversation logs before
	// they are purged. Empty purges without archiving.
	ArchiveDir string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory (or ENV_FILE) is loaded first when present.
func Load() *Config {
	loadDotEnv()

	return &Config{
		Port:     envInt("WALLETWISE_PORT", 8080),
		Version:  envStr("WALLETWISE_VERSION", "0.4.0"),
		SeedFile: envStr("WALLETWISE_SEED_FILE", ""),
		Database: DatabaseConfig{
			Driver:          strings.ToLower(envStr("DATABASE_DRIVER", "sqlite")),
			DSN:             envStr("DATABASE_URL", "walletwise.db"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     envBool("DATABASE_AUTO_MIGRATE", true),
			SnapshotPath:    envStr("DATABASE_SNAPSHOT_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "walletwise-backend"),
			Version:      envStr("WALLETWISE_VERSION", "0.4.0"),
		},
		Auth: AuthConfig{
			JWTSecret:   envStr("JWT_SECRET", ""),
			JWTIssuer:   envStr("JWT_ISSUER", ""),
			AdminAPIKey: envStr("ADMIN_API_KEY", ""),
			Disabled:    envBool("AUTH_DISABLED", false),
			DevUserID:   envStr("AUTH_DEV_USER_ID", "dev-user"),
		},
		Chatbot: ChatbotConfig{
			MaxIterations:       envInt("CHATBOT_MAX_ITERATIONS", 5),
			ConfigCacheTTL:      envDuration("CHATBOT_CONFIG_CACHE_TTL", time.Hour),
			CategoryCacheTTL:    envDuration("CHATBOT_CATEGORY_CACHE_TTL", time.Hour),
			HealthProbeSchedule: envStr("CHATBOT_HEALTH_PROBE_SCHEDULE", ""),
			HealthThreshold:     envFloat("CHATBOT_HEALTH_THRESHOLD", 0.5),
			Locale:              envStr("CHATBOT_LOCALE", "es"),
			RateLimitPerMinute:  envInt("CHATBOT_RATE_LIMIT_PER_MINUTE", 20),
			RateLimitBurst:      envInt("CHATBOT_RATE_LIMIT_BURST", 5),
			SecretFileDir:       envStr("SECRETS_DIR", "/run/secrets"),
			Retention: RetentionConfig{
				HealthLogDays:       envInt("CHATBOT_HEALTH_LOG_RETENTION_DAYS", 30),
				ConversationLogDays: envInt("CHATBOT_CONVERSATION_LOG_RETENTION_DAYS", 180),
				Interval:            envDuration("CHATBOT_RETENTION_INTERVAL", 6*time.Hour),
				ArchiveDir:          envStr("CHATBOT_ARCHIVE_DIR", ""),
			},
		},
	}
}

func loadDotEnv() {
	file := envStr("ENV_FILE", ".env")
	if _, err := os.Stat(file); err != nil {
		return
	}
	if err := godotenv.Load(file); err != nil {
		log.Warn().Err(err).Str("file", file).Msg("Failed to load env file")
		return
	}
	log.Debug().Str("file", file).Msg("Loaded env file")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
