package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Paddle    PaddleConfig
	RateLimit RateLimitConfig

	// CronSecret guards the internal billing trigger endpoints.
	CronSecret string

	BillingConfigPath string
	SchedulerEnabled  bool
	AgentHookTimeout  time.Duration
	SnowflakeNode     int64
}

// RateLimitConfig bounds voice telemetry intake per source address.
// A zero rate disables the limiter.
type RateLimitConfig struct {
	VoiceIngestRate  float64
	VoiceIngestBurst int
}

type PaddleConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	// SignatureTolerance bounds webhook timestamp skew. Zero disables the check.
	SignatureTolerance time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "voicemeter"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "voicemeter"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "voicemeter.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		Paddle: PaddleConfig{
			APIKey:             strings.TrimSpace(getenv("PADDLE_API_KEY", "")),
			WebhookSecret:      strings.TrimSpace(getenv("PADDLE_WEBHOOK_SECRET", "")),
			BaseURL:            strings.TrimRight(getenv("PADDLE_BASE_URL", "https://api.paddle.com"), "/"),
			Timeout:            getenvDuration("PADDLE_TIMEOUT", 15*time.Second),
			SignatureTolerance: getenvDuration("PADDLE_SIGNATURE_TOLERANCE", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			VoiceIngestRate:  getenvFloat("RATE_LIMIT_VOICE_INGEST_RATE", 0),
			VoiceIngestBurst: getenvInt("RATE_LIMIT_VOICE_INGEST_BURST", 50),
		},
		CronSecret:        strings.TrimSpace(getenv("CRON_SECRET", "")),
		BillingConfigPath: strings.TrimSpace(getenv("BILLING_CONFIG_PATH", "")),
		SchedulerEnabled:  getenvBool("SCHEDULER_ENABLED", true),
		AgentHookTimeout:  getenvDuration("AGENT_HOOK_TIMEOUT", 5*time.Second),
		SnowflakeNode:     int64(getenvInt("SNOWFLAKE_NODE", 1)),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
