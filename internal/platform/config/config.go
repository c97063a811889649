package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig captures Redis connection tuning. An empty URL disables Redis
// and the submission locker falls back to its in-process implementation.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthorityConfig captures the tax authority endpoint settings.
type AuthorityConfig struct {
	EndpointURL    string
	RequestTimeout time.Duration
	VerifyBaseURL  string
}

// RetryConfig tunes the offline retry queue.
type RetryConfig struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	ScanInterval time.Duration
}

// Config is the process-wide configuration assembled from the environment.
type Config struct {
	Addr          string
	DatabaseURL   string
	Redis         RedisConfig
	Authority     AuthorityConfig
	Retry         RetryConfig
	KafkaBrokers  []string
	AlertTopic    string
	JWTSigningKey string

	// CredentialKey protects PKCS#12 bundles at rest. Must be overridden
	// in production.
	CredentialKey string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:        envOr("FISKAL_ADDR", ":8080"),
		DatabaseURL: os.Getenv("FISKAL_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("FISKAL_REDIS_URL"),
			PoolSize:     envInt("FISKAL_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("FISKAL_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("FISKAL_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("FISKAL_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("FISKAL_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Authority: AuthorityConfig{
			EndpointURL:    envOr("FISKAL_CIS_URL", "https://cistest.apis-it.hr:8449/FiskalizacijaServiceTest"),
			RequestTimeout: envDuration("FISKAL_CIS_TIMEOUT", 10*time.Second),
			VerifyBaseURL:  envOr("FISKAL_VERIFY_BASE_URL", "https://porezna.gov.hr/rn"),
		},
		Retry: RetryConfig{
			BaseDelay:    envDuration("FISKAL_RETRY_BASE_DELAY", 30*time.Second),
			MaxDelay:     envDuration("FISKAL_RETRY_MAX_DELAY", time.Hour),
			MaxAttempts:  envInt("FISKAL_RETRY_MAX_ATTEMPTS", 10),
			ScanInterval: envDuration("FISKAL_RETRY_SCAN_INTERVAL", 15*time.Second),
		},
		AlertTopic:    envOr("FISKAL_ALERT_TOPIC", "fiskal.operator-alerts"),
		JWTSigningKey: envOr("FISKAL_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		CredentialKey: envOr("FISKAL_CREDENTIAL_KEY", "dev-credential-key-change-in-production"),
	}

	if brokers := os.Getenv("FISKAL_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
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
