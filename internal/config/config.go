package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultHoldTTL           = 5 * time.Minute
	DefaultSelectTTL         = time.Minute
	DefaultHoldMaxAttempts   = 3
	DefaultHoldBackoffBase   = 10 * time.Millisecond
	DefaultHoldBackoffMax    = 200 * time.Millisecond
	DefaultCommitLockTimeout = 2 * time.Second
	DefaultReaperInterval    = time.Minute
)

type Config struct {
	CRDBDSN      string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	OTLPEndpoint string
	HTTPAddr     string

	HoldTTL           time.Duration
	SelectTTL         time.Duration
	HoldMaxAttempts   int
	HoldBackoffBase   time.Duration
	HoldBackoffMax    time.Duration
	CommitLockTimeout time.Duration
	ReaperInterval    time.Duration
}

// Load reads .env (if present) and the process environment. Missing or
// malformed tunables fall back to their defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),

		HoldTTL:           duration("HOLD_TTL", DefaultHoldTTL),
		SelectTTL:         duration("SELECT_TTL", DefaultSelectTTL),
		HoldMaxAttempts:   positiveInt("HOLD_MAX_ATTEMPTS", DefaultHoldMaxAttempts),
		HoldBackoffBase:   duration("HOLD_BACKOFF_BASE", DefaultHoldBackoffBase),
		HoldBackoffMax:    duration("HOLD_BACKOFF_MAX", DefaultHoldBackoffMax),
		CommitLockTimeout: duration("COMMIT_LOCK_TIMEOUT", DefaultCommitLockTimeout),
		ReaperInterval:    duration("REAPER_INTERVAL", DefaultReaperInterval),
	}, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func positiveInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
