package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration

	MaxRetries int
	RetryDelay time.Duration

	CacheTTL         time.Duration
	LoadMoreInterval time.Duration

	PrefetchDebounce  time.Duration
	PrefetchPoll      time.Duration
	PrefetchStability time.Duration
	PrefetchStagger   time.Duration

	MaxConcurrency int
	RateLimitMs    int

	StoreBackend string
	StoreDir     string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	ReachabilityAddr     string
	ReachabilityInterval time.Duration

	LogLevel string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		APIKey:         getEnv("ZHIPU_API_KEY", ""),
		BaseURL:        getEnv("ZHIPU_BASE_URL", "https://open.bigmodel.cn/api/paas/v4/chat/completions"),
		Model:          getEnv("ZHIPU_MODEL", "glm-4-flash"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT_SEC", 30, time.Second),

		MaxRetries: getEnvInt("MAX_RETRIES", 3),
		RetryDelay: getEnvDuration("RETRY_DELAY_MS", 1000, time.Millisecond),

		CacheTTL:         getEnvDuration("CACHE_TTL_MIN", 30, time.Minute),
		LoadMoreInterval: getEnvDuration("LOAD_MORE_INTERVAL_MS", 3000, time.Millisecond),

		PrefetchDebounce:  getEnvDuration("PREFETCH_DEBOUNCE_MS", 500, time.Millisecond),
		PrefetchPoll:      getEnvDuration("PREFETCH_POLL_MS", 500, time.Millisecond),
		PrefetchStability: getEnvDuration("PREFETCH_STABILITY_MS", 2000, time.Millisecond),
		PrefetchStagger:   getEnvDuration("PREFETCH_STAGGER_MS", 500, time.Millisecond),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 2),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 0),

		StoreBackend: getEnv("STORE_BACKEND", "file"),
		StoreDir:     getEnv("STORE_DIR", "./.coffee-guru"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "coffee"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "coffee123"),
		PostgresDB:       getEnv("POSTGRES_DB", "coffee_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		ReachabilityAddr:     getEnv("REACHABILITY_ADDR", "open.bigmodel.cn:443"),
		ReachabilityInterval: getEnvDuration("REACHABILITY_INTERVAL_SEC", 5, time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT_SEC must be positive, got %v", c.RequestTimeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL_MIN must be positive, got %v", c.CacheTTL)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("config: MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("config: MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	}
	switch c.StoreBackend {
	case "file", "postgres", "memory":
	default:
		return fmt.Errorf("config: STORE_BACKEND must be file, postgres or memory, got %q", c.StoreBackend)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * unit
}
