package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string
	DBMaxConns  int

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Frontend
	FrontendURLs []string

	// Sessions
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Ingest
	MaxBatchSize    int
	IngestRateLimit int

	// Anomaly detection
	SpeedCeiling      float64
	SpeedRunThreshold int
	SeekThreshold     int
	JitterFloorMs     float64
	JitterMinSamples  int
	HiddenFraction    float64

	// Background work
	WorkerCount         int
	MaintenanceInterval time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                getEnvOrDefault("PORT", "8080"),
		Env:                 getEnvOrDefault("ENV", "development"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:         mustGetEnv("DATABASE_URL"),
		DBMaxConns:          getEnvAsIntOrDefault("DB_MAX_CONNS", 25),
		RedisURL:            mustGetEnv("REDIS_URL"),
		JWTSecret:           mustGetEnv("JWT_SECRET"),
		FrontendURLs:        getEnvAsListOrDefault("FRONTEND_URL", []string{"http://localhost:5173"}),
		HeartbeatInterval:   getEnvAsDurationOrDefault("HEARTBEAT_INTERVAL", 10*time.Second),
		HeartbeatTimeout:    getEnvAsDurationOrDefault("HEARTBEAT_TIMEOUT", 60*time.Second),
		MaxBatchSize:        getEnvAsIntOrDefault("MAX_BATCH_SIZE", 100),
		IngestRateLimit:     getEnvAsIntOrDefault("INGEST_RATE_LIMIT", 120),
		SpeedCeiling:        getEnvAsFloatOrDefault("SPEED_CEILING", 2.0),
		SpeedRunThreshold:   getEnvAsIntOrDefault("SPEED_RUN_THRESHOLD", 5),
		SeekThreshold:       getEnvAsIntOrDefault("SEEK_THRESHOLD", 10),
		JitterFloorMs:       getEnvAsFloatOrDefault("JITTER_FLOOR_MS", 5),
		JitterMinSamples:    getEnvAsIntOrDefault("JITTER_MIN_SAMPLES", 12),
		HiddenFraction:      getEnvAsFloatOrDefault("HIDDEN_FRACTION", 0.5),
		WorkerCount:         getEnvAsIntOrDefault("WORKER_COUNT", 4),
		MaintenanceInterval: getEnvAsDurationOrDefault("MAINTENANCE_INTERVAL", 5*time.Minute),
	}

	// Batches above 100 events are never accepted
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > 100 {
		cfg.MaxBatchSize = 100
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// getEnvAsDurationOrDefault accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func getEnvAsListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
