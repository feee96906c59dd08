package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	ProgressTTL   time.Duration

	// Kafka
	KafkaBrokers      []string
	ImportEventsTopic string

	// Import
	UploadFolder      string
	AllowedExtensions []string
	AllowedSources    []string
	ImportBatchSize   int
	ParserBatchSize   int
	ParseBudget       time.Duration
	ParseReserve      time.Duration
	TimeoutCheckEvery int
	GCEveryBatches    int
	CommitRetries     int
	CommitRetryDelay  time.Duration
	StaleImportAfter  time.Duration
	SweepInterval     time.Duration
	DefaultTimezone   string
	CustomMappingPath string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8085"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 330*time.Second),
		MaxUploadBytes: getInt64Env("MAX_UPLOAD_BYTES", 16*1024*1024),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "healthtrack"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "healthtrack"),
		PostgresDB:       getEnv("POSTGRES_DB", "healthtrack"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		ProgressTTL:   getDuration("PROGRESS_TTL", 24*time.Hour),

		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		ImportEventsTopic: getEnv("IMPORT_EVENTS_TOPIC", "health-imports"),

		UploadFolder:      getEnv("UPLOAD_FOLDER", "./instance/uploads"),
		AllowedExtensions: getStringSliceEnv("ALLOWED_EXTENSIONS", []string{"zip", "xml", "csv"}),
		AllowedSources:    getStringSliceEnv("ALLOWED_SOURCES", []string{"apple_health", "google_fit", "fitbit", "samsung_health", "custom"}),
		ImportBatchSize:   getIntEnv("IMPORT_BATCH_SIZE", 10000),
		ParserBatchSize:   getIntEnv("PARSER_BATCH_SIZE", 20000),
		ParseBudget:       getDuration("PARSE_BUDGET", 280*time.Second),
		ParseReserve:      getDuration("PARSE_BUDGET_RESERVE", 10*time.Second),
		TimeoutCheckEvery: getIntEnv("TIMEOUT_CHECK_INTERVAL", 1000),
		GCEveryBatches:    getIntEnv("GC_EVERY_BATCHES", 5),
		CommitRetries:     getIntEnv("COMMIT_RETRIES", 3),
		CommitRetryDelay:  getDuration("COMMIT_RETRY_DELAY", 200*time.Millisecond),
		StaleImportAfter:  getDuration("STALE_IMPORT_AFTER", time.Hour),
		SweepInterval:     getDuration("SWEEP_INTERVAL", 10*time.Minute),
		DefaultTimezone:   getEnv("DEFAULT_TIMEZONE", "UTC"),
		CustomMappingPath: getEnv("CUSTOM_MAPPING_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
