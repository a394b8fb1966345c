package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// RedisConfig holds the upload-session cache settings.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	SessionTTL time.Duration
}

// StorageConfig holds object storage settings. Kind selects the backend
// adapter at startup (s3 or minio).
type StorageConfig struct {
	Kind      string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// ClamAVConfig holds scan engine settings.
type ClamAVConfig struct {
	Host        string
	Port        int
	Enabled     bool
	Timeout     time.Duration
	MaxRetries  int
	AwaitResult time.Duration
}

// KafkaConfig holds event bus settings.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// OutboxConfig holds event dispatch loop settings.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// UploadConfig holds upload policy settings.
type UploadConfig struct {
	MaxFileSizeMB int64
}

// MaxFileSizeBytes converts the configured ceiling to bytes.
func (u UploadConfig) MaxFileSizeBytes() int64 {
	return u.MaxFileSizeMB * 1024 * 1024
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost  string
	Port     string
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	ClamAV   ClamAVConfig
	Kafka    KafkaConfig
	Outbox   OutboxConfig
	Upload   UploadConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"), // default only for non-sensitive value
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", "localhost:6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvInt("REDIS_DB", 0),
			SessionTTL: getEnvDuration("UPLOAD_SESSION_TTL", 24*time.Hour),
		},
		Storage: StorageConfig{
			Kind:      getEnv("STORAGE_BACKEND", "minio"),
			Endpoint:  getEnv("STORAGE_ENDPOINT", ""),
			AccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey: getEnv("STORAGE_SECRET_KEY", ""),
			Bucket:    getEnv("STORAGE_BUCKET", "documents"),
			Region:    getEnv("STORAGE_REGION", "us-east-1"),
			UseSSL:    getEnvBool("STORAGE_USE_SSL", false),
		},
		ClamAV: ClamAVConfig{
			Host:        getEnv("CLAMAV_HOST", "localhost"),
			Port:        getEnvInt("CLAMAV_PORT", 3310),
			Enabled:     getEnvBool("VIRUS_SCAN_ENABLED", true),
			Timeout:     getEnvDuration("CLAMAV_TIMEOUT", 30*time.Second),
			MaxRetries:  getEnvInt("SCAN_MAX_RETRIES", 3),
			AwaitResult: getEnvDuration("SCAN_AWAIT_TIMEOUT", 60*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "document-events"),
		},
		Outbox: OutboxConfig{
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 50),
		},
		Upload: UploadConfig{
			MaxFileSizeMB: int64(getEnvInt("MAX_FILE_SIZE_MB", 20)),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
