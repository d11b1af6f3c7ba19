package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// StatementTimeout is sent to the server as a session parameter.
	StatementTimeout time.Duration
	// ConnectAttempts bounds the startup pings; ConnectBackoff doubles between them.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// MinIOConfig holds object storage settings for MinIO.
// The version archive is disabled when Endpoint is empty.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an archive endpoint was configured.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

// DynamoConfig holds settings for the DynamoDB document store backend.
type DynamoConfig struct {
	Table    string
	Region   string
	Endpoint string
}

// StorageConfig describes where document records and committed files live.
type StorageConfig struct {
	// Backend selects the record store: "postgres", "dynamodb" or "memory".
	Backend        string
	UploadDir      string
	UploadMaxBytes int64
	StaleSaveAfter time.Duration
}

// EditorConfig holds settings shared with the external document server.
type EditorConfig struct {
	DocumentServerURL string
	JWTSecret         string
	TokenTTL          time.Duration
	FetchTimeout      time.Duration
	FetchMaxBytes     int64
	ProfilePath       string
	// DefaultUserID identifies callers that send no X-User-ID header.
	// Empty means such requests are rejected.
	DefaultUserID   string
	DefaultUserName string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost  string
	AppURL   string
	Port     string
	Timezone string
	LogLevel string
	Database DatabaseConfig
	MinIO    MinIOConfig
	Dynamo   DynamoConfig
	Storage  StorageConfig
	Editor   EditorConfig
}

// Location resolves the configured timezone, falling back to UTC.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:  getEnv("APP_HOST", "localhost:8080"),
		AppURL:   getEnv("APP_URL", "http://localhost:8080"),
		Port:     getEnv("PORT", "8080"),
		Timezone: getEnv("APP_TIMEZONE", "UTC"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:             getEnv("DB_HOST", ""),
			Port:             getEnv("DB_PORT", "5432"),
			User:             getEnv("DB_USER", ""),
			Password:         getEnv("DB_PASSWORD", ""),
			Name:             getEnv("DB_NAME", ""),
			SSLMode:          getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvDuration("DB_CONN_MAX_LIFETIME_SEC", 5*time.Minute),
			ConnMaxIdleTime:  getEnvDuration("DB_CONN_MAX_IDLE_SEC", time.Minute),
			StatementTimeout: getEnvDuration("DB_STATEMENT_TIMEOUT_SEC", 30*time.Second),
			ConnectAttempts:  getEnvInt("DB_CONNECT_ATTEMPTS", 5),
			ConnectBackoff:   getEnvDuration("DB_CONNECT_BACKOFF_SEC", time.Second),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Dynamo: DynamoConfig{
			Table:    getEnv("DYNAMO_TABLE", "documents"),
			Region:   getEnv("DYNAMO_REGION", "us-east-1"),
			Endpoint: getEnv("DYNAMO_ENDPOINT", ""),
		},
		Storage: StorageConfig{
			Backend:        getEnv("STORE_BACKEND", "postgres"),
			UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
			UploadMaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 50*1024*1024)),
			StaleSaveAfter: getEnvDuration("SAVE_STALE_AFTER_SEC", 10*time.Minute),
		},
		Editor: EditorConfig{
			DocumentServerURL: getEnv("DOCUMENT_SERVER_URL", "http://localhost:8000"),
			JWTSecret:         getEnv("JWT_SECRET", ""),
			TokenTTL:          getEnvDuration("TOKEN_TTL_SEC", 24*time.Hour),
			FetchTimeout:      getEnvDuration("FETCH_TIMEOUT_SEC", 30*time.Second),
			FetchMaxBytes:     int64(getEnvInt("FETCH_MAX_BYTES", 100*1024*1024)),
			ProfilePath:       getEnv("EDITOR_PROFILE", ""),
			DefaultUserID:     getEnv("DEFAULT_USER_ID", ""),
			DefaultUserName:   getEnv("DEFAULT_USER_NAME", ""),
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

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return def
}
