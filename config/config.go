package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	LogLevel        string

	DBHost string
	DBPort string
	DBUser string
	DBPass string
	DBName string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioHost     string
	MinioPort     string
	MinioUsername string
	MinioPassword string
	MinioUseSSL   bool
	BucketName    string

	RabbitMQURL      string
	RabbitMQPrefetch int

	ShareBaseURL      string
	ShareRate         float64
	ShareBurst        int
	ShareTokenRetries int

	UploadMaxBytes     int64
	UploadMaxFiles     int
	UploadAllowedTypes []string
	BatchDownloadMax   int
	PresignExpiry      time.Duration

	ThumbnailSize        int
	ThumbnailQuality     int
	ThumbnailConcurrency int
	ThumbnailRate        float64
	ThumbnailBurst       int
	ThumbnailRetryMax    int
	ThumbnailRetryDelays []time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPass     string
	SMTPFrom     string
	SMTPTLS      bool
	SMTPStartTLS bool
}

// getEnv returns the environment value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDurationList(key string, defaultValue []time.Duration) []time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := time.ParseDuration(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Load reads configuration from the environment.
func Load() Config {
	rabbitURL := getEnv("RABBITMQ_URL", "")
	if rabbitURL == "" {
		rabbitURL = fmt.Sprintf(
			"amqp://%s:%s@%s:%s/%s",
			url.PathEscape(getEnv("RABBITMQ_USER", "guest")),
			url.PathEscape(getEnv("RABBITMQ_PASSWORD", "guest")),
			getEnv("RABBITMQ_HOST", "localhost"),
			getEnv("RABBITMQ_PORT", "5672"),
			url.PathEscape(getEnv("RABBITMQ_VHOST", "/")),
		)
	}
	smtpPort := getEnv("SMTP_PORT", "")
	return Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":3000"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		CORSOrigins:     getEnvList("CORS_ORIGIN", []string{"http://localhost:5173"}),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		DBHost: getEnv("DB_HOST", "localhost"),
		DBPort: getEnv("DB_PORT", "3306"),
		DBUser: getEnv("DB_USER", "root"),
		DBPass: getEnv("DB_PASS", "root"),
		DBName: getEnv("DB_NAME", "Go_Pic"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioHost:     getEnv("MINIO_HOST", "localhost"),
		MinioPort:     getEnv("MINIO_PORT", "9000"),
		MinioUsername: getEnv("MINIO_USERNAME", "minioadmin"),
		MinioPassword: getEnv("MINIO_PASSWORD", "minioadmin"),
		MinioUseSSL:   getEnvBool("MINIO_USE_SSL", false),
		BucketName:    getEnv("BUCKET_NAME", "images"),

		RabbitMQURL:      rabbitURL,
		RabbitMQPrefetch: getEnvInt("RABBITMQ_PREFETCH", 8),

		ShareBaseURL:      strings.TrimRight(getEnv("SHARE_BASE_URL", "http://localhost:3000"), "/"),
		ShareRate:         getEnvFloat("SHARE_RATE", 5),
		ShareBurst:        getEnvInt("SHARE_BURST", 20),
		ShareTokenRetries: getEnvInt("SHARE_TOKEN_RETRIES", 3),

		UploadMaxBytes: getEnvInt64("MAX_FILE_SIZE", 50<<20),
		UploadMaxFiles: getEnvInt("MAX_FILE_COUNT", 10),
		UploadAllowedTypes: getEnvList("ALLOWED_FILE_TYPES", []string{
			"image/jpeg", "image/png", "image/webp", "image/tiff", "image/gif",
		}),
		BatchDownloadMax: getEnvInt("BATCH_DOWNLOAD_MAX", 50),
		PresignExpiry:    getEnvDuration("PRESIGN_EXPIRY", 10*time.Minute),

		ThumbnailSize:        getEnvInt("THUMBNAIL_SIZE", 300),
		ThumbnailQuality:     getEnvInt("THUMBNAIL_QUALITY", 80),
		ThumbnailConcurrency: getEnvInt("THUMBNAIL_WORKER_CONCURRENCY", 4),
		ThumbnailRate:        getEnvFloat("THUMBNAIL_RATE", 10),
		ThumbnailBurst:       getEnvInt("THUMBNAIL_BURST", 4),
		ThumbnailRetryMax:    getEnvInt("THUMBNAIL_RETRY_MAX", 5),
		ThumbnailRetryDelays: getEnvDurationList(
			"THUMBNAIL_RETRY_DELAYS",
			[]time.Duration{10 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute},
		),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     smtpPort,
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPass:     getEnv("SMTP_PASS", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPTLS:      getEnvBool("SMTP_TLS", false) || smtpPort == "465",
		SMTPStartTLS: getEnvBool("SMTP_STARTTLS", false),
	}
}

// MysqlDSN builds the gorm MySQL DSN for dbName.
func (c Config) MysqlDSN(dbName string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser,
		c.DBPass,
		c.DBHost,
		c.DBPort,
		dbName,
	)
}
