package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env   string
	Port  int
	DBURL string

	DBMaxConns int

	// admin seed
	AdminEmail    string
	AdminPassword string
	AdminUsername string
	AdminRole     string

	// auth
	JWTSecret         string
	JWTAccessTTL      time.Duration
	JWTRefreshTTLDays int
	MaxLoginAttempts  int
	LockoutDuration   time.Duration

	// files
	FileEncryptionKey string
	MaxUploadBytes    int64
	StorageDriver     string
	LocalStorageDir   string
	FileRetention     time.Duration

	S3Region       string
	S3Bucket       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string

	// redis, optional; rate limiting falls back to memory when empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTELEndpoint string
	CORSOrigins  []string

	WorkerHealthPort int
	CleanupSpec      string
}

// Load reads .env (when present) and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	env := getEnv("APP_ENV", getEnv("NODE_ENV", "dev"))

	return Config{
		Env:        env,
		Port:       getEnvInt("PORT", 8080),
		DBURL:      buildDBURL(),
		DBMaxConns: getEnvInt("DB_MAX_CONNS", 10),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminRole:     getEnv("ADMIN_ROLE", "admin"),

		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAccessTTL:      getEnvDuration("JWT_EXPIRES_IN", 15*time.Minute),
		JWTRefreshTTLDays: getEnvInt("JWT_REFRESH_TTL_DAYS", 7),
		MaxLoginAttempts:  getEnvInt("MAX_LOGIN_ATTEMPTS", 5),
		LockoutDuration:   getEnvDuration("LOCKOUT_DURATION", 15*time.Minute),

		FileEncryptionKey: getEnv("FILE_ENCRYPTION_KEY", ""),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		StorageDriver:     getEnv("STORAGE_DRIVER", "local"),
		LocalStorageDir:   getEnv("LOCAL_STORAGE_DIR", "./data/files"),
		FileRetention:     getEnvDuration("FILE_RETENTION", 7*24*time.Hour),

		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("S3_BUCKET", "aegis-files"),
		S3BaseEndpoint: getEnv("S3_BASE_ENDPOINT", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:4200")),

		WorkerHealthPort: getEnvInt("WORKER_HEALTH_PORT", 8081),
		CleanupSpec:      getEnv("CLEANUP_CRON", "0 */15 * * * *"),
	}
}

func (c Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWTRefreshTTLDays) * 24 * time.Hour
}

// buildDBURL prefers DATABASE_URL, then DATABASE_* parts, then POSTGRES_* parts.
func buildDBURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := firstEnv("127.0.0.1", "DATABASE_HOST", "POSTGRES_HOST")
	port := firstEnv("5432", "DATABASE_PORT", "POSTGRES_PORT")
	user := firstEnv("aegis", "DATABASE_USER", "POSTGRES_USER")
	pass := firstEnv("aegis", "DATABASE_PASSWORD", "POSTGRES_PASSWORD")
	name := firstEnv("aegis", "DATABASE_NAME", "POSTGRES_DB")
	ssl := firstEnv("disable", "DATABASE_SSLMODE", "POSTGRES_SSLMODE")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func firstEnv(fallback string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env, using fallback", "key", key, "value", v)
			return fallback
		}

		return num
	}
	return fallback
}

// getEnvDuration accepts Go durations ("15m") and the "7d" day suffix.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	d, err := ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env, using fallback", "key", key, "value", v)
		return fallback
	}
	return d
}

func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if strings.HasSuffix(v, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(v, "d"))
		if err != nil {
			return 0, fmt.Errorf("parse days %q: %w", v, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	// bare numbers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
