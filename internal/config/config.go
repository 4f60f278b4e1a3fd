package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port int

	// Mode selection: remote sync is active iff both the service
	// endpoint (DB_HOST) and the access credential (DB_PASSWORD) are
	// configured. Decided once at startup, never changed after.
	RemoteEnabled bool
	DBURL         string

	// Local mode storage directory.
	DataDir string

	RedisAddr     string
	RedisPassword string

	JWTSecret string
	AccessTTL time.Duration

	BuilderEmail        string
	BuilderPasswordHash string
	BuilderPhone        string

	AllowedOrigins []string
	MaxBodyBytes   int64

	OTLPEndpoint string
}

func Load() Config {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	host := getEnv("DB_HOST", "")
	pass := getEnv("DB_PASSWORD", "")

	cfg := Config{
		Env:           getEnv("APP_ENV", "dev"),
		Port:          getEnvInt("PORT", 8080),
		RemoteEnabled: host != "" && pass != "",
		DataDir:       getEnv("DATA_DIR", "data"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-me"),
		AccessTTL:     getEnvDuration("ACCESS_TTL", 12*time.Hour),

		BuilderEmail:        getEnv("BUILDER_EMAIL", "builder@apfiles.local"),
		BuilderPasswordHash: getEnv("BUILDER_PASSWORD_HASH", ""),
		BuilderPhone:        getEnv("BUILDER_PHONE", "0000000000"),

		AllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		MaxBodyBytes:   int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.RemoteEnabled {
		cfg.DBURL = buildDBURL(host, pass)
	}

	return cfg
}

func buildDBURL(host, pass string) string {
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "apfiles")
	name := getEnv("DB_NAME", "apfiles")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return d
	}
	return fallback
}
