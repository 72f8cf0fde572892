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

// Config holds every setting of the service.
type Config struct {
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int
	LogLevel     slog.Level

	JudgeBaseURL       string
	JudgeWebhookSecret string
	JudgeTimeout       time.Duration

	ProblemsetURL      string
	ProblemsetCacheTTL time.Duration
	// CodeforcesHandles maps user ids to judge handles, "101=tourist,102=petr".
	CodeforcesHandles string

	RedisURL string
	LockTTL  time.Duration

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string

	CORSAllowedOrigins []string
}

// Load reads the configuration from the environment, loading a .env file first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DatabaseURL:        getenv("DATABASE_URL"),
		JWTSecretKey:       getenv("JWT_SECRET_KEY"),
		JudgeBaseURL:       getenv("JUDGE_BASE_URL"),
		JudgeWebhookSecret: getenv("JUDGE_WEBHOOK_SECRET"),
		ProblemsetURL:      getenv("PROBLEMSET_URL"),
		CodeforcesHandles:  getenv("CODEFORCES_HANDLES"),
		RedisURL:           getenv("REDIS_URL"),
		R2AccountID:        getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:      getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey:  getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:       getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:    getenv("R2_PUBLIC_BASE_URL"),
	}

	required := map[string]string{
		"DATABASE_URL":         cfg.DatabaseURL,
		"JWT_SECRET_KEY":       cfg.JWTSecretKey,
		"JUDGE_BASE_URL":       cfg.JudgeBaseURL,
		"JUDGE_WEBHOOK_SECRET": cfg.JudgeWebhookSecret,
	}
	for _, name := range []string{"DATABASE_URL", "JWT_SECRET_KEY", "JUDGE_BASE_URL", "JUDGE_WEBHOOK_SECRET"} {
		if required[name] == "" {
			return nil, fmt.Errorf("%s environment variable is not set", name)
		}
	}

	portStr := getenv("SERVER_PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT environment variable: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}
	cfg.ServerPort = port

	if err := cfg.LogLevel.UnmarshalText([]byte(orDefault(getenv("LOG_LEVEL"), "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL environment variable: %w", err)
	}

	if cfg.ProblemsetCacheTTL, err = duration(getenv, "PROBLEMSET_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.LockTTL, err = duration(getenv, "LOCK_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.JudgeTimeout, err = duration(getenv, "JUDGE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	for _, origin := range strings.Split(orDefault(getenv("CORS_ALLOWED_ORIGINS"), "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	return cfg, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func duration(getenv func(string) string, name string, fallback time.Duration) (time.Duration, error) {
	raw := getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return d, nil
}
