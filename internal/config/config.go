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
	Server    ServerConfig
	Redis     RedisConfig
	Wizard    WizardConfig
	RateLimit RateLimitConfig
	LogLevel  slog.Level
}

type ServerConfig struct {
	Host string
	Port int
}

// RedisConfig is optional; an empty Addr runs the service without Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type WizardConfig struct {
	IdleTTL        time.Duration
	SeatMapTTL     time.Duration
	IdempotencyTTL time.Duration
}

type RateLimitConfig struct {
	PerMinute int
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	perMinute, err := intEnv("RATE_LIMIT_PER_MIN", 30)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	idleTTL, err := durationEnv("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	seatMapTTL, err := durationEnv("SEAT_MAP_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	idemTTL, err := durationEnv("IDEMPOTENCY_TTL", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(stringEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("%s: invalid LOG_LEVEL: %w", op, err)
	}

	return &Config{
		Server: ServerConfig{
			Host: stringEnv("SERVER_HOST", "localhost"),
			Port: serverPort,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Wizard: WizardConfig{
			IdleTTL:        idleTTL,
			SeatMapTTL:     seatMapTTL,
			IdempotencyTTL: idemTTL,
		},
		RateLimit: RateLimitConfig{
			PerMinute: perMinute,
		},
		LogLevel: level,
	}, nil
}

func stringEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return d, nil
}
