package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration read from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	LogFormat        string
	HTTPListenAddr   string
	MetricsNamespace string

	// Durable storage: Postgres when DATABASE_URL is set, SQLite otherwise.
	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	// SMS gateway.
	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayTimeout       time.Duration
	GatewayWebhookSecret string
	DeliveryTimeout      time.Duration

	// Platform bridge (contact lookup, call history).
	BridgeBaseURL string
	BridgeTimeout time.Duration

	// Call monitoring.
	SettleDelay time.Duration
	WakeMaxHold time.Duration
}

// Load reads configuration from environment variables with sane defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "callflow"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "data/callflow.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		GatewayBaseURL:       getEnv("SMS_GATEWAY_BASE_URL", ""),
		GatewayAPIKey:        getEnv("SMS_GATEWAY_API_KEY", ""),
		GatewayWebhookSecret: getEnv("SMS_GATEWAY_WEBHOOK_SECRET", ""),

		BridgeBaseURL: getEnv("BRIDGE_BASE_URL", "http://127.0.0.1:8187"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getEnvBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getEnvDuration("SMS_GATEWAY_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryTimeout, err = getEnvDuration("SMS_DELIVERY_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BridgeTimeout, err = getEnvDuration("BRIDGE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SettleDelay, err = getEnvDuration("CALL_SETTLE_DELAY", 1500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.WakeMaxHold, err = getEnvDuration("WAKE_MAX_HOLD", 10*time.Minute); err != nil {
		return nil, err
	}

	if cfg.GatewayBaseURL == "" {
		return nil, fmt.Errorf("SMS_GATEWAY_BASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}
