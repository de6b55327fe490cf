package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dileep-u-k/agent-gateway/internal/settings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// AppConfig holds the process-level configuration read from the environment.
// Everything else lives in the persisted settings document.
type AppConfig struct {
	SettingsBackend string
	SettingsPath    string
	RedisAddr       string
	VaultDir        string
	Host            string
	PortOverride    int
	NewsAPIKey      string
	WeatherURL      string
	GinMode         string
}

// LoadConfig reads a .env file for local development and then the environment.
// In release mode (GIN_MODE=release) the environment is the only source.
func LoadConfig() (*AppConfig, error) {
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load(); err != nil {
			log.Println("WARNING: No .env file found for local development.")
		}
	}

	cfg := &AppConfig{
		SettingsBackend: strings.ToLower(envOr("GATEWAY_SETTINGS_BACKEND", "file")),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		VaultDir:        envOr("GATEWAY_VAULT_DIR", "."),
		Host:            envOr("GATEWAY_HOST", "127.0.0.1"),
		NewsAPIKey:      os.Getenv("NEWS_API_KEY"),
		WeatherURL:      os.Getenv("WEATHER_API_URL"),
		GinMode:         os.Getenv("GIN_MODE"),
	}

	defaultPath := "settings.yaml"
	if cfg.SettingsBackend == "sqlite" {
		defaultPath = "settings.db"
	}
	cfg.SettingsPath = envOr("GATEWAY_SETTINGS_PATH", defaultPath)

	if raw := os.Getenv("GATEWAY_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid GATEWAY_PORT %q", raw)
		}
		cfg.PortOverride = port
	}

	switch cfg.SettingsBackend {
	case "file", "sqlite":
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("GATEWAY_SETTINGS_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return nil, fmt.Errorf("unknown GATEWAY_SETTINGS_BACKEND %q", cfg.SettingsBackend)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connectRedis returns nil when no address is configured.
func connectRedis(ctx context.Context, cfg *AppConfig) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	log.Printf("✅ Connected to Redis at %s.", cfg.RedisAddr)
	return rdb, nil
}

// openStore selects the settings backend. The returned closer releases
// backend resources and may be nil.
func openStore(cfg *AppConfig, rdb *redis.Client) (settings.Store, io.Closer, error) {
	switch cfg.SettingsBackend {
	case "redis":
		return settings.NewRedisStore(rdb, ""), nil, nil
	case "sqlite":
		store, err := settings.OpenSQLStore(cfg.SettingsPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return settings.NewFileStore(cfg.SettingsPath), nil, nil
	}
}
