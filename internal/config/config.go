package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Stream   StreamConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Address           string
	Password          string
	DB                int
	PushChannelPrefix string
}

type StreamConfig struct {
	Name         string
	Group        string
	Consumer     string
	BatchSize    int
	Block        time.Duration
	PendingRetry time.Duration
}

// ClientConfig configures the client-side syncer binary. It is loaded
// separately from Config so the server does not require SENDER_URL and the
// client does not require POSTGRES_URL.
type ClientConfig struct {
	APIBaseURL string
	SenderURL  string
	Redis      RedisConfig
}

func LoadAll() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8082"),
		},
		Database: DatabaseConfig{
			PostgresURL: mustEnv("POSTGRES_URL"),
		},
		Redis: loadRedis(),
		Stream: StreamConfig{
			Name:         getEnv("STREAM_NAME", "sms-events"),
			Group:        getEnv("STREAM_GROUP", "sms-store"),
			Consumer:     getEnv("STREAM_CONSUMER", hostnameOr("smsync-1")),
			BatchSize:    getEnvInt("STREAM_BATCH_SIZE", 16),
			Block:        time.Duration(getEnvInt("STREAM_BLOCK_MS", 2000)) * time.Millisecond,
			PendingRetry: time.Duration(getEnvInt("STREAM_PENDING_RETRY_MS", 5000)) * time.Millisecond,
		},
	}

	validate(cfg)
	return cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIBaseURL: getEnv("API_URL", "http://localhost:8082"),
		SenderURL:  mustEnv("SENDER_URL"),
		Redis:      loadRedis(),
	}
	return cfg, nil
}

func loadRedis() RedisConfig {
	return RedisConfig{
		Address:           getEnv("REDIS_ADDR", "localhost:6379"),
		Password:          os.Getenv("REDIS_PASSWORD"),
		DB:                getEnvInt("REDIS_DB", 0),
		PushChannelPrefix: getEnv("PUSH_CHANNEL_PREFIX", "sms:push:"),
	}
}

func validate(cfg *Config) {
	if cfg.Stream.BatchSize <= 0 {
		panic("STREAM_BATCH_SIZE must be > 0")
	}
	if cfg.Stream.Block <= 0 {
		panic("STREAM_BLOCK_MS must be > 0")
	}
	if cfg.Stream.PendingRetry <= 0 {
		panic("STREAM_PENDING_RETRY_MS must be > 0")
	}
	if cfg.Redis.PushChannelPrefix == "" {
		panic("PUSH_CHANNEL_PREFIX must not be empty")
	}
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return def
	}
	return h
}

func mustEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("missing required env var: %s", key))
	}
	return val
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid int for env %s: %s", key, v))
	}
	return i
}
