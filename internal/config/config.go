package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported dispatch buses.
const (
	BusHass  = "hass"
	BusMQTT  = "mqtt"
	BusRedis = "redis"
)

type Config struct {
	Port string

	// Dispatch
	BusKind            string
	SubmissionDeadline time.Duration
	PolicyPath         string

	// Home Assistant
	HassWSURL string
	HassToken string

	// MQTT
	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTQoS         int

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisStream   string

	// JWT
	JWTPublicKeyPath string

	// Telemetry
	OTLPEndpoint string

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnv("BRIDGE_PORT", "8097"),

		BusKind:            strings.ToLower(getEnv("BUS_KIND", BusHass)),
		SubmissionDeadline: getEnvDuration("SUBMISSION_DEADLINE", 5*time.Second),
		PolicyPath:         getEnv("POLICY_PATH", ""),

		HassWSURL: getEnv("HASS_WS_URL", "ws://homeassistant:8123/api/websocket"),
		HassToken: getEnv("HASS_TOKEN", ""),

		MQTTBrokerURL:   getEnv("MQTT_BROKER_URL", "mqtt://emqx:1883"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "llm-service-bridge"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "homenavi/llmbridge/services"),
		MQTTQoS:         getEnvInt("MQTT_QOS", 1),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisStream:   getEnv("REDIS_STREAM", "homenavi:llmbridge:service_calls"),

		JWTPublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", "/app/keys/jwt_public.pem"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	switch cfg.BusKind {
	case BusHass, BusMQTT, BusRedis:
	default:
		return nil, fmt.Errorf("unsupported BUS_KIND %q", cfg.BusKind)
	}
	if cfg.SubmissionDeadline <= 0 {
		return nil, fmt.Errorf("SUBMISSION_DEADLINE must be positive, got %s", cfg.SubmissionDeadline)
	}
	if cfg.MQTTQoS < 0 || cfg.MQTTQoS > 2 {
		return nil, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", cfg.MQTTQoS)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
