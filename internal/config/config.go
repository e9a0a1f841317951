package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	DefaultSessionSecret = "dev-secret-change-me"

	HistoryMemory   = "memory"
	HistoryPostgres = "postgres"
)

type Config struct {
	Port               string `validate:"required,numeric"`
	Env                string `validate:"required,oneof=dev test prod"`
	LogLevel           string `validate:"required,oneof=trace debug info warn error"`
	DatabaseDSN        string `validate:"required_if=HistoryBackend postgres"`
	HistoryBackend     string `validate:"required,oneof=memory postgres"`
	SessionSecret      string `validate:"required"`
	SessionTTLHours    int    `validate:"gte=1"`
	MaxMessageLength   int    `validate:"gte=1"`
	MaxMessageHistory  int    `validate:"gte=1"`
	UsernameMaxLength  int    `validate:"gte=1"`
	KeepaliveInterval  time.Duration
	StreamQueueSize    int     `validate:"gte=1"`
	RateLimitPerSecond float64 `validate:"gt=0"`
	RateLimitBurst     int     `validate:"gte=1"`
}

var defaults = map[string]interface{}{
	"APP_PORT":              "8080",
	"APP_ENV":               "dev",
	"LOG_LEVEL":             "info",
	"DATABASE_DSN":          "host=localhost user=postgres password=postgres dbname=site port=5432 sslmode=disable TimeZone=UTC",
	"HISTORY_BACKEND":       HistoryMemory,
	"SESSION_SECRET":        DefaultSessionSecret,
	"SESSION_TTL_HOURS":     168,
	"MAX_MESSAGE_LENGTH":    1869,
	"MAX_MESSAGE_HISTORY":   100,
	"USERNAME_MAX_LENGTH":   32,
	"KEEPALIVE_INTERVAL_MS": 25000,
	"STREAM_QUEUE_SIZE":     64,
	"RATE_LIMIT_PER_SECOND": 20,
	"RATE_LIMIT_BURST":      40,
}

// positiveInt 读取整数配置，非法或非正数时回退到默认值。
func positiveInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

func positiveFloat(v *viper.Viper, key string) float64 {
	if f := v.GetFloat64(key); f > 0 {
		return f
	}
	return float64(defaults[key].(int))
}

// Load 从环境变量读取配置，未设置的项使用默认值。
func Load() Config {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	return Config{
		Port:               v.GetString("APP_PORT"),
		Env:                v.GetString("APP_ENV"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		DatabaseDSN:        v.GetString("DATABASE_DSN"),
		HistoryBackend:     v.GetString("HISTORY_BACKEND"),
		SessionSecret:      v.GetString("SESSION_SECRET"),
		SessionTTLHours:    positiveInt(v, "SESSION_TTL_HOURS"),
		MaxMessageLength:   positiveInt(v, "MAX_MESSAGE_LENGTH"),
		MaxMessageHistory:  positiveInt(v, "MAX_MESSAGE_HISTORY"),
		UsernameMaxLength:  positiveInt(v, "USERNAME_MAX_LENGTH"),
		KeepaliveInterval:  time.Duration(positiveInt(v, "KEEPALIVE_INTERVAL_MS")) * time.Millisecond,
		StreamQueueSize:    positiveInt(v, "STREAM_QUEUE_SIZE"),
		RateLimitPerSecond: positiveFloat(v, "RATE_LIMIT_PER_SECOND"),
		RateLimitBurst:     positiveInt(v, "RATE_LIMIT_BURST"),
	}
}

// Validate 校验配置；非 dev 环境禁止使用默认的 session 密钥。
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.KeepaliveInterval <= 0 {
		return errors.New("invalid config: keepalive interval must be positive")
	}
	if cfg.Env != "dev" && cfg.SessionSecret == DefaultSessionSecret {
		return errors.New("invalid config: SESSION_SECRET must be set outside dev")
	}
	return nil
}
