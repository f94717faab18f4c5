package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Config struct {
	ServiceName string
	LoggerLevel string

	Port           string
	DatabaseURL    string
	RedisURL       string
	MigrateOnStart bool

	Timezone string

	CodeTTL             time.Duration
	TokenTTL            time.Duration
	LoginCodesPerWindow int
	LoginWindow         time.Duration

	SMSProvider     string
	SMSWebhookURL   string
	SMSWebhookToken string

	ReservationWindow    time.Duration
	ReservationLookahead time.Duration
	SearchRadiusKm       float64

	SweepInterval  time.Duration
	SweepBatchSize int

	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.ServiceName = cast.ToString(getOrReturnDefault("SERVICE_NAME", "store-service"))
	cfg.LoggerLevel = cast.ToString(getOrReturnDefault("LOGGER_LEVEL", "info"))

	cfg.Port = cast.ToString(getOrReturnDefault("PORT", "8080"))
	cfg.DatabaseURL = cast.ToString(getOrReturnDefault("DB_DSN", ""))
	cfg.RedisURL = cast.ToString(getOrReturnDefault("REDIS_URL", ""))
	cfg.MigrateOnStart = cast.ToBool(getOrReturnDefault("MIGRATE_ON_START", true))

	cfg.Timezone = cast.ToString(getOrReturnDefault("TIMEZONE", "UTC"))

	cfg.CodeTTL = seconds("CODE_TTL_SECONDS", 300)
	cfg.TokenTTL = time.Duration(cast.ToInt(getOrReturnDefault("TOKEN_TTL_HOURS", 720))) * time.Hour
	cfg.LoginCodesPerWindow = cast.ToInt(getOrReturnDefault("LOGIN_CODES_PER_WINDOW", 3))
	cfg.LoginWindow = seconds("LOGIN_WINDOW_SECONDS", 600)

	cfg.SMSProvider = cast.ToString(getOrReturnDefault("SMS_PROVIDER", "log"))
	cfg.SMSWebhookURL = cast.ToString(getOrReturnDefault("SMS_WEBHOOK_URL", ""))
	cfg.SMSWebhookToken = cast.ToString(getOrReturnDefault("SMS_WEBHOOK_TOKEN", ""))

	cfg.ReservationWindow = minutes("RESERVATION_WINDOW_MINUTES", 5)
	cfg.ReservationLookahead = minutes("RESERVATION_LOOKAHEAD_MINUTES", 120)
	cfg.SearchRadiusKm = cast.ToFloat64(getOrReturnDefault("SEARCH_RADIUS_KM", 10))

	cfg.SweepInterval = seconds("SWEEP_INTERVAL_SECONDS", 60)
	cfg.SweepBatchSize = cast.ToInt(getOrReturnDefault("SWEEP_BATCH_SIZE", 100))

	cfg.RateLimitPerMinute = cast.ToInt(getOrReturnDefault("RATE_LIMIT_PER_MIN", 120))
	cfg.RateLimitBurst = cast.ToInt(getOrReturnDefault("RATE_LIMIT_BURST", 30))

	return cfg
}

// Location resolves Timezone, falling back to UTC when the name is unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func seconds(key string, fallback int) time.Duration {
	value := cast.ToInt(getOrReturnDefault(key, fallback))
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func minutes(key string, fallback int) time.Duration {
	value := cast.ToInt(getOrReturnDefault(key, fallback))
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Minute
}

func getOrReturnDefault(key string, defaultValue interface{}) interface{} {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
