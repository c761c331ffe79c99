package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string         `yaml:"env" env:"APP_ENV" env-default:"local"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Cache    CacheConfig    `yaml:"cache"`
	Alerts   AlertConfig    `yaml:"alerts"`
	Reminder ReminderConfig `yaml:"reminder"`
}

type StorageConfig struct {
	// Backend selects the auth-store implementation: "sqlite" or "mongo".
	// The expense store is always sqlite.
	Backend    string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"sqlite"`
	SqlitePath string `yaml:"sqlite_path" env:"STORAGE_PATH" env-default:"./storage/homehub.db"`
	MongoURI   string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDB    string `yaml:"mongo_db" env:"MONGO_DB" env-default:"homehub"`
}

type RedisConfig struct {
	// Addr empty means no Redis: the rate limiter runs on its local map,
	// balance caching is disabled and the reminder job runs unguarded.
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type AuthConfig struct {
	AccessSecret  string        `yaml:"access_secret" env:"JWT_ACCESS_SECRET" env-required:"true"`
	RefreshSecret string        `yaml:"refresh_secret" env:"JWT_REFRESH_SECRET"`
	RefreshPepper string        `yaml:"refresh_pepper" env:"REFRESH_PEPPER"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_TTL" env-default:"720h"`
	ResetTokenTTL time.Duration `yaml:"reset_token_ttl" env:"RESET_TOKEN_TTL" env-default:"30m"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Window      time.Duration `yaml:"window" env:"AUTH_WINDOW" env-default:"15m"`
	MaxAttempts int           `yaml:"max_attempts" env:"AUTH_MAX_ATTEMPTS" env-default:"7"`
	Block       time.Duration `yaml:"block" env:"AUTH_BLOCK" env-default:"15m"`
	KeyPrefix   string        `yaml:"key_prefix" env:"AUTH_RATE_PREFIX" env-default:"auth:rate-limit"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"120s"`
}

// AlertConfig points due-date alerts at an external automation endpoint.
// An empty URL disables the dispatch.
type AlertConfig struct {
	WebhookURL   string `yaml:"webhook_url" env:"EXPENSE_ALERT_WEBHOOK_URL"`
	WebhookToken string `yaml:"webhook_token" env:"EXPENSE_ALERT_WEBHOOK_TOKEN"`
}

type ReminderConfig struct {
	Enabled        bool          `yaml:"enabled" env:"REMINDER_ENABLED" env-default:"true"`
	Interval       time.Duration `yaml:"interval" env:"REMINDER_INTERVAL" env-default:"6h"`
	InactivityDays int           `yaml:"inactivity_days" env:"REMINDER_INACTIVITY_DAYS" env-default:"3"`
	BatchSize      int           `yaml:"batch_size" env:"REMINDER_BATCH_SIZE" env-default:"100"`
	MaxConcurrency int           `yaml:"max_concurrency" env:"REMINDER_CONCURRENCY" env-default:"5"`
	LockTTL        time.Duration `yaml:"lock_ttl" env:"REMINDER_LOCK_TTL" env-default:"5m"`
	WebhookURL     string        `yaml:"webhook_url" env:"REMINDER_WEBHOOK_URL"`
	WebhookToken   string        `yaml:"webhook_token" env:"REMINDER_WEBHOOK_TOKEN"`
}

func LoadConfig(path string) *Config {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
