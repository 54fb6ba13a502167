package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env           string
	Port          string
	DatabaseURL   string
	MigrationsDir string
	Timezone      string

	Redis   RedisConfig
	Session SessionConfig
	Log     LogConfig
	Refresh RefreshConfig
	Notify  NotifyConfig
	Limits  RateLimitConfig
	Tracing TracingConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	StatsTTL time.Duration
}

// SessionConfig drives token signing and the login redirect.
type SessionConfig struct {
	JWTSecret string
	TTL       time.Duration
	LoginURL  string
}

type LogConfig struct {
	Level  string
	Format string
}

type RefreshConfig struct {
	Interval time.Duration
}

type NotifyConfig struct {
	Interval   time.Duration
	Provider   string
	WebhookURL string
	BatchSize  int
}

type RateLimitConfig struct {
	PerMinute     int
	Burst         int
	UserPerMinute int
	UserBurst     int
}

type TracingConfig struct {
	Endpoint string
	Insecure bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Env:           v.GetString("ENV"),
		Port:          v.GetString("PORT"),
		DatabaseURL:   v.GetString("DB_DSN"),
		MigrationsDir: v.GetString("MIGRATIONS_DIR"),
		Timezone:      v.GetString("TIMEZONE"),
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			StatsTTL: seconds(v.GetInt("STATS_CACHE_TTL_SECONDS")),
		},
		Session: SessionConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
			TTL:       time.Duration(positive(v.GetInt("SESSION_TTL_HOURS"), 8)) * time.Hour,
			LoginURL:  v.GetString("LOGIN_URL"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Refresh: RefreshConfig{
			Interval: seconds(positive(v.GetInt("REFRESH_INTERVAL_SECONDS"), 3)),
		},
		Notify: NotifyConfig{
			Interval:   seconds(positive(v.GetInt("NOTIFY_INTERVAL_SECONDS"), 5)),
			Provider:   strings.ToLower(strings.TrimSpace(v.GetString("NOTIFY_PROVIDER"))),
			WebhookURL: v.GetString("NOTIFY_WEBHOOK_URL"),
			BatchSize:  positive(v.GetInt("NOTIFY_BATCH_SIZE"), 50),
		},
		Limits: RateLimitConfig{
			PerMinute:     v.GetInt("RATE_LIMIT_PER_MIN"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			UserPerMinute: v.GetInt("USER_RATE_LIMIT_PER_MIN"),
			UserBurst:     v.GetInt("USER_RATE_LIMIT_BURST"),
		},
		Tracing: TracingConfig{
			Endpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		},
	}

	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location resolves TIMEZONE; the service day of every ticket is computed in it.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("TIMEZONE", "Local")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STATS_CACHE_TTL_SECONDS", 10)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("SESSION_TTL_HOURS", 8)
	v.SetDefault("LOGIN_URL", "/staff-login")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REFRESH_INTERVAL_SECONDS", 3)
	v.SetDefault("NOTIFY_INTERVAL_SECONDS", 5)
	v.SetDefault("NOTIFY_PROVIDER", "log")
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("NOTIFY_BATCH_SIZE", 50)

	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("RATE_LIMIT_BURST", 30)
	v.SetDefault("USER_RATE_LIMIT_PER_MIN", 600)
	v.SetDefault("USER_RATE_LIMIT_BURST", 120)

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func positive(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

// viper reports a missing explicit config file as a plain fs error.
func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}
