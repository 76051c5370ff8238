package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// Environment ("dev" or "prod")
	AppEnv string

	// Storage
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP (optional, notifications are delivered directly when unset)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Redis tick lock (optional)
	RedisURL    string
	TickLockTTL time.Duration

	// Telegram delivery
	TelegramToken  string
	TelegramAPIURL string

	// Rollup pipeline
	RollupSchedule    string
	RollupWorkers     int
	RollupYearlyMode  string
	DailyCutoffHour   int
	DailyCutoffMinute int
	ReminderHour      int
	ReminderMinute    int
	RemindersEnabled  bool
	StorageRetries    int

	// Delivery retries
	DeliveryMaxAttempts int
	DeliveryMaxWait     time.Duration
	NotifyBudget        time.Duration

	// Ops HTTP
	MetricsPort string
}

var validBackends = []string{"sqlite", "postgres"}

// YearlyModes are the accepted ROLLUP_YEARLY_MODE values, sorted. They must
// match the strategies registered in services.
var YearlyModes = []string{"catchup", "strict"}

func Load() *Config {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "dev"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/kassa.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "kassa"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "notifications"),

		RedisURL:    getEnv("REDIS_URL", ""),
		TickLockTTL: getEnvDuration("TICK_LOCK_TTL", 55*time.Minute),

		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramAPIURL: getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),

		RollupSchedule:    getEnv("ROLLUP_SCHEDULE", "0 * * * *"),
		RollupWorkers:     getEnvInt("ROLLUP_WORKERS", 8),
		RollupYearlyMode:  getEnv("ROLLUP_YEARLY_MODE", "strict"),
		DailyCutoffHour:   getEnvInt("DAILY_CUTOFF_HOUR", 0),
		DailyCutoffMinute: getEnvInt("DAILY_CUTOFF_MINUTE", 0),
		ReminderHour:      getEnvInt("REMINDER_HOUR", 21),
		ReminderMinute:    getEnvInt("REMINDER_MINUTE", 0),
		RemindersEnabled:  getEnvBool("REMINDERS_ENABLED", true),
		StorageRetries:    getEnvInt("STORAGE_RETRIES", 3),

		DeliveryMaxAttempts: getEnvInt("DELIVERY_MAX_ATTEMPTS", 5),
		DeliveryMaxWait:     getEnvDuration("DELIVERY_MAX_WAIT", 2*time.Minute),
		NotifyBudget:        getEnvDuration("NOTIFY_BUDGET", 20*time.Minute),

		MetricsPort: getEnv("METRICS_PORT", "9090"),
	}

	return cfg
}

// IsProduction reports whether logs and defaults should be tuned for prod.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.DataBackend == "postgres" {
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RedisURL != "" {
		if u, err := url.Parse(c.RedisURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid REDIS_URL: %v", err))
		} else if u.Scheme != "redis" && u.Scheme != "rediss" {
			errors = append(errors, fmt.Sprintf("invalid REDIS_URL scheme '%s': must be 'redis' or 'rediss'", u.Scheme))
		}
		if c.TickLockTTL < time.Minute {
			errors = append(errors, fmt.Sprintf("invalid tick lock TTL %v: must be at least 1 minute", c.TickLockTTL))
		}
	}

	if _, err := cron.ParseStandard(c.RollupSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rollup schedule '%s': %v", c.RollupSchedule, err))
	}

	if c.RollupWorkers < 1 {
		errors = append(errors, fmt.Sprintf("invalid rollup workers %d: must be at least 1", c.RollupWorkers))
	} else if c.RollupWorkers > 256 {
		errors = append(errors, fmt.Sprintf("invalid rollup workers %d: must be at most 256", c.RollupWorkers))
	}

	if !slices.Contains(YearlyModes, c.RollupYearlyMode) {
		errors = append(errors, fmt.Sprintf("invalid yearly mode '%s': must be one of %v", c.RollupYearlyMode, YearlyModes))
	}

	errors = append(errors, validateClock("daily cutoff", c.DailyCutoffHour, c.DailyCutoffMinute)...)
	errors = append(errors, validateClock("reminder", c.ReminderHour, c.ReminderMinute)...)

	if c.StorageRetries < 0 || c.StorageRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid storage retries %d: must be between 0 and 10", c.StorageRetries))
	}

	if c.DeliveryMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid delivery max attempts %d: must be at least 1", c.DeliveryMaxAttempts))
	}
	if c.DeliveryMaxWait < time.Second {
		errors = append(errors, fmt.Sprintf("invalid delivery max wait %v: must be at least 1 second", c.DeliveryMaxWait))
	}
	if c.NotifyBudget < 0 {
		errors = append(errors, fmt.Sprintf("invalid notify budget %v: must not be negative", c.NotifyBudget))
	}

	if port, err := strconv.Atoi(c.MetricsPort); err != nil {
		errors = append(errors, fmt.Sprintf("invalid metrics port '%s': must be a number", c.MetricsPort))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid metrics port %d: must be between 1 and 65535", port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func validateClock(name string, hour, minute int) []string {
	var errors []string
	if hour < 0 || hour > 23 {
		errors = append(errors, fmt.Sprintf("invalid %s hour %d: must be between 0 and 23", name, hour))
	}
	if minute < 0 || minute > 59 {
		errors = append(errors, fmt.Sprintf("invalid %s minute %d: must be between 0 and 59", name, minute))
	}
	return errors
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
