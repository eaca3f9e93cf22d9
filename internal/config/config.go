// Package config gathers loader settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/tinkermonkey/conceptnet-compose/internal/util"
)

const (
	DefaultBatchSize        = 10_000
	DefaultProgressInterval = 2 * time.Second
	DefaultProgressRows     = 100_000
	DefaultMaxLoggedErrors  = 10
	DefaultLockTTL          = 10 * time.Minute
	DefaultQueue            = "ingest_queue"
	DefaultMaxRetries       = 10
)

type Config struct {
	Debug bool

	DatabaseURL    string
	MigrationsPath string
	Migrate        bool

	InputPath string

	BatchSize       int   `validate:"min=1"`
	MaxRows         int64 `validate:"min=0"`
	MaxLoggedErrors int   `validate:"min=0"`
	FlushAttempts   int   `validate:"min=1"`

	ProgressMode      string        `validate:"oneof=time rows"`
	ProgressInterval  time.Duration `validate:"gt=0"`
	ProgressEveryRows int64         `validate:"min=1"`

	CountLines bool
	BuildView  bool
	DryRun     bool

	// Enqueue makes the loader publish INPUT_PATH to the worker queue
	// instead of ingesting it.
	Enqueue bool

	LockKey string        `validate:"required"`
	LockTTL time.Duration `validate:"gt=0"`

	RabbitMQ RabbitMQConfig
}

type RabbitMQConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Queue    string `validate:"required"`

	// MaxRetries is how often a failed message is redelivered through the
	// retry queue before it is dead-lettered.
	MaxRetries int `validate:"min=0"`
}

// Load reads the configuration from the environment, including a .env file
// if one is present.
func Load() Config {
	util.LoadEnv()

	return Config{
		Debug: util.GetEnvBool("DEBUG", false),

		DatabaseURL:    util.GetEnv("DATABASE_URL"),
		MigrationsPath: util.GetEnv("MIGRATIONS_PATH"),
		Migrate:        util.GetEnvBool("MIGRATE", true),

		InputPath: util.GetEnv("INPUT_PATH"),

		BatchSize:       int(util.GetEnvInt64("BATCH_SIZE", DefaultBatchSize)),
		MaxRows:         util.GetEnvInt64("MAX_ROWS", 0),
		MaxLoggedErrors: int(util.GetEnvInt64("MAX_LOGGED_ERRORS", DefaultMaxLoggedErrors)),
		FlushAttempts:   int(util.GetEnvInt64("FLUSH_ATTEMPTS", 3)),

		ProgressMode:      strings.ToLower(util.GetEnvString("PROGRESS_MODE", string(util.ProgressByTime))),
		ProgressInterval:  util.GetEnvDuration("PROGRESS_INTERVAL", DefaultProgressInterval),
		ProgressEveryRows: util.GetEnvInt64("PROGRESS_EVERY_ROWS", DefaultProgressRows),

		CountLines: util.GetEnvBool("COUNT_LINES", true),
		BuildView:  util.GetEnvBool("BUILD_VIEW", true),
		DryRun:     util.GetEnvBool("DRY_RUN", false),
		Enqueue:    util.GetEnvBool("ENQUEUE", false),

		LockKey: util.GetEnvString("LOCK_KEY", "ingest"),
		LockTTL: util.GetEnvDuration("LOCK_TTL", DefaultLockTTL),

		RabbitMQ: RabbitMQConfig{
			User:       util.GetEnv("RABBITMQ_USER"),
			Password:   util.GetEnv("RABBITMQ_PASSWORD"),
			Host:       util.GetEnvString("RABBITMQ_HOST", "localhost"),
			Port:       util.GetEnvString("RABBITMQ_PORT", "5672"),
			Queue:      util.GetEnvString("RABBITMQ_QUEUE", DefaultQueue),
			MaxRetries: int(util.GetEnvInt64("RABBITMQ_MAX_RETRIES", DefaultMaxRetries)),
		},
	}
}

var validate = validator.New()

// Validate checks field ranges and the settings a mode depends on.
// requireInput is set by the one-shot loader, which reads INPUT_PATH.
func (c Config) Validate(requireInput bool) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if requireInput && c.InputPath == "" {
		return errors.New("invalid configuration: INPUT_PATH is required")
	}
	if !c.DryRun && c.DatabaseURL == "" {
		return errors.New("invalid configuration: DATABASE_URL is required unless DRY_RUN=true")
	}
	return nil
}

// ProgressOptions maps the progress settings onto the reporter's options.
func (c Config) ProgressOptions() util.ProgressOptions {
	return util.ProgressOptions{
		Mode:      util.ProgressMode(c.ProgressMode),
		Interval:  c.ProgressInterval,
		EveryRows: c.ProgressEveryRows,
	}
}
