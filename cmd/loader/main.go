package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tinkermonkey/conceptnet-compose/internal/config"
	"github.com/tinkermonkey/conceptnet-compose/internal/migrations"
	"github.com/tinkermonkey/conceptnet-compose/internal/queue"
	"github.com/tinkermonkey/conceptnet-compose/internal/runner"
	"github.com/tinkermonkey/conceptnet-compose/internal/storage"
	"github.com/tinkermonkey/conceptnet-compose/pkg/leaselock"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger/console"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store/memory"
	pgxstore "github.com/tinkermonkey/conceptnet-compose/pkg/store/pgx"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Prefix: "loader",
	})
	logger.Init(consoleLogger)

	if cfg.Enqueue {
		if err := enqueue(cfg); err != nil {
			logger.Fatal("Failed to enqueue ingest", "err", err)
		}
		return
	}

	if err := cfg.Validate(true); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	var opts []runner.Option

	s3cfg := storage.S3ConfigFromEnv()
	loc, err := storage.ParseLocation(cfg.InputPath, s3cfg.Bucket)
	if err != nil {
		logger.Fatal("Invalid input path", "err", err)
	}
	if loc.IsS3() {
		client, err := storage.NewS3Client(ctx, s3cfg)
		if err != nil {
			logger.Fatal("Could not create S3 client", "err", err)
		}
		opts = append(opts, runner.WithS3(client, s3cfg.Bucket))
	}

	var st store.Store
	if cfg.DryRun {
		logger.Info("Dry run, writing to an in-memory store")
		st = memory.New()
	} else {
		if cfg.Migrate {
			if err := migrations.Up(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
				logger.Fatal("Failed to migrate database", "err", err)
			}
		}

		pool, err := pgxstore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pool.Close()

		st = pgxstore.NewConceptNetStore(pool)
		opts = append(opts, runner.WithLocker(leaselock.New(pool)))
	}

	report, err := runner.New(cfg, st, opts...).Run(ctx, runner.Job{Input: cfg.InputPath})
	if err != nil {
		logger.Fatal("Ingest failed", "run_id", report.RunID, "err", err)
	}
	logger.Info("Ingest finished",
		"run_id", report.RunID,
		"edges", report.Store.Edges,
		"ranked_features", report.RankedFeatures,
	)
}

// enqueue hands the configured input to the worker instead of loading it
// in this process.
func enqueue(cfg config.Config) error {
	body, err := queue.IngestMessage{
		Input:   cfg.InputPath,
		MaxRows: cfg.MaxRows,
	}.Encode()
	if err != nil {
		return err
	}

	conn, err := queue.Init(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{cfg.RabbitMQ.Queue}); err != nil {
		return err
	}
	if err := queue.PublishFIFO(ch, cfg.RabbitMQ.Queue, body); err != nil {
		return err
	}
	logger.Info("Ingest enqueued", "queue", cfg.RabbitMQ.Queue, "input", cfg.InputPath)
	return nil
}
