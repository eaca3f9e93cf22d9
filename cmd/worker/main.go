package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinkermonkey/conceptnet-compose/internal/config"
	"github.com/tinkermonkey/conceptnet-compose/internal/migrations"
	"github.com/tinkermonkey/conceptnet-compose/internal/queue"
	"github.com/tinkermonkey/conceptnet-compose/internal/runner"
	"github.com/tinkermonkey/conceptnet-compose/internal/storage"
	"github.com/tinkermonkey/conceptnet-compose/internal/util"
	"github.com/tinkermonkey/conceptnet-compose/pkg/leaselock"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger/console"
	pgxstore "github.com/tinkermonkey/conceptnet-compose/pkg/store/pgx"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	cfg.DryRun = false
	if err := cfg.Validate(false); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	// Init s3 client
	s3cfg := storage.S3ConfigFromEnv()
	client, err := storage.NewS3Client(ctx, s3cfg)
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}

	if cfg.Migrate {
		if err := migrations.Up(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	// Init pgx client
	pool, err := pgxstore.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pool.Close()

	jobs := runner.New(cfg, pgxstore.NewConceptNetStore(pool),
		runner.WithLocker(leaselock.New(pool)),
		runner.WithS3(client, s3cfg.Bucket),
	)

	// Init rabbitmq
	conn, err := queue.Init(cfg.RabbitMQ)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queueName := cfg.RabbitMQ.Queue
	if err := queue.SetupQueues(ch, []string{queueName}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// A full ingest takes hours, so only one message is in flight at a time.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := ch.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queueName, "err", err)
	}

	logger.Info("Listening for messages", "queue", queueName)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queueName)
				return
			}

			startTime := time.Now()
			logger.Info("Received message", "queue", queueName)

			if err := queue.ProcessIngestMessage(ctx, jobs, msg.Body); err != nil {
				logger.Error("Error processing message", "queue", queueName, "err", err)
				queue.HandleProcessingError(ch, msg, queueName, cfg.RabbitMQ.MaxRetries, err)
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", queueName)
			}

			logger.Info("Processing time", "duration", util.FormatDuration(time.Since(startTime)))
			logger.Info("Waiting for next message")
		}
	}
}
