package queue

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"github.com/tinkermonkey/conceptnet-compose/internal/runner"
	"github.com/tinkermonkey/conceptnet-compose/pkg/ingest"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

const retriesHeader = "x-retries"

// JobRunner executes an ingestion job. *runner.Runner implements it.
type JobRunner interface {
	Run(ctx context.Context, job runner.Job) (ingest.Report, error)
}

// ErrPermanent marks failures that a retry cannot fix.
var ErrPermanent = errors.New("permanent failure")

// ProcessIngestMessage decodes body and runs the requested job.
func ProcessIngestMessage(ctx context.Context, r JobRunner, body []byte) error {
	msg, err := ParseIngestMessage(body)
	if err != nil {
		return errors.Join(ErrPermanent, err)
	}

	logger.Info("[Queue] Starting ingest", "input", msg.Input, "max_rows", msg.MaxRows)
	report, err := r.Run(ctx, msg.Job())
	if err != nil {
		if errors.Is(err, store.ErrRegistryConflict) {
			return errors.Join(ErrPermanent, err)
		}
		return err
	}
	logger.Info("[Queue] Ingest finished",
		"run_id", report.RunID,
		"edges_written", report.Ingest.Written.Edges,
		"malformed", report.Ingest.Malformed,
	)
	return nil
}

// Retries reads the retry counter a message carries.
func Retries(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// HandleProcessingError routes a failed delivery. Permanent failures and
// messages that used up maxRetries go to the dead-letter queue, everything
// else is republished to the retry queue with its counter incremented. The
// original delivery is acked once the copy is published, or requeued if
// publishing fails.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string, maxRetries int, cause error) {
	retries := Retries(msg.Headers)

	if retries >= maxRetries || errors.Is(cause, ErrPermanent) {
		dlqName := queueName + dlqSuffix
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType:  msg.ContentType,
				Body:         msg.Body,
				Headers:      msg.Headers,
				DeliveryMode: amqp091.Persistent,
			},
		)
		settle(msg, dlqName, pubErr)
		return
	}

	retryName := queueName + retrySuffix
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	settle(msg, retryName, pubErr)
}

func settle(msg amqp091.Delivery, target string, pubErr error) {
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish message", "queue", target, "err", pubErr)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
