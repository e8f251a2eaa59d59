package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/photobook-be/internal/doorbell"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// startMessageDispatcher turns doorbell deliveries into wake-ups for the pool.
// When the delivery channel closes it consumes again, so a broker reconnect
// does not silence the doorbell.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer w.wg.Done()

	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped")
			return

		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, polling until it is back")
				deliveries = w.reconsume(ctx)
				if deliveries == nil {
					return
				}
				continue
			}

			if !w.dispatch(ctx, delivery) {
				return
			}
		}
	}
}

// dispatch hands one delivery to the pool. It reports false when the worker
// is shutting down.
func (w *Worker) dispatch(ctx context.Context, delivery amqp.Delivery) bool {
	ring, err := doorbell.Decode(delivery.Body)
	if err == nil {
		_, err = uuid.Parse(ring.JobID)
	}
	if err != nil {
		w.logger.Error("Dropping malformed doorbell message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// NACK without requeue, malformed messages go to the DLQ if any
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK malformed message",
				slog.String("error", nackErr.Error()),
			)
		}
		return true
	}

	msg := wake{
		jobID: ring.JobID,
		ack: func() {
			if ackErr := delivery.Ack(false); ackErr != nil {
				w.logger.Error("Failed to ACK doorbell message",
					slog.String("job_id", ring.JobID),
					slog.String("error", ackErr.Error()),
				)
			}
		},
	}

	select {
	case w.wakeChan <- msg:
		w.logger.Debug("Doorbell dispatched to worker pool",
			slog.String("job_id", ring.JobID),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
		)
		return true
	case <-w.stopChan:
	case <-ctx.Done():
	}

	// requeue so another worker process rings
	if nackErr := delivery.Nack(false, true); nackErr != nil {
		w.logger.Error("Failed to NACK message on shutdown",
			slog.String("error", nackErr.Error()),
		)
	}
	return false
}

func (w *Worker) reconsume(ctx context.Context) <-chan amqp.Delivery {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deliveries, err := w.doorbell.Consume(w.workerID)
			if err != nil {
				w.logger.Debug("Doorbell still unavailable", slog.Any("error", err))
				continue
			}
			return deliveries
		}
	}
}
