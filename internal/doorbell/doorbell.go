// Package doorbell wakes workers when a job is enqueued. A ring carries only
// the job id; the job table stays authoritative, and workers that miss a ring
// still find the job on their next poll.
package doorbell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuongbtq/photobook-be/shared/rabbitmq"
)

const contentType = "application/json"

// ErrMalformed is returned by Decode for bodies that are not rings.
var ErrMalformed = errors.New("malformed doorbell message")

// Ring is the body of a doorbell message.
type Ring struct {
	JobID    string `json:"job_id"`
	Priority int    `json:"priority"`
}

// Ringer announces newly enqueued jobs.
type Ringer interface {
	Ring(ctx context.Context, r Ring) error
}

// Decode parses a delivery body.
func Decode(body []byte) (Ring, error) {
	var r Ring
	if err := json.Unmarshal(body, &r); err != nil {
		return Ring{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.JobID == "" {
		return Ring{}, fmt.Errorf("%w: missing job_id", ErrMalformed)
	}
	return r, nil
}

// MessagePriority maps a job priority onto the broker range [0, limit].
func MessagePriority(priority int, limit uint8) uint8 {
	switch {
	case priority <= 0 || limit == 0:
		return 0
	case priority >= int(limit):
		return limit
	default:
		return uint8(priority)
	}
}

type publisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// RabbitRinger publishes rings to the worker queue.
type RabbitRinger struct {
	client      publisher
	maxPriority uint8
}

func NewRabbitRinger(client publisher, maxPriority uint8) *RabbitRinger {
	return &RabbitRinger{client: client, maxPriority: maxPriority}
}

func (r *RabbitRinger) Ring(ctx context.Context, ring Ring) error {
	body, err := json.Marshal(ring)
	if err != nil {
		return fmt.Errorf("failed to marshal doorbell: %w", err)
	}

	return r.client.PublishWithRetry(ctx, rabbitmq.Message{
		Body:        body,
		ContentType: contentType,
		MessageID:   ring.JobID,
		Priority:    MessagePriority(ring.Priority, r.maxPriority),
	})
}
