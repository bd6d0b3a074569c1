// Package transport ships operations to the remote sync backend.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/shared/rabbitmq"
)

// envelope is the wire format published to the broker.
type envelope struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RabbitSyncer executes operations by publishing them to RabbitMQ.
// The operation type doubles as the routing key so consumers can bind
// per operation kind.
type RabbitSyncer struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewRabbitSyncer wraps an already connected client.
func NewRabbitSyncer(client *rabbitmq.Client, logger *slog.Logger) *RabbitSyncer {
	return &RabbitSyncer{client: client, logger: logger}
}

// Execute publishes one operation and waits for the broker confirm.
// Failures come back classified so the retry policy can apply
// per-class ceilings.
func (s *RabbitSyncer) Execute(ctx context.Context, op *domain.Operation) error {
	body, err := json.Marshal(envelope{
		ID:       op.ID,
		Type:     op.Type,
		Payload:  op.Payload,
		Metadata: op.Metadata,
	})
	if err != nil {
		// Not transport related and never worth retrying endlessly.
		return domain.NewClassifiedError(domain.ClassConflict, fmt.Errorf("failed to encode operation: %w", err))
	}

	if err := s.client.Publish(ctx, op.Type, body, "application/json"); err != nil {
		return classifyPublishError(err)
	}
	return nil
}

// Connected reports whether the underlying broker connection is up.
func (s *RabbitSyncer) Connected() bool {
	return s.client.IsConnected()
}

// WatchConnectivity polls connected on the given interval and reports
// state changes through setOnline, so the dispatch gate follows the
// transport it publishes on. It returns when the context is cancelled.
func WatchConnectivity(ctx context.Context, interval time.Duration, connected func() bool, setOnline func(bool), logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := connected()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := connected()
			if now == last {
				continue
			}
			last = now
			logger.Info("Broker connectivity changed",
				slog.Bool("connected", now),
			)
			setOnline(now)
		}
	}
}

func classifyPublishError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewClassifiedError(domain.ClassTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var netErr net.Error
	if errors.Is(err, amqp.ErrClosed) || errors.As(err, &netErr) {
		return domain.NewClassifiedError(domain.ClassNetwork, err)
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		if amqpErr.Code >= 500 || !amqpErr.Recover {
			return domain.NewClassifiedError(domain.ClassServer, err)
		}
		return domain.NewClassifiedError(domain.ClassNetwork, err)
	}

	return err
}
