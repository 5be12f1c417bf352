// Package mq publishes purchase events to a message broker.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/libroteca/apiserver/config"
	"github.com/libroteca/apiserver/types"
)

const eventPurchaseCompleted = "purchase.completed"

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// MQ publishes domain events on a single channel of a backend.
type MQ struct {
	backend Backend
	channel string
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend, channel string) *MQ {
	return &MQ{backend: backend, channel: channel}
}

// Open connects to the backend named in cfg. It returns nil when no backend
// is configured.
func Open(ctx context.Context, cfg config.EventsConfig) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendRabbitMQ:
		backend, err = NewRabbitMQClient(cfg.RabbitMQ)
	case config.BackendPubSub:
		backend, err = NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.Topic), nil
}

// PublishPurchase sends the receipt of a committed purchase as JSON.
func (m *MQ) PublishPurchase(ctx context.Context, receipt types.Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("encode purchase event: %w", err)
	}
	attrs := map[string]string{
		"event":      eventPurchaseCompleted,
		"receipt_id": receipt.ID,
		"user_id":    strconv.Itoa(receipt.UserID),
	}
	if _, err := m.backend.Publish(ctx, m.channel, data, attrs); err != nil {
		return fmt.Errorf("publish purchase event: %w", err)
	}
	return nil
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
