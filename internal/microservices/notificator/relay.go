package notificator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/metrics"
)

const originHeader = "x-origin"

// Broker is the part of the RabbitMQ client the relay needs.
type Broker interface {
	Publish(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, contentType string, persistent bool) error
	DeclareFanout(exchange string) error
	ConsumeExclusive(exchange, consumer string) (<-chan amqp.Delivery, error)
}

// Relay shares events between service instances. Local publishes reach
// the local hub first and then the fanout exchange; deliveries from other
// instances are handed to the local hub. Messages carrying this
// instance's origin are skipped.
type Relay struct {
	hub *Hub

	mu     sync.RWMutex
	broker Broker

	exchange string
	origin   string

	log     *logger.Logger
	metrics *metrics.Registry
}

func NewRelay(hub *Hub, broker Broker, exchange string, log *logger.Logger, m *metrics.Registry) (*Relay, error) {
	if err := broker.DeclareFanout(exchange); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	log.Info(logger.ActionRabbitMQSetupComplete, map[string]any{"exchange": exchange})
	return &Relay{
		hub:      hub,
		broker:   broker,
		exchange: exchange,
		origin:   uuid.NewString(),
		log:      log,
		metrics:  m,
	}, nil
}

func (r *Relay) Origin() string { return r.origin }

// Attach switches the relay to b, typically a fresh connection after the
// previous one dropped. A Run in progress keeps consuming the old broker.
func (r *Relay) Attach(b Broker) error {
	if err := b.DeclareFanout(r.exchange); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	r.mu.Lock()
	r.broker = b
	r.mu.Unlock()
	return nil
}

func (r *Relay) current() Broker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broker
}

func (r *Relay) Publish(ctx context.Context, ev domain.Event) error {
	if err := r.hub.Publish(ctx, ev); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	headers := amqp.Table{originHeader: r.origin, "x-tenant-id": ev.TenantID}
	if err := r.current().Publish(ctx, r.exchange, "", body, headers, "application/json", false); err != nil {
		r.log.Error(logger.ActionRabbitMQPublishFailed, err, map[string]any{
			"exchange": r.exchange, "tenant_id": ev.TenantID, "order_id": ev.Order.ID,
		})
		return fmt.Errorf("relay event: %w", err)
	}
	r.metrics.RelayMessages.WithLabelValues("out").Inc()
	return nil
}

// Run consumes the exchange until ctx ends or the delivery channel closes.
func (r *Relay) Run(ctx context.Context) error {
	msgs, err := r.current().ConsumeExclusive(r.exchange, "relay-"+r.origin)
	if err != nil {
		return err
	}
	r.log.Info(logger.ActionRabbitMQConsumeStarted, map[string]any{"exchange": r.exchange, "origin": r.origin})
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("relay: delivery channel closed")
			}
			r.handleDelivery(ctx, d)
		}
	}
}

func (r *Relay) handleDelivery(ctx context.Context, d amqp.Delivery) {
	if origin, _ := d.Headers[originHeader].(string); origin == r.origin {
		return
	}
	var ev domain.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		r.log.Error(logger.ActionRelayMessageDropped, err, map[string]any{"exchange": r.exchange})
		return
	}
	if err := r.hub.Publish(ctx, ev); err != nil {
		r.log.Error(logger.ActionRelayMessageDropped, err, map[string]any{"tenant_id": ev.TenantID})
		return
	}
	r.metrics.RelayMessages.WithLabelValues("in").Inc()
}
