package notificator

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/config"
	"restaurant-system/internal/connections/rabbitmq"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/order/service"
)

// Conn is a broker connection that reports when it goes away.
type Conn interface {
	Broker
	NotifyClose() <-chan *amqp.Error
	Close()
}

type Notificator struct {
	Hub *Hub
	// Publisher is what the order service publishes through: the relay
	// when RabbitMQ is enabled, the hub otherwise.
	Publisher service.Publisher

	relay *Relay
	dial  func() (Conn, error)
	log   *logger.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu   sync.Mutex
	conn Conn
}

func Start(cfg config.Config, log *logger.Logger, m *metrics.Registry) (*Notificator, error) {
	hub := NewHub(cfg.Broadcast.SubscriberBuffer, log.Named("notificator"), m)
	if !cfg.RabbitMQ.Enabled {
		return &Notificator{Hub: hub, Publisher: hub}, nil
	}

	dial := func() (Conn, error) {
		c, err := rabbitmq.Dial(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	n, err := startRelay(hub, dial, cfg.RabbitMQ.Exchange, log, m)
	if err != nil {
		log.Error(logger.ActionRabbitMQConnectFailed, err, map[string]any{"host": cfg.RabbitMQ.Host})
		return nil, err
	}
	log.Info(logger.ActionRabbitMQConnected, map[string]any{"host": cfg.RabbitMQ.Host})
	return n, nil
}

func startRelay(hub *Hub, dial func() (Conn, error), exchange string, log *logger.Logger, m *metrics.Registry) (*Notificator, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	relay, err := NewRelay(hub, conn, exchange, log.Named("relay"), m)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Notificator{
		Hub:        hub,
		Publisher:  relay,
		relay:      relay,
		dial:       dial,
		log:        log,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		conn:       conn,
	}, nil
}

// Run consumes relayed events until ctx ends. When the broker connection
// drops, every local subscriber is told to resync and the connection is
// redialled with doubling backoff. Without RabbitMQ it only waits.
func (n *Notificator) Run(ctx context.Context) error {
	if n.relay == nil {
		<-ctx.Done()
		return nil
	}
	for {
		err := n.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		n.log.Warn(logger.ActionRabbitMQConnectionLost, err, nil)
		// events from other instances are lost from here on
		n.Hub.DisconnectAll(ErrRelayLost)
		if err := n.reconnect(ctx); err != nil {
			return nil
		}
	}
}

// serve consumes through the current connection until it closes.
func (n *Notificator) serve(ctx context.Context) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	lost := conn.NotifyClose()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.relay.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case amqpErr := <-lost:
		cancel()
		<-done
		if amqpErr == nil {
			return errors.New("broker connection closed")
		}
		return amqpErr
	}
}

func (n *Notificator) reconnect(ctx context.Context) error {
	backoff := n.minBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		conn, err := n.dial()
		if err == nil {
			if err = n.relay.Attach(conn); err == nil {
				n.mu.Lock()
				old := n.conn
				n.conn = conn
				n.mu.Unlock()
				// dashboards that resynced during the outage missed
				// whatever other instances committed meanwhile
				n.Hub.DisconnectAll(ErrRelayLost)
				old.Close()
				n.log.Info(logger.ActionRabbitMQConnected, map[string]any{"backoff": backoff.String()})
				return nil
			}
			conn.Close()
		}
		n.log.Warn(logger.ActionRabbitMQConnectFailed, err, map[string]any{"backoff": backoff.String()})
		backoff = min(backoff*2, n.maxBackoff)
	}
}

func (n *Notificator) Close() {
	n.Hub.Close()
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
	}
}
