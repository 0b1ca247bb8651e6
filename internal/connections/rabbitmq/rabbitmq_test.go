package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"restaurant-system/internal/config"
)

func TestURL(t *testing.T) {
	cfg := config.RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "p@ss"}
	assert.Equal(t, "amqp://guest:p%40ss@mq:5672/%2F", URL(cfg))

	cfg.VHost = "orders"
	cfg.UseTLS = true
	assert.Equal(t, "amqps://guest:p%40ss@mq:5672/orders", URL(cfg))
}
