package order

import (
	"net/http"
	"time"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/notificator"
	"restaurant-system/internal/microservices/order/handlers"
	"restaurant-system/internal/microservices/order/repository"
	"restaurant-system/internal/microservices/order/service"
)

// Start wires the write side and the subscribe endpoint onto mux.
func Start(mux *http.ServeMux, repo repository.OrderRepositoryInterface, n *notificator.Notificator,
	pingInterval time.Duration, log *logger.Logger, m *metrics.Registry) *service.Service {

	svc := service.New(repo, n.Publisher, log.Named("order"), m)
	handlers.Register(mux, handlers.New(svc, n.Hub, pingInterval, log.Named("subscribe")))
	return svc
}
