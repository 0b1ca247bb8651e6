package service

import (
	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/order/repository"
)

type Service struct {
	OrderService OrderServiceInterface
}

func New(db repository.OrderRepositoryInterface, pub Publisher, log *logger.Logger, m *metrics.Registry) *Service {
	return &Service{
		OrderService: NewOrderService(db, pub, log, m),
	}
}
