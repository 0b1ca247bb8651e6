package handlers

import (
	"time"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/microservices/notificator"
	"restaurant-system/internal/microservices/order/service"
)

type Handler struct {
	OrderHandler     *OrderHandler
	SubscribeHandler *SubscribeHandler
}

func New(s *service.Service, hub *notificator.Hub, pingInterval time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		OrderHandler:     NewOrderHandler(s.OrderService),
		SubscribeHandler: NewSubscribeHandler(hub, pingInterval, log),
	}
}
