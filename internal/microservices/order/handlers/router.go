package handlers

import "net/http"

func Register(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("POST /api/v1/orders", h.OrderHandler.AddOrder)
	mux.HandleFunc("GET /api/v1/orders/subscribe", h.SubscribeHandler.Subscribe)
	mux.HandleFunc("GET /api/v1/orders/{order_id}", h.OrderHandler.GetOrder)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/transition", h.OrderHandler.Transition)
}
