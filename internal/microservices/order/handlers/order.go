package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"restaurant-system/internal/common/httpx"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/microservices/order/service"
)

const maxBodyBytes = 1 << 20

type OrderHandler struct {
	service service.OrderServiceInterface
}

func NewOrderHandler(s service.OrderServiceInterface) *OrderHandler {
	return &OrderHandler{service: s}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	return nil
}

func (oh *OrderHandler) AddOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := decode(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	o, err := oh.service.AddOrder(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, o)
}

func (oh *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := oh.service.GetOrder(r.Context(), httpx.TenantID(r.Context()), r.PathValue("order_id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (oh *OrderHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req domain.TransitionRequest
	if err := decode(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	next, err := domain.ParseStatus(string(req.Status))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	o, err := oh.service.Transition(r.Context(), httpx.TenantID(r.Context()), r.PathValue("order_id"), next)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}
