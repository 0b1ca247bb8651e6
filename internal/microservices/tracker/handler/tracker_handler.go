package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"restaurant-system/internal/common/httpx"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/microservices/tracker/service"
)

type TrackerHandler struct {
	service service.TrackerServiceInterface
}

func NewTrackerHandler(svc service.TrackerServiceInterface) *TrackerHandler {
	return &TrackerHandler{service: svc}
}

const defaultPageSize = 10

// ListOrders serves GET /api/v1/orders?status=&page=&page_size=&after=.
func (h *TrackerHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	page, err := h.service.ListOrders(r.Context(), q)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func parseQuery(r *http.Request) (domain.Query, error) {
	v := r.URL.Query()
	q := domain.Query{TenantID: httpx.TenantID(r.Context())}

	raw := v.Get("status")
	if raw == "" {
		raw = string(domain.StatusPlaced)
	}
	status, err := domain.ParseStatus(raw)
	if err != nil {
		return q, err
	}
	q.Status = status

	if q.Page, err = intParam(v.Get("page"), 1, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = intParam(v.Get("page_size"), defaultPageSize, "page_size"); err != nil {
		return q, err
	}
	if after := v.Get("after"); after != "" {
		if q.After, err = domain.DecodeCursor(after); err != nil {
			return q, err
		}
	}
	return q, q.Validate()
}

func intParam(s string, d int, name string) (int, error) {
	if s == "" {
		return d, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, name)
	}
	return n, nil
}

func (h *TrackerHandler) GetCounts(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.GetCounts(r.Context(), httpx.TenantID(r.Context()))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"counts": snap, "active": snap.Active()})
}

func (h *TrackerHandler) RecomputeCounts(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RecomputeCounts(r.Context(), httpx.TenantID(r.Context()))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *TrackerHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("order_id")
	limit := httpx.AtoiDefault(r.URL.Query().Get("limit"), 50)
	offset := httpx.AtoiDefault(r.URL.Query().Get("offset"), 0)
	events, err := h.service.GetOrderTimeline(r.Context(), httpx.TenantID(r.Context()), id, limit, offset)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": id, "events": events})
}
