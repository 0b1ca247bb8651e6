package handler

import "net/http"

// Register adds the read-side routes to mux. Tenant resolution happens in
// the middleware wrapping mux.
func Register(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /api/v1/orders", h.TrackerHandler.ListOrders)
	mux.HandleFunc("GET /api/v1/orders/counts", h.TrackerHandler.GetCounts)
	mux.HandleFunc("POST /api/v1/orders/counts/recompute", h.TrackerHandler.RecomputeCounts)
	mux.HandleFunc("GET /api/v1/orders/{order_id}/timeline", h.TrackerHandler.GetTimeline)
}
