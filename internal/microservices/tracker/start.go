package tracker

import (
	"net/http"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/tracker/handler"
	"restaurant-system/internal/microservices/tracker/service"
)

// Start registers the read-side routes on mux and returns the service
// behind them.
func Start(mux *http.ServeMux, repo service.Reader, log *logger.Logger, m *metrics.Registry) *service.Service {
	svc := service.New(repo, log.Named("tracker"), m)
	handler.Register(mux, handler.New(svc.TrackerService))
	return svc
}
