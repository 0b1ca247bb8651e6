package service

import (
	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/metrics"
)

type Service struct {
	TrackerService TrackerServiceInterface
}

func New(repo Reader, log *logger.Logger, m *metrics.Registry) *Service {
	return &Service{TrackerService: NewTrackerService(repo, log, m)}
}
