package service

import (
	"context"
	"time"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/counts"
)

// Reader is the read side of the order store.
type Reader interface {
	QueryByStatus(ctx context.Context, q domain.Query) (domain.Page, error)
	Counts(ctx context.Context, tenantID string) (domain.CountSnapshot, error)
	Recount(ctx context.Context, tenantID string) (domain.CountSnapshot, error)
	History(ctx context.Context, tenantID, orderID string) ([]domain.StatusChange, error)
	counts.Scanner
}

type TrackerServiceInterface interface {
	ListOrders(ctx context.Context, q domain.Query) (domain.Page, error)
	GetCounts(ctx context.Context, tenantID string) (domain.CountSnapshot, error)
	RecomputeCounts(ctx context.Context, tenantID string) (Recomputed, error)
	VerifyCounts(ctx context.Context, tenantID string) (Recomputed, error)
	GetOrderTimeline(ctx context.Context, tenantID, orderID string, limit, offset int) ([]domain.StatusChange, error)
}

// Recomputed compares the cached counts with a full scan.
type Recomputed struct {
	Cached     domain.CountSnapshot `json:"cached"`
	Recomputed domain.CountSnapshot `json:"recomputed"`
	Drifted    bool                 `json:"drifted"`
}

type TrackerService struct {
	repo    Reader
	log     *logger.Logger
	metrics *metrics.Registry
}

func NewTrackerService(repo Reader, log *logger.Logger, m *metrics.Registry) *TrackerService {
	return &TrackerService{repo: repo, log: log, metrics: m}
}

func (s *TrackerService) observe(op string, start time.Time) {
	s.metrics.QueryLatencySec.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *TrackerService) ListOrders(ctx context.Context, q domain.Query) (domain.Page, error) {
	defer s.observe("list_orders", time.Now())
	return s.repo.QueryByStatus(ctx, q)
}

func (s *TrackerService) GetCounts(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	defer s.observe("counts", time.Now())
	return s.repo.Counts(ctx, tenantID)
}

// VerifyCounts recomputes from a scan without touching the cache.
func (s *TrackerService) VerifyCounts(ctx context.Context, tenantID string) (Recomputed, error) {
	cached, err := s.repo.Counts(ctx, tenantID)
	if err != nil {
		return Recomputed{}, err
	}
	fresh, err := counts.Recompute(ctx, s.repo, tenantID)
	if err != nil {
		return Recomputed{}, err
	}
	return Recomputed{Cached: cached, Recomputed: fresh, Drifted: !cached.Equal(fresh)}, nil
}

// RecomputeCounts rebuilds the cached counts and reports whether they had
// drifted.
func (s *TrackerService) RecomputeCounts(ctx context.Context, tenantID string) (Recomputed, error) {
	defer s.observe("recompute", time.Now())
	cached, err := s.repo.Counts(ctx, tenantID)
	if err != nil {
		return Recomputed{}, err
	}
	fresh, err := s.repo.Recount(ctx, tenantID)
	if err != nil {
		return Recomputed{}, err
	}
	res := Recomputed{Cached: cached, Recomputed: fresh, Drifted: !cached.Equal(fresh)}
	if res.Drifted {
		s.metrics.CountsDrift.Inc()
		s.log.Info(logger.ActionCountsDriftDetected, logger.Fields(ctx, map[string]any{
			"tenant_id": tenantID, "cached": cached, "recomputed": fresh,
		}))
	}
	s.log.Info(logger.ActionCountsRecomputed, logger.Fields(ctx, map[string]any{
		"tenant_id": tenantID, "total": fresh.Total(),
	}))
	return res, nil
}

func (s *TrackerService) GetOrderTimeline(ctx context.Context, tenantID, orderID string, limit, offset int) ([]domain.StatusChange, error) {
	defer s.observe("timeline", time.Now())
	h, err := s.repo.History(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(h) {
		return []domain.StatusChange{}, nil
	}
	h = h[offset:]
	if limit > 0 && limit < len(h) {
		h = h[:limit]
	}
	return h, nil
}
