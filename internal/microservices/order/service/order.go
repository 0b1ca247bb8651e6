package service

import (
	"context"
	"errors"
	"fmt"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/order/repository"
)

// Publisher delivers committed order events to the tenant's subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

type OrderServiceInterface interface {
	AddOrder(ctx context.Context, tenantID string, req domain.CreateOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, tenantID, orderID string) (domain.Order, error)
	Transition(ctx context.Context, tenantID, orderID string, next domain.Status) (domain.Order, error)
}

type OrderService struct {
	db      repository.OrderRepositoryInterface
	pub     Publisher
	log     *logger.Logger
	metrics *metrics.Registry
}

func NewOrderService(db repository.OrderRepositoryInterface, pub Publisher, log *logger.Logger, m *metrics.Registry) *OrderService {
	return &OrderService{db: db, pub: pub, log: log, metrics: m}
}

// maxAttempts bounds the compare-and-set loop: the first try plus one
// retry against a fresh read.
const maxAttempts = 2

func (s *OrderService) AddOrder(ctx context.Context, tenantID string, req domain.CreateOrderRequest) (domain.Order, error) {
	n := req.ToNewOrder(tenantID)
	if err := n.Validate(); err != nil {
		s.log.Debug(logger.ActionValidationFailed, logger.Fields(ctx, map[string]any{
			"tenant_id": tenantID, "reason": err.Error(),
		}))
		return domain.Order{}, err
	}

	o, err := s.db.Create(ctx, n)
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to save order: %w", err)
	}
	s.metrics.OrdersCreated.Inc()
	s.log.Info(logger.ActionOrderCreated, logger.Fields(ctx, map[string]any{
		"tenant_id":    tenantID,
		"order_id":     o.ID,
		"order_type":   o.Type,
		"total_amount": o.TotalAmount.String(),
	}))

	s.publish(ctx, domain.NewCreatedEvent(o))
	return o, nil
}

func (s *OrderService) GetOrder(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	return s.db.Get(ctx, tenantID, orderID)
}

// Transition validates next against the stored status and commits it with
// a compare-and-set. A lost race is retried once from a fresh read.
// Terminal orders always fail with domain.ErrInvalidTransition.
func (s *OrderService) Transition(ctx context.Context, tenantID, orderID string, next domain.Status) (domain.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cur, err := s.db.Get(ctx, tenantID, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := domain.CheckTransition(cur, next); err != nil {
			s.reject(ctx, cur, next, err)
			return domain.Order{}, err
		}

		updated, err := s.db.ApplyTransition(ctx, tenantID, orderID, cur.Status, next)
		switch {
		case err == nil:
			s.metrics.Transitions.WithLabelValues(string(next)).Inc()
			s.log.Info(logger.ActionTransitionApplied, logger.Fields(ctx, map[string]any{
				"tenant_id": tenantID,
				"order_id":  orderID,
				"from":      cur.Status,
				"to":        next,
				"version":   updated.Version,
				"attempt":   attempt,
			}))
			s.publish(ctx, domain.NewStatusChangedEvent(updated, cur.Status))
			return updated, nil
		case errors.Is(err, domain.ErrConflict):
			s.metrics.TransitionConflicts.Inc()
			lastErr = err
			if attempt < maxAttempts {
				s.log.Debug(logger.ActionTransitionRetried, logger.Fields(ctx, map[string]any{
					"tenant_id": tenantID, "order_id": orderID, "expected": cur.Status, "to": next,
				}))
			}
		case errors.Is(err, domain.ErrInvalidTransition):
			s.reject(ctx, cur, next, err)
			return domain.Order{}, err
		default:
			return domain.Order{}, err
		}
	}
	s.log.Info(logger.ActionTransitionConflict, logger.Fields(ctx, map[string]any{
		"tenant_id": tenantID, "order_id": orderID, "to": next,
	}))
	return domain.Order{}, lastErr
}

func (s *OrderService) reject(ctx context.Context, cur domain.Order, next domain.Status, err error) {
	reason := "invalid_transition"
	if errors.Is(err, domain.ErrValidation) {
		reason = "unknown_status"
	} else if cur.Status.Terminal() {
		reason = "terminal"
	}
	s.metrics.TransitionsRejected.WithLabelValues(reason).Inc()
	s.log.Debug(logger.ActionTransitionRejected, logger.Fields(ctx, map[string]any{
		"tenant_id": cur.TenantID, "order_id": cur.ID, "from": cur.Status, "to": next, "reason": reason,
	}))
}

// publish runs after the commit, so a failure is logged and counted but
// never turned into an error for a change that already happened.
func (s *OrderService) publish(ctx context.Context, ev domain.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.metrics.PublishFailures.Inc()
		s.log.Error(logger.ActionEventPublishFailed, err, logger.Fields(ctx, map[string]any{
			"tenant_id": ev.TenantID, "order_id": ev.Order.ID, "kind": ev.Kind,
		}))
		return
	}
	s.metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
}
