// Package repository holds the canonical order records. Every backend
// commits an order's status, its tenant's counts and its timeline row
// together, and guards transitions with a compare-and-set on status.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"restaurant-system/internal/domain"
)

type OrderRepositoryInterface interface {
	Create(ctx context.Context, n domain.NewOrder) (domain.Order, error)
	Get(ctx context.Context, tenantID, orderID string) (domain.Order, error)
	// ApplyTransition moves the order to next only if its stored status
	// still equals expected, otherwise it fails with domain.ErrConflict.
	ApplyTransition(ctx context.Context, tenantID, orderID string, expected, next domain.Status) (domain.Order, error)
	QueryByStatus(ctx context.Context, q domain.Query) (domain.Page, error)
	Counts(ctx context.Context, tenantID string) (domain.CountSnapshot, error)
	// Recount rebuilds the cached counts from a full scan.
	Recount(ctx context.Context, tenantID string) (domain.CountSnapshot, error)
	History(ctx context.Context, tenantID, orderID string) ([]domain.StatusChange, error)
	Scan(ctx context.Context, tenantID string, fn func(domain.Order) error) error
	Close() error
}

// newOrderID returns a time-ordered id, so id order follows creation order.
func newOrderID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// stamp truncates to what Postgres timestamptz keeps, so every backend
// hands back the same value it will read later.
func stamp(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

func newOrder(id string, n domain.NewOrder, now time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		TenantID:      n.TenantID,
		CustomerName:  n.CustomerName,
		Type:          n.Type,
		Status:        domain.StatusPlaced,
		Items:         append([]domain.OrderItem(nil), n.Items...),
		TotalAmount:   n.TotalAmount,
		PaymentStatus: n.PaymentStatus,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
