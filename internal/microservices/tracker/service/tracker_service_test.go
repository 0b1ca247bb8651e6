package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/order/repository"
)

func seed(t *testing.T, db repository.OrderRepositoryInterface, tenant string, n int) []domain.Order {
	t.Helper()
	var out []domain.Order
	for i := 0; i < n; i++ {
		o, err := db.Create(context.Background(), domain.CreateOrderRequest{
			OrderType: domain.OrderTypePickup,
			Items:     []domain.CreateOrderItem{{Name: "Calzone", Quantity: 1, UnitPrice: decimal.NewFromInt(11)}},
		}.ToNewOrder(tenant))
		require.NoError(t, err)
		out = append(out, o)
	}
	return out
}

// driftingStore reports stale cached counts until it is recounted.
type driftingStore struct {
	*repository.MemoryStore
	stale domain.CountSnapshot
}

func (d *driftingStore) Counts(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	if d.stale != nil {
		return d.stale.Clone(), nil
	}
	return d.MemoryStore.Counts(ctx, tenantID)
}

func (d *driftingStore) Recount(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	d.stale = nil
	return d.MemoryStore.Recount(ctx, tenantID)
}

func TestRecomputeCountsReportsDrift(t *testing.T) {
	mem := repository.NewMemoryStore()
	seed(t, mem, "t1", 3)
	stale := domain.NewCountSnapshot()
	stale[domain.StatusPlaced] = 5
	db := &driftingStore{MemoryStore: mem, stale: stale}
	m := metrics.NewRegistry()
	svc := NewTrackerService(db, logger.NewNop(), m)

	verified, err := svc.VerifyCounts(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, verified.Drifted)
	assert.Equal(t, 3, verified.Recomputed[domain.StatusPlaced])
	assert.Zero(t, testutil.ToFloat64(m.CountsDrift), "verify does not repair")

	res, err := svc.RecomputeCounts(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, res.Drifted)
	assert.Equal(t, 5, res.Cached[domain.StatusPlaced])
	assert.Equal(t, 3, res.Recomputed[domain.StatusPlaced])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CountsDrift))

	again, err := svc.RecomputeCounts(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, again.Drifted)
}

func TestGetOrderTimelineWindow(t *testing.T) {
	db := repository.NewMemoryStore()
	o := seed(t, db, "t1", 1)[0]
	ctx := context.Background()
	for _, next := range []domain.Status{domain.StatusAccepted, domain.StatusReady} {
		var err error
		o, err = db.ApplyTransition(ctx, "t1", o.ID, o.Status, next)
		require.NoError(t, err)
	}
	svc := NewTrackerService(db, logger.NewNop(), metrics.NewRegistry())

	all, err := svc.GetOrderTimeline(ctx, "t1", o.ID, 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	window, err := svc.GetOrderTimeline(ctx, "t1", o.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, domain.StatusAccepted, window[0].To)

	past, err := svc.GetOrderTimeline(ctx, "t1", o.ID, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, past)

	_, err = svc.GetOrderTimeline(ctx, "t2", o.ID, 10, 0)
	require.ErrorIs(t, err, domain.ErrForbidden)
}
