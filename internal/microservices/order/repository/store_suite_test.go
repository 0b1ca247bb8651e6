package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-system/internal/domain"
	"restaurant-system/internal/microservices/counts"
)

type storeFactory func(t *testing.T) OrderRepositoryInterface

func runStoreSuite(t *testing.T, newStore storeFactory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s OrderRepositoryInterface)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateValidation", testCreateValidation},
		{"TenantIsolation", testTenantIsolation},
		{"TransitionCompareAndSet", testTransitionCompareAndSet},
		{"TransitionRejectsInvalidMoves", testTransitionRejectsInvalidMoves},
		{"ConcurrentTransitionsOneWinner", testConcurrentTransitionsOneWinner},
		{"CountsMatchRecount", testCountsMatchRecount},
		{"PageWalkCoversEveryOrderOnce", testPageWalk},
		{"PageBeyondLast", testPageBeyondLast},
		{"CursorWalkUnderRemovals", testCursorWalkUnderRemovals},
		{"CancelledOrderMovesTab", testCancelledOrderMovesTab},
		{"History", testHistory},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

var tenantSeq atomic.Int64

// freshTenant keeps subtests apart on backends that share a database.
func freshTenant(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, tenantSeq.Add(1), rand.Int63())
}

func newOrderFor(tenantID string, typ domain.OrderType) domain.NewOrder {
	return domain.CreateOrderRequest{
		CustomerName: "Ada",
		OrderType:    typ,
		Items: []domain.CreateOrderItem{
			{Name: "Margherita", Quantity: 2, UnitPrice: decimal.RequireFromString("9.50"), FoodType: "pizza"},
			{Name: "Lemonade", Quantity: 1, UnitPrice: decimal.RequireFromString("3.75")},
		},
	}.ToNewOrder(tenantID)
}

func mustCreate(t *testing.T, s OrderRepositoryInterface, tenantID string, typ domain.OrderType) domain.Order {
	t.Helper()
	o, err := s.Create(context.Background(), newOrderFor(tenantID, typ))
	require.NoError(t, err)
	return o
}

func mustMove(t *testing.T, s OrderRepositoryInterface, o domain.Order, path ...domain.Status) domain.Order {
	t.Helper()
	for _, next := range path {
		var err error
		o, err = s.ApplyTransition(context.Background(), o.TenantID, o.ID, o.Status, next)
		require.NoError(t, err)
	}
	return o
}

// sameOrder compares money by value, since backends may change the scale.
func sameOrder(t *testing.T, want, got domain.Order) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.TenantID, got.TenantID)
	assert.Equal(t, want.CustomerName, got.CustomerName)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.PaymentStatus, got.PaymentStatus)
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %s != %s", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at %s != %s", want.UpdatedAt, got.UpdatedAt)
	assert.True(t, want.TotalAmount.Equal(got.TotalAmount), "total %s != %s", want.TotalAmount, got.TotalAmount)
	require.Len(t, got.Items, len(want.Items))
	for i := range want.Items {
		assert.Equal(t, want.Items[i].Name, got.Items[i].Name)
		assert.Equal(t, want.Items[i].Quantity, got.Items[i].Quantity)
		assert.True(t, want.Items[i].UnitPrice.Equal(got.Items[i].UnitPrice))
		assert.True(t, want.Items[i].LineTotal.Equal(got.Items[i].LineTotal))
	}
}

func testCreateAndGet(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("create")
	o := mustCreate(t, s, tenant, domain.OrderTypeDelivery)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, domain.StatusPlaced, o.Status)
	assert.EqualValues(t, 1, o.Version)
	assert.Equal(t, "22.75", o.TotalAmount.String())
	assert.Equal(t, o.CreatedAt, o.UpdatedAt)

	got, err := s.Get(context.Background(), tenant, o.ID)
	require.NoError(t, err)
	sameOrder(t, o, got)

	_, err = s.Get(context.Background(), tenant, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	snap, err := s.Counts(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, snap[domain.StatusPlaced])
	assert.Len(t, snap, len(domain.AllStatuses))
}

func testCreateValidation(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("invalid")
	n := newOrderFor(tenant, domain.OrderTypePickup)
	n.Items = nil
	_, err := s.Create(context.Background(), n)
	require.ErrorIs(t, err, domain.ErrValidation)

	n = newOrderFor("", domain.OrderTypePickup)
	_, err = s.Create(context.Background(), n)
	require.ErrorIs(t, err, domain.ErrValidation)

	snap, err := s.Counts(context.Background(), tenant)
	require.NoError(t, err)
	assert.Zero(t, snap.Total())
}

func testTenantIsolation(t *testing.T, s OrderRepositoryInterface) {
	a, b := freshTenant("a"), freshTenant("b")
	o := mustCreate(t, s, a, domain.OrderTypePickup)
	ctx := context.Background()

	_, err := s.Get(ctx, b, o.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = s.ApplyTransition(ctx, b, o.ID, domain.StatusPlaced, domain.StatusAccepted)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = s.History(ctx, b, o.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	page, err := s.QueryByStatus(ctx, domain.Query{TenantID: b, Status: domain.StatusPlaced, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Orders)
	assert.Zero(t, page.TotalCount)

	snap, err := s.Counts(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, snap.Total())
}

func testTransitionCompareAndSet(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("cas")
	o := mustCreate(t, s, tenant, domain.OrderTypeDelivery)
	ctx := context.Background()

	moved, err := s.ApplyTransition(ctx, tenant, o.ID, domain.StatusPlaced, domain.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, moved.Status)
	assert.EqualValues(t, 2, moved.Version)
	assert.False(t, moved.UpdatedAt.Before(o.UpdatedAt))
	assert.True(t, moved.CreatedAt.Equal(o.CreatedAt))

	// stale expectation
	_, err = s.ApplyTransition(ctx, tenant, o.ID, domain.StatusPlaced, domain.StatusCancelled)
	require.ErrorIs(t, err, domain.ErrConflict)

	got, err := s.Get(ctx, tenant, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, got.Status)
	assert.EqualValues(t, 2, got.Version)

	snap, err := s.Counts(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 0, snap[domain.StatusPlaced])
	assert.Equal(t, 1, snap[domain.StatusAccepted])

	_, err = s.ApplyTransition(ctx, tenant, "missing", domain.StatusPlaced, domain.StatusAccepted)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testTransitionRejectsInvalidMoves(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("invalid-move")
	ctx := context.Background()

	o := mustCreate(t, s, tenant, domain.OrderTypeDelivery)
	_, err := s.ApplyTransition(ctx, tenant, o.ID, domain.StatusPlaced, domain.StatusDelivered)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	o = mustMove(t, s, o, domain.StatusAccepted, domain.StatusReady)
	_, err = s.ApplyTransition(ctx, tenant, o.ID, domain.StatusReady, domain.StatusPickedUp)
	require.ErrorIs(t, err, domain.ErrInvalidTransition, "delivery orders are delivered, not picked up")

	o = mustMove(t, s, o, domain.StatusDelivered)
	_, err = s.ApplyTransition(ctx, tenant, o.ID, domain.StatusDelivered, domain.StatusCancelled)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	snap, err := s.Counts(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, snap[domain.StatusDelivered])
	assert.Equal(t, 1, snap.Total())
}

func testConcurrentTransitionsOneWinner(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("race")
	o := mustCreate(t, s, tenant, domain.OrderTypePickup)

	targets := []domain.Status{domain.StatusAccepted, domain.StatusCancelled}
	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(next domain.Status) {
			defer wg.Done()
			_, err := s.ApplyTransition(context.Background(), tenant, o.ID, domain.StatusPlaced, next)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(targets[i%len(targets)])
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, workers-1, conflicts.Load())

	snap, err := s.Counts(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Total())
	assert.Zero(t, snap[domain.StatusPlaced])
}

func testCountsMatchRecount(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("recount")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	var orders []domain.Order
	for i := 0; i < 30; i++ {
		typ := domain.OrderTypeDelivery
		if i%2 == 0 {
			typ = domain.OrderTypePickup
		}
		orders = append(orders, mustCreate(t, s, tenant, typ))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		seed := rng.Int63()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 60; i++ {
				o := orders[r.Intn(len(orders))]
				cur, err := s.Get(ctx, tenant, o.ID)
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				options := domain.AllowedNext(cur.Status, cur.Type)
				if len(options) == 0 {
					continue
				}
				_, err = s.ApplyTransition(ctx, tenant, o.ID, cur.Status, options[r.Intn(len(options))])
				if err != nil && !errors.Is(err, domain.ErrConflict) {
					t.Errorf("transition: %v", err)
					return
				}
			}
		}()
	}
	// recounts interleave with the transitions without deadlocking or
	// losing their deltas
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if _, err := s.Recount(ctx, tenant); err != nil {
				t.Errorf("recount: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	incremental, err := s.Counts(ctx, tenant)
	require.NoError(t, err)
	oracle, err := counts.Recompute(ctx, s, tenant)
	require.NoError(t, err)
	assert.True(t, incremental.Equal(oracle), "incremental %v, recomputed %v", incremental, oracle)
	assert.Equal(t, len(orders), incremental.Total())

	recounted, err := s.Recount(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, recounted.Equal(oracle))
}

func testPageWalk(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("walk")
	ctx := context.Background()
	const n = 23
	for i := 0; i < n; i++ {
		mustCreate(t, s, tenant, domain.OrderTypePickup)
	}

	seen := map[string]int{}
	var prev *domain.Order
	for page := 1; ; page++ {
		p, err := s.QueryByStatus(ctx, domain.Query{TenantID: tenant, Status: domain.StatusPlaced, Page: page, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, n, p.TotalCount)
		assert.Equal(t, 3, p.TotalPages)
		if len(p.Orders) == 0 {
			break
		}
		for _, o := range p.Orders {
			seen[o.ID]++
			if prev != nil {
				assert.True(t, domain.Newer(*prev, o), "page order must be created_at DESC, id DESC")
			}
			cur := o
			prev = &cur
		}
	}
	assert.Len(t, seen, n)
	for id, c := range seen {
		assert.Equal(t, 1, c, "order %s seen %d times", id, c)
	}
}

func testPageBeyondLast(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("beyond")
	for i := 0; i < 3; i++ {
		mustCreate(t, s, tenant, domain.OrderTypeDelivery)
	}
	p, err := s.QueryByStatus(context.Background(), domain.Query{TenantID: tenant, Status: domain.StatusPlaced, Page: 5, PageSize: 10})
	require.NoError(t, err)
	assert.NotNil(t, p.Orders)
	assert.Empty(t, p.Orders)
	assert.Equal(t, 3, p.TotalCount)
	assert.Equal(t, 1, p.TotalPages)
	assert.Empty(t, p.NextCursor)

	_, err = s.QueryByStatus(context.Background(), domain.Query{TenantID: tenant, Status: domain.StatusPlaced, Page: 1, PageSize: 11})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func testCursorWalkUnderRemovals(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("cursor")
	ctx := context.Background()
	var created []domain.Order
	for i := 0; i < 25; i++ {
		created = append(created, mustCreate(t, s, tenant, domain.OrderTypePickup))
	}

	q := domain.Query{TenantID: tenant, Status: domain.StatusPlaced, Page: 1, PageSize: 10}
	first, err := s.QueryByStatus(ctx, q)
	require.NoError(t, err)
	require.Len(t, first.Orders, 10)
	require.NotEmpty(t, first.NextCursor)

	// Accept two orders already shown; an offset walk would now skip two.
	for _, o := range first.Orders[:2] {
		mustMove(t, s, o, domain.StatusAccepted)
	}

	seen := map[string]bool{}
	for _, o := range first.Orders {
		seen[o.ID] = true
	}
	cursor := first.NextCursor
	for cursor != "" {
		after, err := domain.DecodeCursor(cursor)
		require.NoError(t, err)
		q.After = after
		p, err := s.QueryByStatus(ctx, q)
		require.NoError(t, err)
		for _, o := range p.Orders {
			assert.False(t, seen[o.ID], "order %s returned twice", o.ID)
			seen[o.ID] = true
		}
		cursor = p.NextCursor
	}
	for _, o := range created {
		assert.True(t, seen[o.ID], "order %s omitted", o.ID)
	}
}

func testCancelledOrderMovesTab(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("cancel")
	ctx := context.Background()
	o1 := mustMove(t, s, mustCreate(t, s, tenant, domain.OrderTypeDelivery), domain.StatusAccepted)
	o2 := mustMove(t, s, mustCreate(t, s, tenant, domain.OrderTypeDelivery), domain.StatusAccepted)

	mustMove(t, s, o2, domain.StatusCancelled)

	accepted, err := s.QueryByStatus(ctx, domain.Query{TenantID: tenant, Status: domain.StatusAccepted, Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, accepted.Orders, 1)
	assert.Equal(t, o1.ID, accepted.Orders[0].ID)

	cancelled, err := s.QueryByStatus(ctx, domain.Query{TenantID: tenant, Status: domain.StatusCancelled, Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, cancelled.Orders, 1)
	assert.Equal(t, o2.ID, cancelled.Orders[0].ID)
	assert.Equal(t, 1, cancelled.TotalCount)
}

func testHistory(t *testing.T, s OrderRepositoryInterface) {
	tenant := freshTenant("history")
	o := mustMove(t, s, mustCreate(t, s, tenant, domain.OrderTypePickup),
		domain.StatusAccepted, domain.StatusReady, domain.StatusPickedUp)

	h, err := s.History(context.Background(), tenant, o.ID)
	require.NoError(t, err)
	require.Len(t, h, 4)
	want := []domain.Status{domain.StatusPlaced, domain.StatusAccepted, domain.StatusReady, domain.StatusPickedUp}
	for i, c := range h {
		assert.Equal(t, o.ID, c.OrderID)
		assert.Equal(t, want[i], c.To)
		assert.EqualValues(t, i+1, c.Version)
		if i > 0 {
			assert.Equal(t, want[i-1], c.From)
		} else {
			assert.Empty(t, c.From)
		}
	}
}
