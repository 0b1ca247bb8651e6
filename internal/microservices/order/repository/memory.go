package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"restaurant-system/internal/domain"
	"restaurant-system/internal/microservices/counts"
)

// MemoryStore keeps orders in process. Each tenant has its own lock, held
// only for map work, so tenants never contend with each other.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*tenantShard
	owners  map[string]string // order id -> tenant id

	counts *counts.Aggregator
	now    func() time.Time
}

type tenantShard struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	history map[string][]domain.StatusChange
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*tenantShard),
		owners:  make(map[string]string),
		counts:  counts.NewAggregator(),
		now:     time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) shard(tenantID string, create bool) *tenantShard {
	m.mu.RLock()
	sh := m.tenants[tenantID]
	m.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sh = m.tenants[tenantID]; sh == nil {
		sh = &tenantShard{
			orders:  make(map[string]*domain.Order),
			history: make(map[string][]domain.StatusChange),
		}
		m.tenants[tenantID] = sh
	}
	return sh
}

// owned resolves the shard holding orderID for tenantID.
func (m *MemoryStore) owned(tenantID, orderID string) (*tenantShard, error) {
	m.mu.RLock()
	owner, ok := m.owners[orderID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if owner != tenantID {
		return nil, fmt.Errorf("%w: order %s belongs to another tenant", domain.ErrForbidden, orderID)
	}
	return m.shard(tenantID, false), nil
}

func (m *MemoryStore) Create(ctx context.Context, n domain.NewOrder) (domain.Order, error) {
	if err := n.Validate(); err != nil {
		return domain.Order{}, err
	}
	id, err := newOrderID()
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: generate id: %v", domain.ErrUnavailable, err)
	}
	o := newOrder(id, n, stamp(m.now()))

	sh := m.shard(n.TenantID, true)
	sh.mu.Lock()
	sh.orders[id] = &o
	sh.history[id] = []domain.StatusChange{{OrderID: id, To: o.Status, Version: o.Version, ChangedAt: o.CreatedAt}}
	m.counts.Increment(n.TenantID, o.Status)
	m.mu.Lock()
	m.owners[id] = n.TenantID
	m.mu.Unlock()
	sh.mu.Unlock()

	return o.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	sh, err := m.owned(tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.orders[orderID].Clone(), nil
}

func (m *MemoryStore) ApplyTransition(ctx context.Context, tenantID, orderID string, expected, next domain.Status) (domain.Order, error) {
	sh, err := m.owned(tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	o := sh.orders[orderID]
	if o.Status != expected {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s, expected %s", domain.ErrConflict, orderID, o.Status, expected)
	}
	if err := domain.CheckTransition(*o, next); err != nil {
		return domain.Order{}, err
	}

	o.Status = next
	o.Version++
	o.UpdatedAt = stamp(m.now())
	sh.history[orderID] = append(sh.history[orderID], domain.StatusChange{
		OrderID: orderID, From: expected, To: next, Version: o.Version, ChangedAt: o.UpdatedAt,
	})
	m.counts.Move(tenantID, expected, next)
	return o.Clone(), nil
}

func (m *MemoryStore) QueryByStatus(ctx context.Context, q domain.Query) (domain.Page, error) {
	if err := q.Validate(); err != nil {
		return domain.Page{}, err
	}
	sh := m.shard(q.TenantID, false)
	if sh == nil {
		return domain.NewPage(q, 0, nil, false), nil
	}

	sh.mu.RLock()
	matched := make([]domain.Order, 0)
	for _, o := range sh.orders {
		if o.Status == q.Status {
			matched = append(matched, o.Clone())
		}
	}
	sh.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return domain.Newer(matched[i], matched[j]) })
	total := len(matched)

	rest := matched
	if q.After != nil {
		i := sort.Search(len(matched), func(i int) bool { return q.After.Before(matched[i]) })
		rest = matched[i:]
	} else if off := q.Offset(); off < len(matched) {
		rest = matched[off:]
	} else {
		rest = nil
	}
	more := len(rest) > q.PageSize
	if more {
		rest = rest[:q.PageSize]
	}
	return domain.NewPage(q, total, rest, more), nil
}

func (m *MemoryStore) Counts(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	sh := m.shard(tenantID, false)
	if sh == nil {
		return domain.NewCountSnapshot(), nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return m.counts.Snapshot(tenantID), nil
}

func (m *MemoryStore) Recount(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	sh := m.shard(tenantID, false)
	if sh == nil {
		return domain.NewCountSnapshot(), nil
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	snap := domain.NewCountSnapshot()
	for _, o := range sh.orders {
		snap[o.Status]++
	}
	m.counts.Replace(tenantID, snap)
	return snap.Clone(), nil
}

func (m *MemoryStore) History(ctx context.Context, tenantID, orderID string) ([]domain.StatusChange, error) {
	sh, err := m.owned(tenantID, orderID)
	if err != nil {
		return nil, err
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return append([]domain.StatusChange(nil), sh.history[orderID]...), nil
}

func (m *MemoryStore) Scan(ctx context.Context, tenantID string, fn func(domain.Order) error) error {
	sh := m.shard(tenantID, false)
	if sh == nil {
		return nil
	}
	sh.mu.RLock()
	orders := make([]domain.Order, 0, len(sh.orders))
	for _, o := range sh.orders {
		orders = append(orders, o.Clone())
	}
	sh.mu.RUnlock()

	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}
