// Package counts maintains per-tenant, per-status order counts used for
// dashboard badges. Counts are a cache over the order store: Recompute
// rebuilds them from a full scan and must agree with incremental upkeep.
package counts

import (
	"context"
	"sync"

	"restaurant-system/internal/domain"
)

type Aggregator struct {
	mu      sync.RWMutex
	tenants map[string]domain.CountSnapshot
}

func NewAggregator() *Aggregator {
	return &Aggregator{tenants: make(map[string]domain.CountSnapshot)}
}

func (a *Aggregator) Increment(tenantID string, s domain.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tenant(tenantID)[s]++
}

func (a *Aggregator) Decrement(tenantID string, s domain.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tenant(tenantID)[s]--
}

// Move applies the decrement and increment of one transition together.
func (a *Aggregator) Move(tenantID string, from, to domain.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.tenant(tenantID)
	t[from]--
	t[to]++
}

func (a *Aggregator) Snapshot(tenantID string) domain.CountSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if t, ok := a.tenants[tenantID]; ok {
		return t.Clone()
	}
	return domain.NewCountSnapshot()
}

// Replace overwrites a tenant's counts, typically with a Recompute result.
func (a *Aggregator) Replace(tenantID string, snap domain.CountSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tenants[tenantID] = snap.Clone()
}

// tenant must be called with mu held for writing.
func (a *Aggregator) tenant(tenantID string) domain.CountSnapshot {
	t, ok := a.tenants[tenantID]
	if !ok {
		t = domain.NewCountSnapshot()
		a.tenants[tenantID] = t
	}
	return t
}

// Scanner visits every order a tenant owns.
type Scanner interface {
	Scan(ctx context.Context, tenantID string, fn func(domain.Order) error) error
}

// Recompute derives a snapshot by scanning the store.
func Recompute(ctx context.Context, s Scanner, tenantID string) (domain.CountSnapshot, error) {
	snap := domain.NewCountSnapshot()
	err := s.Scan(ctx, tenantID, func(o domain.Order) error {
		snap[o.Status]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
