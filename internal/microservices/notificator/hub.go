// Package notificator pushes committed order events to the dashboards
// subscribed to a tenant, and relays them between service instances.
package notificator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/metrics"
)

var (
	ErrClosed = errors.New("subscription closed")
	// ErrResync ends a subscription whose event stream has a gap; the
	// dashboard has to refetch before following again.
	ErrResync         = errors.New("resync required")
	ErrSlowSubscriber = fmt.Errorf("subscriber too slow, disconnected: %w", ErrResync)
	ErrRelayLost      = fmt.Errorf("broker connection lost: %w", ErrResync)
)

// retainedTerminal bounds how many terminal orders a room remembers so
// late events for them are still recognised as stale.
const retainedTerminal = 1024

// Hub fans events out to the subscribers of one tenant at a time.
// Publishing never blocks on a subscriber: one whose buffer is full is
// disconnected and has to resync.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]*room

	buffer  int
	log     *logger.Logger
	metrics *metrics.Registry
}

type room struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	// last version sent per order
	versions map[string]int64
	// terminal orders in the order they finished, oldest first
	retired []string
}

func NewHub(buffer int, log *logger.Logger, m *metrics.Registry) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{tenants: make(map[string]*room), buffer: buffer, log: log, metrics: m}
}

func (h *Hub) Subscribe(tenantID string) (*Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	s := &Subscription{
		hub:      h,
		tenantID: tenantID,
		ch:       make(chan domain.Event, h.buffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	r := h.tenants[tenantID]
	if r == nil {
		r = &room{subs: make(map[*Subscription]struct{}), versions: make(map[string]int64)}
		h.tenants[tenantID] = r
	}
	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()
	h.mu.Unlock()

	h.metrics.Subscribers.Inc()
	h.log.Debug(logger.ActionSubscriberJoined, map[string]any{"tenant_id": tenantID})
	return s, nil
}

// Publish hands ev to every live subscription of ev.TenantID. Publishes
// for one tenant are serialized, so each subscriber sees them in commit
// order; an event older than one already sent for the same order is
// dropped.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) error {
	if ev.TenantID == "" {
		return fmt.Errorf("%w: event without tenant", domain.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	r := h.tenants[ev.TenantID]
	h.mu.RUnlock()
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := ev.Order.ID
	if last, ok := r.versions[id]; ok && ev.Order.Version <= last {
		return nil
	}
	r.versions[id] = ev.Order.Version
	if ev.Order.Status.Terminal() {
		r.retire(id)
	}

	for s := range r.subs {
		select {
		case s.ch <- ev:
		default:
			if s.terminate(ErrSlowSubscriber) {
				delete(r.subs, s)
				h.metrics.Subscribers.Dec()
				h.metrics.SlowSubscribers.Inc()
				h.log.Info(logger.ActionSubscriberSlow, map[string]any{
					"tenant_id": ev.TenantID, "buffer": h.buffer,
				})
			}
		}
	}
	return nil
}

// Subscribers reports how many subscriptions tenantID currently has.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	r := h.tenants[tenantID]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close ends every subscription.
func (h *Hub) Close() { h.DisconnectAll(ErrClosed) }

// DisconnectAll ends every subscription with err and forgets the
// per-order versions. The hub stays usable.
func (h *Hub) DisconnectAll(err error) {
	h.mu.Lock()
	rooms := h.tenants
	h.tenants = make(map[string]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		for s := range r.subs {
			if s.terminate(err) {
				h.metrics.Subscribers.Dec()
			}
			delete(r.subs, s)
		}
		r.mu.Unlock()
	}
}

func (r *room) retire(id string) {
	r.retired = append(r.retired, id)
	if len(r.retired) <= retainedTerminal {
		return
	}
	old := r.retired[0]
	r.retired = r.retired[1:]
	delete(r.versions, old)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.tenants[s.tenantID]
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.subs, s)
	empty := len(r.subs) == 0
	r.mu.Unlock()
	if empty {
		delete(h.tenants, s.tenantID)
	}
}

// Subscription is one dashboard's view of its tenant's events.
type Subscription struct {
	hub      *Hub
	tenantID string
	ch       chan domain.Event

	once sync.Once
	done chan struct{}
	err  error
}

// Next blocks until the next event, ctx ends, or the subscription is
// closed. Nothing is returned once Close has returned, even if events
// were still queued.
func (s *Subscription) Next(ctx context.Context) (domain.Event, error) {
	select {
	case <-s.done:
		return domain.Event{}, s.err
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	case ev := <-s.ch:
		select {
		case <-s.done:
			return domain.Event{}, s.err
		default:
			return ev, nil
		}
	}
}

// Done is closed when the subscription ends; Err then tells why.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close is idempotent and safe to call concurrently with Publish.
func (s *Subscription) Close() {
	if s.terminate(ErrClosed) {
		s.hub.remove(s)
		s.hub.metrics.Subscribers.Dec()
		s.hub.log.Debug(logger.ActionSubscriberLeft, map[string]any{"tenant_id": s.tenantID})
	}
}

func (s *Subscription) terminate(err error) bool {
	closed := false
	s.once.Do(func() {
		s.err = err
		close(s.done)
		closed = true
	})
	return closed
}
