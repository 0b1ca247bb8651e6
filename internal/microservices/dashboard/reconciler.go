// Package dashboard keeps one dashboard's view of its tenant's orders in
// step with the server: the lists of the visited status tabs, the count
// badges, and optimistic transitions started from this dashboard.
package dashboard

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
)

// Fetcher reads authoritative state from the server.
type Fetcher interface {
	FetchPage(ctx context.Context, status domain.Status, page, pageSize int) (domain.Page, error)
	FetchCounts(ctx context.Context) (domain.CountSnapshot, error)
}

// View is one tab's list as the dashboard shows it.
type View struct {
	Status     domain.Status
	Page       int
	PageSize   int
	Orders     []domain.Order
	TotalCount int
	TotalPages int
}

func (v *View) clone() View {
	c := *v
	c.Orders = make([]domain.Order, len(v.Orders))
	for i, o := range v.Orders {
		c.Orders[i] = o.Clone()
	}
	return c
}

func (v *View) index(orderID string) int {
	return slices.IndexFunc(v.Orders, func(o domain.Order) bool { return o.ID == orderID })
}

func (v *View) setTotal(n int) {
	if n < 0 {
		n = 0
	}
	v.TotalCount = n
	v.TotalPages = domain.TotalPages(n, v.PageSize)
}

func (v *View) remove(orderID string) bool {
	i := v.index(orderID)
	if i < 0 {
		return false
	}
	v.Orders = slices.Delete(v.Orders, i, i+1)
	return true
}

// insert places o at its sorted position when that position falls on the
// held page. Only page 1 has a known upper edge.
func (v *View) insert(o domain.Order) {
	if i := v.index(o.ID); i >= 0 {
		v.Orders[i] = o
		return
	}
	if v.Page != 1 {
		return
	}
	at := len(v.Orders)
	for i, cur := range v.Orders {
		if domain.Newer(o, cur) {
			at = i
			break
		}
	}
	if at >= v.PageSize {
		return
	}
	v.Orders = slices.Insert(v.Orders, at, o)
	if len(v.Orders) > v.PageSize {
		v.Orders = v.Orders[:v.PageSize]
	}
}

// adopt adds o to v when it belongs to v's status but is not held yet.
func (v *View) adopt(o domain.Order) {
	if o.Status != v.Status || v.index(o.ID) >= 0 {
		return
	}
	v.insert(o)
	v.setTotal(v.TotalCount + 1)
}

type pending struct {
	order  domain.Order // as it was before the move
	target domain.Status
}

// seen is an order state learned from an event or a confirmation while a
// fetch was in flight, tagged with the generation it was learned at.
type seen struct {
	order domain.Order
	gen   uint64
}

// refreshAttempts bounds how often a fetch is repeated because events
// arrived while it was in flight.
const refreshAttempts = 3

// Reconciler is safe for concurrent use: events from the subscription and
// user actions may interleave.
type Reconciler struct {
	mu sync.Mutex

	fetch    Fetcher
	log      *logger.Logger
	active   domain.Status
	pageSize int
	page     int

	lists    map[domain.Status]*View
	counts   domain.CountSnapshot
	versions map[string]int64
	pending  map[string]pending

	// gen moves whenever an event or confirmation changes state. While
	// fetches are in flight those changes are also kept in latest, so a
	// page fetched before them cannot overwrite them.
	gen      uint64
	fetching int
	latest   map[string]seen
}

func NewReconciler(fetch Fetcher, status domain.Status, pageSize int, log *logger.Logger) (*Reconciler, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	if !slices.Contains(domain.PageSizes, pageSize) {
		return nil, fmt.Errorf("%w: page size must be one of %v", domain.ErrValidation, domain.PageSizes)
	}
	return &Reconciler{
		fetch:    fetch,
		log:      log,
		active:   status,
		pageSize: pageSize,
		page:     1,
		lists:    make(map[domain.Status]*View),
		counts:   domain.NewCountSnapshot(),
		versions: make(map[string]int64),
		pending:  make(map[string]pending),
		latest:   make(map[string]seen),
	}, nil
}

// Load fetches the active tab and the counts.
func (r *Reconciler) Load(ctx context.Context) error {
	r.mu.Lock()
	status, page, size := r.active, r.page, r.pageSize
	r.mu.Unlock()
	return r.refresh(ctx, status, page, size, true)
}

// Resync replaces everything held with fresh server state. It is what a
// dashboard does after reconnecting, since missed events are not replayed.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	r.lists = make(map[domain.Status]*View)
	r.pending = make(map[string]pending)
	status, page, size := r.active, r.page, r.pageSize
	r.mu.Unlock()
	if err := r.refresh(ctx, status, page, size, true); err != nil {
		return err
	}
	r.log.Debug(logger.ActionDashboardResynced, map[string]any{"status": status, "page": page})
	return nil
}

// SwitchTab shows status, starting at page 1.
func (r *Reconciler) SwitchTab(ctx context.Context, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	r.mu.Lock()
	r.active, r.page = status, 1
	size := r.pageSize
	r.mu.Unlock()
	return r.refresh(ctx, status, 1, size, false)
}

// GoToPage moves the active tab to page.
func (r *Reconciler) GoToPage(ctx context.Context, page int) error {
	if page < 1 {
		return fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	r.mu.Lock()
	r.page = page
	status, size := r.active, r.pageSize
	r.mu.Unlock()
	return r.refresh(ctx, status, page, size, false)
}

// SetPageSize changes the page size and resets to page 1. Lists held for
// other tabs are dropped, since they were cut at the old size.
func (r *Reconciler) SetPageSize(ctx context.Context, size int) error {
	if !slices.Contains(domain.PageSizes, size) {
		return fmt.Errorf("%w: page size must be one of %v", domain.ErrValidation, domain.PageSizes)
	}
	r.mu.Lock()
	r.pageSize, r.page = size, 1
	r.lists = make(map[domain.Status]*View)
	status := r.active
	r.mu.Unlock()
	return r.refresh(ctx, status, 1, size, false)
}

func (r *Reconciler) refresh(ctx context.Context, status domain.Status, page, size int, withCounts bool) error {
	r.mu.Lock()
	r.fetching++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.fetching--; r.fetching == 0 {
			clear(r.latest)
		}
		r.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		r.mu.Lock()
		start := r.gen
		r.mu.Unlock()

		p, err := r.fetch.FetchPage(ctx, status, page, size)
		if err != nil {
			return err
		}
		var snap domain.CountSnapshot
		if withCounts {
			if snap, err = r.fetch.FetchCounts(ctx); err != nil {
				return err
			}
		}

		r.mu.Lock()
		// The user moved on while we were fetching.
		if r.active != status || r.page != page || r.pageSize != size {
			r.mu.Unlock()
			return nil
		}
		if r.gen != start && attempt < refreshAttempts {
			r.mu.Unlock()
			continue
		}
		r.install(status, page, size, p, start)
		if snap != nil {
			r.counts = snap.Clone()
		}
		r.mu.Unlock()
		return nil
	}
}

// install makes p the held list for status. Fetched orders are replaced
// by what this dashboard learned after the fetch started: an order that
// has since left status is dropped, one that has since entered it is
// added, and totals follow.
func (r *Reconciler) install(status domain.Status, page, size int, p domain.Page, start uint64) {
	v := &View{Status: status, Page: page, PageSize: size, Orders: make([]domain.Order, 0, len(p.Orders))}
	total := p.TotalCount
	for _, o := range p.Orders {
		if o.Version > r.versions[o.ID] {
			r.versions[o.ID] = o.Version
		}
		cur := r.current(o)
		if cur.Status != status {
			total--
			continue
		}
		v.Orders = append(v.Orders, cur)
	}
	v.setTotal(total)

	for _, s := range r.latest {
		if s.gen > start {
			v.adopt(r.current(s.order))
		}
	}
	for _, pend := range r.pending {
		o := pend.order.Clone()
		o.Status = pend.target
		v.adopt(r.current(o))
	}
	r.lists[status] = v
}

// current returns the newest state of o this dashboard knows of,
// including a transition of its own still in flight.
func (r *Reconciler) current(o domain.Order) domain.Order {
	if s, ok := r.latest[o.ID]; ok && s.order.Version > o.Version {
		o = s.order.Clone()
	}
	if p, ok := r.pending[o.ID]; ok && o.Version <= p.order.Version {
		o = o.Clone()
		o.Status = p.target
	}
	return o
}

// learned records a state change for fetches in flight.
func (r *Reconciler) learned(o domain.Order) {
	r.gen++
	if r.fetching > 0 {
		r.latest[o.ID] = seen{order: o.Clone(), gen: r.gen}
	}
}

// Apply folds one server event into the held state. It reports whether
// the event changed anything; duplicates and stale events do not.
func (r *Reconciler) Apply(ev domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	o := ev.Order
	if o.Version <= r.versions[o.ID] {
		return false
	}
	if ev.Kind != domain.EventCreated && ev.Kind != domain.EventStatusChanged {
		return false
	}
	r.versions[o.ID] = o.Version
	r.learned(o)

	switch ev.Kind {
	case domain.EventCreated:
		r.bump(o.Status, 1)
		for _, v := range r.lists {
			if v.Status != o.Status || v.index(o.ID) >= 0 {
				continue
			}
			v.insert(o)
			v.setTotal(v.TotalCount + 1)
		}
	case domain.EventStatusChanged:
		if p, ok := r.pending[o.ID]; ok {
			delete(r.pending, o.ID)
			if p.target == o.Status {
				// our own transition, already shown
				r.place(o)
				return true
			}
			r.revert(p)
		}
		if ev.PreviousStatus != "" {
			r.bump(ev.PreviousStatus, -1)
		}
		r.bump(o.Status, 1)
		r.move(o, ev.PreviousStatus)
	}
	r.log.Debug(logger.ActionDashboardEventApplied, map[string]any{
		"kind": ev.Kind, "order_id": o.ID, "status": o.Status, "version": o.Version,
	})
	return true
}

// move drops o from every held list of another status and puts it into
// the list of its new status. Totals follow the previous status.
func (r *Reconciler) move(o domain.Order, prev domain.Status) {
	for _, v := range r.lists {
		if v.Status == o.Status {
			if v.index(o.ID) < 0 {
				v.setTotal(v.TotalCount + 1)
			}
			v.insert(o)
			continue
		}
		removed := v.remove(o.ID)
		if removed || v.Status == prev {
			v.setTotal(v.TotalCount - 1)
		}
	}
}

// place refreshes o's data where an optimistic move already put it.
func (r *Reconciler) place(o domain.Order) {
	for _, v := range r.lists {
		if v.Status == o.Status {
			v.insert(o)
		} else if v.remove(o.ID) {
			v.setTotal(v.TotalCount - 1)
		}
	}
}

// revert undoes an optimistic move.
func (r *Reconciler) revert(p pending) {
	r.bump(p.target, -1)
	r.bump(p.order.Status, 1)
	r.move(p.order, p.target)
}

func (r *Reconciler) bump(s domain.Status, d int) {
	if s == "" {
		return
	}
	n := r.counts[s] + d
	if n < 0 {
		n = 0
	}
	r.counts[s] = n
}

// BeginTransition shows o in target straight away, before the server
// answers. Disallowed moves are refused without touching state.
func (r *Reconciler) BeginTransition(o domain.Order, target domain.Status) error {
	if err := domain.CheckTransition(o, target); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.pending[o.ID]; busy {
		return fmt.Errorf("%w: order %s already has a transition in flight", domain.ErrConflict, o.ID)
	}
	r.pending[o.ID] = pending{order: o.Clone(), target: target}
	r.bump(o.Status, -1)
	r.bump(target, 1)

	moved := o.Clone()
	moved.Status = target
	r.move(moved, o.Status)
	return nil
}

// ConfirmTransition records the server's result. The order's own
// statusChanged echo is then recognised by version and ignored.
func (r *Reconciler) ConfirmTransition(o domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, o.ID)
	if o.Version <= r.versions[o.ID] {
		return
	}
	r.versions[o.ID] = o.Version
	r.learned(o)
	r.place(o)
}

// FailTransition undoes the optimistic move and refetches the active page
// and the counts, so the dashboard shows what the server holds.
func (r *Reconciler) FailTransition(ctx context.Context, orderID string) error {
	r.mu.Lock()
	if p, ok := r.pending[orderID]; ok {
		delete(r.pending, orderID)
		r.revert(p)
	}
	status, page, size := r.active, r.page, r.pageSize
	r.mu.Unlock()
	return r.refresh(ctx, status, page, size, true)
}

// Active returns a copy of the active tab's list.
func (r *Reconciler) Active() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.lists[r.active]; ok {
		return v.clone()
	}
	return View{Status: r.active, Page: r.page, PageSize: r.pageSize, Orders: []domain.Order{}}
}

// View returns a copy of the list held for status, if any.
func (r *Reconciler) View(status domain.Status) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.lists[status]
	if !ok {
		return View{}, false
	}
	return v.clone(), true
}

func (r *Reconciler) Counts() domain.CountSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts.Clone()
}

func (r *Reconciler) Pending(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[orderID]
	return ok
}
