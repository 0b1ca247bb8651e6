package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"restaurant-system/internal/domain"
)

// PebbleStore is an embedded single-node backend. Keyspace:
//
//	i/<order>                           owning tenant
//	o/<tenant>/<order>                  order JSON
//	x/<tenant>/<status>/<ts desc><id desc>  status index, newest first
//	c/<tenant>/<status>                 count, 8 byte big endian
//	h/<tenant>/<order>/<version>        timeline row JSON
//
// Every mutation is a single synced batch. Writers of a tenant are
// serialized by a per-tenant mutex around read, compare and commit; reads
// use a snapshot so counts and pages reflect one commit point.
type PebbleStore struct {
	db  *pebble.DB
	now func() time.Time

	mu      sync.Mutex
	writers map[string]*sync.Mutex
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d, now: time.Now, writers: make(map[string]*sync.Mutex)}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) writer(tenantID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[tenantID]
	if !ok {
		w = &sync.Mutex{}
		p.writers[tenantID] = w
	}
	return w
}

func seg(s string) string { return url.PathEscape(s) }

func ownerKey(orderID string) []byte { return []byte("i/" + seg(orderID)) }

func orderPrefix(tenantID string) []byte { return []byte("o/" + seg(tenantID) + "/") }

func orderKey(tenantID, orderID string) []byte {
	return append(orderPrefix(tenantID), seg(orderID)...)
}

func indexPrefix(tenantID string, s domain.Status) []byte {
	return []byte("x/" + seg(tenantID) + "/" + string(s) + "/")
}

// indexKey sorts ascending in newest-first order: the timestamp and the
// id bytes are both inverted.
func indexKey(tenantID string, s domain.Status, createdAt time.Time, orderID string) []byte {
	k := indexPrefix(tenantID, s)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], math.MaxUint64-uint64(createdAt.UnixNano()))
	k = append(k, ts[:]...)
	for i := 0; i < len(orderID); i++ {
		k = append(k, ^orderID[i])
	}
	return k
}

func countKey(tenantID string, s domain.Status) []byte {
	return []byte("c/" + seg(tenantID) + "/" + string(s))
}

func historyPrefix(tenantID, orderID string) []byte {
	return []byte("h/" + seg(tenantID) + "/" + seg(orderID) + "/")
}

func historyKey(tenantID, orderID string, version int64) []byte {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(version))
	return append(historyPrefix(tenantID, orderID), v[:]...)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrUnavailable, op, err)
}

func getJSON(r pebbleReader, key []byte, v any) (bool, error) {
	val, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	return true, json.Unmarshal(val, v)
}

func getCount(r pebbleReader, key []byte) (int, error) {
	val, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt count at %q", key)
	}
	return int(int64(binary.BigEndian.Uint64(val))), nil
}

func encodeCount(n int) []byte {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(int64(n)))
	return v[:]
}

func (p *PebbleStore) owner(r pebbleReader, tenantID, orderID string) error {
	val, closer, err := r.Get(ownerKey(orderID))
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return unavailable("read owner", err)
	}
	owner := string(val)
	closer.Close()
	if owner != tenantID {
		return fmt.Errorf("%w: order %s belongs to another tenant", domain.ErrForbidden, orderID)
	}
	return nil
}

func (p *PebbleStore) load(r pebbleReader, tenantID, orderID string) (domain.Order, error) {
	if err := p.owner(r, tenantID, orderID); err != nil {
		return domain.Order{}, err
	}
	var o domain.Order
	found, err := getJSON(r, orderKey(tenantID, orderID), &o)
	if err != nil {
		return domain.Order{}, unavailable("read order", err)
	}
	if !found {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	return o, nil
}

func (p *PebbleStore) Create(ctx context.Context, n domain.NewOrder) (domain.Order, error) {
	if err := n.Validate(); err != nil {
		return domain.Order{}, err
	}
	id, err := newOrderID()
	if err != nil {
		return domain.Order{}, unavailable("generate id", err)
	}
	o := newOrder(id, n, stamp(p.now()))
	body, err := json.Marshal(o)
	if err != nil {
		return domain.Order{}, err
	}
	change, err := json.Marshal(domain.StatusChange{OrderID: id, To: o.Status, Version: o.Version, ChangedAt: o.CreatedAt})
	if err != nil {
		return domain.Order{}, err
	}

	w := p.writer(n.TenantID)
	w.Lock()
	defer w.Unlock()

	placed, err := getCount(p.db, countKey(n.TenantID, o.Status))
	if err != nil {
		return domain.Order{}, unavailable("read count", err)
	}
	b := p.db.NewBatch()
	defer b.Close()
	_ = b.Set(ownerKey(id), []byte(n.TenantID), nil)
	_ = b.Set(orderKey(n.TenantID, id), body, nil)
	_ = b.Set(indexKey(n.TenantID, o.Status, o.CreatedAt, id), []byte(id), nil)
	_ = b.Set(countKey(n.TenantID, o.Status), encodeCount(placed+1), nil)
	_ = b.Set(historyKey(n.TenantID, id, o.Version), change, nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return domain.Order{}, unavailable("commit create", err)
	}
	return o, nil
}

func (p *PebbleStore) Get(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	return p.load(p.db, tenantID, orderID)
}

func (p *PebbleStore) ApplyTransition(ctx context.Context, tenantID, orderID string, expected, next domain.Status) (domain.Order, error) {
	w := p.writer(tenantID)
	w.Lock()
	defer w.Unlock()

	o, err := p.load(p.db, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status != expected {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s, expected %s", domain.ErrConflict, orderID, o.Status, expected)
	}
	if err := domain.CheckTransition(o, next); err != nil {
		return domain.Order{}, err
	}
	from, err := getCount(p.db, countKey(tenantID, expected))
	if err != nil {
		return domain.Order{}, unavailable("read count", err)
	}
	to, err := getCount(p.db, countKey(tenantID, next))
	if err != nil {
		return domain.Order{}, unavailable("read count", err)
	}

	o.Status = next
	o.Version++
	o.UpdatedAt = stamp(p.now())
	body, err := json.Marshal(o)
	if err != nil {
		return domain.Order{}, err
	}
	change, err := json.Marshal(domain.StatusChange{
		OrderID: orderID, From: expected, To: next, Version: o.Version, ChangedAt: o.UpdatedAt,
	})
	if err != nil {
		return domain.Order{}, err
	}

	b := p.db.NewBatch()
	defer b.Close()
	_ = b.Set(orderKey(tenantID, orderID), body, nil)
	_ = b.Delete(indexKey(tenantID, expected, o.CreatedAt, orderID), nil)
	_ = b.Set(indexKey(tenantID, next, o.CreatedAt, orderID), []byte(orderID), nil)
	_ = b.Set(countKey(tenantID, expected), encodeCount(from-1), nil)
	_ = b.Set(countKey(tenantID, next), encodeCount(to+1), nil)
	_ = b.Set(historyKey(tenantID, orderID, o.Version), change, nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return domain.Order{}, unavailable("commit transition", err)
	}
	return o, nil
}

func (p *PebbleStore) QueryByStatus(ctx context.Context, q domain.Query) (domain.Page, error) {
	if err := q.Validate(); err != nil {
		return domain.Page{}, err
	}
	snap := p.db.NewSnapshot()
	defer snap.Close()

	total, err := getCount(snap, countKey(q.TenantID, q.Status))
	if err != nil {
		return domain.Page{}, unavailable("read count", err)
	}

	prefix := indexPrefix(q.TenantID, q.Status)
	it, err := snap.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return domain.Page{}, unavailable("open iterator", err)
	}
	defer it.Close()

	var valid bool
	if q.After != nil {
		start := indexKey(q.TenantID, q.Status, q.After.CreatedAt, q.After.ID)
		valid = it.SeekGE(start)
		if valid && string(it.Key()) == string(start) {
			valid = it.Next()
		}
	} else {
		valid = it.First()
		for skip := q.Offset(); valid && skip > 0; skip-- {
			valid = it.Next()
		}
	}

	orders := make([]domain.Order, 0, q.PageSize)
	for ; valid && len(orders) < q.PageSize; valid = it.Next() {
		if err := ctx.Err(); err != nil {
			return domain.Page{}, err
		}
		orderID := string(it.Value())
		var o domain.Order
		found, err := getJSON(snap, orderKey(q.TenantID, orderID), &o)
		if err != nil {
			return domain.Page{}, unavailable("read order", err)
		}
		if found {
			orders = append(orders, o)
		}
	}
	if err := it.Error(); err != nil {
		return domain.Page{}, unavailable("iterate", err)
	}
	return domain.NewPage(q, total, orders, valid), nil
}

func (p *PebbleStore) Counts(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	snap := p.db.NewSnapshot()
	defer snap.Close()
	out := domain.NewCountSnapshot()
	for _, s := range domain.AllStatuses {
		n, err := getCount(snap, countKey(tenantID, s))
		if err != nil {
			return nil, unavailable("read count", err)
		}
		out[s] = n
	}
	return out, nil
}

func (p *PebbleStore) Recount(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	w := p.writer(tenantID)
	w.Lock()
	defer w.Unlock()

	snap := domain.NewCountSnapshot()
	if err := p.scan(ctx, p.db, tenantID, func(o domain.Order) error {
		snap[o.Status]++
		return nil
	}); err != nil {
		return nil, err
	}
	b := p.db.NewBatch()
	defer b.Close()
	for s, n := range snap {
		_ = b.Set(countKey(tenantID, s), encodeCount(n), nil)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, unavailable("commit recount", err)
	}
	return snap, nil
}

func (p *PebbleStore) History(ctx context.Context, tenantID, orderID string) ([]domain.StatusChange, error) {
	snap := p.db.NewSnapshot()
	defer snap.Close()
	if err := p.owner(snap, tenantID, orderID); err != nil {
		return nil, err
	}
	prefix := historyPrefix(tenantID, orderID)
	it, err := snap.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, unavailable("open iterator", err)
	}
	defer it.Close()

	var out []domain.StatusChange
	for valid := it.First(); valid; valid = it.Next() {
		var c domain.StatusChange
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		out = append(out, c)
	}
	return out, it.Error()
}

func (p *PebbleStore) Scan(ctx context.Context, tenantID string, fn func(domain.Order) error) error {
	snap := p.db.NewSnapshot()
	defer snap.Close()
	return p.scan(ctx, snap, tenantID, fn)
}

func (p *PebbleStore) scan(ctx context.Context, r pebbleReader, tenantID string, fn func(domain.Order) error) error {
	prefix := orderPrefix(tenantID)
	it, err := r.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return unavailable("open iterator", err)
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var o domain.Order
		if err := json.Unmarshal(it.Value(), &o); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return it.Error()
}
