package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// PageSizes are the page sizes a dashboard may request.
var PageSizes = []int{10, 25, 50, 75}

type Query struct {
	TenantID string
	Status   Status
	Page     int
	PageSize int
	// After switches to keyset paging: only orders strictly older than the
	// cursor are returned.
	After *Cursor
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if !q.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, q.Status)
	}
	if q.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1", ErrValidation)
	}
	for _, s := range PageSizes {
		if q.PageSize == s {
			return nil
		}
	}
	return fmt.Errorf("%w: page size must be one of %v", ErrValidation, PageSizes)
}

// Offset is the number of orders skipped in offset mode.
func (q Query) Offset() int { return (q.Page - 1) * q.PageSize }

type Page struct {
	Orders     []Order `json:"orders"`
	TotalCount int     `json:"total_count"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
	TotalPages int     `json:"total_pages"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

func TotalPages(total, size int) int {
	if size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// NewPage assembles a page; more reports whether orders exist past the
// last one returned.
func NewPage(q Query, total int, orders []Order, more bool) Page {
	if orders == nil {
		orders = []Order{}
	}
	p := Page{
		Orders:     orders,
		TotalCount: total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: TotalPages(total, q.PageSize),
	}
	if more && len(orders) > 0 {
		p.NextCursor = CursorOf(orders[len(orders)-1]).Encode()
	}
	return p
}

// Newer reports whether a sorts before b: created_at descending, then id
// descending.
func Newer(a, b Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Cursor marks a position in the newest-first ordering.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func CursorOf(o Order) Cursor { return Cursor{CreatedAt: o.CreatedAt, ID: o.ID} }

// Before reports whether o sorts strictly after the cursor position.
func (c Cursor) Before(o Order) bool {
	if !o.CreatedAt.Equal(c.CreatedAt) {
		return o.CreatedAt.Before(c.CreatedAt)
	}
	return o.ID < c.ID
}

func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	return &Cursor{CreatedAt: at, ID: id}, nil
}
