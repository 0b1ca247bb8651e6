package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Type          OrderType       `json:"order_type"`
	Status        Status          `json:"status"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus string          `json:"payment_status"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type OrderItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	FoodType  string          `json:"food_type,omitempty"`
}

// Clone returns a copy that shares no slices with o.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	return c
}

// StatusChange is one row of an order's timeline.
type StatusChange struct {
	OrderID   string    `json:"order_id"`
	From      Status    `json:"from,omitempty"`
	To        Status    `json:"to"`
	Version   int64     `json:"version"`
	ChangedAt time.Time `json:"changed_at"`
}

// NewOrder is what a store persists on create. Line totals and the total
// amount are already computed.
type NewOrder struct {
	TenantID      string
	CustomerName  string
	Type          OrderType
	Items         []OrderItem
	TotalAmount   decimal.Decimal
	PaymentStatus string
}

func (n NewOrder) Validate() error {
	if strings.TrimSpace(n.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: invalid order type %q", ErrValidation, n.Type)
	}
	if len(n.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for i, it := range n.Items {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("%w: item %d has no name", ErrValidation, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: invalid quantity for item %s", ErrValidation, it.Name)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: invalid price for item %s", ErrValidation, it.Name)
		}
	}
	return nil
}
