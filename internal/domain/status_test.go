package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_Table(t *testing.T) {
	valid := map[OrderType]map[Status][]Status{
		OrderTypePickup: {
			StatusPlaced:   {StatusAccepted, StatusCancelled},
			StatusAccepted: {StatusReady, StatusCancelled},
			StatusReady:    {StatusPickedUp, StatusCancelled},
		},
		OrderTypeDelivery: {
			StatusPlaced:   {StatusAccepted, StatusCancelled},
			StatusAccepted: {StatusReady, StatusCancelled},
			StatusReady:    {StatusDelivered, StatusCancelled},
		},
	}
	for typ, table := range valid {
		for _, from := range AllStatuses {
			for _, to := range AllStatuses {
				want := false
				for _, ok := range table[from] {
					if ok == to {
						want = true
					}
				}
				assert.Equal(t, want, CanTransition(from, to, typ), "%s: %s -> %s", typ, from, to)
			}
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range []Status{StatusPickedUp, StatusDelivered, StatusCancelled} {
		assert.True(t, s.Terminal())
		assert.Empty(t, AllowedNext(s, OrderTypePickup))
		assert.Empty(t, AllowedNext(s, OrderTypeDelivery))
	}
	assert.False(t, StatusReady.Terminal())
}

func TestCheckTransition_Errors(t *testing.T) {
	o := Order{ID: "o1", Status: StatusPlaced, Type: OrderTypeDelivery}
	require.NoError(t, CheckTransition(o, StatusAccepted))
	assert.ErrorIs(t, CheckTransition(o, StatusDelivered), ErrInvalidTransition)
	assert.ErrorIs(t, CheckTransition(o, Status("LOST")), ErrValidation)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" order_ready ")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, s)

	_, err = ParseStatus("cooking")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateOrderRequest_Pricing(t *testing.T) {
	req := CreateOrderRequest{
		OrderType: OrderTypePickup,
		Items: []CreateOrderItem{
			{Name: "Margherita", Quantity: 2, UnitPrice: decimal.RequireFromString("9.50"), FoodType: "veg"},
			{Name: "Cola", Quantity: 3, UnitPrice: decimal.RequireFromString("1.25")},
		},
	}
	n := req.ToNewOrder("t1")
	require.NoError(t, n.Validate())
	assert.Equal(t, "19", n.Items[0].LineTotal.String())
	assert.Equal(t, "3.75", n.Items[1].LineTotal.String())
	assert.Equal(t, "22.75", n.TotalAmount.String())
	assert.Equal(t, "pending", n.PaymentStatus)
}

func TestNewOrder_Validate(t *testing.T) {
	good := NewOrder{
		TenantID: "t1",
		Type:     OrderTypeDelivery,
		Items:    []OrderItem{{Name: "Soup", Quantity: 1, UnitPrice: decimal.NewFromInt(4)}},
	}
	require.NoError(t, good.Validate())

	cases := map[string]func(n *NewOrder){
		"no tenant":     func(n *NewOrder) { n.TenantID = " " },
		"no items":      func(n *NewOrder) { n.Items = nil },
		"bad type":      func(n *NewOrder) { n.Type = "dine_in" },
		"zero quantity": func(n *NewOrder) { n.Items = []OrderItem{{Name: "Soup", Quantity: 0}} },
		"negative":      func(n *NewOrder) { n.Items = []OrderItem{{Name: "Soup", Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}} },
		"no name":       func(n *NewOrder) { n.Items = []OrderItem{{Quantity: 1}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			n := good
			mutate(&n)
			assert.ErrorIs(t, n.Validate(), ErrValidation)
		})
	}
}

func TestQueryValidate(t *testing.T) {
	q := Query{TenantID: "t1", Status: StatusPlaced, Page: 1, PageSize: 25}
	require.NoError(t, q.Validate())

	for _, size := range []int{0, 5, 20, 100} {
		bad := q
		bad.PageSize = size
		assert.ErrorIs(t, bad.Validate(), ErrValidation, fmt.Sprint(size))
	}
	bad := q
	bad.Page = 0
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 2, TotalPages(11, 10))
	assert.Equal(t, 2, TotalPages(75, 50))
}

func TestCursor(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 123000, time.UTC)
	c := Cursor{CreatedAt: at, ID: "0190-b"}

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(at))
	assert.Equal(t, "0190-b", decoded.ID)

	assert.True(t, c.Before(Order{ID: "0190-a", CreatedAt: at}))
	assert.False(t, c.Before(Order{ID: "0190-c", CreatedAt: at}))
	assert.True(t, c.Before(Order{ID: "zzz", CreatedAt: at.Add(-time.Second)}))

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewer(t *testing.T) {
	at := time.Now()
	a := Order{ID: "b", CreatedAt: at}
	b := Order{ID: "a", CreatedAt: at}
	c := Order{ID: "z", CreatedAt: at.Add(-time.Millisecond)}
	assert.True(t, Newer(a, b))
	assert.True(t, Newer(b, c))
	assert.False(t, Newer(c, a))
}
