package domain

import "github.com/shopspring/decimal"

type CreateOrderItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	FoodType  string          `json:"food_type,omitempty"`
}

type CreateOrderRequest struct {
	CustomerName  string            `json:"customer_name,omitempty"`
	OrderType     OrderType         `json:"order_type"`
	PaymentStatus string            `json:"payment_status,omitempty"`
	Items         []CreateOrderItem `json:"items"`
}

type TransitionRequest struct {
	Status Status `json:"status"`
}

// ToNewOrder prices the request: line totals are quantity times unit
// price, the total is their sum.
func (r CreateOrderRequest) ToNewOrder(tenantID string) NewOrder {
	items := make([]OrderItem, 0, len(r.Items))
	total := decimal.Zero
	for _, in := range r.Items {
		line := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
		total = total.Add(line)
		items = append(items, OrderItem{
			Name:      in.Name,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			LineTotal: line,
			FoodType:  in.FoodType,
		})
	}
	payment := r.PaymentStatus
	if payment == "" {
		payment = "pending"
	}
	return NewOrder{
		TenantID:      tenantID,
		CustomerName:  r.CustomerName,
		Type:          r.OrderType,
		Items:         items,
		TotalAmount:   total,
		PaymentStatus: payment,
	}
}
