package domain

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPlaced    Status = "ORDER_PLACED"
	StatusAccepted  Status = "ACCEPTED"
	StatusReady     Status = "ORDER_READY"
	StatusPickedUp  Status = "ORDER_PICKED_UP"
	StatusDelivered Status = "ORDER_DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPlaced,
	StatusAccepted,
	StatusReady,
	StatusPickedUp,
	StatusDelivered,
	StatusCancelled,
}

type OrderType string

const (
	OrderTypeDelivery OrderType = "delivery"
	OrderTypePickup   OrderType = "pickup"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeDelivery || t == OrderTypePickup
}

// allowed is the transition table. ORDER_READY is resolved per order type
// in AllowedNext, so it is absent here.
var allowed = map[Status]map[Status]bool{
	StatusPlaced:    {StatusAccepted: true, StatusCancelled: true},
	StatusAccepted:  {StatusReady: true, StatusCancelled: true},
	StatusPickedUp:  {},
	StatusDelivered: {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusPickedUp || s == StatusDelivered || s == StatusCancelled
}

// ParseStatus accepts the canonical upper-case names, case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
	return s, nil
}

// AllowedNext returns the statuses reachable from current for an order of
// the given type, in table order.
func AllowedNext(current Status, typ OrderType) []Status {
	if current == StatusReady {
		switch typ {
		case OrderTypePickup:
			return []Status{StatusPickedUp, StatusCancelled}
		case OrderTypeDelivery:
			return []Status{StatusDelivered, StatusCancelled}
		default:
			return []Status{StatusCancelled}
		}
	}
	var out []Status
	for _, s := range AllStatuses {
		if allowed[current][s] {
			out = append(out, s)
		}
	}
	return out
}

func CanTransition(current, next Status, typ OrderType) bool {
	for _, s := range AllowedNext(current, typ) {
		if s == next {
			return true
		}
	}
	return false
}

// CheckTransition is CanTransition with an error suitable for callers.
func CheckTransition(o Order, next Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, next)
	}
	if !CanTransition(o.Status, next, o.Type) {
		return fmt.Errorf("%w: order %s is %s, cannot move to %s", ErrInvalidTransition, o.ID, o.Status, next)
	}
	return nil
}
