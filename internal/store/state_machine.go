package store

import (
	"errors"
	"fmt"
)

const (
	OrderPending   = "pending"
	OrderReady     = "ready"
	OrderAssigned  = "assigned"
	OrderPickedUp  = "picked_up"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"
)

var (
	ErrInvalidStateTransition = errors.New("invalid order status transition")
	ErrInvalidID              = errors.New("invalid identifier")
)

var terminalStatuses = map[string]bool{
	OrderDelivered: true,
	OrderCancelled: true,
}

var allowedTransitions = map[string]map[string]bool{
	OrderPending: {
		OrderReady:     true,
		OrderAssigned:  true,
		OrderCancelled: true,
	},
	OrderReady: {
		OrderAssigned:  true,
		OrderCancelled: true,
	},
	OrderAssigned: {
		OrderPickedUp:  true,
		OrderCancelled: true,
	},
	OrderPickedUp: {
		OrderDelivered: true,
		OrderCancelled: true,
	},
}

// activeStatuses count against a driver's concurrent-order cap.
var activeStatuses = []string{OrderAssigned, OrderPickedUp}

// IsDispatchable reports whether an order in this status may be offered to drivers.
func IsDispatchable(status string) bool {
	return status == OrderPending || status == OrderReady
}

func IsTerminal(status string) bool {
	return terminalStatuses[status]
}

func ValidateOrderTransition(from, to string) error {
	if terminalStatuses[from] {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidStateTransition, from)
	}

	if allowed, ok := allowedTransitions[from][to]; !ok || !allowed {
		return fmt.Errorf("%w: %s to %s", ErrInvalidStateTransition, from, to)
	}

	return nil
}
