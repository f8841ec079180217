package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateOrderTransition(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{OrderPending, OrderReady, true},
		{OrderReady, OrderAssigned, true},
		{OrderAssigned, OrderPickedUp, true},
		{OrderPickedUp, OrderDelivered, true},
		{OrderReady, OrderCancelled, true},
		{OrderReady, OrderDelivered, false},
		{OrderAssigned, OrderReady, false},
		{OrderDelivered, OrderCancelled, false},
		{OrderCancelled, OrderReady, false},
	}

	for _, test := range tests {
		err := ValidateOrderTransition(test.from, test.to)
		if test.ok {
			assert.NoError(t, err, "%s -> %s", test.from, test.to)
			continue
		}

		assert.True(t, errors.Is(err, ErrInvalidStateTransition), "%s -> %s: %v", test.from, test.to, err)
	}
}

func TestDispatchableStatuses(t *testing.T) {
	assert.True(t, IsDispatchable(OrderPending))
	assert.True(t, IsDispatchable(OrderReady))
	assert.False(t, IsDispatchable(OrderAssigned))
	assert.False(t, IsDispatchable(OrderCancelled))

	assert.True(t, IsTerminal(OrderDelivered))
	assert.False(t, IsTerminal(OrderPickedUp))
}
