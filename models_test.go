package shopstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_Transitions(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		ok   bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusPaid, OrderStatusShipped, true},
		{OrderStatusPaid, OrderStatusRefunded, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusDelivered, OrderStatusRefunded, true},
		{OrderStatusCancelled, OrderStatusPaid, false},
		{OrderStatusRefunded, OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrderStatus_Properties(t *testing.T) {
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRefunded.IsTerminal())
	assert.False(t, OrderStatusShipped.IsTerminal())

	assert.True(t, OrderStatusPending.RestocksOnCancel())
	assert.True(t, OrderStatusPaid.RestocksOnCancel())
	assert.False(t, OrderStatusShipped.RestocksOnCancel())

	assert.True(t, OrderStatusDelivered.Valid())
	assert.False(t, OrderStatus("LOST").Valid())
	assert.False(t, ProductStatus("HIDDEN").Valid())
}

func TestDiscountCode_Redeemable(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	deleted := now.Add(-time.Hour)

	tests := []struct {
		name string
		code DiscountCode
		want bool
	}{
		{"active", DiscountCode{Active: true}, true},
		{"inactive", DiscountCode{}, false},
		{"soft deleted", DiscountCode{Active: true, Lifecycle: Lifecycle{DeletedAt: &deleted}}, false},
		{"not started", DiscountCode{Active: true, StartsAt: ToPtr(now.Add(time.Minute))}, false},
		{"ends now", DiscountCode{Active: true, EndsAt: ToPtr(now)}, false},
		{"within window", DiscountCode{Active: true, StartsAt: ToPtr(now.Add(-time.Hour)), EndsAt: ToPtr(now.Add(time.Hour))}, true},
		{"exhausted", DiscountCode{Active: true, MaxRedemptions: 2, Redemptions: 2}, false},
		{"one left", DiscountCode{Active: true, MaxRedemptions: 2, Redemptions: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Redeemable(now))
		})
	}
}
