package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
)

var allOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusInTransit,
	domain.OrderStatusDelivered,
	domain.OrderStatusCompleted,
	domain.OrderStatusDisputed,
	domain.OrderStatusCancelled,
}

func newOrder(status domain.OrderStatus, mode domain.FulfillmentMode) *domain.Order {
	return &domain.Order{
		ID:          1,
		OrderNumber: "ORD-20251103-ABC123",
		BuyerID:     10,
		SupplierID:  20,
		Mode:        mode,
		Status:      status,
		TotalAmount: decimal.RequireFromString("100"),
		DeliveryFee: decimal.RequireFromString("15"),
		TaxAmount:   decimal.RequireFromString("8.25"),
		Negotiation: domain.NewNegotiation(),
	}
}

func TestOrderEdgeAllowed(t *testing.T) {
	allowed := map[[2]domain.OrderStatus]bool{
		{domain.OrderStatusPending, domain.OrderStatusConfirmed}:   true,
		{domain.OrderStatusConfirmed, domain.OrderStatusInTransit}: true,
		{domain.OrderStatusInTransit, domain.OrderStatusDelivered}: true,
		{domain.OrderStatusDelivered, domain.OrderStatusCompleted}: true,
		{domain.OrderStatusDelivered, domain.OrderStatusDisputed}:  true,
		{domain.OrderStatusPending, domain.OrderStatusCancelled}:   true,
		{domain.OrderStatusConfirmed, domain.OrderStatusCancelled}: true,
	}
	for _, from := range allOrderStatuses {
		for _, to := range allOrderStatuses {
			assert.Equal(t, allowed[[2]domain.OrderStatus{from, to}], domain.OrderEdgeAllowed(from, to), "%s -> %s", from, to)
		}
	}
}

func TestOrder_Transition(t *testing.T) {
	now := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	in := func(r domain.Role) domain.TransitionInput {
		return domain.TransitionInput{Actor: r, Now: now}
	}

	t.Run("Delivery happy path", func(t *testing.T) {
		o := newOrder(domain.OrderStatusPending, domain.ModeDelivery)
		_, err := o.Transition(domain.OrderEventSupplierConfirm, in(domain.RoleSupplier))
		require.NoError(t, err)
		_, err = o.Transition(domain.OrderEventDispatch, in(domain.RoleSupplier))
		require.NoError(t, err)
		from, err := o.Transition(domain.OrderEventRecordDelivery, in(domain.RoleSupplier))
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusInTransit, from)
		assert.Equal(t, domain.OrderStatusDelivered, o.Status)
		require.NotNil(t, o.ConfirmationDeadline)
		assert.Equal(t, now.Add(24*time.Hour), *o.ConfirmationDeadline)
		_, err = o.Transition(domain.OrderEventConfirmReceipt, in(domain.RoleBuyer))
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCompleted, o.Status)
		assert.True(t, o.GrandTotal.Equal(decimal.RequireFromString("123.25")))
	})

	t.Run("Illegal edge names both states", func(t *testing.T) {
		o := newOrder(domain.OrderStatusCompleted, domain.ModeDelivery)
		_, err := o.Transition(domain.OrderEventCancel, domain.TransitionInput{Actor: domain.RoleBuyer, Now: now, Reason: "x"})
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "completed")
		assert.Contains(t, err.Error(), "cancelled")
		assert.Equal(t, domain.OrderStatusCompleted, o.Status)
	})

	t.Run("Cancel needs a reason", func(t *testing.T) {
		o := newOrder(domain.OrderStatusConfirmed, domain.ModePickup)
		_, err := o.Transition(domain.OrderEventCancel, in(domain.RoleSupplier))
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Equal(t, domain.OrderStatusConfirmed, o.Status)
	})

	t.Run("Mode guards", func(t *testing.T) {
		o := newOrder(domain.OrderStatusConfirmed, domain.ModePickup)
		_, err := o.Transition(domain.OrderEventDispatch, in(domain.RoleSupplier))
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		_, err = o.Transition(domain.OrderEventReadyForPickup, in(domain.RoleSupplier))
		require.NoError(t, err)
		_, err = o.Transition(domain.OrderEventConfirmPickup, in(domain.RoleBuyer))
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusDelivered, o.Status)
	})

	t.Run("Buyer cannot confirm for supplier", func(t *testing.T) {
		o := newOrder(domain.OrderStatusPending, domain.ModeDelivery)
		_, err := o.Transition(domain.OrderEventSupplierConfirm, in(domain.RoleBuyer))
		assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	})

	t.Run("Window agreed requires accepted proposal", func(t *testing.T) {
		o := newOrder(domain.OrderStatusPending, domain.ModeDelivery)
		_, err := o.Transition(domain.OrderEventWindowAgreed, in(domain.RoleBuyer))
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

		require.NoError(t, o.Propose(domain.RoleSupplier, window(9, 12)))
		require.NoError(t, o.Accept(domain.RoleBuyer))
		_, err = o.Transition(domain.OrderEventWindowAgreed, in(domain.RoleBuyer))
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusConfirmed, o.Status)
	})

	t.Run("Unknown event", func(t *testing.T) {
		o := newOrder(domain.OrderStatusPending, domain.ModeDelivery)
		_, err := o.Transition("teleport", in(domain.RoleSupplier))
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
}

func TestOrder_AutoCompleteDeadline(t *testing.T) {
	delivered := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	o := newOrder(domain.OrderStatusInTransit, domain.ModeDelivery)
	_, err := o.Transition(domain.OrderEventRecordDelivery, domain.TransitionInput{
		Actor: domain.RoleSupplier, Now: delivered, ConfirmationWindow: 24 * time.Hour,
	})
	require.NoError(t, err)

	t.Run("Before deadline", func(t *testing.T) {
		_, err := o.Transition(domain.OrderEventConfirmReceipt, domain.TransitionInput{
			Actor: domain.RoleSystem, Now: delivered.Add(23 * time.Hour),
		})
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Equal(t, domain.OrderStatusDelivered, o.Status)
	})

	t.Run("At deadline", func(t *testing.T) {
		at := delivered.Add(24 * time.Hour)
		_, err := o.Transition(domain.OrderEventConfirmReceipt, domain.TransitionInput{
			Actor: domain.RoleSystem, Now: at,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCompleted, o.Status)
		assert.Equal(t, at, *o.CompletedAt)
	})
}

func TestOrder_RecomputeTotals(t *testing.T) {
	o := newOrder(domain.OrderStatusPending, domain.ModeDelivery)
	o.GrandTotal = decimal.RequireFromString("1")
	o.RecomputeTotals()
	assert.True(t, o.GrandTotal.Equal(decimal.RequireFromString("123.25")))
	assert.True(t, domain.TaxOn(decimal.RequireFromString("100"), decimal.RequireFromString("0.0825")).Equal(decimal.RequireFromString("8.25")))
	assert.True(t, domain.TaxOn(decimal.RequireFromString("100"), decimal.Zero).IsZero())
}
