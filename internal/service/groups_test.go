package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/service"
)

func TestGroupAccess_AuthorizeGroup(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	access := service.NewGroupAccess(store)
	o := pendingOrder(1)
	b := booking(2, domain.RentalStatusActive, "2026-03-10")
	store.orders.On("GetByNumber", mock.Anything, o.OrderNumber).Return(o, nil)
	store.orders.On("GetByNumber", mock.Anything, "ORD-MISSING").Return(nil, apperr.NotFound("order not found"))
	store.rentals.On("GetByNumber", mock.Anything, b.BookingNumber).Return(b, nil)

	assert.NoError(t, access.AuthorizeGroup(ctx, buyer, domain.OrderGroup(o.OrderNumber)))
	assert.NoError(t, access.AuthorizeGroup(ctx, supplierA, domain.OrderGroup(o.OrderNumber)))
	assert.NoError(t, access.AuthorizeGroup(ctx, supplierA, domain.RentalGroup(b.BookingNumber)))

	for name, tc := range map[string]struct {
		actor domain.Actor
		group string
	}{
		"foreign supplier": {supplierB, domain.OrderGroup(o.OrderNumber)},
		"unknown order":    {buyer, domain.OrderGroup("ORD-MISSING")},
		"foreign rental":   {domain.Actor{UserID: 8, Role: domain.RoleBuyer}, domain.RentalGroup(b.BookingNumber)},
		"other group":      {buyer, domain.GroupSuppliers},
	} {
		t.Run(name, func(t *testing.T) {
			err := access.AuthorizeGroup(ctx, tc.actor, tc.group)
			assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
		})
	}
}
