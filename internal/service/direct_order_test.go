package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/service"
)

func directFixtures() (*domain.Supplier, []domain.CatalogEntry) {
	sup := &domain.Supplier{
		ID:             supplierA.UserID,
		Name:           "Acme Aggregates",
		IsActive:       true,
		MinOrderValue:  dec("50"),
		DeliveryFee:    dec("8"),
		OffersPickup:   true,
		OffersDelivery: true,
	}
	entries := []domain.CatalogEntry{{
		ID:                  5,
		SupplierID:          supplierA.UserID,
		Name:                "Gravel 20mm",
		Unit:                "bag",
		UnitPrice:           dec("4"),
		IsActive:            true,
		DirectOrderEligible: true,
		PickupAvailable:     true,
		DeliveryAvailable:   true,
	}}
	return sup, entries
}

func TestDirectOrderService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Below supplier minimum", func(t *testing.T) {
		store, pub := newMockStore(), &recordingPublisher{}
		svc := service.NewDirectOrderService(newDeps(store, pub))
		sup, entries := directFixtures()
		store.catalog.On("GetSupplier", mock.Anything, sup.ID).Return(sup, nil)
		store.catalog.On("ListEntries", mock.Anything, []int64{5}).Return(entries, nil)

		_, err := svc.Create(ctx, buyer, service.DirectOrderInput{
			SupplierID: sup.ID,
			Items:      []service.DirectOrderItem{{CatalogEntryID: 5, Quantity: dec("10")}},
			Mode:       domain.ModePickup,
		})
		require.Error(t, err)
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "40.00")
		assert.Contains(t, err.Error(), "50.00")
		assert.Contains(t, err.Error(), "short by 10.00")
		store.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		assert.Empty(t, pub.types())
	})

	t.Run("Delivery order priced server-side", func(t *testing.T) {
		store, pub := newMockStore(), &recordingPublisher{}
		svc := service.NewDirectOrderService(newDeps(store, pub))
		sup, entries := directFixtures()
		store.catalog.On("GetSupplier", mock.Anything, sup.ID).Return(sup, nil)
		store.catalog.On("ListEntries", mock.Anything, []int64{5}).Return(entries, nil)
		store.orders.On("Create", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)

		w := window(24, 28)
		order, err := svc.Create(ctx, buyer, service.DirectOrderInput{
			SupplierID:      sup.ID,
			Items:           []service.DirectOrderItem{{CatalogEntryID: 5, Quantity: dec("15")}},
			Mode:            domain.ModeDelivery,
			DeliveryAddress: "1 Site Rd",
			Window:          &w,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, order.Status)
		assert.Equal(t, "60.00", order.TotalAmount.StringFixed(2))
		assert.Equal(t, "8.00", order.DeliveryFee.StringFixed(2))
		assert.Equal(t, "6.00", order.TaxAmount.StringFixed(2))
		assert.Equal(t, "74.00", order.GrandTotal.StringFixed(2))
		assert.Equal(t, domain.ProposalPending, order.ProposalStatus)
		assert.Equal(t, domain.RoleBuyer, order.ProposedBy)
		assert.Equal(t, []string{domain.EventOrderCreated, domain.EventOrderCreated}, pub.types())

		private := pub.toGroup(domain.UserGroup(buyer.UserID))
		require.Len(t, private, 1)
		assert.Same(t, order, private[0].Payload)
		assert.Contains(t, private[0].Groups, domain.UserGroup(sup.ID))

		public := pub.toGroup(domain.GroupOrdersList)
		require.Len(t, public, 1)
		summary, ok := public[0].Payload.(domain.OrderSummary)
		require.True(t, ok, "orders:list gets a summary, got %T", public[0].Payload)
		assert.Equal(t, order.OrderNumber, summary.OrderNumber)
		assert.Equal(t, []string{domain.GroupOrdersList}, public[0].Groups)
		assert.Empty(t, pub.toGroup(domain.GroupSuppliers))
	})

	t.Run("Entry from another supplier", func(t *testing.T) {
		store := newMockStore()
		svc := service.NewDirectOrderService(newDeps(store, &recordingPublisher{}))
		sup, entries := directFixtures()
		entries[0].SupplierID = 99
		store.catalog.On("GetSupplier", mock.Anything, sup.ID).Return(sup, nil)
		store.catalog.On("ListEntries", mock.Anything, []int64{5}).Return(entries, nil)

		_, err := svc.Create(ctx, buyer, service.DirectOrderInput{
			SupplierID: sup.ID,
			Items:      []service.DirectOrderItem{{CatalogEntryID: 5, Quantity: dec("20")}},
			Mode:       domain.ModePickup,
		})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("Supplier without delivery", func(t *testing.T) {
		store := newMockStore()
		svc := service.NewDirectOrderService(newDeps(store, &recordingPublisher{}))
		sup, _ := directFixtures()
		sup.OffersDelivery = false
		store.catalog.On("GetSupplier", mock.Anything, sup.ID).Return(sup, nil)

		_, err := svc.Create(ctx, buyer, service.DirectOrderInput{
			SupplierID:      sup.ID,
			Items:           []service.DirectOrderItem{{CatalogEntryID: 5, Quantity: dec("20")}},
			Mode:            domain.ModeDelivery,
			DeliveryAddress: "1 Site Rd",
		})
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	})

	t.Run("Invalid input never reaches the store", func(t *testing.T) {
		store := newMockStore()
		svc := service.NewDirectOrderService(newDeps(store, &recordingPublisher{}))

		_, err := svc.Create(ctx, buyer, service.DirectOrderInput{SupplierID: 21, Mode: domain.ModePickup})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Zero(t, store.txCount)
	})
}
