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

func sampleRFQ() *domain.RFQ {
	return &domain.RFQ{
		ID:      7,
		BuyerID: 10,
		Lines: []domain.RFQLine{
			{Description: "Rebar 12mm", Quantity: decimal.NewFromInt(10), Unit: "pc"},
			{Description: "Cement", Quantity: decimal.RequireFromString("2.5"), Unit: "t"},
		},
		Status: domain.RFQStatusActive,
	}
}

func TestOfferTerms_Validate(t *testing.T) {
	now := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	rfq := sampleRFQ()
	terms := domain.OfferTerms{
		LinePrices: []domain.LinePrice{{UnitPrice: decimal.NewFromInt(5)}, {UnitPrice: decimal.NewFromInt(20)}},
		ExpiresAt:  now.Add(72 * time.Hour),
	}
	assert.NoError(t, terms.Validate(rfq, now))

	t.Run("Line count mismatch", func(t *testing.T) {
		bad := terms
		bad.LinePrices = bad.LinePrices[:1]
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(bad.Validate(rfq, now)))
	})

	t.Run("Negative price", func(t *testing.T) {
		bad := terms
		bad.LinePrices = []domain.LinePrice{{UnitPrice: decimal.NewFromInt(-1)}, {UnitPrice: decimal.Zero}}
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(bad.Validate(rfq, now)))
	})

	t.Run("Already expired", func(t *testing.T) {
		bad := terms
		bad.ExpiresAt = now
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(bad.Validate(rfq, now)))
	})
}

func TestOffer_Apply(t *testing.T) {
	now := time.Now().UTC()
	withdrawn := domain.OfferStatusWithdrawn
	accepted := domain.OfferStatusAccepted

	o := &domain.Offer{ID: 1, Status: domain.OfferStatusPending, TotalAmount: decimal.NewFromInt(100)}
	require.NoError(t, o.Apply(domain.OfferTerms{TotalAmount: decimal.NewFromInt(90)}, now))
	assert.Equal(t, domain.OfferStatusPending, o.Status)
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(90)))

	require.NoError(t, o.Apply(domain.OfferTerms{TotalAmount: decimal.NewFromInt(90), Status: &withdrawn}, now))
	assert.Equal(t, domain.OfferStatusWithdrawn, o.Status)

	err := o.Apply(domain.OfferTerms{Status: &accepted}, now)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, domain.OfferStatusWithdrawn, o.Status)
}

func TestOffer_OrderItems(t *testing.T) {
	rfq := sampleRFQ()
	o := &domain.Offer{ID: 1, LinePrices: []domain.LinePrice{
		{UnitPrice: decimal.RequireFromString("4.99")},
		{UnitPrice: decimal.RequireFromString("101.10")},
	}}
	items, err := o.OrderItems(rfq)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Rebar 12mm", items[0].Description)
	assert.True(t, items[0].LineTotal.Equal(decimal.RequireFromString("49.90")))
	assert.True(t, items[1].LineTotal.Equal(decimal.RequireFromString("252.75")))

	o.LinePrices = o.LinePrices[:1]
	_, err = o.OrderItems(rfq)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestOffer_CanAccept(t *testing.T) {
	now := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	o := &domain.Offer{ID: 1, Status: domain.OfferStatusPending, ExpiresAt: now.Add(time.Hour)}
	assert.NoError(t, o.CanAccept(now))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(o.CanAccept(now.Add(time.Hour))))
	o.Status = domain.OfferStatusRejected
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(o.CanAccept(now)))
}

func TestDistinctSuppliers(t *testing.T) {
	ids, err := domain.DistinctSuppliers([]int64{3, 1, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	_, err = domain.DistinctSuppliers([]int64{1, 2, 3, 4, 5, 6})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = domain.DistinctSuppliers(nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
