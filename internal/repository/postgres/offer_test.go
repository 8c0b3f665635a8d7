package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/repository/postgres"
)

func TestOfferRepository_MarkAccepted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewOfferRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec("UPDATE offers SET status = 'accepted'").
			WithArgs(now, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkAccepted(ctx, 7, now))
	})

	t.Run("AlreadyDecided", func(t *testing.T) {
		mock.ExpectExec("UPDATE offers SET status = 'accepted'").
			WithArgs(now, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkAccepted(ctx, 7, now)
		assert.True(t, apperr.IsConflict(err))
		assert.True(t, errors.Is(err, apperr.ErrNoRowsUpdated))
	})

	t.Run("SecondAcceptedOfferViolatesIndex", func(t *testing.T) {
		mock.ExpectExec("UPDATE offers SET status = 'accepted'").
			WithArgs(now, int64(8)).
			WillReturnError(uniqueViolation("ux_offers_one_accepted"))

		err := repo.MarkAccepted(ctx, 8, now)
		assert.True(t, apperr.IsConflict(err))
		assert.True(t, errors.Is(err, apperr.ErrDuplicate))
		assert.Equal(t, "rfq already has an accepted offer", apperr.PublicMessage(err))
	})

	t.Run("DeadlockIsAConflict", func(t *testing.T) {
		mock.ExpectExec("UPDATE offers SET status = 'accepted'").
			WithArgs(now, int64(9)).
			WillReturnError(&pq.Error{Code: "40P01"})

		err := repo.MarkAccepted(ctx, 9, now)
		assert.True(t, apperr.IsConflict(err))
		assert.True(t, errors.Is(err, apperr.ErrStaleWrite))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferRepository_AppendHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewOfferRepository(db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	offer := &domain.Offer{
		ID:          3,
		LinePrices:  []domain.LinePrice{{UnitPrice: decimal.NewFromInt(10)}},
		TotalAmount: decimal.NewFromInt(100),
		ExpiresAt:   at.Add(48 * time.Hour),
		Status:      domain.OfferStatusPending,
	}
	h := offer.Snapshot(0, at)

	mock.ExpectQuery("INSERT INTO offer_history").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(11, 2))

	require.NoError(t, repo.AppendHistory(context.Background(), &h))
	assert.Equal(t, int64(11), h.ID)
	assert.Equal(t, 2, h.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferRepository_ExpireSiblings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewOfferRepository(db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "rfq_id", "supplier_id", "line_prices", "total_amount", "delivery_fee",
		"window_start", "window_end", "payment_terms", "notes", "expires_at", "status",
		"accepted_at", "rejected_at", "rejection_reason", "created_at", "updated_at",
	}).AddRow(9, 1, 22, []byte(`[{"unit_price":"12"}]`), "120.00", "0", nil, nil, "net30", "", at.Add(time.Hour), "expired",
		nil, nil, "", at, at)

	mock.ExpectQuery("UPDATE offers SET status = 'expired'").
		WithArgs(at, int64(1), int64(8)).
		WillReturnRows(rows)

	expired, err := repo.ExpireSiblings(context.Background(), 1, 8, at)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(22), expired[0].SupplierID)
	assert.Equal(t, domain.OfferStatusExpired, expired[0].Status)
	assert.True(t, decimal.NewFromInt(120).Equal(expired[0].TotalAmount))
	assert.Nil(t, expired[0].Window)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferRepository_ListBySupplierRejectsUnknownFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewOfferRepository(db)
	_, _, err = repo.ListBySupplier(context.Background(), 4, repositoryFilter(map[string]string{"supplier_secret": "x"}))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
