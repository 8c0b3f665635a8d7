package postgres_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/repository"
	"material-exchange-backend/internal/repository/postgres"
)

func TestRFQRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rfq := &domain.RFQ{
		BuyerID:   1,
		Title:     "Slab pour",
		Lines:     []domain.RFQLine{{Description: "Concrete C30", Quantity: decimal.NewFromInt(12), Unit: "m3"}},
		Status:    domain.RFQStatusActive,
		ExpiresAt: testNow.AddDate(0, 0, 7),
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	recipients := []domain.RFQRecipient{
		{SupplierID: 10, NotifiedAt: testNow},
		{SupplierID: 11, NotifiedAt: testNow},
	}

	mock.ExpectQuery("INSERT INTO rfqs").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
	mock.ExpectExec("INSERT INTO rfq_recipients").
		WithArgs(int64(77), int64(10), testNow, int64(77), int64(11), testNow).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, postgres.NewRFQRepository(db).Create(context.Background(), rfq, recipients))
	assert.Equal(t, int64(77), rfq.ID)
	assert.Equal(t, int64(77), recipients[1].RFQID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRFQRepository_MarkViewed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewRFQRepository(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE rfq_recipients SET viewed_at").
		WithArgs(testNow, int64(1), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	first, err := repo.MarkViewed(ctx, 1, 10, testNow)
	require.NoError(t, err)
	assert.True(t, first)

	mock.ExpectExec("UPDATE rfq_recipients SET viewed_at").
		WithArgs(testNow, int64(1), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	again, err := repo.MarkViewed(ctx, 1, 10, testNow)
	require.NoError(t, err)
	assert.False(t, again)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRFQRepository_UpdateStatusGuarded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE rfqs SET status = \\$1, updated_at = \\$2 WHERE id = \\$3 AND status IN \\(\\$4\\)").
		WithArgs("closed", testNow, int64(1), "active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = postgres.NewRFQRepository(db).UpdateStatus(context.Background(), 1,
		[]domain.RFQStatus{domain.RFQStatusActive}, domain.RFQStatusClosed, testNow)
	assert.True(t, apperr.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRFQRepository_DeleteMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM rfqs WHERE id = \\$1").WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))

	err = postgres.NewRFQRepository(db).Delete(context.Background(), 3)
	assert.True(t, apperr.IsNotFound(err))
}

func TestRFQRepository_ListByBuyer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewRFQRepository(db)
	ctx := context.Background()

	t.Run("FilterAndSort", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM rfqs r WHERE r.buyer_id = \\$1 AND \\(r.status = \\$2\\)").
			WithArgs(int64(1), "active").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("SELECT (.+) FROM rfqs r WHERE (.+) ORDER BY r.expires_at ASC LIMIT 10 OFFSET 10").
			WithArgs(int64(1), "active").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		out, total, err := repo.ListByBuyer(ctx, 1, repository.ListFilter{
			Filters:  map[string]string{"status": "active"},
			SortBy:   "expires_at",
			Page:     2,
			PageSize: 10,
		})
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Equal(t, 0, total)
	})

	t.Run("UnknownSort", func(t *testing.T) {
		_, _, err := repo.ListByBuyer(ctx, 1, repository.ListFilter{SortBy: "buyer_id"})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("UnknownOperator", func(t *testing.T) {
		_, _, err := repo.ListByBuyer(ctx, 1, repositoryFilter(map[string]string{"created_at.like": "x"}))
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRFQRepository_GetForUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "buyer_id", "project_id", "title", "lines",
		"preferred_window_start", "preferred_window_end",
		"delivery_address", "delivery_lat", "delivery_lng",
		"status", "expires_at", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT .* FROM rfqs r WHERE r.id = \$1 FOR UPDATE OF r`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(5), int64(1), nil, "Slab pour", []byte(`[{"description":"Cement","quantity":"10","unit":"bag"}]`),
			nil, nil, "1 Site Rd", nil, nil,
			"active", testNow.AddDate(0, 0, 7), testNow, testNow))

	rfq, err := postgres.NewRFQRepository(db).GetForUpdate(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, domain.RFQStatusActive, rfq.Status)
	require.Len(t, rfq.Lines, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
