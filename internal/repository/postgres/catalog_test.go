package postgres_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"material-exchange-backend/internal/repository/postgres"
)

func TestTrustScoreRepository_TrustScores(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewTrustScoreRepository(db)

	mock.ExpectQuery("SELECT id, trust_score FROM suppliers WHERE id = ANY\\(\\$1\\)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "trust_score"}).AddRow(10, 4.5))

	scores, err := repo.TrustScores(context.Background(), []int64{10, 11})
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{10: 4.5}, scores)

	empty, err := repo.TrustScores(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_ListSuppliersEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	out, err := postgres.NewCatalogRepository(db).ListSuppliers(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}
