//go:build integration

package service_test

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/config"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/migrations"
	"material-exchange-backend/internal/repository/postgres"
	"material-exchange-backend/internal/service"
)

var configPath = flag.String("config", "../../config/config.test.yaml", "path to config file")

func prepareDB(t *testing.T) (*sql.DB, *config.Config) {
	t.Helper()
	path := *configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Join("..", "..", "config", "config.test.yaml")
	}
	cfg, err := config.Load(path)
	require.NoError(t, err)

	var db *sql.DB
	// The database container may still be starting.
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", cfg.GetDatabaseConnectionString())
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(2 * time.Second)
	}
	require.NoError(t, err, "failed to connect to database")
	require.NoError(t, migrations.Up(db, cfg.Database.Database))
	t.Cleanup(func() { db.Close() })
	return db, cfg
}

func seedSupplier(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.QueryRow(
		`INSERT INTO suppliers (name, is_active) VALUES ($1, TRUE) RETURNING id`, name,
	).Scan(&id))
	return id
}

// Two buyers' sessions racing to accept different offers on one RFQ must
// produce exactly one order.
func TestIntegration_ConcurrentAcceptance(t *testing.T) {
	ctx := context.Background()
	db, cfg := prepareDB(t)
	deps := service.Deps{
		Store:    postgres.NewStore(db),
		Settings: service.SettingsFromConfig(cfg.Marketplace),
	}
	rfqs := service.NewRFQService(deps)
	offers := service.NewOfferService(deps)

	a := seedSupplier(t, db, "Integration A")
	b := seedSupplier(t, db, "Integration B")
	owner := domain.Actor{UserID: time.Now().UnixNano() % 1_000_000, Role: domain.RoleBuyer}

	rfq, err := rfqs.Create(ctx, owner, service.CreateRFQInput{
		Title:       "Concurrent accept",
		Lines:       []domain.RFQLine{{Description: "Sand", Quantity: dec("5"), Unit: "t"}},
		SupplierIDs: []int64{a, b},
	})
	require.NoError(t, err)

	submit := func(supplierID int64, price string) *domain.Offer {
		o, created, err := offers.Submit(ctx, domain.Actor{UserID: supplierID, Role: domain.RoleSupplier}, rfq.ID, service.SubmitOfferInput{
			LinePrices:  []domain.LinePrice{{UnitPrice: dec(price)}},
			TotalAmount: dec(price).Mul(dec("5")),
			ExpiresAt:   time.Now().Add(48 * time.Hour),
		})
		require.NoError(t, err)
		require.True(t, created)
		return o
	}
	offerA := submit(a, "20")
	offerB := submit(b, "24")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{offerA.ID, offerB.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = offers.Accept(ctx, owner, id)
		}(i, id)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	var orders int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders WHERE offer_id IN ($1, $2)`, offerA.ID, offerB.ID).Scan(&orders))
	assert.Equal(t, 1, orders)
}
