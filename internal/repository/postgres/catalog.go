package postgres

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/repository"
)

type catalogRepository struct {
	db DBTX
}

func NewCatalogRepository(db DBTX) repository.CatalogRepository {
	return &catalogRepository{db: db}
}

var supplierColumns = []string{
	"id", "name", "is_active", "min_order_value", "delivery_fee", "offers_pickup", "offers_delivery", "trust_score",
}

func scanSupplier(row rowScanner) (*domain.Supplier, error) {
	var s domain.Supplier
	if err := row.Scan(&s.ID, &s.Name, &s.IsActive, &s.MinOrderValue, &s.DeliveryFee,
		&s.OffersPickup, &s.OffersDelivery, &s.TrustScore); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *catalogRepository) GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error) {
	query, args, err := psql.Select(supplierColumns...).From("suppliers").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build supplier select")
	}
	s, err := scanSupplier(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "supplier")
	}
	return s, nil
}

func (r *catalogRepository) ListSuppliers(ctx context.Context, ids []int64) ([]domain.Supplier, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := psql.Select(supplierColumns...).From("suppliers").Where(squirrel.Eq{"id": ids}).OrderBy("id").ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build supplier select")
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "supplier")
	}
	defer rows.Close()
	var out []domain.Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, mapError(err, "supplier")
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *catalogRepository) ListEntries(ctx context.Context, ids []int64) ([]domain.CatalogEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := psql.
		Select("id", "supplier_id", "name", "unit", "unit_price", "is_active", "direct_order_eligible", "pickup_available", "delivery_available").
		From("catalog_entries").
		Where(squirrel.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build catalog select")
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "catalog entry")
	}
	defer rows.Close()
	var out []domain.CatalogEntry
	for rows.Next() {
		var e domain.CatalogEntry
		if err := rows.Scan(&e.ID, &e.SupplierID, &e.Name, &e.Unit, &e.UnitPrice, &e.IsActive,
			&e.DirectOrderEligible, &e.PickupAvailable, &e.DeliveryAvailable); err != nil {
			return nil, mapError(err, "catalog entry")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *catalogRepository) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	var p domain.Project
	err := r.db.QueryRowContext(ctx, `SELECT id, owner_id, name FROM projects WHERE id = $1`, id).Scan(&p.ID, &p.OwnerID, &p.Name)
	if err != nil {
		return nil, mapError(err, "project")
	}
	return &p, nil
}

type trustScoreRepository struct {
	db DBTX
}

// NewTrustScoreRepository reads the trust_score column maintained by the
// metrics pipeline.
func NewTrustScoreRepository(db DBTX) repository.TrustScoreReader {
	return &trustScoreRepository{db: db}
}

func (r *trustScoreRepository) TrustScores(ctx context.Context, supplierIDs []int64) (map[int64]float64, error) {
	out := make(map[int64]float64, len(supplierIDs))
	if len(supplierIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, trust_score FROM suppliers WHERE id = ANY($1) AND trust_score IS NOT NULL`,
		pq.Array(supplierIDs))
	if err != nil {
		return nil, mapError(err, "trust score")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, mapError(err, "trust score")
		}
		out[id] = score
	}
	return out, rows.Err()
}
