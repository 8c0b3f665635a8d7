package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

type offerRepository struct {
	db DBTX
}

func NewOfferRepository(db DBTX) repository.OfferRepository {
	return &offerRepository{db: db}
}

var offerColumns = []string{
	"id", "rfq_id", "supplier_id", "line_prices", "total_amount", "delivery_fee",
	"window_start", "window_end", "payment_terms", "notes", "expires_at", "status",
	"accepted_at", "rejected_at", "rejection_reason", "created_at", "updated_at",
}

func scanOffer(row rowScanner) (*domain.Offer, error) {
	var (
		o          domain.Offer
		prices     []byte
		start, end *time.Time
	)
	if err := row.Scan(&o.ID, &o.RFQID, &o.SupplierID, &prices, &o.TotalAmount, &o.DeliveryFee,
		&start, &end, &o.PaymentTerms, &o.Notes, &o.ExpiresAt, &o.Status,
		&o.AcceptedAt, &o.RejectedAt, &o.RejectionReason, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(prices, &o.LinePrices); err != nil {
		return nil, err
	}
	o.Window = windowFrom(start, end)
	return &o, nil
}

func (r *offerRepository) Create(ctx context.Context, o *domain.Offer) error {
	logger.EnterMethod("offerRepository.Create", "rfqID", o.RFQID, "supplierID", o.SupplierID)
	prices, err := toJSON(o.LinePrices)
	if err != nil {
		return err
	}
	start, end := windowBounds(o.Window)
	query, args, err := psql.
		Insert("offers").
		Columns("rfq_id", "supplier_id", "line_prices", "total_amount", "delivery_fee", "window_start", "window_end",
			"payment_terms", "notes", "expires_at", "status", "created_at", "updated_at").
		Values(o.RFQID, o.SupplierID, prices, o.TotalAmount, o.DeliveryFee, start, end,
			o.PaymentTerms, o.Notes, o.ExpiresAt, o.Status, o.CreatedAt, o.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return apperr.Internal(err, "build offer insert")
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&o.ID); err != nil {
		logger.ExitMethodWithError("offerRepository.Create", err)
		return mapError(err, "offer")
	}
	logger.ExitMethod("offerRepository.Create", "offerID", o.ID)
	return nil
}

func (r *offerRepository) GetByID(ctx context.Context, id int64) (*domain.Offer, error) {
	query, args, err := psql.Select(offerColumns...).From("offers").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build offer select")
	}
	o, err := scanOffer(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "offer")
	}
	return o, nil
}

func (r *offerRepository) GetByRFQAndSupplier(ctx context.Context, rfqID, supplierID int64) (*domain.Offer, error) {
	query, args, err := psql.Select(offerColumns...).From("offers").
		Where(squirrel.Eq{"rfq_id": rfqID, "supplier_id": supplierID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build offer select")
	}
	o, err := scanOffer(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "offer")
	}
	return o, nil
}

func (r *offerRepository) Update(ctx context.Context, o *domain.Offer) error {
	prices, err := toJSON(o.LinePrices)
	if err != nil {
		return err
	}
	start, end := windowBounds(o.Window)
	query, args, err := psql.
		Update("offers").
		SetMap(map[string]any{
			"line_prices":   prices,
			"total_amount":  o.TotalAmount,
			"delivery_fee":  o.DeliveryFee,
			"window_start":  start,
			"window_end":    end,
			"payment_terms": o.PaymentTerms,
			"notes":         o.Notes,
			"expires_at":    o.ExpiresAt,
			"status":        o.Status,
			"updated_at":    o.UpdatedAt,
		}).
		Where(squirrel.Eq{"id": o.ID}).
		Where(squirrel.Eq{"status": []string{string(domain.OfferStatusPending), string(domain.OfferStatusWithdrawn)}}).
		ToSql()
	if err != nil {
		return apperr.Internal(err, "build offer update")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, "offer")
	}
	return guardedResult(res, nil, "offer %d can no longer be changed", o.ID)
}

func (r *offerRepository) AppendHistory(ctx context.Context, h *domain.OfferHistory) error {
	prices, err := toJSON(h.LinePrices)
	if err != nil {
		return err
	}
	start, end := windowBounds(h.Window)
	query := `INSERT INTO offer_history (offer_id, version, line_prices, total_amount, delivery_fee, window_start, window_end,
	                                     payment_terms, notes, expires_at, status, archived_at)
	          SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
	          FROM offer_history WHERE offer_id = $1
	          RETURNING id, version`
	err = r.db.QueryRowContext(ctx, query, h.OfferID, prices, h.TotalAmount, h.DeliveryFee, start, end,
		h.PaymentTerms, h.Notes, h.ExpiresAt, h.Status, h.ArchivedAt).Scan(&h.ID, &h.Version)
	if err != nil {
		return mapError(err, "offer history")
	}
	logger.DatabaseResult("insert offer_history", 1, nil, "offerID", h.OfferID, "version", h.Version)
	return nil
}

func (r *offerRepository) ListHistory(ctx context.Context, offerID int64) ([]domain.OfferHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, offer_id, version, line_prices, total_amount, delivery_fee, window_start, window_end,
		        payment_terms, notes, expires_at, status, archived_at
		 FROM offer_history WHERE offer_id = $1 ORDER BY version`, offerID)
	if err != nil {
		return nil, mapError(err, "offer history")
	}
	defer rows.Close()
	var out []domain.OfferHistory
	for rows.Next() {
		var (
			h          domain.OfferHistory
			prices     []byte
			start, end *time.Time
		)
		if err := rows.Scan(&h.ID, &h.OfferID, &h.Version, &prices, &h.TotalAmount, &h.DeliveryFee, &start, &end,
			&h.PaymentTerms, &h.Notes, &h.ExpiresAt, &h.Status, &h.ArchivedAt); err != nil {
			return nil, mapError(err, "offer history")
		}
		if err := fromJSON(prices, &h.LinePrices); err != nil {
			return nil, err
		}
		h.Window = windowFrom(start, end)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *offerRepository) CountByRFQ(ctx context.Context, rfqID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offers WHERE rfq_id = $1`, rfqID).Scan(&n); err != nil {
		return 0, mapError(err, "offer")
	}
	return n, nil
}

func (r *offerRepository) ListByRFQ(ctx context.Context, rfqID int64) ([]domain.Offer, error) {
	query, args, err := psql.Select(offerColumns...).From("offers").
		Where(squirrel.Eq{"rfq_id": rfqID}).
		OrderBy("total_amount ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build offer select")
	}
	return r.query(ctx, query, args...)
}

func (r *offerRepository) ListBySupplier(ctx context.Context, supplierID int64, f repository.ListFilter) ([]domain.Offer, int, error) {
	base := psql.Select(offerColumns...).From("offers").Where(squirrel.Eq{"supplier_id": supplierID})
	count := psql.Select("COUNT(*)").From("offers").Where(squirrel.Eq{"supplier_id": supplierID})
	var out []domain.Offer
	total, err := paged(ctx, r.db, base, count, offerListSpec, f, "offer", func(row rowScanner) error {
		o, err := scanOffer(row)
		if err != nil {
			return err
		}
		out = append(out, *o)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// MarkAccepted is the acceptance guard: exactly one pending row must flip.
func (r *offerRepository) MarkAccepted(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE offers SET status = 'accepted', accepted_at = $1, updated_at = $1 WHERE id = $2 AND status = 'pending'`,
		at, id)
	if err != nil {
		return mapError(err, "offer")
	}
	return guardedResult(res, nil, "offer %d is no longer pending", id)
}

func (r *offerRepository) MarkRejected(ctx context.Context, id int64, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE offers SET status = 'rejected', rejected_at = $1, rejection_reason = $2, updated_at = $1 WHERE id = $3 AND status = 'pending'`,
		at, reason, id)
	if err != nil {
		return mapError(err, "offer")
	}
	return guardedResult(res, nil, "offer %d is no longer pending", id)
}

func (r *offerRepository) MarkWithdrawn(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE offers SET status = 'withdrawn', updated_at = $1 WHERE id = $2 AND status = 'pending'`,
		at, id)
	if err != nil {
		return mapError(err, "offer")
	}
	return guardedResult(res, nil, "offer %d is no longer pending", id)
}

func (r *offerRepository) ExpireSiblings(ctx context.Context, rfqID, acceptedID int64, at time.Time) ([]domain.Offer, error) {
	query := `UPDATE offers SET status = 'expired', updated_at = $1
	          WHERE rfq_id = $2 AND id <> $3 AND status = 'pending'
	          RETURNING ` + joinColumns(offerColumns)
	out, err := r.query(ctx, query, at, rfqID, acceptedID)
	logger.DatabaseResult("expire sibling offers", int64(len(out)), err, "rfqID", rfqID)
	return out, err
}

func (r *offerRepository) ExpireStale(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	query := `UPDATE offers SET status = 'expired', updated_at = $1
	          WHERE status = 'pending' AND expires_at <= $1
	          RETURNING ` + joinColumns(offerColumns)
	out, err := r.query(ctx, query, now)
	logger.DatabaseResult("expire stale offers", int64(len(out)), err)
	return out, err
}

func (r *offerRepository) query(ctx context.Context, query string, args ...any) ([]domain.Offer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "offer")
	}
	defer rows.Close()
	var out []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, mapError(err, "offer")
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "offer")
	}
	return out, nil
}
