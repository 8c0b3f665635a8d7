package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

type rfqRepository struct {
	db DBTX
}

func NewRFQRepository(db DBTX) repository.RFQRepository {
	return &rfqRepository{db: db}
}

var rfqColumns = []string{
	"r.id", "r.buyer_id", "r.project_id", "r.title", "r.lines",
	"r.preferred_window_start", "r.preferred_window_end",
	"r.delivery_address", "r.delivery_lat", "r.delivery_lng",
	"r.status", "r.expires_at", "r.created_at", "r.updated_at",
}

func scanRFQ(row rowScanner) (*domain.RFQ, error) {
	var (
		rfq        domain.RFQ
		lines      []byte
		start, end *time.Time
		lat, lng   *float64
	)
	if err := row.Scan(&rfq.ID, &rfq.BuyerID, &rfq.ProjectID, &rfq.Title, &lines,
		&start, &end, &rfq.DeliveryAddress, &lat, &lng,
		&rfq.Status, &rfq.ExpiresAt, &rfq.CreatedAt, &rfq.UpdatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(lines, &rfq.Lines); err != nil {
		return nil, err
	}
	rfq.PreferredWindow = windowFrom(start, end)
	rfq.DeliveryLocation = geoPoint(lat, lng)
	return &rfq, nil
}

func (r *rfqRepository) Create(ctx context.Context, rfq *domain.RFQ, recipients []domain.RFQRecipient) error {
	logger.EnterMethod("rfqRepository.Create", "buyerID", rfq.BuyerID, "recipients", len(recipients))
	lines, err := toJSON(rfq.Lines)
	if err != nil {
		return err
	}
	start, end := windowBounds(rfq.PreferredWindow)
	lat, lng := geoColumns(rfq.DeliveryLocation)

	query, args, err := psql.
		Insert("rfqs").
		Columns("buyer_id", "project_id", "title", "lines", "preferred_window_start", "preferred_window_end",
			"delivery_address", "delivery_lat", "delivery_lng", "status", "expires_at", "created_at", "updated_at").
		Values(rfq.BuyerID, rfq.ProjectID, rfq.Title, lines, start, end,
			rfq.DeliveryAddress, lat, lng, rfq.Status, rfq.ExpiresAt, rfq.CreatedAt, rfq.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return apperr.Internal(err, "build rfq insert")
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&rfq.ID); err != nil {
		logger.ExitMethodWithError("rfqRepository.Create", err)
		return mapError(err, "rfq")
	}

	ins := psql.Insert("rfq_recipients").Columns("rfq_id", "supplier_id", "notified_at")
	for i := range recipients {
		recipients[i].RFQID = rfq.ID
		ins = ins.Values(rfq.ID, recipients[i].SupplierID, recipients[i].NotifiedAt)
	}
	query, args, err = ins.ToSql()
	if err != nil {
		return apperr.Internal(err, "build recipient insert")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.ExitMethodWithError("rfqRepository.Create", err)
		return mapError(err, "rfq recipient")
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("insert rfq_recipients", n, nil, "rfqID", rfq.ID)
	logger.ExitMethod("rfqRepository.Create", "rfqID", rfq.ID)
	return nil
}

func (r *rfqRepository) GetByID(ctx context.Context, id int64) (*domain.RFQ, error) {
	return r.get(ctx, id, false)
}

func (r *rfqRepository) GetForUpdate(ctx context.Context, id int64) (*domain.RFQ, error) {
	return r.get(ctx, id, true)
}

func (r *rfqRepository) get(ctx context.Context, id int64, lock bool) (*domain.RFQ, error) {
	b := psql.Select(rfqColumns...).From("rfqs r").Where(squirrel.Eq{"r.id": id})
	if lock {
		b = b.Suffix("FOR UPDATE OF r")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build rfq select")
	}
	rfq, err := scanRFQ(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "rfq")
	}
	return rfq, nil
}

func (r *rfqRepository) UpdateStatus(ctx context.Context, id int64, from []domain.RFQStatus, to domain.RFQStatus, at time.Time) error {
	query, args, err := psql.
		Update("rfqs").
		Set("status", to).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id, "status": statusStrings(from)}).
		ToSql()
	if err != nil {
		return apperr.Internal(err, "build rfq update")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, "rfq")
	}
	return guardedResult(res, nil, "rfq %d cannot move to %s", id, to)
}

func (r *rfqRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rfqs WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "rfq")
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("delete rfq", n, nil, "rfqID", id)
	if n == 0 {
		return apperr.NotFound("rfq not found")
	}
	return nil
}

func (r *rfqRepository) GetRecipient(ctx context.Context, rfqID, supplierID int64) (*domain.RFQRecipient, error) {
	var rec domain.RFQRecipient
	err := r.db.QueryRowContext(ctx,
		`SELECT rfq_id, supplier_id, notified_at, viewed_at FROM rfq_recipients WHERE rfq_id = $1 AND supplier_id = $2`,
		rfqID, supplierID).Scan(&rec.RFQID, &rec.SupplierID, &rec.NotifiedAt, &rec.ViewedAt)
	if err != nil {
		return nil, mapError(err, "rfq recipient")
	}
	return &rec, nil
}

func (r *rfqRepository) ListRecipients(ctx context.Context, rfqID int64) ([]domain.RFQRecipient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rfq_id, supplier_id, notified_at, viewed_at FROM rfq_recipients WHERE rfq_id = $1 ORDER BY supplier_id`, rfqID)
	if err != nil {
		return nil, mapError(err, "rfq recipient")
	}
	defer rows.Close()
	var out []domain.RFQRecipient
	for rows.Next() {
		var rec domain.RFQRecipient
		if err := rows.Scan(&rec.RFQID, &rec.SupplierID, &rec.NotifiedAt, &rec.ViewedAt); err != nil {
			return nil, mapError(err, "rfq recipient")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *rfqRepository) MarkViewed(ctx context.Context, rfqID, supplierID int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE rfq_recipients SET viewed_at = $1 WHERE rfq_id = $2 AND supplier_id = $3 AND viewed_at IS NULL`,
		at, rfqID, supplierID)
	if err != nil {
		return false, mapError(err, "rfq recipient")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err, "rfq recipient")
	}
	return n == 1, nil
}

func (r *rfqRepository) ListByBuyer(ctx context.Context, buyerID int64, f repository.ListFilter) ([]domain.RFQ, int, error) {
	base := psql.Select(rfqColumns...).From("rfqs r").Where(squirrel.Eq{"r.buyer_id": buyerID})
	count := psql.Select("COUNT(*)").From("rfqs r").Where(squirrel.Eq{"r.buyer_id": buyerID})
	return r.list(ctx, base, count, f)
}

func (r *rfqRepository) ListBySupplier(ctx context.Context, supplierID int64, f repository.ListFilter) ([]domain.RFQ, int, error) {
	join := "rfq_recipients rr ON rr.rfq_id = r.id"
	base := psql.Select(rfqColumns...).From("rfqs r").Join(join).Where(squirrel.Eq{"rr.supplier_id": supplierID})
	count := psql.Select("COUNT(*)").From("rfqs r").Join(join).Where(squirrel.Eq{"rr.supplier_id": supplierID})
	return r.list(ctx, base, count, f)
}

func (r *rfqRepository) list(ctx context.Context, base, count squirrel.SelectBuilder, f repository.ListFilter) ([]domain.RFQ, int, error) {
	var out []domain.RFQ
	total, err := paged(ctx, r.db, base, count, rfqListSpec, f, "rfq", func(row rowScanner) error {
		rfq, err := scanRFQ(row)
		if err != nil {
			return err
		}
		out = append(out, *rfq)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *rfqRepository) ExpireStale(ctx context.Context, now time.Time) ([]domain.RFQ, error) {
	query := `UPDATE rfqs r SET status = 'expired', updated_at = $1
	          WHERE r.status = 'active' AND r.expires_at <= $1
	          RETURNING ` + joinColumns(rfqColumns)
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, mapError(err, "rfq")
	}
	defer rows.Close()
	var out []domain.RFQ
	for rows.Next() {
		rfq, err := scanRFQ(rows)
		if err != nil {
			return nil, mapError(err, "rfq")
		}
		out = append(out, *rfq)
	}
	logger.DatabaseResult("expire rfqs", int64(len(out)), rows.Err())
	return out, rows.Err()
}

func statusStrings[S ~string](in []S) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func windowBounds(w *domain.Window) (start, end *time.Time) {
	if w == nil {
		return nil, nil
	}
	s, e := w.Start.UTC(), w.End.UTC()
	return &s, &e
}

func windowFrom(start, end *time.Time) *domain.Window {
	if start == nil || end == nil {
		return nil
	}
	return &domain.Window{Start: *start, End: *end}
}

func geoColumns(p *domain.GeoPoint) (lat, lng *float64) {
	if p == nil {
		return nil, nil
	}
	return &p.Lat, &p.Lng
}

func geoPoint(lat, lng *float64) *domain.GeoPoint {
	if lat == nil || lng == nil {
		return nil
	}
	return &domain.GeoPoint{Lat: *lat, Lng: *lng}
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
