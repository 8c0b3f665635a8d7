package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

type orderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) repository.OrderRepository {
	return &orderRepository{db: db}
}

var orderColumns = []string{
	"id", "order_number", "buyer_id", "supplier_id", "project_id", "offer_id", "items",
	"total_amount", "delivery_fee", "tax_amount", "grand_total",
	"mode", "delivery_address", "delivery_lat", "delivery_lng", "payment_terms",
	"proposed_window_start", "proposed_window_end", "proposed_by", "proposal_status",
	"promised_window_start", "promised_window_end",
	"status", "confirmation_deadline", "confirmed_at", "in_transit_at", "delivered_at",
	"completed_at", "disputed_at", "cancelled_at", "cancellation_reason",
	"version", "created_at", "updated_at",
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o        domain.Order
		items    []byte
		lat, lng *float64
	)
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.BuyerID, &o.SupplierID, &o.ProjectID, &o.OfferID, &items,
		&o.TotalAmount, &o.DeliveryFee, &o.TaxAmount, &o.GrandTotal,
		&o.Mode, &o.DeliveryAddress, &lat, &lng, &o.PaymentTerms,
		&o.ProposedStart, &o.ProposedEnd, &o.ProposedBy, &o.ProposalStatus,
		&o.PromisedStart, &o.PromisedEnd,
		&o.Status, &o.ConfirmationDeadline, &o.ConfirmedAt, &o.InTransitAt, &o.DeliveredAt,
		&o.CompletedAt, &o.DisputedAt, &o.CancelledAt, &o.CancellationReason,
		&o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(items, &o.Items); err != nil {
		return nil, err
	}
	o.DeliveryLocation = geoPoint(lat, lng)
	return &o, nil
}

// orderValues returns the mutable columns of o. Totals are recomputed first
// so the stored grand total always matches its parts.
func orderValues(o *domain.Order) (map[string]any, error) {
	o.RecomputeTotals()
	items, err := toJSON(o.Items)
	if err != nil {
		return nil, err
	}
	lat, lng := geoColumns(o.DeliveryLocation)
	return map[string]any{
		"items":                 items,
		"total_amount":          o.TotalAmount,
		"delivery_fee":          o.DeliveryFee,
		"tax_amount":            o.TaxAmount,
		"grand_total":           o.GrandTotal,
		"mode":                  o.Mode,
		"delivery_address":      o.DeliveryAddress,
		"delivery_lat":          lat,
		"delivery_lng":          lng,
		"payment_terms":         o.PaymentTerms,
		"proposed_window_start": o.ProposedStart,
		"proposed_window_end":   o.ProposedEnd,
		"proposed_by":           o.ProposedBy,
		"proposal_status":       o.ProposalStatus,
		"promised_window_start": o.PromisedStart,
		"promised_window_end":   o.PromisedEnd,
		"status":                o.Status,
		"confirmation_deadline": o.ConfirmationDeadline,
		"confirmed_at":          o.ConfirmedAt,
		"in_transit_at":         o.InTransitAt,
		"delivered_at":          o.DeliveredAt,
		"completed_at":          o.CompletedAt,
		"disputed_at":           o.DisputedAt,
		"cancelled_at":          o.CancelledAt,
		"cancellation_reason":   o.CancellationReason,
		"updated_at":            o.UpdatedAt,
	}, nil
}

func (r *orderRepository) Create(ctx context.Context, o *domain.Order) error {
	logger.EnterMethod("orderRepository.Create", "orderNumber", o.OrderNumber)
	values, err := orderValues(o)
	if err != nil {
		return err
	}
	values["order_number"] = o.OrderNumber
	values["buyer_id"] = o.BuyerID
	values["supplier_id"] = o.SupplierID
	values["project_id"] = o.ProjectID
	values["offer_id"] = o.OfferID
	values["version"] = 1
	values["created_at"] = o.CreatedAt

	query, args, err := psql.Insert("orders").SetMap(values).Suffix("RETURNING id").ToSql()
	if err != nil {
		return apperr.Internal(err, "build order insert")
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&o.ID); err != nil {
		logger.ExitMethodWithError("orderRepository.Create", err)
		return mapError(err, "order")
	}
	o.Version = 1
	logger.ExitMethod("orderRepository.Create", "orderID", o.ID)
	return nil
}

func (r *orderRepository) get(ctx context.Context, where squirrel.Eq, lock bool) (*domain.Order, error) {
	b := psql.Select(orderColumns...).From("orders").Where(where)
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build order select")
	}
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "order")
	}
	return o, nil
}

func (r *orderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.get(ctx, squirrel.Eq{"id": id}, false)
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	return r.get(ctx, squirrel.Eq{"id": id}, true)
}

func (r *orderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.get(ctx, squirrel.Eq{"order_number": number}, false)
}

func (r *orderRepository) Update(ctx context.Context, o *domain.Order) error {
	values, err := orderValues(o)
	if err != nil {
		return err
	}
	values["version"] = squirrel.Expr("version + 1")
	query, args, err := psql.
		Update("orders").
		SetMap(values).
		Where(squirrel.Eq{"id": o.ID, "version": o.Version}).
		ToSql()
	if err != nil {
		return apperr.Internal(err, "build order update")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, "order")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "order")
	}
	logger.DatabaseResult("update order", n, nil, "orderID", o.ID, "version", o.Version)
	if n == 0 {
		return apperr.Wrap(apperr.KindConflict, apperr.ErrStaleWrite, "order %s was changed by another request", o.OrderNumber)
	}
	o.Version++
	return nil
}

func (r *orderRepository) ListForBuyer(ctx context.Context, buyerID int64, f repository.ListFilter) ([]domain.Order, int, error) {
	return r.list(ctx, squirrel.Eq{"buyer_id": buyerID}, f)
}

func (r *orderRepository) ListForSupplier(ctx context.Context, supplierID int64, f repository.ListFilter) ([]domain.Order, int, error) {
	return r.list(ctx, squirrel.Eq{"supplier_id": supplierID}, f)
}

func (r *orderRepository) list(ctx context.Context, owner squirrel.Eq, f repository.ListFilter) ([]domain.Order, int, error) {
	base := psql.Select(orderColumns...).From("orders").Where(owner)
	count := psql.Select("COUNT(*)").From("orders").Where(owner)
	var out []domain.Order
	total, err := paged(ctx, r.db, base, count, orderListSpec, f, "order", func(row rowScanner) error {
		o, err := scanOrder(row)
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

func (r *orderRepository) AddDeliveryEvent(ctx context.Context, ev *domain.DeliveryEvent) error {
	quantities, err := toJSON(ev.Quantities)
	if err != nil {
		return err
	}
	lat, lng := geoColumns(ev.Location)
	query, args, err := psql.
		Insert("order_delivery_events").
		Columns("order_id", "recorded_by", "photos", "quantities", "lat", "lng", "notes", "is_final", "occurred_at", "created_at").
		Values(ev.OrderID, ev.RecordedBy, pq.Array(ev.Photos), quantities, lat, lng, ev.Notes, ev.IsFinal, ev.OccurredAt, ev.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return apperr.Internal(err, "build delivery event insert")
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&ev.ID); err != nil {
		return mapError(err, "delivery event")
	}
	return nil
}

func (r *orderRepository) ListDeliveryEvents(ctx context.Context, orderID int64) ([]domain.DeliveryEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, recorded_by, photos, quantities, lat, lng, notes, is_final, occurred_at, created_at
		 FROM order_delivery_events WHERE order_id = $1 ORDER BY occurred_at, id`, orderID)
	if err != nil {
		return nil, mapError(err, "delivery event")
	}
	defer rows.Close()
	var out []domain.DeliveryEvent
	for rows.Next() {
		var (
			ev         domain.DeliveryEvent
			quantities []byte
			lat, lng   *float64
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.RecordedBy, pq.Array(&ev.Photos), &quantities, &lat, &lng,
			&ev.Notes, &ev.IsFinal, &ev.OccurredAt, &ev.CreatedAt); err != nil {
			return nil, mapError(err, "delivery event")
		}
		if err := fromJSON(quantities, &ev.Quantities); err != nil {
			return nil, err
		}
		ev.Location = geoPoint(lat, lng)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *orderRepository) AddConfirmation(ctx context.Context, c *domain.Confirmation) error {
	query, args, err := psql.
		Insert("order_confirmations").
		Columns("order_id", "delivery_event_id", "type", "category", "evidence", "notes", "auto_completed", "created_at").
		Values(c.OrderID, c.DeliveryEventID, c.Type, c.Category, pq.Array(c.Evidence), c.Notes, c.AutoCompleted, c.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return apperr.Internal(err, "build confirmation insert")
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID); err != nil {
		return mapError(err, "order confirmation")
	}
	return nil
}

func (r *orderRepository) ListDueForAutoComplete(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	query, args, err := psql.Select("id").From("orders").
		Where(squirrel.Eq{"status": string(domain.OrderStatusDelivered)}).
		Where(squirrel.LtOrEq{"confirmation_deadline": now}).
		OrderBy("confirmation_deadline").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build due order select")
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "order")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err, "order")
		}
		ids = append(ids, id)
	}
	logger.DatabaseResult("select orders due for auto-complete", int64(len(ids)), rows.Err())
	return ids, rows.Err()
}
