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

type rentalRepository struct {
	db DBTX
}

func NewRentalRepository(db DBTX) repository.RentalRepository {
	return &rentalRepository{db: db}
}

var bookingColumns = []string{
	"id", "booking_number", "buyer_id", "supplier_id", "rental_item_id", "start_date", "end_date",
	"actual_start_date", "actual_end_date", "day_rate", "week_rate", "total_rental_amount",
	"deposit_amount", "delivery_fee", "late_return_fee", "damage_fee", "mode", "delivery_address",
	"proposed_window_start", "proposed_window_end", "proposed_by", "proposal_status",
	"promised_window_start", "promised_window_end",
	"status", "cancellation_reason", "dispute_reason", "confirmed_at", "version", "created_at", "updated_at",
}

func scanBooking(row rowScanner) (*domain.RentalBooking, error) {
	var b domain.RentalBooking
	if err := row.Scan(&b.ID, &b.BookingNumber, &b.BuyerID, &b.SupplierID, &b.RentalItemID, &b.StartDate, &b.EndDate,
		&b.ActualStartDate, &b.ActualEndDate, &b.DayRate, &b.WeekRate, &b.TotalRentalAmount,
		&b.DepositAmount, &b.DeliveryFee, &b.LateReturnFee, &b.DamageFee, &b.Mode, &b.DeliveryAddress,
		&b.ProposedStart, &b.ProposedEnd, &b.ProposedBy, &b.ProposalStatus,
		&b.PromisedStart, &b.PromisedEnd,
		&b.Status, &b.CancellationReason, &b.DisputeReason, &b.ConfirmedAt, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func bookingValues(b *domain.RentalBooking) map[string]any {
	return map[string]any{
		"actual_start_date":     b.ActualStartDate,
		"actual_end_date":       b.ActualEndDate,
		"total_rental_amount":   b.TotalRentalAmount,
		"late_return_fee":       b.LateReturnFee,
		"damage_fee":            b.DamageFee,
		"delivery_address":      b.DeliveryAddress,
		"proposed_window_start": b.ProposedStart,
		"proposed_window_end":   b.ProposedEnd,
		"proposed_by":           b.ProposedBy,
		"proposal_status":       b.ProposalStatus,
		"promised_window_start": b.PromisedStart,
		"promised_window_end":   b.PromisedEnd,
		"status":                b.Status,
		"cancellation_reason":   b.CancellationReason,
		"dispute_reason":        b.DisputeReason,
		"confirmed_at":          b.ConfirmedAt,
		"updated_at":            b.UpdatedAt,
	}
}

func (r *rentalRepository) GetItem(ctx context.Context, id int64) (*domain.RentalItem, error) {
	var it domain.RentalItem
	err := r.db.QueryRowContext(ctx,
		`SELECT id, supplier_id, name, day_rate, week_rate, deposit, delivery_fee, is_active FROM rental_items WHERE id = $1`, id).
		Scan(&it.ID, &it.SupplierID, &it.Name, &it.DayRate, &it.WeekRate, &it.Deposit, &it.DeliveryFee, &it.IsActive)
	if err != nil {
		return nil, mapError(err, "rental item")
	}
	return &it, nil
}

func (r *rentalRepository) Create(ctx context.Context, b *domain.RentalBooking) error {
	logger.EnterMethod("rentalRepository.Create", "bookingNumber", b.BookingNumber)
	values := bookingValues(b)
	values["booking_number"] = b.BookingNumber
	values["buyer_id"] = b.BuyerID
	values["supplier_id"] = b.SupplierID
	values["rental_item_id"] = b.RentalItemID
	values["start_date"] = b.StartDate
	values["end_date"] = b.EndDate
	values["day_rate"] = b.DayRate
	values["week_rate"] = b.WeekRate
	values["deposit_amount"] = b.DepositAmount
	values["delivery_fee"] = b.DeliveryFee
	values["mode"] = b.Mode
	values["version"] = 1
	values["created_at"] = b.CreatedAt

	query, args, err := psql.Insert("rental_bookings").SetMap(values).Suffix("RETURNING id").ToSql()
	if err != nil {
		return apperr.Internal(err, "build booking insert")
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&b.ID); err != nil {
		logger.ExitMethodWithError("rentalRepository.Create", err)
		return mapError(err, "rental booking")
	}
	b.Version = 1
	logger.ExitMethod("rentalRepository.Create", "bookingID", b.ID)
	return nil
}

func (r *rentalRepository) get(ctx context.Context, where squirrel.Eq, lock bool) (*domain.RentalBooking, error) {
	sb := psql.Select(bookingColumns...).From("rental_bookings").Where(where)
	if lock {
		sb = sb.Suffix("FOR UPDATE")
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build booking select")
	}
	b, err := scanBooking(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "rental booking")
	}
	return b, nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int64) (*domain.RentalBooking, error) {
	return r.get(ctx, squirrel.Eq{"id": id}, false)
}

func (r *rentalRepository) GetForUpdate(ctx context.Context, id int64) (*domain.RentalBooking, error) {
	return r.get(ctx, squirrel.Eq{"id": id}, true)
}

func (r *rentalRepository) GetByNumber(ctx context.Context, number string) (*domain.RentalBooking, error) {
	return r.get(ctx, squirrel.Eq{"booking_number": number}, false)
}

func (r *rentalRepository) Update(ctx context.Context, b *domain.RentalBooking) error {
	values := bookingValues(b)
	values["version"] = squirrel.Expr("version + 1")
	query, args, err := psql.Update("rental_bookings").
		SetMap(values).
		Where(squirrel.Eq{"id": b.ID, "version": b.Version}).
		ToSql()
	if err != nil {
		return apperr.Internal(err, "build booking update")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, "rental booking")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "rental booking")
	}
	logger.DatabaseResult("update rental booking", n, nil, "bookingID", b.ID)
	if n == 0 {
		return apperr.Wrap(apperr.KindConflict, apperr.ErrStaleWrite, "booking %s was changed by another request", b.BookingNumber)
	}
	b.Version++
	return nil
}

func (r *rentalRepository) ListForBuyer(ctx context.Context, buyerID int64, f repository.ListFilter) ([]domain.RentalBooking, int, error) {
	return r.list(ctx, squirrel.Eq{"buyer_id": buyerID}, f)
}

func (r *rentalRepository) ListForSupplier(ctx context.Context, supplierID int64, f repository.ListFilter) ([]domain.RentalBooking, int, error) {
	return r.list(ctx, squirrel.Eq{"supplier_id": supplierID}, f)
}

func (r *rentalRepository) list(ctx context.Context, owner squirrel.Eq, f repository.ListFilter) ([]domain.RentalBooking, int, error) {
	base := psql.Select(bookingColumns...).From("rental_bookings").Where(owner)
	count := psql.Select("COUNT(*)").From("rental_bookings").Where(owner)
	var out []domain.RentalBooking
	total, err := paged(ctx, r.db, base, count, rentalListSpec, f, "rental booking", func(row rowScanner) error {
		b, err := scanBooking(row)
		if err != nil {
			return err
		}
		out = append(out, *b)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *rentalRepository) CreateHandover(ctx context.Context, h *domain.Handover) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO rental_handovers (booking_id, photos, condition_notes, recorded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		h.BookingID, pq.Array(h.Photos), h.ConditionNotes, h.RecordedBy, h.CreatedAt).Scan(&h.ID)
	if err != nil {
		return mapError(err, "handover")
	}
	return nil
}

func (r *rentalRepository) GetHandover(ctx context.Context, bookingID int64) (*domain.Handover, error) {
	var h domain.Handover
	err := r.db.QueryRowContext(ctx,
		`SELECT id, booking_id, photos, condition_notes, recorded_by, created_at FROM rental_handovers WHERE booking_id = $1`,
		bookingID).Scan(&h.ID, &h.BookingID, pq.Array(&h.Photos), &h.ConditionNotes, &h.RecordedBy, &h.CreatedAt)
	if err != nil {
		return nil, mapError(err, "handover")
	}
	return &h, nil
}

func (r *rentalRepository) CreateReturn(ctx context.Context, ret *domain.Return) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO rental_returns (booking_id, photos, condition_notes, returned_at, late_fee, damage_fee, recorded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		ret.BookingID, pq.Array(ret.Photos), ret.ConditionNotes, ret.ReturnedAt, ret.LateFee, ret.DamageFee, ret.RecordedBy, ret.CreatedAt).
		Scan(&ret.ID)
	if err != nil {
		return mapError(err, "return")
	}
	return nil
}

func (r *rentalRepository) GetReturn(ctx context.Context, bookingID int64) (*domain.Return, error) {
	var ret domain.Return
	err := r.db.QueryRowContext(ctx,
		`SELECT id, booking_id, photos, condition_notes, returned_at, late_fee, damage_fee, recorded_by, created_at
		 FROM rental_returns WHERE booking_id = $1`, bookingID).
		Scan(&ret.ID, &ret.BookingID, pq.Array(&ret.Photos), &ret.ConditionNotes, &ret.ReturnedAt,
			&ret.LateFee, &ret.DamageFee, &ret.RecordedBy, &ret.CreatedAt)
	if err != nil {
		return nil, mapError(err, "return")
	}
	return &ret, nil
}

// ListOverdue returns active bookings whose end date is before now's date.
func (r *rentalRepository) ListOverdue(ctx context.Context, now time.Time) ([]domain.RentalBooking, error) {
	query, args, err := psql.Select(bookingColumns...).From("rental_bookings").
		Where(squirrel.Eq{"status": string(domain.RentalStatusActive), "actual_end_date": nil}).
		Where(squirrel.Lt{"end_date": now.UTC().Format(domain.DateLayout)}).
		OrderBy("end_date").
		ToSql()
	if err != nil {
		return nil, apperr.Internal(err, "build overdue select")
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "rental booking")
	}
	defer rows.Close()
	var out []domain.RentalBooking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, mapError(err, "rental booking")
		}
		out = append(out, *b)
	}
	logger.DatabaseResult("select overdue bookings", int64(len(out)), rows.Err())
	return out, rows.Err()
}
