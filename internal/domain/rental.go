package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/apperr"
)

const DateLayout = "2006-01-02"

type RentalStatus string

const (
	RentalStatusPending   RentalStatus = "pending"
	RentalStatusConfirmed RentalStatus = "confirmed"
	RentalStatusActive    RentalStatus = "active"
	RentalStatusCompleted RentalStatus = "completed"
	RentalStatusDisputed  RentalStatus = "disputed"
	RentalStatusCancelled RentalStatus = "cancelled"
	// RentalStatusOverdue is never stored. See RentalBooking.EffectiveStatus.
	RentalStatusOverdue RentalStatus = "overdue"
)

func (s RentalStatus) Terminal() bool {
	return s == RentalStatusCompleted || s == RentalStatusDisputed || s == RentalStatusCancelled
}

type RentalItem struct {
	ID          int64           `json:"id"`
	SupplierID  int64           `json:"supplier_id"`
	Name        string          `json:"name"`
	DayRate     decimal.Decimal `json:"day_rate"`
	WeekRate    decimal.Decimal `json:"week_rate"`
	Deposit     decimal.Decimal `json:"deposit"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	IsActive    bool            `json:"is_active"`
}

type RentalBooking struct {
	ID                int64           `json:"id"`
	BookingNumber     string          `json:"booking_number"`
	BuyerID           int64           `json:"buyer_id"`
	SupplierID        int64           `json:"supplier_id"`
	RentalItemID      int64           `json:"rental_item_id"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           time.Time       `json:"end_date"`
	ActualStartDate   *time.Time      `json:"actual_start_date,omitempty"`
	ActualEndDate     *time.Time      `json:"actual_end_date,omitempty"`
	DayRate           decimal.Decimal `json:"day_rate"`
	WeekRate          decimal.Decimal `json:"week_rate"`
	TotalRentalAmount decimal.Decimal `json:"total_rental_amount"`
	DepositAmount     decimal.Decimal `json:"deposit_amount"`
	DeliveryFee       decimal.Decimal `json:"delivery_fee"`
	LateReturnFee     decimal.Decimal `json:"late_return_fee"`
	DamageFee         decimal.Decimal `json:"damage_fee"`
	Mode              FulfillmentMode `json:"pickup_or_delivery"`
	DeliveryAddress   string          `json:"delivery_address,omitempty"`
	Negotiation
	Status             RentalStatus `json:"status"`
	CancellationReason string       `json:"cancellation_reason,omitempty"`
	DisputeReason      string       `json:"dispute_reason,omitempty"`
	ConfirmedAt        *time.Time   `json:"confirmed_at,omitempty"`
	Version            int          `json:"-"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

type Handover struct {
	ID             int64     `json:"id"`
	BookingID      int64     `json:"booking_id"`
	Photos         []string  `json:"photos"`
	ConditionNotes string    `json:"condition_notes"`
	RecordedBy     Role      `json:"recorded_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type Return struct {
	ID             int64           `json:"id"`
	BookingID      int64           `json:"booking_id"`
	Photos         []string        `json:"photos"`
	ConditionNotes string          `json:"condition_notes"`
	ReturnedAt     time.Time       `json:"returned_at"`
	LateFee        decimal.Decimal `json:"late_fee"`
	DamageFee      decimal.Decimal `json:"damage_fee"`
	RecordedBy     Role            `json:"recorded_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RoleOf reports which side of the booking the actor is on.
func (b *RentalBooking) RoleOf(a Actor) (Role, bool) {
	switch {
	case a.Role == RoleBuyer && a.UserID == b.BuyerID:
		return RoleBuyer, true
	case a.Role == RoleSupplier && a.UserID == b.SupplierID:
		return RoleSupplier, true
	}
	return "", false
}

// RentalDays counts the billable days between two dates; the end date is
// exclusive, so 2025-11-01..2025-11-08 is seven days.
func RentalDays(start, end time.Time) (int, error) {
	s, e := truncateDay(start), truncateDay(end)
	if !e.After(s) {
		return 0, apperr.Validation("end date must be after start date")
	}
	return int(e.Sub(s).Hours() / 24), nil
}

// RentalCost prices a booking at the cheaper of straight day rates and
// week-packed rates (whole weeks at weekRate, the rest at dayRate).
func RentalCost(days int, dayRate, weekRate decimal.Decimal) decimal.Decimal {
	daily := dayRate.Mul(decimal.NewFromInt(int64(days)))
	if !weekRate.IsPositive() {
		return daily.Round(2)
	}
	weeks := days / 7
	rest := days % 7
	packed := weekRate.Mul(decimal.NewFromInt(int64(weeks))).
		Add(dayRate.Mul(decimal.NewFromInt(int64(rest))))
	if packed.LessThan(daily) {
		return packed.Round(2)
	}
	return daily.Round(2)
}

// returnDeadline is the first instant that counts as after end_date.
func (b *RentalBooking) returnDeadline() time.Time {
	return truncateDay(b.EndDate).Add(24 * time.Hour)
}

// IsLate reports whether a return at t falls strictly after the end date.
func (b *RentalBooking) IsLate(t time.Time) bool {
	return !t.UTC().Before(b.returnDeadline())
}

// LateFee is the fixed penalty when a return at t is late, zero otherwise.
func (b *RentalBooking) LateFee(t time.Time, penalty decimal.Decimal) decimal.Decimal {
	if b.IsLate(t) {
		return penalty
	}
	return decimal.Zero
}

// IsOverdue: active, past the end date, and not yet returned.
func (b *RentalBooking) IsOverdue(now time.Time) bool {
	return b.Status == RentalStatusActive && b.ActualEndDate == nil && b.IsLate(now)
}

// EffectiveStatus folds the derived overdue state into the stored status.
func (b *RentalBooking) EffectiveStatus(now time.Time) RentalStatus {
	if b.IsOverdue(now) {
		return RentalStatusOverdue
	}
	return b.Status
}

// AmountDue is the rental total plus delivery and any fees charged at return.
// The deposit is held separately and not included.
func (b *RentalBooking) AmountDue() decimal.Decimal {
	return b.TotalRentalAmount.Add(b.DeliveryFee).Add(b.LateReturnFee).Add(b.DamageFee)
}

type RentalEvent string

const (
	RentalEventSupplierConfirm RentalEvent = "supplier_confirm"
	RentalEventWindowAgreed    RentalEvent = "window_agreed"
	RentalEventHandover        RentalEvent = "handover"
	RentalEventReturn          RentalEvent = "return"
	RentalEventDispute         RentalEvent = "dispute"
	RentalEventCancel          RentalEvent = "cancel"
)

type rentalTransition struct {
	from  []RentalStatus
	to    RentalStatus
	guard func(b *RentalBooking, in TransitionInput) error
}

func rentalActor(allowed ...Role) func(*RentalBooking, TransitionInput) error {
	return func(_ *RentalBooking, in TransitionInput) error {
		for _, r := range allowed {
			if in.Actor == r {
				return nil
			}
		}
		return apperr.Forbidden("%s may not perform this action", in.Actor)
	}
}

func rentalReason(b *RentalBooking, in TransitionInput) error {
	if err := rentalActor(RoleBuyer, RoleSupplier)(b, in); err != nil {
		return err
	}
	if strings.TrimSpace(in.Reason) == "" {
		return apperr.Validation("a reason is required")
	}
	return nil
}

var rentalTransitions = map[RentalEvent]rentalTransition{
	RentalEventSupplierConfirm: {
		from:  []RentalStatus{RentalStatusPending},
		to:    RentalStatusConfirmed,
		guard: rentalActor(RoleSupplier),
	},
	RentalEventWindowAgreed: {
		from: []RentalStatus{RentalStatusPending},
		to:   RentalStatusConfirmed,
		guard: func(b *RentalBooking, in TransitionInput) error {
			if b.ProposalStatus != ProposalAccepted {
				return apperr.Conflict("booking %s has no accepted window", b.BookingNumber)
			}
			return rentalActor(RoleBuyer, RoleSupplier)(b, in)
		},
	},
	RentalEventHandover: {
		from:  []RentalStatus{RentalStatusConfirmed},
		to:    RentalStatusActive,
		guard: rentalActor(RoleBuyer, RoleSupplier),
	},
	RentalEventReturn: {
		from:  []RentalStatus{RentalStatusActive},
		to:    RentalStatusCompleted,
		guard: rentalActor(RoleBuyer, RoleSupplier),
	},
	RentalEventDispute: {
		from:  []RentalStatus{RentalStatusActive, RentalStatusCompleted},
		to:    RentalStatusDisputed,
		guard: rentalReason,
	},
	RentalEventCancel: {
		from:  []RentalStatus{RentalStatusPending, RentalStatusConfirmed},
		to:    RentalStatusCancelled,
		guard: rentalReason,
	},
}

// Transition applies ev to b and returns the status it left. Handover and
// return records are inserted by the caller in the same transaction.
func (b *RentalBooking) Transition(ev RentalEvent, in TransitionInput) (RentalStatus, error) {
	t, ok := rentalTransitions[ev]
	if !ok {
		return b.Status, apperr.Validation("unknown rental event %q", ev)
	}
	allowed := false
	for _, s := range t.from {
		if s == b.Status {
			allowed = true
			break
		}
	}
	if !allowed {
		return b.Status, apperr.Conflict("illegal booking transition from %s to %s", b.Status, t.to)
	}
	if err := t.guard(b, in); err != nil {
		return b.Status, err
	}
	from := b.Status
	b.Status = t.to
	b.UpdatedAt = in.Now
	switch ev {
	case RentalEventSupplierConfirm, RentalEventWindowAgreed:
		b.ConfirmedAt = ptrTime(in.Now)
	case RentalEventHandover:
		b.ActualStartDate = ptrTime(in.Now)
	case RentalEventCancel:
		b.CancellationReason = strings.TrimSpace(in.Reason)
	case RentalEventDispute:
		b.DisputeReason = strings.TrimSpace(in.Reason)
	}
	return from, nil
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a yyyy-mm-dd date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid date %q, expected yyyy-mm-dd", s)
	}
	return t, nil
}
