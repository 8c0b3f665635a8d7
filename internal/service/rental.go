package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

type BookInput struct {
	RentalItemID    int64
	StartDate       time.Time
	EndDate         time.Time
	Mode            domain.FulfillmentMode
	DeliveryAddress string
	Window          *domain.Window
}

type HandoverInput struct {
	Photos []string
	Notes  string
}

type ReturnInput struct {
	Photos    []string
	Notes     string
	// DamageFee and ReturnedAt are accepted from the supplier only.
	DamageFee *decimal.Decimal
	// ReturnedAt of zero means now.
	ReturnedAt time.Time
}

func requirePhotos(photos []string, what string) error {
	if len(photos) == 0 {
		return apperr.Validation("at least one %s photo is required", what)
	}
	for i, p := range photos {
		if strings.TrimSpace(p) == "" {
			return apperr.Validation("%s photo %d is empty", what, i+1)
		}
	}
	return nil
}

type rentalService struct {
	base
}

func NewRentalService(d Deps) RentalService {
	return &rentalService{base: newBase(d)}
}

func (in *BookInput) validate(today time.Time) error {
	if in.RentalItemID <= 0 {
		return apperr.Validation("rental_item_id is required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return apperr.Validation("start_date and end_date are required")
	}
	if in.StartDate.UTC().Before(today) {
		return apperr.Validation("start date %s is in the past", in.StartDate.UTC().Format(domain.DateLayout))
	}
	if !in.Mode.Valid() {
		return apperr.Validation("pickup_or_delivery must be pickup or delivery")
	}
	if in.Mode == domain.ModeDelivery && strings.TrimSpace(in.DeliveryAddress) == "" {
		return apperr.Validation("a delivery address is required for delivery bookings")
	}
	if in.Window != nil {
		return in.Window.Validate()
	}
	return nil
}

func (s *rentalService) Book(ctx context.Context, buyer domain.Actor, in BookInput) (*domain.RentalBooking, error) {
	logger.EnterMethod("rentalService.Book", "buyerID", buyer.UserID, "itemID", in.RentalItemID)
	if err := requireRole(buyer, domain.RoleBuyer); err != nil {
		return nil, err
	}
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := in.validate(today); err != nil {
		return nil, err
	}
	days, err := domain.RentalDays(in.StartDate, in.EndDate)
	if err != nil {
		return nil, err
	}

	var booking *domain.RentalBooking
	err = s.withNumber(ctx, bookingNumberPrefix, func(number string) error {
		return s.store.WithTx(ctx, func(r repository.Repos) error {
			item, err := r.Rentals.GetItem(ctx, in.RentalItemID)
			if err != nil {
				return err
			}
			if !item.IsActive {
				return apperr.Conflict("rental item %d is not available", item.ID)
			}
			booking = &domain.RentalBooking{
				BookingNumber:     number,
				BuyerID:           buyer.UserID,
				SupplierID:        item.SupplierID,
				RentalItemID:      item.ID,
				StartDate:         in.StartDate.UTC(),
				EndDate:           in.EndDate.UTC(),
				DayRate:           item.DayRate,
				WeekRate:          item.WeekRate,
				TotalRentalAmount: domain.RentalCost(days, item.DayRate, item.WeekRate),
				DepositAmount:     item.Deposit.Round(2),
				Mode:              in.Mode,
				Negotiation:       domain.NewNegotiation(),
				Status:            domain.RentalStatusPending,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if in.Mode == domain.ModeDelivery {
				booking.DeliveryFee = item.DeliveryFee.Round(2)
				booking.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
			}
			if in.Window != nil {
				if err := booking.Propose(domain.RoleBuyer, *in.Window); err != nil {
					return err
				}
			}
			return r.Rentals.Create(ctx, booking)
		})
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.Book", err)
		return nil, err
	}

	s.publish(ctx, event(domain.EventRentalCreated, booking,
		domain.UserGroup(booking.SupplierID), domain.RentalGroup(booking.BookingNumber)))
	logger.ExitMethod("rentalService.Book", "bookingNumber", booking.BookingNumber, "days", days)
	return booking, nil
}

func rentalRole(b *domain.RentalBooking, actor domain.Actor) (domain.Role, error) {
	role, ok := b.RoleOf(actor)
	if !ok {
		return "", apperr.NotFound("booking not found")
	}
	return role, nil
}

// mutate applies fn to a locked booking and writes it back in one
// transaction. A status change is published after commit.
func (s *rentalService) mutate(ctx context.Context, actor domain.Actor, id int64,
	fn func(r repository.Repos, b *domain.RentalBooking, role domain.Role, now time.Time) error) (*domain.RentalBooking, error) {
	var (
		booking *domain.RentalBooking
		from    domain.RentalStatus
		role    domain.Role
	)
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		var err error
		if booking, err = r.Rentals.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if role, err = rentalRole(booking, actor); err != nil {
			return err
		}
		from = booking.Status
		if err := fn(r, booking, role, s.now()); err != nil {
			return err
		}
		return r.Rentals.Update(ctx, booking)
	})
	if err != nil {
		return nil, err
	}
	if booking.Status != from {
		logger.Transition("rental", booking.ID, string(from), string(booking.Status), "number", booking.BookingNumber, "by", role)
		s.publish(ctx, event(domain.EventRentalStatusChanged,
			domain.StatusChange{Number: booking.BookingNumber, ID: booking.ID, From: string(from), To: string(booking.Status), By: role},
			domain.UserGroup(booking.BuyerID), domain.UserGroup(booking.SupplierID), domain.RentalGroup(booking.BookingNumber)))
	}
	return booking, nil
}

func (s *rentalService) Get(ctx context.Context, actor domain.Actor, id int64) (*domain.RentalBooking, error) {
	b, err := s.repos().Rentals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := rentalRole(b, actor); err != nil {
		return nil, err
	}
	b.Status = b.EffectiveStatus(s.now())
	return b, nil
}

func (s *rentalService) List(ctx context.Context, actor domain.Actor, f repository.ListFilter) ([]domain.RentalBooking, int, error) {
	var (
		list  []domain.RentalBooking
		total int
		err   error
	)
	r := s.repos()
	switch actor.Role {
	case domain.RoleBuyer:
		list, total, err = r.Rentals.ListForBuyer(ctx, actor.UserID, f)
	case domain.RoleSupplier:
		list, total, err = r.Rentals.ListForSupplier(ctx, actor.UserID, f)
	default:
		return nil, 0, apperr.Forbidden("unknown role")
	}
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for i := range list {
		list[i].Status = list[i].EffectiveStatus(now)
	}
	return list, total, nil
}

func (s *rentalService) ConfirmBySupplier(ctx context.Context, supplier domain.Actor, id int64) (*domain.RentalBooking, error) {
	if err := requireRole(supplier, domain.RoleSupplier); err != nil {
		return nil, err
	}
	return s.mutate(ctx, supplier, id, func(_ repository.Repos, b *domain.RentalBooking, role domain.Role, now time.Time) error {
		_, err := b.Transition(domain.RentalEventSupplierConfirm, domain.TransitionInput{Actor: role, Now: now})
		return err
	})
}

func (s *rentalService) ProposeWindow(ctx context.Context, actor domain.Actor, id int64, w domain.Window) (*domain.RentalBooking, error) {
	return s.negotiate(ctx, actor, id, domain.WindowPropose, func(n *domain.Negotiation, role domain.Role) error {
		return n.Propose(role, w)
	})
}

func (s *rentalService) AcceptWindow(ctx context.Context, actor domain.Actor, id int64) (*domain.RentalBooking, error) {
	return s.negotiate(ctx, actor, id, domain.WindowAccept, func(n *domain.Negotiation, role domain.Role) error {
		return n.Accept(role)
	})
}

func (s *rentalService) RejectWindow(ctx context.Context, actor domain.Actor, id int64) (*domain.RentalBooking, error) {
	return s.negotiate(ctx, actor, id, domain.WindowReject, func(n *domain.Negotiation, role domain.Role) error {
		return n.Reject(role)
	})
}

func (s *rentalService) CounterProposeWindow(ctx context.Context, actor domain.Actor, id int64, w domain.Window) (*domain.RentalBooking, error) {
	return s.negotiate(ctx, actor, id, domain.WindowCounter, func(n *domain.Negotiation, role domain.Role) error {
		return n.Counter(role, w)
	})
}

func (s *rentalService) negotiate(ctx context.Context, actor domain.Actor, id int64, action domain.WindowAction,
	step func(n *domain.Negotiation, role domain.Role) error) (*domain.RentalBooking, error) {
	if !actor.Role.Valid() {
		return nil, apperr.Forbidden("only the buyer or the supplier may negotiate a window")
	}
	var role domain.Role
	b, err := s.mutate(ctx, actor, id, func(_ repository.Repos, b *domain.RentalBooking, r domain.Role, now time.Time) error {
		role = r
		if b.Status.Terminal() {
			return apperr.Conflict("booking %s is %s and its window can no longer change", b.BookingNumber, b.Status)
		}
		if err := step(&b.Negotiation, r); err != nil {
			return err
		}
		b.UpdatedAt = now
		if action == domain.WindowAccept && b.Status == domain.RentalStatusPending {
			_, err := b.Transition(domain.RentalEventWindowAgreed, domain.TransitionInput{Actor: r, Now: now})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	counterpart := b.BuyerID
	if role == domain.RoleBuyer {
		counterpart = b.SupplierID
	}
	s.publish(ctx, event(domain.WindowEventType("rental", action),
		domain.NewWindowChange(b.BookingNumber, b.ID, action, role, &b.Negotiation),
		domain.UserGroup(counterpart), domain.RentalGroup(b.BookingNumber)))
	return b, nil
}

func (s *rentalService) ConfirmHandover(ctx context.Context, actor domain.Actor, id int64, in HandoverInput) (*domain.RentalBooking, error) {
	logger.EnterMethod("rentalService.ConfirmHandover", "bookingID", id)
	if err := requirePhotos(in.Photos, "handover"); err != nil {
		return nil, err
	}
	b, err := s.mutate(ctx, actor, id, func(r repository.Repos, b *domain.RentalBooking, role domain.Role, now time.Time) error {
		if _, err := b.Transition(domain.RentalEventHandover, domain.TransitionInput{Actor: role, Now: now}); err != nil {
			return err
		}
		_, err := r.Rentals.GetHandover(ctx, b.ID)
		switch {
		case err == nil:
			return apperr.Conflict("booking %s already has a handover", b.BookingNumber)
		case !apperr.IsNotFound(err):
			return err
		}
		return r.Rentals.CreateHandover(ctx, &domain.Handover{
			BookingID:      b.ID,
			Photos:         in.Photos,
			ConditionNotes: strings.TrimSpace(in.Notes),
			RecordedBy:     role,
			CreatedAt:      now,
		})
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.ConfirmHandover", err)
		return nil, err
	}
	logger.ExitMethod("rentalService.ConfirmHandover", "bookingNumber", b.BookingNumber)
	return b, nil
}

func (s *rentalService) ConfirmReturn(ctx context.Context, actor domain.Actor, id int64, in ReturnInput) (*domain.RentalBooking, error) {
	logger.EnterMethod("rentalService.ConfirmReturn", "bookingID", id)
	if err := requirePhotos(in.Photos, "return"); err != nil {
		return nil, err
	}
	damage := decimal.Zero
	if in.DamageFee != nil {
		if in.DamageFee.IsNegative() {
			return nil, apperr.Validation("damage fee must not be negative")
		}
		damage = in.DamageFee.Round(2)
	}

	b, err := s.mutate(ctx, actor, id, func(r repository.Repos, b *domain.RentalBooking, role domain.Role, now time.Time) error {
		if _, err := r.Rentals.GetHandover(ctx, b.ID); err != nil {
			if apperr.IsNotFound(err) {
				return apperr.Conflict("booking %s has no handover to return against", b.BookingNumber)
			}
			return err
		}
		_, err := r.Rentals.GetReturn(ctx, b.ID)
		switch {
		case err == nil:
			return apperr.Conflict("booking %s has already been returned", b.BookingNumber)
		case !apperr.IsNotFound(err):
			return err
		}

		// The buyer's confirmation is stamped with the server clock; only the
		// supplier records an earlier return time or assesses damage.
		if role != domain.RoleSupplier {
			if in.DamageFee != nil {
				return apperr.Forbidden("only the supplier assesses a damage fee")
			}
			if !in.ReturnedAt.IsZero() {
				return apperr.Forbidden("only the supplier records a return time")
			}
		}
		returnedAt := now
		if !in.ReturnedAt.IsZero() {
			returnedAt = in.ReturnedAt.UTC()
		}
		if returnedAt.After(now) {
			return apperr.Validation("returned_at cannot be in the future")
		}
		if b.ActualStartDate != nil && returnedAt.Before(*b.ActualStartDate) {
			return apperr.Validation("returned_at is before the handover")
		}

		if _, err := b.Transition(domain.RentalEventReturn, domain.TransitionInput{Actor: role, Now: now}); err != nil {
			return err
		}
		late := b.LateFee(returnedAt, s.settings.LateReturnPenalty).Round(2)
		b.ActualEndDate = &returnedAt
		b.LateReturnFee = late
		b.DamageFee = damage
		return r.Rentals.CreateReturn(ctx, &domain.Return{
			BookingID:      b.ID,
			Photos:         in.Photos,
			ConditionNotes: strings.TrimSpace(in.Notes),
			ReturnedAt:     returnedAt,
			LateFee:        late,
			DamageFee:      damage,
			RecordedBy:     role,
			CreatedAt:      now,
		})
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.ConfirmReturn", err)
		return nil, err
	}
	logger.ExitMethod("rentalService.ConfirmReturn", "bookingNumber", b.BookingNumber, "lateFee", b.LateReturnFee)
	return b, nil
}

func (s *rentalService) Dispute(ctx context.Context, actor domain.Actor, id int64, reason string) (*domain.RentalBooking, error) {
	return s.mutate(ctx, actor, id, func(_ repository.Repos, b *domain.RentalBooking, role domain.Role, now time.Time) error {
		_, err := b.Transition(domain.RentalEventDispute, domain.TransitionInput{Actor: role, Now: now, Reason: reason})
		return err
	})
}

func (s *rentalService) Cancel(ctx context.Context, actor domain.Actor, id int64, reason string) (*domain.RentalBooking, error) {
	return s.mutate(ctx, actor, id, func(_ repository.Repos, b *domain.RentalBooking, role domain.Role, now time.Time) error {
		_, err := b.Transition(domain.RentalEventCancel, domain.TransitionInput{Actor: role, Now: now, Reason: reason})
		return err
	})
}

// ListOverdue returns active bookings past their end date that have not
// been returned.
func (s *rentalService) ListOverdue(ctx context.Context) ([]domain.RentalBooking, error) {
	now := s.now()
	list, err := s.repos().Rentals.ListOverdue(ctx, now)
	if err != nil {
		return nil, err
	}
	overdue := list[:0]
	for _, b := range list {
		if b.IsOverdue(now) {
			overdue = append(overdue, b)
		}
	}
	return overdue, nil
}

// FlagOverdue notifies both parties of every overdue booking. The stored
// status is left alone.
func (s *rentalService) FlagOverdue(ctx context.Context) (int, error) {
	overdue, err := s.ListOverdue(ctx)
	if err != nil {
		return 0, err
	}
	for i := range overdue {
		b := &overdue[i]
		b.Status = domain.RentalStatusOverdue
		s.publish(ctx, event(domain.EventRentalOverdue, b,
			domain.UserGroup(b.BuyerID), domain.UserGroup(b.SupplierID), domain.RentalGroup(b.BookingNumber)))
	}
	if len(overdue) > 0 {
		logger.Info("Flagged overdue rentals", "count", len(overdue))
	}
	return len(overdue), nil
}
