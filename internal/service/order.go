package service

import (
	"context"
	"strings"
	"time"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

type DeliveryInput struct {
	Photos     []string
	Quantities []domain.ItemQuantity
	Location   *domain.GeoPoint
	Notes      string
	// Final moves the order to delivered. Partial events leave it in transit.
	Final bool
	// OccurredAt of zero means now.
	OccurredAt time.Time
}

type DisputeInput struct {
	Category domain.DisputeCategory
	Evidence []string
	Notes    string
}

type orderService struct {
	base
}

func NewOrderService(d Deps) OrderService {
	return &orderService{base: newBase(d)}
}

// orderRole resolves the caller's side of the order. Orders are invisible to
// everyone else, so a stranger gets NotFound rather than Forbidden.
func orderRole(o *domain.Order, actor domain.Actor) (domain.Role, error) {
	if actor.Role == domain.RoleSystem {
		return domain.RoleSystem, nil
	}
	role, ok := o.RoleOf(actor)
	if !ok {
		return "", apperr.NotFound("order not found")
	}
	return role, nil
}

// mutate applies fn to a locked order and writes it back in one transaction.
// A status change is published after commit.
func (s *orderService) mutate(ctx context.Context, actor domain.Actor, id int64,
	fn func(r repository.Repos, o *domain.Order, role domain.Role, now time.Time) error) (*domain.Order, error) {
	var (
		order *domain.Order
		from  domain.OrderStatus
		role  domain.Role
	)
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		var err error
		if order, err = r.Orders.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if role, err = orderRole(order, actor); err != nil {
			return err
		}
		from = order.Status
		if err := fn(r, order, role, s.now()); err != nil {
			return err
		}
		order.RecomputeTotals()
		return r.Orders.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	if order.Status != from {
		logger.Transition("order", order.ID, string(from), string(order.Status), "number", order.OrderNumber, "by", role)
		s.publish(ctx, orderStatusEvent(order, from, role))
	}
	return order, nil
}

func orderStatusEvent(o *domain.Order, from domain.OrderStatus, by domain.Role) domain.Event {
	return event(domain.EventOrderStatusChanged,
		domain.StatusChange{Number: o.OrderNumber, ID: o.ID, From: string(from), To: string(o.Status), By: by},
		domain.UserGroup(o.BuyerID), domain.UserGroup(o.SupplierID), domain.OrderGroup(o.OrderNumber), domain.GroupOrdersList)
}

func (s *orderService) transitionInput(role domain.Role, now time.Time) domain.TransitionInput {
	return domain.TransitionInput{Actor: role, Now: now, ConfirmationWindow: s.settings.ConfirmationWindow}
}

func (s *orderService) Get(ctx context.Context, actor domain.Actor, id int64) (*domain.Order, error) {
	if !actor.Role.Valid() {
		return nil, apperr.Forbidden("orders are read by their parties")
	}
	o, err := s.repos().Orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := orderRole(o, actor); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *orderService) List(ctx context.Context, actor domain.Actor, f repository.ListFilter) ([]domain.Order, int, error) {
	r := s.repos()
	switch actor.Role {
	case domain.RoleBuyer:
		return r.Orders.ListForBuyer(ctx, actor.UserID, f)
	case domain.RoleSupplier:
		return r.Orders.ListForSupplier(ctx, actor.UserID, f)
	}
	return nil, 0, apperr.Forbidden("unknown role")
}

// ConfirmBySupplier commits a pending order. An outstanding buyer proposal is
// accepted on the way so the order carries a promised window.
func (s *orderService) ConfirmBySupplier(ctx context.Context, supplier domain.Actor, id int64) (*domain.Order, error) {
	if err := requireRole(supplier, domain.RoleSupplier); err != nil {
		return nil, err
	}
	acceptedProposal := false
	o, err := s.mutate(ctx, supplier, id, func(_ repository.Repos, o *domain.Order, role domain.Role, now time.Time) error {
		if o.ProposalStatus == domain.ProposalPending && o.ProposedBy == domain.RoleBuyer {
			if err := o.Negotiation.Accept(role); err != nil {
				return err
			}
			acceptedProposal = true
		}
		_, err := o.Transition(domain.OrderEventSupplierConfirm, s.transitionInput(role, now))
		return err
	})
	if err != nil {
		return nil, err
	}
	if acceptedProposal {
		s.publishWindow(ctx, o, domain.WindowAccept, domain.RoleSupplier)
	}
	return o, nil
}

// StartFulfillment dispatches a delivery order or marks a pickup order ready.
func (s *orderService) StartFulfillment(ctx context.Context, supplier domain.Actor, id int64) (*domain.Order, error) {
	if err := requireRole(supplier, domain.RoleSupplier); err != nil {
		return nil, err
	}
	return s.mutate(ctx, supplier, id, func(_ repository.Repos, o *domain.Order, role domain.Role, now time.Time) error {
		ev := domain.OrderEventDispatch
		if o.Mode == domain.ModePickup {
			ev = domain.OrderEventReadyForPickup
		}
		_, err := o.Transition(ev, s.transitionInput(role, now))
		return err
	})
}

func (in *DeliveryInput) validate(o *domain.Order) error {
	if len(in.Photos) == 0 {
		return apperr.Validation("at least one delivery photo is required")
	}
	for i, p := range in.Photos {
		if strings.TrimSpace(p) == "" {
			return apperr.Validation("photo %d is empty", i+1)
		}
	}
	for _, q := range in.Quantities {
		if q.ItemIndex < 0 || q.ItemIndex >= len(o.Items) {
			return apperr.Validation("item index %d is out of range", q.ItemIndex)
		}
		if !q.Quantity.IsPositive() {
			return apperr.Validation("delivered quantity for item %d must be greater than zero", q.ItemIndex)
		}
	}
	return nil
}

func (s *orderService) RecordDelivery(ctx context.Context, supplier domain.Actor, id int64, in DeliveryInput) (*domain.Order, *domain.DeliveryEvent, error) {
	logger.EnterMethod("orderService.RecordDelivery", "orderID", id, "final", in.Final)
	if err := requireRole(supplier, domain.RoleSupplier); err != nil {
		return nil, nil, err
	}
	var ev *domain.DeliveryEvent
	o, err := s.mutate(ctx, supplier, id, func(r repository.Repos, o *domain.Order, role domain.Role, now time.Time) error {
		if o.Status != domain.OrderStatusInTransit {
			return apperr.Conflict("order %s is %s, deliveries are recorded while in_transit", o.OrderNumber, o.Status)
		}
		if err := in.validate(o); err != nil {
			return err
		}
		occurred := in.OccurredAt.UTC()
		if in.OccurredAt.IsZero() {
			occurred = now
		}
		ev = &domain.DeliveryEvent{
			OrderID:    o.ID,
			RecordedBy: role,
			Photos:     in.Photos,
			Quantities: in.Quantities,
			Location:   in.Location,
			Notes:      strings.TrimSpace(in.Notes),
			IsFinal:    in.Final,
			OccurredAt: occurred,
			CreatedAt:  now,
		}
		if err := r.Orders.AddDeliveryEvent(ctx, ev); err != nil {
			return err
		}
		if !in.Final {
			o.UpdatedAt = now
			return nil
		}
		_, err := o.Transition(domain.OrderEventRecordDelivery, s.transitionInput(role, now))
		return err
	})
	if err != nil {
		logger.ExitMethodWithError("orderService.RecordDelivery", err)
		return nil, nil, err
	}
	s.publish(ctx, event(domain.EventOrderDelivery, ev, domain.UserGroup(o.BuyerID), domain.OrderGroup(o.OrderNumber)))
	if !ev.IsFinal {
		// Delivered quantities moved without a status change.
		s.publish(ctx, orderEvents(domain.EventOrderUpdated, o)...)
	}
	logger.ExitMethod("orderService.RecordDelivery", "deliveryEventID", ev.ID, "status", o.Status)
	return o, ev, nil
}

func (s *orderService) ConfirmPickup(ctx context.Context, buyer domain.Actor, id int64) (*domain.Order, error) {
	if err := requireRole(buyer, domain.RoleBuyer); err != nil {
		return nil, err
	}
	return s.mutate(ctx, buyer, id, func(_ repository.Repos, o *domain.Order, role domain.Role, now time.Time) error {
		_, err := o.Transition(domain.OrderEventConfirmPickup, s.transitionInput(role, now))
		return err
	})
}

func (s *orderService) ConfirmDelivery(ctx context.Context, buyer domain.Actor, id int64, notes string) (*domain.Order, error) {
	if err := requireRole(buyer, domain.RoleBuyer); err != nil {
		return nil, err
	}
	return s.applyConfirm(ctx, buyer, id, notes)
}

// AutoComplete is the scheduler's confirm_receipt. It refuses until the
// confirmation deadline has passed.
func (s *orderService) AutoComplete(ctx context.Context, id int64) (*domain.Order, error) {
	return s.applyConfirm(ctx, domain.SystemActor(), id, "")
}

func (s *orderService) applyConfirm(ctx context.Context, actor domain.Actor, id int64, notes string) (*domain.Order, error) {
	return s.mutate(ctx, actor, id, func(r repository.Repos, o *domain.Order, role domain.Role, now time.Time) error {
		if _, err := o.Transition(domain.OrderEventConfirmReceipt, s.transitionInput(role, now)); err != nil {
			return err
		}
		c := &domain.Confirmation{
			OrderID:       o.ID,
			Type:          domain.ConfirmationAccept,
			Notes:         strings.TrimSpace(notes),
			AutoCompleted: role == domain.RoleSystem,
			CreatedAt:     now,
		}
		final, err := finalDelivery(ctx, r, o.ID)
		if err != nil {
			return err
		}
		c.DeliveryEventID = final
		return r.Orders.AddConfirmation(ctx, c)
	})
}

// finalDelivery returns the id of the last final delivery event, if any.
// Pickup orders confirmed by the buyer have none.
func finalDelivery(ctx context.Context, r repository.Repos, orderID int64) (*int64, error) {
	events, err := r.Orders.ListDeliveryEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].IsFinal {
			id := events[i].ID
			return &id, nil
		}
	}
	return nil, nil
}

// AutoCompleteDue completes up to limit orders whose confirmation deadline has
// passed. Orders the buyer settled in the meantime are skipped.
func (s *orderService) AutoCompleteDue(ctx context.Context, limit int) (int, error) {
	ids, err := s.repos().Orders.ListDueForAutoComplete(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := s.AutoComplete(ctx, id); err != nil {
			if apperr.IsConflict(err) {
				logger.Debug("Skipping order auto-complete", "orderID", id, "reason", err)
				continue
			}
			logger.Warn("Order auto-complete failed", "orderID", id, "error", err)
			continue
		}
		done++
	}
	return done, nil
}

func (in *DisputeInput) validate() error {
	if !in.Category.Valid() {
		return apperr.Validation("unknown dispute category %q", in.Category)
	}
	if len(in.Evidence) == 0 {
		return apperr.Validation("at least one piece of evidence is required")
	}
	for i, e := range in.Evidence {
		if strings.TrimSpace(e) == "" {
			return apperr.Validation("evidence %d is empty", i+1)
		}
	}
	return nil
}

func (s *orderService) Dispute(ctx context.Context, buyer domain.Actor, id int64, in DisputeInput) (*domain.Order, error) {
	if err := requireRole(buyer, domain.RoleBuyer); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, buyer, id, func(r repository.Repos, o *domain.Order, role domain.Role, now time.Time) error {
		if _, err := o.Transition(domain.OrderEventDispute, s.transitionInput(role, now)); err != nil {
			return err
		}
		final, err := finalDelivery(ctx, r, o.ID)
		if err != nil {
			return err
		}
		return r.Orders.AddConfirmation(ctx, &domain.Confirmation{
			OrderID:         o.ID,
			DeliveryEventID: final,
			Type:            domain.ConfirmationDispute,
			Category:        in.Category,
			Evidence:        in.Evidence,
			Notes:           strings.TrimSpace(in.Notes),
			CreatedAt:       now,
		})
	})
}

func (s *orderService) Cancel(ctx context.Context, actor domain.Actor, id int64, reason string) (*domain.Order, error) {
	return s.mutate(ctx, actor, id, func(_ repository.Repos, o *domain.Order, role domain.Role, now time.Time) error {
		in := s.transitionInput(role, now)
		in.Reason = reason
		_, err := o.Transition(domain.OrderEventCancel, in)
		return err
	})
}

func (s *orderService) ProposeWindow(ctx context.Context, actor domain.Actor, id int64, w domain.Window) (*domain.Order, error) {
	return s.negotiate(ctx, actor, id, domain.WindowPropose, func(n *domain.Negotiation, role domain.Role) error {
		return n.Propose(role, w)
	})
}

func (s *orderService) AcceptWindow(ctx context.Context, actor domain.Actor, id int64) (*domain.Order, error) {
	return s.negotiate(ctx, actor, id, domain.WindowAccept, func(n *domain.Negotiation, role domain.Role) error {
		return n.Accept(role)
	})
}

func (s *orderService) RejectWindow(ctx context.Context, actor domain.Actor, id int64) (*domain.Order, error) {
	return s.negotiate(ctx, actor, id, domain.WindowReject, func(n *domain.Negotiation, role domain.Role) error {
		return n.Reject(role)
	})
}

func (s *orderService) CounterProposeWindow(ctx context.Context, actor domain.Actor, id int64, w domain.Window) (*domain.Order, error) {
	return s.negotiate(ctx, actor, id, domain.WindowCounter, func(n *domain.Negotiation, role domain.Role) error {
		return n.Counter(role, w)
	})
}

// negotiate runs one window step. An accepted window on a pending order
// commits it through window_agreed.
func (s *orderService) negotiate(ctx context.Context, actor domain.Actor, id int64, action domain.WindowAction,
	step func(n *domain.Negotiation, role domain.Role) error) (*domain.Order, error) {
	if !actor.Role.Valid() {
		return nil, apperr.Forbidden("only the buyer or the supplier may negotiate a window")
	}
	var role domain.Role
	o, err := s.mutate(ctx, actor, id, func(_ repository.Repos, o *domain.Order, r domain.Role, now time.Time) error {
		role = r
		if o.Status.Terminal() {
			return apperr.Conflict("order %s is %s and its window can no longer change", o.OrderNumber, o.Status)
		}
		if err := step(&o.Negotiation, r); err != nil {
			return err
		}
		o.UpdatedAt = now
		if action == domain.WindowAccept && o.Status == domain.OrderStatusPending {
			_, err := o.Transition(domain.OrderEventWindowAgreed, s.transitionInput(r, now))
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishWindow(ctx, o, action, role)
	return o, nil
}

func (s *orderService) publishWindow(ctx context.Context, o *domain.Order, action domain.WindowAction, by domain.Role) {
	counterpart := o.BuyerID
	if by == domain.RoleBuyer {
		counterpart = o.SupplierID
	}
	s.publish(ctx, event(domain.WindowEventType("order", action),
		domain.NewWindowChange(o.OrderNumber, o.ID, action, by, &o.Negotiation),
		domain.UserGroup(counterpart), domain.OrderGroup(o.OrderNumber)))
}

func (s *orderService) Deliveries(ctx context.Context, actor domain.Actor, id int64) ([]domain.DeliveryEvent, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repos().Orders.ListDeliveryEvents(ctx, id)
}
