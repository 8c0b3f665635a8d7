package domain

import (
	"strings"
	"time"

	"material-exchange-backend/internal/apperr"
)

// DefaultConfirmationWindow is how long a buyer has to confirm or dispute a
// delivery before it completes on its own.
const DefaultConfirmationWindow = 24 * time.Hour

type OrderEvent string

const (
	OrderEventWindowAgreed    OrderEvent = "window_agreed"
	OrderEventSupplierConfirm OrderEvent = "supplier_confirm"
	OrderEventDispatch        OrderEvent = "dispatch"
	OrderEventReadyForPickup  OrderEvent = "ready_for_pickup"
	OrderEventRecordDelivery  OrderEvent = "record_delivery"
	OrderEventConfirmPickup   OrderEvent = "confirm_pickup"
	OrderEventConfirmReceipt  OrderEvent = "confirm_receipt"
	OrderEventDispute         OrderEvent = "dispute"
	OrderEventCancel          OrderEvent = "cancel"
)

// TransitionInput carries who triggered an event and when.
type TransitionInput struct {
	Actor              Role
	Now                time.Time
	Reason             string
	ConfirmationWindow time.Duration
}

type orderTransition struct {
	from   []OrderStatus
	to     OrderStatus
	guard  func(o *Order, in TransitionInput) error
	effect func(o *Order, in TransitionInput)
}

func requireActor(allowed ...Role) func(*Order, TransitionInput) error {
	return func(_ *Order, in TransitionInput) error {
		for _, r := range allowed {
			if in.Actor == r {
				return nil
			}
		}
		return apperr.Forbidden("%s may not perform this action", in.Actor)
	}
}

func requireMode(mode FulfillmentMode, actors ...Role) func(*Order, TransitionInput) error {
	actorGuard := requireActor(actors...)
	return func(o *Order, in TransitionInput) error {
		if err := actorGuard(o, in); err != nil {
			return err
		}
		if o.Mode != mode {
			return apperr.Conflict("order %s is a %s order", o.OrderNumber, o.Mode)
		}
		return nil
	}
}

func markDelivered(o *Order, in TransitionInput) {
	window := in.ConfirmationWindow
	if window <= 0 {
		window = DefaultConfirmationWindow
	}
	at := in.Now
	deadline := at.Add(window)
	o.DeliveredAt = &at
	o.ConfirmationDeadline = &deadline
}

// orderTransitions is the only place order edges are defined. Manual actions
// and scheduled jobs both go through Order.Transition.
var orderTransitions = map[OrderEvent]orderTransition{
	OrderEventWindowAgreed: {
		from: []OrderStatus{OrderStatusPending},
		to:   OrderStatusConfirmed,
		guard: func(o *Order, in TransitionInput) error {
			if err := requireActor(RoleBuyer, RoleSupplier)(o, in); err != nil {
				return err
			}
			if o.ProposalStatus != ProposalAccepted {
				return apperr.Conflict("order %s has no accepted window", o.OrderNumber)
			}
			return nil
		},
		effect: func(o *Order, in TransitionInput) { o.ConfirmedAt = ptrTime(in.Now) },
	},
	OrderEventSupplierConfirm: {
		from:   []OrderStatus{OrderStatusPending},
		to:     OrderStatusConfirmed,
		guard:  requireActor(RoleSupplier),
		effect: func(o *Order, in TransitionInput) { o.ConfirmedAt = ptrTime(in.Now) },
	},
	OrderEventDispatch: {
		from:   []OrderStatus{OrderStatusConfirmed},
		to:     OrderStatusInTransit,
		guard:  requireMode(ModeDelivery, RoleSupplier),
		effect: func(o *Order, in TransitionInput) { o.InTransitAt = ptrTime(in.Now) },
	},
	OrderEventReadyForPickup: {
		from:   []OrderStatus{OrderStatusConfirmed},
		to:     OrderStatusInTransit,
		guard:  requireMode(ModePickup, RoleSupplier),
		effect: func(o *Order, in TransitionInput) { o.InTransitAt = ptrTime(in.Now) },
	},
	OrderEventRecordDelivery: {
		from:   []OrderStatus{OrderStatusInTransit},
		to:     OrderStatusDelivered,
		guard:  requireActor(RoleSupplier),
		effect: markDelivered,
	},
	OrderEventConfirmPickup: {
		from:   []OrderStatus{OrderStatusInTransit},
		to:     OrderStatusDelivered,
		guard:  requireMode(ModePickup, RoleBuyer),
		effect: markDelivered,
	},
	OrderEventConfirmReceipt: {
		from: []OrderStatus{OrderStatusDelivered},
		to:   OrderStatusCompleted,
		guard: func(o *Order, in TransitionInput) error {
			switch in.Actor {
			case RoleBuyer:
				return nil
			case RoleSystem:
				if o.ConfirmationDeadline == nil || in.Now.Before(*o.ConfirmationDeadline) {
					return apperr.Conflict("order %s confirmation deadline has not passed", o.OrderNumber)
				}
				return nil
			}
			return apperr.Forbidden("only the buyer may confirm receipt")
		},
		effect: func(o *Order, in TransitionInput) { o.CompletedAt = ptrTime(in.Now) },
	},
	OrderEventDispute: {
		from:   []OrderStatus{OrderStatusDelivered},
		to:     OrderStatusDisputed,
		guard:  requireActor(RoleBuyer),
		effect: func(o *Order, in TransitionInput) { o.DisputedAt = ptrTime(in.Now) },
	},
	OrderEventCancel: {
		from: []OrderStatus{OrderStatusPending, OrderStatusConfirmed},
		to:   OrderStatusCancelled,
		guard: func(o *Order, in TransitionInput) error {
			if err := requireActor(RoleBuyer, RoleSupplier)(o, in); err != nil {
				return err
			}
			if strings.TrimSpace(in.Reason) == "" {
				return apperr.Validation("a cancellation reason is required")
			}
			return nil
		},
		effect: func(o *Order, in TransitionInput) {
			o.CancelledAt = ptrTime(in.Now)
			o.CancellationReason = strings.TrimSpace(in.Reason)
		},
	},
}

// Transition applies ev to o. It returns the status the order left.
func (o *Order) Transition(ev OrderEvent, in TransitionInput) (OrderStatus, error) {
	t, ok := orderTransitions[ev]
	if !ok {
		return o.Status, apperr.Validation("unknown order event %q", ev)
	}
	if !containsStatus(t.from, o.Status) {
		return o.Status, apperr.Conflict("illegal order transition from %s to %s", o.Status, t.to)
	}
	if t.guard != nil {
		if err := t.guard(o, in); err != nil {
			return o.Status, err
		}
	}
	from := o.Status
	o.Status = t.to
	if t.effect != nil {
		t.effect(o, in)
	}
	o.UpdatedAt = in.Now
	o.RecomputeTotals()
	return from, nil
}

// OrderEventTarget returns the status ev leads to.
func OrderEventTarget(ev OrderEvent) (OrderStatus, bool) {
	t, ok := orderTransitions[ev]
	return t.to, ok
}

// OrderEdgeAllowed reports whether any event moves an order from one status to another.
func OrderEdgeAllowed(from, to OrderStatus) bool {
	for _, t := range orderTransitions {
		if t.to == to && containsStatus(t.from, from) {
			return true
		}
	}
	return false
}

func containsStatus(list []OrderStatus, s OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func ptrTime(t time.Time) *time.Time { return &t }
