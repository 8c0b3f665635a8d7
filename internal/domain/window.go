package domain

import (
	"time"

	"material-exchange-backend/internal/apperr"
)

// Window is a delivery, pickup or handover time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return apperr.Validation("window start and end are required")
	}
	if !w.End.After(w.Start) {
		return apperr.Validation("window end must be after window start")
	}
	return nil
}

type ProposalStatus string

const (
	ProposalNone     ProposalStatus = "none"
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Negotiation is the window sub-protocol state carried by orders and rental
// bookings. It moves independently of the parent's status column.
type Negotiation struct {
	ProposedStart  *time.Time     `json:"proposed_window_start,omitempty"`
	ProposedEnd    *time.Time     `json:"proposed_window_end,omitempty"`
	ProposedBy     Role           `json:"proposed_by,omitempty"`
	ProposalStatus ProposalStatus `json:"proposal_status"`
	PromisedStart  *time.Time     `json:"promised_window_start,omitempty"`
	PromisedEnd    *time.Time     `json:"promised_window_end,omitempty"`
}

func NewNegotiation() Negotiation {
	return Negotiation{ProposalStatus: ProposalNone}
}

// Promised returns the agreed window, if any.
func (n *Negotiation) Promised() *Window {
	if n.PromisedStart == nil || n.PromisedEnd == nil {
		return nil
	}
	return &Window{Start: *n.PromisedStart, End: *n.PromisedEnd}
}

// Proposed returns the outstanding proposal window, if any.
func (n *Negotiation) Proposed() *Window {
	if n.ProposedStart == nil || n.ProposedEnd == nil {
		return nil
	}
	return &Window{Start: *n.ProposedStart, End: *n.ProposedEnd}
}

// Propose records actor's window, replacing any outstanding proposal.
func (n *Negotiation) Propose(actor Role, w Window) error {
	if !actor.Valid() {
		return apperr.Forbidden("only the buyer or the supplier may propose a window")
	}
	if err := w.Validate(); err != nil {
		return err
	}
	start, end := w.Start.UTC(), w.End.UTC()
	n.ProposedStart = &start
	n.ProposedEnd = &end
	n.ProposedBy = actor
	n.ProposalStatus = ProposalPending
	return nil
}

func (n *Negotiation) requireCounterpart(actor Role, verb string) error {
	if n.ProposalStatus != ProposalPending {
		return apperr.Conflict("cannot %s window: proposal status is %s", verb, n.statusOrNone())
	}
	if !actor.Valid() {
		return apperr.Forbidden("only the buyer or the supplier may %s a window", verb)
	}
	if actor == n.ProposedBy {
		return apperr.Conflict("cannot %s your own window proposal", verb)
	}
	return nil
}

func (n *Negotiation) statusOrNone() ProposalStatus {
	if n.ProposalStatus == "" {
		return ProposalNone
	}
	return n.ProposalStatus
}

// Accept promotes the outstanding proposal to the promised window.
func (n *Negotiation) Accept(actor Role) error {
	if err := n.requireCounterpart(actor, "accept"); err != nil {
		return err
	}
	start, end := *n.ProposedStart, *n.ProposedEnd
	n.PromisedStart = &start
	n.PromisedEnd = &end
	n.ProposalStatus = ProposalAccepted
	return nil
}

// Reject closes the outstanding proposal and leaves the promised window alone.
func (n *Negotiation) Reject(actor Role) error {
	if err := n.requireCounterpart(actor, "reject"); err != nil {
		return err
	}
	n.ProposalStatus = ProposalRejected
	return nil
}

// Counter replaces the outstanding proposal with actor's window and flips
// proposed_by to actor.
func (n *Negotiation) Counter(actor Role, w Window) error {
	if err := n.requireCounterpart(actor, "counter"); err != nil {
		return err
	}
	return n.Propose(actor, w)
}
