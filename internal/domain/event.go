package domain

import (
	"fmt"
	"time"
)

// Event names pushed to realtime subscribers.
const (
	EventRFQCreated          = "rfq:created"
	EventRFQClosed           = "rfq:closed"
	EventOfferCreated        = "offer:created"
	EventOfferUpdated        = "offer:updated"
	EventOfferAccepted       = "offer:accepted"
	EventOfferRejected       = "offer:rejected"
	EventOfferExpired        = "offer:expired"
	EventOfferWithdrawn      = "offer:withdrawn"
	EventOrderCreated        = "order:created"
	EventOrderStatusChanged  = "order:status-changed"
	EventOrderUpdated        = "order:updated"
	EventOrderDelivery       = "order:delivery-recorded"
	EventRentalCreated       = "rental:created"
	EventRentalStatusChanged = "rental:status-changed"
	EventRentalOverdue       = "rental:overdue"
	eventWindowProposed      = "window-proposed"
	eventWindowAccepted      = "window-accepted"
	eventWindowRejected      = "window-rejected"
	eventWindowCountered     = "window-countered"
)

const (
	GroupSuppliers  = "suppliers"
	GroupBuyers     = "buyers"
	GroupOrdersList = "orders:list"
)

func UserGroup(id int64) string        { return fmt.Sprintf("user:%d", id) }
func OrderGroup(number string) string  { return "order:" + number }
func RentalGroup(number string) string { return "rental:" + number }

// Event is one notification fanned out to every connection in Groups.
type Event struct {
	Type    string    `json:"type"`
	Groups  []string  `json:"-"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

type WindowAction string

const (
	WindowPropose WindowAction = "propose"
	WindowAccept  WindowAction = "accept"
	WindowReject  WindowAction = "reject"
	WindowCounter WindowAction = "counter"
)

// WindowEventType returns the event name for a negotiation step, prefixed
// with "order" or "rental".
func WindowEventType(prefix string, a WindowAction) string {
	switch a {
	case WindowPropose:
		return prefix + ":" + eventWindowProposed
	case WindowAccept:
		return prefix + ":" + eventWindowAccepted
	case WindowReject:
		return prefix + ":" + eventWindowRejected
	default:
		return prefix + ":" + eventWindowCountered
	}
}

// StatusChange is the payload of order and rental status events.
type StatusChange struct {
	Number string `json:"number"`
	ID     int64  `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	By     Role   `json:"by"`
}

// WindowChange is the payload of window negotiation events.
type WindowChange struct {
	Number         string         `json:"number"`
	ID             int64          `json:"id"`
	Action         WindowAction   `json:"action"`
	By             Role           `json:"by"`
	ProposalStatus ProposalStatus `json:"proposal_status"`
	Proposed       *Window        `json:"proposed_window,omitempty"`
	Promised       *Window        `json:"promised_window,omitempty"`
}

// NewWindowChange snapshots n after action was applied by a party.
func NewWindowChange(number string, id int64, action WindowAction, by Role, n *Negotiation) WindowChange {
	return WindowChange{
		Number:         number,
		ID:             id,
		Action:         action,
		By:             by,
		ProposalStatus: n.ProposalStatus,
		Proposed:       n.Proposed(),
		Promised:       n.Promised(),
	}
}
