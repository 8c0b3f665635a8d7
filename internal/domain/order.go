package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusInTransit OrderStatus = "in_transit"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusDisputed  OrderStatus = "disputed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusDisputed || s == OrderStatusCancelled
}

type OrderItem struct {
	CatalogEntryID *int64          `json:"catalog_entry_id,omitempty"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID               int64           `json:"id"`
	OrderNumber      string          `json:"order_number"`
	BuyerID          int64           `json:"buyer_id"`
	SupplierID       int64           `json:"supplier_id"`
	ProjectID        *int64          `json:"project_id,omitempty"`
	OfferID          *int64          `json:"offer_id,omitempty"`
	Items            []OrderItem     `json:"items"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	DeliveryFee      decimal.Decimal `json:"delivery_fee"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	Mode             FulfillmentMode `json:"pickup_or_delivery"`
	DeliveryAddress  string          `json:"delivery_address,omitempty"`
	DeliveryLocation *GeoPoint       `json:"delivery_location,omitempty"`
	PaymentTerms     string          `json:"payment_terms"`
	Negotiation
	Status               OrderStatus `json:"status"`
	ConfirmationDeadline *time.Time  `json:"confirmation_deadline,omitempty"`
	ConfirmedAt          *time.Time  `json:"confirmed_at,omitempty"`
	InTransitAt          *time.Time  `json:"in_transit_at,omitempty"`
	DeliveredAt          *time.Time  `json:"delivered_at,omitempty"`
	CompletedAt          *time.Time  `json:"completed_at,omitempty"`
	DisputedAt           *time.Time  `json:"disputed_at,omitempty"`
	CancelledAt          *time.Time  `json:"cancelled_at,omitempty"`
	CancellationReason   string      `json:"cancellation_reason,omitempty"`
	Version              int         `json:"-"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// OrderSummary is the order as broadcast groups see it: number, status and
// timestamps only.
type OrderSummary struct {
	ID          int64       `json:"id"`
	OrderNumber string      `json:"order_number"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (o *Order) Summary() OrderSummary {
	return OrderSummary{ID: o.ID, OrderNumber: o.OrderNumber, Status: o.Status, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt}
}

// RecomputeTotals derives the grand total from its parts. Every write path
// calls it; a caller-supplied grand total is never trusted.
func (o *Order) RecomputeTotals() {
	o.TotalAmount = o.TotalAmount.Round(2)
	o.DeliveryFee = o.DeliveryFee.Round(2)
	o.TaxAmount = o.TaxAmount.Round(2)
	o.GrandTotal = o.TotalAmount.Add(o.DeliveryFee).Add(o.TaxAmount)
}

// TaxOn returns amount × rate rounded to cents.
func TaxOn(amount, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(rate).Round(2)
}

// RoleOf reports which side of the order userID is on.
func (o *Order) RoleOf(a Actor) (Role, bool) {
	switch {
	case a.Role == RoleBuyer && a.UserID == o.BuyerID:
		return RoleBuyer, true
	case a.Role == RoleSupplier && a.UserID == o.SupplierID:
		return RoleSupplier, true
	}
	return "", false
}

// DeliveryEvent is evidence of a delivery or a pickup hand-off. An order may
// collect several partial events before the final one.
type DeliveryEvent struct {
	ID         int64          `json:"id"`
	OrderID    int64          `json:"order_id"`
	RecordedBy Role           `json:"recorded_by"`
	Photos     []string       `json:"photos"`
	Quantities []ItemQuantity `json:"quantities,omitempty"`
	Location   *GeoPoint      `json:"location,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	IsFinal    bool           `json:"is_final"`
	OccurredAt time.Time      `json:"occurred_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

type ItemQuantity struct {
	ItemIndex int             `json:"item_index"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type ConfirmationType string

const (
	ConfirmationAccept  ConfirmationType = "accept"
	ConfirmationDispute ConfirmationType = "dispute"
)

type DisputeCategory string

const (
	DisputeShortDelivery DisputeCategory = "short_delivery"
	DisputeDamaged       DisputeCategory = "damaged"
	DisputeWrongItem     DisputeCategory = "wrong_item"
	DisputeLate          DisputeCategory = "late"
	DisputeOther         DisputeCategory = "other"
)

func (c DisputeCategory) Valid() bool {
	switch c {
	case DisputeShortDelivery, DisputeDamaged, DisputeWrongItem, DisputeLate, DisputeOther:
		return true
	}
	return false
}

// Confirmation is the buyer's response to the recorded delivery. Automatic
// completions are stored with AutoCompleted set.
type Confirmation struct {
	ID              int64            `json:"id"`
	OrderID         int64            `json:"order_id"`
	DeliveryEventID *int64           `json:"delivery_event_id,omitempty"`
	Type            ConfirmationType `json:"type"`
	Category        DisputeCategory  `json:"category,omitempty"`
	Evidence        []string         `json:"evidence,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	AutoCompleted   bool             `json:"auto_completed"`
	CreatedAt       time.Time        `json:"created_at"`
}
