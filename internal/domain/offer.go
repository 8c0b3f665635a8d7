package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/apperr"
)

type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusRejected  OfferStatus = "rejected"
	OfferStatusExpired   OfferStatus = "expired"
	OfferStatusWithdrawn OfferStatus = "withdrawn"
)

// LinePrice is a supplier's price for the RFQ line at the same index.
type LinePrice struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes,omitempty"`
}

type Offer struct {
	ID              int64           `json:"id"`
	RFQID           int64           `json:"rfq_id"`
	SupplierID      int64           `json:"supplier_id"`
	LinePrices      []LinePrice     `json:"line_prices"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	Window          *Window         `json:"delivery_window,omitempty"`
	PaymentTerms    string          `json:"payment_terms"`
	Notes           string          `json:"notes,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Status          OfferStatus     `json:"status"`
	AcceptedAt      *time.Time      `json:"accepted_at,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	// SupplierTrustScore is filled for buyer-facing listings only.
	SupplierTrustScore *float64 `json:"supplier_trust_score,omitempty"`
}

// OfferHistory is a snapshot of an offer taken just before it was replaced.
type OfferHistory struct {
	ID           int64           `json:"id"`
	OfferID      int64           `json:"offer_id"`
	Version      int             `json:"version"`
	LinePrices   []LinePrice     `json:"line_prices"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	Window       *Window         `json:"delivery_window,omitempty"`
	PaymentTerms string          `json:"payment_terms"`
	Notes        string          `json:"notes,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Status       OfferStatus     `json:"status"`
	ArchivedAt   time.Time       `json:"archived_at"`
}

// Snapshot captures the current state of o as history version v.
func (o *Offer) Snapshot(version int, at time.Time) OfferHistory {
	prices := make([]LinePrice, len(o.LinePrices))
	copy(prices, o.LinePrices)
	return OfferHistory{
		OfferID:      o.ID,
		Version:      version,
		LinePrices:   prices,
		TotalAmount:  o.TotalAmount,
		DeliveryFee:  o.DeliveryFee,
		Window:       o.Window,
		PaymentTerms: o.PaymentTerms,
		Notes:        o.Notes,
		ExpiresAt:    o.ExpiresAt,
		Status:       o.Status,
		ArchivedAt:   at,
	}
}

// OfferTerms are the supplier-controlled fields of a submission.
type OfferTerms struct {
	LinePrices   []LinePrice
	TotalAmount  decimal.Decimal
	DeliveryFee  decimal.Decimal
	Window       *Window
	PaymentTerms string
	Notes        string
	ExpiresAt    time.Time
	// Status, when set, is an explicit status change requested with the
	// resubmission. Nil leaves the current status untouched.
	Status *OfferStatus
}

// Validate checks the terms against the RFQ they answer.
func (t *OfferTerms) Validate(rfq *RFQ, now time.Time) error {
	if len(t.LinePrices) != len(rfq.Lines) {
		return apperr.Validation("expected %d line prices, got %d", len(rfq.Lines), len(t.LinePrices))
	}
	for i, lp := range t.LinePrices {
		if lp.UnitPrice.IsNegative() {
			return apperr.Validation("line %d: unit price must not be negative", i+1)
		}
	}
	if t.TotalAmount.IsNegative() {
		return apperr.Validation("total amount must not be negative")
	}
	if t.DeliveryFee.IsNegative() {
		return apperr.Validation("delivery fee must not be negative")
	}
	if t.Window != nil {
		if err := t.Window.Validate(); err != nil {
			return err
		}
	}
	if !t.ExpiresAt.After(now) {
		return apperr.Validation("offer expiry must be in the future")
	}
	return nil
}

// Apply overwrites o with the new terms. The status only changes when the
// caller asked for it and the change is one a supplier may make.
func (o *Offer) Apply(t OfferTerms, now time.Time) error {
	if t.Status != nil && *t.Status != o.Status {
		switch {
		case o.Status == OfferStatusPending && *t.Status == OfferStatusWithdrawn:
		case o.Status == OfferStatusWithdrawn && *t.Status == OfferStatusPending:
		default:
			return apperr.Conflict("offer status cannot change from %s to %s", o.Status, *t.Status)
		}
		o.Status = *t.Status
	}
	o.LinePrices = t.LinePrices
	o.TotalAmount = t.TotalAmount
	o.DeliveryFee = t.DeliveryFee
	o.Window = t.Window
	o.PaymentTerms = t.PaymentTerms
	o.Notes = t.Notes
	o.ExpiresAt = t.ExpiresAt
	o.UpdatedAt = now
	return nil
}

// CanAccept checks the acceptance preconditions that depend only on the offer.
func (o *Offer) CanAccept(now time.Time) error {
	if o.Status != OfferStatusPending {
		return apperr.Conflict("offer %d is %s, not pending", o.ID, o.Status)
	}
	if !o.ExpiresAt.After(now) {
		return apperr.Conflict("offer %d expired at %s", o.ID, o.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// OrderItems pairs RFQ lines with the offer's prices by index.
func (o *Offer) OrderItems(rfq *RFQ) ([]OrderItem, error) {
	if len(o.LinePrices) != len(rfq.Lines) {
		return nil, apperr.Conflict("offer %d prices %d lines but rfq %d has %d", o.ID, len(o.LinePrices), rfq.ID, len(rfq.Lines))
	}
	items := make([]OrderItem, len(rfq.Lines))
	for i, line := range rfq.Lines {
		price := o.LinePrices[i].UnitPrice
		items[i] = OrderItem{
			CatalogEntryID: line.CatalogEntryID,
			Description:    line.Description,
			Quantity:       line.Quantity,
			Unit:           line.Unit,
			UnitPrice:      price,
			LineTotal:      price.Mul(line.Quantity).Round(2),
		}
	}
	return items, nil
}
