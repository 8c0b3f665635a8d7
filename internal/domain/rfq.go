package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/apperr"
)

const (
	MaxRFQLines       = 50
	MaxRFQSuppliers   = 5
	DefaultRFQExpiry  = 7
	MaxRFQExpiryDays  = 30
	MaxRejectionChars = 500
)

type RFQStatus string

const (
	RFQStatusDraft   RFQStatus = "draft"
	RFQStatusActive  RFQStatus = "active"
	RFQStatusExpired RFQStatus = "expired"
	RFQStatusClosed  RFQStatus = "closed"
)

type RFQLine struct {
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	CatalogEntryID *int64          `json:"catalog_entry_id,omitempty"`
}

type RFQ struct {
	ID               int64     `json:"id"`
	BuyerID          int64     `json:"buyer_id"`
	ProjectID        *int64    `json:"project_id,omitempty"`
	Title            string    `json:"title"`
	Lines            []RFQLine `json:"lines"`
	PreferredWindow  *Window   `json:"preferred_window,omitempty"`
	DeliveryAddress  string    `json:"delivery_address"`
	DeliveryLocation *GeoPoint `json:"delivery_location,omitempty"`
	Status           RFQStatus `json:"status"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type RFQRecipient struct {
	RFQID      int64      `json:"rfq_id"`
	SupplierID int64      `json:"supplier_id"`
	NotifiedAt time.Time  `json:"notified_at"`
	ViewedAt   *time.Time `json:"viewed_at,omitempty"`
}

// ValidateLines checks the line bounds and the content of each line.
func ValidateLines(lines []RFQLine) error {
	if len(lines) == 0 {
		return apperr.Validation("at least one line item is required")
	}
	if len(lines) > MaxRFQLines {
		return apperr.Validation("an RFQ may carry at most %d line items, got %d", MaxRFQLines, len(lines))
	}
	for i, l := range lines {
		if strings.TrimSpace(l.Description) == "" {
			return apperr.Validation("line %d: description is required", i+1)
		}
		if !l.Quantity.IsPositive() {
			return apperr.Validation("line %d: quantity must be greater than zero", i+1)
		}
	}
	return nil
}

// DistinctSuppliers validates the recipient bounds and drops duplicates,
// preserving order.
func DistinctSuppliers(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, apperr.Validation("invalid supplier id %d", id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, apperr.Validation("at least one supplier is required")
	}
	if len(out) > MaxRFQSuppliers {
		return nil, apperr.Validation("an RFQ may be sent to at most %d suppliers, got %d", MaxRFQSuppliers, len(out))
	}
	return out, nil
}

// IsOpen reports whether suppliers may still respond at now.
func (r *RFQ) IsOpen(now time.Time) bool {
	return r.Status == RFQStatusActive && now.Before(r.ExpiresAt)
}
