package domain

import (
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSupplier Role = "supplier"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSupplier
}

// Counterpart returns the other negotiating party.
func (r Role) Counterpart() Role {
	switch r {
	case RoleBuyer:
		return RoleSupplier
	case RoleSupplier:
		return RoleBuyer
	default:
		return ""
	}
}

// Actor is the authenticated caller of an operation. UserID is the buyer's
// user id or the supplier id depending on Role. The scheduler acts as
// RoleSystem with a zero id.
type Actor struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

func SystemActor() Actor { return Actor{Role: RoleSystem} }

type Supplier struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	IsActive       bool            `json:"is_active"`
	MinOrderValue  decimal.Decimal `json:"min_order_value"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	OffersPickup   bool            `json:"offers_pickup"`
	OffersDelivery bool            `json:"offers_delivery"`
	// TrustScore is computed elsewhere and only read here.
	TrustScore *float64 `json:"trust_score,omitempty"`
}

type Project struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
}

type FulfillmentMode string

const (
	ModePickup   FulfillmentMode = "pickup"
	ModeDelivery FulfillmentMode = "delivery"
)

func (m FulfillmentMode) Valid() bool {
	return m == ModePickup || m == ModeDelivery
}

type CatalogEntry struct {
	ID                  int64           `json:"id"`
	SupplierID          int64           `json:"supplier_id"`
	Name                string          `json:"name"`
	Unit                string          `json:"unit"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	IsActive            bool            `json:"is_active"`
	DirectOrderEligible bool            `json:"direct_order_eligible"`
	PickupAvailable     bool            `json:"pickup_available"`
	DeliveryAvailable   bool            `json:"delivery_available"`
}

// Supports reports whether the entry can be fulfilled in mode.
func (c *CatalogEntry) Supports(mode FulfillmentMode) bool {
	switch mode {
	case ModePickup:
		return c.PickupAvailable
	case ModeDelivery:
		return c.DeliveryAvailable
	}
	return false
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
