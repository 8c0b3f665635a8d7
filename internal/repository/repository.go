package repository

import (
	"context"
	"time"

	"material-exchange-backend/internal/domain"
)

// ListFilter is a caller-supplied list query. Field names are checked
// against a per-table allow-list before any SQL is built.
type ListFilter struct {
	Filters  map[string]string
	SortBy   string
	SortDesc bool
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

type RFQRepository interface {
	Create(ctx context.Context, rfq *domain.RFQ, recipients []domain.RFQRecipient) error
	GetByID(ctx context.Context, id int64) (*domain.RFQ, error)
	// GetForUpdate row-locks the RFQ until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.RFQ, error)
	// UpdateStatus moves the RFQ to status only while it is in one of from.
	UpdateStatus(ctx context.Context, id int64, from []domain.RFQStatus, to domain.RFQStatus, at time.Time) error
	Delete(ctx context.Context, id int64) error
	GetRecipient(ctx context.Context, rfqID, supplierID int64) (*domain.RFQRecipient, error)
	ListRecipients(ctx context.Context, rfqID int64) ([]domain.RFQRecipient, error)
	// MarkViewed sets viewed_at if unset and reports whether this call set it.
	MarkViewed(ctx context.Context, rfqID, supplierID int64, at time.Time) (bool, error)
	ListByBuyer(ctx context.Context, buyerID int64, f ListFilter) ([]domain.RFQ, int, error)
	ListBySupplier(ctx context.Context, supplierID int64, f ListFilter) ([]domain.RFQ, int, error)
	ExpireStale(ctx context.Context, now time.Time) ([]domain.RFQ, error)
}

type OfferRepository interface {
	Create(ctx context.Context, o *domain.Offer) error
	GetByID(ctx context.Context, id int64) (*domain.Offer, error)
	// GetByRFQAndSupplier locks the row for the rest of the transaction.
	GetByRFQAndSupplier(ctx context.Context, rfqID, supplierID int64) (*domain.Offer, error)
	Update(ctx context.Context, o *domain.Offer) error
	// AppendHistory stores h with the next version number for its offer.
	AppendHistory(ctx context.Context, h *domain.OfferHistory) error
	ListHistory(ctx context.Context, offerID int64) ([]domain.OfferHistory, error)
	CountByRFQ(ctx context.Context, rfqID int64) (int, error)
	ListByRFQ(ctx context.Context, rfqID int64) ([]domain.Offer, error)
	ListBySupplier(ctx context.Context, supplierID int64, f ListFilter) ([]domain.Offer, int, error)
	MarkAccepted(ctx context.Context, id int64, at time.Time) error
	MarkRejected(ctx context.Context, id int64, reason string, at time.Time) error
	MarkWithdrawn(ctx context.Context, id int64, at time.Time) error
	ExpireSiblings(ctx context.Context, rfqID, acceptedID int64, at time.Time) ([]domain.Offer, error)
	ExpireStale(ctx context.Context, now time.Time) ([]domain.Offer, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	// Update writes o if its version is unchanged and bumps the version.
	Update(ctx context.Context, o *domain.Order) error
	ListForBuyer(ctx context.Context, buyerID int64, f ListFilter) ([]domain.Order, int, error)
	ListForSupplier(ctx context.Context, supplierID int64, f ListFilter) ([]domain.Order, int, error)
	AddDeliveryEvent(ctx context.Context, ev *domain.DeliveryEvent) error
	ListDeliveryEvents(ctx context.Context, orderID int64) ([]domain.DeliveryEvent, error)
	AddConfirmation(ctx context.Context, c *domain.Confirmation) error
	ListDueForAutoComplete(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

type RentalRepository interface {
	GetItem(ctx context.Context, id int64) (*domain.RentalItem, error)
	Create(ctx context.Context, b *domain.RentalBooking) error
	GetByID(ctx context.Context, id int64) (*domain.RentalBooking, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.RentalBooking, error)
	GetByNumber(ctx context.Context, number string) (*domain.RentalBooking, error)
	Update(ctx context.Context, b *domain.RentalBooking) error
	ListForBuyer(ctx context.Context, buyerID int64, f ListFilter) ([]domain.RentalBooking, int, error)
	ListForSupplier(ctx context.Context, supplierID int64, f ListFilter) ([]domain.RentalBooking, int, error)
	CreateHandover(ctx context.Context, h *domain.Handover) error
	GetHandover(ctx context.Context, bookingID int64) (*domain.Handover, error)
	CreateReturn(ctx context.Context, r *domain.Return) error
	GetReturn(ctx context.Context, bookingID int64) (*domain.Return, error)
	ListOverdue(ctx context.Context, now time.Time) ([]domain.RentalBooking, error)
}

// CatalogRepository reads the supplier-side reference data owned by the
// catalog service.
type CatalogRepository interface {
	GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, ids []int64) ([]domain.Supplier, error)
	ListEntries(ctx context.Context, ids []int64) ([]domain.CatalogEntry, error)
	GetProject(ctx context.Context, id int64) (*domain.Project, error)
}

// TrustScoreReader reads precomputed supplier trust scores. Suppliers with no
// score are absent from the result.
type TrustScoreReader interface {
	TrustScores(ctx context.Context, supplierIDs []int64) (map[int64]float64, error)
}

// Repos groups the repositories bound to one connection or transaction.
type Repos struct {
	RFQs        RFQRepository
	Offers      OfferRepository
	Orders      OrderRepository
	Rentals     RentalRepository
	Catalog     CatalogRepository
	TrustScores TrustScoreReader
}

// Store hands out repositories and scopes multi-write operations to a
// single transaction. fn's error rolls the transaction back.
type Store interface {
	Repositories() Repos
	WithTx(ctx context.Context, fn func(Repos) error) error
	Ping(ctx context.Context) error
}
