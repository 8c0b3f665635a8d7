package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

type DirectOrderItem struct {
	CatalogEntryID int64
	Quantity       decimal.Decimal
}

type DirectOrderInput struct {
	SupplierID       int64
	ProjectID        *int64
	Items            []DirectOrderItem
	Mode             domain.FulfillmentMode
	DeliveryAddress  string
	DeliveryLocation *domain.GeoPoint
	PaymentTerms     string
	Window           *domain.Window
}

func (in *DirectOrderInput) validate() error {
	if in.SupplierID <= 0 {
		return apperr.Validation("supplier_id is required")
	}
	if len(in.Items) == 0 {
		return apperr.Validation("at least one item is required")
	}
	if len(in.Items) > domain.MaxRFQLines {
		return apperr.Validation("an order may carry at most %d items", domain.MaxRFQLines)
	}
	seen := make(map[int64]bool, len(in.Items))
	for i, it := range in.Items {
		if it.CatalogEntryID <= 0 {
			return apperr.Validation("item %d: catalog_entry_id is required", i+1)
		}
		if seen[it.CatalogEntryID] {
			return apperr.Validation("item %d: catalog entry %d is listed twice", i+1, it.CatalogEntryID)
		}
		seen[it.CatalogEntryID] = true
		if !it.Quantity.IsPositive() {
			return apperr.Validation("item %d: quantity must be greater than zero", i+1)
		}
	}
	if !in.Mode.Valid() {
		return apperr.Validation("pickup_or_delivery must be pickup or delivery")
	}
	if in.Mode == domain.ModeDelivery && strings.TrimSpace(in.DeliveryAddress) == "" {
		return apperr.Validation("a delivery address is required for delivery orders")
	}
	if in.Window != nil {
		return in.Window.Validate()
	}
	return nil
}

type directOrderService struct {
	base
}

func NewDirectOrderService(d Deps) DirectOrderService {
	return &directOrderService{base: newBase(d)}
}

func (s *directOrderService) Create(ctx context.Context, buyer domain.Actor, in DirectOrderInput) (*domain.Order, error) {
	logger.EnterMethod("directOrderService.Create", "buyerID", buyer.UserID, "supplierID", in.SupplierID)
	if err := requireRole(buyer, domain.RoleBuyer); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := s.withNumber(ctx, orderNumberPrefix, func(number string) error {
		return s.store.WithTx(ctx, func(r repository.Repos) error {
			var err error
			order, err = s.build(ctx, r, buyer, in, number)
			if err != nil {
				return err
			}
			return r.Orders.Create(ctx, order)
		})
	})
	if err != nil {
		logger.ExitMethodWithError("directOrderService.Create", err)
		return nil, err
	}

	s.publish(ctx, orderEvents(domain.EventOrderCreated, order)...)
	logger.ExitMethod("directOrderService.Create", "orderNumber", order.OrderNumber)
	return order, nil
}

// build validates the request against the supplier and catalog and prices
// it server-side. Nothing is written.
func (s *directOrderService) build(ctx context.Context, r repository.Repos, buyer domain.Actor, in DirectOrderInput, number string) (*domain.Order, error) {
	sup, err := r.Catalog.GetSupplier(ctx, in.SupplierID)
	if err != nil {
		return nil, err
	}
	if !sup.IsActive {
		return nil, apperr.Conflict("supplier %d is not accepting orders", sup.ID)
	}
	if in.Mode == domain.ModePickup && !sup.OffersPickup {
		return nil, apperr.Conflict("supplier %d does not offer pickup", sup.ID)
	}
	if in.Mode == domain.ModeDelivery && !sup.OffersDelivery {
		return nil, apperr.Conflict("supplier %d does not deliver", sup.ID)
	}
	if err := checkProject(ctx, r, buyer, in.ProjectID); err != nil {
		return nil, err
	}

	ids := make([]int64, len(in.Items))
	for i, it := range in.Items {
		ids[i] = it.CatalogEntryID
	}
	entries, err := r.Catalog.ListEntries(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.CatalogEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	items := make([]domain.OrderItem, len(in.Items))
	total := decimal.Zero
	for i, it := range in.Items {
		e, ok := byID[it.CatalogEntryID]
		if !ok {
			return nil, apperr.NotFound("catalog entry %d not found", it.CatalogEntryID)
		}
		switch {
		case e.SupplierID != sup.ID:
			return nil, apperr.Validation("catalog entry %d is not sold by supplier %d", e.ID, sup.ID)
		case !e.IsActive:
			return nil, apperr.Conflict("catalog entry %d is no longer available", e.ID)
		case !e.DirectOrderEligible:
			return nil, apperr.Conflict("catalog entry %d cannot be ordered directly", e.ID)
		case !e.Supports(in.Mode):
			return nil, apperr.Conflict("catalog entry %d is not available for %s", e.ID, in.Mode)
		}
		entryID := e.ID
		line := e.UnitPrice.Mul(it.Quantity).Round(2)
		items[i] = domain.OrderItem{
			CatalogEntryID: &entryID,
			Description:    e.Name,
			Quantity:       it.Quantity,
			Unit:           e.Unit,
			UnitPrice:      e.UnitPrice,
			LineTotal:      line,
		}
		total = total.Add(line)
	}

	if total.LessThan(sup.MinOrderValue) {
		return nil, apperr.Conflict("order total %s is below the supplier minimum of %s (short by %s)",
			total.StringFixed(2), sup.MinOrderValue.StringFixed(2), sup.MinOrderValue.Sub(total).StringFixed(2))
	}

	now := s.now()
	order := &domain.Order{
		OrderNumber:  number,
		BuyerID:      buyer.UserID,
		SupplierID:   sup.ID,
		ProjectID:    in.ProjectID,
		Items:        items,
		TotalAmount:  total,
		TaxAmount:    domain.TaxOn(total, s.settings.TaxRate),
		Mode:         in.Mode,
		PaymentTerms: strings.TrimSpace(in.PaymentTerms),
		Negotiation:  domain.NewNegotiation(),
		Status:       domain.OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Mode == domain.ModeDelivery {
		order.DeliveryFee = sup.DeliveryFee
		order.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
		order.DeliveryLocation = in.DeliveryLocation
	}
	if in.Window != nil {
		if err := order.Propose(domain.RoleBuyer, *in.Window); err != nil {
			return nil, err
		}
	}
	order.RecomputeTotals()
	return order, nil
}
