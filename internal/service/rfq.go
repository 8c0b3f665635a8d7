package service

import (
	"context"
	"strings"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

type CreateRFQInput struct {
	ProjectID        *int64
	Title            string
	Lines            []domain.RFQLine
	SupplierIDs      []int64
	PreferredWindow  *domain.Window
	DeliveryAddress  string
	DeliveryLocation *domain.GeoPoint
	// ExpiryDays of zero means the configured default.
	ExpiryDays int
}

type rfqService struct {
	base
}

func NewRFQService(d Deps) RFQService {
	return &rfqService{base: newBase(d)}
}

func requireRole(a domain.Actor, role domain.Role) error {
	if a.Role != role || a.UserID <= 0 {
		return apperr.Forbidden("only a %s may perform this action", role)
	}
	return nil
}

func (s *rfqService) Create(ctx context.Context, buyer domain.Actor, in CreateRFQInput) (*domain.RFQ, error) {
	logger.EnterMethod("rfqService.Create", "buyerID", buyer.UserID)
	if err := requireRole(buyer, domain.RoleBuyer); err != nil {
		return nil, err
	}
	if err := domain.ValidateLines(in.Lines); err != nil {
		return nil, err
	}
	suppliers, err := domain.DistinctSuppliers(in.SupplierIDs)
	if err != nil {
		return nil, err
	}
	if in.PreferredWindow != nil {
		if err := in.PreferredWindow.Validate(); err != nil {
			return nil, err
		}
	}
	days := in.ExpiryDays
	if days == 0 {
		days = s.settings.DefaultRFQExpiryDays
	}
	if days < 1 || days > domain.MaxRFQExpiryDays {
		return nil, apperr.Validation("expiry must be between 1 and %d days", domain.MaxRFQExpiryDays)
	}

	now := s.now()
	rfq := &domain.RFQ{
		BuyerID:          buyer.UserID,
		ProjectID:        in.ProjectID,
		Title:            strings.TrimSpace(in.Title),
		Lines:            in.Lines,
		PreferredWindow:  in.PreferredWindow,
		DeliveryAddress:  strings.TrimSpace(in.DeliveryAddress),
		DeliveryLocation: in.DeliveryLocation,
		Status:           domain.RFQStatusActive,
		ExpiresAt:        now.AddDate(0, 0, days),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	recipients := make([]domain.RFQRecipient, len(suppliers))
	for i, id := range suppliers {
		recipients[i] = domain.RFQRecipient{SupplierID: id, NotifiedAt: now}
	}

	err = s.store.WithTx(ctx, func(r repository.Repos) error {
		if err := checkProject(ctx, r, buyer, in.ProjectID); err != nil {
			return err
		}
		found, err := r.Catalog.ListSuppliers(ctx, suppliers)
		if err != nil {
			return err
		}
		active := make(map[int64]bool, len(found))
		for _, sup := range found {
			active[sup.ID] = sup.IsActive
		}
		for _, id := range suppliers {
			ok, exists := active[id]
			if !exists {
				return apperr.NotFound("supplier %d not found", id)
			}
			if !ok {
				return apperr.Conflict("supplier %d is not accepting requests", id)
			}
		}
		return r.RFQs.Create(ctx, rfq, recipients)
	})
	if err != nil {
		logger.ExitMethodWithError("rfqService.Create", err)
		return nil, err
	}

	events := make([]domain.Event, 0, len(recipients))
	for _, rec := range recipients {
		events = append(events, event(domain.EventRFQCreated, rfq, domain.UserGroup(rec.SupplierID)))
	}
	s.publish(ctx, events...)
	logger.ExitMethod("rfqService.Create", "rfqID", rfq.ID)
	return rfq, nil
}

func checkProject(ctx context.Context, r repository.Repos, buyer domain.Actor, projectID *int64) error {
	if projectID == nil {
		return nil
	}
	p, err := r.Catalog.GetProject(ctx, *projectID)
	if err != nil {
		return err
	}
	if p.OwnerID != buyer.UserID {
		return apperr.Forbidden("project %d does not belong to you", p.ID)
	}
	return nil
}

// ownedRFQ loads an RFQ and hides it from anyone but its buyer.
func ownedRFQ(ctx context.Context, r repository.Repos, buyer domain.Actor, id int64) (*domain.RFQ, error) {
	if err := requireRole(buyer, domain.RoleBuyer); err != nil {
		return nil, err
	}
	rfq, err := r.RFQs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rfq.BuyerID != buyer.UserID {
		return nil, apperr.NotFound("rfq not found")
	}
	return rfq, nil
}

func (s *rfqService) Get(ctx context.Context, actor domain.Actor, id int64) (*domain.RFQ, error) {
	r := s.repos()
	switch actor.Role {
	case domain.RoleBuyer:
		return ownedRFQ(ctx, r, actor, id)
	case domain.RoleSupplier:
		if _, err := r.RFQs.GetRecipient(ctx, id, actor.UserID); err != nil {
			if apperr.IsNotFound(err) {
				return nil, apperr.NotFound("rfq not found")
			}
			return nil, err
		}
		rfq, err := r.RFQs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := r.RFQs.MarkViewed(ctx, id, actor.UserID, s.now()); err != nil {
			logger.Warn("Failed to record rfq view", "rfqID", id, "supplierID", actor.UserID, "error", err)
		}
		return rfq, nil
	}
	return nil, apperr.Forbidden("unknown role")
}

func (s *rfqService) Close(ctx context.Context, buyer domain.Actor, id int64) (*domain.RFQ, error) {
	var (
		rfq        *domain.RFQ
		recipients []domain.RFQRecipient
	)
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		var err error
		if rfq, err = ownedRFQ(ctx, r, buyer, id); err != nil {
			return err
		}
		if rfq.Status != domain.RFQStatusActive {
			return apperr.Conflict("rfq %d is %s and cannot be closed", rfq.ID, rfq.Status)
		}
		now := s.now()
		if err := r.RFQs.UpdateStatus(ctx, id, []domain.RFQStatus{domain.RFQStatusActive}, domain.RFQStatusClosed, now); err != nil {
			return err
		}
		rfq.Status = domain.RFQStatusClosed
		rfq.UpdatedAt = now
		recipients, err = r.RFQs.ListRecipients(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Transition("rfq", rfq.ID, string(domain.RFQStatusActive), string(domain.RFQStatusClosed))
	s.publish(ctx, event(domain.EventRFQClosed, rfq, recipientGroups(recipients)...))
	return rfq, nil
}

func (s *rfqService) Delete(ctx context.Context, buyer domain.Actor, id int64) error {
	return s.store.WithTx(ctx, func(r repository.Repos) error {
		if _, err := ownedRFQ(ctx, r, buyer, id); err != nil {
			return err
		}
		n, err := r.Offers.CountByRFQ(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("rfq %d already has %d offer(s) and cannot be deleted", id, n)
		}
		return r.RFQs.Delete(ctx, id)
	})
}

func (s *rfqService) MarkViewed(ctx context.Context, supplier domain.Actor, id int64) error {
	if err := requireRole(supplier, domain.RoleSupplier); err != nil {
		return err
	}
	r := s.repos()
	if _, err := r.RFQs.GetRecipient(ctx, id, supplier.UserID); err != nil {
		return err
	}
	first, err := r.RFQs.MarkViewed(ctx, id, supplier.UserID, s.now())
	if err != nil {
		return err
	}
	logger.Debug("RFQ viewed", "rfqID", id, "supplierID", supplier.UserID, "first", first)
	return nil
}

func (s *rfqService) List(ctx context.Context, actor domain.Actor, f repository.ListFilter) ([]domain.RFQ, int, error) {
	r := s.repos()
	switch actor.Role {
	case domain.RoleBuyer:
		return r.RFQs.ListByBuyer(ctx, actor.UserID, f)
	case domain.RoleSupplier:
		return r.RFQs.ListBySupplier(ctx, actor.UserID, f)
	}
	return nil, 0, apperr.Forbidden("unknown role")
}

func (s *rfqService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.repos().RFQs.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for i := range expired {
		rfq := &expired[i]
		s.publish(ctx, event(domain.EventRFQClosed, rfq, domain.UserGroup(rfq.BuyerID)))
	}
	return len(expired), nil
}

func recipientGroups(recipients []domain.RFQRecipient) []string {
	groups := make([]string, len(recipients))
	for i, rec := range recipients {
		groups[i] = domain.UserGroup(rec.SupplierID)
	}
	return groups
}
