package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/cache"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

type SubmitOfferInput struct {
	LinePrices   []domain.LinePrice
	TotalAmount  decimal.Decimal
	DeliveryFee  decimal.Decimal
	Window       *domain.Window
	PaymentTerms string
	Notes        string
	ExpiresAt    time.Time
	Status       *domain.OfferStatus
}

// AcceptResult is everything an acceptance changed.
type AcceptResult struct {
	Offer   *domain.Offer  `json:"offer"`
	Order   *domain.Order  `json:"order"`
	Expired []domain.Offer `json:"expired_offers"`
	RFQ     *domain.RFQ    `json:"rfq"`
}

// trustScore caches a supplier's score; ok is false for unscored suppliers.
type trustScore struct {
	value float64
	ok    bool
}

type offerService struct {
	base
	scores *cache.TTL[int64, trustScore]
}

func NewOfferService(d Deps) OfferService {
	b := newBase(d)
	ttl := b.settings.TrustScoreCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &offerService{
		base:   b,
		scores: cache.NewTTL[int64, trustScore](ttl).WithClock(b.clock),
	}
}

func (s *offerService) Submit(ctx context.Context, supplier domain.Actor, rfqID int64, in SubmitOfferInput) (*domain.Offer, bool, error) {
	logger.EnterMethod("offerService.Submit", "rfqID", rfqID, "supplierID", supplier.UserID)
	if err := requireRole(supplier, domain.RoleSupplier); err != nil {
		return nil, false, err
	}
	terms := domain.OfferTerms{
		LinePrices:   in.LinePrices,
		TotalAmount:  in.TotalAmount.Round(2),
		DeliveryFee:  in.DeliveryFee.Round(2),
		Window:       in.Window,
		PaymentTerms: strings.TrimSpace(in.PaymentTerms),
		Notes:        strings.TrimSpace(in.Notes),
		ExpiresAt:    in.ExpiresAt.UTC(),
		Status:       in.Status,
	}

	var (
		offer   *domain.Offer
		created bool
		rfq     *domain.RFQ
	)
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		now := s.now()
		var err error
		if rfq, err = r.RFQs.GetByID(ctx, rfqID); err != nil {
			return err
		}
		if _, err := r.RFQs.GetRecipient(ctx, rfqID, supplier.UserID); err != nil {
			if apperr.IsNotFound(err) {
				return apperr.Conflict("supplier %d was not invited to rfq %d", supplier.UserID, rfqID)
			}
			return err
		}
		if !rfq.IsOpen(now) {
			return apperr.Conflict("rfq %d is no longer accepting offers", rfqID)
		}
		if err := terms.Validate(rfq, now); err != nil {
			return err
		}

		existing, err := r.Offers.GetByRFQAndSupplier(ctx, rfqID, supplier.UserID)
		switch {
		case apperr.IsNotFound(err):
			if terms.Status != nil && *terms.Status != domain.OfferStatusPending {
				return apperr.Validation("a new offer must be pending")
			}
			offer = &domain.Offer{RFQID: rfqID, SupplierID: supplier.UserID, Status: domain.OfferStatusPending, CreatedAt: now}
			terms.Status = nil
			if err := offer.Apply(terms, now); err != nil {
				return err
			}
			created = true
			return r.Offers.Create(ctx, offer)
		case err != nil:
			return err
		}

		if existing.Status != domain.OfferStatusPending && existing.Status != domain.OfferStatusWithdrawn {
			return apperr.Conflict("offer %d is %s and can no longer be replaced", existing.ID, existing.Status)
		}
		h := existing.Snapshot(0, now)
		if err := r.Offers.AppendHistory(ctx, &h); err != nil {
			return err
		}
		if err := existing.Apply(terms, now); err != nil {
			return err
		}
		offer = existing
		return r.Offers.Update(ctx, offer)
	})
	if err != nil {
		logger.ExitMethodWithError("offerService.Submit", err)
		return nil, false, err
	}

	typ := domain.EventOfferUpdated
	if created {
		typ = domain.EventOfferCreated
	}
	s.publish(ctx, event(typ, offer, domain.UserGroup(rfq.BuyerID)))
	logger.ExitMethod("offerService.Submit", "offerID", offer.ID, "created", created)
	return offer, created, nil
}

func (s *offerService) Withdraw(ctx context.Context, supplier domain.Actor, offerID int64) (*domain.Offer, error) {
	if err := requireRole(supplier, domain.RoleSupplier); err != nil {
		return nil, err
	}
	var (
		offer *domain.Offer
		rfq   *domain.RFQ
	)
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		var err error
		if offer, err = r.Offers.GetByID(ctx, offerID); err != nil {
			return err
		}
		if offer.SupplierID != supplier.UserID {
			return apperr.NotFound("offer not found")
		}
		if offer.Status != domain.OfferStatusPending {
			return apperr.Conflict("offer %d is %s, not pending", offer.ID, offer.Status)
		}
		if rfq, err = r.RFQs.GetByID(ctx, offer.RFQID); err != nil {
			return err
		}
		now := s.now()
		if err := r.Offers.MarkWithdrawn(ctx, offerID, now); err != nil {
			return err
		}
		offer.Status = domain.OfferStatusWithdrawn
		offer.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event(domain.EventOfferWithdrawn, offer, domain.UserGroup(rfq.BuyerID)))
	return offer, nil
}

// visibleOffer loads an offer for its supplier or for the buyer of its RFQ.
func visibleOffer(ctx context.Context, r repository.Repos, actor domain.Actor, offerID int64) (*domain.Offer, *domain.RFQ, error) {
	offer, err := r.Offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	rfq, err := r.RFQs.GetByID(ctx, offer.RFQID)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case actor.Role == domain.RoleSupplier && actor.UserID == offer.SupplierID:
	case actor.Role == domain.RoleBuyer && actor.UserID == rfq.BuyerID:
	default:
		return nil, nil, apperr.NotFound("offer not found")
	}
	return offer, rfq, nil
}

func (s *offerService) Get(ctx context.Context, actor domain.Actor, offerID int64) (*domain.Offer, error) {
	offer, _, err := visibleOffer(ctx, s.repos(), actor, offerID)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleBuyer {
		s.attachTrustScores(ctx, []*domain.Offer{offer})
	}
	return offer, nil
}

func (s *offerService) ListForRFQ(ctx context.Context, buyer domain.Actor, rfqID int64) ([]domain.Offer, error) {
	r := s.repos()
	if _, err := ownedRFQ(ctx, r, buyer, rfqID); err != nil {
		return nil, err
	}
	offers, err := r.Offers.ListByRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*domain.Offer, len(offers))
	for i := range offers {
		ptrs[i] = &offers[i]
	}
	s.attachTrustScores(ctx, ptrs)
	return offers, nil
}

// attachTrustScores fills SupplierTrustScore from the cache, reading misses
// in one query. A failing reader leaves scores empty.
func (s *offerService) attachTrustScores(ctx context.Context, offers []*domain.Offer) {
	var missing []int64
	seen := make(map[int64]bool)
	for _, o := range offers {
		if _, ok := s.scores.Get(o.SupplierID); !ok && !seen[o.SupplierID] {
			seen[o.SupplierID] = true
			missing = append(missing, o.SupplierID)
		}
	}
	if len(missing) > 0 {
		found, err := s.repos().TrustScores.TrustScores(ctx, missing)
		logger.ExternalServiceResult("trust-scores", "TrustScores", err, "suppliers", len(missing))
		if err != nil {
			return
		}
		for _, id := range missing {
			v, ok := found[id]
			s.scores.Set(id, trustScore{value: v, ok: ok})
		}
	}
	for _, o := range offers {
		if ts, ok := s.scores.Get(o.SupplierID); ok && ts.ok {
			v := ts.value
			o.SupplierTrustScore = &v
		}
	}
}

func (s *offerService) ListForSupplier(ctx context.Context, supplier domain.Actor, f repository.ListFilter) ([]domain.Offer, int, error) {
	if err := requireRole(supplier, domain.RoleSupplier); err != nil {
		return nil, 0, err
	}
	return s.repos().Offers.ListBySupplier(ctx, supplier.UserID, f)
}

func (s *offerService) History(ctx context.Context, actor domain.Actor, offerID int64) ([]domain.OfferHistory, error) {
	r := s.repos()
	if _, _, err := visibleOffer(ctx, r, actor, offerID); err != nil {
		return nil, err
	}
	return r.Offers.ListHistory(ctx, offerID)
}

// Accept turns a pending offer into a confirmed order. The order insert, the
// guarded status flip, sibling expiry and the RFQ close share one
// transaction.
func (s *offerService) Accept(ctx context.Context, buyer domain.Actor, offerID int64) (*AcceptResult, error) {
	logger.EnterMethod("offerService.Accept", "offerID", offerID, "buyerID", buyer.UserID)
	if err := requireRole(buyer, domain.RoleBuyer); err != nil {
		return nil, err
	}

	var res *AcceptResult
	err := s.withNumber(ctx, orderNumberPrefix, func(number string) error {
		res = nil
		return s.store.WithTx(ctx, func(r repository.Repos) error {
			now := s.now()
			offer, err := r.Offers.GetByID(ctx, offerID)
			if err != nil {
				return err
			}
			// Accepts on one RFQ serialise on its row before any offer row is
			// written, so sibling accepts queue instead of deadlocking.
			rfq, err := r.RFQs.GetForUpdate(ctx, offer.RFQID)
			if err != nil {
				return err
			}
			if rfq.BuyerID != buyer.UserID {
				return apperr.NotFound("rfq not found")
			}
			if rfq.Status != domain.RFQStatusActive && rfq.Status != domain.RFQStatusExpired {
				return apperr.Conflict("rfq %d is %s and no longer accepts offers", rfq.ID, rfq.Status)
			}
			if offer, err = r.Offers.GetByID(ctx, offerID); err != nil {
				return err
			}
			if err := offer.CanAccept(now); err != nil {
				return err
			}
			items, err := offer.OrderItems(rfq)
			if err != nil {
				return err
			}

			order := orderFromOffer(rfq, offer, items, number, now)
			order.TaxAmount = domain.TaxOn(order.TotalAmount, s.settings.TaxRate)
			if err := r.Orders.Create(ctx, order); err != nil {
				return err
			}
			if err := r.Offers.MarkAccepted(ctx, offer.ID, now); err != nil {
				return err
			}
			offer.Status = domain.OfferStatusAccepted
			offer.AcceptedAt = &now
			offer.UpdatedAt = now

			expired, err := r.Offers.ExpireSiblings(ctx, rfq.ID, offer.ID, now)
			if err != nil {
				return err
			}
			if err := r.RFQs.UpdateStatus(ctx, rfq.ID,
				[]domain.RFQStatus{domain.RFQStatusActive, domain.RFQStatusExpired}, domain.RFQStatusClosed, now); err != nil {
				return err
			}
			rfq.Status = domain.RFQStatusClosed
			rfq.UpdatedAt = now
			res = &AcceptResult{Offer: offer, Order: order, Expired: expired, RFQ: rfq}
			return nil
		})
	})
	if err != nil {
		logger.ExitMethodWithError("offerService.Accept", err)
		return nil, err
	}

	order := res.Order
	events := []domain.Event{event(domain.EventOfferAccepted, res.Offer, domain.UserGroup(res.Offer.SupplierID))}
	events = append(events, orderEvents(domain.EventOrderCreated, order)...)
	for i := range res.Expired {
		events = append(events, event(domain.EventOfferExpired, &res.Expired[i], domain.UserGroup(res.Expired[i].SupplierID)))
	}
	events = append(events, event(domain.EventRFQClosed, res.RFQ, domain.UserGroup(res.RFQ.BuyerID)))
	s.publish(ctx, events...)
	logger.Info("Offer accepted", "offerID", res.Offer.ID, "orderNumber", order.OrderNumber, "expiredSiblings", len(res.Expired))
	logger.ExitMethod("offerService.Accept", "orderID", order.ID)
	return res, nil
}

// orderFromOffer builds the confirmed order for an accepted offer. The
// offer's window, if any, becomes the promised window.
func orderFromOffer(rfq *domain.RFQ, offer *domain.Offer, items []domain.OrderItem, number string, now time.Time) *domain.Order {
	mode := domain.ModePickup
	if rfq.DeliveryAddress != "" || rfq.DeliveryLocation != nil {
		mode = domain.ModeDelivery
	}
	offerID := offer.ID
	order := &domain.Order{
		OrderNumber:      number,
		BuyerID:          rfq.BuyerID,
		SupplierID:       offer.SupplierID,
		ProjectID:        rfq.ProjectID,
		OfferID:          &offerID,
		Items:            items,
		TotalAmount:      offer.TotalAmount,
		DeliveryFee:      offer.DeliveryFee,
		Mode:             mode,
		DeliveryAddress:  rfq.DeliveryAddress,
		DeliveryLocation: rfq.DeliveryLocation,
		PaymentTerms:     offer.PaymentTerms,
		Negotiation:      domain.NewNegotiation(),
		Status:           domain.OrderStatusConfirmed,
		ConfirmedAt:      &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if w := offer.Window; w != nil {
		start, end := w.Start.UTC(), w.End.UTC()
		order.ProposedStart, order.ProposedEnd = &start, &end
		order.PromisedStart, order.PromisedEnd = &start, &end
		order.ProposedBy = domain.RoleSupplier
		order.ProposalStatus = domain.ProposalAccepted
	}
	return order
}

func (s *offerService) Reject(ctx context.Context, buyer domain.Actor, offerID int64, reason string) (*domain.Offer, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > domain.MaxRejectionChars {
		return nil, apperr.Validation("rejection reason must be at most %d characters", domain.MaxRejectionChars)
	}
	var offer *domain.Offer
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		var err error
		if offer, err = r.Offers.GetByID(ctx, offerID); err != nil {
			return err
		}
		if _, err := ownedRFQ(ctx, r, buyer, offer.RFQID); err != nil {
			return err
		}
		if offer.Status != domain.OfferStatusPending {
			return apperr.Conflict("offer %d is %s, not pending", offer.ID, offer.Status)
		}
		now := s.now()
		if err := r.Offers.MarkRejected(ctx, offerID, reason, now); err != nil {
			return err
		}
		offer.Status = domain.OfferStatusRejected
		offer.RejectedAt = &now
		offer.RejectionReason = reason
		offer.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event(domain.EventOfferRejected, offer, domain.UserGroup(offer.SupplierID)))
	return offer, nil
}

func (s *offerService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.repos().Offers.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for i := range expired {
		s.publish(ctx, event(domain.EventOfferExpired, &expired[i], domain.UserGroup(expired[i].SupplierID)))
	}
	return len(expired), nil
}
