package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/config"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

type RFQService interface {
	Create(ctx context.Context, buyer domain.Actor, in CreateRFQInput) (*domain.RFQ, error)
	Get(ctx context.Context, actor domain.Actor, id int64) (*domain.RFQ, error)
	Close(ctx context.Context, buyer domain.Actor, id int64) (*domain.RFQ, error)
	Delete(ctx context.Context, buyer domain.Actor, id int64) error
	MarkViewed(ctx context.Context, supplier domain.Actor, id int64) error
	List(ctx context.Context, actor domain.Actor, f repository.ListFilter) ([]domain.RFQ, int, error)
	ExpireStale(ctx context.Context) (int, error)
}

type OfferService interface {
	// Submit inserts the supplier's first offer on an RFQ or replaces the
	// existing one, archiving the previous terms. created reports which.
	Submit(ctx context.Context, supplier domain.Actor, rfqID int64, in SubmitOfferInput) (offer *domain.Offer, created bool, err error)
	Withdraw(ctx context.Context, supplier domain.Actor, offerID int64) (*domain.Offer, error)
	Get(ctx context.Context, actor domain.Actor, offerID int64) (*domain.Offer, error)
	ListForRFQ(ctx context.Context, buyer domain.Actor, rfqID int64) ([]domain.Offer, error)
	ListForSupplier(ctx context.Context, supplier domain.Actor, f repository.ListFilter) ([]domain.Offer, int, error)
	History(ctx context.Context, actor domain.Actor, offerID int64) ([]domain.OfferHistory, error)
	Accept(ctx context.Context, buyer domain.Actor, offerID int64) (*AcceptResult, error)
	Reject(ctx context.Context, buyer domain.Actor, offerID int64, reason string) (*domain.Offer, error)
	ExpireStale(ctx context.Context) (int, error)
}

type DirectOrderService interface {
	Create(ctx context.Context, buyer domain.Actor, in DirectOrderInput) (*domain.Order, error)
}

type OrderService interface {
	Get(ctx context.Context, actor domain.Actor, id int64) (*domain.Order, error)
	List(ctx context.Context, actor domain.Actor, f repository.ListFilter) ([]domain.Order, int, error)
	ConfirmBySupplier(ctx context.Context, supplier domain.Actor, id int64) (*domain.Order, error)
	StartFulfillment(ctx context.Context, supplier domain.Actor, id int64) (*domain.Order, error)
	RecordDelivery(ctx context.Context, supplier domain.Actor, id int64, in DeliveryInput) (*domain.Order, *domain.DeliveryEvent, error)
	ConfirmPickup(ctx context.Context, buyer domain.Actor, id int64) (*domain.Order, error)
	ConfirmDelivery(ctx context.Context, buyer domain.Actor, id int64, notes string) (*domain.Order, error)
	AutoComplete(ctx context.Context, id int64) (*domain.Order, error)
	AutoCompleteDue(ctx context.Context, limit int) (int, error)
	Dispute(ctx context.Context, buyer domain.Actor, id int64, in DisputeInput) (*domain.Order, error)
	Cancel(ctx context.Context, actor domain.Actor, id int64, reason string) (*domain.Order, error)
	ProposeWindow(ctx context.Context, actor domain.Actor, id int64, w domain.Window) (*domain.Order, error)
	AcceptWindow(ctx context.Context, actor domain.Actor, id int64) (*domain.Order, error)
	RejectWindow(ctx context.Context, actor domain.Actor, id int64) (*domain.Order, error)
	CounterProposeWindow(ctx context.Context, actor domain.Actor, id int64, w domain.Window) (*domain.Order, error)
	Deliveries(ctx context.Context, actor domain.Actor, id int64) ([]domain.DeliveryEvent, error)
}

type RentalService interface {
	Book(ctx context.Context, buyer domain.Actor, in BookInput) (*domain.RentalBooking, error)
	Get(ctx context.Context, actor domain.Actor, id int64) (*domain.RentalBooking, error)
	List(ctx context.Context, actor domain.Actor, f repository.ListFilter) ([]domain.RentalBooking, int, error)
	ConfirmBySupplier(ctx context.Context, supplier domain.Actor, id int64) (*domain.RentalBooking, error)
	ProposeWindow(ctx context.Context, actor domain.Actor, id int64, w domain.Window) (*domain.RentalBooking, error)
	AcceptWindow(ctx context.Context, actor domain.Actor, id int64) (*domain.RentalBooking, error)
	RejectWindow(ctx context.Context, actor domain.Actor, id int64) (*domain.RentalBooking, error)
	CounterProposeWindow(ctx context.Context, actor domain.Actor, id int64, w domain.Window) (*domain.RentalBooking, error)
	ConfirmHandover(ctx context.Context, actor domain.Actor, id int64, in HandoverInput) (*domain.RentalBooking, error)
	ConfirmReturn(ctx context.Context, actor domain.Actor, id int64, in ReturnInput) (*domain.RentalBooking, error)
	Dispute(ctx context.Context, actor domain.Actor, id int64, reason string) (*domain.RentalBooking, error)
	Cancel(ctx context.Context, actor domain.Actor, id int64, reason string) (*domain.RentalBooking, error)
	ListOverdue(ctx context.Context) ([]domain.RentalBooking, error)
	FlagOverdue(ctx context.Context) (int, error)
}

// Publisher pushes events to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Settings are the marketplace knobs the services read.
type Settings struct {
	TaxRate              decimal.Decimal
	ConfirmationWindow   time.Duration
	LateReturnPenalty    decimal.Decimal
	DefaultRFQExpiryDays int
	NumberRetryAttempts  int
	NumberRetryBaseDelay time.Duration
	TrustScoreCacheTTL   time.Duration
}

// SettingsFromConfig reads the marketplace section. cfg must already have
// passed config validation.
func SettingsFromConfig(m config.MarketplaceConfig) Settings {
	return Settings{
		TaxRate:              m.TaxRateDecimal(),
		ConfirmationWindow:   m.ConfirmationWindow(),
		LateReturnPenalty:    m.LateReturnPenaltyDecimal(),
		DefaultRFQExpiryDays: m.DefaultRFQExpiryDays,
		NumberRetryAttempts:  m.NumberRetryAttempts,
		NumberRetryBaseDelay: m.NumberRetryBaseDelay(),
		TrustScoreCacheTTL:   m.TrustScoreCacheTTL(),
	}
}

// Deps is what every service is built from.
type Deps struct {
	Store     repository.Store
	Publisher Publisher
	Settings  Settings
	// Now defaults to time.Now.
	Now func() time.Time
}

type base struct {
	store    repository.Store
	pub      Publisher
	settings Settings
	clock    func() time.Time
}

func newBase(d Deps) base {
	b := base{store: d.Store, pub: d.Publisher, settings: d.Settings, clock: d.Now}
	if b.clock == nil {
		b.clock = time.Now
	}
	if b.settings.ConfirmationWindow <= 0 {
		b.settings.ConfirmationWindow = domain.DefaultConfirmationWindow
	}
	if b.settings.DefaultRFQExpiryDays <= 0 {
		b.settings.DefaultRFQExpiryDays = domain.DefaultRFQExpiry
	}
	if b.settings.NumberRetryAttempts <= 0 {
		b.settings.NumberRetryAttempts = 3
	}
	return b
}

func (b *base) now() time.Time { return b.clock().UTC() }

func (b *base) repos() repository.Repos { return b.store.Repositories() }

// publish sends events after the write has committed. Delivery failures are
// logged and never reach the caller.
func (b *base) publish(ctx context.Context, events ...domain.Event) {
	if b.pub == nil {
		return
	}
	at := b.now()
	for _, ev := range events {
		if ev.SentAt.IsZero() {
			ev.SentAt = at
		}
		err := b.pub.Publish(ctx, ev)
		logger.ExternalServiceResult("realtime", "Publish", err, "type", ev.Type)
	}
}

func event(typ string, payload any, groups ...string) domain.Event {
	return domain.Event{Type: typ, Groups: groups, Payload: payload}
}

// orderEvents sends the full order to its parties and its own group, and only
// a summary to orders:list.
func orderEvents(typ string, o *domain.Order) []domain.Event {
	return []domain.Event{
		event(typ, o, domain.UserGroup(o.BuyerID), domain.UserGroup(o.SupplierID), domain.OrderGroup(o.OrderNumber)),
		event(typ, o.Summary(), domain.GroupOrdersList),
	}
}
