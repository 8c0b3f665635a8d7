package service_test

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/repository"
)

// MockRFQRepo
type MockRFQRepo struct {
	mock.Mock
}

func (m *MockRFQRepo) Create(ctx context.Context, rfq *domain.RFQ, recipients []domain.RFQRecipient) error {
	args := m.Called(ctx, rfq, recipients)
	return args.Error(0)
}
func (m *MockRFQRepo) GetByID(ctx context.Context, id int64) (*domain.RFQ, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RFQ), args.Error(1)
}
func (m *MockRFQRepo) GetForUpdate(ctx context.Context, id int64) (*domain.RFQ, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RFQ), args.Error(1)
}
func (m *MockRFQRepo) UpdateStatus(ctx context.Context, id int64, from []domain.RFQStatus, to domain.RFQStatus, at time.Time) error {
	args := m.Called(ctx, id, from, to, at)
	return args.Error(0)
}
func (m *MockRFQRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRFQRepo) GetRecipient(ctx context.Context, rfqID, supplierID int64) (*domain.RFQRecipient, error) {
	args := m.Called(ctx, rfqID, supplierID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RFQRecipient), args.Error(1)
}
func (m *MockRFQRepo) ListRecipients(ctx context.Context, rfqID int64) ([]domain.RFQRecipient, error) {
	args := m.Called(ctx, rfqID)
	return args.Get(0).([]domain.RFQRecipient), args.Error(1)
}
func (m *MockRFQRepo) MarkViewed(ctx context.Context, rfqID, supplierID int64, at time.Time) (bool, error) {
	args := m.Called(ctx, rfqID, supplierID, at)
	return args.Bool(0), args.Error(1)
}
func (m *MockRFQRepo) ListByBuyer(ctx context.Context, buyerID int64, f repository.ListFilter) ([]domain.RFQ, int, error) {
	args := m.Called(ctx, buyerID, f)
	return args.Get(0).([]domain.RFQ), args.Int(1), args.Error(2)
}
func (m *MockRFQRepo) ListBySupplier(ctx context.Context, supplierID int64, f repository.ListFilter) ([]domain.RFQ, int, error) {
	args := m.Called(ctx, supplierID, f)
	return args.Get(0).([]domain.RFQ), args.Int(1), args.Error(2)
}
func (m *MockRFQRepo) ExpireStale(ctx context.Context, now time.Time) ([]domain.RFQ, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]domain.RFQ), args.Error(1)
}

// MockOfferRepo
type MockOfferRepo struct {
	mock.Mock
}

func (m *MockOfferRepo) Create(ctx context.Context, o *domain.Offer) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}
func (m *MockOfferRepo) GetByID(ctx context.Context, id int64) (*domain.Offer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Offer), args.Error(1)
}
func (m *MockOfferRepo) GetByRFQAndSupplier(ctx context.Context, rfqID, supplierID int64) (*domain.Offer, error) {
	args := m.Called(ctx, rfqID, supplierID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Offer), args.Error(1)
}
func (m *MockOfferRepo) Update(ctx context.Context, o *domain.Offer) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}
func (m *MockOfferRepo) AppendHistory(ctx context.Context, h *domain.OfferHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}
func (m *MockOfferRepo) ListHistory(ctx context.Context, offerID int64) ([]domain.OfferHistory, error) {
	args := m.Called(ctx, offerID)
	return args.Get(0).([]domain.OfferHistory), args.Error(1)
}
func (m *MockOfferRepo) CountByRFQ(ctx context.Context, rfqID int64) (int, error) {
	args := m.Called(ctx, rfqID)
	return args.Int(0), args.Error(1)
}
func (m *MockOfferRepo) ListByRFQ(ctx context.Context, rfqID int64) ([]domain.Offer, error) {
	args := m.Called(ctx, rfqID)
	return args.Get(0).([]domain.Offer), args.Error(1)
}
func (m *MockOfferRepo) ListBySupplier(ctx context.Context, supplierID int64, f repository.ListFilter) ([]domain.Offer, int, error) {
	args := m.Called(ctx, supplierID, f)
	return args.Get(0).([]domain.Offer), args.Int(1), args.Error(2)
}
func (m *MockOfferRepo) MarkAccepted(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}
func (m *MockOfferRepo) MarkRejected(ctx context.Context, id int64, reason string, at time.Time) error {
	args := m.Called(ctx, id, reason, at)
	return args.Error(0)
}
func (m *MockOfferRepo) MarkWithdrawn(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}
func (m *MockOfferRepo) ExpireSiblings(ctx context.Context, rfqID, acceptedID int64, at time.Time) ([]domain.Offer, error) {
	args := m.Called(ctx, rfqID, acceptedID, at)
	return args.Get(0).([]domain.Offer), args.Error(1)
}
func (m *MockOfferRepo) ExpireStale(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]domain.Offer), args.Error(1)
}

// MockOrderRepo
type MockOrderRepo struct {
	mock.Mock
}

func (m *MockOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}
func (m *MockOrderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}
func (m *MockOrderRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}
func (m *MockOrderRepo) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}
func (m *MockOrderRepo) Update(ctx context.Context, o *domain.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}
func (m *MockOrderRepo) ListForBuyer(ctx context.Context, buyerID int64, f repository.ListFilter) ([]domain.Order, int, error) {
	args := m.Called(ctx, buyerID, f)
	return args.Get(0).([]domain.Order), args.Int(1), args.Error(2)
}
func (m *MockOrderRepo) ListForSupplier(ctx context.Context, supplierID int64, f repository.ListFilter) ([]domain.Order, int, error) {
	args := m.Called(ctx, supplierID, f)
	return args.Get(0).([]domain.Order), args.Int(1), args.Error(2)
}
func (m *MockOrderRepo) AddDeliveryEvent(ctx context.Context, ev *domain.DeliveryEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}
func (m *MockOrderRepo) ListDeliveryEvents(ctx context.Context, orderID int64) ([]domain.DeliveryEvent, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]domain.DeliveryEvent), args.Error(1)
}
func (m *MockOrderRepo) AddConfirmation(ctx context.Context, c *domain.Confirmation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}
func (m *MockOrderRepo) ListDueForAutoComplete(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]int64), args.Error(1)
}

// MockRentalRepo
type MockRentalRepo struct {
	mock.Mock
}

func (m *MockRentalRepo) GetItem(ctx context.Context, id int64) (*domain.RentalItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalItem), args.Error(1)
}
func (m *MockRentalRepo) Create(ctx context.Context, b *domain.RentalBooking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}
func (m *MockRentalRepo) GetByID(ctx context.Context, id int64) (*domain.RentalBooking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalBooking), args.Error(1)
}
func (m *MockRentalRepo) GetForUpdate(ctx context.Context, id int64) (*domain.RentalBooking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalBooking), args.Error(1)
}
func (m *MockRentalRepo) GetByNumber(ctx context.Context, number string) (*domain.RentalBooking, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalBooking), args.Error(1)
}
func (m *MockRentalRepo) Update(ctx context.Context, b *domain.RentalBooking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}
func (m *MockRentalRepo) ListForBuyer(ctx context.Context, buyerID int64, f repository.ListFilter) ([]domain.RentalBooking, int, error) {
	args := m.Called(ctx, buyerID, f)
	return args.Get(0).([]domain.RentalBooking), args.Int(1), args.Error(2)
}
func (m *MockRentalRepo) ListForSupplier(ctx context.Context, supplierID int64, f repository.ListFilter) ([]domain.RentalBooking, int, error) {
	args := m.Called(ctx, supplierID, f)
	return args.Get(0).([]domain.RentalBooking), args.Int(1), args.Error(2)
}
func (m *MockRentalRepo) CreateHandover(ctx context.Context, h *domain.Handover) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}
func (m *MockRentalRepo) GetHandover(ctx context.Context, bookingID int64) (*domain.Handover, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Handover), args.Error(1)
}
func (m *MockRentalRepo) CreateReturn(ctx context.Context, r *domain.Return) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}
func (m *MockRentalRepo) GetReturn(ctx context.Context, bookingID int64) (*domain.Return, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Return), args.Error(1)
}
func (m *MockRentalRepo) ListOverdue(ctx context.Context, now time.Time) ([]domain.RentalBooking, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]domain.RentalBooking), args.Error(1)
}

// MockCatalogRepo
type MockCatalogRepo struct {
	mock.Mock
}

func (m *MockCatalogRepo) GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Supplier), args.Error(1)
}
func (m *MockCatalogRepo) ListSuppliers(ctx context.Context, ids []int64) ([]domain.Supplier, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]domain.Supplier), args.Error(1)
}
func (m *MockCatalogRepo) ListEntries(ctx context.Context, ids []int64) ([]domain.CatalogEntry, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]domain.CatalogEntry), args.Error(1)
}
func (m *MockCatalogRepo) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Project), args.Error(1)
}

// MockTrustScores
type MockTrustScores struct {
	mock.Mock
}

func (m *MockTrustScores) TrustScores(ctx context.Context, supplierIDs []int64) (map[int64]float64, error) {
	args := m.Called(ctx, supplierIDs)
	return args.Get(0).(map[int64]float64), args.Error(1)
}

// mockStore runs transactions inline against the mocks and counts them.
type mockStore struct {
	rfqs    *MockRFQRepo
	offers  *MockOfferRepo
	orders  *MockOrderRepo
	rentals *MockRentalRepo
	catalog *MockCatalogRepo
	scores  *MockTrustScores
	txCount int
}

func newMockStore() *mockStore {
	return &mockStore{
		rfqs:    new(MockRFQRepo),
		offers:  new(MockOfferRepo),
		orders:  new(MockOrderRepo),
		rentals: new(MockRentalRepo),
		catalog: new(MockCatalogRepo),
		scores:  new(MockTrustScores),
	}
}

func (s *mockStore) Repositories() repository.Repos {
	return repository.Repos{
		RFQs:        s.rfqs,
		Offers:      s.offers,
		Orders:      s.orders,
		Rentals:     s.rentals,
		Catalog:     s.catalog,
		TrustScores: s.scores,
	}
}

func (s *mockStore) WithTx(ctx context.Context, fn func(repository.Repos) error) error {
	s.txCount++
	return fn(s.Repositories())
}

func (s *mockStore) Ping(ctx context.Context) error { return nil }

// recordingPublisher keeps every event it is handed.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// toGroup returns the events addressed to group.
func (p *recordingPublisher) toGroup(group string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if slices.Contains(ev.Groups, group) {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) find(typ string) (domain.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return domain.Event{}, false
}
