package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/service"
)

type RFQHandler struct {
	rfqs   service.RFQService
	offers service.OfferService
	dec    *decoder
}

func NewRFQHandler(rfqs service.RFQService, offers service.OfferService) *RFQHandler {
	return &RFQHandler{rfqs: rfqs, offers: offers, dec: newDecoder()}
}

func (h *RFQHandler) register(r *mux.Router) {
	r.HandleFunc("/rfqs", h.Create).Methods("POST")
	r.HandleFunc("/rfqs", h.List).Methods("GET")
	r.HandleFunc("/rfqs/{id:[0-9]+}", h.Get).Methods("GET")
	r.HandleFunc("/rfqs/{id:[0-9]+}", h.Delete).Methods("DELETE")
	r.HandleFunc("/rfqs/{id:[0-9]+}/close", h.Close).Methods("POST")
	r.HandleFunc("/rfqs/{id:[0-9]+}/view", h.MarkViewed).Methods("POST")
	r.HandleFunc("/rfqs/{id:[0-9]+}/offers", h.SubmitOffer).Methods("POST")
	r.HandleFunc("/rfqs/{id:[0-9]+}/offers", h.ListOffers).Methods("GET")
}

type rfqLineDTO struct {
	Description    string          `json:"description" validate:"required,max=500"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit" validate:"required,max=32"`
	CatalogEntryID *int64          `json:"catalog_entry_id,omitempty" validate:"omitempty,gt=0"`
}

type createRFQRequest struct {
	ProjectID        *int64           `json:"project_id,omitempty" validate:"omitempty,gt=0"`
	Title            string           `json:"title" validate:"required,max=200"`
	Lines            []rfqLineDTO     `json:"lines" validate:"required,min=1,dive"`
	SupplierIDs      []int64          `json:"supplier_ids" validate:"required,min=1,dive,gt=0"`
	PreferredWindow  *windowDTO       `json:"preferred_window,omitempty"`
	DeliveryAddress  string           `json:"delivery_address" validate:"max=500"`
	DeliveryLocation *domain.GeoPoint `json:"delivery_location,omitempty"`
	ExpiryDays       int              `json:"expiry_days" validate:"gte=0"`
}

func (h *RFQHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRFQRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lines := make([]domain.RFQLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = domain.RFQLine{
			Description:    l.Description,
			Quantity:       l.Quantity,
			Unit:           l.Unit,
			CatalogEntryID: l.CatalogEntryID,
		}
	}
	rfq, err := h.rfqs.Create(r.Context(), actorOf(r), service.CreateRFQInput{
		ProjectID:        req.ProjectID,
		Title:            req.Title,
		Lines:            lines,
		SupplierIDs:      req.SupplierIDs,
		PreferredWindow:  req.PreferredWindow.toDomain(),
		DeliveryAddress:  req.DeliveryAddress,
		DeliveryLocation: req.DeliveryLocation,
		ExpiryDays:       req.ExpiryDays,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, rfq)
}

func (h *RFQHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rfqs, total, err := h.rfqs.List(r.Context(), actorOf(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, page{Items: rfqs, Total: total, Page: f.Page, PageSize: f.PageSize})
}

func (h *RFQHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rfq, err := h.rfqs.Get(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, rfq)
}

func (h *RFQHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rfq, err := h.rfqs.Close(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, rfq)
}

func (h *RFQHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.rfqs.Delete(r.Context(), actorOf(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "rfq deleted"})
}

func (h *RFQHandler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.rfqs.MarkViewed(r.Context(), actorOf(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "rfq marked as viewed"})
}

type linePriceDTO struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes,omitempty" validate:"max=500"`
}

type submitOfferRequest struct {
	LinePrices   []linePriceDTO  `json:"line_prices" validate:"required,min=1,dive"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	Window       *windowDTO      `json:"window,omitempty"`
	PaymentTerms string          `json:"payment_terms" validate:"max=500"`
	Notes        string          `json:"notes" validate:"max=2000"`
	ExpiresAt    time.Time       `json:"expires_at" validate:"required"`
}

// SubmitOffer creates or revises the caller's offer on the RFQ. A first
// submission answers 201, a revision 200.
func (h *RFQHandler) SubmitOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req submitOfferRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	prices := make([]domain.LinePrice, len(req.LinePrices))
	for i, p := range req.LinePrices {
		prices[i] = domain.LinePrice{UnitPrice: p.UnitPrice, Notes: p.Notes}
	}
	offer, created, err := h.offers.Submit(r.Context(), actorOf(r), id, service.SubmitOfferInput{
		LinePrices:   prices,
		TotalAmount:  req.TotalAmount,
		DeliveryFee:  req.DeliveryFee,
		Window:       req.Window.toDomain(),
		PaymentTerms: req.PaymentTerms,
		Notes:        req.Notes,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if created {
		writeCreated(w, offer)
		return
	}
	writeOK(w, offer)
}

func (h *RFQHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offers, err := h.offers.ListForRFQ(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, offers)
}
