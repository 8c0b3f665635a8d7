package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/service"
)

type OrderHandler struct {
	orders service.OrderService
	direct service.DirectOrderService
	dec    *decoder
}

func NewOrderHandler(orders service.OrderService, direct service.DirectOrderService) *OrderHandler {
	return &OrderHandler{orders: orders, direct: direct, dec: newDecoder()}
}

func (h *OrderHandler) register(r *mux.Router) {
	r.HandleFunc("/orders/direct", h.CreateDirect).Methods("POST")
	r.HandleFunc("/orders", h.List).Methods("GET")
	r.HandleFunc("/orders/{id:[0-9]+}", h.Get).Methods("GET")
	r.HandleFunc("/orders/{id:[0-9]+}/supplier-confirm", h.simple(h.orders.ConfirmBySupplier)).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/start-fulfillment", h.simple(h.orders.StartFulfillment)).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/deliveries", h.RecordDelivery).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/deliveries", h.Deliveries).Methods("GET")
	r.HandleFunc("/orders/{id:[0-9]+}/confirm-pickup", h.simple(h.orders.ConfirmPickup)).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/confirm", h.ConfirmDelivery).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/dispute", h.Dispute).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/cancel", h.Cancel).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/propose-window", h.windowed(h.orders.ProposeWindow)).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/counter-propose-window", h.windowed(h.orders.CounterProposeWindow)).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/accept-window", h.simple(h.orders.AcceptWindow)).Methods("POST")
	r.HandleFunc("/orders/{id:[0-9]+}/reject-window", h.simple(h.orders.RejectWindow)).Methods("POST")
}

type directItemDTO struct {
	CatalogEntryID int64           `json:"catalog_entry_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity"`
}

type directOrderRequest struct {
	SupplierID       int64            `json:"supplier_id" validate:"required,gt=0"`
	ProjectID        *int64           `json:"project_id,omitempty" validate:"omitempty,gt=0"`
	Items            []directItemDTO  `json:"items" validate:"required,min=1,dive"`
	Mode             string           `json:"pickup_or_delivery" validate:"required,oneof=pickup delivery"`
	DeliveryAddress  string           `json:"delivery_address" validate:"required_if=Mode delivery,max=500"`
	DeliveryLocation *domain.GeoPoint `json:"delivery_location,omitempty"`
	PaymentTerms     string           `json:"payment_terms" validate:"max=500"`
	Window           *windowDTO       `json:"window,omitempty"`
}

func (h *OrderHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	var req directOrderRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]service.DirectOrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = service.DirectOrderItem{CatalogEntryID: it.CatalogEntryID, Quantity: it.Quantity}
	}
	order, err := h.direct.Create(r.Context(), actorOf(r), service.DirectOrderInput{
		SupplierID:       req.SupplierID,
		ProjectID:        req.ProjectID,
		Items:            items,
		Mode:             domain.FulfillmentMode(req.Mode),
		DeliveryAddress:  req.DeliveryAddress,
		DeliveryLocation: req.DeliveryLocation,
		PaymentTerms:     req.PaymentTerms,
		Window:           req.Window.toDomain(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, order)
}

func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orders, total, err := h.orders.List(r.Context(), actorOf(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, page{Items: orders, Total: total, Page: f.Page, PageSize: f.PageSize})
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.orders.Get(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, order)
}

// simple adapts a body-less order action.
func (h *OrderHandler) simple(fn func(context.Context, domain.Actor, int64) (*domain.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		order, err := fn(r.Context(), actorOf(r), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, order)
	}
}

func (h *OrderHandler) windowed(fn func(context.Context, domain.Actor, int64, domain.Window) (*domain.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req windowDTO
		if err := h.dec.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		order, err := fn(r.Context(), actorOf(r), id, *req.toDomain())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, order)
	}
}

type quantityDTO struct {
	ItemIndex int             `json:"item_index" validate:"gte=0"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type deliveryRequest struct {
	Photos     []string         `json:"photos" validate:"required,min=1,dive,required"`
	Quantities []quantityDTO    `json:"quantities" validate:"dive"`
	Location   *domain.GeoPoint `json:"location,omitempty"`
	Notes      string           `json:"notes" validate:"max=2000"`
	Final      bool             `json:"final"`
	OccurredAt *time.Time       `json:"occurred_at,omitempty"`
}

type deliveryResponse struct {
	Order    *domain.Order         `json:"order"`
	Delivery *domain.DeliveryEvent `json:"delivery"`
}

func (h *OrderHandler) RecordDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req deliveryRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in := service.DeliveryInput{
		Photos:   req.Photos,
		Location: req.Location,
		Notes:    req.Notes,
		Final:    req.Final,
	}
	for _, q := range req.Quantities {
		in.Quantities = append(in.Quantities, domain.ItemQuantity{ItemIndex: q.ItemIndex, Quantity: q.Quantity})
	}
	if req.OccurredAt != nil {
		in.OccurredAt = *req.OccurredAt
	}
	order, ev, err := h.orders.RecordDelivery(r.Context(), actorOf(r), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, deliveryResponse{Order: order, Delivery: ev})
}

func (h *OrderHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := h.orders.Deliveries(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, events)
}

type confirmDeliveryRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// ConfirmDelivery is the buyer accepting a delivered order.
func (h *OrderHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req confirmDeliveryRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.orders.ConfirmDelivery(r.Context(), actorOf(r), id, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, order)
}

type orderDisputeRequest struct {
	Category string   `json:"category" validate:"required,oneof=short_delivery damaged wrong_item late other"`
	Evidence []string `json:"evidence" validate:"dive,required"`
	Notes    string   `json:"notes" validate:"required,max=2000"`
}

func (h *OrderHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req orderDisputeRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.orders.Dispute(r.Context(), actorOf(r), id, service.DisputeInput{
		Category: domain.DisputeCategory(req.Category),
		Evidence: req.Evidence,
		Notes:    req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, order)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cancelRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.orders.Cancel(r.Context(), actorOf(r), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, order)
}
