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

type RentalHandler struct {
	rentals service.RentalService
	dec     *decoder
}

func NewRentalHandler(rentals service.RentalService) *RentalHandler {
	return &RentalHandler{rentals: rentals, dec: newDecoder()}
}

func (h *RentalHandler) register(r *mux.Router) {
	r.HandleFunc("/rentals/book", h.Book).Methods("POST")
	r.HandleFunc("/rentals", h.List).Methods("GET")
	r.HandleFunc("/rentals/{id:[0-9]+}", h.Get).Methods("GET")
	r.HandleFunc("/rentals/{id:[0-9]+}/supplier-confirm", h.simple(h.rentals.ConfirmBySupplier)).Methods("POST")
	r.HandleFunc("/rentals/{id:[0-9]+}/propose-window", h.windowed(h.rentals.ProposeWindow)).Methods("POST")
	r.HandleFunc("/rentals/{id:[0-9]+}/counter-propose-window", h.windowed(h.rentals.CounterProposeWindow)).Methods("POST")
	r.HandleFunc("/rentals/{id:[0-9]+}/accept-window", h.simple(h.rentals.AcceptWindow)).Methods("POST")
	r.HandleFunc("/rentals/{id:[0-9]+}/reject-window", h.simple(h.rentals.RejectWindow)).Methods("POST")
	r.HandleFunc("/rentals/{id:[0-9]+}/confirm-handover", h.ConfirmHandover).Methods("POST")
	r.HandleFunc("/rentals/{id:[0-9]+}/confirm-return", h.ConfirmReturn).Methods("POST")
	r.HandleFunc("/rentals/{id:[0-9]+}/dispute", h.reasoned(h.rentals.Dispute)).Methods("POST")
	r.HandleFunc("/rentals/{id:[0-9]+}/cancel", h.reasoned(h.rentals.Cancel)).Methods("POST")
}

type bookRequest struct {
	RentalItemID    int64      `json:"rental_item_id" validate:"required,gt=0"`
	StartDate       string     `json:"start_date" validate:"required"`
	EndDate         string     `json:"end_date" validate:"required"`
	Mode            string     `json:"pickup_or_delivery" validate:"required,oneof=pickup delivery"`
	DeliveryAddress string     `json:"delivery_address" validate:"required_if=Mode delivery,max=500"`
	Window          *windowDTO `json:"window,omitempty"`
}

func (h *RentalHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := domain.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := domain.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	booking, err := h.rentals.Book(r.Context(), actorOf(r), service.BookInput{
		RentalItemID:    req.RentalItemID,
		StartDate:       start,
		EndDate:         end,
		Mode:            domain.FulfillmentMode(req.Mode),
		DeliveryAddress: req.DeliveryAddress,
		Window:          req.Window.toDomain(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, booking)
}

func (h *RentalHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bookings, total, err := h.rentals.List(r.Context(), actorOf(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, page{Items: bookings, Total: total, Page: f.Page, PageSize: f.PageSize})
}

func (h *RentalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	booking, err := h.rentals.Get(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, booking)
}

func (h *RentalHandler) simple(fn func(context.Context, domain.Actor, int64) (*domain.RentalBooking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		booking, err := fn(r.Context(), actorOf(r), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, booking)
	}
}

func (h *RentalHandler) windowed(fn func(context.Context, domain.Actor, int64, domain.Window) (*domain.RentalBooking, error)) http.HandlerFunc {
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
		booking, err := fn(r.Context(), actorOf(r), id, *req.toDomain())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, booking)
	}
}

func (h *RentalHandler) reasoned(fn func(context.Context, domain.Actor, int64, string) (*domain.RentalBooking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		booking, err := fn(r.Context(), actorOf(r), id, req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, booking)
	}
}

type handoverRequest struct {
	Photos []string `json:"photos" validate:"required,min=1,dive,required"`
	Notes  string   `json:"notes" validate:"max=2000"`
}

func (h *RentalHandler) ConfirmHandover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req handoverRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	booking, err := h.rentals.ConfirmHandover(r.Context(), actorOf(r), id, service.HandoverInput{
		Photos: req.Photos,
		Notes:  req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, booking)
}

type returnRequest struct {
	Photos     []string         `json:"photos" validate:"required,min=1,dive,required"`
	Notes      string           `json:"notes" validate:"max=2000"`
	DamageFee  *decimal.Decimal `json:"damage_fee,omitempty"`
	ReturnedAt *time.Time       `json:"returned_at,omitempty"`
}

func (h *RentalHandler) ConfirmReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req returnRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in := service.ReturnInput{Photos: req.Photos, Notes: req.Notes, DamageFee: req.DamageFee}
	if req.ReturnedAt != nil {
		in.ReturnedAt = *req.ReturnedAt
	}
	booking, err := h.rentals.ConfirmReturn(r.Context(), actorOf(r), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, booking)
}
