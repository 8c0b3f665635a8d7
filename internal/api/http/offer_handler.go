package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"material-exchange-backend/internal/service"
)

type OfferHandler struct {
	offers service.OfferService
	dec    *decoder
}

func NewOfferHandler(offers service.OfferService) *OfferHandler {
	return &OfferHandler{offers: offers, dec: newDecoder()}
}

func (h *OfferHandler) register(r *mux.Router) {
	r.HandleFunc("/offers", h.ListMine).Methods("GET")
	r.HandleFunc("/offers/{id:[0-9]+}", h.Get).Methods("GET")
	r.HandleFunc("/offers/{id:[0-9]+}/history", h.History).Methods("GET")
	r.HandleFunc("/offers/{id:[0-9]+}/withdraw", h.Withdraw).Methods("POST")
	r.HandleFunc("/offers/{id:[0-9]+}/accept", h.Accept).Methods("POST")
	r.HandleFunc("/offers/{id:[0-9]+}/reject", h.Reject).Methods("POST")
}

func (h *OfferHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offers, total, err := h.offers.ListForSupplier(r.Context(), actorOf(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, page{Items: offers, Total: total, Page: f.Page, PageSize: f.PageSize})
}

func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offer, err := h.offers.Get(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, offer)
}

func (h *OfferHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	history, err := h.offers.History(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, history)
}

func (h *OfferHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offer, err := h.offers.Withdraw(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, offer)
}

// Accept turns the offer into an order and expires its siblings.
func (h *OfferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.offers.Accept(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, res)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *OfferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req rejectRequest
	if err := h.dec.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	offer, err := h.offers.Reject(r.Context(), actorOf(r), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, offer)
}
