package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"material-exchange-backend/internal/security"
	"material-exchange-backend/internal/service"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services is everything the API exposes.
type Services struct {
	RFQs         service.RFQService
	Offers       service.OfferService
	Orders       service.OrderService
	DirectOrders service.DirectOrderService
	Rentals      service.RentalService
}

// NewRouter builds the API under /api/v1. ws, if not nil, is mounted at /ws
// and does its own token check during the upgrade.
func NewRouter(svcs Services, tokens security.TokenManager, db Pinger, ws http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(recoveryMiddleware, loggingMiddleware)

	router.HandleFunc("/healthz", healthHandler(db)).Methods("GET")
	if ws != nil {
		router.Handle("/ws", ws)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware(tokens))
	NewRFQHandler(svcs.RFQs, svcs.Offers).register(api)
	NewOfferHandler(svcs.Offers).register(api)
	NewOrderHandler(svcs.Orders, svcs.DirectOrders).register(api)
	NewRentalHandler(svcs.Rentals).register(api)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Error: "not_found", Message: "route not found"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Success: false, Error: "method_not_allowed", Message: "method not allowed"})
	})
	return router
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeOK(w, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, envelope{
				Success: false,
				Error:   "unavailable",
				Message: "database unreachable",
			})
			return
		}
		writeOK(w, map[string]string{"status": "ok"})
	}
}
