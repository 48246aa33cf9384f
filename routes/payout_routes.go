package routes

import (
	"partyup_server/controllers"
	"partyup_server/services"

	"github.com/gorilla/mux"
)

// RegisterPayoutRoutes sets up routes for payments and payouts under /api/payouts
func RegisterPayoutRoutes(r *mux.Router, payoutService *services.PayoutService, partyStore *services.PartyStore, earnings *services.EarningsStore) {
	controller := controllers.NewPayoutController(payoutService, partyStore, earnings)

	payoutRouter := r.PathPrefix("/api/payouts").Subrouter()

	payoutRouter.HandleFunc("/run", controller.HandleRunPayouts).Methods("POST")
	payoutRouter.HandleFunc("/{hostId}", controller.HandleGetEarnings).Methods("GET")
	payoutRouter.HandleFunc("/{hostId}/bank", controller.HandleSetupBankAccount).Methods("POST")

	r.HandleFunc("/api/payments/succeeded", controller.HandlePaymentSucceeded).Methods("POST")
}
