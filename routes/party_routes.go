package routes

import (
	"partyup_server/controllers"
	"partyup_server/services"

	"github.com/gorilla/mux"
)

// RegisterPartyRoutes sets up routes for party documents and live status under /api/parties
func RegisterPartyRoutes(r *mux.Router, registry *services.SyncRegistry, store *services.PartyStore) {
	controller := controllers.NewPartyController(registry, store)

	partyRouter := r.PathPrefix("/api/parties").Subrouter()

	partyRouter.HandleFunc("", controller.HandleCreateParty).Methods("POST")
	partyRouter.HandleFunc("/{partyId}/join", controller.HandleJoinRequest).Methods("POST")
	partyRouter.HandleFunc("/{partyId}/requests", controller.HandleRequestDecision).Methods("POST")
	partyRouter.HandleFunc("/{partyId}/end", controller.HandleEndParty).Methods("POST")
	partyRouter.HandleFunc("/{partyId}/status", controller.HandleGetStatus).Methods("GET")
	partyRouter.HandleFunc("/{partyId}/watch", controller.HandleWatch).Methods("POST")
	partyRouter.HandleFunc("/{partyId}/watch", controller.HandleUnwatch).Methods("DELETE")

	r.HandleFunc("/api/sync/connectivity", controller.HandleConnectivity).Methods("GET")
}
