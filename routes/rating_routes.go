package routes

import (
	"partyup_server/controllers"
	"partyup_server/services"

	"github.com/gorilla/mux"
)

// RegisterRatingRoutes sets up routes for rating and check-in operations under /api/ratings
func RegisterRatingRoutes(r *mux.Router, ratingService *services.RatingService) {
	controller := controllers.NewRatingController(ratingService)

	ratingRouter := r.PathPrefix("/api/ratings").Subrouter()

	ratingRouter.HandleFunc("", controller.HandleSubmitRating).Methods("POST")
	ratingRouter.HandleFunc("/checkin", controller.HandleCheckIn).Methods("POST")
}
