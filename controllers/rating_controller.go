package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"partyup_server/services"
)

// RatingController handles HTTP requests for ratings and check-ins
type RatingController struct {
	RatingService *services.RatingService
}

// NewRatingController creates a new RatingController instance
func NewRatingController(ratingService *services.RatingService) *RatingController {
	return &RatingController{RatingService: ratingService}
}

// HandleSubmitRating records one user's rating for a party
func (rc *RatingController) HandleSubmitRating(w http.ResponseWriter, r *http.Request) {
	var request struct {
		PartyID string `json:"partyId"`
		UserID  string `json:"userId"`
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.PartyID == "" || request.UserID == "" {
		http.Error(w, "partyId and userId are required", http.StatusBadRequest)
		return
	}

	err := rc.RatingService.SubmitRating(r.Context(), request.PartyID, request.UserID, request.Rating, request.Comment)
	switch {
	case errors.Is(err, services.ErrAlreadyRated):
		// Not a workflow failure: the rating is already in place.
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"message": "Rating already submitted"})
		return
	case errors.Is(err, services.ErrInvalidRating):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, services.ErrPartyNotFound):
		http.Error(w, "Party not found", http.StatusNotFound)
		return
	case errors.Is(err, services.ErrTransactionConflict):
		http.Error(w, "Rating could not be recorded, please retry", http.StatusConflict)
		return
	case err != nil:
		log.Println("Error submitting rating:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Rating submitted successfully"})
}

// HandleCheckIn records a guest's attendance at a party
func (rc *RatingController) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	var request struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	if err := rc.RatingService.RecordCheckIn(r.Context(), request.UserID); err != nil {
		log.Println("Error recording check-in:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Check-in recorded"})
}
