package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"partyup_server/models"
	"partyup_server/services"
)

// PartyController handles HTTP requests for party documents and live status
type PartyController struct {
	Registry *services.SyncRegistry
	Store    *services.PartyStore
}

// NewPartyController creates a new PartyController instance
func NewPartyController(registry *services.SyncRegistry, store *services.PartyStore) *PartyController {
	return &PartyController{Registry: registry, Store: store}
}

// HandleCreateParty writes a new party document
func (pc *PartyController) HandleCreateParty(w http.ResponseWriter, r *http.Request) {
	var party models.Party
	if err := json.NewDecoder(r.Body).Decode(&party); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if party.PartyID == "" || party.HostID == "" {
		http.Error(w, "partyId and hostId are required", http.StatusBadRequest)
		return
	}

	if err := pc.Store.CreateParty(r.Context(), &party); err != nil {
		log.Println("Error creating party:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"message": "Party created", "partyId": party.PartyID})
}

// HandleJoinRequest appends a guest request to a party
func (pc *PartyController) HandleJoinRequest(w http.ResponseWriter, r *http.Request) {
	partyID := mux.Vars(r)["partyId"]
	var request struct {
		UserID      string `json:"userId"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	err := pc.Store.AddGuestRequest(r.Context(), partyID, models.GuestRequest{
		UserID:      request.UserID,
		DisplayName: request.DisplayName,
	})
	switch {
	case errors.Is(err, services.ErrConditionFailed):
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"message": "Request already exists"})
		return
	case errors.Is(err, services.ErrItemNotFound):
		http.Error(w, "Party not found", http.StatusNotFound)
		return
	case err != nil:
		log.Println("Error adding guest request:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Join request recorded"})
}

// HandleRequestDecision approves or denies a pending guest request
func (pc *PartyController) HandleRequestDecision(w http.ResponseWriter, r *http.Request) {
	partyID := mux.Vars(r)["partyId"]
	var request struct {
		UserID   string `json:"userId"`
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	var err error
	switch request.Decision {
	case "approve":
		err = pc.Store.ApproveGuestRequest(r.Context(), partyID, request.UserID)
	case "deny":
		err = pc.Store.DenyGuestRequest(r.Context(), partyID, request.UserID)
	default:
		http.Error(w, "decision must be 'approve' or 'deny'", http.StatusBadRequest)
		return
	}
	if errors.Is(err, services.ErrConditionFailed) {
		http.Error(w, "Request is not pending", http.StatusConflict)
		return
	}
	if err != nil {
		log.Println("Error deciding guest request:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Decision recorded"})
}

// HandleEndParty marks a party ended by its host
func (pc *PartyController) HandleEndParty(w http.ResponseWriter, r *http.Request) {
	partyID := mux.Vars(r)["partyId"]
	if err := pc.Store.EndParty(r.Context(), partyID); err != nil {
		log.Println("Error ending party:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Party ended"})
}

// HandleGetStatus returns a user's derived status for a party. The cached
// document is preferred; a store read backs it up when the party is not
// watched yet.
func (pc *PartyController) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	partyID := mux.Vars(r)["partyId"]
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	var party *models.Party
	if manager := pc.Registry.Peek(userID); manager != nil {
		party = manager.Cache.Get(partyID)
	}
	if party == nil {
		var err error
		party, err = pc.Store.GetParty(r.Context(), partyID)
		if errors.Is(err, services.ErrItemNotFound) {
			http.Error(w, "Party not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Println("Error reading party:", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	status := services.DeriveStatus(party, userID, time.Now())
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"partyId": partyID,
		"userId":  userID,
		"status":  status,
		"haptic":  services.HapticHint(status),
	})
}

// HandleWatch starts live synchronization of a party for a user
func (pc *PartyController) HandleWatch(w http.ResponseWriter, r *http.Request) {
	partyID := mux.Vars(r)["partyId"]
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	pc.Registry.ForUser(userID).Watch(partyID)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Watching party"})
}

// HandleUnwatch stops live synchronization of a party for a user
func (pc *PartyController) HandleUnwatch(w http.ResponseWriter, r *http.Request) {
	partyID := mux.Vars(r)["partyId"]
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	if manager := pc.Registry.Peek(userID); manager != nil {
		manager.Unwatch(partyID)
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Stopped watching party"})
}

// HandleConnectivity reports the feed health for a user's sync manager
func (pc *PartyController) HandleConnectivity(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	conn := services.Connectivity{State: services.ConnectivityDisconnected}
	if manager := pc.Registry.Peek(userID); manager != nil {
		conn = manager.Connectivity()
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(conn)
}
