package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"partyup_server/services"
)

// PayoutController handles payment signals and payout administration
type PayoutController struct {
	PayoutService *services.PayoutService
	PartyStore    *services.PartyStore
	Earnings      *services.EarningsStore
}

// NewPayoutController creates a new PayoutController instance
func NewPayoutController(payoutService *services.PayoutService, partyStore *services.PartyStore, earnings *services.EarningsStore) *PayoutController {
	return &PayoutController{PayoutService: payoutService, PartyStore: partyStore, Earnings: earnings}
}

// HandlePaymentSucceeded consumes a payment-succeeded signal from the
// checkout collaborator: the guest request flips to paid and the host's
// earnings are credited.
func (pc *PayoutController) HandlePaymentSucceeded(w http.ResponseWriter, r *http.Request) {
	var request struct {
		PartyID         string  `json:"partyId"`
		HostID          string  `json:"hostId"`
		GuestID         string  `json:"guestId"`
		PaymentIntentID string  `json:"paymentIntentId"`
		Amount          float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.PartyID == "" || request.HostID == "" || request.GuestID == "" {
		http.Error(w, "partyId, hostId, and guestId are required", http.StatusBadRequest)
		return
	}

	err := pc.PartyStore.MarkRequestPaid(r.Context(), request.PartyID, request.GuestID, request.PaymentIntentID)
	if errors.Is(err, services.ErrConditionFailed) {
		// Duplicate delivery of the same signal; the request is already paid.
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"message": "Payment already recorded"})
		return
	}
	if err != nil {
		log.Println("Error marking request paid:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := pc.PayoutService.CreditEarnings(r.Context(), request.HostID, request.PartyID, request.GuestID, request.Amount); err != nil {
		log.Println("Error crediting earnings:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Payment recorded"})
}

// HandleRunPayouts triggers one payout batch run
func (pc *PayoutController) HandleRunPayouts(w http.ResponseWriter, r *http.Request) {
	summary, err := pc.PayoutService.RunOnce(r.Context())
	if errors.Is(err, services.ErrPayoutRunInProgress) {
		http.Error(w, "A payout run is already in progress", http.StatusConflict)
		return
	}
	if err != nil {
		log.Println("Error running payouts:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(summary)
}

// HandleGetEarnings returns a host's earnings document
func (pc *PayoutController) HandleGetEarnings(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["hostId"]

	earnings, err := pc.Earnings.GetEarnings(r.Context(), hostID)
	if errors.Is(err, services.ErrItemNotFound) {
		http.Error(w, "No earnings for host", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Println("Error reading earnings:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(earnings)
}

// HandleSetupBankAccount records a host's transfer destination
func (pc *PayoutController) HandleSetupBankAccount(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["hostId"]
	var request struct {
		BankAccountID string `json:"bankAccountId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.BankAccountID == "" {
		http.Error(w, "bankAccountId is required", http.StatusBadRequest)
		return
	}

	if err := pc.Earnings.SetupBankAccount(r.Context(), hostID, request.BankAccountID); err != nil {
		log.Println("Error setting up bank account:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Bank account recorded"})
}
