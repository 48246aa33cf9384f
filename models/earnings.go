package models

// EarningsTransaction is one realized earning from a paid guest request.
type EarningsTransaction struct {
	TransactionID string  `json:"transactionId" dynamodbav:"transactionId"`
	PartyID       string  `json:"partyId" dynamodbav:"partyId"`
	GuestID       string  `json:"guestId,omitempty" dynamodbav:"guestId,omitempty"`
	Amount        float64 `json:"amount" dynamodbav:"amount"`
	CreatedAt     string  `json:"createdAt" dynamodbav:"createdAt"`
}

// PayoutRecord is one disbursement of pending earnings. TransactionIDs holds
// the exact transactions covered by the payout so a later run can never
// re-include them.
type PayoutRecord struct {
	PayoutID         string   `json:"payoutId" dynamodbav:"payoutId"`
	Amount           float64  `json:"amount" dynamodbav:"amount"`
	CreatedAt        string   `json:"createdAt" dynamodbav:"createdAt"`
	Method           string   `json:"method" dynamodbav:"method"`
	Status           string   `json:"status" dynamodbav:"status"`
	TransactionIDs   []string `json:"transactionIds" dynamodbav:"transactionIds"`
	EstimatedArrival string   `json:"estimatedArrival,omitempty" dynamodbav:"estimatedArrival,omitempty"`
	Fee              float64  `json:"fee" dynamodbav:"fee"`
}

// HostEarnings tracks a host's accumulated earnings. Pending and paid are
// disjoint partitions of realized earnings; pending only decreases through a
// successfully recorded payout.
type HostEarnings struct {
	HostID           string                `json:"hostId" dynamodbav:"hostId"` // PK
	TotalEarnings    float64               `json:"totalEarnings" dynamodbav:"totalEarnings"`
	PendingEarnings  float64               `json:"pendingEarnings" dynamodbav:"pendingEarnings"`
	PaidEarnings     float64               `json:"paidEarnings" dynamodbav:"paidEarnings"`
	BankAccountSetup bool                  `json:"bankAccountSetup" dynamodbav:"bankAccountSetup"`
	BankAccountID    string                `json:"bankAccountId,omitempty" dynamodbav:"bankAccountId,omitempty"`
	Transactions     []EarningsTransaction `json:"transactions" dynamodbav:"transactions"`
	PayoutHistory    []PayoutRecord        `json:"payoutHistory" dynamodbav:"payoutHistory"`
	LastPayoutDate   string                `json:"lastPayoutDate,omitempty" dynamodbav:"lastPayoutDate,omitempty"`
}

// TableName returns the DynamoDB table name
func (HostEarnings) TableName() string {
	return HostEarningsTable
}

// UnpaidTransactionIDs returns the transactions not yet covered by a
// completed payout.
func (h *HostEarnings) UnpaidTransactionIDs() []string {
	paid := make(map[string]bool)
	for _, rec := range h.PayoutHistory {
		if rec.Status != PayoutStatusCompleted {
			continue
		}
		for _, id := range rec.TransactionIDs {
			paid[id] = true
		}
	}
	var ids []string
	for _, txn := range h.Transactions {
		if !paid[txn.TransactionID] {
			ids = append(ids, txn.TransactionID)
		}
	}
	return ids
}
