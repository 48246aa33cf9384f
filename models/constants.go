package models

// DynamoDB table names
const (
	PartiesTable      = "Parties"
	UserProfilesTable = "UserProfiles"
	HostEarningsTable = "HostEarnings"
)

// Guest request payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusDenied  = "denied"
)

// Party completion statuses
const (
	CompletionScheduled = "scheduled"
	CompletionOngoing   = "ongoing"
	CompletionHostEnded = "hostEnded"
	CompletionExpired   = "expired"
)

// Derived guest statuses. Computed from the party document, never persisted.
const (
	GuestStatusNone      = "none"
	GuestStatusRequested = "requested"
	GuestStatusApproved  = "approved"
	GuestStatusDenied    = "denied"
	GuestStatusGoing     = "going"
	GuestStatusAttended  = "attended"
)

// Payout record statuses
const (
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
)
