package services

// Notification event names.
const (
	NotificationHostCredited  = "hostCredited"
	NotificationHostVerified  = "hostVerified"
	NotificationGuestVerified = "guestVerified"
	NotificationPayoutSent    = "payoutSent"
	NotificationPayoutSummary = "payoutSummary"
)

// Notification is a well-typed event handed to the notification dispatcher.
// The engine only emits these; delivery (push, socket, local) is owned by the
// dispatcher implementation.
type Notification struct {
	Event   string
	UserID  string
	PartyID string
	Data    map[string]interface{}
}

// Dispatcher consumes crediting and payout events.
type Dispatcher interface {
	Dispatch(n Notification)
}
