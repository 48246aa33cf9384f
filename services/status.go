package services

import (
	"time"

	"partyup_server/models"
)

// Haptic feedback strengths emitted alongside status transitions.
const (
	HapticLight  = "light"
	HapticMedium = "medium"
	HapticStrong = "strong"
)

// DeriveStatus computes a user's guest status for a party from the party
// document alone. It is pure and total: the same inputs always produce the
// same output, and every reachable combination is covered.
func DeriveStatus(party *models.Party, userID string, now time.Time) string {
	if party == nil || userID == "" {
		return models.GuestStatusNone
	}
	// The host has no guest status for their own party.
	if party.HostID == userID {
		return models.GuestStatusNone
	}

	if party.IsActiveUser(userID) {
		if party.HasEnded(now) {
			return models.GuestStatusAttended
		}
		return models.GuestStatusGoing
	}

	req := party.Request(userID)
	if req == nil {
		return models.GuestStatusNone
	}
	switch req.PaymentStatus {
	case models.PaymentStatusDenied:
		return models.GuestStatusDenied
	case models.PaymentStatusPaid:
		return models.GuestStatusGoing
	default:
		if req.Approved {
			return models.GuestStatusApproved
		}
		return models.GuestStatusRequested
	}
}

// HapticHint maps a newly entered status to the feedback strength clients
// should play for it.
func HapticHint(status string) string {
	switch status {
	case models.GuestStatusApproved, models.GuestStatusGoing:
		return HapticMedium
	case models.GuestStatusDenied:
		return HapticStrong
	default:
		return HapticLight
	}
}

// IsTerminalStatus reports whether the engine performs no further automatic
// transitions out of the given status.
func IsTerminalStatus(status string) bool {
	return status == models.GuestStatusDenied || status == models.GuestStatusAttended
}
