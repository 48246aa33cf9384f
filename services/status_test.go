package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"partyup_server/models"
)

func statusTestParty(end time.Time) *models.Party {
	return &models.Party{
		PartyID:   "p1",
		HostID:    "host",
		StartTime: end.Add(-2 * time.Hour).Format(time.RFC3339),
		EndTime:   end.Format(time.RFC3339),
		GuestRequests: []models.GuestRequest{
			{UserID: "pending-user", PaymentStatus: models.PaymentStatusPending},
			{UserID: "approved-user", PaymentStatus: models.PaymentStatusPending, Approved: true},
			{UserID: "paid-user", PaymentStatus: models.PaymentStatusPaid},
			{UserID: "denied-user", PaymentStatus: models.PaymentStatusDenied},
		},
		ActiveUsers:      []string{"active-user"},
		RatingsSubmitted: map[string]models.Rating{},
	}
}

func TestDeriveStatus(t *testing.T) {
	now := time.Now().UTC()
	live := statusTestParty(now.Add(time.Hour))
	ended := statusTestParty(now.Add(-time.Hour))

	tests := []struct {
		name   string
		party  *models.Party
		userID string
		want   string
	}{
		{"nil party", nil, "u1", models.GuestStatusNone},
		{"empty user", live, "", models.GuestStatusNone},
		{"host has no guest status", live, "host", models.GuestStatusNone},
		{"unknown user", live, "stranger", models.GuestStatusNone},
		{"pending request", live, "pending-user", models.GuestStatusRequested},
		{"approved request", live, "approved-user", models.GuestStatusApproved},
		{"paid request", live, "paid-user", models.GuestStatusGoing},
		{"denied request", live, "denied-user", models.GuestStatusDenied},
		{"active user before end", live, "active-user", models.GuestStatusGoing},
		{"active user after end", ended, "active-user", models.GuestStatusAttended},
		{"denied request after end", ended, "denied-user", models.GuestStatusDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.party, tt.userID, now))
		})
	}
}

func TestDeriveStatusIsDeterministic(t *testing.T) {
	now := time.Now().UTC()
	party := statusTestParty(now.Add(time.Hour))

	for _, userID := range []string{"pending-user", "paid-user", "active-user", "stranger", "host"} {
		first := DeriveStatus(party, userID, now)
		second := DeriveStatus(party, userID, now)
		assert.Equal(t, first, second, "status for %s must not vary between calls", userID)
	}
}

func TestDeriveStatusMalformedEndTime(t *testing.T) {
	now := time.Now().UTC()
	party := statusTestParty(now.Add(time.Hour))
	party.EndTime = "not-a-timestamp"

	// A malformed end time must not flip an attendee to attended.
	assert.Equal(t, models.GuestStatusGoing, DeriveStatus(party, "active-user", now))
}

func TestHapticHint(t *testing.T) {
	assert.Equal(t, HapticMedium, HapticHint(models.GuestStatusApproved))
	assert.Equal(t, HapticMedium, HapticHint(models.GuestStatusGoing))
	assert.Equal(t, HapticStrong, HapticHint(models.GuestStatusDenied))
	assert.Equal(t, HapticLight, HapticHint(models.GuestStatusRequested))
	assert.Equal(t, HapticLight, HapticHint(models.GuestStatusAttended))
	assert.Equal(t, HapticLight, HapticHint(models.GuestStatusNone))
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(models.GuestStatusDenied))
	assert.True(t, IsTerminalStatus(models.GuestStatusAttended))
	assert.False(t, IsTerminalStatus(models.GuestStatusGoing))
	assert.False(t, IsTerminalStatus(models.GuestStatusRequested))
	assert.False(t, IsTerminalStatus(models.GuestStatusNone))
}
