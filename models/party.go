package models

import "time"

// GuestRequest is one user's request to join a party. PaymentStatus moves
// pending -> paid or pending -> denied and never back; Approved marks the
// host's go-ahead while payment is still outstanding.
type GuestRequest struct {
	UserID          string `json:"userId" dynamodbav:"userId"`
	DisplayName     string `json:"displayName,omitempty" dynamodbav:"displayName,omitempty"`
	Approved        bool   `json:"approved" dynamodbav:"approved"`
	PaymentStatus   string `json:"paymentStatus" dynamodbav:"paymentStatus"`
	PaymentIntentID string `json:"paymentIntentId,omitempty" dynamodbav:"paymentIntentId,omitempty"`
	CreatedAt       string `json:"createdAt" dynamodbav:"createdAt"`
}

// Rating is one attendee's post-party rating.
type Rating struct {
	Value     int    `json:"value" dynamodbav:"value"`
	Comment   string `json:"comment,omitempty" dynamodbav:"comment,omitempty"`
	CreatedAt string `json:"createdAt" dynamodbav:"createdAt"`
}

// Party is the authoritative party document. Guest requests, the confirmed
// attendee set, and submitted ratings all live on it so a single change-feed
// snapshot carries everything status derivation needs.
type Party struct {
	PartyID           string            `json:"partyId" dynamodbav:"partyId"` // PK
	HostID            string            `json:"hostId" dynamodbav:"hostId"`
	Name              string            `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Capacity          int               `json:"capacity" dynamodbav:"capacity"`
	Price             float64           `json:"price" dynamodbav:"price"`
	StartTime         string            `json:"startTime" dynamodbav:"startTime"`
	EndTime           string            `json:"endTime" dynamodbav:"endTime"`
	GuestRequests     []GuestRequest    `json:"guestRequests" dynamodbav:"guestRequests"`
	ActiveUsers       []string          `json:"activeUsers" dynamodbav:"activeUsers"`
	RatingsSubmitted  map[string]Rating `json:"ratingsSubmitted" dynamodbav:"ratingsSubmitted"`
	RatingsRequired   int               `json:"ratingsRequired" dynamodbav:"ratingsRequired"` // 0 means not yet fixed
	HostCreditAwarded bool              `json:"hostCreditAwarded" dynamodbav:"hostCreditAwarded"`
	CompletionStatus  string            `json:"completionStatus" dynamodbav:"completionStatus"`
}

// TableName returns the DynamoDB table name
func (Party) TableName() string {
	return PartiesTable
}

// Request returns the user's guest request, or nil if none exists.
func (p *Party) Request(userID string) *GuestRequest {
	for i := range p.GuestRequests {
		if p.GuestRequests[i].UserID == userID {
			return &p.GuestRequests[i]
		}
	}
	return nil
}

// IsActiveUser reports whether the user is a confirmed attendee.
func (p *Party) IsActiveUser(userID string) bool {
	for _, id := range p.ActiveUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// HasEnded reports whether the party is over at the given instant, either
// because the host ended it or because its end time passed. An absent or
// malformed end time counts as not ended.
func (p *Party) HasEnded(now time.Time) bool {
	if p.CompletionStatus == CompletionHostEnded || p.CompletionStatus == CompletionExpired {
		return true
	}
	if p.EndTime == "" {
		return false
	}
	end, err := time.Parse(time.RFC3339, p.EndTime)
	if err != nil {
		return false
	}
	return !end.After(now)
}
