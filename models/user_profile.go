package models

// UserProfile represents a user profile in DynamoDB. The hosted/attended
// counters are only ever mutated through atomic updates.
type UserProfile struct {
	UserID               string `json:"userId" dynamodbav:"userId"` // PK
	Name                 string `json:"name" dynamodbav:"name"`
	HostedPartiesCount   int    `json:"hostedPartiesCount" dynamodbav:"hostedPartiesCount"`
	AttendedPartiesCount int    `json:"attendedPartiesCount" dynamodbav:"attendedPartiesCount"`
	IsHostVerified       bool   `json:"isHostVerified" dynamodbav:"isHostVerified"`
	IsGuestVerified      bool   `json:"isGuestVerified" dynamodbav:"isGuestVerified"`
}

// TableName returns the DynamoDB table name
func (UserProfile) TableName() string {
	return UserProfilesTable
}
