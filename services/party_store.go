package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"partyup_server/models"
	"partyup_server/utils"
)

// PartyStore is the DynamoDB-backed implementation of RatingStore plus the
// party-document producer operations (create, join, approve, payment).
type PartyStore struct {
	Dynamo *DynamoService
}

func partyKey(partyID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"partyId": &types.AttributeValueMemberS{Value: partyID},
	}
}

func profileKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
	}
}

// GetParty retrieves a party document.
func (ps *PartyStore) GetParty(ctx context.Context, partyID string) (*models.Party, error) {
	item, err := ps.Dynamo.GetItem(ctx, models.PartiesTable, partyKey(partyID))
	if err != nil {
		return nil, err
	}
	var party models.Party
	if err := attributevalue.UnmarshalMap(item, &party); err != nil {
		return nil, fmt.Errorf("failed to unmarshal party %s: %w", partyID, err)
	}
	return &party, nil
}

// CreateParty writes a new party document. Maps and sets start empty so later
// document-path updates never hit a missing attribute.
func (ps *PartyStore) CreateParty(ctx context.Context, party *models.Party) error {
	if party.GuestRequests == nil {
		party.GuestRequests = []models.GuestRequest{}
	}
	if party.ActiveUsers == nil {
		party.ActiveUsers = []string{}
	}
	if party.RatingsSubmitted == nil {
		party.RatingsSubmitted = map[string]models.Rating{}
	}
	if party.CompletionStatus == "" {
		party.CompletionStatus = models.CompletionScheduled
	}
	return ps.Dynamo.PutItem(ctx, models.PartiesTable, party)
}

// RecordRating writes ratingsSubmitted[userID] and fixes ratingsRequired on
// first use, in one conditional update. The condition rejects duplicate
// submissions so a rating, once written, is never overwritten.
func (ps *PartyStore) RecordRating(ctx context.Context, partyID, userID string, rating models.Rating, ratingsRequired int) error {
	ratingAV, err := attributevalue.MarshalMap(rating)
	if err != nil {
		return fmt.Errorf("failed to marshal rating: %w", err)
	}

	update := "SET ratingsSubmitted.#uid = :rating, ratingsRequired = if_not_exists(ratingsRequired, :required)"
	condition := "attribute_exists(partyId) AND attribute_not_exists(ratingsSubmitted.#uid)"

	_, err = ps.Dynamo.UpdateItemWithCondition(ctx, models.PartiesTable, update, condition,
		partyKey(partyID),
		map[string]types.AttributeValue{
			":rating":   &types.AttributeValueMemberM{Value: ratingAV},
			":required": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ratingsRequired)},
		},
		map[string]string{"#uid": userID},
	)
	return err
}

// AwardHostCredit performs the exactly-once credit: flip hostCreditAwarded
// and increment the host's hosted count as a single transaction. Both writes
// succeed or both fail; a lost race returns (false, nil).
func (ps *PartyStore) AwardHostCredit(ctx context.Context, partyID, hostID string) (bool, error) {
	partiesTable := models.PartiesTable
	profilesTable := models.UserProfilesTable

	flipFlag := "SET hostCreditAwarded = :true"
	flipCond := "attribute_exists(partyId) AND hostCreditAwarded = :false"
	bumpCount := "ADD hostedPartiesCount :one"

	err := ps.Dynamo.TransactWriteItems(ctx, []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:           &partiesTable,
				Key:                 partyKey(partyID),
				UpdateExpression:    &flipFlag,
				ConditionExpression: &flipCond,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":true":  &types.AttributeValueMemberBOOL{Value: true},
					":false": &types.AttributeValueMemberBOOL{Value: false},
				},
			},
		},
		{
			Update: &types.Update{
				TableName:        &profilesTable,
				Key:              profileKey(hostID),
				UpdateExpression: &bumpCount,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":one": &types.AttributeValueMemberN{Value: "1"},
				},
			},
		},
	})
	if errors.Is(err, ErrConditionFailed) {
		// A concurrent evaluator already awarded the credit.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetProfile retrieves a user profile.
func (ps *PartyStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	item, err := ps.Dynamo.GetItem(ctx, models.UserProfilesTable, profileKey(userID))
	if err != nil {
		return nil, err
	}
	var profile models.UserProfile
	if err := attributevalue.UnmarshalMap(item, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile %s: %w", userID, err)
	}
	return &profile, nil
}

// MarkHostVerified sets isHostVerified once.
func (ps *PartyStore) MarkHostVerified(ctx context.Context, userID string) (bool, error) {
	return ps.setVerifiedFlag(ctx, userID, "isHostVerified")
}

// MarkGuestVerified sets isGuestVerified once.
func (ps *PartyStore) MarkGuestVerified(ctx context.Context, userID string) (bool, error) {
	return ps.setVerifiedFlag(ctx, userID, "isGuestVerified")
}

func (ps *PartyStore) setVerifiedFlag(ctx context.Context, userID, flag string) (bool, error) {
	update := "SET #flag = :true"
	condition := "attribute_exists(userId) AND (attribute_not_exists(#flag) OR #flag = :false)"

	_, err := ps.Dynamo.UpdateItemWithCondition(ctx, models.UserProfilesTable, update, condition,
		profileKey(userID),
		map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
		map[string]string{"#flag": flag},
	)
	if errors.Is(err, ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IncrementAttendedCount atomically bumps attendedPartiesCount and returns
// the new value.
func (ps *PartyStore) IncrementAttendedCount(ctx context.Context, userID string) (int, error) {
	attrs, err := ps.Dynamo.UpdateItem(ctx, models.UserProfilesTable,
		"ADD attendedPartiesCount :one",
		profileKey(userID),
		map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		}, nil,
	)
	if err != nil {
		return 0, err
	}
	return utils.ExtractInt(attrs, "attendedPartiesCount"), nil
}

// AddGuestRequest appends a new guest request. The party document keeps
// exactly one request per user, so an existing request is a no-op surfaced as
// ErrConditionFailed.
func (ps *PartyStore) AddGuestRequest(ctx context.Context, partyID string, req models.GuestRequest) error {
	party, err := ps.GetParty(ctx, partyID)
	if err != nil {
		return err
	}
	if party.Request(req.UserID) != nil {
		return ErrConditionFailed
	}
	if req.PaymentStatus == "" {
		req.PaymentStatus = models.PaymentStatusPending
	}
	if req.CreatedAt == "" {
		req.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	reqAV, err := attributevalue.MarshalMap(req)
	if err != nil {
		return fmt.Errorf("failed to marshal guest request: %w", err)
	}

	// Guard on the request count so two concurrent joins re-read instead
	// of both appending.
	update := "SET guestRequests = list_append(if_not_exists(guestRequests, :empty), :req)"
	_, err = ps.Dynamo.UpdateItemWithCondition(ctx, models.PartiesTable, update,
		"attribute_exists(partyId) AND size(guestRequests) = :count",
		partyKey(partyID),
		map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":req":   &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberM{Value: reqAV}}},
			":count": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", len(party.GuestRequests))},
		}, nil,
	)
	return err
}

// ApproveGuestRequest marks a pending request approved.
func (ps *PartyStore) ApproveGuestRequest(ctx context.Context, partyID, userID string) error {
	return ps.updateGuestRequest(ctx, partyID, userID, func(i int) (string, map[string]types.AttributeValue) {
		update := fmt.Sprintf("SET guestRequests[%d].approved = :true", i)
		return update, map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
		}
	}, models.PaymentStatusPending)
}

// DenyGuestRequest denies a pending request. Payment status is monotonic, so
// a paid request can no longer be denied here.
func (ps *PartyStore) DenyGuestRequest(ctx context.Context, partyID, userID string) error {
	return ps.updateGuestRequest(ctx, partyID, userID, func(i int) (string, map[string]types.AttributeValue) {
		update := fmt.Sprintf("SET guestRequests[%d].paymentStatus = :denied", i)
		return update, map[string]types.AttributeValue{
			":denied": &types.AttributeValueMemberS{Value: models.PaymentStatusDenied},
		}
	}, models.PaymentStatusPending)
}

// MarkRequestPaid records a successful payment for a pending request and adds
// the guest to the attendee set.
func (ps *PartyStore) MarkRequestPaid(ctx context.Context, partyID, userID, paymentIntentID string) error {
	return ps.updateGuestRequest(ctx, partyID, userID, func(i int) (string, map[string]types.AttributeValue) {
		update := fmt.Sprintf(
			"SET guestRequests[%d].paymentStatus = :paid, guestRequests[%d].paymentIntentId = :intent, activeUsers = list_append(activeUsers, :user)",
			i, i)
		return update, map[string]types.AttributeValue{
			":paid":   &types.AttributeValueMemberS{Value: models.PaymentStatusPaid},
			":intent": &types.AttributeValueMemberS{Value: paymentIntentID},
			":user":   &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: userID}}},
		}
	}, models.PaymentStatusPending)
}

// updateGuestRequest locates the user's request by index and applies an
// indexed update, guarded so a concurrent reorder or a non-monotonic payment
// transition fails the condition instead of corrupting another request.
func (ps *PartyStore) updateGuestRequest(
	ctx context.Context,
	partyID, userID string,
	build func(index int) (string, map[string]types.AttributeValue),
	requiredStatus string,
) error {
	party, err := ps.GetParty(ctx, partyID)
	if err != nil {
		return err
	}

	index := -1
	for i := range party.GuestRequests {
		if party.GuestRequests[i].UserID == userID {
			index = i
			break
		}
	}
	if index == -1 {
		return fmt.Errorf("no guest request for user '%s' in party '%s'", userID, partyID)
	}

	update, values := build(index)
	condition := fmt.Sprintf("guestRequests[%d].userId = :uid AND guestRequests[%d].paymentStatus = :requiredStatus", index, index)
	values[":uid"] = &types.AttributeValueMemberS{Value: userID}
	values[":requiredStatus"] = &types.AttributeValueMemberS{Value: requiredStatus}

	_, err = ps.Dynamo.UpdateItemWithCondition(ctx, models.PartiesTable, update, condition,
		partyKey(partyID), values, nil)
	return err
}

// EndParty marks a party ended by its host. The end time moves to now so the
// synchronization managers retire it on their next snapshot or sweep.
func (ps *PartyStore) EndParty(ctx context.Context, partyID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	update := "SET completionStatus = :ended, endTime = :now"
	condition := "attribute_exists(partyId)"

	_, err := ps.Dynamo.UpdateItemWithCondition(ctx, models.PartiesTable, update, condition,
		partyKey(partyID),
		map[string]types.AttributeValue{
			":ended": &types.AttributeValueMemberS{Value: models.CompletionHostEnded},
			":now":   &types.AttributeValueMemberS{Value: now},
		}, nil,
	)
	return err
}
