package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"partyup_server/models"
)

// EarningsStore is the DynamoDB-backed implementation of PayoutStore.
type EarningsStore struct {
	Dynamo *DynamoService
}

func earningsKey(hostID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"hostId": &types.AttributeValueMemberS{Value: hostID},
	}
}

// GetEarnings retrieves a host's earnings document.
func (es *EarningsStore) GetEarnings(ctx context.Context, hostID string) (*models.HostEarnings, error) {
	item, err := es.Dynamo.GetItem(ctx, models.HostEarningsTable, earningsKey(hostID))
	if err != nil {
		return nil, err
	}
	var earnings models.HostEarnings
	if err := attributevalue.UnmarshalMap(item, &earnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal earnings for host %s: %w", hostID, err)
	}
	return &earnings, nil
}

// ListEligible returns every host whose live pending earnings meet the
// minimum and whose bank account is set up. Eligibility always re-reads live
// values, which is what makes a re-triggered batch idempotent.
func (es *EarningsStore) ListEligible(ctx context.Context, minimum float64) ([]models.HostEarnings, error) {
	var hosts []models.HostEarnings
	err := es.Dynamo.ScanItems(ctx, models.HostEarningsTable,
		"pendingEarnings >= :min AND bankAccountSetup = :true",
		map[string]types.AttributeValue{
			":min":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%.2f", minimum)},
			":true": &types.AttributeValueMemberBOOL{Value: true},
		},
		nil, &hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible hosts: %w", err)
	}
	return hosts, nil
}

// CreditEarnings records a successful guest payment as realized earnings: the
// amount lands in total and pending together with the transaction entry, in
// one atomic update. The update upserts, so a host's first earning creates
// the document.
func (es *EarningsStore) CreditEarnings(ctx context.Context, hostID, partyID, guestID string, amount float64) error {
	txn := models.EarningsTransaction{
		TransactionID: uuid.NewString(),
		PartyID:       partyID,
		GuestID:       guestID,
		Amount:        amount,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	txnAV, err := attributevalue.MarshalMap(txn)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	update := "SET transactions = list_append(if_not_exists(transactions, :empty), :txn) " +
		"ADD totalEarnings :amount, pendingEarnings :amount"

	_, err = es.Dynamo.UpdateItem(ctx, models.HostEarningsTable, update,
		earningsKey(hostID),
		map[string]types.AttributeValue{
			":empty":  &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":txn":    &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberM{Value: txnAV}}},
			":amount": &types.AttributeValueMemberN{Value: fmt.Sprintf("%.2f", amount)},
		}, nil,
	)
	if err != nil {
		return fmt.Errorf("failed to credit earnings for host %s: %w", hostID, err)
	}
	return nil
}

// RecordPayout commits a completed transfer: the payout record is appended,
// the paid amount moves from pending to paid, and lastPayoutDate is set, all
// in one conditional update. The guard on the expected pending amount means a
// concurrent earnings credit fails the condition instead of being silently
// swallowed into the payout.
func (es *EarningsStore) RecordPayout(ctx context.Context, hostID string, expectedPending float64, record models.PayoutRecord) error {
	recordAV, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal payout record: %w", err)
	}

	update := "SET pendingEarnings = pendingEarnings - :amount, " +
		"paidEarnings = paidEarnings + :amount, " +
		"lastPayoutDate = :now, " +
		"payoutHistory = list_append(if_not_exists(payoutHistory, :empty), :record)"
	condition := "pendingEarnings = :expected"

	_, err = es.Dynamo.UpdateItemWithCondition(ctx, models.HostEarningsTable, update, condition,
		earningsKey(hostID),
		map[string]types.AttributeValue{
			":amount":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%.2f", record.Amount)},
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%.2f", expectedPending)},
			":now":      &types.AttributeValueMemberS{Value: record.CreatedAt},
			":empty":    &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":record":   &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberM{Value: recordAV}}},
		}, nil,
	)
	return err
}

// SetupBankAccount records a host's transfer destination.
func (es *EarningsStore) SetupBankAccount(ctx context.Context, hostID, bankAccountID string) error {
	update := "SET bankAccountSetup = :true, bankAccountId = :account " +
		"ADD totalEarnings :zero, pendingEarnings :zero, paidEarnings :zero"

	_, err := es.Dynamo.UpdateItem(ctx, models.HostEarningsTable, update,
		earningsKey(hostID),
		map[string]types.AttributeValue{
			":true":    &types.AttributeValueMemberBOOL{Value: true},
			":account": &types.AttributeValueMemberS{Value: bankAccountID},
			":zero":    &types.AttributeValueMemberN{Value: "0"},
		}, nil,
	)
	if err != nil {
		return fmt.Errorf("failed to set up bank account for host %s: %w", hostID, err)
	}
	return nil
}
