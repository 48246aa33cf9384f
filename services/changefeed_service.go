package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	streamsav "github.com/aws/aws-sdk-go-v2/feature/dynamodbstreams/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"

	"partyup_server/models"
)

// FeedEventType classifies a change-feed delivery.
type FeedEventType string

const (
	FeedEventAdded    FeedEventType = "added"
	FeedEventModified FeedEventType = "modified"
	FeedEventRemoved  FeedEventType = "removed"
	FeedEventError    FeedEventType = "error"
)

// FeedEvent is a single change-feed delivery. Events for one target arrive in
// the store's commit order; consumers must tolerate duplicate snapshots of
// identical content. An error event is terminal for its subscription.
type FeedEvent struct {
	Type    FeedEventType
	PartyID string
	Party   *models.Party // nil for removed/error events
	Err     error
}

// PartyFeed is the change-feed contract consumed by the synchronization
// manager.
type PartyFeed interface {
	Subscribe(partyID string) *FeedSubscription
	SubscribeHosted(userID string) *FeedSubscription
	SubscribeAttending(userID string) *FeedSubscription
	Unsubscribe(sub *FeedSubscription)
}

// FeedSubscription delivers ordered events for one target (a single party or
// an aggregate membership query).
type FeedSubscription struct {
	partyID string                    // set for single-party subscriptions
	filter  func(*models.Party) bool  // set for aggregate subscriptions
	members map[string]bool           // aggregate result set, guarded by the service mutex
	events  chan FeedEvent
	done    chan struct{}
	once    sync.Once
}

// Events returns the subscription's event stream.
func (s *FeedSubscription) Events() <-chan FeedEvent {
	return s.events
}

// Done is closed when the subscription is cancelled. No events are delivered
// after it closes.
func (s *FeedSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *FeedSubscription) close() {
	s.once.Do(func() { close(s.done) })
}

// deliver hands an event to the consumer without ever blocking the poller. A
// consumer that falls behind loses intermediate snapshots; the next event
// carries the full document, so the loss heals itself.
func (s *FeedSubscription) deliver(ev FeedEvent) {
	select {
	case <-s.done:
	case s.events <- ev:
	default:
		log.Printf("change feed: dropping event for slow consumer (party %s)", ev.PartyID)
	}
}

// ChangeFeedService is the DynamoDB Streams binding of the change-feed
// client. One poller walks the Parties table stream and demultiplexes records
// to per-party and aggregate subscriptions.
type ChangeFeedService struct {
	Streams      *dynamodbstreams.Client
	Dynamo       *DynamoService
	StreamArn    string
	PollInterval time.Duration

	mu   sync.Mutex
	subs map[*FeedSubscription]struct{}
}

func NewChangeFeedService(streams *dynamodbstreams.Client, dynamo *DynamoService, streamArn string, pollInterval time.Duration) *ChangeFeedService {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &ChangeFeedService{
		Streams:      streams,
		Dynamo:       dynamo,
		StreamArn:    streamArn,
		PollInterval: pollInterval,
		subs:         make(map[*FeedSubscription]struct{}),
	}
}

// Subscribe opens a per-party subscription. The current document, if any, is
// delivered as the first event.
func (cf *ChangeFeedService) Subscribe(partyID string) *FeedSubscription {
	sub := cf.register(&FeedSubscription{partyID: partyID})
	go cf.seedParty(sub, partyID)
	return sub
}

// SubscribeHosted opens an aggregate subscription over the parties hosted by
// the given user.
func (cf *ChangeFeedService) SubscribeHosted(userID string) *FeedSubscription {
	sub := cf.register(&FeedSubscription{
		filter:  func(p *models.Party) bool { return p.HostID == userID },
		members: make(map[string]bool),
	})
	go cf.seedHosted(sub, userID)
	return sub
}

// SubscribeAttending opens an aggregate subscription over the parties whose
// active-user set contains the given user.
func (cf *ChangeFeedService) SubscribeAttending(userID string) *FeedSubscription {
	sub := cf.register(&FeedSubscription{
		filter:  func(p *models.Party) bool { return p.IsActiveUser(userID) },
		members: make(map[string]bool),
	})
	go cf.seedAttending(sub, userID)
	return sub
}

// Unsubscribe cancels a subscription. Delivery stops before this returns.
func (cf *ChangeFeedService) Unsubscribe(sub *FeedSubscription) {
	if sub == nil {
		return
	}
	cf.mu.Lock()
	delete(cf.subs, sub)
	cf.mu.Unlock()
	sub.close()
}

func (cf *ChangeFeedService) register(sub *FeedSubscription) *FeedSubscription {
	sub.events = make(chan FeedEvent, 32)
	sub.done = make(chan struct{})
	cf.mu.Lock()
	cf.subs[sub] = struct{}{}
	cf.mu.Unlock()
	return sub
}

func (cf *ChangeFeedService) seedParty(sub *FeedSubscription, partyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	item, err := cf.Dynamo.GetItem(ctx, models.PartiesTable, map[string]types.AttributeValue{
		"partyId": &types.AttributeValueMemberS{Value: partyID},
	})
	if errors.Is(err, ErrItemNotFound) {
		return
	}
	if err != nil {
		sub.deliver(FeedEvent{Type: FeedEventError, PartyID: partyID, Err: err})
		return
	}

	var party models.Party
	if err := unmarshalParty(item, &party); err != nil {
		sub.deliver(FeedEvent{Type: FeedEventError, PartyID: partyID, Err: err})
		return
	}
	sub.deliver(FeedEvent{Type: FeedEventModified, PartyID: partyID, Party: &party})
}

func (cf *ChangeFeedService) seedHosted(sub *FeedSubscription, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	items, err := cf.Dynamo.QueryItemsWithIndex(ctx, models.PartiesTable, "hostId-index",
		"hostId = :hostId",
		map[string]types.AttributeValue{":hostId": &types.AttributeValueMemberS{Value: userID}},
		nil, 0)
	if err != nil {
		sub.deliver(FeedEvent{Type: FeedEventError, Err: err})
		return
	}
	cf.seedAggregate(sub, items)
}

func (cf *ChangeFeedService) seedAttending(sub *FeedSubscription, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var parties []models.Party
	err := cf.Dynamo.ScanItems(ctx, models.PartiesTable,
		"contains(activeUsers, :userId)",
		map[string]types.AttributeValue{":userId": &types.AttributeValueMemberS{Value: userID}},
		nil, &parties)
	if err != nil {
		sub.deliver(FeedEvent{Type: FeedEventError, Err: err})
		return
	}

	for i := range parties {
		party := parties[i]
		cf.mu.Lock()
		sub.members[party.PartyID] = true
		cf.mu.Unlock()
		sub.deliver(FeedEvent{Type: FeedEventAdded, PartyID: party.PartyID, Party: &party})
	}
}

func (cf *ChangeFeedService) seedAggregate(sub *FeedSubscription, items []map[string]types.AttributeValue) {
	for _, item := range items {
		var party models.Party
		if err := unmarshalParty(item, &party); err != nil {
			log.Printf("change feed: skipping unreadable party document: %v", err)
			continue
		}
		cf.mu.Lock()
		sub.members[party.PartyID] = true
		cf.mu.Unlock()
		p := party
		sub.deliver(FeedEvent{Type: FeedEventAdded, PartyID: party.PartyID, Party: &p})
	}
}

// Run polls the table stream until the context is cancelled or the stream
// fails. A stream failure is surfaced to every subscription as a terminal
// error event; the caller decides when to resubscribe.
func (cf *ChangeFeedService) Run(ctx context.Context) error {
	iterators := make(map[string]string)
	ticker := time.NewTicker(cf.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := cf.poll(ctx, iterators); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cf.fail(err)
			return err
		}
	}
}

func (cf *ChangeFeedService) poll(ctx context.Context, iterators map[string]string) error {
	desc, err := cf.Streams.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
		StreamArn: &cf.StreamArn,
	})
	if err != nil {
		return err
	}

	for _, shard := range desc.StreamDescription.Shards {
		shardID := *shard.ShardId
		if _, ok := iterators[shardID]; ok {
			continue
		}
		out, err := cf.Streams.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
			StreamArn:         &cf.StreamArn,
			ShardId:           shard.ShardId,
			ShardIteratorType: streamtypes.ShardIteratorTypeLatest,
		})
		if err != nil {
			return err
		}
		if out.ShardIterator != nil {
			iterators[shardID] = *out.ShardIterator
		}
	}

	for shardID, iterator := range iterators {
		out, err := cf.Streams.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
			ShardIterator: &iterator,
		})
		if err != nil {
			return err
		}
		for _, record := range out.Records {
			cf.dispatchRecord(record)
		}
		if out.NextShardIterator == nil {
			// Shard closed; it will not produce further records.
			delete(iterators, shardID)
			continue
		}
		iterators[shardID] = *out.NextShardIterator
	}
	return nil
}

func (cf *ChangeFeedService) dispatchRecord(record streamtypes.Record) {
	if record.Dynamodb == nil {
		return
	}
	keyAttr, ok := record.Dynamodb.Keys["partyId"]
	if !ok {
		return
	}
	keyStr, ok := keyAttr.(*streamtypes.AttributeValueMemberS)
	if !ok {
		return
	}
	partyID := keyStr.Value

	removed := record.EventName == streamtypes.OperationTypeRemove
	var party *models.Party
	if !removed {
		var p models.Party
		if err := streamsav.UnmarshalMap(record.Dynamodb.NewImage, &p); err != nil {
			log.Printf("change feed: failed to unmarshal record for party %s: %v", partyID, err)
			return
		}
		party = &p
	}
	cf.dispatch(partyID, party, removed)
}

func (cf *ChangeFeedService) dispatch(partyID string, party *models.Party, removed bool) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	for sub := range cf.subs {
		if sub.partyID != "" {
			if sub.partyID != partyID {
				continue
			}
			if removed {
				sub.deliver(FeedEvent{Type: FeedEventRemoved, PartyID: partyID})
			} else {
				sub.deliver(FeedEvent{Type: FeedEventModified, PartyID: partyID, Party: party})
			}
			continue
		}

		matches := !removed && party != nil && sub.filter(party)
		was := sub.members[partyID]
		switch {
		case matches && !was:
			sub.members[partyID] = true
			sub.deliver(FeedEvent{Type: FeedEventAdded, PartyID: partyID, Party: party})
		case matches && was:
			sub.deliver(FeedEvent{Type: FeedEventModified, PartyID: partyID, Party: party})
		case !matches && was:
			delete(sub.members, partyID)
			sub.deliver(FeedEvent{Type: FeedEventRemoved, PartyID: partyID})
		}
	}
}

func (cf *ChangeFeedService) fail(err error) {
	log.Printf("change feed: stream failed: %v", err)
	cf.mu.Lock()
	defer cf.mu.Unlock()
	for sub := range cf.subs {
		sub.deliver(FeedEvent{Type: FeedEventError, Err: err})
	}
}

func unmarshalParty(item map[string]types.AttributeValue, party *models.Party) error {
	return attributevalue.UnmarshalMap(item, party)
}
