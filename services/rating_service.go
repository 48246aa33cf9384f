package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"partyup_server/models"
)

var (
	ErrInvalidRating = errors.New("rating value must be between 1 and 5")
	ErrAlreadyRated  = errors.New("user has already rated this party")
	ErrPartyNotFound = errors.New("party not found")
)

// RatingStore is the transactional storage contract the crediting engine
// relies on. Every mutation behind it is atomic; the engine never performs a
// read-then-write counter update.
type RatingStore interface {
	GetParty(ctx context.Context, partyID string) (*models.Party, error)
	// RecordRating writes the user's rating and fixes ratingsRequired on
	// first use, guarded against duplicate submission. A duplicate is
	// surfaced as ErrConditionFailed.
	RecordRating(ctx context.Context, partyID, userID string, rating models.Rating, ratingsRequired int) error
	// AwardHostCredit flips hostCreditAwarded false->true and increments
	// the host's hosted-parties count in a single transaction. Returns
	// false when the credit was already awarded by a concurrent evaluator.
	AwardHostCredit(ctx context.Context, partyID, hostID string) (bool, error)
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	// MarkHostVerified sets the host-verified flag once. Returns false if
	// it was already set.
	MarkHostVerified(ctx context.Context, userID string) (bool, error)
	// IncrementAttendedCount atomically bumps the user's attended count
	// and returns the new value.
	IncrementAttendedCount(ctx context.Context, userID string) (int, error)
	// MarkGuestVerified sets the guest-verified flag once. Returns false
	// if it was already set.
	MarkGuestVerified(ctx context.Context, userID string) (bool, error)
}

// RatingService evaluates rating submissions against the quorum threshold and
// performs exactly-once host crediting.
type RatingService struct {
	Store      RatingStore
	Dispatcher Dispatcher

	HostVerificationThreshold  int
	GuestVerificationThreshold int
	MaxRetries                 int
	RetryBackoff               time.Duration
}

// QuorumThreshold returns the number of submitted ratings required before the
// host is credited for a party: 20% of the fixed denominator, never below 1.
func QuorumThreshold(ratingsRequired int) int {
	t := int(math.Ceil(0.20 * float64(ratingsRequired)))
	if t < 1 {
		t = 1
	}
	return t
}

// SubmitRating records one user's rating for a party and evaluates crediting.
// The write is atomic: the rating entry and, on first use, the ratingsRequired
// denominator commit together or not at all.
func (rs *RatingService) SubmitRating(ctx context.Context, partyID, userID string, value int, comment string) error {
	if value < 1 || value > 5 {
		return ErrInvalidRating
	}
	if partyID == "" || userID == "" {
		return fmt.Errorf("%w: partyId and userId are required", ErrInvalidRating)
	}

	rating := models.Rating{
		Value:     value,
		Comment:   comment,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	err := rs.withRetry(ctx, func() error {
		party, err := rs.Store.GetParty(ctx, partyID)
		if err != nil {
			return err
		}
		if _, ok := party.RatingsSubmitted[userID]; ok {
			return ErrAlreadyRated
		}
		required := party.RatingsRequired
		if required == 0 {
			// First rating fixes the denominator to the attendee-set
			// size at this moment, so the quorum stays stable even if
			// activeUsers changes afterward.
			required = len(party.ActiveUsers)
			if required == 0 {
				required = 1
			}
		}
		return rs.Store.RecordRating(ctx, partyID, userID, rating, required)
	})
	switch {
	case errors.Is(err, ErrItemNotFound):
		return ErrPartyNotFound
	case errors.Is(err, ErrConditionFailed):
		// A concurrent submission from the same user won; this call is
		// a no-op, not a workflow failure.
		return ErrAlreadyRated
	case err != nil:
		return err
	}

	return rs.evaluateHostCredit(ctx, partyID)
}

// evaluateHostCredit re-reads the party after a committed rating and awards
// the one-time host credit when the quorum is met. The hostCreditAwarded flag
// is the compare-and-set guard: concurrent evaluators that lose the race
// observe it already true and write nothing.
func (rs *RatingService) evaluateHostCredit(ctx context.Context, partyID string) error {
	party, err := rs.Store.GetParty(ctx, partyID)
	if errors.Is(err, ErrItemNotFound) {
		return ErrPartyNotFound
	}
	if err != nil {
		return err
	}
	if party.HostCreditAwarded {
		return nil
	}
	if len(party.RatingsSubmitted) < QuorumThreshold(party.RatingsRequired) {
		return nil
	}

	var awarded bool
	err = rs.withRetry(ctx, func() error {
		var err error
		awarded, err = rs.Store.AwardHostCredit(ctx, partyID, party.HostID)
		return err
	})
	if err != nil {
		return fmt.Errorf("award host credit: %w", err)
	}
	if !awarded {
		return nil
	}

	rs.dispatch(Notification{
		Event:   NotificationHostCredited,
		UserID:  party.HostID,
		PartyID: partyID,
	})
	return rs.checkHostVerification(ctx, party.HostID)
}

func (rs *RatingService) checkHostVerification(ctx context.Context, hostID string) error {
	profile, err := rs.Store.GetProfile(ctx, hostID)
	if err != nil {
		return fmt.Errorf("read host profile: %w", err)
	}
	if profile.IsHostVerified || profile.HostedPartiesCount < rs.hostThreshold() {
		return nil
	}

	flipped, err := rs.Store.MarkHostVerified(ctx, hostID)
	if err != nil {
		return fmt.Errorf("mark host verified: %w", err)
	}
	if flipped {
		rs.dispatch(Notification{
			Event:  NotificationHostVerified,
			UserID: hostID,
			Data:   map[string]interface{}{"hostedPartiesCount": profile.HostedPartiesCount},
		})
	}
	return nil
}

// RecordCheckIn atomically increments the user's attended-parties count and
// flips the guest-verified badge once when the threshold is crossed.
func (rs *RatingService) RecordCheckIn(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("userId is required")
	}

	var count int
	err := rs.withRetry(ctx, func() error {
		var err error
		count, err = rs.Store.IncrementAttendedCount(ctx, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("record check-in: %w", err)
	}

	if count < rs.guestThreshold() {
		return nil
	}
	flipped, err := rs.Store.MarkGuestVerified(ctx, userID)
	if err != nil {
		return fmt.Errorf("mark guest verified: %w", err)
	}
	if flipped {
		rs.dispatch(Notification{
			Event:  NotificationGuestVerified,
			UserID: userID,
			Data:   map[string]interface{}{"attendedPartiesCount": count},
		})
	}
	return nil
}

// withRetry retries an operation on transient transaction conflicts with
// exponential backoff, then surfaces the conflict unchanged.
func (rs *RatingService) withRetry(ctx context.Context, op func() error) error {
	retries := rs.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := rs.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if !errors.Is(err, ErrTransactionConflict) || attempt >= retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (rs *RatingService) hostThreshold() int {
	if rs.HostVerificationThreshold > 0 {
		return rs.HostVerificationThreshold
	}
	return 3
}

func (rs *RatingService) guestThreshold() int {
	if rs.GuestVerificationThreshold > 0 {
		return rs.GuestVerificationThreshold
	}
	return 5
}

func (rs *RatingService) dispatch(n Notification) {
	if rs.Dispatcher != nil {
		rs.Dispatcher.Dispatch(n)
	}
}
