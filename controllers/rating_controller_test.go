package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partyup_server/models"
	"partyup_server/services"
)

type ctxMarkerKey string

// checkInStore is a minimal RatingStore that records the context the
// check-in write arrived with.
type checkInStore struct {
	lastCtx context.Context
}

func (s *checkInStore) GetParty(ctx context.Context, partyID string) (*models.Party, error) {
	return nil, services.ErrItemNotFound
}

func (s *checkInStore) RecordRating(ctx context.Context, partyID, userID string, rating models.Rating, ratingsRequired int) error {
	return nil
}

func (s *checkInStore) AwardHostCredit(ctx context.Context, partyID, hostID string) (bool, error) {
	return false, nil
}

func (s *checkInStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	return &models.UserProfile{UserID: userID}, nil
}

func (s *checkInStore) MarkHostVerified(ctx context.Context, userID string) (bool, error) {
	return false, nil
}

func (s *checkInStore) IncrementAttendedCount(ctx context.Context, userID string) (int, error) {
	s.lastCtx = ctx
	return 1, nil
}

func (s *checkInStore) MarkGuestVerified(ctx context.Context, userID string) (bool, error) {
	return false, nil
}

func TestHandleCheckInUsesRequestContext(t *testing.T) {
	store := &checkInStore{}
	controller := NewRatingController(&services.RatingService{Store: store})

	ctx := context.WithValue(context.Background(), ctxMarkerKey("scope"), "request")
	req := httptest.NewRequest(http.MethodPost, "/api/ratings/checkin", strings.NewReader(`{"userId":"u1"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	controller.HandleCheckIn(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.lastCtx)
	assert.Equal(t, "request", store.lastCtx.Value(ctxMarkerKey("scope")),
		"the store write must run under the request's context")
}

func TestHandleCheckInRejectsMissingUser(t *testing.T) {
	controller := NewRatingController(&services.RatingService{Store: &checkInStore{}})

	req := httptest.NewRequest(http.MethodPost, "/api/ratings/checkin", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	controller.HandleCheckIn(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
