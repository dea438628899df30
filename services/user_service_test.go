package services

import (
	"testing"

	"bookswap_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProfile(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedListing(t, db, "10", "A", models.TransactionTypeExchange)
	seedListing(t, db, "11", "A", models.TransactionTypeGift)
	seedMatch(t, db, "m1", "A", "B")
	ratings := NewRatingService(db)
	_, err := ratings.CreateRating(testContext(t), "B", CreateRatingInput{RatedID: "A", Score: 4, MatchID: strPtr("m1")})
	require.NoError(t, err)
	svc := NewUserService(db, NewListingService(db, nil, nil), ratings)
	ctx := testContext(t)

	profile, err := svc.GetProfile(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "user_a", profile.User.Username)
	assert.Equal(t, int64(2), profile.ListingCounts[models.ListingStatusAvailable])
	assert.Equal(t, int64(1), profile.Rating.Count)
	assert.Equal(t, int64(1), profile.MatchCount)

	_, err = svc.GetProfile(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	bio := "reads a lot"
	user, err := svc.UpdateProfile(ctx, "A", &UpdateProfileRequest{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, bio, user.Bio)
	assert.Equal(t, "Qingdao", user.Location)
}
