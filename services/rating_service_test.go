package services

import (
	"testing"

	"bookswap_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCreateRating(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedUser(t, db, "C")
	seedMatch(t, db, "m1", "A", "B")
	svc := NewRatingService(db)
	ctx := testContext(t)

	rating, err := svc.CreateRating(ctx, "A", CreateRatingInput{RatedID: "B", Score: 5, MatchID: strPtr("m1")})
	require.NoError(t, err)
	assert.Equal(t, "A", rating.RaterID)

	_, err = svc.CreateRating(ctx, "A", CreateRatingInput{RatedID: "B", Score: 3, MatchID: strPtr("m1")})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.CreateRating(ctx, "B", CreateRatingInput{RatedID: "A", Score: 4, MatchID: strPtr("m1")})
	require.NoError(t, err)

	_, err = svc.CreateRating(ctx, "C", CreateRatingInput{RatedID: "A", Score: 4, MatchID: strPtr("m1")})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateRatingValidation(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedMatch(t, db, "m1", "A", "B")
	svc := NewRatingService(db)
	ctx := testContext(t)

	cases := map[string]CreateRatingInput{
		"score too low":  {RatedID: "B", Score: 0, MatchID: strPtr("m1")},
		"score too high": {RatedID: "B", Score: 6, MatchID: strPtr("m1")},
		"self":           {RatedID: "A", Score: 3, MatchID: strPtr("m1")},
		"no reference":   {RatedID: "B", Score: 3},
		"two references": {RatedID: "B", Score: 3, MatchID: strPtr("m1"), ExchangeID: strPtr("e1")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateRating(ctx, "A", in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := svc.CreateRating(ctx, "A", CreateRatingInput{RatedID: "B", Score: 3, ExchangeID: strPtr("missing")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, countRows(t, db, &models.Rating{}, ""))
}

func TestCreateRatingForSaleAndSummary(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "S")
	seedUser(t, db, "B")
	seedUser(t, db, "C")
	seedListing(t, db, "p1", "S", models.TransactionTypeSale)
	seedTransaction(t, db, "t1", "p1", "B", "S", models.TransactionStatusConfirmed)
	svc := NewRatingService(db)
	ctx := testContext(t)

	_, err := svc.CreateRating(ctx, "B", CreateRatingInput{RatedID: "S", Score: 4, SellID: strPtr("p1")})
	require.NoError(t, err)
	_, err = svc.CreateRating(ctx, "B", CreateRatingInput{RatedID: "S", Score: 2, TransactionID: strPtr("t1")})
	require.NoError(t, err)
	_, err = svc.CreateRating(ctx, "C", CreateRatingInput{RatedID: "S", Score: 1, SellID: strPtr("p1")})
	assert.ErrorIs(t, err, ErrForbidden)

	summary, err := svc.GetRatingSummary(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Count)
	assert.InDelta(t, 3.0, summary.Average, 0.001)

	ratings, err := svc.GetUserRatings(ctx, "S")
	require.NoError(t, err)
	require.Len(t, ratings, 2)
	require.NotNil(t, ratings[0].Rater)

	empty, err := svc.GetRatingSummary(ctx, "C")
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.Average)
}
