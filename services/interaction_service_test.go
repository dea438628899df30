package services

import (
	"context"
	"fmt"
	"testing"

	"bookswap_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRecordInteractionKeepsLatestType(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedListing(t, db, "10", "A", models.TransactionTypeExchange)

	svc := NewInteractionService(db)
	ctx := testContext(t)

	first, err := svc.RecordInteraction(ctx, "B", "10", models.InteractionLike)
	require.NoError(t, err)
	assert.Equal(t, models.InteractionLike, first.Type)

	second, err := svc.RecordInteraction(ctx, "B", "10", models.InteractionDislike)
	require.NoError(t, err)
	assert.Equal(t, models.InteractionDislike, second.Type)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, int64(1), countRows(t, db, &models.UserPublishedBookInteraction{}, "user_id = ? AND published_book_id = ?", "B", "10"))
}

func TestRecordInteractionValidation(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedListing(t, db, "10", "A", models.TransactionTypeGift)
	svc := NewInteractionService(db)

	_, err := svc.RecordInteraction(testContext(t), "B", "10", "love")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.RecordInteraction(testContext(t), "B", "missing", models.InteractionLike)
	assert.ErrorIs(t, err, ErrNotFound)
}

// 任意顺序的喜欢/不喜欢之后，每个 (用户, 发布) 只剩一行且类型为最后一次
func TestRecordInteractionIdempotentProperty(t *testing.T) {
	db := newTestDB(t)
	owner := seedUser(t, db, "owner")
	listings := []string{"L1", "L2", "L3"}
	for _, id := range listings {
		seedListing(t, db, id, owner.ID, models.TransactionTypeExchange)
	}
	svc := NewInteractionService(db)
	iteration := 0

	rapid.Check(t, func(rt *rapid.T) {
		iteration++
		user := fmt.Sprintf("u%d", iteration)
		listing := rapid.SampledFrom(listings).Draw(rt, "listing")
		calls := rapid.SliceOfN(rapid.Bool(), 1, 8).Draw(rt, "liked")

		for _, liked := range calls {
			kind := models.InteractionDislike
			if liked {
				kind = models.InteractionLike
			}
			if _, err := svc.RecordInteraction(context.Background(), user, listing, kind); err != nil {
				rt.Fatalf("record: %v", err)
			}
		}

		var rows []models.UserPublishedBookInteraction
		if err := db.Where("user_id = ? AND published_book_id = ?", user, listing).Find(&rows).Error; err != nil {
			rt.Fatalf("query: %v", err)
		}
		if len(rows) != 1 {
			rt.Fatalf("expected exactly one row, got %d", len(rows))
		}
		want := models.InteractionDislike
		if calls[len(calls)-1] {
			want = models.InteractionLike
		}
		if rows[0].Type != want {
			rt.Fatalf("type = %s, want %s", rows[0].Type, want)
		}
	})
}

func TestGetLikedListings(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedListing(t, db, "10", "A", models.TransactionTypeExchange)
	seedListing(t, db, "11", "A", models.TransactionTypeSale)
	svc := NewInteractionService(db)

	seedLike(t, db, "B", "10")
	_, err := svc.RecordInteraction(testContext(t), "B", "11", models.InteractionDislike)
	require.NoError(t, err)

	liked, err := svc.GetLikedListings(testContext(t), "B")
	require.NoError(t, err)
	require.Len(t, liked, 1)
	assert.Equal(t, "10", liked[0].ID)
	require.NotNil(t, liked[0].Book)
	assert.Equal(t, "Title 10", liked[0].Book.Title)
}
