package services

import (
	"testing"

	"bookswap_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBinder(t *testing.T) (*MatchBookService, func(id, owner, kind string) *models.PublishedBook) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedUser(t, db, "C")
	seedMatch(t, db, "m1", "A", "B")
	return NewMatchBookService(db), func(id, owner, kind string) *models.PublishedBook {
		return seedListing(t, db, id, owner, kind)
	}
}

func TestAddBookToMatch(t *testing.T) {
	svc, listing := setupBinder(t)
	listing("10", "A", models.TransactionTypeExchange)
	listing("20", "B", models.TransactionTypeExchange)
	listing("30", "C", models.TransactionTypeExchange)
	ctx := testContext(t)

	binding, err := svc.AddBookToMatch(ctx, "m1", "10", "A")
	require.NoError(t, err)
	assert.Equal(t, "A", binding.UserID)

	// 绑定别人的书
	_, err = svc.AddBookToMatch(ctx, "m1", "20", "A")
	assert.ErrorIs(t, err, ErrForbidden)

	// 非参与者
	_, err = svc.AddBookToMatch(ctx, "m1", "30", "C")
	assert.ErrorIs(t, err, ErrForbidden)

	// 重复绑定是业务冲突，不是原始约束错误
	_, err = svc.AddBookToMatch(ctx, "m1", "10", "A")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.AddBookToMatch(ctx, "missing", "10", "A")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.AddBookToMatch(ctx, "m1", "missing", "A")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.AddBookToMatch(ctx, "m1", "20", "B")
	require.NoError(t, err)

	books, err := svc.GetMatchBooks(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, books, 2)
	for _, b := range books {
		require.NotNil(t, b.PublishedBook)
		require.NotNil(t, b.PublishedBook.Book)
		require.NotNil(t, b.User)
		assert.Equal(t, b.UserID, b.PublishedBook.UserID)
	}
}

func TestRemoveBookFromMatch(t *testing.T) {
	svc, listing := setupBinder(t)
	listing("10", "A", models.TransactionTypeExchange)
	ctx := testContext(t)

	_, err := svc.AddBookToMatch(ctx, "m1", "10", "A")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RemoveBookFromMatch(ctx, "m1", "10", "B"), ErrForbidden)
	require.NoError(t, svc.RemoveBookFromMatch(ctx, "m1", "10", "A"))
	assert.ErrorIs(t, svc.RemoveBookFromMatch(ctx, "m1", "10", "A"), ErrNotFound)
}

func TestPopulateExistingMatchBindsSingleCandidates(t *testing.T) {
	svc, listing := setupBinder(t)
	listing("10", "A", models.TransactionTypeExchange)
	listing("11", "A", models.TransactionTypeSale)
	listing("20", "B", models.TransactionTypeExchange)

	result, err := svc.PopulateExistingMatch(testContext(t), "m1", PopulateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.BooksBound)
	require.Len(t, result.Decisions, 2)
	assert.Equal(t, "10", result.Decisions[0].PublishedBookID)
	assert.Equal(t, "20", result.Decisions[1].PublishedBookID)

	// 已有绑定时不再变化
	again, err := svc.PopulateExistingMatch(testContext(t), "m1", PopulateOptions{})
	require.NoError(t, err)
	assert.True(t, again.AlreadyBound)
	assert.Zero(t, again.BooksBound)
}

func TestPopulateExistingMatchStrictRefusesAmbiguity(t *testing.T) {
	svc, listing := setupBinder(t)
	listing("10", "A", models.TransactionTypeExchange)
	listing("12", "A", models.TransactionTypeExchange)
	listing("20", "B", models.TransactionTypeExchange)

	result, err := svc.PopulateExistingMatch(testContext(t), "m1", PopulateOptions{})
	assert.ErrorIs(t, err, ErrAmbiguousBinding)
	assert.Equal(t, "A", result.AmbiguousUserID)

	books, err := svc.GetMatchBooks(testContext(t), "m1")
	require.NoError(t, err)
	assert.Empty(t, books)

	dry, err := svc.PopulateExistingMatch(testContext(t), "m1", PopulateOptions{AllowAmbiguous: true, DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, dry.BooksBound)
	assert.True(t, dry.Decisions[0].Guessed)

	guessed, err := svc.PopulateExistingMatch(testContext(t), "m1", PopulateOptions{AllowAmbiguous: true})
	require.NoError(t, err)
	assert.Equal(t, 2, guessed.BooksBound)
	assert.Contains(t, []string{"10", "12"}, guessed.Decisions[0].PublishedBookID)
}

func TestPopulateExistingMatchWithoutCandidates(t *testing.T) {
	svc, listing := setupBinder(t)
	listing("10", "A", models.TransactionTypeGift)

	result, err := svc.PopulateExistingMatch(testContext(t), "m1", PopulateOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.BooksBound)
}

func TestUnboundMatchIDs(t *testing.T) {
	svc, listing := setupBinder(t)
	seedMatch(t, svc.db, "m2", "A", "C")
	listing("10", "A", models.TransactionTypeExchange)

	ids, err := svc.UnboundMatchIDs(testContext(t))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids)

	_, err = svc.AddBookToMatch(testContext(t), "m1", "10", "A")
	require.NoError(t, err)

	ids, err = svc.UnboundMatchIDs(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids)
}
