package services

import (
	"testing"

	"bookswap_go/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishListing(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	svc := NewListingService(db, nil, nil)
	ctx := testContext(t)

	price := decimal.RequireFromString("20.456")
	sale, err := svc.PublishListing(ctx, "A", &PublishListingRequest{
		Title: "Go in Action", Author: "Kennedy", TransactionType: models.TransactionTypeSale, Price: &price,
	})
	require.NoError(t, err)
	assert.True(t, sale.Price.Valid)
	assert.Equal(t, "20.46", sale.Price.Decimal.StringFixed(2))
	assert.Equal(t, models.ListingStatusAvailable, sale.Status)

	// 同一本书复用书目，非出售类型忽略价格
	gift, err := svc.PublishListing(ctx, "B", &PublishListingRequest{
		Title: "Go in Action", Author: "Kennedy", TransactionType: models.TransactionTypeGift, Price: &price,
	})
	require.NoError(t, err)
	assert.Equal(t, sale.BookID, gift.BookID)
	assert.False(t, gift.Price.Valid)
	assert.Equal(t, int64(1), countRows(t, db, &models.Book{}, ""))

	_, err = svc.PublishListing(ctx, "A", &PublishListingRequest{Title: "X", TransactionType: models.TransactionTypeSale})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.PublishListing(ctx, "A", &PublishListingRequest{Title: "X", TransactionType: "swap"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.PublishListing(ctx, "A", &PublishListingRequest{BookID: "missing", TransactionType: models.TransactionTypeGift})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateListing(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedListing(t, db, "10", "A", models.TransactionTypeExchange)
	svc := NewListingService(db, nil, nil)
	ctx := testContext(t)

	_, err := svc.UpdateListing(ctx, "B", "10", &UpdateListingRequest{Condition: "fair"})
	assert.ErrorIs(t, err, ErrForbidden)

	// 改为出售必须给价格
	_, err = svc.UpdateListing(ctx, "A", "10", &UpdateListingRequest{TransactionType: models.TransactionTypeSale})
	assert.ErrorIs(t, err, ErrInvalidInput)

	price := decimal.NewFromInt(8)
	updated, err := svc.UpdateListing(ctx, "A", "10", &UpdateListingRequest{TransactionType: models.TransactionTypeSale, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeSale, updated.TransactionType)
	assert.True(t, updated.Price.Decimal.Equal(price))
	require.NotNil(t, updated.Book)

	require.NoError(t, db.Model(&models.PublishedBook{}).Where("id = ?", "10").Update("status", models.ListingStatusSold).Error)
	_, err = svc.UpdateListing(ctx, "A", "10", &UpdateListingRequest{Condition: "fair"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestWithdrawListing(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedListing(t, db, "10", "A", models.TransactionTypeExchange)
	seedListing(t, db, "11", "A", models.TransactionTypeExchange)
	seedMatch(t, db, "m1", "A", "B")
	_, err := NewMatchBookService(db).AddBookToMatch(testContext(t), "m1", "11", "A")
	require.NoError(t, err)
	svc := NewListingService(db, nil, nil)
	ctx := testContext(t)

	assert.ErrorIs(t, svc.WithdrawListing(ctx, "B", "10"), ErrForbidden)

	// 未被引用：软删除
	require.NoError(t, svc.WithdrawListing(ctx, "A", "10"))
	_, err = svc.GetListing(ctx, "10")
	assert.ErrorIs(t, err, ErrNotFound)

	// 被匹配引用：只改状态
	require.NoError(t, svc.WithdrawListing(ctx, "A", "11"))
	assert.Equal(t, models.ListingStatusWithdrawn, listingStatus(t, db, "11"))
}

func TestGetListingCache(t *testing.T) {
	db := newTestDB(t)
	mr, rdb := newTestRedis(t)
	seedUser(t, db, "A")
	seedListing(t, db, "10", "A", models.TransactionTypeExchange)
	svc := NewListingService(db, rdb, NewEventPublisher(rdb))
	ctx := testContext(t)

	listing, err := svc.GetListing(ctx, "10")
	require.NoError(t, err)
	assert.Equal(t, "Title 10", listing.Title())
	assert.True(t, mr.Exists(ListingCacheKey("10")))

	// 其他服务改状态后通过事件清除缓存
	NewEventPublisher(rdb).ListingsChanged(ctx, models.ListingStatusSold, "10")
	assert.False(t, mr.Exists(ListingCacheKey("10")))

	_, err = svc.UpdateListing(ctx, "A", "10", &UpdateListingRequest{Location: "Laoshan"})
	require.NoError(t, err)
	assert.False(t, mr.Exists(ListingCacheKey("10")))
}

func TestListListingsAndFeed(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedListing(t, db, "10", "A", models.TransactionTypeExchange)
	seedListing(t, db, "11", "A", models.TransactionTypeSale)
	seedListing(t, db, "20", "B", models.TransactionTypeGift)
	seedLike(t, db, "B", "10")
	svc := NewListingService(db, nil, nil)
	ctx := testContext(t)

	all, total, err := svc.ListListings(ctx, ListingFilter{OwnerID: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	sales, total, err := svc.ListListings(ctx, ListingFilter{TransactionType: models.TransactionTypeSale})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "11", sales[0].ID)

	byTitle, _, err := svc.ListListings(ctx, ListingFilter{Keyword: "Title 2"})
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	assert.Equal(t, "20", byTitle[0].ID)

	feed, err := svc.GetFeed(ctx, "B", 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "11", feed[0].ID)

	counts, err := svc.CountByStatus(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.ListingStatusAvailable])
}

func TestSearchRecordsHotKeywords(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	seedUser(t, db, "A")
	seedListing(t, db, "10", "A", models.TransactionTypeExchange)
	svc := NewListingService(db, rdb, nil)
	ctx := testContext(t)

	result, err := svc.Search(ctx, "Title", 10)
	require.NoError(t, err)
	assert.Len(t, result.Listings, 1)
	_, err = svc.Search(ctx, "user_a", 10)
	require.NoError(t, err)
	_, err = svc.Search(ctx, "title", 10)
	require.NoError(t, err)

	_, err = svc.Search(ctx, "  ", 10)
	assert.ErrorIs(t, err, ErrInvalidInput)

	hot, err := svc.HotKeywords(ctx, 5)
	require.NoError(t, err)
	require.Len(t, hot, 2)
	assert.Equal(t, "title", hot[0].Keyword)
	assert.Equal(t, float64(2), hot[0].Score)
}
