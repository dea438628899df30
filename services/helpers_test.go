package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"bookswap_go/config"
	"bookswap_go/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testContext 返回在测试结束时取消的上下文（等价于 Go 1.24 的 testContext(t)）
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// newTestDB 为每个测试创建独立的内存SQLite数据库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig(false))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func seedUser(t *testing.T, db *gorm.DB, id string) *models.User {
	t.Helper()
	user := &models.User{
		ID:       id,
		Username: "user_" + strings.ToLower(id),
		Email:    strings.ToLower(id) + "@example.com",
		Password: "x",
		Location: "Qingdao",
		Status:   models.UserStatusActive,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedListing(t *testing.T, db *gorm.DB, id, ownerID, transactionType string) *models.PublishedBook {
	t.Helper()
	book := &models.Book{ID: "book-" + id, Title: "Title " + id, Author: "Author " + id}
	require.NoError(t, db.Create(book).Error)

	listing := &models.PublishedBook{
		ID:              id,
		BookID:          book.ID,
		UserID:          ownerID,
		TransactionType: transactionType,
		Condition:       "good",
		Status:          models.ListingStatusAvailable,
	}
	if transactionType == models.TransactionTypeSale {
		listing.Price = decimal.NewNullDecimal(decimal.RequireFromString("12.50"))
	}
	require.NoError(t, db.Create(listing).Error)
	listing.Book = book
	return listing
}

func seedLike(t *testing.T, db *gorm.DB, userID, listingID string) {
	t.Helper()
	_, err := NewInteractionService(db).RecordInteraction(testContext(t), userID, listingID, models.InteractionLike)
	require.NoError(t, err)
}

func seedMatch(t *testing.T, db *gorm.DB, id, user1, user2 string) *models.Match {
	t.Helper()
	match := &models.Match{ID: id, UserID1: user1, UserID2: user2, MatchType: models.MatchTypeManual}
	require.NoError(t, db.Create(match).Error)
	return match
}

func listingStatus(t *testing.T, db *gorm.DB, id string) string {
	t.Helper()
	var listing models.PublishedBook
	require.NoError(t, db.First(&listing, "id = ?", id).Error)
	return listing.Status
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
