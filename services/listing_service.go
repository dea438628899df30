package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookswap_go/logger"
	"bookswap_go/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	listingCacheTTL = 10 * time.Minute
	hotSearchKey    = "search:hot"
)

// PublishListingRequest 发布书籍请求
type PublishListingRequest struct {
	BookID          string           `json:"book_id" binding:"omitempty,max=36"`
	Title           string           `json:"title" binding:"required_without=BookID,max=200"`
	Author          string           `json:"author" binding:"max=100"`
	ISBN            string           `json:"isbn" binding:"omitempty,isbn"`
	Category        string           `json:"category" binding:"max=50"`
	CoverImage      string           `json:"cover_image" binding:"omitempty,url"`
	TransactionType string           `json:"transaction_type" binding:"required,txtype"`
	Condition       string           `json:"condition" binding:"omitempty,condition"`
	Location        string           `json:"location" binding:"max=100"`
	Price           *decimal.Decimal `json:"price"`
	Description     string           `json:"description" binding:"max=2000"`
}

// UpdateListingRequest 更新发布请求，空字段不修改
type UpdateListingRequest struct {
	TransactionType string           `json:"transaction_type" binding:"omitempty,txtype"`
	Condition       string           `json:"condition" binding:"omitempty,condition"`
	Location        string           `json:"location" binding:"max=100"`
	Price           *decimal.Decimal `json:"price"`
	Description     *string          `json:"description" binding:"omitempty,max=2000"`
	Status          string           `json:"status" binding:"omitempty,oneof=available reserved"`
}

// ListingFilter 发布列表筛选
type ListingFilter struct {
	TransactionType string
	Status          string
	OwnerID         string
	Keyword         string
	Location        string
	Page            int
	Limit           int
}

func (f *ListingFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
}

// SearchResult 搜索结果
type SearchResult struct {
	Query    string                 `json:"query"`
	Listings []models.PublishedBook `json:"listings"`
	Users    []models.UserBrief     `json:"users"`
	Total    int                    `json:"total"`
}

// HotKeyword 热门搜索词
type HotKeyword struct {
	Keyword string  `json:"keyword"`
	Score   float64 `json:"score"`
}

// ListingService 书籍发布服务
type ListingService struct {
	db     *gorm.DB
	rdb    *redis.Client
	events *EventPublisher
}

// NewListingService 创建发布服务实例，rdb 为 nil 时不使用缓存
func NewListingService(db *gorm.DB, rdb *redis.Client, events *EventPublisher) *ListingService {
	return &ListingService{db: db, rdb: rdb, events: events}
}

// ==================== 发布 / 修改 / 下架 ====================

// PublishListing 发布一本书；书目按 ISBN 或 书名+作者 复用
func (ls *ListingService) PublishListing(ctx context.Context, userID string, req *PublishListingRequest) (*models.PublishedBook, error) {
	// 1. 校验类型与价格
	if !models.IsValidTransactionType(req.TransactionType) {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, req.TransactionType)
	}
	price, err := listingPrice(req.TransactionType, req.Price)
	if err != nil {
		return nil, err
	}

	listing := &models.PublishedBook{
		UserID:          userID,
		TransactionType: req.TransactionType,
		Condition:       req.Condition,
		Location:        req.Location,
		Price:           price,
		Description:     req.Description,
		Status:          models.ListingStatusAvailable,
	}

	err = ls.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 2. 查找或创建书目
		book, err := ls.resolveBook(tx, req)
		if err != nil {
			return err
		}
		listing.BookID = book.ID
		listing.Book = book

		// 3. 创建发布
		if err := tx.Omit("Book", "User").Create(listing).Error; err != nil {
			return fmt.Errorf("create published book: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ls.events.Publish(ctx, StreamListingEvents, "listing.published", map[string]interface{}{
		"published_book_id": listing.ID,
		"user_id":           userID,
		"transaction_type":  listing.TransactionType,
	})
	return listing, nil
}

// listingPrice 出售必须有正价格，其他类型不保存价格
func listingPrice(transactionType string, price *decimal.Decimal) (decimal.NullDecimal, error) {
	if transactionType != models.TransactionTypeSale {
		return decimal.NullDecimal{}, nil
	}
	if price == nil || !price.IsPositive() {
		return decimal.NullDecimal{}, fmt.Errorf("%w: sale listings require a positive price", ErrInvalidInput)
	}
	return decimal.NewNullDecimal(price.Round(2)), nil
}

func (ls *ListingService) resolveBook(tx *gorm.DB, req *PublishListingRequest) (*models.Book, error) {
	var book models.Book
	if req.BookID != "" {
		if err := tx.First(&book, "id = ?", req.BookID).Error; err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%w: book %s", ErrNotFound, req.BookID)
			}
			return nil, fmt.Errorf("load book: %w", err)
		}
		return &book, nil
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	query := tx.Where("title = ? AND author = ?", title, strings.TrimSpace(req.Author))
	if req.ISBN != "" {
		query = tx.Where("isbn = ?", req.ISBN)
	}
	err := query.First(&book).Error
	if err == nil {
		return &book, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("load book: %w", err)
	}

	book = models.Book{
		Title:       title,
		Author:      strings.TrimSpace(req.Author),
		ISBN:        req.ISBN,
		Category:    req.Category,
		Description: req.Description,
		CoverImage:  req.CoverImage,
	}
	if err := tx.Create(&book).Error; err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	return &book, nil
}

func (ls *ListingService) loadOwned(db *gorm.DB, listingID, userID string) (*models.PublishedBook, error) {
	var listing models.PublishedBook
	if err := db.First(&listing, "id = ?", listingID).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: published book %s", ErrNotFound, listingID)
		}
		return nil, fmt.Errorf("load published book: %w", err)
	}
	if listing.UserID != userID {
		return nil, fmt.Errorf("%w: not the owner of this book", ErrForbidden)
	}
	return &listing, nil
}

// UpdateListing 修改发布，仅发布者可操作，已售出后不可修改
func (ls *ListingService) UpdateListing(ctx context.Context, userID, listingID string, req *UpdateListingRequest) (*models.PublishedBook, error) {
	db := ls.db.WithContext(ctx)
	listing, err := ls.loadOwned(db, listingID, userID)
	if err != nil {
		return nil, err
	}
	if listing.Status == models.ListingStatusSold || listing.Status == models.ListingStatusWithdrawn {
		return nil, fmt.Errorf("%w: published book is %s", ErrConflict, listing.Status)
	}

	updates := map[string]interface{}{}
	transactionType := listing.TransactionType
	if req.TransactionType != "" {
		transactionType = req.TransactionType
		updates["transaction_type"] = transactionType
	}
	if req.Price != nil || req.TransactionType != "" {
		p := req.Price
		if p == nil && listing.Price.Valid {
			p = &listing.Price.Decimal
		}
		price, err := listingPrice(transactionType, p)
		if err != nil {
			return nil, err
		}
		updates["price"] = price
	}
	if req.Condition != "" {
		updates["condition"] = req.Condition
	}
	if req.Location != "" {
		updates["location"] = req.Location
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Status != "" {
		updates["status"] = req.Status
	}
	if len(updates) == 0 {
		return ls.loadListing(db, listingID)
	}

	if err := db.Model(listing).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update published book: %w", err)
	}
	ls.evict(ctx, listingID)
	return ls.loadListing(db, listingID)
}

// WithdrawListing 下架发布；被匹配或支付引用过的只改状态，否则软删除
func (ls *ListingService) WithdrawListing(ctx context.Context, userID, listingID string) error {
	db := ls.db.WithContext(ctx)
	listing, err := ls.loadOwned(db, listingID, userID)
	if err != nil {
		return err
	}
	if listing.Status == models.ListingStatusSold {
		return fmt.Errorf("%w: sold books cannot be withdrawn", ErrConflict)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&models.MatchBook{}).Where("published_book_id = ?", listingID).Count(&refs).Error; err != nil {
			return err
		}
		if refs == 0 {
			if err := tx.Model(&models.Payment{}).Where("published_book_id = ?", listingID).Count(&refs).Error; err != nil {
				return err
			}
		}
		if refs > 0 {
			return tx.Model(listing).Update("status", models.ListingStatusWithdrawn).Error
		}
		return tx.Delete(listing).Error
	})
	if err != nil {
		return fmt.Errorf("withdraw published book: %w", err)
	}
	ls.evict(ctx, listingID)
	ls.events.Publish(ctx, StreamListingEvents, "listing.withdrawn", map[string]interface{}{
		"published_book_id": listingID,
		"user_id":           userID,
	})
	return nil
}

// ==================== 查询 ====================

func (ls *ListingService) loadListing(db *gorm.DB, listingID string) (*models.PublishedBook, error) {
	var listing models.PublishedBook
	if err := db.Preload("Book").Preload("User").First(&listing, "id = ?", listingID).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: published book %s", ErrNotFound, listingID)
		}
		return nil, fmt.Errorf("load published book: %w", err)
	}
	return &listing, nil
}

// GetListing 获取发布详情（Redis缓存10分钟）
func (ls *ListingService) GetListing(ctx context.Context, listingID string) (*models.PublishedBook, error) {
	// 1. 尝试从缓存获取
	if ls.rdb != nil {
		cached, err := ls.rdb.Get(ctx, ListingCacheKey(listingID)).Bytes()
		if err == nil {
			var listing models.PublishedBook
			if json.Unmarshal(cached, &listing) == nil {
				return &listing, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			logger.L().Warn("read listing cache failed", zap.String("id", listingID), zap.Error(err))
		}
	}

	// 2. 从数据库查询
	listing, err := ls.loadListing(ls.db.WithContext(ctx), listingID)
	if err != nil {
		return nil, err
	}

	// 3. 写缓存
	if ls.rdb != nil {
		if data, err := json.Marshal(listing); err == nil {
			ls.rdb.Set(ctx, ListingCacheKey(listingID), data, listingCacheTTL)
		}
	}
	return listing, nil
}

func (ls *ListingService) evict(ctx context.Context, listingID string) {
	if ls.rdb == nil {
		return
	}
	if err := ls.rdb.Del(ctx, ListingCacheKey(listingID)).Err(); err != nil {
		logger.L().Warn("evict listing cache failed", zap.String("id", listingID), zap.Error(err))
	}
}

// ListListings 按条件分页查询发布
func (ls *ListingService) ListListings(ctx context.Context, filter ListingFilter) ([]models.PublishedBook, int64, error) {
	filter.normalize()

	query := ls.db.WithContext(ctx).Model(&models.PublishedBook{}).
		Joins("JOIN books ON books.id = published_books.book_id")
	if filter.TransactionType != "" {
		query = query.Where("published_books.transaction_type = ?", filter.TransactionType)
	}
	if filter.Status != "" {
		query = query.Where("published_books.status = ?", filter.Status)
	}
	if filter.OwnerID != "" {
		query = query.Where("published_books.user_id = ?", filter.OwnerID)
	}
	if filter.Location != "" {
		query = query.Where("published_books.location = ?", filter.Location)
	}
	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		pattern := "%" + kw + "%"
		query = query.Where("books.title LIKE ? OR books.author LIKE ? OR published_books.description LIKE ?",
			pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count published books: %w", err)
	}

	var listings []models.PublishedBook
	if err := query.
		Preload("Book").
		Preload("User").
		Order("published_books.created_at DESC").
		Limit(filter.Limit).
		Offset((filter.Page - 1) * filter.Limit).
		Find(&listings).Error; err != nil {
		return nil, 0, fmt.Errorf("list published books: %w", err)
	}
	return listings, total, nil
}

// GetFeed 滑动推荐：其他用户的可用发布，排除已经表态过的
func (ls *ListingService) GetFeed(ctx context.Context, userID string, limit int) ([]models.PublishedBook, error) {
	if limit < 1 || limit > 50 {
		limit = 20
	}
	db := ls.db.WithContext(ctx)
	seen := db.Model(&models.UserPublishedBookInteraction{}).
		Select("published_book_id").
		Where("user_id = ?", userID)

	var listings []models.PublishedBook
	err := db.Preload("Book").Preload("User").
		Where("status = ? AND user_id <> ?", models.ListingStatusAvailable, userID).
		Where("id NOT IN (?)", seen).
		Order("created_at DESC").
		Limit(limit).
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}
	return listings, nil
}

// Search 并发搜索可用发布和用户，并记录热门关键词
func (ls *ListingService) Search(ctx context.Context, keyword string, limit int) (*SearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrInvalidInput)
	}
	if limit < 1 || limit > 50 {
		limit = 20
	}

	result := &SearchResult{Query: keyword}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		listings, _, err := ls.ListListings(gctx, ListingFilter{
			Status:  models.ListingStatusAvailable,
			Keyword: keyword,
			Limit:   limit,
		})
		result.Listings = listings
		return err
	})
	g.Go(func() error {
		var users []models.User
		pattern := "%" + keyword + "%"
		err := ls.db.WithContext(gctx).
			Where("status = ?", models.UserStatusActive).
			Where("username LIKE ? OR bio LIKE ?", pattern, pattern).
			Limit(limit).
			Find(&users).Error
		if err != nil {
			return fmt.Errorf("search users: %w", err)
		}
		result.Users = make([]models.UserBrief, len(users))
		for i := range users {
			result.Users[i] = users[i].Brief()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result.Total = len(result.Listings) + len(result.Users)

	if ls.rdb != nil {
		pipe := ls.rdb.Pipeline()
		pipe.ZIncrBy(ctx, hotSearchKey, 1, strings.ToLower(keyword))
		pipe.Expire(ctx, hotSearchKey, 24*time.Hour)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.L().Warn("record hot keyword failed", zap.Error(err))
		}
	}
	return result, nil
}

// HotKeywords 热门搜索词
func (ls *ListingService) HotKeywords(ctx context.Context, n int) ([]HotKeyword, error) {
	if ls.rdb == nil {
		return []HotKeyword{}, nil
	}
	if n < 1 {
		n = 10
	}
	zs, err := ls.rdb.ZRevRangeWithScores(ctx, hotSearchKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load hot keywords: %w", err)
	}
	out := make([]HotKeyword, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, HotKeyword{Keyword: member, Score: z.Score})
	}
	return out, nil
}

// CountByStatus 用户各状态的发布数量
func (ls *ListingService) CountByStatus(ctx context.Context, userID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := ls.db.WithContext(ctx).Model(&models.PublishedBook{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count published books: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
