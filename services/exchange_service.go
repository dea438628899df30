package services

import (
	"context"
	"fmt"
	"time"

	"bookswap_go/logger"
	"bookswap_go/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// 交换完成方式
const (
	ExchangeMethodSpecificBooks = "specific_books"
	ExchangeMethodFallback      = "fallback"
)

// ExchangeBook 交换摘要中的书
type ExchangeBook struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author,omitempty"`
	TransactionType string `json:"transaction_type"`
	Status          string `json:"status"`
}

// ExchangeUserSummary 交换中一方的摘要
type ExchangeUserSummary struct {
	UserID         string         `json:"user_id"`
	Username       string         `json:"username"`
	BooksExchanged int            `json:"books_exchanged"`
	Books          []ExchangeBook `json:"books"`
}

// ExchangeSummary 完成交换的返回结果
type ExchangeSummary struct {
	MatchID      string                `json:"match_id"`
	ExchangeID   *string               `json:"exchange_id"`
	Method       string                `json:"method"`
	BooksUpdated int                   `json:"books_updated"`
	TotalBooks   int                   `json:"total_books"`
	CompletedAt  time.Time             `json:"completed_at"`
	Users        []ExchangeUserSummary `json:"users"`
}

// ExchangeInfo 交换展示信息
type ExchangeInfo struct {
	MatchID      string                `json:"match_id"`
	Completed    bool                  `json:"completed"`
	ExchangeID   *string               `json:"exchange_id"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
	Method       string                `json:"method"`
	NeedsBinding bool                  `json:"needs_binding"`
	TotalBooks   int                   `json:"total_books"`
	Users        []ExchangeUserSummary `json:"users"`
}

// ExchangeService 以书换书的完成流程
type ExchangeService struct {
	db     *gorm.DB
	binder *MatchBookService
	events *EventPublisher
}

// NewExchangeService 创建交换服务实例
func NewExchangeService(db *gorm.DB, binder *MatchBookService, events *EventPublisher) *ExchangeService {
	return &ExchangeService{db: db, binder: binder, events: events}
}

// loadParticipantMatch 只返回请求者参与的匹配，非参与者与不存在同样处理
func loadParticipantMatch(db *gorm.DB, matchID, userID string) (*models.Match, error) {
	var match models.Match
	err := db.Preload("User1").Preload("User2").
		Where("id = ? AND (user_id_1 = ? OR user_id_2 = ?)", matchID, userID, userID).
		First(&match).Error
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
		}
		return nil, fmt.Errorf("load match: %w", err)
	}
	return &match, nil
}

// CompleteExchange 完成匹配对应的交换
func (s *ExchangeService) CompleteExchange(ctx context.Context, matchID, requestingUserID string) (*ExchangeSummary, error) {
	db := s.db.WithContext(ctx)

	// 1. 请求者必须是参与者
	match, err := loadParticipantMatch(db, matchID, requestingUserID)
	if err != nil {
		return nil, err
	}

	// 2. 已完成的匹配不能重复完成
	if match.IsCompleted() {
		return nil, fmt.Errorf("%w: exchange already completed for this match", ErrConflict)
	}

	// 3. 取绑定的书，没有时按严格模式尝试回填
	books, err := getMatchBooks(db, matchID)
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		if _, err := s.binder.PopulateExistingMatch(ctx, matchID, PopulateOptions{}); err != nil {
			return nil, err
		}
		if books, err = getMatchBooks(db, matchID); err != nil {
			return nil, err
		}
	}

	summary := &ExchangeSummary{
		MatchID:     matchID,
		Method:      ExchangeMethodFallback,
		CompletedAt: time.Now().UTC(),
		Users:       buildSides(match, books),
	}

	if len(books) == 0 {
		// 4a. 兼容模式：没有可绑定的书，只标记匹配完成
		err = db.Transaction(func(tx *gorm.DB) error {
			return markMatchCompleted(tx, matchID)
		})
		if err != nil {
			return nil, err
		}
	} else {
		// 4b. 指定书籍：创建交换记录并把所有绑定的书标记为已售
		exchange, err := s.completeWithBooks(db, match, books, summary.CompletedAt)
		if err != nil {
			return nil, err
		}
		summary.Method = ExchangeMethodSpecificBooks
		summary.ExchangeID = &exchange.ID
		summary.BooksUpdated = len(books)
		summary.TotalBooks = len(books)
		for i := range summary.Users {
			for j := range summary.Users[i].Books {
				summary.Users[i].Books[j].Status = models.ListingStatusSold
			}
		}
	}

	logger.L().Info("exchange completed",
		zap.String("match_id", matchID),
		zap.String("requested_by", requestingUserID),
		zap.String("method", summary.Method),
		zap.Int("books_updated", summary.BooksUpdated))

	exchangeID := ""
	if summary.ExchangeID != nil {
		exchangeID = *summary.ExchangeID
	}
	s.events.Publish(ctx, StreamExchangeEvents, "exchange.completed", map[string]interface{}{
		"match_id":      matchID,
		"exchange_id":   exchangeID,
		"method":        summary.Method,
		"books_updated": summary.BooksUpdated,
	})
	s.events.Notify(ctx, "exchange_completed", map[string]interface{}{
		"match_id":    matchID,
		"exchange_id": exchangeID,
	}, match.UserID1, match.UserID2)
	if len(books) > 0 {
		ids := make([]string, len(books))
		for i := range books {
			ids[i] = books[i].PublishedBookID
		}
		s.events.ListingsChanged(ctx, models.ListingStatusSold, ids...)
	}

	return summary, nil
}

func (s *ExchangeService) completeWithBooks(db *gorm.DB, match *models.Match, books []models.MatchBook, completedAt time.Time) (*models.Exchange, error) {
	exchange := &models.Exchange{
		MatchID:     match.ID,
		Status:      models.ExchangeStatusCompleted,
		CompletedAt: completedAt,
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := markMatchCompleted(tx, match.ID); err != nil {
			return err
		}

		ids := make([]string, 0, len(books))
		var first1, first2 *models.MatchBook
		for i := range books {
			b := &books[i]
			if b.PublishedBook != nil && b.PublishedBook.Status == models.ListingStatusSold {
				return fmt.Errorf("%w: published book %s is already sold", ErrConflict, b.PublishedBookID)
			}
			ids = append(ids, b.PublishedBookID)
			switch b.UserID {
			case match.UserID1:
				if first1 == nil {
					first1 = b
				}
			case match.UserID2:
				if first2 == nil {
					first2 = b
				}
			}
		}

		// 解析双方的 UserBook 身份
		var err error
		if exchange.UserBookID1, err = resolveUserBook(tx, first1); err != nil {
			return err
		}
		if exchange.UserBookID2, err = resolveUserBook(tx, first2); err != nil {
			return err
		}

		if err := tx.Create(exchange).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: exchange already completed for this match", ErrConflict)
			}
			return fmt.Errorf("create exchange: %w", err)
		}

		// 只有仍可交换的书才能标记为已售，已下架或已售出的让整个交换回滚
		res := tx.Model(&models.PublishedBook{}).
			Where("id IN ? AND status IN ?", ids,
				[]string{models.ListingStatusAvailable, models.ListingStatusReserved}).
			Update("status", models.ListingStatusSold)
		if res.Error != nil {
			return fmt.Errorf("mark books sold: %w", res.Error)
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("%w: some bound books are no longer available", ErrConflict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exchange, nil
}

// markMatchCompleted 条件更新，并发完成时只有一个请求成功
func markMatchCompleted(tx *gorm.DB, matchID string) error {
	res := tx.Model(&models.Match{}).
		Where("id = ? AND status <> ?", matchID, models.MatchStatusCompleted).
		Update("status", models.MatchStatusCompleted)
	if res.Error != nil {
		return fmt.Errorf("mark match completed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: exchange already completed for this match", ErrConflict)
	}
	return nil
}

// resolveUserBook 查找或创建发布对应的 UserBook
func resolveUserBook(tx *gorm.DB, binding *models.MatchBook) (*string, error) {
	if binding == nil || binding.PublishedBook == nil {
		return nil, nil
	}
	userBook := models.UserBook{}
	err := tx.Where(models.UserBook{UserID: binding.UserID, BookID: binding.PublishedBook.BookID}).
		FirstOrCreate(&userBook).Error
	if err != nil {
		return nil, fmt.Errorf("resolve user book: %w", err)
	}
	return &userBook.ID, nil
}

// buildSides 按匹配双方分组，users[0] 总是 user_id_1
func buildSides(match *models.Match, books []models.MatchBook) []ExchangeUserSummary {
	sides := []ExchangeUserSummary{
		{UserID: match.UserID1, Books: []ExchangeBook{}},
		{UserID: match.UserID2, Books: []ExchangeBook{}},
	}
	if match.User1 != nil {
		sides[0].Username = match.User1.Username
	}
	if match.User2 != nil {
		sides[1].Username = match.User2.Username
	}

	for _, b := range books {
		idx := 0
		if b.UserID == match.UserID2 {
			idx = 1
		} else if b.UserID != match.UserID1 {
			continue
		}
		book := ExchangeBook{ID: b.PublishedBookID}
		if b.PublishedBook != nil {
			book.TransactionType = b.PublishedBook.TransactionType
			book.Status = b.PublishedBook.Status
			if b.PublishedBook.Book != nil {
				book.Title = b.PublishedBook.Book.Title
				book.Author = b.PublishedBook.Book.Author
			}
		}
		sides[idx].Books = append(sides[idx].Books, book)
		sides[idx].BooksExchanged++
	}
	return sides
}

// GetExchangeInfo 查看匹配的交换信息（只读，不会触发回填）
func (s *ExchangeService) GetExchangeInfo(ctx context.Context, matchID, userID string) (*ExchangeInfo, error) {
	db := s.db.WithContext(ctx)

	match, err := loadParticipantMatch(db, matchID, userID)
	if err != nil {
		return nil, err
	}

	var (
		books    []models.MatchBook
		exchange []models.Exchange
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		books, err = getMatchBooks(s.db.WithContext(gctx), matchID)
		return err
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Where("match_id = ?", matchID).Limit(1).Find(&exchange).Error
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load exchange info: %w", err)
	}

	info := &ExchangeInfo{
		MatchID:      matchID,
		Completed:    match.IsCompleted(),
		Method:       ExchangeMethodFallback,
		NeedsBinding: len(books) == 0 && !match.IsCompleted(),
		TotalBooks:   len(books),
		Users:        buildSides(match, books),
	}
	if len(books) > 0 {
		info.Method = ExchangeMethodSpecificBooks
	}
	if len(exchange) > 0 {
		info.Completed = true
		info.ExchangeID = &exchange[0].ID
		info.CompletedAt = &exchange[0].CompletedAt
	}
	return info, nil
}
