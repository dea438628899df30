package services

import (
	"context"
	"fmt"

	"bookswap_go/logger"
	"bookswap_go/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MatchBookService 匹配与具体发布的绑定
type MatchBookService struct {
	db *gorm.DB
}

// NewMatchBookService 创建绑定服务实例
func NewMatchBookService(db *gorm.DB) *MatchBookService {
	return &MatchBookService{db: db}
}

// PopulateOptions 回填选项
type PopulateOptions struct {
	// AllowAmbiguous 某一方有多个交换类发布时取最新的一个（仅一次性迁移使用）
	AllowAmbiguous bool
	DryRun         bool
}

// PopulateDecision 单方的回填决定
type PopulateDecision struct {
	UserID          string   `json:"user_id"`
	PublishedBookID string   `json:"published_book_id,omitempty"`
	Candidates      []string `json:"candidates"`
	Guessed         bool     `json:"guessed"`
}

// PopulateResult 回填结果
type PopulateResult struct {
	MatchID         string             `json:"match_id"`
	AlreadyBound    bool               `json:"already_bound"`
	Decisions       []PopulateDecision `json:"decisions"`
	BooksBound      int                `json:"books_bound"`
	AmbiguousUserID string             `json:"ambiguous_user_id,omitempty"`
}

// AddBookToMatch 把请求者自己的发布绑定到匹配上
func (s *MatchBookService) AddBookToMatch(ctx context.Context, matchID, publishedBookID, requestingUserID string) (*models.MatchBook, error) {
	var binding *models.MatchBook

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 匹配存在且请求者是参与者
		var match models.Match
		if err := tx.First(&match, "id = ?", matchID).Error; err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
			}
			return fmt.Errorf("load match: %w", err)
		}
		if !match.HasUser(requestingUserID) {
			return fmt.Errorf("%w: not a participant of this match", ErrForbidden)
		}
		if match.IsCompleted() {
			return fmt.Errorf("%w: match already completed", ErrConflict)
		}

		// 2. 发布存在且属于请求者
		var listing models.PublishedBook
		if err := tx.First(&listing, "id = ?", publishedBookID).Error; err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: published book %s", ErrNotFound, publishedBookID)
			}
			return fmt.Errorf("load published book: %w", err)
		}
		if listing.UserID != requestingUserID {
			return fmt.Errorf("%w: published book does not belong to you", ErrForbidden)
		}

		// 3. 创建绑定，(match_id, published_book_id) 唯一
		binding = &models.MatchBook{
			MatchID:         matchID,
			PublishedBookID: publishedBookID,
			UserID:          requestingUserID,
		}
		if err := tx.Create(binding).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: book already bound to this match", ErrConflict)
			}
			return fmt.Errorf("create match book: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// GetMatchBooks 获取匹配绑定的全部发布（含书目和用户）
func (s *MatchBookService) GetMatchBooks(ctx context.Context, matchID string) ([]models.MatchBook, error) {
	return getMatchBooks(s.db.WithContext(ctx), matchID)
}

func getMatchBooks(db *gorm.DB, matchID string) ([]models.MatchBook, error) {
	var books []models.MatchBook
	err := db.
		Preload("PublishedBook.Book").
		Preload("PublishedBook.User").
		Preload("User").
		Where("match_id = ?", matchID).
		Order("created_at ASC").
		Find(&books).Error
	if err != nil {
		return nil, fmt.Errorf("list match books: %w", err)
	}
	return books, nil
}

// RemoveBookFromMatch 解除绑定，只有绑定者本人可以操作
func (s *MatchBookService) RemoveBookFromMatch(ctx context.Context, matchID, publishedBookID, requestingUserID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := tx.First(&match, "id = ?", matchID).Error; err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
			}
			return fmt.Errorf("load match: %w", err)
		}
		if !match.HasUser(requestingUserID) {
			return fmt.Errorf("%w: not a participant of this match", ErrForbidden)
		}
		if match.IsCompleted() {
			return fmt.Errorf("%w: match already completed", ErrConflict)
		}

		var binding models.MatchBook
		if err := tx.Where("match_id = ? AND published_book_id = ?", matchID, publishedBookID).First(&binding).Error; err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: book is not bound to this match", ErrNotFound)
			}
			return fmt.Errorf("load match book: %w", err)
		}
		if binding.UserID != requestingUserID {
			return fmt.Errorf("%w: only the owner can unbind this book", ErrForbidden)
		}
		return tx.Delete(&binding).Error
	})
}

// UnboundMatchIDs 没有任何绑定书的进行中匹配，按创建时间排序
func (s *MatchBookService) UnboundMatchIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Match{}).
		Where("status = ?", models.MatchStatusActive).
		Where("NOT EXISTS (?)", s.db.Model(&models.MatchBook{}).Select("1").Where("match_books.match_id = matches.id")).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list unbound matches: %w", err)
	}
	return ids, nil
}

// PopulateExistingMatch 为没有绑定书的历史匹配回填绑定
// 每一方取交换类发布：只有一个时直接绑定；多个时严格模式返回 ErrAmbiguousBinding，
// AllowAmbiguous 模式取最新发布的一个并在结果中标记为猜测
func (s *MatchBookService) PopulateExistingMatch(ctx context.Context, matchID string, opts PopulateOptions) (*PopulateResult, error) {
	result := &PopulateResult{MatchID: matchID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := tx.First(&match, "id = ?", matchID).Error; err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
			}
			return fmt.Errorf("load match: %w", err)
		}

		var bound int64
		if err := tx.Model(&models.MatchBook{}).Where("match_id = ?", matchID).Count(&bound).Error; err != nil {
			return fmt.Errorf("count match books: %w", err)
		}
		if bound > 0 {
			result.AlreadyBound = true
			return nil
		}

		var toCreate []models.MatchBook
		for _, userID := range []string{match.UserID1, match.UserID2} {
			var candidates []models.PublishedBook
			err := tx.Select("id").
				Where("user_id = ? AND transaction_type = ? AND status = ?",
					userID, models.TransactionTypeExchange, models.ListingStatusAvailable).
				Order("created_at DESC").
				Find(&candidates).Error
			if err != nil {
				return fmt.Errorf("list exchange listings: %w", err)
			}

			decision := PopulateDecision{UserID: userID, Candidates: make([]string, 0, len(candidates))}
			for _, c := range candidates {
				decision.Candidates = append(decision.Candidates, c.ID)
			}

			switch {
			case len(candidates) == 0:
			case len(candidates) > 1 && !opts.AllowAmbiguous:
				result.AmbiguousUserID = userID
				result.Decisions = append(result.Decisions, decision)
				return fmt.Errorf("%w: user %s has %d exchange listings", ErrAmbiguousBinding, userID, len(candidates))
			default:
				decision.PublishedBookID = candidates[0].ID
				decision.Guessed = len(candidates) > 1
				toCreate = append(toCreate, models.MatchBook{
					MatchID:         matchID,
					PublishedBookID: candidates[0].ID,
					UserID:          userID,
				})
			}
			result.Decisions = append(result.Decisions, decision)
		}

		if len(toCreate) == 0 || opts.DryRun {
			return nil
		}
		if err := tx.Create(&toCreate).Error; err != nil {
			return fmt.Errorf("create match books: %w", err)
		}
		result.BooksBound = len(toCreate)
		return nil
	})
	if err != nil {
		return result, err
	}

	if result.BooksBound > 0 {
		logger.L().Info("match books populated",
			zap.String("match_id", matchID),
			zap.Int("books_bound", result.BooksBound),
			zap.Bool("allow_ambiguous", opts.AllowAmbiguous))
	}
	return result, nil
}
