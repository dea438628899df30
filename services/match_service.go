package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bookswap_go/logger"
	"bookswap_go/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 自动匹配结果原因
const (
	MatchReasonCreated        = "created"
	MatchReasonBookNotFound   = "book_not_found"
	MatchReasonSelfMatch      = "self_match"
	MatchReasonAlreadyMatched = "already_matched"
	MatchReasonNoMutualLike   = "no_mutual_like"
)

// TriggerInfo 触发匹配的信息
type TriggerInfo struct {
	BooksCount       int    `json:"books_count"`
	TriggerBookID    string `json:"trigger_book_id"`
	TriggerBookTitle string `json:"trigger_book_title"`
}

// AutoMatchResult 自动匹配的业务结果；基础设施错误通过 error 返回
type AutoMatchResult struct {
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	Reason      string        `json:"reason"`
	Match       *models.Match `json:"match,omitempty"`
	TriggerInfo *TriggerInfo  `json:"trigger_info,omitempty"`
}

type matchMetadata struct {
	Source           string            `json:"source"`
	TriggerBookID    string            `json:"trigger_book_id,omitempty"`
	TriggerBookTitle string            `json:"trigger_book_title,omitempty"`
	ReciprocalBooks  []metadataBookRef `json:"reciprocal_books,omitempty"`
	CreatedBy        string            `json:"created_by,omitempty"`
}

type metadataBookRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MatchService 匹配服务
type MatchService struct {
	db     *gorm.DB
	events *EventPublisher
}

// NewMatchService 创建匹配服务实例
func NewMatchService(db *gorm.DB, events *EventPublisher) *MatchService {
	return &MatchService{db: db, events: events}
}

func rejected(reason, message string) *AutoMatchResult {
	return &AutoMatchResult{Success: false, Reason: reason, Message: message}
}

// CheckAndCreateAutoMatch 用户喜欢某个发布后，检查发布者是否也喜欢过该用户的书，是则创建匹配
func (s *MatchService) CheckAndCreateAutoMatch(ctx context.Context, likerID, likedPublishedBookID string) (*AutoMatchResult, error) {
	db := s.db.WithContext(ctx)

	// 1. 查找被喜欢的发布
	var liked models.PublishedBook
	if err := db.Preload("Book").First(&liked, "id = ?", likedPublishedBookID).Error; err != nil {
		if isNotFound(err) {
			return rejected(MatchReasonBookNotFound, "published book not found"), nil
		}
		return nil, fmt.Errorf("load published book: %w", err)
	}
	ownerID := liked.UserID

	// 2. 不能和自己匹配
	if ownerID == likerID {
		return rejected(MatchReasonSelfMatch, "cannot match with yourself"), nil
	}

	// 3. 已存在匹配（任意顺序）
	existing, err := s.findByPair(db, likerID, ownerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result := rejected(MatchReasonAlreadyMatched, "users are already matched")
		result.Match = existing
		return result, nil
	}

	// 4. 互相喜欢：发布者喜欢过的、属于喜欢者的发布
	reciprocal, err := listingsLikedBy(db, ownerID, likerID)
	if err != nil {
		return nil, fmt.Errorf("reciprocity check: %w", err)
	}
	if len(reciprocal) == 0 {
		return rejected(MatchReasonNoMutualLike, "no mutual like yet"), nil
	}

	// 5. 创建匹配，pair_key 唯一索引保证并发下只创建一次
	meta := matchMetadata{
		Source:           models.MatchTypeAuto,
		TriggerBookID:    liked.ID,
		TriggerBookTitle: liked.Title(),
	}
	for _, book := range reciprocal {
		meta.ReciprocalBooks = append(meta.ReciprocalBooks, metadataBookRef{ID: book.ID, Title: book.Title()})
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal match metadata: %w", err)
	}

	match := &models.Match{
		UserID1:   likerID,
		UserID2:   ownerID,
		MatchType: models.MatchTypeAuto,
		Metadata:  datatypes.JSON(rawMeta),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(match).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			existing, findErr := s.findByPair(db, likerID, ownerID)
			if findErr != nil {
				return nil, findErr
			}
			result := rejected(MatchReasonAlreadyMatched, "users are already matched")
			result.Match = existing
			return result, nil
		}
		return nil, fmt.Errorf("create match: %w", err)
	}

	// 6. 重新加载双方用户信息
	if err := db.Preload("User1").Preload("User2").First(match, "id = ?", match.ID).Error; err != nil {
		return nil, fmt.Errorf("reload match: %w", err)
	}

	logger.L().Info("auto match created",
		zap.String("match_id", match.ID),
		zap.String("liker_id", likerID),
		zap.String("owner_id", ownerID),
		zap.Int("reciprocal_books", len(reciprocal)))

	s.events.Publish(ctx, StreamMatchEvents, "match.created", map[string]interface{}{
		"match_id":   match.ID,
		"user_id_1":  match.UserID1,
		"user_id_2":  match.UserID2,
		"match_type": match.MatchType,
	})
	s.events.Notify(ctx, "match_created", map[string]interface{}{
		"match_id":           match.ID,
		"trigger_book_title": liked.Title(),
	}, match.UserID1, match.UserID2)

	return &AutoMatchResult{
		Success: true,
		Reason:  MatchReasonCreated,
		Message: "it's a match",
		Match:   match,
		TriggerInfo: &TriggerInfo{
			BooksCount:       len(reciprocal),
			TriggerBookID:    liked.ID,
			TriggerBookTitle: liked.Title(),
		},
	}, nil
}

// CreateManualMatch 手动创建匹配，已存在时返回 ErrConflict
func (s *MatchService) CreateManualMatch(ctx context.Context, userID, targetUserID string) (*models.Match, error) {
	if targetUserID == "" {
		return nil, fmt.Errorf("%w: target_user_id is required", ErrInvalidInput)
	}
	if userID == targetUserID {
		return nil, fmt.Errorf("%w: cannot match with yourself", ErrInvalidInput)
	}

	db := s.db.WithContext(ctx)

	var target models.User
	if err := db.Select("id").First(&target, "id = ?", targetUserID).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, targetUserID)
		}
		return nil, fmt.Errorf("load target user: %w", err)
	}

	rawMeta, _ := json.Marshal(matchMetadata{Source: models.MatchTypeManual, CreatedBy: userID})
	match := &models.Match{
		UserID1:   userID,
		UserID2:   targetUserID,
		MatchType: models.MatchTypeManual,
		Metadata:  datatypes.JSON(rawMeta),
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(match).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: match already exists for this pair", ErrConflict)
		}
		return nil, fmt.Errorf("create match: %w", err)
	}

	if err := db.Preload("User1").Preload("User2").First(match, "id = ?", match.ID).Error; err != nil {
		return nil, fmt.Errorf("reload match: %w", err)
	}

	s.events.Publish(ctx, StreamMatchEvents, "match.created", map[string]interface{}{
		"match_id":   match.ID,
		"user_id_1":  match.UserID1,
		"user_id_2":  match.UserID2,
		"match_type": match.MatchType,
	})
	s.events.Notify(ctx, "match_created", map[string]interface{}{"match_id": match.ID}, targetUserID)

	return match, nil
}

// GetUserMatches 获取用户的全部匹配
func (s *MatchService) GetUserMatches(ctx context.Context, userID string) ([]models.Match, error) {
	var matches []models.Match
	err := s.db.WithContext(ctx).
		Preload("User1").
		Preload("User2").
		Preload("MatchBooks.PublishedBook.Book").
		Where("user_id_1 = ? OR user_id_2 = ?", userID, userID).
		Order("created_at DESC").
		Find(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return matches, nil
}

// GetMatch 获取匹配详情，非参与者视为不存在
func (s *MatchService) GetMatch(ctx context.Context, matchID, userID string) (*models.Match, error) {
	var match models.Match
	err := s.db.WithContext(ctx).
		Preload("User1").
		Preload("User2").
		Preload("MatchBooks.PublishedBook.Book").
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

// DeleteMatch 删除匹配及其绑定的书，已完成的匹配不能删除
func (s *MatchService) DeleteMatch(ctx context.Context, matchID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var match models.Match
		err := tx.Where("id = ? AND (user_id_1 = ? OR user_id_2 = ?)", matchID, userID, userID).First(&match).Error
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
			}
			return fmt.Errorf("load match: %w", err)
		}
		if match.IsCompleted() {
			return fmt.Errorf("%w: completed matches cannot be deleted", ErrConflict)
		}

		if err := tx.Where("match_id = ?", matchID).Delete(&models.MatchBook{}).Error; err != nil {
			return fmt.Errorf("delete match books: %w", err)
		}
		if err := tx.Delete(&match).Error; err != nil {
			return fmt.Errorf("delete match: %w", err)
		}
		return nil
	})
}

// findByPair 查找无序用户对的匹配
func (s *MatchService) findByPair(db *gorm.DB, userA, userB string) (*models.Match, error) {
	var match models.Match
	err := db.Where("pair_key = ?", models.PairKey(userA, userB)).First(&match).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find match by pair: %w", err)
	}
	return &match, nil
}
