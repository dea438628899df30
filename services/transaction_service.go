package services

import (
	"context"
	"fmt"
	"time"

	"bookswap_go/models"

	"gorm.io/gorm"
)

// TransactionService 销售交易
type TransactionService struct {
	db     *gorm.DB
	events *EventPublisher
}

// NewTransactionService 创建交易服务实例
func NewTransactionService(db *gorm.DB, events *EventPublisher) *TransactionService {
	return &TransactionService{db: db, events: events}
}

// GetUserTransactions 用户作为买家或卖家的交易
func (s *TransactionService) GetUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := s.db.WithContext(ctx).
		Preload("PublishedBook.Book").
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return transactions, nil
}

// GetTransaction 获取交易详情，非交易方视为不存在
func (s *TransactionService) GetTransaction(ctx context.Context, transactionID, userID string) (*models.Transaction, error) {
	var transaction models.Transaction
	if err := s.db.WithContext(ctx).Preload("PublishedBook.Book").First(&transaction, "id = ?", transactionID).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if !transaction.HasParty(userID) {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
	}
	return &transaction, nil
}

// UpdateStatus 按状态机推进交易状态，仅交易双方可操作
func (s *TransactionService) UpdateStatus(ctx context.Context, transactionID, userID, status string) (*models.Transaction, error) {
	var transaction models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&transaction, "id = ?", transactionID).Error; err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
			}
			return err
		}
		if !transaction.HasParty(userID) {
			return fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
		}
		if !models.CanTransitionTransaction(transaction.Status, status) {
			return fmt.Errorf("%w: cannot move transaction from %s to %s", ErrConflict, transaction.Status, status)
		}

		fields := map[string]interface{}{"status": status}
		if status == models.TransactionStatusCompleted {
			now := time.Now().UTC()
			fields["completed_at"] = now
			transaction.CompletedAt = &now
		}
		// 条件更新，并发推进时只有一个成功
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", transaction.ID, transaction.Status).
			Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("update transaction: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: transaction changed concurrently", ErrConflict)
		}
		transaction.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, StreamPaymentEvents, "transaction.status_changed", map[string]interface{}{
		"transaction_id": transaction.ID,
		"status":         transaction.Status,
	})
	s.events.Notify(ctx, "transaction_status", map[string]interface{}{
		"transaction_id": transaction.ID,
		"status":         transaction.Status,
	}, transaction.BuyerID, transaction.SellerID)
	return &transaction, nil
}
