package services

import (
	"testing"

	"bookswap_go/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedTransaction(t *testing.T, db *gorm.DB, id, listingID, buyer, seller, status string) *models.Transaction {
	t.Helper()
	tx := &models.Transaction{
		ID:              id,
		PaymentID:       "pay-" + id,
		PublishedBookID: listingID,
		BuyerID:         buyer,
		SellerID:        seller,
		Amount:          decimal.RequireFromString("12.50"),
		Currency:        "cny",
		Status:          status,
	}
	require.NoError(t, db.Create(tx).Error)
	return tx
}

func TestTransactionStatusMachine(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "S")
	seedUser(t, db, "B")
	seedUser(t, db, "X")
	seedListing(t, db, "p1", "S", models.TransactionTypeSale)
	seedTransaction(t, db, "t1", "p1", "B", "S", models.TransactionStatusConfirmed)
	svc := NewTransactionService(db, nil)
	ctx := testContext(t)

	_, err := svc.UpdateStatus(ctx, "t1", "B", models.TransactionStatusCompleted)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.UpdateStatus(ctx, "t1", "X", models.TransactionStatusInProgress)
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := svc.UpdateStatus(ctx, "t1", "S", models.TransactionStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusInProgress, updated.Status)

	updated, err = svc.UpdateStatus(ctx, "t1", "B", models.TransactionStatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, updated.CompletedAt)

	// 终态不可再变
	_, err = svc.UpdateStatus(ctx, "t1", "B", models.TransactionStatusDisputed)
	assert.ErrorIs(t, err, ErrConflict)

	list, err := svc.GetUserTransactions(ctx, "S")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.TransactionStatusCompleted, list[0].Status)
	require.NotNil(t, list[0].PublishedBook)

	_, err = svc.GetTransaction(ctx, "t1", "X")
	assert.ErrorIs(t, err, ErrNotFound)
}
