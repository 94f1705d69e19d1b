package wallets

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/pagination"
)

func setupWalletsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	wallets := `
CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  balance NUMERIC NOT NULL DEFAULT 0,
  total_earned NUMERIC NOT NULL DEFAULT 0,
  total_spent NUMERIC NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	transactions := `
CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  description TEXT NOT NULL,
  order_id TEXT,
  payment_id TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(wallets).Error)
	require.NoError(t, db.Exec(transactions).Error)
	return db
}

func newWalletService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	return svc
}

func TestCreditCreatesWalletLazily(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newWalletService(t, db)
	ctx := context.Background()
	userID := uuid.New()

	txn, err := svc.CreditTx(ctx, db, MovementInput{
		UserID:      userID,
		Amount:      decimal.RequireFromString("150.00"),
		Description: "order payout",
	})
	require.NoError(t, err)
	require.NotNil(t, txn)

	wallet, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("150.00")), "balance %s", wallet.Balance)
	assert.True(t, wallet.TotalEarned.Equal(decimal.RequireFromString("150.00")))
	assert.True(t, wallet.TotalSpent.IsZero())
	assert.Equal(t, 2, wallet.Version)
}

func TestDebitInsufficientFunds(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newWalletService(t, db)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreditTx(ctx, db, MovementInput{
		UserID:      userID,
		Amount:      decimal.RequireFromString("50.00"),
		Description: "seed",
	})
	require.NoError(t, err)

	_, err = svc.DebitTx(ctx, db, MovementInput{
		UserID:      userID,
		Amount:      decimal.RequireFromString("50.01"),
		Description: "too much",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientFunds))

	// Failed debit must not move the balance or write a ledger row.
	result, err := svc.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.True(t, result.Balance.Equal(decimal.RequireFromString("50.00")))
}

func TestDebitExactBalanceAllowed(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newWalletService(t, db)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreditTx(ctx, db, MovementInput{
		UserID:      userID,
		Amount:      decimal.RequireFromString("75.25"),
		Description: "seed",
	})
	require.NoError(t, err)

	_, err = svc.DebitTx(ctx, db, MovementInput{
		UserID:      userID,
		Amount:      decimal.RequireFromString("75.25"),
		Description: "spend all",
	})
	require.NoError(t, err)

	wallet, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.IsZero())
	assert.True(t, wallet.TotalSpent.Equal(decimal.RequireFromString("75.25")))
}

func TestMovementRoundsToTwoPlaces(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newWalletService(t, db)
	ctx := context.Background()
	userID := uuid.New()

	txn, err := svc.CreditTx(ctx, db, MovementInput{
		UserID:      userID,
		Amount:      decimal.RequireFromString("10.005"),
		Description: "rounded credit",
	})
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("10.01")), "amount %s", txn.Amount)
}

func TestMovementValidation(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newWalletService(t, db)
	ctx := context.Background()

	cases := []struct {
		name  string
		input MovementInput
	}{
		{"missing user", MovementInput{Amount: decimal.NewFromInt(5), Description: "x"}},
		{"missing description", MovementInput{UserID: uuid.New(), Amount: decimal.NewFromInt(5)}},
		{"zero amount", MovementInput{UserID: uuid.New(), Amount: decimal.Zero, Description: "x"}},
		{"negative amount", MovementInput{UserID: uuid.New(), Amount: decimal.NewFromInt(-5), Description: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreditTx(ctx, db, tc.input)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
		})
	}
}

func TestReconcileDetectsDrift(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newWalletService(t, db)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreditTx(ctx, db, MovementInput{
		UserID:      userID,
		Amount:      decimal.RequireFromString("100.00"),
		Description: "seed",
	})
	require.NoError(t, err)
	_, err = svc.DebitTx(ctx, db, MovementInput{
		UserID:      userID,
		Amount:      decimal.RequireFromString("40.00"),
		Description: "spend",
	})
	require.NoError(t, err)

	result, err := svc.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.True(t, result.LedgerBalance.Equal(decimal.RequireFromString("60.00")))

	// Corrupt the stored balance behind the ledger's back.
	require.NoError(t, db.Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Update("balance", decimal.RequireFromString("61.00")).Error)

	result, err = svc.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.False(t, result.Consistent)
	assert.True(t, result.Drift.Equal(decimal.RequireFromString("1.00")))
}

func TestReconcileMissingWallet(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newWalletService(t, db)

	_, err := svc.Reconcile(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestStaleVersionConflicts(t *testing.T) {
	db := setupWalletsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	wallet := &models.Wallet{
		UserID:  uuid.New(),
		Balance: decimal.RequireFromString("10.00"),
		Version: 1,
	}
	require.NoError(t, repo.Create(ctx, wallet))

	stale := *wallet
	require.NoError(t, repo.UpdateBalances(ctx, wallet))

	stale.Balance = decimal.RequireFromString("99.00")
	err := repo.UpdateBalances(ctx, &stale)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestListTransactionsPaginates(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newWalletService(t, db)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := svc.CreditTx(ctx, db, MovementInput{
			UserID:      userID,
			Amount:      decimal.NewFromInt(int64(i + 1)),
			Description: fmt.Sprintf("credit %d", i),
		})
		require.NoError(t, err)
	}

	rows, next, err := svc.ListTransactions(ctx, userID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	require.NotEmpty(t, next)

	rows, next, err = svc.ListTransactions(ctx, userID, pagination.Params{Limit: 2, Cursor: next})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Empty(t, next)
}

func TestListTransactionsNoWallet(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newWalletService(t, db)

	rows, next, err := svc.ListTransactions(context.Background(), uuid.New(), pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, next)
}
