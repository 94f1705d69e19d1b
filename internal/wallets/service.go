package wallets

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/money"
	"github.com/angelmondragon/gearmarket-backend/pkg/pagination"
)

// Service owns wallet balances and the append-only transaction ledger.
// Credit/Debit run against the caller's transaction so wallet movement
// commits or rolls back together with the payment or refund driving it.
type Service interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	CreditTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error)
	DebitTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.WalletTransaction, string, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error)
}

// MovementInput describes a single credit or debit.
type MovementInput struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Description string
	OrderID     *uuid.UUID
	PaymentID   *uuid.UUID
}

// ReconcileResult compares the stored balance against the replayed ledger.
type ReconcileResult struct {
	WalletID      uuid.UUID       `json:"wallet_id"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Drift         decimal.Decimal `json:"drift"`
	Consistent    bool            `json:"consistent"`
}

type service struct {
	repo Repository
}

// NewService wires a wallet service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	return s.getOrCreate(ctx, s.repo, userID)
}

func (s *service) getOrCreate(ctx context.Context, repo Repository, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}
	wallet = &models.Wallet{
		UserID:      userID,
		Balance:     decimal.Zero,
		TotalEarned: decimal.Zero,
		TotalSpent:  decimal.Zero,
		Version:     1,
	}
	if err := repo.Create(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *service) CreditTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error) {
	return s.move(ctx, tx, enums.WalletTransactionTypeCredit, input)
}

func (s *service) DebitTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error) {
	return s.move(ctx, tx, enums.WalletTransactionTypeDebit, input)
}

func (s *service) move(ctx context.Context, tx *gorm.DB, kind enums.WalletTransactionType, input MovementInput) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if input.UserID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(input.Description) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "description is required")
	}
	amount := money.Round(input.Amount)
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "amount must be positive")
	}

	repo := s.repo.WithTx(tx)
	wallet, err := s.getOrCreate(ctx, repo, input.UserID)
	if err != nil {
		return nil, err
	}

	switch kind {
	case enums.WalletTransactionTypeCredit:
		wallet.Balance = money.Round(wallet.Balance.Add(amount))
		wallet.TotalEarned = money.Round(wallet.TotalEarned.Add(amount))
	case enums.WalletTransactionTypeDebit:
		if wallet.Balance.LessThan(amount) {
			return nil, apperrors.New(
				apperrors.CodeInsufficientFunds,
				fmt.Sprintf("wallet balance %s is below %s", wallet.Balance.StringFixed(2), amount.StringFixed(2)),
			)
		}
		wallet.Balance = money.Round(wallet.Balance.Sub(amount))
		wallet.TotalSpent = money.Round(wallet.TotalSpent.Add(amount))
	default:
		return nil, fmt.Errorf("unknown wallet transaction type %q", kind)
	}

	if err := repo.UpdateBalances(ctx, wallet); err != nil {
		return nil, err
	}

	txn := &models.WalletTransaction{
		WalletID:    wallet.ID,
		Type:        kind,
		Amount:      amount,
		Description: strings.TrimSpace(input.Description),
		OrderID:     input.OrderID,
		PaymentID:   input.PaymentID,
	}
	if err := repo.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.WalletTransaction, string, error) {
	if userID == uuid.Nil {
		return nil, "", apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	wallet, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if wallet == nil {
		return []models.WalletTransaction{}, "", nil
	}
	return s.repo.ListTransactions(ctx, wallet.ID, params)
}

func (s *service) Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error) {
	if userID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	wallet, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "wallet not found")
	}

	credits, debits, err := s.repo.SumTransactions(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	ledger := money.Round(credits.Sub(debits))
	drift := money.Round(wallet.Balance.Sub(ledger))
	return &ReconcileResult{
		WalletID:      wallet.ID,
		Balance:       wallet.Balance,
		LedgerBalance: ledger,
		Drift:         drift,
		Consistent:    drift.IsZero(),
	}, nil
}
