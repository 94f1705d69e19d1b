package refunds

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
)

// Repository manages persistence for refund requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, refund *models.Refund) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
	// SumSettledByPayment totals the refund amounts already committed or in
	// flight against a payment. Pending and rejected requests do not count
	// against the refundable remainder.
	SumSettledByPayment(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
	// UpdateVersioned applies updates guarded by the optimistic version
	// check and bumps the in-memory version on success.
	UpdateVersioned(ctx context.Context, refund *models.Refund, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a refund repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, refund *models.Refund) error {
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &refund, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("requested_at DESC").
		Find(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *repository) SumSettledByPayment(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Select("SUM(amount)").
		Where("payment_id = ?", paymentID).
		Where("status IN ?", []enums.RefundStatus{
			enums.RefundStatusApproved,
			enums.RefundStatusProcessing,
			enums.RefundStatusCompleted,
		}).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (r *repository) UpdateVersioned(ctx context.Context, refund *models.Refund, updates map[string]any) error {
	currentVersion := refund.Version
	merged := make(map[string]any, len(updates)+1)
	for column, value := range updates {
		merged[column] = value
	}
	merged["version"] = currentVersion + 1

	result := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND version = ?", refund.ID, currentVersion).
		Updates(merged)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeConflict, "refund was modified concurrently")
	}
	refund.Version = currentVersion + 1
	return nil
}
