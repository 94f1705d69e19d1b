package discounts

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
)

// Repository manages persistence for discount codes and redemptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, discount *models.Discount) error
	GetByCode(ctx context.Context, code string) (*models.Discount, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Discount, error)
	// IncrementUsage bumps times_used under the version guard.
	IncrementUsage(ctx context.Context, discount *models.Discount) error
	CountRedemptionsByUser(ctx context.Context, discountID, userID uuid.UUID) (int64, error)
	InsertRedemption(ctx context.Context, redemption *models.DiscountRedemption) error
	GetRedemptionByOrder(ctx context.Context, orderID uuid.UUID) (*models.DiscountRedemption, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a discount repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, discount *models.Discount) error {
	if discount.ID == uuid.Nil {
		discount.ID = uuid.New()
	}
	discount.Code = strings.ToUpper(strings.TrimSpace(discount.Code))
	return r.db.WithContext(ctx).Create(discount).Error
}

func (r *repository) GetByCode(ctx context.Context, code string) (*models.Discount, error) {
	var discount models.Discount
	err := r.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&discount).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &discount, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Discount, error) {
	var discount models.Discount
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&discount).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &discount, nil
}

func (r *repository) IncrementUsage(ctx context.Context, discount *models.Discount) error {
	currentVersion := discount.Version
	result := r.db.WithContext(ctx).
		Model(&models.Discount{}).
		Where("id = ? AND version = ?", discount.ID, currentVersion).
		Updates(map[string]any{
			"times_used": discount.TimesUsed + 1,
			"version":    currentVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeConflict, "discount was modified concurrently")
	}
	discount.TimesUsed++
	discount.Version = currentVersion + 1
	return nil
}

func (r *repository) CountRedemptionsByUser(ctx context.Context, discountID, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DiscountRedemption{}).
		Where("discount_id = ? AND user_id = ?", discountID, userID).
		Count(&count).Error
	return count, err
}

func (r *repository) InsertRedemption(ctx context.Context, redemption *models.DiscountRedemption) error {
	if redemption.ID == uuid.Nil {
		redemption.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(redemption).Error
}

func (r *repository) GetRedemptionByOrder(ctx context.Context, orderID uuid.UUID) (*models.DiscountRedemption, error) {
	var redemption models.DiscountRedemption
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&redemption).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &redemption, nil
}
