package discounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/money"
)

// Validation failure reasons, reported in check order. The first failing
// check wins and short-circuits the rest.
const (
	ReasonNotFound               = "not_found"
	ReasonInactive               = "inactive"
	ReasonNotStarted             = "not_started"
	ReasonExpired                = "expired"
	ReasonMaxUsesExceeded        = "max_uses_exceeded"
	ReasonMaxUsesPerUserExceeded = "max_uses_per_user_exceeded"
	ReasonMinOrderAmountNotMet   = "min_order_amount_not_met"
)

// ValidationResult is the outcome of pricing a code against an order context.
type ValidationResult struct {
	Valid          bool            `json:"valid"`
	Reason         string          `json:"reason,omitempty"`
	DiscountID     uuid.UUID       `json:"discount_id,omitempty"`
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// CreateInput describes a new promotional code.
type CreateInput struct {
	Code              string
	Description       string
	Type              enums.DiscountType
	Value             decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	MinOrderAmount    decimal.Decimal
	MaxUses           *int
	MaxUsesPerUser    int
	ValidFrom         time.Time
	ValidUntil        time.Time
}

// Service validates, prices, and redeems discount codes.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Discount, error)
	GetByCode(ctx context.Context, code string) (*models.Discount, error)
	Validate(ctx context.Context, code string, userID uuid.UUID, orderSubtotal decimal.Decimal) (*ValidationResult, error)
	// RedeemTx re-validates and records the redemption inside the caller's
	// transaction; the order placement that applied the code commits or
	// rolls back together with the usage counter bump.
	RedeemTx(ctx context.Context, tx *gorm.DB, code string, userID, orderID uuid.UUID, orderSubtotal decimal.Decimal) (*ValidationResult, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a discount service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("discount repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Discount, error) {
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	if code == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "code is required")
	}
	if !input.Type.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, "unknown discount type")
	}
	if !input.Value.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "value must be positive")
	}
	if input.Type == enums.DiscountTypePercentage && input.Value.GreaterThan(decimal.NewFromInt(100)) {
		return nil, apperrors.New(apperrors.CodeValidation, "percentage value must not exceed 100")
	}
	if input.MinOrderAmount.IsNegative() {
		return nil, apperrors.New(apperrors.CodeValidation, "min order amount must not be negative")
	}
	if input.MaxUses != nil && *input.MaxUses < 1 {
		return nil, apperrors.New(apperrors.CodeValidation, "max uses must be at least 1")
	}
	if input.MaxUsesPerUser < 1 {
		return nil, apperrors.New(apperrors.CodeValidation, "max uses per user must be at least 1")
	}
	if !input.ValidUntil.After(input.ValidFrom) {
		return nil, apperrors.New(apperrors.CodeValidation, "valid_until must be after valid_from")
	}

	existing, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.CodeConflict, "discount code already exists")
	}

	discount := &models.Discount{
		Code:              code,
		Description:       input.Description,
		Type:              input.Type,
		Value:             money.Round(input.Value),
		MaxDiscountAmount: input.MaxDiscountAmount,
		MinOrderAmount:    money.Round(input.MinOrderAmount),
		MaxUses:           input.MaxUses,
		MaxUsesPerUser:    input.MaxUsesPerUser,
		Status:            enums.DiscountStatusActive,
		ValidFrom:         input.ValidFrom,
		ValidUntil:        input.ValidUntil,
		Version:           1,
	}
	if err := s.repo.Create(ctx, discount); err != nil {
		return nil, err
	}
	return discount, nil
}

func (s *service) GetByCode(ctx context.Context, code string) (*models.Discount, error) {
	discount, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if discount == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "discount not found")
	}
	return discount, nil
}

func (s *service) Validate(ctx context.Context, code string, userID uuid.UUID, orderSubtotal decimal.Decimal) (*ValidationResult, error) {
	result, _, err := s.validate(ctx, s.repo, code, userID, orderSubtotal)
	return result, err
}

func (s *service) RedeemTx(ctx context.Context, tx *gorm.DB, code string, userID, orderID uuid.UUID, orderSubtotal decimal.Decimal) (*ValidationResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction handle required")
	}
	if orderID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "order id is required")
	}
	repo := s.repo.WithTx(tx)
	result, discount, err := s.validate(ctx, repo, code, userID, orderSubtotal)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, apperrors.New(apperrors.CodeInvalidDiscount, "invalid discount code: "+result.Reason)
	}
	if err := repo.IncrementUsage(ctx, discount); err != nil {
		return nil, err
	}
	redemption := &models.DiscountRedemption{
		DiscountID: discount.ID,
		UserID:     userID,
		OrderID:    orderID,
		Amount:     result.DiscountAmount,
	}
	if err := repo.InsertRedemption(ctx, redemption); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) validate(ctx context.Context, repo Repository, code string, userID uuid.UUID, orderSubtotal decimal.Decimal) (*ValidationResult, *models.Discount, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, nil, apperrors.New(apperrors.CodeValidation, "code is required")
	}
	if userID == uuid.Nil {
		return nil, nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if orderSubtotal.IsNegative() {
		return nil, nil, apperrors.New(apperrors.CodeValidation, "order subtotal must not be negative")
	}

	invalid := func(reason string) *ValidationResult {
		return &ValidationResult{Valid: false, Reason: reason, Code: normalized, DiscountAmount: decimal.Zero}
	}

	discount, err := repo.GetByCode(ctx, normalized)
	if err != nil {
		return nil, nil, err
	}
	if discount == nil {
		return invalid(ReasonNotFound), nil, nil
	}
	if discount.Status != enums.DiscountStatusActive {
		return invalid(ReasonInactive), nil, nil
	}
	now := s.now()
	if now.Before(discount.ValidFrom) {
		return invalid(ReasonNotStarted), nil, nil
	}
	if now.After(discount.ValidUntil) {
		return invalid(ReasonExpired), nil, nil
	}
	if discount.MaxUses != nil && discount.TimesUsed >= *discount.MaxUses {
		return invalid(ReasonMaxUsesExceeded), nil, nil
	}
	userCount, err := repo.CountRedemptionsByUser(ctx, discount.ID, userID)
	if err != nil {
		return nil, nil, err
	}
	if userCount >= int64(discount.MaxUsesPerUser) {
		return invalid(ReasonMaxUsesPerUserExceeded), nil, nil
	}
	if orderSubtotal.LessThan(discount.MinOrderAmount) {
		return invalid(ReasonMinOrderAmountNotMet), nil, nil
	}

	amount := computeAmount(discount, orderSubtotal)
	return &ValidationResult{
		Valid:          true,
		DiscountID:     discount.ID,
		Code:           discount.Code,
		DiscountAmount: amount,
	}, discount, nil
}

// computeAmount prices the code against the subtotal: percentage codes take
// value% of the subtotal capped at max_discount_amount; fixed codes take the
// lesser of the value and the subtotal so the total never goes negative.
func computeAmount(discount *models.Discount, orderSubtotal decimal.Decimal) decimal.Decimal {
	switch discount.Type {
	case enums.DiscountTypePercentage:
		amount := money.Percent(orderSubtotal, discount.Value)
		if discount.MaxDiscountAmount != nil {
			amount = money.Min(amount, *discount.MaxDiscountAmount)
		}
		return money.Round(amount)
	default:
		return money.Round(money.Min(discount.Value, orderSubtotal))
	}
}
