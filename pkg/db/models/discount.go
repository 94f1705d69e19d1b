package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
)

// Discount is a promotional code. Codes are stored upper-cased; times_used
// only increments, guarded by the optimistic version check.
type Discount struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code        string    `gorm:"column:code;not null;unique"`
	Description string    `gorm:"column:description"`

	Type              enums.DiscountType `gorm:"column:type;type:discount_type;not null"`
	Value             decimal.Decimal    `gorm:"column:value;type:numeric(10,2);not null"`
	MaxDiscountAmount *decimal.Decimal   `gorm:"column:max_discount_amount;type:numeric(12,2)"`
	MinOrderAmount    decimal.Decimal    `gorm:"column:min_order_amount;type:numeric(12,2);not null;default:0"`

	MaxUses        *int `gorm:"column:max_uses"`
	MaxUsesPerUser int  `gorm:"column:max_uses_per_user;not null;default:1"`

	Status enums.DiscountStatus `gorm:"column:status;type:discount_status;not null;default:'active'"`

	ValidFrom  time.Time `gorm:"column:valid_from;not null"`
	ValidUntil time.Time `gorm:"column:valid_until;not null"`

	TimesUsed int `gorm:"column:times_used;not null;default:0"`

	Version int `gorm:"column:version;not null;default:1"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// DiscountRedemption is the applied-discount ledger backing the per-user
// usage cap, keyed by (discount, user, order).
type DiscountRedemption struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DiscountID uuid.UUID `gorm:"column:discount_id;type:uuid;not null;index"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null;unique"`

	Amount decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
