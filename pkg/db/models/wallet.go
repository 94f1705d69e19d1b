package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds a user's balance. Created lazily on first credit or debit,
// never deleted. total_earned/total_spent are audit counters and only grow.
type Wallet struct {
	ID     uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;unique"`

	Balance     decimal.Decimal `gorm:"column:balance;type:numeric(12,2);not null;default:0"`
	TotalEarned decimal.Decimal `gorm:"column:total_earned;type:numeric(12,2);not null;default:0"`
	TotalSpent  decimal.Decimal `gorm:"column:total_spent;type:numeric(12,2);not null;default:0"`

	Version int `gorm:"column:version;not null;default:1"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
