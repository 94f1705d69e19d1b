package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
)

// WalletTransaction is an immutable append-only ledger entry. The running
// sum of credits minus debits up to any point in commit order equals the
// wallet balance at that point.
type WalletTransaction struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID uuid.UUID `gorm:"column:wallet_id;type:uuid;not null;index"`

	Type        enums.WalletTransactionType `gorm:"column:type;type:wallet_transaction_type;not null"`
	Amount      decimal.Decimal             `gorm:"column:amount;type:numeric(12,2);not null"`
	Description string                      `gorm:"column:description;not null"`

	OrderID   *uuid.UUID `gorm:"column:order_id;type:uuid"`
	PaymentID *uuid.UUID `gorm:"column:payment_id;type:uuid"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
}
