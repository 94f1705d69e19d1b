package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
)

// Payment is the single payment attempt record for an order. Amount is
// immutable after creation; a failed payment is retried in place, never
// replaced.
type Payment struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;unique"`

	Method   enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`
	Amount   decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency enums.Currency      `gorm:"column:currency;type:text;not null;default:'USD'"`

	Status enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`

	TransactionID   *string         `gorm:"column:transaction_id;unique"`
	GatewayResponse json.RawMessage `gorm:"column:gateway_response;type:jsonb"`
	ErrorMessage    *string         `gorm:"column:error_message"`

	Version int `gorm:"column:version;not null;default:1"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
