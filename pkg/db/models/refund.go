package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
)

// Refund is a request against a completed order/payment pair. Amount is
// resolved at request time (from an explicit amount or a percentage of the
// payment) and the sum of completed refund amounts never exceeds the
// payment amount.
type Refund struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	PaymentID uuid.UUID `gorm:"column:payment_id;type:uuid;not null;index"`

	Reason     enums.RefundReason `gorm:"column:reason;type:refund_reason;not null"`
	Amount     decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Percentage *int               `gorm:"column:percentage"`

	Status enums.RefundStatus `gorm:"column:status;type:refund_status;not null;default:'pending'"`

	Description string     `gorm:"column:description;not null"`
	AdminNotes  *string    `gorm:"column:admin_notes"`
	ApprovedBy  *uuid.UUID `gorm:"column:approved_by;type:uuid"`

	// ReversalID is the gateway's reversal reference for refunds paid back
	// through the processor; wallet refunds have none.
	ReversalID *string `gorm:"column:reversal_id"`

	Version int `gorm:"column:version;not null;default:1"`

	RequestedAt time.Time  `gorm:"column:requested_at;autoCreateTime"`
	ApprovedAt  *time.Time `gorm:"column:approved_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
