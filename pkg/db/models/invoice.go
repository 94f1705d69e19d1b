package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	"github.com/angelmondragon/gearmarket-backend/pkg/types"
)

// Invoice is the derived, read-mostly projection of an order. Financial
// fields are frozen once the order is confirmed; disputes regenerate a new
// invoice rather than mutating this one.
type Invoice struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID `gorm:"column:order_id;type:uuid;not null;unique"`
	InvoiceNumber string    `gorm:"column:invoice_number;not null;unique"`

	InvoiceDate time.Time `gorm:"column:invoice_date;not null"`
	DueDate     time.Time `gorm:"column:due_date;not null"`

	Status enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'draft'"`

	LineItems types.InvoiceLineItems `gorm:"column:line_items;type:jsonb;serializer:json"`

	Subtotal    decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	TaxAmount   decimal.Decimal `gorm:"column:tax_amount;type:numeric(12,2);not null;default:0"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	AmountPaid  decimal.Decimal `gorm:"column:amount_paid;type:numeric(12,2);not null;default:0"`
	AmountDue   decimal.Decimal `gorm:"column:amount_due;type:numeric(12,2);not null"`

	Version int `gorm:"column:version;not null;default:1"`

	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	SentAt    *time.Time `gorm:"column:sent_at"`
	ViewedAt  *time.Time `gorm:"column:viewed_at"`
	PaidAt    *time.Time `gorm:"column:paid_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
