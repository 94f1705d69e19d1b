package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	"github.com/angelmondragon/gearmarket-backend/pkg/types"
)

// Order represents a single buyer/seller transaction for one car or part.
// Money columns are NUMERIC(12,2); total is always derived, never written
// directly by callers.
type Order struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber string         `gorm:"column:order_number;not null;unique"`
	BuyerID     uuid.UUID      `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID    uuid.UUID      `gorm:"column:seller_id;type:uuid;not null;index"`
	ItemKind    enums.ItemKind `gorm:"column:item_kind;type:item_kind;not null"`
	// Exactly one of CarID/PartID is set, chosen by ItemKind.
	CarID    *uuid.UUID `gorm:"column:car_id;type:uuid"`
	PartID   *uuid.UUID `gorm:"column:part_id;type:uuid"`
	ItemName string     `gorm:"column:item_name;not null"`

	Quantity  int             `gorm:"column:quantity;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`

	Subtotal       decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	TaxAmount      decimal.Decimal `gorm:"column:tax_amount;type:numeric(12,2);not null;default:0"`
	ShippingCost   decimal.Decimal `gorm:"column:shipping_cost;type:numeric(12,2);not null;default:0"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);not null;default:0"`
	TotalAmount    decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	DiscountCode   *string         `gorm:"column:discount_code"`

	ShippingAddress types.Address `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	BillingAddress  types.Address `gorm:"column:billing_address;type:jsonb;serializer:json"`

	Status         enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	TrackingNumber *string           `gorm:"column:tracking_number"`
	TrackingURL    *string           `gorm:"column:tracking_url"`

	BuyerNotes  *string `gorm:"column:buyer_notes"`
	SellerNotes *string `gorm:"column:seller_notes"`

	Version int `gorm:"column:version;not null;default:1"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	ConfirmedAt *time.Time `gorm:"column:confirmed_at"`
	ShippedAt   *time.Time `gorm:"column:shipped_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
	RefundedAt  *time.Time `gorm:"column:refunded_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// ItemID returns the referenced catalog id for the order's item kind.
func (o *Order) ItemID() *uuid.UUID {
	if o.ItemKind == enums.ItemKindCar {
		return o.CarID
	}
	return o.PartID
}
