package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
)

// OrderPlacedEvent signals a new order awaiting payment.
type OrderPlacedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	ItemKind    enums.ItemKind  `json:"item_kind"`
	ItemID      uuid.UUID       `json:"item_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    enums.Currency  `json:"currency"`
}

// OrderStatusEvent carries a lifecycle transition for an order.
type OrderStatusEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	BuyerID     uuid.UUID         `json:"buyer_id"`
	SellerID    uuid.UUID         `json:"seller_id"`
	Status      enums.OrderStatus `json:"status"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Reason      string            `json:"reason,omitempty"`
}

// PaymentCompletedEvent is emitted when a charge settles and the order confirms.
type PaymentCompletedEvent struct {
	PaymentID     uuid.UUID           `json:"payment_id"`
	OrderID       uuid.UUID           `json:"order_id"`
	BuyerID       uuid.UUID           `json:"buyer_id"`
	SellerID      uuid.UUID           `json:"seller_id"`
	Method        enums.PaymentMethod `json:"method"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      enums.Currency      `json:"currency"`
	TransactionID string              `json:"transaction_id,omitempty"`
	ProcessedAt   time.Time           `json:"processed_at"`
}

// PaymentFailedEvent reports a declined or errored charge attempt.
type PaymentFailedEvent struct {
	PaymentID    uuid.UUID           `json:"payment_id"`
	OrderID      uuid.UUID           `json:"order_id"`
	BuyerID      uuid.UUID           `json:"buyer_id"`
	Method       enums.PaymentMethod `json:"method"`
	Amount       decimal.Decimal     `json:"amount"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

// RefundStatusEvent carries refund lifecycle transitions.
type RefundStatusEvent struct {
	RefundID   uuid.UUID          `json:"refund_id"`
	OrderID    uuid.UUID          `json:"order_id"`
	PaymentID  uuid.UUID          `json:"payment_id"`
	BuyerID    uuid.UUID          `json:"buyer_id"`
	Status     enums.RefundStatus `json:"status"`
	Reason     enums.RefundReason `json:"reason"`
	Amount     decimal.Decimal    `json:"amount"`
	IsFull     bool               `json:"is_full"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// InvoiceOverdueEvent is emitted by the overdue sweep for each invoice it flips.
type InvoiceOverdueEvent struct {
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	OrderID       uuid.UUID       `json:"order_id"`
	DueDate       time.Time       `json:"due_date"`
	AmountDue     decimal.Decimal `json:"amount_due"`
}

// SellerPayoutEvent reports a wallet credit issued to the seller for an order.
type SellerPayoutEvent struct {
	OrderID   uuid.UUID       `json:"order_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	WalletID  uuid.UUID       `json:"wallet_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  enums.Currency  `json:"currency"`
	CreditAt  time.Time       `json:"credit_at"`
	PaymentID uuid.UUID       `json:"payment_id"`
}
