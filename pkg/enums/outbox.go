package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
	AggregateInvoice OutboxAggregateType = "invoice"
	AggregateRefund  OutboxAggregateType = "refund"
	AggregateWallet  OutboxAggregateType = "wallet"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateInvoice,
	AggregateRefund,
	AggregateWallet,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderPlaced      OutboxEventType = "order_placed"
	EventOrderConfirmed   OutboxEventType = "order_confirmed"
	EventOrderShipped     OutboxEventType = "order_shipped"
	EventOrderDelivered   OutboxEventType = "order_delivered"
	EventOrderCanceled    OutboxEventType = "order_canceled"
	EventOrderRefunded    OutboxEventType = "order_refunded"
	EventPaymentCompleted OutboxEventType = "payment_completed"
	EventPaymentFailed    OutboxEventType = "payment_failed"
	EventRefundRequested  OutboxEventType = "refund_requested"
	EventRefundApproved   OutboxEventType = "refund_approved"
	EventRefundRejected   OutboxEventType = "refund_rejected"
	EventRefundCompleted  OutboxEventType = "refund_completed"
	EventInvoiceOverdue   OutboxEventType = "invoice_overdue"
	EventSellerPayout     OutboxEventType = "seller_payout"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderConfirmed,
	EventOrderShipped,
	EventOrderDelivered,
	EventOrderCanceled,
	EventOrderRefunded,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventRefundRequested,
	EventRefundApproved,
	EventRefundRejected,
	EventRefundCompleted,
	EventInvoiceOverdue,
	EventSellerPayout,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason classifies why a row was parked in the dead letter table.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

// IsValid reports whether the value is a known DLQ error reason.
func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonNonRetryable || r == OutboxDLQReasonMaxAttempts
}
