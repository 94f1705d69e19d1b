package enums

import "fmt"

// RefundReason is the closed set of reasons a buyer can request a refund for.
type RefundReason string

const (
	RefundReasonItemDefective      RefundReason = "item_defective"
	RefundReasonItemNotAsDescribed RefundReason = "item_not_as_described"
	RefundReasonBuyerChangedMind   RefundReason = "buyer_changed_mind"
	RefundReasonSellerCancelled    RefundReason = "seller_cancelled"
	RefundReasonDuplicateOrder     RefundReason = "duplicate_order"
	RefundReasonPaymentError       RefundReason = "payment_error"
	RefundReasonOther              RefundReason = "other"
)

var validRefundReasons = []RefundReason{
	RefundReasonItemDefective,
	RefundReasonItemNotAsDescribed,
	RefundReasonBuyerChangedMind,
	RefundReasonSellerCancelled,
	RefundReasonDuplicateOrder,
	RefundReasonPaymentError,
	RefundReasonOther,
}

// String implements fmt.Stringer.
func (r RefundReason) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundReason.
func (r RefundReason) IsValid() bool {
	for _, candidate := range validRefundReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundReason converts raw input into a RefundReason.
func ParseRefundReason(value string) (RefundReason, error) {
	for _, candidate := range validRefundReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund reason %q", value)
}
