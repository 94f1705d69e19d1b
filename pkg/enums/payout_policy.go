package enums

import "fmt"

// PayoutPolicy decides when the seller wallet is credited for a paid order.
type PayoutPolicy string

const (
	// PayoutOnPayment credits the seller inside the payment completion
	// transaction.
	PayoutOnPayment PayoutPolicy = "on_payment"
	// PayoutOnDelivery holds the credit until the order is delivered.
	PayoutOnDelivery PayoutPolicy = "on_delivery"
)

var validPayoutPolicies = []PayoutPolicy{
	PayoutOnPayment,
	PayoutOnDelivery,
}

// String implements fmt.Stringer.
func (p PayoutPolicy) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutPolicy.
func (p PayoutPolicy) IsValid() bool {
	for _, candidate := range validPayoutPolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutPolicy converts raw input into a PayoutPolicy.
func ParsePayoutPolicy(value string) (PayoutPolicy, error) {
	for _, candidate := range validPayoutPolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout policy %q", value)
}
