package enums

import "fmt"

// CashDirection says which way cash moves during a courier handover.
type CashDirection string

const (
	CashDirectionRefundToCustomer   CashDirection = "refund_to_customer"
	CashDirectionChargeFromCustomer CashDirection = "charge_from_customer"
	CashDirectionNoDifference       CashDirection = "no_difference"
)

var validCashDirections = []CashDirection{
	CashDirectionRefundToCustomer,
	CashDirectionChargeFromCustomer,
	CashDirectionNoDifference,
}

// String implements fmt.Stringer.
func (c CashDirection) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CashDirection.
func (c CashDirection) IsValid() bool {
	for _, candidate := range validCashDirections {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCashDirection converts raw input into a CashDirection.
func ParseCashDirection(value string) (CashDirection, error) {
	for _, candidate := range validCashDirections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cash direction %q", value)
}
