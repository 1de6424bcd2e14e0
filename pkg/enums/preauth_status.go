package enums

import "fmt"

// PreAuthStatus tracks a card hold from placement to close.
type PreAuthStatus string

const (
	PreAuthStatusActive    PreAuthStatus = "active"
	PreAuthStatusCaptured  PreAuthStatus = "captured"
	PreAuthStatusCancelled PreAuthStatus = "cancelled"
	PreAuthStatusExpired   PreAuthStatus = "expired"
)

var validPreAuthStatuses = []PreAuthStatus{
	PreAuthStatusActive,
	PreAuthStatusCaptured,
	PreAuthStatusCancelled,
	PreAuthStatusExpired,
}

// String implements fmt.Stringer.
func (p PreAuthStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PreAuthStatus.
func (p PreAuthStatus) IsValid() bool {
	for _, candidate := range validPreAuthStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsClosed reports whether the hold can no longer be captured.
func (p PreAuthStatus) IsClosed() bool {
	return p != PreAuthStatusActive
}

// ParsePreAuthStatus converts raw input into a PreAuthStatus.
func ParsePreAuthStatus(value string) (PreAuthStatus, error) {
	for _, candidate := range validPreAuthStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pre-authorization status %q", value)
}
