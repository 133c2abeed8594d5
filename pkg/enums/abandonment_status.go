package enums

import "fmt"

// AbandonmentStatus tracks the recovery campaign of an abandoned cart.
type AbandonmentStatus string

const (
	AbandonmentStatusPending   AbandonmentStatus = "pending"
	AbandonmentStatusReminding AbandonmentStatus = "reminding"
	AbandonmentStatusRecovered AbandonmentStatus = "recovered"
	AbandonmentStatusLost      AbandonmentStatus = "lost"
)

var validAbandonmentStatuses = []AbandonmentStatus{
	AbandonmentStatusPending,
	AbandonmentStatusReminding,
	AbandonmentStatusRecovered,
	AbandonmentStatusLost,
}

// String implements fmt.Stringer.
func (s AbandonmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known AbandonmentStatus.
func (s AbandonmentStatus) IsValid() bool {
	for _, candidate := range validAbandonmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further reminders may be sent.
func (s AbandonmentStatus) IsTerminal() bool {
	return s == AbandonmentStatusRecovered || s == AbandonmentStatusLost
}

// ParseAbandonmentStatus converts raw input into an AbandonmentStatus.
func ParseAbandonmentStatus(value string) (AbandonmentStatus, error) {
	for _, candidate := range validAbandonmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid abandonment status %q", value)
}
