package enums

import "fmt"

// NotificationKind labels the notification templates the worker can emit.
type NotificationKind string

const (
	NotificationOrderStatus NotificationKind = "order_status"
	NotificationLowStock    NotificationKind = "low_stock"
)

var validNotificationKinds = []NotificationKind{
	NotificationOrderStatus,
	NotificationLowStock,
}

// String implements fmt.Stringer.
func (k NotificationKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known NotificationKind.
func (k NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw input into a NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
