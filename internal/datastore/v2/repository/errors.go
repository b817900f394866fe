package repository

import "github.com/envsense/envsense/internal/errors"

// Sentinel errors returned when a lookup matches no row, or matches a row
// the caller does not own.
var (
	ErrUserNotFound               = errors.NewStd("user not found")
	ErrDeviceNotFound             = errors.NewStd("device not found")
	ErrReadingNotFound            = errors.NewStd("sensor reading not found")
	ErrAlertRuleNotFound          = errors.NewStd("alert rule not found")
	ErrAlertRecordNotFound        = errors.NewStd("alert record not found")
	ErrNotificationConfigNotFound = errors.NewStd("notification config not found")
)

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrUserNotFound, ErrDeviceNotFound, ErrReadingNotFound,
		ErrAlertRuleNotFound, ErrAlertRecordNotFound, ErrNotificationConfigNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
