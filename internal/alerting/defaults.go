package alerting

import "github.com/envsense/envsense/internal/datastore/v2/entities"

// DefaultRule returns a rule carrying the defaults applied to fields a
// create request leaves out.
func DefaultRule() entities.AlertRule {
	return entities.AlertRule{
		Severity:              entities.SeverityMedium,
		Enabled:               true,
		CooldownMinutes:       entities.DefaultCooldownMinutes,
		RepeatIntervalMinutes: entities.DefaultRepeatIntervalMinutes,
	}
}

// DefaultNotificationConfig returns a channel config carrying the create
// defaults.
func DefaultNotificationConfig() entities.NotificationConfig {
	return entities.NotificationConfig{
		Enabled:     true,
		MinSeverity: entities.SeverityMedium,
		Notify24h:   true,
	}
}
