package alerting

import (
	"math"
	"strconv"
	"strings"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
)

// Evaluate reports whether value satisfies the rule's condition. A rule
// missing the thresholds its operator needs never matches.
func Evaluate(rule *entities.AlertRule, value, epsilon float64) bool {
	switch rule.Condition {
	case OperatorGreaterThan:
		return rule.Threshold != nil && value > *rule.Threshold
	case OperatorLessThan:
		return rule.Threshold != nil && value < *rule.Threshold
	case OperatorEqual:
		return rule.Threshold != nil && approxEqual(value, *rule.Threshold, epsilon)
	case OperatorNotEqual:
		return rule.Threshold != nil && !approxEqual(value, *rule.Threshold, epsilon)
	case OperatorBetween:
		if rule.ThresholdMin == nil || rule.ThresholdMax == nil {
			return false
		}
		return value >= *rule.ThresholdMin && value <= *rule.ThresholdMax
	case OperatorOutside:
		if rule.ThresholdMin == nil || rule.ThresholdMax == nil {
			return false
		}
		return value < *rule.ThresholdMin || value > *rule.ThresholdMax
	default:
		return false
	}
}

// approxEqual compares with a tolerance scaled to the magnitude of the
// operands, so large readings are not held to an absolute 1e-9.
func approxEqual(a, b, epsilon float64) bool {
	if epsilon <= 0 {
		epsilon = DefaultEqualityEpsilon
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= epsilon*scale
}

// FormatMessage renders the record text, e.g.
// "Temperature greater than 30, current value: 35".
func FormatMessage(rule *entities.AlertRule, value float64) string {
	var b strings.Builder
	b.WriteString(SensorLabel(rule.SensorType))
	b.WriteByte(' ')
	b.WriteString(OperatorLabel(rule.Condition))
	b.WriteByte(' ')
	if IsRangeOperator(rule.Condition) {
		b.WriteString(formatThreshold(rule.ThresholdMin))
		b.WriteString(" and ")
		b.WriteString(formatThreshold(rule.ThresholdMax))
	} else {
		b.WriteString(formatThreshold(rule.Threshold))
	}
	b.WriteString(", current value: ")
	b.WriteString(formatNumber(value))
	return b.String()
}

func formatThreshold(v *float64) string {
	if v == nil {
		return "?"
	}
	return formatNumber(*v)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ValidateRule checks a rule before it is stored. The returned error is a
// validation error naming the offending field.
func ValidateRule(rule *entities.AlertRule) error {
	switch {
	case strings.TrimSpace(rule.Name) == "":
		return errors.Validation(componentAlerting, "name", "name is required")
	case rule.DeviceID == 0:
		return errors.Validation(componentAlerting, "device_id", "device_id is required")
	case !IsSensorType(rule.SensorType):
		return errors.Validation(componentAlerting, "sensor_type", "unknown sensor type %q", rule.SensorType)
	case !rule.Severity.Valid():
		return errors.Validation(componentAlerting, "severity", "unknown severity %q", rule.Severity)
	case rule.CooldownMinutes < 0:
		return errors.Validation(componentAlerting, "cooldown_minutes", "cooldown_minutes must not be negative")
	case rule.RepeatIntervalMinutes < 0:
		return errors.Validation(componentAlerting, "repeat_interval_minutes", "repeat_interval_minutes must not be negative")
	case rule.RepeatAlert && rule.RepeatIntervalMinutes == 0:
		return errors.Validation(componentAlerting, "repeat_interval_minutes", "repeat_interval_minutes is required when repeat_alert is set")
	}

	if _, ok := operatorLabels[rule.Condition]; !ok {
		return errors.Validation(componentAlerting, "condition", "unknown condition %q", rule.Condition)
	}
	if IsRangeOperator(rule.Condition) {
		if rule.ThresholdMin == nil {
			return errors.Validation(componentAlerting, "threshold_min", "threshold_min is required for %s", rule.Condition)
		}
		if rule.ThresholdMax == nil {
			return errors.Validation(componentAlerting, "threshold_max", "threshold_max is required for %s", rule.Condition)
		}
		if *rule.ThresholdMin > *rule.ThresholdMax {
			return errors.Validation(componentAlerting, "threshold_min", "threshold_min must not exceed threshold_max")
		}
		return nil
	}
	if rule.Threshold == nil {
		return errors.Validation(componentAlerting, "threshold", "threshold is required for %s", rule.Condition)
	}
	return nil
}

// ValidateNotificationConfig checks a channel config before it is stored.
func ValidateNotificationConfig(cfg *entities.NotificationConfig) error {
	if !cfg.Type.Valid() {
		return errors.Validation(componentAlerting, "type", "unsupported channel type %q", cfg.Type)
	}
	if !cfg.MinSeverity.Valid() {
		return errors.Validation(componentAlerting, "min_severity", "unknown severity %q", cfg.MinSeverity)
	}
	if (cfg.QuietHoursStart == "") != (cfg.QuietHoursEnd == "") {
		return errors.Validation(componentAlerting, "quiet_hours_start", "quiet hours need both start and end")
	}
	if cfg.QuietHoursStart != "" {
		if _, ok := parseClock(cfg.QuietHoursStart); !ok {
			return errors.Validation(componentAlerting, "quiet_hours_start", "quiet_hours_start must be HH:MM")
		}
		if _, ok := parseClock(cfg.QuietHoursEnd); !ok {
			return errors.Validation(componentAlerting, "quiet_hours_end", "quiet_hours_end must be HH:MM")
		}
	}
	switch cfg.Type {
	case entities.ChannelWebhook:
		if cfg.ConfigString("url") == "" {
			return errors.Validation(componentAlerting, "config", "webhook config needs a url")
		}
	case entities.ChannelWeChat, entities.ChannelDingTalk, entities.ChannelFeishu:
		if cfg.ConfigString("url") == "" && cfg.ConfigString("webhook_url") == "" {
			return errors.Validation(componentAlerting, "config", "%s config needs a url or webhook_url", cfg.Type)
		}
	}
	return nil
}
