package entities

// Severity is the five-level ordinal attached to rules and records.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Severities lists all severities in ascending order.
func Severities() []Severity {
	return []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Rank returns the position of s in the total order info < low < medium <
// high < critical. Unknown values rank -1.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// AtLeast reports whether s is at or above min. An unknown s never passes.
func (s Severity) AtLeast(min Severity) bool {
	return s.Valid() && s.Rank() >= min.Rank()
}

// AlertStatus is the lifecycle state of an AlertRecord.
type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusFalseAlarm   AlertStatus = "false_alarm"
	AlertStatusAutoResolved AlertStatus = "auto_resolved"
)

// Terminal reports whether no further transition is allowed from s.
func (s AlertStatus) Terminal() bool {
	switch s {
	case AlertStatusResolved, AlertStatusFalseAlarm, AlertStatusAutoResolved:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusPending, AlertStatusAcknowledged, AlertStatusResolved,
		AlertStatusFalseAlarm, AlertStatusAutoResolved:
		return true
	default:
		return false
	}
}

// DeviceStatus is the connectivity state of a device.
type DeviceStatus string

const (
	DeviceStatusOnline      DeviceStatus = "online"
	DeviceStatusOffline     DeviceStatus = "offline"
	DeviceStatusMaintenance DeviceStatus = "maintenance"
	DeviceStatusError       DeviceStatus = "error"
)

// Valid reports whether s is a known device status.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusOnline, DeviceStatusOffline, DeviceStatusMaintenance, DeviceStatusError:
		return true
	default:
		return false
	}
}

// ChannelType identifies a notification delivery mechanism.
type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelSMS      ChannelType = "sms"
	ChannelWebhook  ChannelType = "webhook"
	ChannelWeChat   ChannelType = "wechat"
	ChannelDingTalk ChannelType = "dingtalk"
	ChannelFeishu   ChannelType = "feishu"
)

// ChannelTypes lists the supported channel types.
func ChannelTypes() []ChannelType {
	return []ChannelType{ChannelEmail, ChannelSMS, ChannelWebhook, ChannelWeChat, ChannelDingTalk, ChannelFeishu}
}

// Valid reports whether c is a supported channel type.
func (c ChannelType) Valid() bool {
	for _, t := range ChannelTypes() {
		if t == c {
			return true
		}
	}
	return false
}

// NotificationStatus is the outcome of one delivery attempt.
type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "pending"
	NotificationSent     NotificationStatus = "sent"
	NotificationFailed   NotificationStatus = "failed"
	NotificationRetrying NotificationStatus = "retrying"
)
