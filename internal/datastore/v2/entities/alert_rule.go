package entities

import "time"

// Default rule timings, applied when a request leaves them unset.
const (
	DefaultCooldownMinutes       = 5
	DefaultRepeatIntervalMinutes = 30
)

// AlertRule is a per-device threshold condition over one sensor field.
// Scalar operators use Threshold; range operators use ThresholdMin and
// ThresholdMax.
type AlertRule struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Name                  string    `gorm:"size:100;not null" json:"name"`
	Description           string    `gorm:"size:1000;default:''" json:"description"`
	DeviceID              uint      `gorm:"not null;index:idx_alert_rules_device_enabled,priority:1" json:"device_id"`
	SensorType            string    `gorm:"size:30;not null" json:"sensor_type"`
	Condition             string    `gorm:"column:operator;size:20;not null" json:"condition"`
	Threshold             *float64  `json:"threshold"`
	ThresholdMin          *float64  `json:"threshold_min"`
	ThresholdMax          *float64  `json:"threshold_max"`
	Severity              Severity  `gorm:"size:10;not null" json:"severity"`
	Enabled               bool      `gorm:"not null;index:idx_alert_rules_device_enabled,priority:2" json:"enabled"`
	CooldownMinutes       int       `gorm:"not null" json:"cooldown_minutes"`
	RepeatAlert           bool      `gorm:"not null" json:"repeat_alert"`
	RepeatIntervalMinutes int       `gorm:"not null" json:"repeat_interval_minutes"`
	CreatedBy             uint      `gorm:"not null;index" json:"created_by"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Device                *Device   `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"device,omitempty"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}

// Cooldown returns the configured cooldown window.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// RepeatInterval returns the configured re-notification interval.
func (r *AlertRule) RepeatInterval() time.Duration {
	return time.Duration(r.RepeatIntervalMinutes) * time.Minute
}
