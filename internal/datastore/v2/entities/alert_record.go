package entities

import (
	"fmt"
	"time"
)

// AlertRecord is one triggered and tracked incident.
//
// PendingKey is non-NULL exactly while Status is pending. Its unique index
// allows a single pending record per (rule, device).
type AlertRecord struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	RuleID            uint        `gorm:"not null;index:idx_alert_records_rule_device,priority:1" json:"rule_id"`
	DeviceID          uint        `gorm:"not null;index:idx_alert_records_rule_device,priority:2;index" json:"device_id"`
	Status            AlertStatus `gorm:"size:20;not null;index" json:"status"`
	Message           string      `gorm:"size:1000;not null" json:"message"`
	CurrentValue      float64     `gorm:"not null" json:"current_value"`
	Severity          Severity    `gorm:"size:10;not null;index" json:"severity"`
	TriggeredAt       time.Time   `gorm:"not null;index" json:"triggered_at"`
	AcknowledgedAt    *time.Time  `json:"acknowledged_at"`
	AcknowledgedBy    *uint       `json:"acknowledged_by"`
	ResolvedAt        *time.Time  `gorm:"index" json:"resolved_at"`
	ResolvedBy        *uint       `json:"resolved_by"`
	Notes             string      `gorm:"size:2000;default:''" json:"notes"`
	RecoveryValue     *float64    `json:"recovery_value"`
	RecoverySeconds   *int64      `json:"recovery_seconds"`
	NotificationSent  bool        `gorm:"not null" json:"notification_sent"`
	NotificationCount int         `gorm:"not null" json:"notification_count"`
	LastNotifiedAt    *time.Time  `json:"last_notified_at"`
	PendingKey        *string     `gorm:"size:64;uniqueIndex" json:"-"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
	Rule              *AlertRule  `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"rule,omitempty"`
	Device            *Device     `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"device,omitempty"`
}

// TableName returns the table name for GORM.
func (AlertRecord) TableName() string {
	return "alert_records"
}

// PendingKeyFor builds the unique marker for a pending (rule, device) pair.
func PendingKeyFor(ruleID, deviceID uint) string {
	return fmt.Sprintf("%d:%d", ruleID, deviceID)
}
