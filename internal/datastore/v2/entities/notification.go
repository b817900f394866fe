package entities

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationConfig is one delivery channel belonging to a user.
// Config carries channel-specific keys such as "url".
type NotificationConfig struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	UserID          uint              `gorm:"not null;index:idx_notification_configs_user_enabled,priority:1" json:"user_id"`
	Name            string            `gorm:"size:100;default:''" json:"name"`
	Type            ChannelType       `gorm:"size:20;not null" json:"type"`
	Enabled         bool              `gorm:"not null;index:idx_notification_configs_user_enabled,priority:2" json:"enabled"`
	Config          datatypes.JSONMap `json:"config"`
	MinSeverity     Severity          `gorm:"size:10;not null" json:"min_severity"`
	Notify24h       bool              `gorm:"column:notify_24h;not null" json:"notify_24h"`
	QuietHoursStart string            `gorm:"size:5;default:''" json:"quiet_hours_start"`
	QuietHoursEnd   string            `gorm:"size:5;default:''" json:"quiet_hours_end"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	User            *User             `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (NotificationConfig) TableName() string {
	return "notification_configs"
}

// ConfigString returns a string value from Config, or "".
func (n *NotificationConfig) ConfigString(key string) string {
	if n.Config == nil {
		return ""
	}
	if s, ok := n.Config[key].(string); ok {
		return s
	}
	return ""
}

// NotificationLog audits one delivery attempt of an alert record through
// a channel config.
type NotificationLog struct {
	ID                   uint                `gorm:"primaryKey" json:"id"`
	AlertRecordID        uint                `gorm:"not null;index" json:"alert_record_id"`
	NotificationConfigID *uint               `gorm:"index" json:"notification_config_id"`
	Channel              ChannelType         `gorm:"size:20;not null" json:"channel"`
	Status               NotificationStatus  `gorm:"size:20;not null;index" json:"status"`
	Recipient            string              `gorm:"size:500;default:''" json:"recipient"`
	Content              string              `gorm:"type:text" json:"content"`
	SentAt               *time.Time          `json:"sent_at"`
	ErrorMessage         string              `gorm:"type:text" json:"error_message"`
	RetryCount           int                 `gorm:"not null" json:"retry_count"`
	CreatedAt            time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
	AlertRecord          *AlertRecord        `gorm:"foreignKey:AlertRecordID;constraint:OnDelete:CASCADE" json:"-"`
	NotificationConfig   *NotificationConfig `gorm:"foreignKey:NotificationConfigID;constraint:OnDelete:SET NULL" json:"-"`
}

// TableName returns the table name for GORM.
func (NotificationLog) TableName() string {
	return "notification_logs"
}
