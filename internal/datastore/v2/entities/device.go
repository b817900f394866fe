package entities

import "time"

// User owns devices, rules and notification configs.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:150;not null;uniqueIndex" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Email        string    `gorm:"size:255;default:''" json:"email"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}

// Device is a registered sensor node.
type Device struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	Serial     string       `gorm:"size:64;not null;uniqueIndex" json:"serial"`
	Name       string       `gorm:"size:100;not null" json:"name"`
	DeviceType string       `gorm:"size:50;default:''" json:"device_type"`
	Location   string       `gorm:"size:200;default:''" json:"location"`
	Status     DeviceStatus `gorm:"size:20;not null;default:offline;index" json:"status"`
	OwnerID    uint         `gorm:"not null;index" json:"owner_id"`
	LastActive *time.Time   `json:"last_active"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	Owner      *User        `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (Device) TableName() string {
	return "devices"
}
