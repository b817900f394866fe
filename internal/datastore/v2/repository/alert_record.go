package repository

import (
	"context"
	"time"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
)

// AlertRecordRepository persists alert records and their state transitions.
// Every transition is a conditional write: a record that is no longer in a
// source state, or is not owned by the caller, yields ErrAlertRecordNotFound.
type AlertRecordRepository interface {
	// CreatePending inserts rec as pending. It returns false, without error,
	// when a pending record for the same (rule, device) already exists.
	CreatePending(ctx context.Context, rec *entities.AlertRecord) (bool, error)
	GetRecord(ctx context.Context, id uint) (*entities.AlertRecord, error)
	GetOwnedRecord(ctx context.Context, id, ownerID uint) (*entities.AlertRecord, error)
	FindPending(ctx context.Context, ruleID, deviceID uint) (*entities.AlertRecord, error)
	// LastTriggeredAt returns the trigger time of the newest record for the
	// pair in any status, or nil.
	LastTriggeredAt(ctx context.Context, ruleID, deviceID uint) (*time.Time, error)
	ListRecords(ctx context.Context, filter AlertRecordFilter) ([]entities.AlertRecord, int64, error)

	Acknowledge(ctx context.Context, id, actorID uint, notes *string, at time.Time) error
	Resolve(ctx context.Context, id, actorID uint, params ResolveParams, at time.Time) error
	MarkFalseAlarm(ctx context.Context, id, actorID uint, notes *string, at time.Time) error
	// AutoResolve moves the pending record of the pair to auto_resolved.
	// It returns false when no pending record exists.
	AutoResolve(ctx context.Context, ruleID, deviceID uint, value float64, at time.Time) (bool, error)

	// RecordNotification adds sent deliveries to the record counters and
	// stamps last_notified_at.
	RecordNotification(ctx context.Context, id uint, sent int, at time.Time) error

	Stats(ctx context.Context, filter AlertStatsFilter) (*AlertStats, error)
	TopDevices(ctx context.Context, filter AlertStatsFilter, limit int) ([]DeviceAlertCount, error)

	// DeleteClosedBefore removes terminal records resolved before cutoff,
	// together with their notification logs.
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertRecordFilter controls record listing queries. Zero values match all.
type AlertRecordFilter struct {
	OwnerID  uint
	DeviceID uint
	RuleID   uint
	Status   entities.AlertStatus
	Severity entities.Severity
	Since    time.Time
	Limit    int
	Offset   int
}

// ResolveParams carries the optional resolve inputs.
type ResolveParams struct {
	Notes         *string
	RecoveryValue *float64
}

// AlertStatsFilter scopes aggregate queries.
type AlertStatsFilter struct {
	OwnerID uint
	Since   time.Time
}

// AlertStats holds counts by status and by severity.
type AlertStats struct {
	Total      int64
	ByStatus   map[entities.AlertStatus]int64
	BySeverity map[entities.Severity]int64
}

// DeviceAlertCount is one row of the per-device ranking.
type DeviceAlertCount struct {
	DeviceID   uint   `json:"device_id"`
	DeviceName string `json:"device_name"`
	Count      int64  `gorm:"column:alert_count" json:"count"`
}
