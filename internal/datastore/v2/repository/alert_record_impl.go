package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
)

// mysqlDuplicateEntry is the server error number for unique key violations.
const mysqlDuplicateEntry = 1062

var (
	openStatuses   = []string{string(entities.AlertStatusPending), string(entities.AlertStatusAcknowledged)}
	closedStatuses = []string{
		string(entities.AlertStatusResolved),
		string(entities.AlertStatusFalseAlarm),
		string(entities.AlertStatusAutoResolved),
	}
)

// alertRecordRepository implements AlertRecordRepository.
type alertRecordRepository struct {
	db *gorm.DB
}

// NewAlertRecordRepository creates a new AlertRecordRepository.
func NewAlertRecordRepository(db *gorm.DB) AlertRecordRepository {
	return &alertRecordRepository{db: db}
}

// ownedDeviceIDs is a subquery selecting the ids of devices owned by ownerID.
func ownedDeviceIDs(db *gorm.DB, ownerID uint) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).
		Model(&entities.Device{}).Select("id").Where("owner_id = ?", ownerID)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *alertRecordRepository) CreatePending(ctx context.Context, rec *entities.AlertRecord) (bool, error) {
	key := entities.PendingKeyFor(rec.RuleID, rec.DeviceID)
	rec.Status = entities.AlertStatusPending
	rec.PendingKey = &key
	if rec.TriggeredAt.IsZero() {
		rec.TriggeredAt = time.Now()
	}
	rec.TriggeredAt = rec.TriggeredAt.UTC()

	if err := r.db.WithContext(ctx).Omit("Rule", "Device").Create(rec).Error; err != nil {
		if isDuplicateKey(err) {
			rec.ID = 0
			return false, nil
		}
		return false, fmt.Errorf("failed to create alert record: %w", err)
	}
	return true, nil
}

func (r *alertRecordRepository) GetRecord(ctx context.Context, id uint) (*entities.AlertRecord, error) {
	var rec entities.AlertRecord
	if err := r.db.WithContext(ctx).Preload("Rule").Preload("Device").First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRecordNotFound
		}
		return nil, fmt.Errorf("failed to get alert record %d: %w", id, err)
	}
	return &rec, nil
}

func (r *alertRecordRepository) GetOwnedRecord(ctx context.Context, id, ownerID uint) (*entities.AlertRecord, error) {
	var rec entities.AlertRecord
	err := r.db.WithContext(ctx).Preload("Rule").Preload("Device").
		Where("id = ?", id).
		Where("device_id IN (?)", ownedDeviceIDs(r.db, ownerID)).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRecordNotFound
		}
		return nil, fmt.Errorf("failed to get alert record %d: %w", id, err)
	}
	return &rec, nil
}

func (r *alertRecordRepository) FindPending(ctx context.Context, ruleID, deviceID uint) (*entities.AlertRecord, error) {
	var rec entities.AlertRecord
	err := r.db.WithContext(ctx).
		Where("pending_key = ?", entities.PendingKeyFor(ruleID, deviceID)).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRecordNotFound
		}
		return nil, fmt.Errorf("failed to find pending alert record: %w", err)
	}
	return &rec, nil
}

func (r *alertRecordRepository) LastTriggeredAt(ctx context.Context, ruleID, deviceID uint) (*time.Time, error) {
	var rec entities.AlertRecord
	err := r.db.WithContext(ctx).Select("id", "triggered_at").
		Where("rule_id = ? AND device_id = ?", ruleID, deviceID).
		Order("triggered_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last trigger time: %w", err)
	}
	return &rec.TriggeredAt, nil
}

func (r *alertRecordRepository) filtered(ctx context.Context, filter AlertRecordFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&entities.AlertRecord{})
	if filter.OwnerID > 0 {
		query = query.Where("device_id IN (?)", ownedDeviceIDs(r.db, filter.OwnerID))
	}
	if filter.DeviceID > 0 {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.RuleID > 0 {
		query = query.Where("rule_id = ?", filter.RuleID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if !filter.Since.IsZero() {
		query = query.Where("triggered_at >= ?", filter.Since.UTC())
	}
	return query
}

// ListRecords returns matching records, newest first, and the total match
// count ignoring pagination.
func (r *alertRecordRepository) ListRecords(ctx context.Context, filter AlertRecordFilter) ([]entities.AlertRecord, int64, error) {
	var total int64
	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alert records: %w", err)
	}

	query := r.filtered(ctx, filter).Preload("Rule").Preload("Device").Order("triggered_at DESC, id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var records []entities.AlertRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alert records: %w", err)
	}
	return records, total, nil
}

func (r *alertRecordRepository) Acknowledge(ctx context.Context, id, actorID uint, notes *string, at time.Time) error {
	updates := map[string]any{
		"status":          entities.AlertStatusAcknowledged,
		"acknowledged_at": at.UTC(),
		"acknowledged_by": actorID,
		"pending_key":     nil,
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	result := r.db.WithContext(ctx).Model(&entities.AlertRecord{}).
		Where("id = ? AND status = ?", id, entities.AlertStatusPending).
		Where("device_id IN (?)", ownedDeviceIDs(r.db, actorID)).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to acknowledge alert record %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRecordNotFound
	}
	return nil
}

func (r *alertRecordRepository) Resolve(ctx context.Context, id, actorID uint, params ResolveParams, at time.Time) error {
	at = at.UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec entities.AlertRecord
		err := tx.Select("id", "triggered_at").
			Where("id = ? AND status IN ?", id, openStatuses).
			Where("device_id IN (?)", ownedDeviceIDs(tx, actorID)).
			First(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAlertRecordNotFound
			}
			return fmt.Errorf("failed to load alert record %d: %w", id, err)
		}

		updates := map[string]any{
			"status":           entities.AlertStatusResolved,
			"resolved_at":      at,
			"resolved_by":      actorID,
			"recovery_seconds": recoverySeconds(rec.TriggeredAt, at),
			"pending_key":      nil,
		}
		if params.Notes != nil {
			updates["notes"] = *params.Notes
		}
		if params.RecoveryValue != nil {
			updates["recovery_value"] = *params.RecoveryValue
		}
		return closeRecord(tx, id, openStatuses, updates)
	})
}

func (r *alertRecordRepository) MarkFalseAlarm(ctx context.Context, id, actorID uint, notes *string, at time.Time) error {
	updates := map[string]any{
		"status":      entities.AlertStatusFalseAlarm,
		"resolved_at": at.UTC(),
		"resolved_by": actorID,
		"pending_key": nil,
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	result := r.db.WithContext(ctx).Model(&entities.AlertRecord{}).
		Where("id = ? AND status = ?", id, entities.AlertStatusPending).
		Where("device_id IN (?)", ownedDeviceIDs(r.db, actorID)).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark alert record %d as false alarm: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRecordNotFound
	}
	return nil
}

func (r *alertRecordRepository) AutoResolve(ctx context.Context, ruleID, deviceID uint, value float64, at time.Time) (bool, error) {
	at = at.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec entities.AlertRecord
		err := tx.Select("id", "triggered_at").
			Where("pending_key = ?", entities.PendingKeyFor(ruleID, deviceID)).
			First(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAlertRecordNotFound
			}
			return fmt.Errorf("failed to load pending alert record: %w", err)
		}
		return closeRecord(tx, rec.ID, []string{string(entities.AlertStatusPending)}, map[string]any{
			"status":           entities.AlertStatusAutoResolved,
			"resolved_at":      at,
			"recovery_value":   value,
			"recovery_seconds": recoverySeconds(rec.TriggeredAt, at),
			"pending_key":      nil,
		})
	})
	if errors.Is(err, ErrAlertRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// closeRecord applies updates to record id if it is still in one of from.
func closeRecord(tx *gorm.DB, id uint, from []string, updates map[string]any) error {
	result := tx.Model(&entities.AlertRecord{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update alert record %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRecordNotFound
	}
	return nil
}

func recoverySeconds(triggered, at time.Time) int64 {
	d := at.Sub(triggered)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func (r *alertRecordRepository) RecordNotification(ctx context.Context, id uint, sent int, at time.Time) error {
	updates := map[string]any{"last_notified_at": at.UTC()}
	if sent > 0 {
		updates["notification_sent"] = true
		updates["notification_count"] = gorm.Expr("notification_count + ?", sent)
	}
	result := r.db.WithContext(ctx).Model(&entities.AlertRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to record notification for alert record %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRecordNotFound
	}
	return nil
}

func (r *alertRecordRepository) Stats(ctx context.Context, filter AlertStatsFilter) (*AlertStats, error) {
	type row struct {
		Status   string
		Severity string
		Total    int64
	}
	var rows []row
	err := r.filtered(ctx, AlertRecordFilter{OwnerID: filter.OwnerID, Since: filter.Since}).
		Select("status, severity, COUNT(*) AS total").
		Group("status, severity").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate alert records: %w", err)
	}

	stats := &AlertStats{
		ByStatus:   make(map[entities.AlertStatus]int64),
		BySeverity: make(map[entities.Severity]int64),
	}
	for _, rw := range rows {
		stats.Total += rw.Total
		stats.ByStatus[entities.AlertStatus(rw.Status)] += rw.Total
		stats.BySeverity[entities.Severity(rw.Severity)] += rw.Total
	}
	return stats, nil
}

func (r *alertRecordRepository) TopDevices(ctx context.Context, filter AlertStatsFilter, limit int) ([]DeviceAlertCount, error) {
	query := r.db.WithContext(ctx).Table("alert_records").
		Select("alert_records.device_id AS device_id, devices.name AS device_name, COUNT(*) AS alert_count").
		Joins("JOIN devices ON devices.id = alert_records.device_id")
	if filter.OwnerID > 0 {
		query = query.Where("devices.owner_id = ?", filter.OwnerID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("alert_records.triggered_at >= ?", filter.Since.UTC())
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var out []DeviceAlertCount
	err := query.Group("alert_records.device_id, devices.name").
		Order("alert_count DESC, alert_records.device_id ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank devices by alert count: %w", err)
	}
	return out, nil
}

func (r *alertRecordRepository) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Session(&gorm.Session{NewDB: true}).Model(&entities.AlertRecord{}).
			Select("id").
			Where("status IN ? AND resolved_at < ?", closedStatuses, cutoff)
		if err := tx.Where("alert_record_id IN (?)", expired).Delete(&entities.NotificationLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete notification logs: %w", err)
		}
		result := tx.Where("status IN ? AND resolved_at < ?", closedStatuses, cutoff).Delete(&entities.AlertRecord{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete alert records before %v: %w", cutoff, result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}
