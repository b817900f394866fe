package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
)

// alertRuleRepository implements AlertRuleRepository.
type alertRuleRepository struct {
	db *gorm.DB
}

// NewAlertRuleRepository creates a new AlertRuleRepository.
func NewAlertRuleRepository(db *gorm.DB) AlertRuleRepository {
	return &alertRuleRepository{db: db}
}

// ListRules returns alert rules matching the given filter.
func (r *alertRuleRepository) ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error) {
	var rules []entities.AlertRule
	query := r.db.WithContext(ctx).Preload("Device")

	if filter.OwnerID > 0 {
		query = query.Where("created_by = ?", filter.OwnerID)
	}
	if filter.DeviceID > 0 {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.SensorType != "" {
		query = query.Where("sensor_type = ?", filter.SensorType)
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// GetRule returns a single alert rule by ID with its device.
// Returns ErrAlertRuleNotFound if the rule does not exist.
func (r *alertRuleRepository) GetRule(ctx context.Context, id uint) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	if err := r.db.WithContext(ctx).Preload("Device").First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule %d: %w", id, err)
	}
	return &rule, nil
}

func (r *alertRuleRepository) GetOwnedRule(ctx context.Context, id, ownerID uint) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	err := r.db.WithContext(ctx).Preload("Device").
		Where("id = ? AND created_by = ?", id, ownerID).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule %d: %w", id, err)
	}
	return &rule, nil
}

func (r *alertRuleRepository) CreateRule(ctx context.Context, rule *entities.AlertRule) error {
	if err := r.db.WithContext(ctx).Omit("Device").Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

// UpdateRule overwrites every column of an existing rule. The owner and
// creation time are kept.
func (r *alertRuleRepository) UpdateRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.ID == 0 {
		return fmt.Errorf("failed to update alert rule: missing rule ID")
	}
	result := r.db.WithContext(ctx).Model(&entities.AlertRule{}).
		Where("id = ? AND created_by = ?", rule.ID, rule.CreatedBy).
		Select("name", "description", "device_id", "sensor_type", "operator",
			"threshold", "threshold_min", "threshold_max", "severity", "enabled",
			"cooldown_minutes", "repeat_alert", "repeat_interval_minutes").
		Updates(rule)
	if result.Error != nil {
		return fmt.Errorf("failed to update alert rule %d: %w", rule.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

// DeleteRule deletes an alert rule; its records go with it via cascade.
func (r *alertRuleRepository) DeleteRule(ctx context.Context, id, ownerID uint) error {
	result := r.db.WithContext(ctx).Where("id = ? AND created_by = ?", id, ownerID).Delete(&entities.AlertRule{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete alert rule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

func (r *alertRuleRepository) ToggleRule(ctx context.Context, id, ownerID uint) (bool, error) {
	var enabled bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.AlertRule{}).
			Where("id = ? AND created_by = ?", id, ownerID).
			Update("enabled", gorm.Expr("NOT enabled"))
		if result.Error != nil {
			return fmt.Errorf("failed to toggle alert rule %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAlertRuleNotFound
		}
		var rule entities.AlertRule
		if err := tx.Select("id", "enabled").First(&rule, id).Error; err != nil {
			return fmt.Errorf("failed to read alert rule %d: %w", id, err)
		}
		enabled = rule.Enabled
		return nil
	})
	return enabled, err
}

func (r *alertRuleRepository) GetEnabledRulesForDevice(ctx context.Context, deviceID uint) ([]entities.AlertRule, error) {
	var rules []entities.AlertRule
	err := r.db.WithContext(ctx).Preload("Device").
		Where("device_id = ? AND enabled = ?", deviceID, true).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled rules for device %d: %w", deviceID, err)
	}
	return rules, nil
}
