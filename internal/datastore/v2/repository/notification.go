package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
)

// NotificationRepository handles channel configs and the delivery audit log.
type NotificationRepository interface {
	ListConfigs(ctx context.Context, userID uint, enabledOnly bool) ([]entities.NotificationConfig, error)
	GetConfig(ctx context.Context, id, userID uint) (*entities.NotificationConfig, error)
	CreateConfig(ctx context.Context, cfg *entities.NotificationConfig) error
	UpdateConfig(ctx context.Context, cfg *entities.NotificationConfig) error
	DeleteConfig(ctx context.Context, id, userID uint) error

	CreateLog(ctx context.Context, log *entities.NotificationLog) error
	UpdateLog(ctx context.Context, log *entities.NotificationLog) error
	ListLogs(ctx context.Context, alertRecordID uint) ([]entities.NotificationLog, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) ListConfigs(ctx context.Context, userID uint, enabledOnly bool) ([]entities.NotificationConfig, error) {
	var configs []entities.NotificationConfig
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	if err := query.Order("id ASC").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list notification configs: %w", err)
	}
	return configs, nil
}

func (r *notificationRepository) GetConfig(ctx context.Context, id, userID uint) (*entities.NotificationConfig, error) {
	var cfg entities.NotificationConfig
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationConfigNotFound
		}
		return nil, fmt.Errorf("failed to get notification config %d: %w", id, err)
	}
	return &cfg, nil
}

func (r *notificationRepository) CreateConfig(ctx context.Context, cfg *entities.NotificationConfig) error {
	if err := r.db.WithContext(ctx).Omit("User").Create(cfg).Error; err != nil {
		return fmt.Errorf("failed to create notification config: %w", err)
	}
	return nil
}

func (r *notificationRepository) UpdateConfig(ctx context.Context, cfg *entities.NotificationConfig) error {
	result := r.db.WithContext(ctx).Model(&entities.NotificationConfig{}).
		Where("id = ? AND user_id = ?", cfg.ID, cfg.UserID).
		Select("name", "type", "enabled", "config", "min_severity", "notify_24h",
			"quiet_hours_start", "quiet_hours_end").
		Updates(cfg)
	if result.Error != nil {
		return fmt.Errorf("failed to update notification config %d: %w", cfg.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationConfigNotFound
	}
	return nil
}

func (r *notificationRepository) DeleteConfig(ctx context.Context, id, userID uint) error {
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&entities.NotificationConfig{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete notification config %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationConfigNotFound
	}
	return nil
}

func (r *notificationRepository) CreateLog(ctx context.Context, log *entities.NotificationLog) error {
	if err := r.db.WithContext(ctx).Omit("AlertRecord", "NotificationConfig").Create(log).Error; err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}
	return nil
}

func (r *notificationRepository) UpdateLog(ctx context.Context, log *entities.NotificationLog) error {
	if log.ID == 0 {
		return fmt.Errorf("failed to update notification log: missing log ID")
	}
	err := r.db.WithContext(ctx).Model(log).
		Select("status", "sent_at", "error_message", "retry_count", "content", "recipient").
		Updates(log).Error
	if err != nil {
		return fmt.Errorf("failed to update notification log %d: %w", log.ID, err)
	}
	return nil
}

func (r *notificationRepository) ListLogs(ctx context.Context, alertRecordID uint) ([]entities.NotificationLog, error) {
	var logs []entities.NotificationLog
	if err := r.db.WithContext(ctx).Where("alert_record_id = ?", alertRecordID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}
	return logs, nil
}
