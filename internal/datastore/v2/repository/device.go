package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
)

// UserRepository handles account lookups.
type UserRepository interface {
	CreateUser(ctx context.Context, user *entities.User) error
	GetUser(ctx context.Context, id uint) (*entities.User, error)
	GetUserByUsername(ctx context.Context, username string) (*entities.User, error)
}

// DeviceRepository handles device lookups and liveness updates.
type DeviceRepository interface {
	CreateDevice(ctx context.Context, device *entities.Device) error
	GetDevice(ctx context.Context, id uint) (*entities.Device, error)
	GetDeviceBySerial(ctx context.Context, serial string) (*entities.Device, error)
	// GetOwnedDevice returns ErrDeviceNotFound when the device belongs to
	// another user.
	GetOwnedDevice(ctx context.Context, id, ownerID uint) (*entities.Device, error)
	ListDevices(ctx context.Context, ownerID uint) ([]entities.Device, error)
	UpdateStatus(ctx context.Context, id uint, status entities.DeviceStatus) error
	// MarkActive stamps last_active and sets the device online.
	MarkActive(ctx context.Context, id uint, at time.Time) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) CreateUser(ctx context.Context, user *entities.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetUser(ctx context.Context, id uint) (*entities.User, error) {
	var user entities.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

func (r *userRepository) GetUserByUsername(ctx context.Context, username string) (*entities.User, error) {
	var user entities.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %q: %w", username, err)
	}
	return &user, nil
}

type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) CreateDevice(ctx context.Context, device *entities.Device) error {
	if device.Status == "" {
		device.Status = entities.DeviceStatusOffline
	}
	if err := r.db.WithContext(ctx).Create(device).Error; err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (r *deviceRepository) GetDevice(ctx context.Context, id uint) (*entities.Device, error) {
	var device entities.Device
	if err := r.db.WithContext(ctx).First(&device, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device %d: %w", id, err)
	}
	return &device, nil
}

func (r *deviceRepository) GetDeviceBySerial(ctx context.Context, serial string) (*entities.Device, error) {
	var device entities.Device
	if err := r.db.WithContext(ctx).Where("serial = ?", serial).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device %q: %w", serial, err)
	}
	return &device, nil
}

func (r *deviceRepository) GetOwnedDevice(ctx context.Context, id, ownerID uint) (*entities.Device, error) {
	var device entities.Device
	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device %d: %w", id, err)
	}
	return &device, nil
}

func (r *deviceRepository) ListDevices(ctx context.Context, ownerID uint) ([]entities.Device, error) {
	var devices []entities.Device
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id ASC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (r *deviceRepository) UpdateStatus(ctx context.Context, id uint, status entities.DeviceStatus) error {
	result := r.db.WithContext(ctx).Model(&entities.Device{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update device %d status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *deviceRepository) MarkActive(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.Device{}).Where("id = ?", id).
		Updates(map[string]any{"last_active": at.UTC(), "status": entities.DeviceStatusOnline})
	if result.Error != nil {
		return fmt.Errorf("failed to mark device %d active: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}
