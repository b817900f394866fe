package repository

import (
	"context"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
)

// AlertRuleRepository handles alert rule CRUD.
type AlertRuleRepository interface {
	ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error)
	GetRule(ctx context.Context, id uint) (*entities.AlertRule, error)
	// GetOwnedRule returns ErrAlertRuleNotFound for rules of other users.
	GetOwnedRule(ctx context.Context, id, ownerID uint) (*entities.AlertRule, error)
	CreateRule(ctx context.Context, rule *entities.AlertRule) error
	UpdateRule(ctx context.Context, rule *entities.AlertRule) error
	DeleteRule(ctx context.Context, id, ownerID uint) error
	// ToggleRule flips the enabled flag and returns the new value.
	ToggleRule(ctx context.Context, id, ownerID uint) (bool, error)

	// GetEnabledRulesForDevice returns the rules the evaluator applies to
	// readings of deviceID. Order is unspecified.
	GetEnabledRulesForDevice(ctx context.Context, deviceID uint) ([]entities.AlertRule, error)
}

// AlertRuleFilter controls rule listing queries.
type AlertRuleFilter struct {
	OwnerID    uint
	DeviceID   uint
	SensorType string
	Enabled    *bool
	Limit      int
	Offset     int
}
