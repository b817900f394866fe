package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
)

// setupTestDB creates an in-memory SQLite database named after the test.
// Uses shared-cache mode with a single connection to ensure all operations
// see the same in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=ON", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(gorm_logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&entities.User{},
		&entities.Device{},
		&entities.SensorReading{},
		&entities.AlertRule{},
		&entities.AlertRecord{},
		&entities.NotificationConfig{},
		&entities.NotificationLog{},
	)
	require.NoError(t, err, "failed to migrate tables")
	return db
}

// fixture is one owner with one device and one temperature rule.
type fixture struct {
	db     *gorm.DB
	user   *entities.User
	device *entities.Device
	rule   *entities.AlertRule
}

func ptr[T any](v T) *T { return &v }

func createTestUser(t *testing.T, db *gorm.DB, username string) *entities.User {
	t.Helper()
	user := &entities.User{Username: username, PasswordHash: "x"}
	require.NoError(t, NewUserRepository(db).CreateUser(t.Context(), user))
	return user
}

func createTestDevice(t *testing.T, db *gorm.DB, owner *entities.User, serial string) *entities.Device {
	t.Helper()
	device := &entities.Device{Serial: serial, Name: "Device " + serial, OwnerID: owner.ID}
	require.NoError(t, NewDeviceRepository(db).CreateDevice(t.Context(), device))
	return device
}

func createTestRule(t *testing.T, db *gorm.DB, device *entities.Device, name string) *entities.AlertRule {
	t.Helper()
	rule := &entities.AlertRule{
		Name:                  name,
		DeviceID:              device.ID,
		SensorType:            entities.SensorTemperature,
		Condition:             "greater_than",
		Threshold:             ptr(30.0),
		Severity:              entities.SeverityHigh,
		Enabled:               true,
		CooldownMinutes:       entities.DefaultCooldownMinutes,
		RepeatIntervalMinutes: entities.DefaultRepeatIntervalMinutes,
		CreatedBy:             device.OwnerID,
	}
	require.NoError(t, NewAlertRuleRepository(db).CreateRule(t.Context(), rule))
	return rule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	user := createTestUser(t, db, "alice")
	device := createTestDevice(t, db, user, "SN-001")
	rule := createTestRule(t, db, device, "Hot")
	return &fixture{db: db, user: user, device: device, rule: rule}
}

// pending inserts a pending record for the fixture pair triggered at at.
func (f *fixture) pending(t *testing.T, at time.Time) *entities.AlertRecord {
	t.Helper()
	rec := &entities.AlertRecord{
		RuleID:       f.rule.ID,
		DeviceID:     f.device.ID,
		Message:      "temperature above threshold",
		CurrentValue: 35,
		Severity:     f.rule.Severity,
		TriggeredAt:  at,
	}
	created, err := NewAlertRecordRepository(f.db).CreatePending(t.Context(), rec)
	require.NoError(t, err)
	require.True(t, created, "expected a new pending record")
	return rec
}

// now returns a fixed-precision UTC timestamp for record fixtures.
func (f *fixture) now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
