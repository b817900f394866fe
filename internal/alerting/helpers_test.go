package alerting

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/notification"
	"github.com/envsense/envsense/internal/queue"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func ptr[T any](v T) *T { return &v }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:alerting_%s?mode=memory&cache=shared&_foreign_keys=ON", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(gorm_logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&entities.User{},
		&entities.Device{},
		&entities.SensorReading{},
		&entities.AlertRule{},
		&entities.AlertRecord{},
		&entities.NotificationConfig{},
		&entities.NotificationLog{},
	))
	return db
}

// recordingQueue captures enqueued tasks.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []*queue.Task
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task *queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) snapshot() []*queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*queue.Task(nil), q.tasks...)
}

// fakeChannels records delivered messages and fails per channel type.
type fakeChannels struct {
	mu       sync.Mutex
	messages []notification.Message
	fail     map[entities.ChannelType]int // remaining failures
}

func (f *fakeChannels) Deliver(_ context.Context, msg notification.Message) (notification.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	out := notification.Outcome{Recipient: "to-" + string(msg.Config.Type), Content: msg.Text}
	if f.fail[msg.Config.Type] != 0 {
		if f.fail[msg.Config.Type] > 0 {
			f.fail[msg.Config.Type]--
		}
		return out, fmt.Errorf("%s unavailable", msg.Config.Type)
	}
	return out, nil
}

func (f *fakeChannels) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// env is an owner with one device, the repositories over a fresh database
// and a settable clock.
type env struct {
	db            *gorm.DB
	user          *entities.User
	device        *entities.Device
	readings      repository.ReadingRepository
	rules         repository.AlertRuleRepository
	records       repository.AlertRecordRepository
	notifications repository.NotificationRepository
	clock         time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := setupTestDB(t)
	ctx := t.Context()
	e := &env{
		db:            db,
		readings:      repository.NewReadingRepository(db),
		rules:         repository.NewAlertRuleRepository(db),
		records:       repository.NewAlertRecordRepository(db),
		notifications: repository.NewNotificationRepository(db),
		clock:         time.Now().UTC().Truncate(time.Second),
	}
	e.user = &entities.User{Username: "alice", PasswordHash: "x"}
	require.NoError(t, repository.NewUserRepository(db).CreateUser(ctx, e.user))
	e.device = &entities.Device{Serial: "SN-001", Name: "Greenhouse", OwnerID: e.user.ID, Status: entities.DeviceStatusOnline}
	require.NoError(t, repository.NewDeviceRepository(db).CreateDevice(ctx, e.device))
	return e
}

func (e *env) now() time.Time { return e.clock }

func (e *env) advance(d time.Duration) { e.clock = e.clock.Add(d) }

// hotRule creates "temperature greater_than 30" with the given tweaks.
func (e *env) hotRule(t *testing.T, tweak func(*entities.AlertRule)) *entities.AlertRule {
	t.Helper()
	rule := DefaultRule()
	rule.Name = "Greenhouse too hot"
	rule.DeviceID = e.device.ID
	rule.SensorType = entities.SensorTemperature
	rule.Condition = OperatorGreaterThan
	rule.Threshold = ptr(30.0)
	rule.Severity = entities.SeverityHigh
	rule.CreatedBy = e.user.ID
	if tweak != nil {
		tweak(&rule)
	}
	require.NoError(t, ValidateRule(&rule))
	require.NoError(t, e.rules.CreateRule(t.Context(), &rule))
	return &rule
}

func (e *env) reading(t *testing.T, temperature float64) uint {
	t.Helper()
	r := &entities.SensorReading{
		DeviceID:    e.device.ID,
		Timestamp:   e.clock,
		Temperature: ptr(temperature),
		IsValid:     true,
	}
	require.NoError(t, e.readings.CreateReading(t.Context(), r))
	return r.ID
}

func (e *env) channel(t *testing.T, kind entities.ChannelType, minSeverity entities.Severity, tweak func(*entities.NotificationConfig)) *entities.NotificationConfig {
	t.Helper()
	cfg := DefaultNotificationConfig()
	cfg.UserID = e.user.ID
	cfg.Name = string(kind)
	cfg.Type = kind
	cfg.MinSeverity = minSeverity
	cfg.Config = datatypes.JSONMap{"url": "https://hooks.example.com/" + string(kind)}
	if tweak != nil {
		tweak(&cfg)
	}
	require.NoError(t, e.notifications.CreateConfig(t.Context(), &cfg))
	return &cfg
}

func (e *env) evaluator(q Enqueuer, cfg EvaluatorConfig) *Evaluator {
	ev := NewEvaluator(e.readings, e.rules, e.records, q, cfg, testLogger(), nil)
	ev.now = e.now
	return ev
}

func (e *env) dispatcher(ch Deliverer, cfg DispatcherConfig) *Dispatcher {
	d := NewDispatcher(e.rules, e.records, e.notifications, ch, cfg, testLogger(), nil)
	d.now = e.now
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func (e *env) pendingRecords(t *testing.T) []entities.AlertRecord {
	t.Helper()
	recs, _, err := e.records.ListRecords(t.Context(), repository.AlertRecordFilter{
		OwnerID: e.user.ID,
		Status:  entities.AlertStatusPending,
	})
	require.NoError(t, err)
	return recs
}
