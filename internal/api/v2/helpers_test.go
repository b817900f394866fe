package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/envsense/envsense/internal/auth"
	"github.com/envsense/envsense/internal/conf"
	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/ingest"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/queue"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func ptr[T any](v T) *T { return &v }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared&_foreign_keys=ON", name)
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

type recordingQueue struct {
	mu    sync.Mutex
	tasks []*queue.Task
}

func (q *recordingQueue) Enqueue(_ context.Context, task *queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type recordingCache struct {
	mu      sync.Mutex
	devices []uint
}

func (c *recordingCache) InvalidateDevice(id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = append(c.devices, id)
}

func (c *recordingCache) invalidated() []uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint(nil), c.devices...)
}

type testEnv struct {
	t        *testing.T
	db       *gorm.DB
	e        *echo.Echo
	auth     *auth.Manager
	tasks    *recordingQueue
	cache    *recordingCache
	devices  repository.DeviceRepository
	readings repository.ReadingRepository
	rules    repository.AlertRuleRepository
	records  repository.AlertRecordRepository
	notifs   repository.NotificationRepository

	alice, bob      *entities.User
	device, offline *entities.Device
	bobDevice       *entities.Device
}

func newTestEnv(t *testing.T, tweak func(*Options)) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	ctx := context.Background()

	mgr, err := auth.NewManager(conf.AuthSettings{JWTSecret: "test-secret", TokenTTL: conf.Duration(time.Hour)})
	require.NoError(t, err)

	env := &testEnv{
		t:        t,
		db:       db,
		e:        echo.New(),
		auth:     mgr,
		tasks:    &recordingQueue{},
		cache:    &recordingCache{},
		devices:  repository.NewDeviceRepository(db),
		readings: repository.NewReadingRepository(db),
		rules:    repository.NewAlertRuleRepository(db),
		records:  repository.NewAlertRecordRepository(db),
		notifs:   repository.NewNotificationRepository(db),
	}
	users := repository.NewUserRepository(db)

	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	env.alice = &entities.User{Username: "alice", PasswordHash: hash}
	env.bob = &entities.User{Username: "bob", PasswordHash: hash}
	require.NoError(t, users.CreateUser(ctx, env.alice))
	require.NoError(t, users.CreateUser(ctx, env.bob))

	env.device = &entities.Device{Serial: "SN-001", Name: "Greenhouse", Status: entities.DeviceStatusOnline, OwnerID: env.alice.ID}
	env.offline = &entities.Device{Serial: "SN-002", Name: "Cellar", Status: entities.DeviceStatusOffline, OwnerID: env.alice.ID}
	env.bobDevice = &entities.Device{Serial: "SN-100", Name: "Garage", Status: entities.DeviceStatusOnline, OwnerID: env.bob.ID}
	for _, d := range []*entities.Device{env.device, env.offline, env.bobDevice} {
		require.NoError(t, env.devices.CreateDevice(ctx, d))
	}

	opts := Options{
		Users:         users,
		Devices:       env.devices,
		Readings:      env.readings,
		Rules:         env.rules,
		Records:       env.records,
		Notifications: env.notifs,
		Ingest:        ingest.NewService(env.devices, env.readings, env.tasks, testLogger(), nil),
		RuleCache:     env.cache,
		Auth:          mgr,
		Log:           testLogger(),
	}
	if tweak != nil {
		tweak(&opts)
	}

	env.e.HTTPErrorHandler = ErrorHandler(testLogger())
	env.e.Pre(middleware.RemoveTrailingSlash())
	New(env.e, opts)
	return env
}

func (env *testEnv) token(user *entities.User) string {
	env.t.Helper()
	tok, err := env.auth.Issue(user)
	require.NoError(env.t, err)
	return tok.Token
}

// do sends a request as user; a nil user sends no Authorization header.
func (env *testEnv) do(method, path string, body any, user *entities.User) *httptest.ResponseRecorder {
	env.t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(env.t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != nil {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+env.token(user))
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
}

// hotRule stores an enabled "temperature > 30" rule on the given device.
func (env *testEnv) hotRule(device *entities.Device, owner *entities.User) *entities.AlertRule {
	env.t.Helper()
	rule := &entities.AlertRule{
		Name:       "Too hot",
		DeviceID:   device.ID,
		SensorType: entities.SensorTemperature,
		Condition:  "greater_than",
		Threshold:  ptr(30.0),
		Severity:   entities.SeverityHigh,
		Enabled:    true,
		CreatedBy:  owner.ID,
	}
	require.NoError(env.t, env.rules.CreateRule(context.Background(), rule))
	return rule
}

// pending stores a pending record for rule triggered at the given time.
func (env *testEnv) pending(rule *entities.AlertRule, sev entities.Severity, at time.Time) *entities.AlertRecord {
	env.t.Helper()
	rec := &entities.AlertRecord{
		RuleID:       rule.ID,
		DeviceID:     rule.DeviceID,
		Message:      "Temperature greater than 30, current value: 35",
		CurrentValue: 35,
		Severity:     sev,
		TriggeredAt:  at,
	}
	created, err := env.records.CreatePending(context.Background(), rec)
	require.NoError(env.t, err)
	require.True(env.t, created)
	return rec
}

func (env *testEnv) resolve(rec *entities.AlertRecord, owner *entities.User) {
	env.t.Helper()
	require.NoError(env.t, env.records.Resolve(context.Background(), rec.ID, owner.ID, repository.ResolveParams{}, time.Now()))
}
